package application

import (
	"context"
	"log/slog"
)

// SecretVerifier compares a stored hash with a presented secret.
type SecretVerifier func(hashedSecret, secret string) error

// AuthService resolves presented credentials against the preconfigured
// client table.
type AuthService struct {
	table        map[string]Credential
	verifySecret SecretVerifier
	logger       *slog.Logger
}

// NewAuthService constructs an AuthService over the credential table.
func NewAuthService(table map[string]Credential, verify SecretVerifier, logger *slog.Logger) *AuthService {
	if verify == nil {
		verify = VerifySecret
	}
	return &AuthService{
		table:        table,
		verifySecret: verify,
		logger:       defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Authenticate validates the presented credentials and returns the matching
// identity. The declared name must match the table entry; a wrong name, an
// unknown identifier, and a wrong secret are all reported identically.
func (s *AuthService) Authenticate(ctx context.Context, employeeID, employeeName, secret string) (identity Identity, err error) {
	logger := s.loggerWith(ctx, "Authenticate",
		"employee_id", employeeID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "authentication succeeded", "push_port", identity.PushPort)
	}()

	if employeeID == "" || secret == "" {
		err = ErrInvalidCredentials
		return
	}

	cred, ok := s.table[employeeID]
	if !ok {
		err = ErrInvalidCredentials
		return
	}
	if employeeName != "" && employeeName != cred.Name {
		err = ErrInvalidCredentials
		return
	}
	if verr := s.verifySecret(cred.SecretHash, secret); verr != nil {
		err = ErrInvalidCredentials
		return
	}

	identity = Identity{
		ID:       employeeID,
		FullName: cred.Name,
		PushPort: cred.PushPort,
	}
	return identity, nil
}
