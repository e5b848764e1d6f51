package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/evolvlabs/viewmymeetings/internal/application"
	"github.com/evolvlabs/viewmymeetings/internal/conflict"
	"github.com/evolvlabs/viewmymeetings/internal/meeting"
	"github.com/evolvlabs/viewmymeetings/internal/protocol"
)

// MeetingAPI is the slice of the application layer a session drives.
type MeetingAPI interface {
	Create(ctx context.Context, actorID string, m meeting.Meeting) error
	Update(ctx context.Context, actorID string, m meeting.Meeting) error
	Delete(ctx context.Context, actorID string, key meeting.DeletionKey) (meeting.Meeting, error)
	MeetingsFor(ctx context.Context, employeeID string) []meeting.Meeting
	ConflictsFor(ctx context.Context, employeeID string) []conflict.Entry
}

// AuthAPI resolves presented credentials.
type AuthAPI interface {
	Authenticate(ctx context.Context, employeeID, employeeName, secret string) (application.Identity, error)
}

// pushAcceptTimeout bounds how long the server waits for an authenticated
// client to dial its push port.
const pushAcceptTimeout = 10 * time.Second

// Session is one accepted client transport: the request/response loop plus,
// once authenticated, the push channel reserved for the bound identity.
type Session struct {
	id       string
	bindHost string
	conn     net.Conn
	codec    *protocol.Codec

	auth       AuthAPI
	service    MeetingAPI
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *slog.Logger

	identity      application.Identity
	authenticated bool

	pushMu    sync.Mutex
	pushConn  net.Conn
	pushCodec *protocol.Codec

	closeOnce sync.Once
}

func newSession(id, bindHost string, conn net.Conn, auth AuthAPI, service MeetingAPI, registry *Registry, dispatcher *Dispatcher, metrics *Metrics, logger *slog.Logger) *Session {
	return &Session{
		id:         id,
		bindHost:   bindHost,
		conn:       conn,
		codec:      protocol.NewCodec(conn),
		auth:       auth,
		service:    service,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.With("session_id", id, "remote_addr", conn.RemoteAddr().String()),
	}
}

// run serves the request/response loop until the transport closes or an
// unrecoverable read error occurs.
func (s *Session) run(ctx context.Context) {
	defer s.release()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stopped:
		}
	}()

	s.logger.InfoContext(ctx, "session opened")
	for {
		tag, payload, err := s.codec.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownTag) {
				s.metrics.FramesDropped.Inc()
				s.logger.WarnContext(ctx, "unknown tag dropped", "tag", tag)
				continue
			}
			s.logger.InfoContext(ctx, "session closed", "reason", err.Error())
			return
		}
		s.metrics.FramesRead.Inc()

		if tag == protocol.TagAuthRequest {
			if err := s.handleAuth(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "push channel establishment failed", "error", err)
				return
			}
			continue
		}

		if !s.authenticated {
			// Requests on an unauthenticated session are ignored without a
			// reply.
			s.metrics.FramesDropped.Inc()
			s.logger.WarnContext(ctx, "unauthenticated request ignored", "tag", tag)
			continue
		}

		respTag, respPayload, reply := s.handleRequest(ctx, tag, payload)
		if !reply {
			s.metrics.FramesDropped.Inc()
			continue
		}
		if err := s.codec.Write(respTag, respPayload); err != nil {
			s.logger.ErrorContext(ctx, "response write failed", "tag", respTag, "error", err)
			return
		}
	}
}

// handleAuth authenticates the credentials and, on success, opens the
// identity's push port, announces it in the auth response, and waits for the
// client to dial it. A failed authentication keeps the session open; a failed
// channel establishment does not.
func (s *Session) handleAuth(ctx context.Context, payload string) error {
	creds, err := protocol.DecodeCredentials(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "malformed credentials", "error", err)
		return s.codec.Write(protocol.TagAuthResponse, protocol.AuthFailure)
	}

	identity, err := s.auth.Authenticate(ctx, creds.Employee.ID, creds.Employee.Name, creds.Secret)
	if err != nil {
		return s.codec.Write(protocol.TagAuthResponse, protocol.AuthFailure)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(s.bindHost, strconv.Itoa(identity.PushPort)))
	if err != nil {
		s.logger.ErrorContext(ctx, "push port unavailable", "push_port", identity.PushPort, "error", err)
		return s.codec.Write(protocol.TagAuthResponse, protocol.AuthFailure)
	}
	defer listener.Close()

	if err := s.codec.Write(protocol.TagAuthResponse, protocol.EncodeAuthSuccess(identity.PushPort)); err != nil {
		return fmt.Errorf("write auth response: %w", err)
	}

	if tl, ok := listener.(*net.TCPListener); ok {
		tl.SetDeadline(time.Now().Add(pushAcceptTimeout))
	}
	pushConn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("accept push connection: %w", err)
	}

	s.pushMu.Lock()
	if s.pushConn != nil {
		// Re-authentication on the same session supersedes its old channel.
		s.pushConn.Close()
	}
	s.pushConn = pushConn
	s.pushCodec = protocol.NewCodec(pushConn)
	s.pushMu.Unlock()

	s.identity = identity
	s.authenticated = true
	s.logger = s.logger.With("employee_id", identity.ID)

	// Bind returns this session itself when the same transport
	// re-authenticates; only a distinct prior session is closed.
	if evicted := s.registry.Bind(identity.ID, s); evicted != nil && evicted != Member(s) {
		s.logger.InfoContext(ctx, "previous session evicted")
		evicted.Close()
	}
	s.metrics.ActiveSessions.Set(float64(s.registry.Size()))

	// Catch-up: every conflict group recorded for this identity is replayed
	// onto the fresh channel.
	s.dispatcher.Replay(ctx, s, identity.ID, s.service.ConflictsFor(ctx, identity.ID))
	return nil
}

// handleRequest serves one authenticated request frame.
func (s *Session) handleRequest(ctx context.Context, tag protocol.Tag, payload string) (protocol.Tag, string, bool) {
	switch tag {
	case protocol.TagMeetingCreateRequest:
		return protocol.TagMeetingCreateResponse, s.applyMutation(ctx, "create", payload, func(m meeting.Meeting) error {
			return s.service.Create(ctx, s.identity.ID, m)
		}), true

	case protocol.TagMeetingUpdateRequest:
		return protocol.TagMeetingUpdateResponse, s.applyMutation(ctx, "update", payload, func(m meeting.Meeting) error {
			return s.service.Update(ctx, s.identity.ID, m)
		}), true

	case protocol.TagMeetingDeleteRequest:
		return protocol.TagMeetingDeleteResponse, s.applyMutation(ctx, "delete", payload, func(m meeting.Meeting) error {
			_, err := s.service.Delete(ctx, s.identity.ID, m.DeletionKey())
			return err
		}), true

	case protocol.TagMeetingListRequest:
		doc, err := meeting.EncodeList(s.service.MeetingsFor(ctx, s.identity.ID))
		if err != nil {
			s.logger.ErrorContext(ctx, "listing encode failed", "error", err)
			doc = "[]"
		}
		return protocol.TagMeetingListResponse, doc, true

	default:
		s.logger.WarnContext(ctx, "unexpected tag on request channel", "tag", tag)
		return "", "", false
	}
}

func (s *Session) applyMutation(ctx context.Context, operation, payload string, apply func(meeting.Meeting) error) string {
	m, err := meeting.Decode(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "malformed meeting document", "operation", operation, "error", err)
		return protocol.AckFailure
	}
	if err := apply(m); err != nil {
		return protocol.AckFailure
	}
	s.metrics.Mutations.WithLabelValues(operation).Inc()
	return protocol.AckSuccess
}

// SendPush writes one frame on the push channel. Dispatcher calls arrive from
// other sessions' workers, so writes are serialized.
func (s *Session) SendPush(tag protocol.Tag, payload string) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	if s.pushCodec == nil {
		return fmt.Errorf("session %s: push channel not established", s.id)
	}
	return s.pushCodec.Write(tag, payload)
}

// Close shuts both transports. Safe to call from any goroutine, repeatedly.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.conn.Close()
		s.pushMu.Lock()
		if s.pushConn != nil {
			s.pushConn.Close()
		}
		s.pushMu.Unlock()
	})
	return nil
}

func (s *Session) release() {
	s.Close()
	if s.authenticated {
		s.registry.Release(s.identity.ID, s)
		s.metrics.ActiveSessions.Set(float64(s.registry.Size()))
	}
}
