package application

// Credential is one entry of the preconfigured client table.
type Credential struct {
	Name       string
	SecretHash string
	PushPort   int
}

// Identity is an authenticated employee together with the push port reserved
// for their notification channel.
type Identity struct {
	ID       string
	FullName string
	PushPort int
}
