package domain

// Status is the authentication state of the client process.
type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticated
)

func (s Status) String() string {
	if s == StatusAuthenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Session is the authenticated-identity-plus-credential state of the client.
// Token is non-empty if and only if Status is StatusAuthenticated.
type Session struct {
	Status Status
	User   *User
	Token  string
}

// Anonymous returns the zero session.
func Anonymous() Session {
	return Session{Status: StatusAnonymous}
}

// Credentials is the durable payload persisted across process restarts.
// Both fields are absent from storage while anonymous.
type Credentials struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// CredentialStore persists credentials across process restarts. Implementations
// must treat Save as atomic: a failed save leaves the previous state intact.
type CredentialStore interface {
	Save(creds Credentials) error
	// Load returns ErrNoCredentials when nothing is stored.
	Load() (Credentials, error)
	Clear() error
}
