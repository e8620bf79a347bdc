package domain

import "context"

// LoginResult is the payload of a successful credential exchange.
type LoginResult struct {
	Token string
	User  User
}

// AuthAPI is the authentication surface of the backend REST service.
type AuthAPI interface {
	// Login exchanges credentials for a token. Failure with bad credentials
	// is an auth error; session state is never touched here.
	Login(ctx context.Context, email, password string) (LoginResult, error)
	// Register creates an account. It does not log the user in.
	Register(ctx context.Context, email, username, password string) (User, error)
	// Logout invalidates the current token server-side. Best effort.
	Logout(ctx context.Context) error
	// CurrentUser fetches the identity behind the current token. Used to
	// lazily validate an optimistically restored session.
	CurrentUser(ctx context.Context) (User, error)
}

// NotificationAPI is the notification surface of the backend REST service.
type NotificationAPI interface {
	List(ctx context.Context, skip, limit int, unreadOnly bool) (NotificationPage, error)
	UnreadCount(ctx context.Context) (int, error)
	// MarkRead marks the given ids read, or every notification when ids is
	// empty. Returns the number of rows the server actually updated.
	MarkRead(ctx context.Context, ids []int64) (int, error)
	Delete(ctx context.Context, id int64) error
	ClearAll(ctx context.Context) error
}
