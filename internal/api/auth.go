package api

import (
	"context"
	"net/http"

	"github.com/studyboard/studyboard-client/internal/domain"
)

// Login exchanges credentials for a token and identity record. A 401 here is
// a bad-credentials auth error, never a forced-logout trigger.
func (c *Client) Login(ctx context.Context, email, password string) (domain.LoginResult, error) {
	var resp struct {
		AccessToken string      `json:"access_token"`
		TokenType   string      `json:"token_type"`
		User        domain.User `json:"user"`
	}

	err := c.do(ctx, call{
		endpoint:     "auth.login",
		method:       http.MethodPost,
		path:         "/auth/login",
		body:         map[string]string{"email": email, "password": password},
		out:          &resp,
		authExchange: true,
	})
	if err != nil {
		return domain.LoginResult{}, err
	}

	return domain.LoginResult{Token: resp.AccessToken, User: resp.User}, nil
}

// Register creates an account. Registration does not log the user in; the
// returned user is informational only.
func (c *Client) Register(ctx context.Context, email, username, password string) (domain.User, error) {
	var user domain.User

	err := c.do(ctx, call{
		endpoint:     "auth.register",
		method:       http.MethodPost,
		path:         "/auth/register",
		body:         map[string]string{"email": email, "username": username, "password": password},
		out:          &user,
		authExchange: true,
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Logout tells the server to invalidate the current token. Best effort: the
// caller clears local state regardless of the outcome here.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, call{
		endpoint: "auth.logout",
		method:   http.MethodPost,
		path:     "/auth/logout",
	})
}

// CurrentUser fetches the identity behind the current token.
func (c *Client) CurrentUser(ctx context.Context) (domain.User, error) {
	return getWithRetry(ctx, c, func() (domain.User, error) {
		var user domain.User
		err := c.do(ctx, call{
			endpoint: "auth.me",
			method:   http.MethodGet,
			path:     "/auth/me",
			out:      &user,
		})
		return user, err
	})
}
