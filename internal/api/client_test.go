package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyboard/studyboard-client/internal/platform/apperrors"
)

const goodToken = "token-f00d"

// newFakeBackend spins an echo server mimicking the studyboard REST API.
func newFakeBackend(t *testing.T) (*httptest.Server, *backendState) {
	t.Helper()

	state := &backendState{unreadCount: 3}
	e := echo.New()

	e.POST("/api/auth/login", func(c echo.Context) error {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"detail": "malformed body"})
		}
		if req.Password != "secret" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"detail": "Incorrect email or password"})
		}
		return c.JSON(http.StatusOK, echo.Map{
			"access_token": goodToken,
			"token_type":   "bearer",
			"user":         echo.Map{"id": 7, "username": "mina", "email": req.Email},
		})
	})

	e.POST("/api/auth/register", func(c echo.Context) error {
		var req struct {
			Email    string `json:"email"`
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"detail": "malformed body"})
		}
		if req.Email == "taken@example.com" {
			return c.JSON(http.StatusConflict, echo.Map{"detail": "Email already registered"})
		}
		if req.Password == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"detail": "password must not be empty"})
		}
		return c.JSON(http.StatusOK, echo.Map{"id": 8, "username": req.Username, "email": req.Email})
	})

	authed := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "Bearer "+goodToken {
				return c.JSON(http.StatusUnauthorized, echo.Map{"detail": "Could not validate credentials"})
			}
			state.lastRequestID.Store(c.Request().Header.Get("X-Request-ID"))
			return next(c)
		}
	})

	authed.POST("/auth/logout", func(c echo.Context) error {
		state.logoutCalls.Add(1)
		return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
	})

	authed.GET("/auth/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"id": 7, "username": "mina", "email": "mina@example.com"})
	})

	authed.GET("/notifications", func(c echo.Context) error {
		items := []echo.Map{
			{"id": 11, "notification_type": "comment", "message": "new comment", "study_id": 3, "post_id": 5, "is_read": false, "created_at": time.Now().UTC()},
			{"id": 10, "notification_type": "issue", "message": "issue assigned", "study_id": 3, "issue_id": 9, "is_read": true, "created_at": time.Now().UTC()},
		}
		if c.QueryParam("unread_only") == "true" {
			items = items[:1]
		}
		return c.JSON(http.StatusOK, echo.Map{
			"total":        len(items),
			"unread_count": int(state.unreadCount),
			"items":        items,
		})
	})

	authed.GET("/notifications/unread-count", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"unread_count": int(state.unreadCount)})
	})

	authed.PUT("/notifications/read", func(c echo.Context) error {
		var req struct {
			NotificationIDs []int64 `json:"notification_ids"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"detail": "malformed body"})
		}
		state.lastMarkedIDs = req.NotificationIDs
		if len(req.NotificationIDs) == 0 {
			return c.JSON(http.StatusOK, echo.Map{"updated_count": int(state.unreadCount)})
		}
		return c.JSON(http.StatusOK, echo.Map{"updated_count": len(req.NotificationIDs)})
	})

	authed.DELETE("/notifications/:id", func(c echo.Context) error {
		if c.Param("id") == "404" {
			return c.JSON(http.StatusNotFound, echo.Map{"detail": "Notification not found"})
		}
		return c.NoContent(http.StatusNoContent)
	})

	authed.DELETE("/notifications", func(c echo.Context) error {
		state.clearCalls.Add(1)
		return c.JSON(http.StatusOK, echo.Map{"message": "all notifications deleted"})
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, state
}

type backendState struct {
	unreadCount   int64
	logoutCalls   atomic.Int64
	clearCalls    atomic.Int64
	lastMarkedIDs []int64
	lastRequestID atomic.Value
}

func newTestClient(t *testing.T) (*Client, *backendState) {
	t.Helper()
	srv, state := newFakeBackend(t)
	c := New(srv.URL+"/api", clockwork.NewRealClock())
	c.SetTokenSource(func() string { return goodToken })
	return c, state
}

func TestLogin_Success(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetTokenSource(nil)

	result, err := c.Login(context.Background(), "mina@example.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, goodToken, result.Token)
	assert.Equal(t, int64(7), result.User.ID)
	assert.Equal(t, "mina", result.User.Username)
}

func TestLogin_BadCredentials(t *testing.T) {
	c, _ := newTestClient(t)

	var unauthorizedFired bool
	c.SetUnauthorizedHandler(func() { unauthorizedFired = true })

	_, err := c.Login(context.Background(), "mina@example.com", "wrong")
	require.Error(t, err)

	assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err))
	assert.ErrorContains(t, err, "Incorrect email or password")
	assert.False(t, unauthorizedFired, "login 401 must not trigger forced logout")
}

func TestRegister_Success(t *testing.T) {
	c, _ := newTestClient(t)

	user, err := c.Register(context.Background(), "new@example.com", "newbie", "secret")
	require.NoError(t, err)

	assert.Equal(t, int64(8), user.ID)
	assert.Equal(t, "newbie", user.Username)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Register(context.Background(), "taken@example.com", "newbie", "secret")
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestRegister_InvalidInput(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Register(context.Background(), "new@example.com", "newbie", "")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestLogout_CallsServer(t *testing.T) {
	c, state := newTestClient(t)

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, int64(1), state.logoutCalls.Load())
}

func TestCurrentUser(t *testing.T) {
	c, _ := newTestClient(t)

	user, err := c.CurrentUser(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "mina", user.Username)
}

func TestList_DecodesPage(t *testing.T) {
	c, _ := newTestClient(t)

	page, err := c.List(context.Background(), 0, 20, false)
	require.NoError(t, err)

	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 3, page.UnreadCount)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, int64(11), first.ID)
	assert.False(t, first.IsRead)
	require.NotNil(t, first.PostID)
	assert.Equal(t, int64(5), *first.PostID)
	assert.Nil(t, first.IssueID)
}

func TestList_UnreadOnly(t *testing.T) {
	c, _ := newTestClient(t)

	page, err := c.List(context.Background(), 0, 20, true)
	require.NoError(t, err)

	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.False(t, page.Items[0].IsRead)
}

func TestUnreadCount(t *testing.T) {
	c, _ := newTestClient(t)

	count, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMarkRead_SelectedIDs(t *testing.T) {
	c, state := newTestClient(t)

	updated, err := c.MarkRead(context.Background(), []int64{11, 12})
	require.NoError(t, err)

	assert.Equal(t, 2, updated)
	assert.Equal(t, []int64{11, 12}, state.lastMarkedIDs)
}

func TestMarkRead_All(t *testing.T) {
	c, state := newTestClient(t)

	updated, err := c.MarkRead(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, updated)
	assert.Empty(t, state.lastMarkedIDs)
}

func TestDelete_NoContent(t *testing.T) {
	c, _ := newTestClient(t)

	assert.NoError(t, c.Delete(context.Background(), 11))
}

func TestDelete_NotFound(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.Delete(context.Background(), 404)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestClearAll(t *testing.T) {
	c, state := newTestClient(t)

	require.NoError(t, c.ClearAll(context.Background()))
	assert.Equal(t, int64(1), state.clearCalls.Load())
}

func TestUnauthorized_FiresHandlerOnce(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetTokenSource(func() string { return "stale-token" })

	var fired atomic.Int64
	c.SetUnauthorizedHandler(func() { fired.Add(1) })

	err := c.ClearAll(context.Background())
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
	assert.Equal(t, int64(1), fired.Load())
}

func TestRequestCarriesCorrelationID(t *testing.T) {
	c, state := newTestClient(t)

	_, err := c.UnreadCount(context.Background())
	require.NoError(t, err)

	id, _ := state.lastRequestID.Load().(string)
	assert.NotEmpty(t, id, "X-Request-ID header must be set")
}

func TestNetworkError_Classified(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New("http://127.0.0.1:1", clock) // nothing listens here

	done := make(chan error, 1)
	go func() {
		_, err := c.UnreadCount(context.Background())
		done <- err
	}()

	// Each failed attempt parks the retry loop on the fake clock.
	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	err := <-done
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))
}
