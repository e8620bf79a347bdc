package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/studyboard/studyboard-client/internal/domain"
)

// List fetches one page of notifications (newest first) together with the
// authoritative total and unread counters.
func (c *Client) List(ctx context.Context, skip, limit int, unreadOnly bool) (domain.NotificationPage, error) {
	return getWithRetry(ctx, c, func() (domain.NotificationPage, error) {
		query := url.Values{}
		query.Set("skip", strconv.Itoa(skip))
		query.Set("limit", strconv.Itoa(limit))
		if unreadOnly {
			query.Set("unread_only", "true")
		}

		var page domain.NotificationPage
		err := c.do(ctx, call{
			endpoint: "notifications.list",
			method:   http.MethodGet,
			path:     "/notifications",
			query:    query,
			out:      &page,
		})
		return page, err
	})
}

// UnreadCount fetches only the unread counter. This is the cheap call the
// background poll issues every tick.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	return getWithRetry(ctx, c, func() (int, error) {
		var resp struct {
			UnreadCount int `json:"unread_count"`
		}
		err := c.do(ctx, call{
			endpoint: "notifications.unread_count",
			method:   http.MethodGet,
			path:     "/notifications/unread-count",
			out:      &resp,
		})
		return resp.UnreadCount, err
	})
}

// MarkRead marks the given notifications read, or all of them when ids is
// empty. Idempotent server-side; returns the number of rows updated.
func (c *Client) MarkRead(ctx context.Context, ids []int64) (int, error) {
	body := struct {
		NotificationIDs []int64 `json:"notification_ids,omitempty"`
	}{NotificationIDs: ids}

	var resp struct {
		UpdatedCount int `json:"updated_count"`
	}
	err := c.do(ctx, call{
		endpoint: "notifications.mark_read",
		method:   http.MethodPut,
		path:     "/notifications/read",
		body:     body,
		out:      &resp,
	})
	return resp.UpdatedCount, err
}

// Delete removes a single notification.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, call{
		endpoint: "notifications.delete",
		method:   http.MethodDelete,
		path:     "/notifications/" + strconv.FormatInt(id, 10),
	})
}

// ClearAll removes every notification for the current user.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.do(ctx, call{
		endpoint: "notifications.clear_all",
		method:   http.MethodDelete,
		path:     "/notifications",
	})
}
