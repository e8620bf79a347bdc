// Package api implements the REST client for the studyboard backend. It maps
// HTTP failures onto the shared error taxonomy and fires a registered handler
// whenever any authenticated call is rejected with 401, so the session layer
// can force a logout no matter which component issued the call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/studyboard/studyboard-client/internal/domain"
	"github.com/studyboard/studyboard-client/internal/metrics"
	"github.com/studyboard/studyboard-client/internal/platform/apperrors"
	"github.com/studyboard/studyboard-client/internal/platform/correlation"
	"github.com/studyboard/studyboard-client/internal/platform/retry"
)

const (
	httpCallTimeout = 10 * time.Second

	// Outgoing request throttle. Generous enough that interactive use never
	// waits; protects the backend from a runaway caller loop.
	requestsPerSecond = 20
	requestBurst      = 40
)

var getRetryPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
}

// Client is the HTTP implementation of domain.AuthAPI and domain.NotificationAPI.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      clockwork.Clock
	limiter    *rate.Limiter

	mu             sync.RWMutex
	tokenSource    func() string
	onUnauthorized func()
}

var (
	_ domain.AuthAPI         = (*Client)(nil)
	_ domain.NotificationAPI = (*Client)(nil)
)

// New creates a client for the backend at baseURL (e.g. "http://host:8000/api").
func New(baseURL string, clock clockwork.Clock) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: httpCallTimeout},
		clock:      clock,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}
}

// SetTokenSource registers the provider of the current bearer token. An empty
// return value means anonymous and no Authorization header is sent.
func (c *Client) SetTokenSource(fn func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenSource = fn
}

// SetUnauthorizedHandler registers the hook fired when any call outside
// login/register is rejected with 401.
func (c *Client) SetUnauthorizedHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// call describes a single REST invocation.
type call struct {
	endpoint string // stable metrics label
	method   string
	path     string
	query    url.Values
	body     any
	out      any
	// authExchange marks login/register: a 401 there means bad credentials,
	// not a revoked session, and must not fire the unauthorized handler.
	authExchange bool
}

func (c *Client) do(ctx context.Context, call call) error {
	if _, ok := correlation.ID(ctx); !ok {
		ctx = correlation.WithID(ctx, correlation.NewID())
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.Network("request throttled past deadline", err)
	}

	start := c.clock.Now()
	status, err := c.roundTrip(ctx, call)
	metrics.APIRequestDuration.WithLabelValues(call.endpoint).Observe(c.clock.Since(start).Seconds())

	label := "network_error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	metrics.APIRequestsTotal.WithLabelValues(call.endpoint, label).Inc()

	return err
}

func (c *Client) roundTrip(ctx context.Context, call call) (int, error) {
	var reqBody *bytes.Reader
	if call.body != nil {
		data, err := json.Marshal(call.body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal %s request: %w", call.endpoint, err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, call.method, c.baseURL+call.path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s request: %w", call.endpoint, err)
	}
	if len(call.query) > 0 {
		req.URL.RawQuery = call.query.Encode()
	}

	req.Header.Set("Content-Type", "application/json")
	if id, ok := correlation.ID(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.Network(call.endpoint+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if call.out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(call.out); err != nil {
				return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", call.endpoint, err)
			}
		}
		return resp.StatusCode, nil
	}

	return resp.StatusCode, c.mapFailure(ctx, call, resp)
}

// mapFailure turns a non-2xx response into a taxonomy error. The backend
// reports failures as {"detail": "..."}.
func (c *Client) mapFailure(ctx context.Context, call call, resp *http.Response) error {
	detail := decodeDetail(resp)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if call.authExchange {
			return apperrors.Auth(detail)
		}
		c.fireUnauthorized(ctx, call.endpoint)
		return apperrors.Unauthorized(detail)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.Validation(detail)
	case http.StatusConflict:
		return apperrors.Conflict(detail)
	case http.StatusNotFound:
		return apperrors.NotFound(detail)
	default:
		return apperrors.Internal(fmt.Sprintf("%s returned status %d", call.endpoint, resp.StatusCode), nil)
	}
}

func (c *Client) fireUnauthorized(ctx context.Context, endpoint string) {
	c.mu.RLock()
	handler := c.onUnauthorized
	c.mu.RUnlock()

	if handler == nil {
		return
	}
	slog.WarnContext(ctx, "Credential rejected by server, forcing logout", "endpoint", endpoint)
	handler()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokenSource == nil {
		return ""
	}
	return c.tokenSource()
}

func decodeDetail(resp *http.Response) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return http.StatusText(resp.StatusCode)
}

// getWithRetry runs an idempotent GET through the transient-failure retry
// policy. Non-network errors abort immediately.
func getWithRetry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	classify := func(err error) retry.Action {
		if apperrors.IsNetwork(err) {
			return retry.Retry
		}
		return retry.Stop
	}

	val, err := retry.Do(ctx, c.clock, getRetryPolicy, classify, op)
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		return val, perm.Err
	}
	return val, err
}
