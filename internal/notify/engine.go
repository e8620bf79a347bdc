// Package notify keeps a local mirror of the user's notifications eventually
// consistent with server state. While a session is active the engine holds
// one page of items plus the authoritative unread counter, refreshes the
// counter on a fixed poll interval, and applies user mutations optimistically
// ahead of server acknowledgment.
//
// Consistency model: the item page and the unread counter can drift apart
// between full fetches (another client may read or delete items outside the
// visible page). That drift is accepted and resolved only by the next
// FetchAll. Optimistic mutations are never rolled back on a failed server
// call; the mutations are idempotent and the next full fetch self-corrects.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/studyboard/studyboard-client/internal/domain"
	"github.com/studyboard/studyboard-client/internal/metrics"
	"github.com/studyboard/studyboard-client/internal/platform/apperrors"
	"github.com/studyboard/studyboard-client/internal/platform/correlation"
)

const (
	// DefaultPollInterval matches the product's 10-second unread poll.
	DefaultPollInterval = 10 * time.Second
	// DefaultPageSize is the mirror's page cap.
	DefaultPageSize = 20

	breakerDelay            = 30 * time.Second
	breakerFailureThreshold = 3
)

// Snapshot is the observable mirror state handed to subscribers.
type Snapshot struct {
	Items        []domain.Notification
	Total        int
	UnreadCount  int
	LastSyncedAt time.Time
}

// Engine is the notification sync engine. It is Idle while anonymous and
// Active while authenticated; wire HandleSession to the session store to
// drive the transitions.
type Engine struct {
	api          domain.NotificationAPI
	clock        clockwork.Clock
	pollInterval time.Duration
	pageSize     int
	breaker      circuitbreaker.CircuitBreaker[any]
	group        singleflight.Group

	mu sync.Mutex
	// generation advances on activation, deactivation, and every optimistic
	// mutation. In-flight server responses stamped with an older generation
	// are discarded instead of overwriting newer local state.
	generation   uint64
	active       bool
	items        []domain.Notification
	total        int
	unread       int
	lastSyncedAt time.Time
	stopCh       chan struct{}
	nextSubID    int
	subs         map[int]func(Snapshot)

	// notifyMu serializes subscriber callbacks across goroutines.
	notifyMu sync.Mutex
}

// NewEngine creates an idle engine.
func NewEngine(api domain.NotificationAPI, clock clockwork.Clock, pollInterval time.Duration, pageSize int) *Engine {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	e := &Engine{
		api:          api,
		clock:        clock,
		pollInterval: pollInterval,
		pageSize:     pageSize,
		subs:         make(map[int]func(Snapshot)),
	}
	e.breaker = newPollBreaker()
	return e
}

// newPollBreaker guards the background poll against a flapping backend:
// after consecutive failures the poll is skipped until the delay elapses.
func newPollBreaker() circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(breakerFailureThreshold).
		WithDelay(breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(ev circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "notification_poll",
				"from", ev.OldState.String(),
				"to", ev.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues("notification_poll", ev.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues("notification_poll").Set(breakerStateValue(ev.NewState))
		}).
		Build()
}

func breakerStateValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// HandleSession is the session-transition subscriber: authenticated starts
// polling and triggers the initial full fetch, anonymous stops polling and
// clears the mirror.
func (e *Engine) HandleSession(sess domain.Session) {
	if sess.Status == domain.StatusAuthenticated {
		e.activate()
	} else {
		e.deactivate()
	}
}

// Subscribe registers a mirror observer and returns its unsubscribe function.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Snapshot returns a copy of the current mirror state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Active reports whether the engine is polling.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) activate() {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.generation++
	e.stopCh = make(chan struct{})
	stop := e.stopCh
	e.mu.Unlock()

	slog.Info("Notification sync activated", "poll_interval", e.pollInterval)

	go e.pollLoop(stop)
	go func() {
		ctx := correlation.WithID(context.Background(), correlation.NewID())
		if _, err := e.FetchAll(ctx); err != nil {
			slog.WarnContext(ctx, "Initial notification fetch failed", "error", err)
		}
	}()
}

func (e *Engine) deactivate() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.generation++
	close(e.stopCh)
	e.stopCh = nil
	e.items = nil
	e.total = 0
	e.unread = 0
	e.lastSyncedAt = time.Time{}
	subs, snapshot := e.fanoutLocked()
	e.mu.Unlock()

	metrics.UnreadCount.Set(0)
	slog.Info("Notification sync deactivated, mirror cleared")
	e.notify(subs, snapshot)
}

func (e *Engine) pollLoop(stop chan struct{}) {
	ticker := e.clock.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			e.pollOnce()
		case <-stop:
			return
		}
	}
}

// pollOnce refreshes the unread counter only; items are untouched. Failures
// are logged and swallowed: the poll is a background operation and the next
// successful tick or full fetch self-corrects.
func (e *Engine) pollOnce() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	gen := e.generation
	e.mu.Unlock()

	if !e.breaker.TryAcquirePermit() {
		metrics.PollTicksTotal.WithLabelValues("skipped").Inc()
		slog.Debug("Unread poll skipped, circuit breaker open")
		return
	}

	ctx := correlation.WithID(context.Background(), correlation.NewID())
	count, err := e.api.UnreadCount(ctx)
	if err != nil {
		e.breaker.RecordError(err)
		metrics.PollTicksTotal.WithLabelValues("error").Inc()
		slog.WarnContext(ctx, "Unread poll failed", "error", err, "kind", apperrors.KindOf(err))
		return
	}
	e.breaker.RecordSuccess()

	e.mu.Lock()
	if !e.active || e.generation != gen {
		e.mu.Unlock()
		metrics.StaleResultsDiscardedTotal.Inc()
		metrics.PollTicksTotal.WithLabelValues("stale").Inc()
		slog.DebugContext(ctx, "Discarding stale unread poll result", "count", count)
		return
	}
	e.unread = count
	subs, snapshot := e.fanoutLocked()
	e.mu.Unlock()

	metrics.PollTicksTotal.WithLabelValues("ok").Inc()
	metrics.UnreadCount.Set(float64(count))
	e.notify(subs, snapshot)
}

// FetchAll performs a full refresh: the item page and both counters are
// replaced wholesale from the server response. Concurrent callers share one
// flight. This is the only operation that resolves page/counter drift.
func (e *Engine) FetchAll(ctx context.Context) (Snapshot, error) {
	return e.fetchPage(ctx, "fetch_all", false)
}

// FetchUnread is the unread-only variant of FetchAll: the mirror page is
// rewritten to the server's unread items, with the same counters and the same
// generation-stamped commit.
func (e *Engine) FetchUnread(ctx context.Context) (Snapshot, error) {
	return e.fetchPage(ctx, "fetch_unread", true)
}

func (e *Engine) fetchPage(ctx context.Context, key string, unreadOnly bool) (Snapshot, error) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return Snapshot{}, domain.ErrNotActive
	}
	e.mu.Unlock()

	result, err, _ := e.group.Do(key, func() (any, error) {
		e.mu.Lock()
		gen := e.generation
		e.mu.Unlock()

		page, err := e.api.List(ctx, 0, e.pageSize, unreadOnly)
		if err != nil {
			metrics.FullSyncsTotal.WithLabelValues("error").Inc()
			return Snapshot{}, err
		}

		e.mu.Lock()
		if !e.active || e.generation != gen {
			snapshot := e.snapshotLocked()
			e.mu.Unlock()
			metrics.StaleResultsDiscardedTotal.Inc()
			slog.DebugContext(ctx, "Discarding stale full fetch result", "unread_only", unreadOnly)
			return snapshot, nil
		}
		e.items = page.Items
		e.total = page.Total
		e.unread = page.UnreadCount
		e.lastSyncedAt = e.clock.Now()
		subs, snapshot := e.fanoutLocked()
		e.mu.Unlock()

		metrics.FullSyncsTotal.WithLabelValues("ok").Inc()
		metrics.UnreadCount.Set(float64(snapshot.UnreadCount))
		e.notify(subs, snapshot)
		return snapshot, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return result.(Snapshot), nil
}

// MarkRead marks the given notifications read, or every notification when ids
// is empty. The mirror is updated immediately; the server call runs in the
// background and its failure is logged, not rolled back.
func (e *Engine) MarkRead(ctx context.Context, ids ...int64) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return domain.ErrNotActive
	}

	kind := "mark_read"
	if len(ids) == 0 {
		// Mark-all is a page-level rewrite, not a sequence edit: every item
		// flips and the authoritative counter zeroes regardless of what is
		// outside the visible page.
		kind = "mark_all_read"
		for i := range e.items {
			e.items[i].IsRead = true
		}
		e.unread = 0
	} else {
		wanted := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			wanted[id] = struct{}{}
		}
		flipped := 0
		for i := range e.items {
			if _, ok := wanted[e.items[i].ID]; ok && !e.items[i].IsRead {
				e.items[i].IsRead = true
				flipped++
			}
		}
		e.unread = floorZero(e.unread - flipped)
	}

	e.generation++
	subs, snapshot := e.fanoutLocked()
	e.mu.Unlock()

	metrics.OptimisticMutationsTotal.WithLabelValues(kind).Inc()
	metrics.UnreadCount.Set(float64(snapshot.UnreadCount))
	e.notify(subs, snapshot)

	go e.sendMutation(ctx, kind, func(ctx context.Context) error {
		updated, err := e.api.MarkRead(ctx, ids)
		if err == nil {
			slog.DebugContext(ctx, "Server acknowledged mark-read", "updated", updated)
		}
		return err
	})
	return nil
}

// DeleteOne removes a notification from the mirror; if it was unread the
// counter drops by one, floored at zero.
func (e *Engine) DeleteOne(ctx context.Context, id int64) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return domain.ErrNotActive
	}

	for i := range e.items {
		if e.items[i].ID != id {
			continue
		}
		if !e.items[i].IsRead {
			e.unread = floorZero(e.unread - 1)
		}
		e.items = append(e.items[:i], e.items[i+1:]...)
		e.total = floorZero(e.total - 1)
		break
	}

	e.generation++
	subs, snapshot := e.fanoutLocked()
	e.mu.Unlock()

	metrics.OptimisticMutationsTotal.WithLabelValues("delete").Inc()
	metrics.UnreadCount.Set(float64(snapshot.UnreadCount))
	e.notify(subs, snapshot)

	go e.sendMutation(ctx, "delete", func(ctx context.Context) error {
		err := e.api.Delete(ctx, id)
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			// Already gone server-side; the optimistic removal stands.
			return nil
		}
		return err
	})
	return nil
}

// ClearAll empties the mirror and zeroes the counter as a page-level rewrite.
func (e *Engine) ClearAll(ctx context.Context) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return domain.ErrNotActive
	}

	e.items = nil
	e.total = 0
	e.unread = 0
	e.generation++
	subs, snapshot := e.fanoutLocked()
	e.mu.Unlock()

	metrics.OptimisticMutationsTotal.WithLabelValues("clear_all").Inc()
	metrics.UnreadCount.Set(0)
	e.notify(subs, snapshot)

	go e.sendMutation(ctx, "clear_all", func(ctx context.Context) error {
		return e.api.ClearAll(ctx)
	})
	return nil
}

// sendMutation runs the background half of an optimistic mutation. The
// caller's deadline does not apply; the correlation ID is reused so the log
// trail connects the optimistic apply with its server call.
func (e *Engine) sendMutation(parent context.Context, kind string, op func(context.Context) error) {
	ctx := context.Background()
	if id, ok := correlation.ID(parent); ok {
		ctx = correlation.WithID(ctx, id)
	} else {
		ctx = correlation.WithID(ctx, correlation.NewID())
	}

	if err := op(ctx); err != nil {
		slog.WarnContext(ctx, "Background notification mutation failed, relying on next full sync",
			"kind", kind,
			"error", err,
			"error_kind", apperrors.KindOf(err),
		)
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	items := make([]domain.Notification, len(e.items))
	copy(items, e.items)
	return Snapshot{
		Items:        items,
		Total:        e.total,
		UnreadCount:  e.unread,
		LastSyncedAt: e.lastSyncedAt,
	}
}

func (e *Engine) fanoutLocked() ([]func(Snapshot), Snapshot) {
	subs := make([]func(Snapshot), 0, len(e.subs))
	for id := 0; id < e.nextSubID; id++ {
		if fn, ok := e.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	return subs, e.snapshotLocked()
}

func (e *Engine) notify(subs []func(Snapshot), snapshot Snapshot) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
