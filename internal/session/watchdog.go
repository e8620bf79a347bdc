package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/studyboard/studyboard-client/internal/domain"
	"github.com/studyboard/studyboard-client/internal/metrics"
	"github.com/studyboard/studyboard-client/internal/platform/correlation"
)

// activityDebounce is the minimum gap between deadline resets. A burst of
// activity signals inside this window nets a single reset.
const activityDebounce = 500 * time.Millisecond

// DefaultInactivityTimeout matches the product's 15-minute auto-logout.
const DefaultInactivityTimeout = 15 * time.Minute

type sessionEnder interface {
	LogoutForInactivity(ctx context.Context)
}

// Watchdog enforces the inactivity timeout while a session is authenticated.
// It runs exactly one timer per session: arming while armed and disarming
// while disarmed are no-ops, so repeated login/logout cycles leak nothing.
type Watchdog struct {
	ender   sessionEnder
	clock   clockwork.Clock
	timeout time.Duration

	// onNotice and onRedirect surface the timeout to the user and send them
	// to the login surface. Either may be nil.
	onNotice   func(message string)
	onRedirect func()

	mu        sync.Mutex
	armed     bool
	timer     clockwork.Timer
	stopCh    chan struct{}
	lastReset time.Time
}

// NewWatchdog creates a disarmed watchdog. Wire it to a session store with
// store.Subscribe(w.HandleSession).
func NewWatchdog(ender sessionEnder, clock clockwork.Clock, timeout time.Duration, onNotice func(string), onRedirect func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return &Watchdog{
		ender:      ender,
		clock:      clock,
		timeout:    timeout,
		onNotice:   onNotice,
		onRedirect: onRedirect,
	}
}

// HandleSession is the session-transition subscriber: authenticated arms the
// timer, anonymous cancels it.
func (w *Watchdog) HandleSession(sess domain.Session) {
	if sess.Status == domain.StatusAuthenticated {
		w.arm()
	} else {
		w.Disarm()
	}
}

// Activity records a user-activity signal, pushing the deadline forward.
// Signals arriving within the debounce window of the previous reset are
// dropped without touching the timer.
func (w *Watchdog) Activity() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.armed {
		return
	}

	now := w.clock.Now()
	if now.Sub(w.lastReset) < activityDebounce {
		return
	}

	w.lastReset = now
	w.timer.Reset(w.timeout)
	metrics.WatchdogResetsTotal.Inc()
}

// Armed reports whether the inactivity timer is currently pending.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

func (w *Watchdog) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.armed {
		return
	}

	w.armed = true
	w.lastReset = w.clock.Now()
	w.timer = w.clock.NewTimer(w.timeout)
	w.stopCh = make(chan struct{})
	metrics.WatchdogArmed.Set(1)

	go w.run(w.timer, w.stopCh)
}

// Disarm cancels the pending timeout. Safe to call repeatedly and from any
// logout path.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disarmLocked()
}

func (w *Watchdog) disarmLocked() {
	if !w.armed {
		return
	}

	w.armed = false
	close(w.stopCh)
	w.stopCh = nil
	w.timer = nil
	metrics.WatchdogArmed.Set(0)
}

// run waits for either the deadline or cancellation. Activity may have moved
// the deadline while the tick was in flight, in which case the timer is
// re-armed for the remainder instead of expiring.
func (w *Watchdog) run(timer clockwork.Timer, stop chan struct{}) {
	for {
		select {
		case <-timer.Chan():
			if w.tryExpire(timer) {
				return
			}
		case <-stop:
			timer.Stop()
			return
		}
	}
}

// tryExpire fires the timeout unless the deadline moved. Returns true when
// the goroutine should exit.
func (w *Watchdog) tryExpire(timer clockwork.Timer) bool {
	w.mu.Lock()

	if !w.armed || w.timer != timer {
		w.mu.Unlock()
		return true
	}

	if remaining := w.lastReset.Add(w.timeout).Sub(w.clock.Now()); remaining > 0 {
		timer.Reset(remaining)
		w.mu.Unlock()
		return false
	}

	w.armed = false
	w.stopCh = nil
	w.timer = nil
	metrics.WatchdogArmed.Set(0)
	w.mu.Unlock()

	metrics.WatchdogTimeoutsTotal.Inc()

	ctx := correlation.WithID(context.Background(), correlation.NewID())
	slog.InfoContext(ctx, "Inactivity timeout reached, logging out", "timeout", w.timeout)

	if w.onNotice != nil {
		w.onNotice("You have been logged out after inactivity.")
	}
	w.ender.LogoutForInactivity(ctx)
	if w.onRedirect != nil {
		w.onRedirect()
	}
	return true
}
