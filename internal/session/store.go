package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/studyboard/studyboard-client/internal/domain"
	"github.com/studyboard/studyboard-client/internal/metrics"
)

// Reasons recorded on forced logouts.
const (
	ReasonUser         = "user"
	ReasonInactivity   = "inactivity"
	ReasonUnauthorized = "unauthorized"
)

// Subscriber observes committed session transitions. Callbacks run
// synchronously on the goroutine that performed the transition and must not
// call back into the store.
type Subscriber func(domain.Session)

// Store is the single source of truth for authentication state. All durable
// credential writes happen here and nowhere else.
type Store struct {
	auth  domain.AuthAPI
	creds domain.CredentialStore

	mu      sync.Mutex
	session domain.Session
	// generation increments on every transition to Anonymous. An in-flight
	// login captures the generation at call time and discards its result if
	// a logout moved the generation on.
	generation uint64
	// loggingOut holds while a best-effort server logout is in flight, so a
	// racing second Logout issues no duplicate network call.
	loggingOut bool
	nextSubID  int
	subs       map[int]Subscriber
}

// NewStore creates a session store. The session starts Anonymous; call
// Restore once at process start to pick up persisted credentials.
func NewStore(auth domain.AuthAPI, creds domain.CredentialStore) *Store {
	return &Store{
		auth:    auth,
		creds:   creds,
		session: domain.Anonymous(),
		subs:    make(map[int]Subscriber),
	}
}

// Subscribe registers a transition observer and returns its unsubscribe
// function. Subscribers see only transitions committed after registration.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Current returns the session as of the last committed transition.
func (s *Store) Current() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Token returns the current credential token, or "" while anonymous. Wired
// into the API client as its token source.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Token
}

// Login exchanges credentials and, on success, atomically persists and
// commits the authenticated session. A logout racing the exchange wins: the
// late login result is discarded and domain.ErrLoginSuperseded returned.
func (s *Store) Login(ctx context.Context, email, password string) (domain.User, error) {
	s.mu.Lock()
	startGen := s.generation
	s.mu.Unlock()

	result, err := s.auth.Login(ctx, email, password)
	if err != nil {
		// Session state is untouched on failure.
		return domain.User{}, err
	}

	s.mu.Lock()
	if s.generation != startGen {
		s.mu.Unlock()
		slog.InfoContext(ctx, "Discarding login result, logout won the race", "user_id", result.User.ID)
		metrics.LoginsDiscardedTotal.Inc()
		return domain.User{}, domain.ErrLoginSuperseded
	}

	// Persist before committing to memory: a failed write must leave the
	// session Anonymous rather than authenticated-but-unpersisted.
	if err := s.creds.Save(domain.Credentials{Token: result.Token, User: result.User}); err != nil {
		s.mu.Unlock()
		return domain.User{}, err
	}

	s.session = domain.Session{
		Status: domain.StatusAuthenticated,
		User:   &result.User,
		Token:  result.Token,
	}
	subs, snapshot := s.fanoutLocked()
	s.mu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues("authenticated").Inc()
	slog.InfoContext(ctx, "Logged in", "user_id", result.User.ID, "username", result.User.Username)
	notify(subs, snapshot)

	return result.User, nil
}

// Register creates an account. It deliberately does not log the user in; the
// product flow sends the user to the login form afterwards.
func (s *Store) Register(ctx context.Context, email, username, password string) (domain.User, error) {
	return s.auth.Register(ctx, email, username, password)
}

// Logout ends the session. The server notification is best effort; local
// state is cleared unconditionally. Calling Logout while Anonymous is a
// no-op and issues no network call.
func (s *Store) Logout(ctx context.Context) {
	s.logout(ctx, ReasonUser)
}

// LogoutForInactivity is the watchdog's logout path: same best-effort server
// notification, recorded as a forced logout.
func (s *Store) LogoutForInactivity(ctx context.Context) {
	s.logout(ctx, ReasonInactivity)
}

func (s *Store) logout(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.session.Status != domain.StatusAuthenticated || s.loggingOut {
		s.mu.Unlock()
		return
	}
	s.loggingOut = true
	s.mu.Unlock()

	if err := s.auth.Logout(ctx); err != nil {
		slog.WarnContext(ctx, "Best-effort server logout failed", "error", err)
	}

	s.clear(ctx, reason)

	s.mu.Lock()
	s.loggingOut = false
	s.mu.Unlock()
}

// ForceLogout clears the session without a server round trip. Used by the
// inactivity watchdog and by the 401 handler; safe to invoke from multiple
// triggers racing each other.
func (s *Store) ForceLogout(ctx context.Context, reason string) {
	s.clear(ctx, reason)
}

// Restore loads persisted credentials at process start. The restore is
// optimistic: no network round trip, a stale token surfaces as a 401 on the
// next API call which then forces a logout.
func (s *Store) Restore(ctx context.Context) domain.Session {
	creds, err := s.creds.Load()
	if err != nil {
		if err != domain.ErrNoCredentials {
			slog.WarnContext(ctx, "Failed to read stored credentials", "error", err)
		}
		return s.Current()
	}

	s.mu.Lock()
	user := creds.User
	s.session = domain.Session{
		Status: domain.StatusAuthenticated,
		User:   &user,
		Token:  creds.Token,
	}
	subs, snapshot := s.fanoutLocked()
	s.mu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues("authenticated").Inc()
	slog.InfoContext(ctx, "Session restored from storage", "user_id", user.ID)
	notify(subs, snapshot)

	return snapshot
}

// clear commits the Anonymous state. Idempotent: repeated calls past the
// first are no-ops with no subscriber fan-out.
func (s *Store) clear(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.session.Status != domain.StatusAuthenticated {
		s.mu.Unlock()
		return
	}

	s.generation++
	s.session = domain.Anonymous()
	subs, snapshot := s.fanoutLocked()
	s.mu.Unlock()

	if err := s.creds.Clear(); err != nil {
		slog.ErrorContext(ctx, "Failed to clear stored credentials", "error", err)
	}

	metrics.SessionTransitionsTotal.WithLabelValues("anonymous").Inc()
	if reason != ReasonUser {
		metrics.ForcedLogoutsTotal.WithLabelValues(reason).Inc()
	}
	slog.InfoContext(ctx, "Logged out", "reason", reason)
	notify(subs, snapshot)
}

// fanoutLocked snapshots the subscriber set and session under the lock so
// callbacks run outside it in registration order.
func (s *Store) fanoutLocked() ([]Subscriber, domain.Session) {
	subs := make([]Subscriber, 0, len(s.subs))
	for id := 0; id < s.nextSubID; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	return subs, s.session
}

func notify(subs []Subscriber, snapshot domain.Session) {
	for _, fn := range subs {
		fn(snapshot)
	}
}
