package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyboard/studyboard-client/internal/domain"
	"github.com/studyboard/studyboard-client/internal/platform/apperrors"
)

type fakeNotifyAPI struct {
	mu          sync.Mutex
	page        domain.NotificationPage
	listErr     error
	unread      int
	unreadErr   error
	markErr     error
	listCalls   int
	unreadCalls int
	markCalls   [][]int64
	deleteCalls []int64
	clearCalls  int

	// When set, UnreadCount announces on unreadStarted and parks until
	// unreadRelease closes. Used to hold a poll response in flight.
	unreadStarted chan struct{}
	unreadRelease chan struct{}
}

func (f *fakeNotifyAPI) List(ctx context.Context, skip, limit int, unreadOnly bool) (domain.NotificationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return domain.NotificationPage{}, f.listErr
	}

	page := f.page
	page.Items = make([]domain.Notification, 0, len(f.page.Items))
	for _, item := range f.page.Items {
		if unreadOnly && item.IsRead {
			continue
		}
		page.Items = append(page.Items, item)
	}
	if unreadOnly {
		page.Total = len(page.Items)
	}
	return page, nil
}

func (f *fakeNotifyAPI) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	started := f.unreadStarted
	release := f.unreadRelease
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadCalls++
	if f.unreadErr != nil {
		return 0, f.unreadErr
	}
	return f.unread, nil
}

func (f *fakeNotifyAPI) MarkRead(ctx context.Context, ids []int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, ids)
	if f.markErr != nil {
		return 0, f.markErr
	}
	return len(ids), nil
}

func (f *fakeNotifyAPI) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, id)
	return nil
}

func (f *fakeNotifyAPI) ClearAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return nil
}

func (f *fakeNotifyAPI) markCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.markCalls)
}

func threeItemPage() domain.NotificationPage {
	study := int64(3)
	post := int64(5)
	return domain.NotificationPage{
		Total:       3,
		UnreadCount: 2,
		Items: []domain.Notification{
			{ID: 12, Type: "comment", Message: "new comment", StudyID: &study, PostID: &post, IsRead: false},
			{ID: 11, Type: "issue", Message: "issue assigned", StudyID: &study, IsRead: false},
			{ID: 10, Type: "comment", Message: "older comment", StudyID: &study, PostID: &post, IsRead: true},
		},
	}
}

func authenticated() domain.Session {
	user := domain.User{ID: 7, Username: "mina"}
	return domain.Session{Status: domain.StatusAuthenticated, User: &user, Token: "tok"}
}

// startActiveEngine activates the engine and waits for the initial full fetch
// to land in the mirror.
func startActiveEngine(t *testing.T, api *fakeNotifyAPI, clock clockwork.Clock) *Engine {
	t.Helper()

	e := NewEngine(api, clock, DefaultPollInterval, DefaultPageSize)
	e.HandleSession(authenticated())
	t.Cleanup(func() { e.HandleSession(domain.Anonymous()) })

	require.Eventually(t, func() bool {
		return len(e.Snapshot().Items) == len(api.page.Items)
	}, time.Second, 5*time.Millisecond, "initial full fetch did not populate the mirror")
	return e
}

func TestEngine_ActivationFetchesImmediately(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	snap := e.Snapshot()
	assert.True(t, e.Active())
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.UnreadCount)
	assert.False(t, snap.LastSyncedAt.IsZero())
}

func TestEngine_PollRefreshesCounterOnly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clock)

	api.mu.Lock()
	api.unread = 5
	api.mu.Unlock()

	clock.BlockUntil(1)
	clock.Advance(DefaultPollInterval)

	require.Eventually(t, func() bool {
		return e.Snapshot().UnreadCount == 5
	}, time.Second, 5*time.Millisecond)

	// The item page is untouched by the counter poll.
	snap := e.Snapshot()
	assert.Len(t, snap.Items, 3)
	assert.Equal(t, 3, snap.Total)
}

func TestEngine_FetchUnread_RewritesPageToUnreadItems(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	snap, err := e.FetchUnread(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Items, 2)
	for _, item := range snap.Items {
		assert.False(t, item.IsRead)
	}
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 2, snap.UnreadCount)

	// The filtered page is committed to the mirror, not a side copy.
	assert.Equal(t, snap.Items, e.Snapshot().Items)
}

func TestEngine_MarkOneRead_AppliesBeforeServerRoundTrip(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2, markErr: apperrors.Network("backend down", nil)}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	require.NoError(t, e.MarkRead(context.Background(), 12))

	// Optimistic state is visible immediately, before (and regardless of)
	// the background server call.
	snap := e.Snapshot()
	assert.Equal(t, 1, snap.UnreadCount)
	assert.True(t, snap.Items[0].IsRead)
	assert.False(t, snap.Items[1].IsRead)

	require.Eventually(t, func() bool { return api.markCallCount() == 1 }, time.Second, 5*time.Millisecond)

	// The failed server call is logged, never rolled back.
	assert.Equal(t, 1, e.Snapshot().UnreadCount)
}

func TestEngine_MarkRead_AlreadyReadItemDoesNotDecrement(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	require.NoError(t, e.MarkRead(context.Background(), 10))
	assert.Equal(t, 2, e.Snapshot().UnreadCount)
}

func TestEngine_MarkAllRead_PageLevelRewrite(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 7} // unread beyond the visible page
	e := startActiveEngine(t, api, clockwork.NewFakeClock())
	require.NoError(t, e.MarkRead(context.Background()))

	snap := e.Snapshot()
	assert.Equal(t, 0, snap.UnreadCount)
	for _, item := range snap.Items {
		assert.True(t, item.IsRead)
	}

	require.Eventually(t, func() bool { return api.markCallCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, api.markCalls[0], "mark-all sends no ids")
}

func TestEngine_DeleteOne(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	require.NoError(t, e.DeleteOne(context.Background(), 11))

	snap := e.Snapshot()
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.UnreadCount)
}

func TestEngine_UnreadCountNeverNegative(t *testing.T) {
	page := threeItemPage()
	page.UnreadCount = 1 // counter already behind the two unread items on the page
	api := &fakeNotifyAPI{page: page, unread: 1}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	ctx := context.Background()
	require.NoError(t, e.MarkRead(ctx, 12))
	require.NoError(t, e.DeleteOne(ctx, 11))
	require.NoError(t, e.DeleteOne(ctx, 10))

	assert.Equal(t, 0, e.Snapshot().UnreadCount)
}

func TestEngine_ClearAll(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	require.NoError(t, e.ClearAll(context.Background()))

	snap := e.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.Total)
	assert.Equal(t, 0, snap.UnreadCount)

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.clearCalls == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_StalePollDiscardedAfterClearAll(t *testing.T) {
	clock := clockwork.NewFakeClock()
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clock)

	started := make(chan struct{})
	release := make(chan struct{})
	api.mu.Lock()
	api.unread = 5
	api.unreadStarted = started
	api.unreadRelease = release
	api.mu.Unlock()

	clock.BlockUntil(1)
	clock.Advance(DefaultPollInterval)
	<-started // the poll's counter request is now in flight

	require.NoError(t, e.ClearAll(context.Background()))
	close(release)

	// The count captured before the clear must not resurrect.
	assert.Never(t, func() bool {
		return e.Snapshot().UnreadCount != 0
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestEngine_LogoutClearsMirrorAndStopsPolling(t *testing.T) {
	clock := clockwork.NewFakeClock()
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clock)

	var got []Snapshot
	var mu sync.Mutex
	e.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})

	e.HandleSession(domain.Anonymous())

	assert.False(t, e.Active())
	snap := e.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.UnreadCount)
	assert.True(t, snap.LastSyncedAt.IsZero())

	mu.Lock()
	require.NotEmpty(t, got)
	assert.Empty(t, got[len(got)-1].Items)
	mu.Unlock()
}

func TestEngine_OperationsRequireActiveState(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage()}
	e := NewEngine(api, clockwork.NewFakeClock(), DefaultPollInterval, DefaultPageSize)

	ctx := context.Background()
	_, err := e.FetchAll(ctx)
	assert.ErrorIs(t, err, domain.ErrNotActive)
	assert.ErrorIs(t, e.MarkRead(ctx, 1), domain.ErrNotActive)
	assert.ErrorIs(t, e.DeleteOne(ctx, 1), domain.ErrNotActive)
	assert.ErrorIs(t, e.ClearAll(ctx), domain.ErrNotActive)
}

func TestEngine_ActivateTwiceIsNoOp(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	e.HandleSession(authenticated())
	assert.True(t, e.Active())

	api.mu.Lock()
	calls := api.listCalls
	api.mu.Unlock()
	assert.Equal(t, 1, calls, "re-activation must not refetch")
}

func TestEngine_Unsubscribe(t *testing.T) {
	api := &fakeNotifyAPI{page: threeItemPage(), unread: 2}
	e := startActiveEngine(t, api, clockwork.NewFakeClock())

	var calls int
	var mu sync.Mutex
	unsubscribe := e.Subscribe(func(Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	require.NoError(t, e.MarkRead(context.Background(), 12))
	unsubscribe()
	require.NoError(t, e.MarkRead(context.Background(), 11))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
