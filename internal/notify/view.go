package notify

import (
	"context"
	"log/slog"

	"github.com/studyboard/studyboard-client/internal/domain"
)

// Navigator takes the user to a notification's target surface. Implemented by
// the shell hosting the client.
type Navigator interface {
	OpenStudyPost(studyID, postID int64)
	OpenStudyIssue(studyID, issueID int64)
}

type syncEngine interface {
	FetchAll(ctx context.Context) (Snapshot, error)
	FetchUnread(ctx context.Context) (Snapshot, error)
	MarkRead(ctx context.Context, ids ...int64) error
	DeleteOne(ctx context.Context, id int64) error
	ClearAll(ctx context.Context) error
}

// View is the stateless intent boundary between the user surface and the
// sync engine. Every intent doubles as a user-activity signal for the
// inactivity watchdog.
type View struct {
	engine   syncEngine
	nav      Navigator
	activity func()
}

// NewView wires the intent boundary. nav and activity may be nil.
func NewView(engine syncEngine, nav Navigator, activity func()) *View {
	return &View{engine: engine, nav: nav, activity: activity}
}

// OpenList is the open-the-dropdown intent: a full fetch so the page is fresh
// rather than up to one poll interval stale.
func (v *View) OpenList(ctx context.Context) (Snapshot, error) {
	v.signalActivity()
	return v.engine.FetchAll(ctx)
}

// OpenUnreadList is the filtered variant of OpenList: only unread items.
func (v *View) OpenUnreadList(ctx context.Context) (Snapshot, error) {
	v.signalActivity()
	return v.engine.FetchUnread(ctx)
}

// MarkOneRead marks a single notification read.
func (v *View) MarkOneRead(ctx context.Context, id int64) error {
	v.signalActivity()
	return v.engine.MarkRead(ctx, id)
}

// MarkAllRead marks every notification read.
func (v *View) MarkAllRead(ctx context.Context) error {
	v.signalActivity()
	return v.engine.MarkRead(ctx)
}

// DeleteOne removes a single notification.
func (v *View) DeleteOne(ctx context.Context, id int64) error {
	v.signalActivity()
	return v.engine.DeleteOne(ctx, id)
}

// ClearAll removes every notification.
func (v *View) ClearAll(ctx context.Context) error {
	v.signalActivity()
	return v.engine.ClearAll(ctx)
}

// Open is the click-a-notification intent: mark it read if needed, then
// navigate to its target. Notifications without a reference pair mark read
// but navigate nowhere.
func (v *View) Open(ctx context.Context, n domain.Notification) error {
	v.signalActivity()

	if !n.IsRead {
		if err := v.engine.MarkRead(ctx, n.ID); err != nil {
			return err
		}
	}

	v.navigate(n)
	return nil
}

func (v *View) navigate(n domain.Notification) {
	if v.nav == nil || n.StudyID == nil {
		return
	}

	switch {
	case n.PostID != nil:
		v.nav.OpenStudyPost(*n.StudyID, *n.PostID)
	case n.IssueID != nil:
		v.nav.OpenStudyIssue(*n.StudyID, *n.IssueID)
	default:
		slog.Debug("Notification has no navigation target", "notification_id", n.ID)
	}
}

func (v *View) signalActivity() {
	if v.activity != nil {
		v.activity()
	}
}
