package domain

import "time"

// Notification is a single entry in the local mirror. StudyID pairs with at
// most one of PostID or IssueID; the populated pair drives navigation.
type Notification struct {
	ID        int64     `json:"id"`
	Type      string    `json:"notification_type"`
	Message   string    `json:"message"`
	StudyID   *int64    `json:"study_id,omitempty"`
	PostID    *int64    `json:"post_id,omitempty"`
	IssueID   *int64    `json:"issue_id,omitempty"`
	FromUser  *User     `json:"from_user,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationPage is one page of the server-side notification set, newest
// first, together with the authoritative counters at read time.
type NotificationPage struct {
	Total       int            `json:"total"`
	UnreadCount int            `json:"unread_count"`
	Items       []Notification `json:"items"`
}
