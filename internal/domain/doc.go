// Package domain holds the core types and collaborator interfaces of the
// studyboard client: the session record, the notification mirror types, and
// the REST/storage boundaries the sync components depend on.
package domain
