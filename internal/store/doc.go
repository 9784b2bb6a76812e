// Package store persists notes in SQLite and routes every change through
// the event reactor.
//
// Put emits note:created or note:modified, Delete emits note:deleted.
// Handlers see the note as the event payload:
//
//	{"path": "...", "title": "...", "tags": [...], "content": "..."}
//
// and may rewrite title, tags or content. The store persists the folded
// payload, or nothing when a handler cancels, in which case the call fails
// with ErrRejected. After a successful write the store emits note:parsed
// with the note's frontmatter for observers such as indexers.
package store
