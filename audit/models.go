package audit

import "time"

// Action is the kind of mutation an entry records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Entry mirrors the audit_log table.
type Entry struct {
	ID        int64
	Username  string
	Action    Action
	Entity    string
	EntityID  *int64
	Detail    string
	CreatedAt time.Time
}

// Query narrows the audit listing. Page is 0-based.
type Query struct {
	From   *time.Time
	To     *time.Time
	Entity string
	Page   int
	Size   int
}

// Page is one slice of the audit log, newest first.
type Page struct {
	Content       []Entry
	TotalElements int
	TotalPages    int
	Size          int
	Number        int
}
