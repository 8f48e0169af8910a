package event

import "time"

// Event is a scheduled activity coordinators can be assigned to.
type Event struct {
	ID          int64
	Name        string
	Place       string
	ScheduledAt time.Time
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Input carries writable event fields.
type Input struct {
	Name        string
	Place       string
	ScheduledAt time.Time
	Notes       *string
}
