package model

import "time"

// Cursor is the resume position for one event source. It is advanced in
// the same transaction that commits an event's effects, so a restart
// resumes from the last successfully committed event.
type Cursor struct {
	Source          string    `db:"source"`
	Position        string    `db:"position"`
	EventsProcessed int64     `db:"events_processed"`
	UpdatedAt       time.Time `db:"updated_at"`
}
