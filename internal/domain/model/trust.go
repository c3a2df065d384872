package model

import "time"

// RequestSide identifies which party authored a trust request.
type RequestSide string

const (
	RequestSideUser    RequestSide = "USER"
	RequestSideAuditor RequestSide = "AUDITOR"
)

// TrustRequest is one directional half of a handshake, identified by the
// ordered (user, auditor) pair plus the side that authored it. Created on
// the first relevant Shake event; never deleted.
//
// For the auditor side IsWaiting carries the accepted flag of the latest
// ShakeAuditor event; a rejection leaves the pair uncompleted without
// removing the request.
type TrustRequest struct {
	UserAddress    string      `db:"user_address"`
	AuditorAddress string      `db:"auditor_address"`
	Side           RequestSide `db:"side"`
	IsWaiting      bool        `db:"is_waiting"`
	BlockTime      int64       `db:"block_time"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

// Handshake exists for a pair iff both the user and auditor requests for
// that pair exist and the auditor side accepted. Created exactly once, the
// instant the second of the two requests is observed; immutable afterward.
type Handshake struct {
	UserAddress    string    `db:"user_address"`
	AuditorAddress string    `db:"auditor_address"`
	CompletedAt    int64     `db:"completed_at"` // block timestamp of the completing event
	CreatedAt      time.Time `db:"created_at"`
}
