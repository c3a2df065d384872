package model

import "time"

// Account is the per-address ledger entry. Created lazily on first
// reference by any handler; never deleted. Every counter is >= 0 at all
// times (enforced by handler clamping and a DB CHECK constraint).
type Account struct {
	Address           string    `db:"address"`
	TokensOwned       int64     `db:"tokens_owned"`
	TokensSent        int64     `db:"tokens_sent"`
	TokensReceived    int64     `db:"tokens_received"`
	TokensAuditing    int64     `db:"tokens_auditing"`
	TokensCashed      int64     `db:"tokens_cashed"`
	TokensVoided      int64     `db:"tokens_voided"`
	AuditorsRequested int64     `db:"auditors_requested"`
	UsersRequested    int64     `db:"users_requested"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`

	// Membership sets, loaded on demand by query paths. Handlers never
	// read these; they use the insert-result guards instead.
	CashedNotaIDs []string `db:"-"`
	VoidedNotaIDs []string `db:"-"`
}

// AccountDelta is a set of counter adjustments applied atomically to one
// account within an event's transaction.
type AccountDelta struct {
	TokensOwned       int64
	TokensSent        int64
	TokensReceived    int64
	TokensAuditing    int64
	TokensCashed      int64
	TokensVoided      int64
	AuditorsRequested int64
	UsersRequested    int64
}

// IsZero reports whether the delta adjusts nothing.
func (d AccountDelta) IsZero() bool {
	return d == AccountDelta{}
}
