// Package store defines the repository interfaces the projector and query
// layers depend on. The Postgres implementations live in store/postgres;
// an in-memory implementation for tests and dev mode lives in store/memory.
//
// Methods suffixed Tx participate in the caller's transaction: every read
// and write a single event's handler performs is committed together with
// the cursor advance or not at all.
package store

import (
	"context"
	"database/sql"

	"github.com/cheqlabs/dCheque/internal/domain/model"
)

// TxBeginner abstracts the ability to begin a database transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// AccountRepository provides access to per-address ledger entries.
type AccountRepository interface {
	// GetOrCreateTx returns the account for address, creating it with all
	// counters at zero if absent. Safe to call redundantly within one
	// event application.
	GetOrCreateTx(ctx context.Context, tx *sql.Tx, address string) (*model.Account, error)

	// AdjustTx applies counter deltas to an existing account.
	AdjustTx(ctx context.Context, tx *sql.Tx, address string, delta model.AccountDelta) error

	// AddCashedTx records notaID in the account's cashed set. Returns
	// false if the id was already present (replay guard).
	AddCashedTx(ctx context.Context, tx *sql.Tx, address, notaID string) (bool, error)

	// AddVoidedTx records notaID in the account's voided set. Returns
	// false if the id was already present.
	AddVoidedTx(ctx context.Context, tx *sql.Tx, address, notaID string) (bool, error)

	// Get returns the account with its membership sets loaded, or nil.
	Get(ctx context.Context, address string) (*model.Account, error)

	// ListAddresses returns every known account address.
	ListAddresses(ctx context.Context) ([]string, error)
}

// ERC20Repository is the dictionary of fungible-token contracts seen in
// Write events.
type ERC20Repository interface {
	EnsureTx(ctx context.Context, tx *sql.Tx, address string) error
	Get(ctx context.Context, address string) (*model.ERC20Token, error)
}

// NotaRepository provides access to instruments.
type NotaRepository interface {
	GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.Nota, error)
	CreateTx(ctx context.Context, tx *sql.Tx, n *model.Nota) error
	SetOwnerTx(ctx context.Context, tx *sql.Tx, id, owner string) error
	SetStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.NotaStatus) error

	Get(ctx context.Context, id string) (*model.Nota, error)

	// ListByOwner returns notas owned by address in stable id order;
	// limit/offset make the scan restartable and finite.
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]model.Nota, error)

	// CountIssuedByOwner re-derives the live ownership count for one
	// account (invariant checking).
	CountIssuedByOwner(ctx context.Context, owner string) (int64, error)

	// IssuedCountsByOwner re-derives live ownership counts for every
	// owner with at least one issued nota.
	IssuedCountsByOwner(ctx context.Context) (map[string]int64, error)
}

// TrustRepository provides access to the two directional request entities.
type TrustRepository interface {
	// UpsertTx creates the request for (user, auditor, side) or updates
	// its is_waiting flag. Returns true when the request was created.
	UpsertTx(ctx context.Context, tx *sql.Tx, req *model.TrustRequest) (bool, error)

	GetTx(ctx context.Context, tx *sql.Tx, user, auditor string, side model.RequestSide) (*model.TrustRequest, error)
	Get(ctx context.Context, user, auditor string, side model.RequestSide) (*model.TrustRequest, error)

	// ListPairsWithBothSides returns every (user, auditor) pair for which
	// both directional requests exist (invariant checking).
	ListPairsWithBothSides(ctx context.Context) ([][2]string, error)
}

// HandshakeRepository provides access to completed trust relationships.
type HandshakeRepository interface {
	// CreateTx inserts the handshake if absent. Returns false when it
	// already existed (idempotent completion).
	CreateTx(ctx context.Context, tx *sql.Tx, h *model.Handshake) (bool, error)

	GetTx(ctx context.Context, tx *sql.Tx, user, auditor string) (*model.Handshake, error)
	Get(ctx context.Context, user, auditor string) (*model.Handshake, error)

	// ListPairs returns every completed (user, auditor) pair.
	ListPairs(ctx context.Context) ([][2]string, error)
}

// CursorRepository tracks the resume position per event source.
type CursorRepository interface {
	Get(ctx context.Context, source string) (*model.Cursor, error)
	UpsertTx(ctx context.Context, tx *sql.Tx, source, position string, eventsDelta int64) error
}
