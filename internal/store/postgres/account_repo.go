package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cheqlabs/dCheque/internal/domain/model"
)

type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `address, tokens_owned, tokens_sent, tokens_received, tokens_auditing,
	tokens_cashed, tokens_voided, auditors_requested, users_requested, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.Address, &a.TokensOwned, &a.TokensSent, &a.TokensReceived, &a.TokensAuditing,
		&a.TokensCashed, &a.TokensVoided, &a.AuditorsRequested, &a.UsersRequested,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetOrCreateTx inserts the account with zeroed counters if absent, then
// reads it back. The ON CONFLICT DO NOTHING makes redundant calls within
// one event application safe.
func (r *AccountRepo) GetOrCreateTx(ctx context.Context, tx *sql.Tx, address string) (*model.Account, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (address)
		VALUES ($1)
		ON CONFLICT (address) DO NOTHING
	`, address); err != nil {
		return nil, fmt.Errorf("create account %s: %w", address, err)
	}

	a, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE address = $1`, address))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return a, nil
}

func (r *AccountRepo) AdjustTx(ctx context.Context, tx *sql.Tx, address string, delta model.AccountDelta) error {
	if delta.IsZero() {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			tokens_owned = tokens_owned + $2,
			tokens_sent = tokens_sent + $3,
			tokens_received = tokens_received + $4,
			tokens_auditing = tokens_auditing + $5,
			tokens_cashed = tokens_cashed + $6,
			tokens_voided = tokens_voided + $7,
			auditors_requested = auditors_requested + $8,
			users_requested = users_requested + $9,
			updated_at = now()
		WHERE address = $1
	`, address,
		delta.TokensOwned, delta.TokensSent, delta.TokensReceived, delta.TokensAuditing,
		delta.TokensCashed, delta.TokensVoided, delta.AuditorsRequested, delta.UsersRequested,
	)
	if err != nil {
		return fmt.Errorf("adjust account %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust account %s: %w", address, err)
	}
	if n == 0 {
		return fmt.Errorf("adjust account %s: account does not exist", address)
	}
	return nil
}

func (r *AccountRepo) AddCashedTx(ctx context.Context, tx *sql.Tx, address, notaID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO account_cashed_notas (address, nota_id)
		VALUES ($1, $2)
		ON CONFLICT (address, nota_id) DO NOTHING
	`, address, notaID)
	if err != nil {
		return false, fmt.Errorf("add cashed nota %s to %s: %w", notaID, address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add cashed nota %s to %s: %w", notaID, address, err)
	}
	return n > 0, nil
}

func (r *AccountRepo) AddVoidedTx(ctx context.Context, tx *sql.Tx, address, notaID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO account_voided_notas (address, nota_id)
		VALUES ($1, $2)
		ON CONFLICT (address, nota_id) DO NOTHING
	`, address, notaID)
	if err != nil {
		return false, fmt.Errorf("add voided nota %s to %s: %w", notaID, address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add voided nota %s to %s: %w", notaID, address, err)
	}
	return n > 0, nil
}

func (r *AccountRepo) Get(ctx context.Context, address string) (*model.Account, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE address = $1`, address))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}

	a.CashedNotaIDs, err = r.listSet(ctx, "account_cashed_notas", address)
	if err != nil {
		return nil, err
	}
	a.VoidedNotaIDs, err = r.listSet(ctx, "account_voided_notas", address)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AccountRepo) listSet(ctx context.Context, table, address string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT nota_id FROM `+table+` WHERE address = $1 ORDER BY nota_id`, address)
	if err != nil {
		return nil, fmt.Errorf("list %s for %s: %w", table, address, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AccountRepo) ListAddresses(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT address FROM accounts ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list account addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, rows.Err()
}
