package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cheqlabs/dCheque/internal/domain/model"
)

type NotaRepo struct {
	db *DB
}

func NewNotaRepo(db *DB) *NotaRepo {
	return &NotaRepo{db: db}
}

const notaColumns = `id, amount, expiry, erc20_address, drawer, owner, recipient, auditor,
	status, tx_hash, block_time, incomplete, created_at, updated_at`

func scanNota(row interface{ Scan(...any) error }) (*model.Nota, error) {
	var n model.Nota
	err := row.Scan(
		&n.ID, &n.Amount, &n.Expiry, &n.ERC20Address, &n.Drawer, &n.Owner, &n.Recipient,
		&n.Auditor, &n.Status, &n.TxHash, &n.BlockTime, &n.Incomplete,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotaRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.Nota, error) {
	n, err := scanNota(tx.QueryRowContext(ctx,
		`SELECT `+notaColumns+` FROM notas WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get nota %s: %w", id, err)
	}
	return n, nil
}

func (r *NotaRepo) CreateTx(ctx context.Context, tx *sql.Tx, n *model.Nota) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notas (id, amount, expiry, erc20_address, drawer, owner, recipient,
			auditor, status, tx_hash, block_time, incomplete)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, n.ID, n.Amount, n.Expiry, n.ERC20Address, n.Drawer, n.Owner, n.Recipient,
		n.Auditor, n.Status, n.TxHash, n.BlockTime, n.Incomplete)
	if err != nil {
		return fmt.Errorf("create nota %s: %w", n.ID, err)
	}
	return nil
}

func (r *NotaRepo) SetOwnerTx(ctx context.Context, tx *sql.Tx, id, owner string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE notas SET owner = $2, updated_at = now() WHERE id = $1
	`, id, owner)
	if err != nil {
		return fmt.Errorf("set nota %s owner: %w", id, err)
	}
	return nil
}

func (r *NotaRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.NotaStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE notas SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("set nota %s status: %w", id, err)
	}
	return nil
}

func (r *NotaRepo) Get(ctx context.Context, id string) (*model.Nota, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	n, err := scanNota(r.db.QueryRowContext(ctx,
		`SELECT `+notaColumns+` FROM notas WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get nota %s: %w", id, err)
	}
	return n, nil
}

func (r *NotaRepo) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]model.Nota, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notaColumns+` FROM notas WHERE owner = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notas by owner %s: %w", owner, err)
	}
	defer rows.Close()

	var notas []model.Nota
	for rows.Next() {
		n, err := scanNota(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nota: %w", err)
		}
		notas = append(notas, *n)
	}
	return notas, rows.Err()
}

func (r *NotaRepo) CountIssuedByOwner(ctx context.Context, owner string) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*) FROM notas WHERE owner = $1 AND status = $2
	`, owner, model.NotaStatusIssued).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issued notas for %s: %w", owner, err)
	}
	return count, nil
}

func (r *NotaRepo) IssuedCountsByOwner(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT owner, count(*) FROM notas WHERE status = $1 GROUP BY owner
	`, model.NotaStatusIssued)
	if err != nil {
		return nil, fmt.Errorf("count issued notas by owner: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var owner string
		var count int64
		if err := rows.Scan(&owner, &count); err != nil {
			return nil, fmt.Errorf("scan issued count: %w", err)
		}
		counts[owner] = count
	}
	return counts, rows.Err()
}
