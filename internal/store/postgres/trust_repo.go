package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cheqlabs/dCheque/internal/domain/model"
)

// TrustRepo persists the two directional request entities. Each side lives
// in its own table, keyed by the ordered (user, auditor) pair.
type TrustRepo struct {
	db *DB
}

func NewTrustRepo(db *DB) *TrustRepo {
	return &TrustRepo{db: db}
}

func requestTable(side model.RequestSide) (string, error) {
	switch side {
	case model.RequestSideUser:
		return "user_requests", nil
	case model.RequestSideAuditor:
		return "auditor_requests", nil
	}
	return "", fmt.Errorf("unknown request side %q", side)
}

// UpsertTx inserts the request or, on replay, updates its waiting flag.
// xmax = 0 distinguishes a fresh insert from a conflict update.
func (r *TrustRepo) UpsertTx(ctx context.Context, tx *sql.Tx, req *model.TrustRequest) (bool, error) {
	table, err := requestTable(req.Side)
	if err != nil {
		return false, err
	}

	var created bool
	err = tx.QueryRowContext(ctx, `
		INSERT INTO `+table+` (user_address, auditor_address, is_waiting, block_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_address, auditor_address) DO UPDATE SET
			is_waiting = EXCLUDED.is_waiting,
			updated_at = now()
		RETURNING (xmax = 0)
	`, req.UserAddress, req.AuditorAddress, req.IsWaiting, req.BlockTime).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert %s (%s,%s): %w", table, req.UserAddress, req.AuditorAddress, err)
	}
	return created, nil
}

func (r *TrustRepo) GetTx(ctx context.Context, tx *sql.Tx, user, auditor string, side model.RequestSide) (*model.TrustRequest, error) {
	table, err := requestTable(side)
	if err != nil {
		return nil, err
	}
	return r.scanRequest(tx.QueryRowContext(ctx, `
		SELECT user_address, auditor_address, is_waiting, block_time, created_at, updated_at
		FROM `+table+` WHERE user_address = $1 AND auditor_address = $2
	`, user, auditor), side)
}

func (r *TrustRepo) Get(ctx context.Context, user, auditor string, side model.RequestSide) (*model.TrustRequest, error) {
	table, err := requestTable(side)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	return r.scanRequest(r.db.QueryRowContext(ctx, `
		SELECT user_address, auditor_address, is_waiting, block_time, created_at, updated_at
		FROM `+table+` WHERE user_address = $1 AND auditor_address = $2
	`, user, auditor), side)
}

func (r *TrustRepo) scanRequest(row *sql.Row, side model.RequestSide) (*model.TrustRequest, error) {
	var req model.TrustRequest
	err := row.Scan(&req.UserAddress, &req.AuditorAddress, &req.IsWaiting,
		&req.BlockTime, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trust request: %w", err)
	}
	req.Side = side
	return &req, nil
}

func (r *TrustRepo) ListPairsWithBothSides(ctx context.Context) ([][2]string, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT u.user_address, u.auditor_address
		FROM user_requests u
		JOIN auditor_requests a
		  ON a.user_address = u.user_address AND a.auditor_address = u.auditor_address
		ORDER BY u.user_address, u.auditor_address
	`)
	if err != nil {
		return nil, fmt.Errorf("list completed request pairs: %w", err)
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var p [2]string
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, fmt.Errorf("scan request pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// HandshakeRepo persists completed trust relationships.
type HandshakeRepo struct {
	db *DB
}

func NewHandshakeRepo(db *DB) *HandshakeRepo {
	return &HandshakeRepo{db: db}
}

func (r *HandshakeRepo) CreateTx(ctx context.Context, tx *sql.Tx, h *model.Handshake) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO handshakes (user_address, auditor_address, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_address, auditor_address) DO NOTHING
	`, h.UserAddress, h.AuditorAddress, h.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("create handshake (%s,%s): %w", h.UserAddress, h.AuditorAddress, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create handshake (%s,%s): %w", h.UserAddress, h.AuditorAddress, err)
	}
	return n > 0, nil
}

func (r *HandshakeRepo) GetTx(ctx context.Context, tx *sql.Tx, user, auditor string) (*model.Handshake, error) {
	return scanHandshake(tx.QueryRowContext(ctx, `
		SELECT user_address, auditor_address, completed_at, created_at
		FROM handshakes WHERE user_address = $1 AND auditor_address = $2
	`, user, auditor))
}

func (r *HandshakeRepo) Get(ctx context.Context, user, auditor string) (*model.Handshake, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	return scanHandshake(r.db.QueryRowContext(ctx, `
		SELECT user_address, auditor_address, completed_at, created_at
		FROM handshakes WHERE user_address = $1 AND auditor_address = $2
	`, user, auditor))
}

func scanHandshake(row *sql.Row) (*model.Handshake, error) {
	var h model.Handshake
	err := row.Scan(&h.UserAddress, &h.AuditorAddress, &h.CompletedAt, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get handshake: %w", err)
	}
	return &h, nil
}

func (r *HandshakeRepo) ListPairs(ctx context.Context) ([][2]string, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_address, auditor_address FROM handshakes
		ORDER BY user_address, auditor_address
	`)
	if err != nil {
		return nil, fmt.Errorf("list handshake pairs: %w", err)
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var p [2]string
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, fmt.Errorf("scan handshake pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
