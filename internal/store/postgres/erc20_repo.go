package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cheqlabs/dCheque/internal/domain/model"
)

type ERC20Repo struct {
	db *DB
}

func NewERC20Repo(db *DB) *ERC20Repo {
	return &ERC20Repo{db: db}
}

func (r *ERC20Repo) EnsureTx(ctx context.Context, tx *sql.Tx, address string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO erc20_tokens (address)
		VALUES ($1)
		ON CONFLICT (address) DO NOTHING
	`, address)
	if err != nil {
		return fmt.Errorf("ensure erc20 %s: %w", address, err)
	}
	return nil
}

func (r *ERC20Repo) Get(ctx context.Context, address string) (*model.ERC20Token, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var t model.ERC20Token
	err := r.db.QueryRowContext(ctx, `
		SELECT address, created_at FROM erc20_tokens WHERE address = $1
	`, address).Scan(&t.Address, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get erc20 %s: %w", address, err)
	}
	return &t, nil
}
