package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cheqlabs/dCheque/internal/domain/model"
)

type CursorRepo struct {
	db *DB
}

func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

func (r *CursorRepo) Get(ctx context.Context, source string) (*model.Cursor, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var c model.Cursor
	err := r.db.QueryRowContext(ctx, `
		SELECT source, position, events_processed, updated_at
		FROM cursors WHERE source = $1
	`, source).Scan(&c.Source, &c.Position, &c.EventsProcessed, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", source, err)
	}
	return &c, nil
}

func (r *CursorRepo) UpsertTx(ctx context.Context, tx *sql.Tx, source, position string, eventsDelta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cursors (source, position, events_processed)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE SET
			position = EXCLUDED.position,
			events_processed = cursors.events_processed + EXCLUDED.events_processed,
			updated_at = now()
	`, source, position, eventsDelta)
	if err != nil {
		return fmt.Errorf("upsert cursor %s: %w", source, err)
	}
	return nil
}
