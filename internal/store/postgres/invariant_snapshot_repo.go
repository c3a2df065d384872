package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cheqlabs/dCheque/internal/invariant"
)

// InvariantSnapshotRepo implements invariant.SnapshotRepository.
type InvariantSnapshotRepo struct {
	db *DB
}

func NewInvariantSnapshotRepo(db *DB) *InvariantSnapshotRepo {
	return &InvariantSnapshotRepo{db: db}
}

// SaveSnapshots persists checker findings in batch.
func (r *InvariantSnapshotRepo) SaveSnapshots(ctx context.Context, snapshots []invariant.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	const batchSize = 1000
	for i := 0; i < len(snapshots); i += batchSize {
		end := min(i+batchSize, len(snapshots))
		if err := r.insertBatch(ctx, snapshots[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *InvariantSnapshotRepo) insertBatch(ctx context.Context, snapshots []invariant.Snapshot) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO invariant_snapshots
		(id, run_id, check_name, address, expected, actual, detail, checked_at)
		VALUES `)

	const cols = 8
	args := make([]any, 0, len(snapshots)*cols)
	for i, snap := range snapshots {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for j := 1; j <= cols; j++ {
			if j > 1 {
				sb.WriteString(",")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*cols + j))
		}
		sb.WriteString(")")
		args = append(args,
			snap.ID, snap.RunID, snap.Check, snap.Address,
			snap.Expected, snap.Actual, snap.Detail, snap.CheckedAt,
		)
	}

	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert invariant snapshots: %w", err)
	}
	return nil
}
