package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SnapshotRepo keeps the latest snapshot per name in Postgres, plus an
// append-only history of every save.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Save replaces the current snapshot and records it in the history in a
// single transaction.
func (r *SnapshotRepo) Save(ctx context.Context, name string, data []byte, partCount int) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshots (name, data, part_count, saved_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE
		 SET data = EXCLUDED.data, part_count = EXCLUDED.part_count, saved_at = EXCLUDED.saved_at`,
		name, data, partCount,
	); err != nil {
		return fmt.Errorf("snapshot upsert: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshot_history (name, data, part_count) VALUES ($1, $2, $3)`,
		name, data, partCount,
	); err != nil {
		return fmt.Errorf("snapshot history: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *SnapshotRepo) Load(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM snapshots WHERE name = $1`, name,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return data, nil
}

func (r *SnapshotRepo) List(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT name, part_count, octet_length(data::text), saved_at
		 FROM snapshots
		 ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.Name, &info.PartCount, &info.Size, &info.SavedAt); err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

func (r *SnapshotRepo) Close() error {
	r.db.Close()
	return nil
}
