// Package persist stores serialized world snapshots, either in Postgres
// (server deployments) or in a local bbolt file.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simpletalk/kernel/internal/config"
	"go.uber.org/zap"
)

// ErrNoSnapshot is returned by Load when nothing was saved under a name.
var ErrNoSnapshot = errors.New("no snapshot")

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	Name      string
	PartCount int
	Size      int
	SavedAt   time.Time
}

// SnapshotStore saves and loads serialized snapshots by name.
type SnapshotStore interface {
	Save(ctx context.Context, name string, data []byte, partCount int) error
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]SnapshotInfo, error)
	Close() error
}

// Open returns the store selected by cfg.Driver. The "none" driver
// returns a nil store.
func Open(ctx context.Context, cfg config.PersistConfig, log *zap.Logger) (SnapshotStore, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := NewDB(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, db, log); err != nil {
			db.Close()
			return nil, err
		}
		return NewSnapshotRepo(db), nil
	case "bolt":
		s, err := OpenBolt(cfg.BoltPath, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown persist driver %q", cfg.Driver)
}
