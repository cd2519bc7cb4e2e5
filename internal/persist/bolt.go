package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	snapshotBucket = []byte("snapshots")
	metaBucket     = []byte("snapshot_meta")
)

type boltMeta struct {
	PartCount int       `json:"partCount"`
	SavedAt   time.Time `json:"savedAt"`
}

// BoltStore keeps snapshots in a single local bbolt file.
type BoltStore struct {
	db  *bbolt.DB
	log *zap.Logger
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string, log *zap.Logger) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{snapshotBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt %s: %w", path, err)
	}
	log.Info("snapshot file opened", zap.String("path", path))
	return &BoltStore{db: db, log: log}, nil
}

func (s *BoltStore) Save(_ context.Context, name string, data []byte, partCount int) error {
	meta, err := json.Marshal(boltMeta{PartCount: partCount, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(snapshotBucket).Put([]byte(name), data); err != nil {
			return fmt.Errorf("save snapshot %s: %w", name, err)
		}
		return tx.Bucket(metaBucket).Put([]byte(name), meta)
	})
}

func (s *BoltStore) Load(_ context.Context, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(snapshotBucket).Get([]byte(name))
		if v == nil {
			return ErrNoSnapshot
		}
		// bbolt values are only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *BoltStore) List(_ context.Context) ([]SnapshotInfo, error) {
	var result []SnapshotInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		metas := tx.Bucket(metaBucket)
		return tx.Bucket(snapshotBucket).ForEach(func(k, v []byte) error {
			info := SnapshotInfo{Name: string(k), Size: len(v)}
			if raw := metas.Get(k); raw != nil {
				var m boltMeta
				if err := json.Unmarshal(raw, &m); err != nil {
					return fmt.Errorf("snapshot meta %s: %w", k, err)
				}
				info.PartCount = m.PartCount
				info.SavedAt = m.SavedAt
			}
			result = append(result, info)
			return nil
		})
	})
	return result, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
