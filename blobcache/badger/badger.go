// Package badger provides a BadgerDB-backed blobcache.Store. This is the
// default durable backend: payloads survive process restarts without any
// external service.
package badger

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/unkn0wn-root/imgpipe/blobcache"
)

type Store struct {
	db      *badger.DB
	closeDB bool
}

var _ blobcache.Store = (*Store)(nil)

type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in RAM; useful for tests and ephemeral runs.
	InMemory bool
	// ValueLogFileSizeMB caps individual value log files; 0 keeps the
	// Badger default. Image payloads are large, so a smaller cap keeps
	// compaction incremental.
	ValueLogFileSizeMB int64
}

func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, errors.New("badger blobcache: dir is required")
	}
	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)
	if cfg.ValueLogFileSizeMB > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSizeMB << 20)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, closeDB: true}, nil
}

// Wrap adapts an existing *badger.DB without taking ownership of it.
func Wrap(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, false, blobcache.ErrUnavailable
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Set stores value under key. Badger tracks expiry at whole-second
// granularity, so positive TTLs shorter than one second are rounded up to
// one second; passed through, they would truncate to an already-expired
// timestamp and the entry would never be readable.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl > 0 && ttl < time.Second {
		ttl = time.Second
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return blobcache.ErrUnavailable
	}
	return err
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return blobcache.ErrUnavailable
	}
	return err
}

func (s *Store) Close(context.Context) error {
	if !s.closeDB {
		return nil
	}
	if err := s.db.Close(); err != nil && !errors.Is(err, badger.ErrDBClosed) {
		return err
	}
	return nil
}
