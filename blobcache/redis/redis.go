// Package redis provides a Redis-backed blobcache.Store for deployments that
// want the payload cache shared across replicas or surviving local restarts.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/imgpipe/blobcache"
)

var ErrNilClient = errors.New("redis blobcache: nil client")

type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ blobcache.Store = (*Store)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if errors.Is(err, goredis.ErrClosed) {
		return nil, false, blobcache.ErrUnavailable
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // non-positive means "no expiry" per Store contract
	}
	err := s.rdb.Set(ctx, key, value, ttl).Err()
	if errors.Is(err, goredis.ErrClosed) {
		return blobcache.ErrUnavailable
	}
	return err
}

func (s *Store) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
