package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// OpTimeout bounds every cache call so a slow cache cannot stall a request.
	OpTimeout time.Duration
}

// Store is a best-effort cache: every backend error is logged and swallowed.
// Reads degrade to a miss, writes and deletes to a no-op.
type Store struct {
	rdb       redis.UniversalClient
	opTimeout time.Duration
	log       *slog.Logger
}

// New dials redis and pings it once. The returned Store owns the connection pool and must be
// released with Close.
func New(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := NewWithClient(rdb, opts.OpTimeout)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return s, nil
}

func NewWithClient(rdb redis.UniversalClient, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &Store{rdb: rdb, opTimeout: opTimeout, log: slog.Default().With("component", "cache")}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Get returns the cached bytes for key and whether they were found.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	cctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	b, err := s.rdb.Get(cctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return b, true
}

// Set stores value under key. A zero ttl keeps the entry until it is overwritten or deleted.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	cctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.rdb.Set(cctx, key, value, ttl).Err(); err != nil {
		s.log.Warn("cache set failed", "key", key, "error", err)
	}
}

func (s *Store) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.rdb.Del(cctx, keys...).Err(); err != nil {
		s.log.Warn("cache delete failed", "keys", keys, "error", err)
	}
}
