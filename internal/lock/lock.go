// Package lock provides short-lived named locks used to keep scheduled
// jobs from overlapping.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/inboxintel-backend/internal/logging"
)

// ErrNotObtained means another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

type Lock interface {
	Release(ctx context.Context) error
}

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// ====================== Redis ======================

type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// ConnectRedis pings addr and returns a locker backed by it.
func ConnectRedis(ctx context.Context, addr string) (*RedisLocker, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0, // use default DB
		PoolSize: 10,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	logging.Module("lock").WithField("addr", addr).Info("connected to redis")
	return NewRedisLocker(rdb), rdb, nil
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// ====================== Local ======================

// LocalLocker serialises holders within one process.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localLock
	seq   uint64
	clock func() time.Time
}

type localLock struct {
	token   uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]localLock{}, clock: time.Now}
}

func (l *LocalLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrNotObtained
	}
	l.seq++
	entry := localLock{token: l.seq, expires: now.Add(ttl)}
	l.held[key] = entry
	return &localHandle{locker: l, key: key, token: entry.token}, nil
}

type localHandle struct {
	locker *LocalLocker
	key    string
	token  uint64
}

func (h *localHandle) Release(context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()

	// An expired lock may have been taken over; only the owner releases it.
	if cur, ok := h.locker.held[h.key]; ok && cur.token == h.token {
		delete(h.locker.held, h.key)
	}
	return nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*LocalLocker)(nil)
)
