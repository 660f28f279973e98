// Package redis provides a Redis-backed types.Locker so that several concord
// processes sharing one data store keep a single writer per document.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/mesh-intelligence/concord/pkg/types"
)

// ErrLockExpired is returned on release when the lock's TTL ran out and the
// key no longer holds this holder's token.
var ErrLockExpired = errors.New("distributed lock expired before release")

// DefaultPrefix namespaces lock keys.
const DefaultPrefix = "concord:"

// defaultRetry is the polling interval while a lock is held elsewhere.
const defaultRetry = 50 * time.Millisecond

// releaseScript deletes the key only while it still holds our token.
var releaseScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker implements types.Locker with SET NX PX and a token-checked release.
type Locker struct {
	client backend.UniversalClient
	prefix string
	retry  time.Duration
}

var _ types.Locker = (*Locker)(nil)

// Option configures the Locker.
type Option func(*Locker)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// WithRetryInterval sets how often a contended lock is retried.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// NewLocker returns a Locker using client.
func NewLocker(client backend.UniversalClient, opts ...Option) *Locker {
	l := &Locker{client: client, prefix: DefaultPrefix, retry: defaultRetry}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// New connects to the Redis server at addr.
func New(addr string, opts ...Option) *Locker {
	return NewLocker(backend.NewClient(&backend.Options{Addr: addr}), opts...)
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}

func (l *Locker) key(key string) string {
	return l.prefix + "lock:" + key
}

// Lock acquires the lock for key, polling until it is free or ctx is done.
// A non-positive ttl uses types.DefaultLockTTL.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (types.UnlockFunc, error) {
	if ttl <= 0 {
		ttl = types.DefaultLockTTL
	}
	lockKey := l.key(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis error acquiring lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(lockKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(lockKey, token string) types.UnlockFunc {
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Int()
		if err != nil {
			return fmt.Errorf("redis error releasing lock: %w", err)
		}
		if n == 0 {
			return ErrLockExpired
		}
		return nil
	}
}
