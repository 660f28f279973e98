package merge

import (
	"context"
	"sync"
	"time"

	"github.com/mesh-intelligence/concord/pkg/types"
)

// MemoryLocker is an in-process types.Locker with one lock per key. The ttl
// argument is ignored. The zero value is ready to use.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

var _ types.Locker = (*MemoryLocker)(nil)

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

// Lock blocks until key is free or ctx is done.
func (l *MemoryLocker) Lock(ctx context.Context, key string, _ time.Duration) (types.UnlockFunc, error) {
	k := l.acquire(key)
	select {
	case k.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-k.sem
			l.release(key)
		})
		return nil
	}, nil
}

func (l *MemoryLocker) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	k, ok := l.locks[key]
	if !ok {
		k = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = k
	}
	k.refs++
	return k
}

// release drops a reference and forgets the key once nobody waits on it.
func (l *MemoryLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.locks[key]
	k.refs--
	if k.refs == 0 {
		delete(l.locks, key)
	}
}
