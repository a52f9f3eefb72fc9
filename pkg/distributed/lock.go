package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockTimeout = errors.New("lock acquisition timeout")
	ErrNotHeld     = errors.New("lock was not held by this holder")
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only when the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is one held Redis lock. It is renewed at half its TTL until Release.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client       redis.UniversalClient
	prefix       string
	pollInterval time.Duration
}

func NewLockManager(client redis.UniversalClient, prefix string) *LockManager {
	return &LockManager{client: client, prefix: prefix, pollInterval: 50 * time.Millisecond}
}

// TryAcquire takes the lock if it is free. It returns nil, nil when another
// holder has it.
func (lm *LockManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	l := &Lock{
		client: lm.client,
		key:    lm.prefix + key,
		token:  uuid.NewString(),
		ttl:    ttl,
		stop:   make(chan struct{}),
	}
	ok, err := lm.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, nil
	}
	go l.renew()
	return l, nil
}

// Acquire polls until the lock is taken, ctx is done or wait elapses.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		l, err := lm.TryAcquire(ctx, key, ttl)
		if err != nil || l != nil {
			return l, err
		}
		if wait > 0 && time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lm.prefix+key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lm.pollInterval):
		}
	}
}

func (l *Lock) renew() {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil || n == 0 {
				return
			}
		case <-l.stop:
			return
		}
	}
}

// DeleteIfValue deletes key only while it holds value and reports whether it
// did.
func DeleteIfValue(ctx context.Context, client redis.UniversalClient, key, value string) (bool, error) {
	n, err := releaseScript.Run(ctx, client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Release deletes the lock if it is still ours. Calling it twice returns
// ErrNotHeld.
func (l *Lock) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *Lock) Key() string { return l.key }
