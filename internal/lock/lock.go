// Package lock implements the per-job exclusive lock used to serialize
// read-modify-write transactions on a job record. The lock is a Redis
// string key holding a random token, acquired with SET NX PX and released
// with a compare-and-delete script so a holder can never release a lock
// it lost to TTL expiry.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrWaitTimeout is returned when the lock could not be acquired within
// the configured wait budget. Callers treat it as a transient storage
// failure.
var ErrWaitTimeout = errors.New("lock: wait timeout")

// releaseScript deletes the lock key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker acquires and releases per-key exclusive locks.
type Locker struct {
	rdb  redis.UniversalClient
	ttl  time.Duration
	wait time.Duration
	poll time.Duration
}

// New creates a Locker. ttl bounds how long a crashed holder can block
// others; wait bounds how long Acquire blocks before giving up.
func New(rdb redis.UniversalClient, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Locker{rdb: rdb, ttl: ttl, wait: wait, poll: 10 * time.Millisecond}
}

// Acquire blocks until the lock at key is held, the wait budget expires
// (ErrWaitTimeout) or ctx is done. It returns the token required to
// release the lock.
func (l *Locker) Acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// Release drops the lock if it is still held under token. Releasing a
// lock that expired or was taken over is a no-op.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}
