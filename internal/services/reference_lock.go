package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockNotAcquired = errors.New("could not acquire reference lock")

// unlockScript releases the lock only if the caller still holds it, so a
// verification that outlived its lock cannot release a newer holder's lock.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// referenceLock serializes payment verification per gateway reference. The
// journal row lock inside the verify transaction is what guarantees
// exactly-once crediting; this lock keeps concurrent verifiers from hammering
// the gateway for the same reference in the meantime.
type referenceLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func newReferenceLock(client *redis.Client, reference, holder string, expiration time.Duration) *referenceLock {
	return &referenceLock{
		client:     client,
		key:        "verify:lock:" + reference,
		value:      holder,
		expiration: expiration,
	}
}

func (l *referenceLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock blocks until the lock is acquired or retries are exhausted.
func (l *referenceLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockNotAcquired
}

func (l *referenceLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}
