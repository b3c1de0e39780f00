package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when another holder owns the lock
var ErrLockNotAcquired = errors.New("lock not acquired")

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is a held SET NX lock
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// AcquireLock takes key for ttl or fails with ErrLockNotAcquired
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := c.Redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &Lock{client: c.Redis, key: key, token: token}, nil
}

// Release frees the lock if it is still held by this holder
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// PaymentLocker serialises commission work on one payment across instances
type PaymentLocker struct {
	client *Client
	ttl    time.Duration
}

// NewPaymentLocker creates a payment locker with the given lock lifetime
func NewPaymentLocker(client *Client, ttl time.Duration) *PaymentLocker {
	return &PaymentLocker{client: client, ttl: ttl}
}

// LockPayment takes the per-payment lock and returns its release function
func (p *PaymentLocker) LockPayment(ctx context.Context, paymentID string) (func(), error) {
	lock, err := p.client.AcquireLock(ctx, "lock:payment:"+paymentID, p.ttl)
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(ctx)
	}, nil
}
