package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is a non-blocking mutual exclusion for settlement passes. TryLock returns
// ok=false when another pass holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLock excludes overlapping passes within one process.
type LocalLock struct {
	held atomic.Bool
}

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) TryLock(context.Context) (func(), bool, error) {
	if !l.held.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	return func() { l.held.Store(false) }, true, nil
}

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a lease shared by every bot replica using the same Redis. The
// holder renews it every third of ttl while the pass runs, so ttl only bounds how
// long a crashed holder blocks the others.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	local  LocalLock
}

func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = "sweepstake:settlement:lock"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) TryLock(ctx context.Context) (func(), bool, error) {
	releaseLocal, ok, _ := l.local.TryLock(ctx)
	if !ok {
		return nil, false, nil
	}
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		releaseLocal()
		return nil, false, fmt.Errorf("worker: acquire settlement lease: %w", err)
	}
	if !acquired {
		releaseLocal()
		return nil, false, nil
	}
	stop, done := make(chan struct{}), make(chan struct{})
	go l.renew(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The pass context may already be cancelled; the lease must still go.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
			releaseLocal()
		})
	}, true, nil
}

func (l *RedisLock) renew(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := max(l.ttl/3, time.Millisecond)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				// lease lost, another holder may own the key now
				return
			}
		}
	}
}
