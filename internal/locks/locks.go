// Package locks serializes booking attempts per doctor. The Redis
// implementation coordinates across processes; the in-process one covers
// single-node runs and tests.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clinicflow/appointment-engine/internal/apperr"
)

// DoctorLocker grants exclusive booking access for one doctor at a time.
// Release is safe to call exactly once.
type DoctorLocker interface {
	Acquire(ctx context.Context, doctorID string, ttl time.Duration) (release func(), err error)
}

// RedisLocker implements DoctorLocker over SET NX PX with token-checked release.
type RedisLocker struct {
	client  redis.UniversalClient
	retryIn time.Duration
}

// NewRedisLocker builds a locker on the shared redis client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	if client == nil {
		panic("locks: redis client required")
	}
	return &RedisLocker{client: client, retryIn: 50 * time.Millisecond}
}

var _ DoctorLocker = (*RedisLocker)(nil)

func lockKey(doctorID string) string {
	return "booking:lock:" + doctorID
}

// Acquire spins on SET NX until the lock is granted or ctx expires. The TTL
// bounds how long a crashed holder can block other bookings.
func (l *RedisLocker) Acquire(ctx context.Context, doctorID string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	key := lockKey(doctorID)

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, apperr.Transientf("locks: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Transientf("locks: acquire %s: %w", key, ctx.Err())
		case <-time.After(l.retryIn):
		}
	}

	release := func() {
		// Only delete the lock if we still hold it; an expired lock may have
		// been re-acquired by another booker.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// MemoryLocker is a per-doctor mutex table for single-process deployments.
// Entries are refcounted and evicted once no holder or waiter remains, so the
// table does not grow with every doctor ever booked.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
}

type memoryLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*memoryLock)}
}

var _ DoctorLocker = (*MemoryLocker)(nil)

// Acquire blocks until the doctor's mutex is held or ctx expires.
func (l *MemoryLocker) Acquire(ctx context.Context, doctorID string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &memoryLock{}
		l.locks[doctorID] = m
	}
	m.refs++
	l.mu.Unlock()

	release := func() {
		m.mu.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, doctorID)
		}
		l.mu.Unlock()
	}

	acquired := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return release, nil
	case <-ctx.Done():
		// The goroutine will eventually grab and must then release the mutex
		// so later bookers are not wedged.
		go func() {
			<-acquired
			release()
		}()
		return nil, apperr.Transientf("locks: acquire %s: %w", fmt.Sprintf("booking:lock:%s", doctorID), ctx.Err())
	}
}
