package repository_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"vtu-service/internal/models"
	"vtu-service/internal/repository"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := repository.NewRedisClient(mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	addr := mr.Addr()
	mr.Close()
	_, err = repository.NewRedisClient(addr)
	require.Error(t, err)
}

func TestVerifyQueueEnqueueDequeue(t *testing.T) {
	_, client := newRedis(t)
	q := repository.NewVerifyQueue(client, "ready", "delayed", "dead")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.VerifyJob{Reference: "FND-1", MaxRetries: 3}))
	require.NoError(t, q.Enqueue(ctx, models.VerifyJob{Reference: "FND-2", MaxRetries: 3}))

	first, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "FND-1", first.Reference)

	second, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "FND-2", second.Reference)

	empty, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestVerifyQueueSchedule(t *testing.T) {
	_, client := newRedis(t)
	q := repository.NewVerifyQueue(client, "ready", "delayed", "dead")
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Schedule(ctx, models.VerifyJob{Reference: "due", RetryCount: 1}, now.Add(-time.Second)))
	require.NoError(t, q.Schedule(ctx, models.VerifyJob{Reference: "later", RetryCount: 1}, now.Add(time.Hour)))

	n, err := q.PromoteDue(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "due", job.Reference)
	require.Equal(t, 1, job.RetryCount)

	job, err = q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, job)

	n, err = q.PromoteDue(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestVerifyQueueDeadLetter(t *testing.T) {
	mr, client := newRedis(t)
	q := repository.NewVerifyQueue(client, "ready", "delayed", "dead")
	ctx := context.Background()

	require.NoError(t, q.DeadLetter(ctx, models.VerifyJob{Reference: "FND-9", RetryCount: 8}, errors.New("gateway down")))

	mr.Lpush("ready", "not json")
	_, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.Error(t, err)

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	require.Equal(t, "gateway down", letters[1].Error)
	require.JSONEq(t, `{"reference":"FND-9","source":"","retryCount":8,"maxRetries":0}`, string(letters[1].Payload))
	require.JSONEq(t, `"not json"`, string(letters[0].Payload))
}

func TestRedisLockerExcludes(t *testing.T) {
	_, client := newRedis(t)
	locker := repository.NewRedisLocker(client, "lock:", time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "user-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := holders.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			holders.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen.Load())
}

func TestRedisLockerContextAndRelease(t *testing.T) {
	mr, client := newRedis(t)
	locker := repository.NewRedisLocker(client, "lock:", time.Minute)

	unlock, err := locker.Lock(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, mr.Exists("lock:user-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "user-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locker.Lock(context.Background(), "user-2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	require.False(t, mr.Exists("lock:user-1"))
}

func TestRedisLockerDoesNotReleaseForeignLock(t *testing.T) {
	mr, client := newRedis(t)
	locker := repository.NewRedisLocker(client, "lock:", time.Second)

	unlock, err := locker.Lock(context.Background(), "user-1")
	require.NoError(t, err)

	// the lock expires and someone else takes it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("lock:user-1", "someone-else"))

	unlock()
	got, err := mr.Get("lock:user-1")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestRedisLockerRenewsLease(t *testing.T) {
	mr, client := newRedis(t)
	locker := repository.NewRedisLocker(client, "lock:", 100*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "user-1")
	require.NoError(t, err)

	// well past one TTL, in steps short enough for renewals to land
	for i := 0; i < 10; i++ {
		mr.FastForward(40 * time.Millisecond)
		time.Sleep(80 * time.Millisecond)
	}
	require.True(t, mr.Exists("lock:user-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "user-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	require.False(t, mr.Exists("lock:user-1"))

	// no renewal after release
	time.Sleep(80 * time.Millisecond)
	require.False(t, mr.Exists("lock:user-1"))
}
