package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"vtu-service/internal/models"
)

func NewRedisClient(addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            addr,
		PoolSize:        100,
		MinIdleConns:    10,
		PoolTimeout:     2 * time.Second,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    time.Second,
		MaxRetries:      1,
		MaxRetryBackoff: 256 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Redis connection initialized successfully")
	return rdb, nil
}

// DLQMessage is what lands on the dead-letter list.
type DLQMessage struct {
	At      time.Time       `json:"at"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

// VerifyQueue keeps payment verification jobs in Redis: a ready list consumed
// with BRPOP, a sorted set of parked retries scored by due time, and a
// dead-letter list.
type VerifyQueue struct {
	client  *redis.Client
	ready   string
	delayed string
	dead    string
}

func NewVerifyQueue(client *redis.Client, ready, delayed, dead string) *VerifyQueue {
	return &VerifyQueue{client: client, ready: ready, delayed: delayed, dead: dead}
}

func (q *VerifyQueue) Enqueue(ctx context.Context, job models.VerifyJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.LPush(ctx, q.ready, raw).Err()
}

func (q *VerifyQueue) Schedule(ctx context.Context, job models.VerifyJob, at time.Time) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(at.UnixMilli()), Member: raw}).Err()
}

// promoteScript moves due members from the delayed set to the ready list in one step.
var promoteScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, item in ipairs(items) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('LPUSH', KEYS[2], item)
end
return #items
`)

const promoteBatch = 100

func (q *VerifyQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client, []string{q.delayed, q.ready}, strconv.FormatInt(now.UnixMilli(), 10), promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	return n, nil
}

func (q *VerifyQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.VerifyJob, error) {
	result, err := q.client.BRPop(ctx, timeout, q.ready).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var job models.VerifyJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		// A poison message would otherwise be retried forever.
		_ = q.pushDead(ctx, []byte(result[1]), err)
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *VerifyQueue) DeadLetter(ctx context.Context, job models.VerifyJob, cause error) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.pushDead(ctx, raw, cause)
}

func (q *VerifyQueue) pushDead(ctx context.Context, payload []byte, cause error) error {
	msg := DLQMessage{At: time.Now().UTC(), Error: cause.Error(), Payload: json.RawMessage(payload)}
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(payload))
		msg.Payload = quoted
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.dead, b).Err()
}

// DeadLetters returns up to limit of the most recent dead-lettered jobs.
func (q *VerifyQueue) DeadLetters(ctx context.Context, limit int64) ([]DLQMessage, error) {
	raw, err := q.client.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DLQMessage, 0, len(raw))
	for _, item := range raw {
		var msg DLQMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			log.Warn().Err(err).Msg("Skipping unreadable dead letter")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// RedisLocker is a per-key mutual exclusion lock shared by every instance.
// Each holder writes a random token with a TTL, and only the holder of that
// token can release it. The lease is renewed every ttl/3 until release, so a
// holder that outlives one TTL keeps the key.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: 25 * time.Millisecond}
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			l.release(lockKey, token)
		})
	}, nil
}

func (l *RedisLocker) keepAlive(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewScript.Run(ctx, l.client, []string{lockKey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("key", lockKey).Msg("Error renewing lock")
				continue
			}
			if n == 0 {
				log.Error().Str("key", lockKey).Msg("Lock lost before release")
				return
			}
		}
	}
}

func (l *RedisLocker) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
		log.Error().Err(err).Str("key", lockKey).Msg("Error releasing lock")
	}
}
