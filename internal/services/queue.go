package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"

	"vtu-service/internal/config"
	"vtu-service/internal/gateway"
	"vtu-service/internal/metrics"
	"vtu-service/internal/models"
)

const (
	dequeueTimeout = time.Second
	maxRetryDelay  = 10 * time.Minute
)

// JobQueue stores verification jobs between attempts.
type JobQueue interface {
	VerifyQueue
	// Schedule parks a job until at.
	Schedule(ctx context.Context, job models.VerifyJob, at time.Time) error
	// PromoteDue moves parked jobs whose time has come onto the ready queue.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	// Dequeue waits up to timeout for a ready job. It returns nil when none arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*models.VerifyJob, error)
	DeadLetter(ctx context.Context, job models.VerifyJob, cause error) error
}

// QueueService runs the workers that retry verifications the webhook path could
// not complete.
type QueueService struct {
	queue JobQueue
	cfg   *config.Config
	clock clockz.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueueService(queue JobQueue, cfg *config.Config, clock clockz.Clock) *QueueService {
	if clock == nil {
		clock = clockz.RealClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueService{queue: queue, cfg: cfg, clock: clock, ctx: ctx, cancel: cancel}
}

func (q *QueueService) StartWorkers(reconciler *PaymentReconciler) {
	for i := 0; i < q.cfg.WorkerCount; i++ {
		q.wg.Add(1)
		go q.worker(i+1, reconciler)
	}
}

// StartDelayedJobProcessor periodically releases parked retries.
func (q *QueueService) StartDelayedJobProcessor() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := q.clock.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if _, err := q.queue.PromoteDue(q.ctx, q.clock.Now()); err != nil && q.ctx.Err() == nil {
					log.Error().Err(err).Msg("Error promoting delayed jobs")
				}
			case <-q.ctx.Done():
				return
			}
		}
	}()
}

func (q *QueueService) Stop() {
	q.cancel()
	q.wg.Wait()
}

func (q *QueueService) worker(workerID int, reconciler *PaymentReconciler) {
	defer q.wg.Done()
	log.Info().Int("worker", workerID).Msg("Verify worker started")

	for {
		if q.ctx.Err() != nil {
			return
		}
		job, err := q.queue.Dequeue(q.ctx, dequeueTimeout)
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("worker", workerID).Msg("Error dequeuing job")
			select {
			case <-q.clock.After(time.Second):
			case <-q.ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		if err := q.HandleJob(context.WithoutCancel(q.ctx), reconciler, *job); err != nil {
			log.Error().Err(err).Int("worker", workerID).Str("reference", job.Reference).Msg("Error handling verify job")
		}
	}
}

// HandleJob runs one verification attempt and reschedules or dead-letters the
// job when it fails.
func (q *QueueService) HandleJob(ctx context.Context, reconciler *PaymentReconciler, job models.VerifyJob) error {
	outcome, err := reconciler.Reconcile(ctx, job.Reference, SourceQueue)
	if err == nil && outcome != OutcomePending {
		return nil
	}

	if err != nil && !gateway.IsUnavailable(err) {
		return q.deadLetter(ctx, job, err)
	}
	if err == nil {
		err = errors.New("payment still pending at gateway")
	}

	if job.RetryCount >= job.MaxRetries {
		return q.deadLetter(ctx, job, err)
	}

	job.RetryCount++
	at := q.clock.Now().Add(retryDelay(q.cfg.RetryBaseDelay, job.RetryCount))
	log.Warn().Err(err).Str("reference", job.Reference).Int("retry", job.RetryCount).Time("next_attempt", at).Msg("Verification rescheduled")
	return q.queue.Schedule(ctx, job, at)
}

func (q *QueueService) deadLetter(ctx context.Context, job models.VerifyJob, cause error) error {
	metrics.DLQCount.Inc()
	log.Error().Err(cause).Str("reference", job.Reference).Int("retries", job.RetryCount).Msg("Verify job moved to dead-letter queue")
	return q.queue.DeadLetter(ctx, job, cause)
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
