// Package events fans settled transactions out to subscribers.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zoobzio/hookz"

	"vtu-service/internal/models"
)

const (
	TransactionCompleted hookz.Key = "transaction.completed"
	TransactionFailed    hookz.Key = "transaction.failed"
)

type TransactionEvent struct {
	Type        string             `json:"type"`
	Transaction models.Transaction `json:"transaction"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// Bus delivers transaction events to hooks on a worker pool. It implements
// ledger.Notifier; delivery never blocks or fails the ledger write.
type Bus struct {
	hooks *hookz.Hooks[TransactionEvent]
}

func NewBus(workers int, timeout time.Duration) *Bus {
	return &Bus{hooks: hookz.New[TransactionEvent](hookz.WithWorkers(workers), hookz.WithTimeout(timeout))}
}

func (b *Bus) Subscribe(key hookz.Key, fn func(context.Context, TransactionEvent) error) (hookz.Hook, error) {
	return b.hooks.Hook(key, fn)
}

// SubscribeAll registers fn for every transaction event.
func (b *Bus) SubscribeAll(fn func(context.Context, TransactionEvent) error) error {
	for _, key := range []hookz.Key{TransactionCompleted, TransactionFailed} {
		if _, err := b.hooks.Hook(key, fn); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) TransactionSettled(ctx context.Context, txn models.Transaction) {
	key := TransactionCompleted
	if txn.Status == models.StatusFailed {
		key = TransactionFailed
	}
	event := TransactionEvent{Type: string(key), Transaction: txn, OccurredAt: time.Now().UTC()}
	if err := b.hooks.Emit(context.WithoutCancel(ctx), key, event); err != nil {
		log.Error().Err(err).Str("reference", txn.Reference).Str("event", string(key)).Msg("failed to emit transaction event")
	}
}

func (b *Bus) Close() error {
	return b.hooks.Close()
}
