package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"vtu-service/internal/events"
	"vtu-service/internal/models"
)

func TestBusRoutesByStatus(t *testing.T) {
	bus := events.NewBus(2, time.Second)
	t.Cleanup(func() { _ = bus.Close() })

	var (
		mu  sync.Mutex
		got = map[string][]string{}
	)
	record := func(ctx context.Context, e events.TransactionEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got[e.Type] = append(got[e.Type], e.Transaction.Reference)
		return nil
	}
	require.NoError(t, bus.SubscribeAll(record))

	ctx, cancel := context.WithCancel(context.Background())
	bus.TransactionSettled(ctx, models.Transaction{Reference: "PUR-1", Status: models.StatusCompleted})
	bus.TransactionSettled(ctx, models.Transaction{Reference: "PUR-2", Status: models.StatusFailed})
	// delivery does not depend on the request context
	cancel()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got[string(events.TransactionCompleted)]) == 1 && len(got[string(events.TransactionFailed)]) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"PUR-1"}, got[string(events.TransactionCompleted)])
	require.Equal(t, []string{"PUR-2"}, got[string(events.TransactionFailed)])
}

func TestKafkaPublisher(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e events.TransactionEvent
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Transaction.Reference != "FND-1" || e.Type != string(events.TransactionCompleted) {
			return errors.New("unexpected event")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := events.NewKafkaPublisher(producer, "vtu.transactions")
	event := events.TransactionEvent{
		Type:        string(events.TransactionCompleted),
		Transaction: models.Transaction{Reference: "FND-1", Amount: 1_000_000, Status: models.StatusCompleted},
	}

	require.NoError(t, pub.Publish(context.Background(), event))
	require.ErrorIs(t, pub.Publish(context.Background(), event), sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}
