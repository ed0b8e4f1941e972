//go:build integration

package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/queue"
)

// setupRabbitMQ creates a RabbitMQ container for testing
func setupRabbitMQ(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	amqpURL, err := container.AmqpURL(ctx)
	require.NoError(t, err)
	return amqpURL
}

func TestIntegration_Connection_ConnectAndClose(t *testing.T) {
	amqpURL := setupRabbitMQ(t)

	conn, err := queue.NewConnection(amqpURL, nil)
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())
	assert.NoError(t, conn.Close())
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	_, err := queue.NewConnection("amqp://invalid:5672", nil)
	assert.Error(t, err)
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	amqpURL := setupRabbitMQ(t)

	conn, err := queue.NewConnection(amqpURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// two subscribers: fanout delivers to both
	received := make(chan domain.ReorderEvent, 4)
	for i := 0; i < 2; i++ {
		sub := queue.NewSubscriber(conn, func(ctx context.Context, ev domain.ReorderEvent) error {
			received <- ev
			return nil
		})
		require.NoError(t, sub.Start(ctx))
		defer sub.Stop()
	}

	coll := domain.LessonsOf(uuid.New())
	item := domain.NewItem(uuid.New(), coll, "i", time.Now().UTC())
	ev := domain.NewReorderEvent(domain.EventMoved, item, time.Now().UTC())
	require.NoError(t, queue.NewPublisher(conn).Publish(ctx, ev))

	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			assert.Equal(t, ev.ID, got.ID)
			assert.Equal(t, domain.EventMoved, got.Type)
			assert.Equal(t, coll.String(), got.Collection)
			assert.Equal(t, "i", got.Rank)
		case <-ctx.Done():
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestIntegration_HandlerErrorRedelivers(t *testing.T) {
	amqpURL := setupRabbitMQ(t)

	conn, err := queue.NewConnection(amqpURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	calls := make(chan struct{}, 4)
	sub := queue.NewSubscriber(conn, func(ctx context.Context, ev domain.ReorderEvent) error {
		calls <- struct{}{}
		return errors.New("refetch failed")
	})
	require.NoError(t, sub.Start(ctx))
	defer sub.Stop()

	ev := domain.NewReorderEvent(domain.EventRemoved, domain.NewItem(uuid.New(), domain.PostsOf(uuid.New()), "r", time.Now()), time.Now())
	require.NoError(t, queue.NewPublisher(conn).Publish(ctx, ev))

	// first delivery plus exactly one redelivery
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-ctx.Done():
			t.Fatalf("timeout waiting for delivery %d", i)
		}
	}
	select {
	case <-calls:
		t.Fatal("event delivered a third time")
	case <-time.After(500 * time.Millisecond):
	}
}
