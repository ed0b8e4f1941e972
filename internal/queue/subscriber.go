package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ntauth/fracrank/internal/domain"
)

// ErrSubscriptionLost reports that the broker closed the delivery channel,
// typically because the connection dropped. The private queue is gone with
// it, so the subscriber has to be started again.
var ErrSubscriptionLost = errors.New("subscription lost")

// EventHandler reacts to a reorder event, typically by re-fetching the
// collection it names.
type EventHandler func(ctx context.Context, ev domain.ReorderEvent) error

// Subscriber delivers every event published to the exchange to a handler.
type Subscriber struct {
	conn       *Connection
	handler    EventHandler
	queue      string
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	done       chan struct{}
	err        error
}

// NewSubscriber returns a subscriber calling handler for each event.
func NewSubscriber(conn *Connection, handler EventHandler) *Subscriber {
	return &Subscriber{conn: conn, handler: handler, done: make(chan struct{})}
}

// Start declares a private queue bound to the exchange and starts consuming.
func (s *Subscriber) Start(ctx context.Context) error {
	ch := s.conn.Channel()

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind subscriber queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	s.queue = q.Name
	s.consume(ctx, msgs)

	s.conn.logger.Info("subscribed to reorder events", "queue", q.Name)
	return nil
}

// Queue returns the name of the private queue once started.
func (s *Subscriber) Queue() string { return s.queue }

// Done is closed once the subscriber stops delivering, either through Stop
// or because the subscription was lost; Err tells the two apart.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err returns ErrSubscriptionLost after the broker ended the subscription,
// and nil otherwise. It is only meaningful once Done is closed.
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscriber) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	ctx, s.cancelFunc = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx, msgs)
}

func (s *Subscriber) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer s.wg.Done()
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				s.conn.logger.Warn("subscriber channel closed", "queue", s.queue)
				s.err = fmt.Errorf("queue %s: %w", s.queue, ErrSubscriptionLost)
				return
			}
			s.process(ctx, msg)
		}
	}
}

func (s *Subscriber) process(ctx context.Context, msg amqp.Delivery) {
	var ev domain.ReorderEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		s.conn.logger.Error("failed to unmarshal reorder event", "error", err)
		// malformed: drop it
		_ = msg.Reject(false)
		return
	}

	if err := s.handler(ctx, ev); err != nil {
		s.conn.logger.Warn("reorder event handler failed",
			"event_id", ev.ID,
			"collection", ev.Collection,
			"error", err,
		)
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}
	_ = msg.Ack(false)
}

// Stop stops consuming and waits for the handler to return.
func (s *Subscriber) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
}
