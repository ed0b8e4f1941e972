// Package queue carries reorder events between processes over RabbitMQ.
// Every process publishes to one fanout exchange; each subscriber gets its
// own exclusive queue, so every running instance sees every event.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the fanout exchange reorder events are published to.
const ExchangeName = "fracrank.reorders"

var errNotConnected = errors.New("queue: not connected")

const (
	maxReconnectAttempts = 10
	maxBackoff           = 30 * time.Second
)

// Connection owns one AMQP connection and channel and redials them when the
// broker drops the connection.
type Connection struct {
	url    string
	logger *slog.Logger
	done   chan struct{}

	mu         sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	closed     bool
	reconnects int
}

// NewConnection dials rawURL and declares the exchange.
func NewConnection(rawURL string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:    rawURL,
		logger: logger.With("component", "queue"),
		done:   make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errNotConnected
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", sanitizeURL(c.url), err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		ExchangeName,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", ExchangeName, err)
	}

	c.conn, c.channel = conn, ch
	go c.watch(conn)

	c.logger.Info("connected to broker", "url", sanitizeURL(c.url))
	return nil
}

// backoff returns the wait before reconnect attempt i (0-based).
func backoff(i int) time.Duration {
	if i >= 5 {
		return maxBackoff
	}
	return min(time.Duration(1<<i)*time.Second, maxBackoff)
}

// watch waits for conn to close and redials with backoff until it succeeds,
// gives up, or the Connection is closed.
func (c *Connection) watch(conn *amqp.Connection) {
	amqpErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || amqpErr == nil {
		// closed on purpose
		return
	}
	c.logger.Warn("broker connection lost", "error", amqpErr)

	for attempt := range maxReconnectAttempts {
		select {
		case <-c.done:
			return
		case <-time.After(backoff(attempt)):
		}

		c.mu.Lock()
		c.reconnects++
		total := c.reconnects
		c.mu.Unlock()

		if err := c.connect(); err != nil {
			c.logger.Error("reconnect failed", "attempt", attempt+1, "total_reconnects", total, "error", err)
			continue
		}
		c.logger.Info("reconnected to broker", "attempts", attempt+1)
		return
	}
	c.logger.Error("giving up on broker", "attempts", maxReconnectAttempts)
}

// Channel returns the current channel.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection and stops reconnecting. It is safe to call
// more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes data as a persistent JSON message to the exchange.
func (c *Connection) PublishJSON(ctx context.Context, routingKey string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	ch := c.Channel()
	if ch == nil || ch.IsClosed() {
		return errNotConnected
	}
	return ch.PublishWithContext(
		ctx,
		ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// sanitizeURL hides the password of an AMQP URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	return u.Redacted()
}
