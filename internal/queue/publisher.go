package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ntauth/fracrank/internal/domain"
)

// Publisher sends reorder events to the exchange.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

var _ domain.EventPublisher = (*Publisher)(nil)

// NewPublisher returns a publisher on conn.
func NewPublisher(conn *Connection) *Publisher {
	return &Publisher{conn: conn, logger: conn.logger}
}

// Publish sends ev, routed by its collection.
func (p *Publisher) Publish(ctx context.Context, ev domain.ReorderEvent) error {
	if err := p.conn.PublishJSON(ctx, ev.Collection, ev); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}

	p.logger.Debug("published reorder event",
		"event_id", ev.ID,
		"type", string(ev.Type),
		"collection", ev.Collection,
		"item", ev.ItemID,
	)
	return nil
}
