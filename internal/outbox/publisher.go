package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cinetick/movie-bookings/internal/adapters/crdb"
	"github.com/cinetick/movie-bookings/internal/adapters/rabbit"
	"github.com/cinetick/movie-bookings/internal/observability"
)

// Publisher drains NEW outbox rows to the bookings exchange. Rows stay
// NEW on publish failure and are picked up on the next tick.
type Publisher struct {
	store     *crdb.Store
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(store *crdb.Store, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{store: store, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.store.GetUnpublishedOutbox(ctx, 50)
	if err != nil {
		p.logger.Error("failed to read outbox", err)
		return
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.Error("failed to publish outbox record", err)
			continue
		}
		if err := p.store.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
			p.logger.Error("failed to mark outbox record published", err)
		}
	}

	lag, err := p.store.OldestUnpublishedAge(ctx, time.Now().UTC())
	if err == nil {
		observability.OutboxLag.Set(lag.Seconds())
	}
}
