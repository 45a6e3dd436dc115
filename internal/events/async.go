package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
)

// AsyncPublisher hands events to a worker pool so a slow broker never holds
// up a till operation. Delivery failures are logged, not returned.
type AsyncPublisher struct {
	next    Publisher
	pool    *ants.Pool
	logger  *slog.Logger
	timeout time.Duration
}

func NewAsyncPublisher(next Publisher, size int, logger *slog.Logger) (*AsyncPublisher, error) {
	if size < 1 {
		size = 4
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create event worker pool: %w", err)
	}
	return &AsyncPublisher{next: next, pool: pool, logger: logger, timeout: 10 * time.Second}, nil
}

// Publish queues the event. The request context is not reused because the
// delivery outlives the request.
func (p *AsyncPublisher) Publish(_ context.Context, event Event) error {
	err := p.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.next.Publish(ctx, event); err != nil {
			p.logger.Warn("event delivery failed", "type", event.Type, "entity_id", event.EntityID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("queue %s event: %w", event.Type, err)
	}
	return nil
}

// Close waits for queued deliveries, then closes the wrapped publisher.
func (p *AsyncPublisher) Close() error {
	if err := p.pool.ReleaseTimeout(p.timeout); err != nil {
		p.logger.Warn("event worker pool did not drain", "error", err)
	}
	return p.next.Close()
}
