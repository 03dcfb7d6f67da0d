// Package local provides an event publisher for running without AWS.
package local

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/domain/events"
)

// Publisher logs events and keeps the most recent ones in memory
type Publisher struct {
	logger *zap.Logger
	limit  int

	mu     sync.Mutex
	recent []events.DomainEvent
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher remembering up to limit events
func NewPublisher(logger *zap.Logger, limit int) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 100
	}
	return &Publisher{logger: logger, limit: limit}
}

func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return p.PublishBatch(ctx, []events.DomainEvent{event})
}

func (p *Publisher) PublishBatch(_ context.Context, batch []events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range batch {
		p.logger.Info("Domain event",
			zap.String("eventType", e.GetEventType()),
			zap.String("aggregateID", e.GetAggregateID()),
			zap.Time("timestamp", e.GetTimestamp()),
		)
		p.recent = append(p.recent, e)
	}
	if over := len(p.recent) - p.limit; over > 0 {
		p.recent = append([]events.DomainEvent(nil), p.recent[over:]...)
	}
	return nil
}

// Recent returns the retained events, oldest first
func (p *Publisher) Recent() []events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.DomainEvent(nil), p.recent...)
}
