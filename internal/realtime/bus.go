package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/events"
	"github.com/spec-kit/student-support/internal/observability"
)

// Relay forwards locally published events to other instances.
type Relay interface {
	Publish(ctx context.Context, event events.Event) error
}

// Bus fans thread events out to subscribed connections. Delivery is best effort:
// a connection whose buffer is full misses that event and nobody waits on it.
type Bus struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *observability.Metrics
	relay    Relay
}

// NewBus creates a bus over registry.
func NewBus(registry *Registry, logger *zap.Logger, metrics *observability.Metrics) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{registry: registry, logger: logger, metrics: metrics}
}

// SetRelay enables cross-instance forwarding.
func (b *Bus) SetRelay(relay Relay) {
	b.relay = relay
}

// Broadcast delivers event to every connection currently subscribed to threadID and
// returns how many accepted it.
func (b *Bus) Broadcast(threadID string, event events.Event) int {
	delivered := 0
	for _, conn := range b.registry.Subscribers(threadID) {
		if conn.deliver(event) {
			delivered++
			b.metrics.RecordDelivery(observability.DeliveryDelivered)
			continue
		}
		b.metrics.RecordDelivery(observability.DeliveryDropped)
		b.logger.Debug("realtime delivery dropped",
			zap.String("thread_id", threadID),
			zap.String("connection_id", conn.ID()),
			zap.String("event_type", string(event.Type)))
	}
	return delivered
}

// HandleEvent is the dispatcher subscriber: local fan-out first, then the relay.
func (b *Bus) HandleEvent(ctx context.Context, event events.Event) error {
	b.Broadcast(event.ThreadID, event)
	if b.relay == nil {
		return nil
	}
	if err := b.relay.Publish(ctx, event); err != nil {
		b.logger.Warn("realtime relay publish failed", zap.String("thread_id", event.ThreadID), zap.Error(err))
	}
	return nil
}

// Register subscribes the bus to every thread event on dispatcher.
func (b *Bus) Register(dispatcher events.Dispatcher) {
	events.SubscribeAll(dispatcher, b.HandleEvent)
}
