package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/events"
)

// RedisRelay shares thread events between API instances over Redis Pub/Sub so a client
// connected to any instance sees changes made through another.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	bus        *Bus
	logger     *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisRelay builds a relay. Events published by instanceID are not re-broadcast locally.
func NewRedisRelay(client *redis.Client, channel, instanceID string, bus *Bus, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		bus:        bus,
		logger:     logger,
	}
}

// Publish sends event to the other instances.
func (r *RedisRelay) Publish(ctx context.Context, event events.Event) error {
	event.Origin = r.instanceID
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode relay event: %w", err)
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Start subscribes to the relay channel and forwards remote events to the local bus
// until ctx is cancelled or Close is called.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.pubsub = pubsub
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.forward(msg.Payload)
			}
		}
	}()
	return nil
}

// Close stops the subscription and waits for the forwarding loop to exit.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}

func (r *RedisRelay) forward(payload string) {
	var event events.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logger.Warn("realtime relay dropped malformed event", zap.Error(err))
		return
	}
	if event.Origin == r.instanceID || event.ThreadID == "" {
		return
	}
	r.bus.Broadcast(event.ThreadID, event)
}
