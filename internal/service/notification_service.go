package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/events"
)

// NotificationService writes an audit log line for every thread event.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventThreadCreated, n.handleThreadCreated)
	n.dispatcher.Subscribe(events.EventMessagePosted, n.handleMessagePosted)
	n.dispatcher.Subscribe(events.EventThreadAssigned, n.handleStateChange)
	n.dispatcher.Subscribe(events.EventThreadEscalated, n.handleStateChange)
	n.dispatcher.Subscribe(events.EventThreadResolved, n.handleStateChange)
	n.dispatcher.Subscribe(events.EventThreadUpdated, n.handleStateChange)
}

func (n *NotificationService) handleThreadCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("ThreadCreated",
		zap.String("thread_id", event.ThreadID),
		zap.String("actor_role", string(event.Actor.Role)),
		zap.String("status", string(event.Payload.Status)))
	return nil
}

func (n *NotificationService) handleMessagePosted(ctx context.Context, event events.Event) error {
	n.logger.Debug("MessagePosted",
		zap.String("thread_id", event.ThreadID),
		zap.String("message_id", event.Payload.MessageID),
		zap.String("sender_role", string(event.Payload.SenderRole)))
	return nil
}

func (n *NotificationService) handleStateChange(ctx context.Context, event events.Event) error {
	n.logger.Info("ThreadStateChanged",
		zap.String("event_type", string(event.Type)),
		zap.String("thread_id", event.ThreadID),
		zap.String("actor_role", string(event.Actor.Role)),
		zap.String("status", string(event.Payload.Status)),
		zap.String("department", event.Payload.Department))
	return nil
}
