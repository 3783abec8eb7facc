package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/student-support/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventThreadCreated   EventType = "thread_created"
	EventMessagePosted   EventType = "message_posted"
	EventThreadAssigned  EventType = "assignment"
	EventThreadEscalated EventType = "escalation"
	EventThreadResolved  EventType = "resolution"
	EventThreadUpdated   EventType = "status_changed"
)

// ThreadEventTypes lists every event a thread subscriber can receive.
var ThreadEventTypes = []EventType{
	EventThreadCreated,
	EventMessagePosted,
	EventThreadAssigned,
	EventThreadEscalated,
	EventThreadResolved,
	EventThreadUpdated,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Role   domain.Role `json:"role"`
	UserID *string     `json:"user_id,omitempty"`
}

// Event is a hint that a thread changed. Clients may always fall back to a full re-fetch.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	ThreadID  string        `json:"thread_id"`
	Actor     Actor         `json:"actor"`
	Timestamp time.Time     `json:"timestamp"`
	Payload   ThreadPayload `json:"payload"`
	// Origin identifies the process that published the event.
	Origin string `json:"origin,omitempty"`
}

// ThreadPayload carries enough of the new state for a client to refresh its local view.
type ThreadPayload struct {
	MessageID  string                `json:"message_id,omitempty"`
	MessageIDs []string              `json:"message_ids,omitempty"`
	SenderRole domain.Role           `json:"sender_role,omitempty"`
	Text       string                `json:"text,omitempty"`
	Status     domain.ThreadStatus   `json:"status"`
	Priority   domain.ThreadPriority `json:"priority,omitempty"`
	Department string                `json:"department,omitempty"`
}

// NewThreadEvent builds an event describing thread after a command, and the messages it appended.
func NewThreadEvent(eventType EventType, actor domain.Actor, thread domain.Thread, msgs []domain.Message, at time.Time) Event {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ThreadID:  thread.ID,
		Actor:     Actor{Role: actor.Role, UserID: domain.StringPtr(actor.UserID)},
		Timestamp: at,
		Payload: ThreadPayload{
			Status:     thread.Status,
			Priority:   thread.Priority,
			Department: thread.AssignedDepartment(),
		},
	}
	for _, msg := range msgs {
		event.Payload.MessageIDs = append(event.Payload.MessageIDs, msg.ID)
	}
	if len(msgs) > 0 {
		first := msgs[0]
		event.Payload.MessageID = first.ID
		event.Payload.SenderRole = first.Sender
		event.Payload.Text = first.Text
	}
	return event
}

// IsStudentMessage reports whether the event announces a student-authored message.
func (e Event) IsStudentMessage() bool {
	return e.Payload.MessageID != "" && e.Payload.SenderRole == domain.RoleStudent
}
