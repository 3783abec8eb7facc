package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the capability class of an actor or message author.
type Role string

const (
	RoleStudent    Role = "student"
	RoleManager    Role = "manager"
	RoleDepartment Role = "department"
	RoleLeadership Role = "leadership"
	RoleSystem     Role = "system"
	RoleAssistant  Role = "assistant"
)

var roles = []Role{RoleStudent, RoleManager, RoleDepartment, RoleLeadership, RoleSystem, RoleAssistant}

// ParseRole rejects values outside the closed set.
func ParseRole(raw string) (Role, error) {
	candidate := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, role := range roles {
		if role == candidate {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// IsHuman reports whether the role belongs to an authenticated person rather than the platform.
func (r Role) IsHuman() bool {
	switch r {
	case RoleStudent, RoleManager, RoleDepartment, RoleLeadership:
		return true
	default:
		return false
	}
}

// Message is one immutable entry of a thread timeline.
type Message struct {
	ID       string
	ThreadID string
	Sender   Role
	// AuthorID is the user behind a human-authored message.
	AuthorID *string
	Text     string
	// Seq is the store-wide insertion sequence; timeline order is Seq order.
	Seq       uint64
	CreatedAt time.Time
}

// MessageDraft is a message not yet appended.
type MessageDraft struct {
	Sender   Role
	AuthorID *string
	Text     string
}
