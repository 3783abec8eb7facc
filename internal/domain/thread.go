package domain

import (
	"fmt"
	"strings"
	"time"
)

// ThreadStatus enumerates lifecycle states for support threads.
type ThreadStatus string

const (
	ThreadStatusNew        ThreadStatus = "new"
	ThreadStatusPending    ThreadStatus = "pending"
	ThreadStatusAssigned   ThreadStatus = "assigned"
	ThreadStatusInProgress ThreadStatus = "in_progress"
	ThreadStatusResolved   ThreadStatus = "resolved"
	ThreadStatusEscalated  ThreadStatus = "escalated"
)

// ThreadStatuses lists every status in lifecycle order.
var ThreadStatuses = []ThreadStatus{
	ThreadStatusNew,
	ThreadStatusPending,
	ThreadStatusAssigned,
	ThreadStatusInProgress,
	ThreadStatusResolved,
	ThreadStatusEscalated,
}

// ParseThreadStatus rejects values outside the closed set.
func ParseThreadStatus(raw string) (ThreadStatus, error) {
	candidate := ThreadStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range ThreadStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown thread status %q", raw)
}

// ThreadPriority enumerates urgency levels.
type ThreadPriority string

const (
	ThreadPriorityLow    ThreadPriority = "low"
	ThreadPriorityMedium ThreadPriority = "medium"
	ThreadPriorityNormal ThreadPriority = "normal"
	ThreadPriorityHigh   ThreadPriority = "high"
	ThreadPriorityUrgent ThreadPriority = "urgent"
)

var threadPriorities = []ThreadPriority{
	ThreadPriorityLow,
	ThreadPriorityMedium,
	ThreadPriorityNormal,
	ThreadPriorityHigh,
	ThreadPriorityUrgent,
}

// ParseThreadPriority rejects values outside the closed set.
func ParseThreadPriority(raw string) (ThreadPriority, error) {
	candidate := ThreadPriority(strings.ToLower(strings.TrimSpace(raw)))
	for _, priority := range threadPriorities {
		if priority == candidate {
			return priority, nil
		}
	}
	return "", fmt.Errorf("unknown thread priority %q", raw)
}

// Thread is a single student support case.
type Thread struct {
	ID         string
	Title      string
	StudentRef *string
	Department *string
	Topic      *string
	IssueType  *string
	AssignedTo *string
	Status     ThreadStatus
	Priority   ThreadPriority
	Assignee   *string
	// Seq orders threads created within the same timestamp.
	Seq       uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssignedDepartment returns the assigned department name or "".
func (t *Thread) AssignedDepartment() string {
	if t == nil || t.AssignedTo == nil {
		return ""
	}
	return *t.AssignedTo
}

// OwnedBy reports whether the thread was raised by the given student.
func (t *Thread) OwnedBy(studentRef string) bool {
	return t != nil && t.StudentRef != nil && studentRef != "" && *t.StudentRef == studentRef
}

// ThreadUpdate carries the optional fields of a raw transition; nil fields are left unchanged.
type ThreadUpdate struct {
	AssignedTo *string
	Status     *ThreadStatus
	Priority   *ThreadPriority
	Assignee   *string
}

// IsEmpty reports whether the update touches no field.
func (u ThreadUpdate) IsEmpty() bool {
	return u.AssignedTo == nil && u.Status == nil && u.Priority == nil && u.Assignee == nil
}

// Apply copies the provided fields onto thread.
func (u ThreadUpdate) Apply(thread *Thread) {
	if u.AssignedTo != nil {
		value := *u.AssignedTo
		thread.AssignedTo = &value
	}
	if u.Status != nil {
		thread.Status = *u.Status
	}
	if u.Priority != nil {
		thread.Priority = *u.Priority
	}
	if u.Assignee != nil {
		value := *u.Assignee
		thread.Assignee = &value
	}
}

// Clone returns a deep copy so callers never share pointers with the store.
func (t Thread) Clone() Thread {
	out := t
	out.StudentRef = cloneString(t.StudentRef)
	out.Department = cloneString(t.Department)
	out.Topic = cloneString(t.Topic)
	out.IssueType = cloneString(t.IssueType)
	out.AssignedTo = cloneString(t.AssignedTo)
	out.Assignee = cloneString(t.Assignee)
	return out
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

// StringPtr returns a pointer to a trimmed copy of value, or nil when empty.
func StringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// ThreadStatistics summarizes the thread set at one instant.
type ThreadStatistics struct {
	Total        int
	ByStatus     map[ThreadStatus]int
	ByDepartment map[string]int
}
