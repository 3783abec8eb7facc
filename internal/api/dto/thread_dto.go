package dto

import (
	"strings"
	"time"

	"github.com/spec-kit/student-support/internal/domain"
)

// CreateThreadRequest payload. Clients send either snake_case or camelCase field names.
type CreateThreadRequest struct {
	Title          string  `json:"title"`
	StudentRef     *string `json:"student_ref"`
	StudentID      *string `json:"studentId"`
	Department     *string `json:"department"`
	Topic          *string `json:"topic"`
	IssueType      *string `json:"issue_type"`
	IssueTypeCamel *string `json:"issueType"`
	Priority       string  `json:"priority"`
	Issue          string  `json:"issue"`
	Message        string  `json:"message"`
}

// Student returns the student reference under either field name.
func (r CreateThreadRequest) Student() *string {
	return firstPresent(r.StudentRef, r.StudentID)
}

// Type returns the issue type under either field name.
func (r CreateThreadRequest) Type() *string {
	return firstPresent(r.IssueType, r.IssueTypeCamel)
}

// IssueText returns the opening issue text, if any.
func (r CreateThreadRequest) IssueText() string {
	return firstText(r.Issue, r.Message)
}

// PostMessageRequest payload. The body may arrive as text, content or message.
type PostMessageRequest struct {
	Text    string `json:"text"`
	Content string `json:"content"`
	Message string `json:"message"`
}

// Body returns the first non-blank body field.
func (r PostMessageRequest) Body() string {
	return firstText(r.Text, r.Content, r.Message)
}

// AssignRequest payload.
type AssignRequest struct {
	Department      string `json:"department"`
	AssignedTo      string `json:"assigned_to"`
	AssignedToCamel string `json:"assignedTo"`
}

// Target returns the requested department.
func (r AssignRequest) Target() string {
	return firstText(r.Department, r.AssignedTo, r.AssignedToCamel)
}

// ResolveRequest payload.
type ResolveRequest struct {
	Response string `json:"response"`
	Text     string `json:"text"`
}

// Body returns the optional resolution text.
func (r ResolveRequest) Body() string {
	return firstText(r.Response, r.Text)
}

// UpdateThreadRequest payload for PATCH /threads/:id.
type UpdateThreadRequest struct {
	AssignedTo      *string `json:"assigned_to"`
	AssignedToCamel *string `json:"assignedTo"`
	Status          *string `json:"status"`
	Priority        *string `json:"priority"`
	Assignee        *string `json:"assignee"`
	Response        string  `json:"response"`
}

// Department returns the requested department under either field name, keeping an explicit empty value.
func (r UpdateThreadRequest) Department() *string {
	if r.AssignedTo != nil {
		return r.AssignedTo
	}
	return r.AssignedToCamel
}

// ThreadResponse is the wire shape of a thread.
type ThreadResponse struct {
	ID         string                `json:"id"`
	Title      string                `json:"title"`
	StudentRef *string               `json:"student_ref"`
	Department *string               `json:"department"`
	Topic      *string               `json:"topic"`
	IssueType  *string               `json:"issue_type"`
	AssignedTo *string               `json:"assigned_to"`
	Status     domain.ThreadStatus   `json:"status"`
	Priority   domain.ThreadPriority `json:"priority"`
	Assignee   *string               `json:"assignee"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// ThreadDetailResponse adds the timeline to a thread.
type ThreadDetailResponse struct {
	ThreadResponse
	Messages []MessageResponse `json:"messages"`
}

// MessageResponse represents one timeline entry.
type MessageResponse struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"thread_id"`
	Sender    domain.Role `json:"sender"`
	AuthorID  *string     `json:"author_id"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
}

// StatisticsResponse reports thread counts.
type StatisticsResponse struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	ByDepartment map[string]int `json:"by_department"`
}

// DepartmentResponse describes a department.
type DepartmentResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewThreadResponse maps a domain thread.
func NewThreadResponse(thread domain.Thread) ThreadResponse {
	return ThreadResponse{
		ID:         thread.ID,
		Title:      thread.Title,
		StudentRef: thread.StudentRef,
		Department: thread.Department,
		Topic:      thread.Topic,
		IssueType:  thread.IssueType,
		AssignedTo: thread.AssignedTo,
		Status:     thread.Status,
		Priority:   thread.Priority,
		Assignee:   thread.Assignee,
		CreatedAt:  thread.CreatedAt,
		UpdatedAt:  thread.UpdatedAt,
	}
}

// NewThreadDetailResponse maps a thread with its messages.
func NewThreadDetailResponse(thread domain.Thread, msgs []domain.Message) ThreadDetailResponse {
	return ThreadDetailResponse{ThreadResponse: NewThreadResponse(thread), Messages: NewMessageResponses(msgs)}
}

// NewMessageResponse maps a domain message.
func NewMessageResponse(msg domain.Message) MessageResponse {
	return MessageResponse{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Sender:    msg.Sender,
		AuthorID:  msg.AuthorID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
}

// NewMessageResponses maps a slice, never returning nil.
func NewMessageResponses(msgs []domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, NewMessageResponse(msg))
	}
	return out
}

// NewStatisticsResponse maps statistics.
func NewStatisticsResponse(stats domain.ThreadStatistics) StatisticsResponse {
	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[string(status)] = count
	}
	byDepartment := stats.ByDepartment
	if byDepartment == nil {
		byDepartment = map[string]int{}
	}
	return StatisticsResponse{Total: stats.Total, ByStatus: byStatus, ByDepartment: byDepartment}
}

// NewDepartmentResponse maps a department.
func NewDepartmentResponse(dept domain.Department) DepartmentResponse {
	return DepartmentResponse{ID: dept.ID, Name: dept.Name, Description: dept.Description, CreatedAt: dept.CreatedAt}
}

func firstText(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstPresent(values ...*string) *string {
	for _, value := range values {
		if value != nil && strings.TrimSpace(*value) != "" {
			return value
		}
	}
	return nil
}
