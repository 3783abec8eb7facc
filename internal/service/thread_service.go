package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/domain"
	"github.com/spec-kit/student-support/internal/events"
	"github.com/spec-kit/student-support/internal/policy"
	"github.com/spec-kit/student-support/internal/store"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

// DefaultThreadTitle is used when a thread is created without a title.
const DefaultThreadTitle = "Student support conversation"

// ThreadService coordinates thread workflows: authorize, mutate the store, then announce.
type ThreadService struct {
	store      *store.ThreadStore
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// ThreadDependencies bundles collaborators for the thread service.
type ThreadDependencies struct {
	Store      *store.ThreadStore
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// CreateThreadInput describes a new thread. Issue, when set, becomes the first student message.
type CreateThreadInput struct {
	Title      string
	StudentRef *string
	Department *string
	Topic      *string
	IssueType  *string
	Priority   *domain.ThreadPriority
	Issue      string
}

// UpdateThreadInput carries the optional fields of a generic update. Response is appended
// as a message authored by the acting role.
type UpdateThreadInput struct {
	AssignedTo *string
	Status     *domain.ThreadStatus
	Priority   *domain.ThreadPriority
	Assignee   *string
	Response   string
}

// ListThreadsInput narrows a thread listing within the caller's scope.
type ListThreadsInput struct {
	Status *domain.ThreadStatus
	Limit  int
	Offset int
}

// NewThreadService constructs the service.
func NewThreadService(deps ThreadDependencies) *ThreadService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadService{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateThread opens a thread. Students always open threads for themselves.
func (s *ThreadService) CreateThread(ctx context.Context, actor domain.Actor, input CreateThreadInput) (domain.Thread, []domain.Message, error) {
	studentRef := input.StudentRef
	if actor.Role == domain.RoleStudent && studentRef == nil {
		studentRef = domain.StringPtr(actor.UserID)
	}
	if err := policy.Authorize(actor, policy.ActionCreateThread, &domain.Thread{StudentRef: studentRef}); err != nil {
		return domain.Thread{}, nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = DefaultThreadTitle
	}
	// a thread with a chosen department has been triaged
	status := domain.ThreadStatusPending
	if input.Department != nil {
		status = domain.ThreadStatusNew
	}
	priority := domain.ThreadPriorityNormal
	if input.Priority != nil {
		priority = *input.Priority
	}

	var drafts []domain.MessageDraft
	if issue := strings.TrimSpace(input.Issue); issue != "" {
		drafts = append(drafts, domain.MessageDraft{
			Sender:   domain.RoleStudent,
			AuthorID: domain.StringPtr(actor.UserID),
			Text:     issue,
		})
	}

	thread, msgs, err := s.store.CreateThreadWithMessages(ctx, store.CreateThreadInput{
		Title:      title,
		StudentRef: studentRef,
		Department: input.Department,
		Topic:      input.Topic,
		IssueType:  input.IssueType,
		Status:     status,
		Priority:   priority,
	}, drafts...)
	if err != nil {
		return domain.Thread{}, nil, err
	}

	s.publishEvent(ctx, events.EventThreadCreated, actor, thread, msgs)
	return thread, msgs, nil
}

// GetThread returns a thread the actor may view.
func (s *ThreadService) GetThread(ctx context.Context, actor domain.Actor, threadID string) (domain.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return domain.Thread{}, err
	}
	if err := policy.Authorize(actor, policy.ActionViewThread, &thread); err != nil {
		return domain.Thread{}, err
	}
	return thread, nil
}

// ListMessages returns the timeline of a thread the actor may view.
func (s *ThreadService) ListMessages(ctx context.Context, actor domain.Actor, threadID string) ([]domain.Message, error) {
	if _, err := s.GetThread(ctx, actor, threadID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, threadID)
}

// PostMessage appends a message authored by the actor's role.
func (s *ThreadService) PostMessage(ctx context.Context, actor domain.Actor, threadID, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, apperrors.NewValidationError("message text is required", map[string]any{"field": "text"})
	}

	thread, msgs, err := s.store.Mutate(ctx, threadID, func(current domain.Thread) (domain.ThreadUpdate, []domain.MessageDraft, error) {
		if err := policy.Authorize(actor, policy.ActionPostMessage, &current); err != nil {
			return domain.ThreadUpdate{}, nil, err
		}
		return domain.ThreadUpdate{}, []domain.MessageDraft{{
			Sender:   actor.Role,
			AuthorID: domain.StringPtr(actor.UserID),
			Text:     text,
		}}, nil
	})
	if err != nil {
		return domain.Message{}, err
	}

	s.publishEvent(ctx, events.EventMessagePosted, actor, thread, msgs)
	return msgs[0], nil
}

// PostAutomatedMessage appends a platform-authored message and announces it like any other.
func (s *ThreadService) PostAutomatedMessage(ctx context.Context, threadID string, sender domain.Role, text string) (domain.Message, error) {
	if sender.IsHuman() {
		return domain.Message{}, apperrors.NewValidationError("automated messages must be authored by system or assistant", map[string]any{"sender": string(sender)})
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, apperrors.NewValidationError("message text is required", map[string]any{"field": "text"})
	}

	thread, msgs, err := s.store.TransitionWithMessages(ctx, threadID, domain.ThreadUpdate{}, domain.MessageDraft{Sender: sender, Text: text})
	if err != nil {
		return domain.Message{}, err
	}

	s.publishEvent(ctx, events.EventMessagePosted, domain.Actor{Role: sender}, thread, msgs)
	return msgs[0], nil
}

// AssignThread routes a thread to a department, creating the department when it is unknown.
func (s *ThreadService) AssignThread(ctx context.Context, actor domain.Actor, threadID, department string) (domain.Thread, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		return domain.Thread{}, apperrors.NewValidationError("department is required", map[string]any{"field": "department"})
	}
	current, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return domain.Thread{}, err
	}
	if err := policy.Authorize(actor, policy.ActionAssign, &current); err != nil {
		return domain.Thread{}, err
	}
	dept, err := s.ensureDepartment(ctx, department)
	if err != nil {
		return domain.Thread{}, err
	}

	assigned := domain.ThreadStatusAssigned
	name := dept.Name
	thread, msgs, err := s.store.Mutate(ctx, threadID, func(current domain.Thread) (domain.ThreadUpdate, []domain.MessageDraft, error) {
		if err := policy.Authorize(actor, policy.ActionAssign, &current); err != nil {
			return domain.ThreadUpdate{}, nil, err
		}
		return domain.ThreadUpdate{AssignedTo: &name, Status: &assigned},
			[]domain.MessageDraft{systemMessage(fmt.Sprintf("Request routed to department %s.", name))}, nil
	})
	if err != nil {
		return domain.Thread{}, err
	}

	s.publishEvent(ctx, events.EventThreadAssigned, actor, thread, msgs)
	return thread, nil
}

// EscalateThread raises a thread for senior review.
func (s *ThreadService) EscalateThread(ctx context.Context, actor domain.Actor, threadID string) (domain.Thread, error) {
	escalated := domain.ThreadStatusEscalated
	thread, msgs, err := s.store.Mutate(ctx, threadID, func(current domain.Thread) (domain.ThreadUpdate, []domain.MessageDraft, error) {
		if err := policy.Authorize(actor, policy.ActionEscalate, &current); err != nil {
			return domain.ThreadUpdate{}, nil, err
		}
		return domain.ThreadUpdate{Status: &escalated},
			[]domain.MessageDraft{systemMessage("Request escalated for senior review.")}, nil
	})
	if err != nil {
		return domain.Thread{}, err
	}

	s.publishEvent(ctx, events.EventThreadEscalated, actor, thread, msgs)
	return thread, nil
}

// ResolveThread marks a thread resolved, appending the optional response before the audit entry.
func (s *ThreadService) ResolveThread(ctx context.Context, actor domain.Actor, threadID, response string) (domain.Thread, []domain.Message, error) {
	resolved := domain.ThreadStatusResolved
	response = strings.TrimSpace(response)
	thread, msgs, err := s.store.Mutate(ctx, threadID, func(current domain.Thread) (domain.ThreadUpdate, []domain.MessageDraft, error) {
		if err := policy.Authorize(actor, policy.ActionResolve, &current); err != nil {
			return domain.ThreadUpdate{}, nil, err
		}
		var drafts []domain.MessageDraft
		if response != "" {
			drafts = append(drafts, domain.MessageDraft{Sender: actor.Role, AuthorID: domain.StringPtr(actor.UserID), Text: response})
		}
		drafts = append(drafts, systemMessage(fmt.Sprintf("Request resolved by %s.", resolverName(actor))))
		return domain.ThreadUpdate{Status: &resolved}, drafts, nil
	})
	if err != nil {
		return domain.Thread{}, nil, err
	}

	s.publishEvent(ctx, events.EventThreadResolved, actor, thread, msgs)
	return thread, msgs, nil
}

// UpdateThread applies a generic update. Only managers may change the assigned department;
// moving a thread to another department without a status also moves it to assigned.
func (s *ThreadService) UpdateThread(ctx context.Context, actor domain.Actor, threadID string, input UpdateThreadInput) (domain.Thread, []domain.Message, error) {
	response := strings.TrimSpace(input.Response)
	update := domain.ThreadUpdate{
		AssignedTo: input.AssignedTo,
		Status:     input.Status,
		Priority:   input.Priority,
		Assignee:   input.Assignee,
	}
	if update.IsEmpty() && response == "" {
		return domain.Thread{}, nil, apperrors.NewValidationError("no fields to update", nil)
	}
	if err := validateUpdate(update); err != nil {
		return domain.Thread{}, nil, err
	}

	current, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return domain.Thread{}, nil, err
	}
	if err := policy.Authorize(actor, policy.ActionUpdate, &current); err != nil {
		return domain.Thread{}, nil, err
	}
	if update.AssignedTo != nil {
		if err := policy.Authorize(actor, policy.ActionReassign, &current); err != nil {
			return domain.Thread{}, nil, err
		}
		dept, err := s.ensureDepartment(ctx, *update.AssignedTo)
		if err != nil {
			return domain.Thread{}, nil, err
		}
		name := dept.Name
		update.AssignedTo = &name
	}

	var (
		before  domain.Thread
		changed []string
	)
	thread, msgs, err := s.store.Mutate(ctx, threadID, func(current domain.Thread) (domain.ThreadUpdate, []domain.MessageDraft, error) {
		if err := policy.Authorize(actor, policy.ActionUpdate, &current); err != nil {
			return domain.ThreadUpdate{}, nil, err
		}
		requested := update
		if requested.AssignedTo != nil && requested.Status == nil && !sameDepartment(current.AssignedDepartment(), *requested.AssignedTo) {
			assigned := domain.ThreadStatusAssigned
			requested.Status = &assigned
		}
		effective, summary := effectiveUpdate(current, requested)
		before, changed = current, summary

		var drafts []domain.MessageDraft
		if response != "" {
			drafts = append(drafts, domain.MessageDraft{Sender: actor.Role, AuthorID: domain.StringPtr(actor.UserID), Text: response})
		}
		if len(summary) > 0 {
			drafts = append(drafts, systemMessage(strings.Join(summary, " ")))
		}
		return effective, drafts, nil
	})
	if err != nil {
		return domain.Thread{}, nil, err
	}
	if len(msgs) == 0 {
		return thread, nil, nil
	}

	s.publishEvent(ctx, updateEventType(before, thread, changed), actor, thread, msgs)
	return thread, msgs, nil
}

// ListThreads returns the threads visible to the actor, newest first.
func (s *ThreadService) ListThreads(ctx context.Context, actor domain.Actor, input ListThreadsInput) ([]domain.Thread, error) {
	scope, err := policy.ListScope(actor)
	if err != nil {
		return nil, err
	}
	return s.store.ListThreads(ctx, store.ThreadFilter{
		StudentRef: scope.StudentRef,
		AssignedTo: scope.AssignedTo,
		Status:     input.Status,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
}

// Statistics returns status and department counts.
func (s *ThreadService) Statistics(ctx context.Context, actor domain.Actor) (domain.ThreadStatistics, error) {
	if err := policy.Authorize(actor, policy.ActionViewStatistics, nil); err != nil {
		return domain.ThreadStatistics{}, err
	}
	return s.store.Statistics(ctx)
}

func (s *ThreadService) ensureDepartment(ctx context.Context, name string) (domain.Department, error) {
	dept, created, err := s.store.EnsureDepartment(ctx, name, "Created on assignment")
	if err != nil {
		return domain.Department{}, err
	}
	if created {
		s.logger.Info("department auto-provisioned", zap.String("department", dept.Name), zap.String("department_id", dept.ID))
	}
	return dept, nil
}

// publishEvent runs after the store call returned, so no store lock is held while handlers fan out.
func (s *ThreadService) publishEvent(ctx context.Context, eventType events.EventType, actor domain.Actor, thread domain.Thread, msgs []domain.Message) {
	if s.dispatcher == nil {
		return
	}
	event := events.NewThreadEvent(eventType, actor, thread, msgs, s.now())
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish thread event failed", zap.String("thread_id", thread.ID), zap.Error(err))
	}
}

func validateUpdate(update domain.ThreadUpdate) error {
	if update.AssignedTo != nil && strings.TrimSpace(*update.AssignedTo) == "" {
		return apperrors.NewInvalidTransition("assigned department cannot be empty", map[string]any{"field": "assigned_to"})
	}
	if update.AssignedTo != nil && update.Status != nil {
		switch *update.Status {
		case domain.ThreadStatusNew, domain.ThreadStatusPending:
			return apperrors.NewInvalidTransition("an assigned thread cannot return to an untriaged status", map[string]any{
				"status": string(*update.Status),
			})
		}
	}
	return nil
}

// effectiveUpdate drops fields that would not change current and describes the rest.
func effectiveUpdate(current domain.Thread, update domain.ThreadUpdate) (domain.ThreadUpdate, []string) {
	var out domain.ThreadUpdate
	var summary []string
	if update.AssignedTo != nil && !sameDepartment(current.AssignedDepartment(), *update.AssignedTo) {
		out.AssignedTo = update.AssignedTo
		summary = append(summary, fmt.Sprintf("Request routed to department %s.", *update.AssignedTo))
	}
	if update.Status != nil && current.Status != *update.Status {
		out.Status = update.Status
		summary = append(summary, fmt.Sprintf("Status changed from %s to %s.", current.Status, *update.Status))
	}
	if update.Priority != nil && current.Priority != *update.Priority {
		out.Priority = update.Priority
		summary = append(summary, fmt.Sprintf("Priority changed from %s to %s.", current.Priority, *update.Priority))
	}
	if update.Assignee != nil && (current.Assignee == nil || *current.Assignee != *update.Assignee) {
		out.Assignee = update.Assignee
		summary = append(summary, fmt.Sprintf("Assignee set to %s.", *update.Assignee))
	}
	return out, summary
}

func updateEventType(before, after domain.Thread, changed []string) events.EventType {
	switch {
	case len(changed) == 0:
		return events.EventMessagePosted
	case after.Status != before.Status && after.Status == domain.ThreadStatusResolved:
		return events.EventThreadResolved
	case after.Status != before.Status && after.Status == domain.ThreadStatusEscalated:
		return events.EventThreadEscalated
	case !sameDepartment(after.AssignedDepartment(), before.AssignedDepartment()):
		return events.EventThreadAssigned
	default:
		return events.EventThreadUpdated
	}
}

func sameDepartment(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func systemMessage(text string) domain.MessageDraft {
	return domain.MessageDraft{Sender: domain.RoleSystem, Text: text}
}

func resolverName(actor domain.Actor) string {
	if actor.Role == domain.RoleDepartment && actor.Department != "" {
		return actor.Department
	}
	return string(actor.Role)
}
