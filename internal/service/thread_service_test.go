package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/student-support/internal/config"
	"github.com/spec-kit/student-support/internal/domain"
	"github.com/spec-kit/student-support/internal/events"
	"github.com/spec-kit/student-support/internal/realtime"
	"github.com/spec-kit/student-support/internal/reply"
	"github.com/spec-kit/student-support/internal/store"
	"github.com/spec-kit/student-support/internal/worker"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

var (
	student    = domain.Actor{UserID: "s-1", Role: domain.RoleStudent}
	otherStud  = domain.Actor{UserID: "s-2", Role: domain.RoleStudent}
	manager    = domain.Actor{UserID: "m-1", Role: domain.RoleManager}
	leadership = domain.Actor{UserID: "l-1", Role: domain.RoleLeadership}
	finance    = domain.Actor{UserID: "d-1", Role: domain.RoleDepartment, Department: "Finance"}
	it         = domain.Actor{UserID: "d-2", Role: domain.RoleDepartment, Department: "IT"}
)

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

func newService(t *testing.T) (*ThreadService, *store.ThreadStore, events.Dispatcher, *eventRecorder) {
	t.Helper()
	s := store.New()
	dispatcher := events.NewInMemoryDispatcher(nil)
	recorder := &eventRecorder{}
	events.SubscribeAll(dispatcher, recorder.handle)
	svc := NewThreadService(ThreadDependencies{Store: s, Dispatcher: dispatcher})
	return svc, s, dispatcher, recorder
}

func assignRaw(t *testing.T, s *store.ThreadStore, threadID, department string) {
	t.Helper()
	assigned := domain.ThreadStatusAssigned
	_, err := s.Transition(context.Background(), threadID, domain.ThreadUpdate{Status: &assigned, AssignedTo: domain.StringPtr(department)})
	require.NoError(t, err)
}

func TestHelpResponseResolveScenario(t *testing.T) {
	ctx := context.Background()
	svc, s, _, _ := newService(t)

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "X"})
	require.NoError(t, err)
	assert.Equal(t, "X", thread.Title)
	assert.Equal(t, domain.ThreadPriorityNormal, thread.Priority)

	_, err = svc.PostMessage(ctx, student, thread.ID, "help")
	require.NoError(t, err)

	assignRaw(t, s, thread.ID, "Finance")

	resolved, _, err := svc.ResolveThread(ctx, finance, thread.ID, "response")
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusResolved, resolved.Status)

	msgs, err := svc.ListMessages(ctx, student, thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleStudent, msgs[0].Sender)
	assert.Equal(t, "help", msgs[0].Text)
	assert.Equal(t, domain.RoleDepartment, msgs[1].Sender)
	assert.Equal(t, "response", msgs[1].Text)
	assert.Equal(t, domain.RoleSystem, msgs[2].Sender)

	got, err := svc.GetThread(ctx, manager, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusResolved, got.Status)
}

func TestUnknownThreadIsNotFoundForEveryRole(t *testing.T) {
	ctx := context.Background()
	svc, _, _, recorder := newService(t)

	for _, actor := range []domain.Actor{student, manager, leadership, finance} {
		_, err := svc.GetThread(ctx, actor, "missing")
		assert.True(t, apperrors.IsNotFound(err), "get as %s", actor.Role)

		_, err = svc.ListMessages(ctx, actor, "missing")
		assert.True(t, apperrors.IsNotFound(err), "list as %s", actor.Role)

		_, err = svc.PostMessage(ctx, actor, "missing", "hello")
		assert.True(t, apperrors.IsNotFound(err), "post as %s", actor.Role)

		_, err = svc.EscalateThread(ctx, actor, "missing")
		assert.True(t, apperrors.IsNotFound(err), "escalate as %s", actor.Role)

		_, _, err = svc.ResolveThread(ctx, actor, "missing", "")
		assert.True(t, apperrors.IsNotFound(err), "resolve as %s", actor.Role)

		_, err = svc.AssignThread(ctx, actor, "missing", "Finance")
		assert.True(t, apperrors.IsNotFound(err), "assign as %s", actor.Role)

		status := domain.ThreadStatusEscalated
		_, _, err = svc.UpdateThread(ctx, actor, "missing", UpdateThreadInput{Status: &status})
		assert.True(t, apperrors.IsNotFound(err), "update as %s", actor.Role)
	}
	assert.Empty(t, recorder.types())
}

func TestDeniedActionsAreDistinctFromNotFound(t *testing.T) {
	ctx := context.Background()
	svc, s, _, recorder := newService(t)

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Dorm"})
	require.NoError(t, err)
	assignRaw(t, s, thread.ID, "Finance")
	before := len(recorder.types())

	_, err = svc.PostMessage(ctx, otherStud, thread.ID, "let me in")
	assert.True(t, apperrors.IsAccessDenied(err))
	assert.False(t, apperrors.IsNotFound(err))

	_, err = svc.PostMessage(ctx, it, thread.ID, "not ours")
	assert.True(t, apperrors.IsAccessDenied(err))

	_, _, err = svc.ResolveThread(ctx, it, thread.ID, "done")
	assert.True(t, apperrors.IsAccessDenied(err))

	_, err = svc.AssignThread(ctx, finance, thread.ID, "IT")
	assert.True(t, apperrors.IsAccessDenied(err))

	_, err = svc.EscalateThread(ctx, student, thread.ID)
	assert.True(t, apperrors.IsAccessDenied(err))

	_, err = svc.Statistics(ctx, finance)
	assert.True(t, apperrors.IsAccessDenied(err))

	msgs, err := s.ListMessages(ctx, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Len(t, recorder.types(), before)

	_, _, err = svc.CreateThread(ctx, student, CreateThreadInput{StudentRef: domain.StringPtr("s-2")})
	assert.True(t, apperrors.IsAccessDenied(err))
}

func TestListThreadsIsScopedByRole(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newService(t)

	mine, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Mine"})
	require.NoError(t, err)
	_, _, err = svc.CreateThread(ctx, otherStud, CreateThreadInput{Title: "Theirs"})
	require.NoError(t, err)
	onBehalf, _, err := svc.CreateThread(ctx, manager, CreateThreadInput{Title: "Filed by manager", StudentRef: domain.StringPtr("s-1")})
	require.NoError(t, err)

	_, err = svc.AssignThread(ctx, manager, mine.ID, "Finance")
	require.NoError(t, err)

	studentView, err := svc.ListThreads(ctx, student, ListThreadsInput{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{mine.ID, onBehalf.ID}, threadIDs(studentView))

	financeView, err := svc.ListThreads(ctx, finance, ListThreadsInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, threadIDs(financeView))

	itView, err := svc.ListThreads(ctx, it, ListThreadsInput{})
	require.NoError(t, err)
	assert.Empty(t, itView)

	all, err := svc.ListThreads(ctx, leadership, ListThreadsInput{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assigned := domain.ThreadStatusAssigned
	filtered, err := svc.ListThreads(ctx, manager, ListThreadsInput{Status: &assigned})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, threadIDs(filtered))

	stats, err := svc.Statistics(ctx, leadership)
	require.NoError(t, err)
	assert.Equal(t, len(all), stats.Total)
	assert.Equal(t, 1, stats.ByDepartment["Finance"])
}

func threadIDs(threads []domain.Thread) []string {
	out := make([]string, 0, len(threads))
	for _, thread := range threads {
		out = append(out, thread.ID)
	}
	return out
}

func TestCreateThreadWithIssueAndDefaults(t *testing.T) {
	ctx := context.Background()
	svc, _, _, recorder := newService(t)

	thread, msgs, err := svc.CreateThread(ctx, student, CreateThreadInput{Issue: "  My tuition was charged twice  "})
	require.NoError(t, err)
	assert.Equal(t, DefaultThreadTitle, thread.Title)
	assert.Equal(t, domain.ThreadStatusPending, thread.Status)
	assert.True(t, thread.OwnedBy("s-1"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "My tuition was charged twice", msgs[0].Text)
	assert.Equal(t, domain.RoleStudent, msgs[0].Sender)

	triaged, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Exam", Department: domain.StringPtr("Academic")})
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusNew, triaged.Status)

	assert.Equal(t, []events.EventType{events.EventThreadCreated, events.EventThreadCreated}, recorder.types())
}

func TestAssignAutoProvisionsDepartmentAndAudits(t *testing.T) {
	ctx := context.Background()
	svc, s, _, recorder := newService(t)

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Housing"})
	require.NoError(t, err)

	assigned, err := svc.AssignThread(ctx, manager, thread.ID, "Housing Office")
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusAssigned, assigned.Status)
	assert.Equal(t, "Housing Office", assigned.AssignedDepartment())

	departments := NewDepartmentService(s, nil)
	depts, err := departments.ListDepartments(ctx, manager)
	require.NoError(t, err)
	require.Len(t, depts, 1)
	assert.Equal(t, "Housing Office", depts[0].Name)

	_, err = svc.AssignThread(ctx, manager, thread.ID, "housing office")
	require.NoError(t, err)
	depts, err = departments.ListDepartments(ctx, manager)
	require.NoError(t, err)
	assert.Len(t, depts, 1)

	msgs, err := svc.ListMessages(ctx, manager, thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleSystem, msgs[0].Sender)
	assert.Contains(t, msgs[0].Text, "Housing Office")

	assert.Equal(t, []events.EventType{events.EventThreadCreated, events.EventThreadAssigned, events.EventThreadAssigned}, recorder.types())
}

func TestEscalateLeavesOtherFieldsAlone(t *testing.T) {
	ctx := context.Background()
	svc, s, _, _ := newService(t)

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Grades"})
	require.NoError(t, err)
	assignRaw(t, s, thread.ID, "Finance")

	escalated, err := svc.EscalateThread(ctx, finance, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusEscalated, escalated.Status)
	assert.Equal(t, "Finance", escalated.AssignedDepartment())
	assert.Equal(t, thread.Priority, escalated.Priority)

	msgs, err := s.ListMessages(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleSystem, msgs[0].Sender)
}

func TestUpdateThreadRules(t *testing.T) {
	ctx := context.Background()
	svc, s, _, recorder := newService(t)

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Library fine"})
	require.NoError(t, err)

	_, _, err = svc.UpdateThread(ctx, manager, thread.ID, UpdateThreadInput{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))

	pending := domain.ThreadStatusPending
	_, _, err = svc.UpdateThread(ctx, manager, thread.ID, UpdateThreadInput{AssignedTo: domain.StringPtr("Library"), Status: &pending})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))

	updated, msgs, err := svc.UpdateThread(ctx, manager, thread.ID, UpdateThreadInput{AssignedTo: domain.StringPtr("Library")})
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusAssigned, updated.Status)
	assert.Equal(t, "Library", updated.AssignedDepartment())
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleSystem, msgs[0].Sender)

	library := domain.Actor{UserID: "d-9", Role: domain.RoleDepartment, Department: "Library"}
	_, _, err = svc.UpdateThread(ctx, library, thread.ID, UpdateThreadInput{AssignedTo: domain.StringPtr("Finance")})
	assert.True(t, apperrors.IsAccessDenied(err))

	inProgress := domain.ThreadStatusInProgress
	high := domain.ThreadPriorityHigh
	updated, msgs, err = svc.UpdateThread(ctx, library, thread.ID, UpdateThreadInput{Status: &inProgress, Priority: &high, Response: "Looking into it"})
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusInProgress, updated.Status)
	assert.Equal(t, domain.ThreadPriorityHigh, updated.Priority)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleDepartment, msgs[0].Sender)
	assert.Equal(t, domain.RoleSystem, msgs[1].Sender)

	before := len(recorder.types())
	unchanged, msgs, err := svc.UpdateThread(ctx, library, thread.ID, UpdateThreadInput{Status: &inProgress})
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, updated.UpdatedAt, unchanged.UpdatedAt)
	assert.Len(t, recorder.types(), before)

	resolved := domain.ThreadStatusResolved
	_, _, err = svc.UpdateThread(ctx, leadership, thread.ID, UpdateThreadInput{Status: &resolved})
	require.NoError(t, err)
	types := recorder.types()
	assert.Equal(t, events.EventThreadResolved, types[len(types)-1])

	all, err := s.ListMessages(ctx, thread.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestUpdateWithCurrentDepartmentKeepsStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, _, recorder := newService(t)

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Transcript"})
	require.NoError(t, err)
	_, err = svc.AssignThread(ctx, manager, thread.ID, "Registrar")
	require.NoError(t, err)
	inProgress := domain.ThreadStatusInProgress
	_, _, err = svc.UpdateThread(ctx, manager, thread.ID, UpdateThreadInput{Status: &inProgress})
	require.NoError(t, err)

	before := len(recorder.types())
	for _, name := range []string{"Registrar", "registrar"} {
		updated, msgs, err := svc.UpdateThread(ctx, manager, thread.ID, UpdateThreadInput{AssignedTo: domain.StringPtr(name)})
		require.NoError(t, err)
		assert.Equal(t, domain.ThreadStatusInProgress, updated.Status)
		assert.Equal(t, "Registrar", updated.AssignedDepartment())
		assert.Empty(t, msgs)
	}
	assert.Len(t, recorder.types(), before)

	moved, _, err := svc.UpdateThread(ctx, manager, thread.ID, UpdateThreadInput{AssignedTo: domain.StringPtr("Finance")})
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusAssigned, moved.Status)
}

func TestDepartmentNamesMatchRegardlessOfCase(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newService(t)
	registrar := domain.Actor{UserID: "d-7", Role: domain.RoleDepartment, Department: "Registrar"}

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Transcript"})
	require.NoError(t, err)
	_, err = svc.AssignThread(ctx, manager, thread.ID, "registrar")
	require.NoError(t, err)
	assigned, err := svc.AssignThread(ctx, manager, thread.ID, "Registrar")
	require.NoError(t, err)
	assert.Equal(t, "registrar", assigned.AssignedDepartment())

	_, err = svc.PostMessage(ctx, registrar, thread.ID, "We are on it")
	require.NoError(t, err)
	_, err = svc.GetThread(ctx, registrar, thread.ID)
	require.NoError(t, err)

	list, err := svc.ListThreads(ctx, registrar, ListThreadsInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{thread.ID}, threadIDs(list))

	resolved, _, err := svc.ResolveThread(ctx, registrar, thread.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusResolved, resolved.Status)
}

func TestPostAutomatedMessageRejectsHumanSenders(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newService(t)
	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Visa"})
	require.NoError(t, err)

	_, err = svc.PostAutomatedMessage(ctx, thread.ID, domain.RoleManager, "impersonation")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))

	msg, err := svc.PostAutomatedMessage(ctx, thread.ID, domain.RoleAssistant, "ack")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAssistant, msg.Sender)
	assert.Nil(t, msg.AuthorID)
}

func TestEventsArePublishedOutsideTheStoreLock(t *testing.T) {
	ctx := context.Background()
	svc, s, dispatcher, _ := newService(t)

	var observed []domain.ThreadStatus
	dispatcher.Subscribe(events.EventThreadEscalated, func(ctx context.Context, event events.Event) error {
		thread, err := s.GetThread(ctx, event.ThreadID)
		if err != nil {
			return err
		}
		observed = append(observed, thread.Status)
		return nil
	})

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Parking"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.EscalateThread(ctx, manager, thread.ID)
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("escalation deadlocked while publishing")
	}
	assert.Equal(t, []domain.ThreadStatus{domain.ThreadStatusEscalated}, observed)
}

func receive(t *testing.T, conn *realtime.Connection) events.Event {
	t.Helper()
	select {
	case event, ok := <-conn.Events():
		require.True(t, ok)
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestStudentMessageFansOutOncePerSubscriber(t *testing.T) {
	ctx := context.Background()
	svc, _, dispatcher, _ := newService(t)
	registry := realtime.NewRegistry(8, nil)
	realtime.NewBus(registry, nil, nil).Register(dispatcher)

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Wifi"})
	require.NoError(t, err)

	phone := registry.Connect("s-1")
	laptop := registry.Connect("s-1")
	gone := registry.Connect("m-1")
	for _, conn := range []*realtime.Connection{phone, laptop, gone} {
		require.NoError(t, registry.Subscribe(conn.ID(), thread.ID))
	}
	registry.Disconnect(gone.ID())

	msg, err := svc.PostMessage(ctx, student, thread.ID, "hi")
	require.NoError(t, err)

	for _, conn := range []*realtime.Connection{phone, laptop} {
		event := receive(t, conn)
		assert.Equal(t, events.EventMessagePosted, event.Type)
		assert.Equal(t, msg.ID, event.Payload.MessageID)
		select {
		case extra := <-conn.Events():
			t.Fatalf("unexpected extra event %s", extra.Type)
		default:
		}
	}
	_, open := <-gone.Events()
	assert.False(t, open)
}

func TestUnconfiguredReplyYieldsOneAssistantMessage(t *testing.T) {
	ctx := context.Background()
	svc, s, dispatcher, _ := newService(t)

	w := worker.NewRoutingWorker(worker.Dependencies{
		Threads:   s,
		Poster:    svc,
		Generator: reply.NewGenerator(config.ReplyConfig{}, nil),
		Config:    config.RoutingConfig{QueueSize: 4, AckText: "received", FallbackText: "fallback"},
	})
	w.Register(dispatcher)
	w.Start(ctx)
	t.Cleanup(w.Stop)

	thread, _, err := svc.CreateThread(ctx, student, CreateThreadInput{Title: "Canteen"})
	require.NoError(t, err)
	_, err = svc.PostMessage(ctx, student, thread.ID, "the canteen is closed")
	require.NoError(t, err)

	countAssistant := func() int {
		msgs, err := s.ListMessages(ctx, thread.ID)
		if err != nil {
			return -1
		}
		n := 0
		for _, msg := range msgs {
			if msg.Sender == domain.RoleAssistant {
				n++
			}
		}
		return n
	}
	require.Eventually(t, func() bool { return countAssistant() == 1 }, time.Second, 10*time.Millisecond)

	// the assistant reply must not trigger another round
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, countAssistant())
	msgs, err := s.ListMessages(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "received", msgs[len(msgs)-1].Text)
}
