package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/student-support/internal/domain"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

// Persister durably commits the records of one mutation. Commit must be all-or-nothing.
type Persister interface {
	Commit(ctx context.Context, changes domain.ChangeSet) error
}

// Loader returns previously committed state.
type Loader interface {
	Load(ctx context.Context) (domain.Snapshot, error)
}

// SharedPersister is a Persister whose records other store instances also write. With one
// configured the durable state is authoritative: reads go through to it and thread
// mutations are derived from the row-locked durable copy.
type SharedPersister interface {
	Persister
	Loader
	// LoadThread returns the thread and its timeline; found is false when it does not exist.
	LoadThread(ctx context.Context, threadID string) (thread domain.Thread, msgs []domain.Message, found bool, err error)
	// MutateThread locks the thread, hands its durable copy to change and commits the result.
	// Errors returned by change are passed through unwrapped.
	MutateThread(ctx context.Context, threadID string, change domain.LockedChange) (found bool, err error)
	// NextSeqs allocates n increasing sequence numbers.
	NextSeqs(ctx context.Context, n int) ([]uint64, error)
}

// ThreadFilter narrows ListThreads. Nil fields are unrestricted.
type ThreadFilter struct {
	StudentRef *string
	AssignedTo *string
	Status     *domain.ThreadStatus
	Limit      int
	Offset     int
}

// CreateThreadInput describes a new thread.
type CreateThreadInput struct {
	Title      string
	StudentRef *string
	Department *string
	Topic      *string
	IssueType  *string
	Status     domain.ThreadStatus
	Priority   domain.ThreadPriority
}

// ThreadStore owns canonical thread, message and department records.
// All mutations are serialized by one lock; durable writes happen inside it so the
// in-memory view never runs ahead of the persister. With a shared persister the
// in-memory view is a cache refreshed from the database on every read.
type ThreadStore struct {
	mu          sync.RWMutex
	threads     map[string]*domain.Thread
	messages    map[string][]domain.Message
	departments map[string]domain.Department
	seq         uint64

	persister Persister
	shared    SharedPersister
	now       func() time.Time
	newID     func() string
}

// Option configures a ThreadStore.
type Option func(*ThreadStore)

// WithPersister enables write-through persistence.
func WithPersister(p Persister) Option {
	return func(s *ThreadStore) {
		s.persister = p
	}
}

// WithSharedPersister enables persistence for a store that runs beside other instances
// over the same database.
func WithSharedPersister(p SharedPersister) Option {
	return func(s *ThreadStore) {
		s.persister = p
		s.shared = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ThreadStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *ThreadStore) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New builds an empty store.
func New(opts ...Option) *ThreadStore {
	s := &ThreadStore{
		threads:     make(map[string]*domain.Thread),
		messages:    make(map[string][]domain.Message),
		departments: make(map[string]domain.Department),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate replaces the in-memory state with a loaded snapshot.
func (s *ThreadStore) Hydrate(ctx context.Context, loader Loader) error {
	snapshot, err := loader.Load(ctx)
	if err != nil {
		return apperrors.NewCollaboratorUnavailable("persistence", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replace(snapshot)
	return nil
}

// sync reloads the cache when other instances may have written since the last read.
func (s *ThreadStore) sync(ctx context.Context) error {
	if s.shared == nil {
		return nil
	}
	return s.Hydrate(ctx, s.shared)
}

func (s *ThreadStore) replace(snapshot domain.Snapshot) {
	s.threads = make(map[string]*domain.Thread, len(snapshot.Threads))
	s.messages = make(map[string][]domain.Message, len(snapshot.Threads))
	s.departments = make(map[string]domain.Department, len(snapshot.Departments))
	s.seq = 0

	for _, thread := range snapshot.Threads {
		t := thread.Clone()
		s.threads[t.ID] = &t
		s.bumpSeq(t.Seq)
	}
	msgs := append([]domain.Message(nil), snapshot.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	for _, msg := range msgs {
		if _, ok := s.threads[msg.ThreadID]; !ok {
			continue
		}
		s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], msg)
		s.bumpSeq(msg.Seq)
	}
	for _, dept := range snapshot.Departments {
		s.departments[departmentKey(dept.Name)] = dept
	}
}

// CreateThread stores a new thread with a fresh id.
func (s *ThreadStore) CreateThread(ctx context.Context, input CreateThreadInput) (domain.Thread, error) {
	thread, _, err := s.CreateThreadWithMessages(ctx, input)
	return thread, err
}

// CreateThreadWithMessages stores a new thread together with its opening messages.
func (s *ThreadStore) CreateThreadWithMessages(ctx context.Context, input CreateThreadInput, drafts ...domain.MessageDraft) (domain.Thread, []domain.Message, error) {
	var reserved []uint64
	if s.shared != nil {
		seqs, err := s.shared.NextSeqs(ctx, len(drafts)+1)
		if err != nil {
			return domain.Thread{}, nil, apperrors.NewCollaboratorUnavailable("persistence", err)
		}
		reserved = seqs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.counter(reserved)
	now := s.now()
	status := input.Status
	if status == "" {
		status = domain.ThreadStatusNew
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.ThreadPriorityNormal
	}
	seq, err := counter.next()
	if err != nil {
		return domain.Thread{}, nil, apperrors.NewCollaboratorUnavailable("persistence", err)
	}
	thread := domain.Thread{
		ID:         s.newID(),
		Title:      strings.TrimSpace(input.Title),
		StudentRef: input.StudentRef,
		Department: input.Department,
		Topic:      input.Topic,
		IssueType:  input.IssueType,
		Status:     status,
		Priority:   priority,
		Seq:        seq,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	thread = thread.Clone()
	created, err := s.buildMessages(thread.ID, now, drafts, counter.next)
	if err != nil {
		return domain.Thread{}, nil, err
	}

	if err := s.commit(ctx, domain.ChangeSet{NewThread: &thread, Messages: created}); err != nil {
		return domain.Thread{}, nil, err
	}
	s.bumpSeq(counter.last)
	s.cacheMessages(thread, created)
	return thread, append([]domain.Message(nil), created...), nil
}

// AppendMessage adds a message to the end of a thread timeline.
func (s *ThreadStore) AppendMessage(ctx context.Context, threadID string, draft domain.MessageDraft) (domain.Message, error) {
	_, msgs, err := s.TransitionWithMessages(ctx, threadID, domain.ThreadUpdate{}, draft)
	if err != nil {
		return domain.Message{}, err
	}
	return msgs[0], nil
}

// Transition is a raw setter for the provided fields. It performs no policy checks.
func (s *ThreadStore) Transition(ctx context.Context, threadID string, update domain.ThreadUpdate) (domain.Thread, error) {
	thread, _, err := s.TransitionWithMessages(ctx, threadID, update)
	return thread, err
}

// TransitionWithMessages applies update and appends drafts as one atomic unit: readers
// observe either none or all of it.
func (s *ThreadStore) TransitionWithMessages(ctx context.Context, threadID string, update domain.ThreadUpdate, drafts ...domain.MessageDraft) (domain.Thread, []domain.Message, error) {
	return s.Mutate(ctx, threadID, func(domain.Thread) (domain.ThreadUpdate, []domain.MessageDraft, error) {
		return update, drafts, nil
	})
}

// MutateFunc derives a change from the current thread state. It runs under the store lock
// and must not call back into the store. Returning an error aborts the mutation.
type MutateFunc func(current domain.Thread) (domain.ThreadUpdate, []domain.MessageDraft, error)

// Mutate reads the thread, lets fn decide the change and applies it, all under one lock.
// With a shared persister the lock is the database row lock and current is the durable copy.
func (s *ThreadStore) Mutate(ctx context.Context, threadID string, fn MutateFunc) (domain.Thread, []domain.Message, error) {
	if s.shared != nil {
		return s.mutateShared(ctx, threadID, fn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.threads[threadID]
	if !ok {
		return domain.Thread{}, nil, notFound(threadID)
	}
	counter := s.counter(nil)
	result, changes, err := s.derive(current.Clone(), fn, counter.next)
	if err != nil {
		return domain.Thread{}, nil, err
	}
	if changes.UpdatedThread == nil && len(changes.Messages) == 0 {
		return result, nil, nil
	}
	if err := s.commit(ctx, changes); err != nil {
		return domain.Thread{}, nil, err
	}

	s.bumpSeq(counter.last)
	s.cacheMessages(result, changes.Messages)
	return result, append([]domain.Message(nil), changes.Messages...), nil
}

func (s *ThreadStore) mutateShared(ctx context.Context, threadID string, fn MutateFunc) (domain.Thread, []domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result  domain.Thread
		changes domain.ChangeSet
		fnErr   error
	)
	found, err := s.shared.MutateThread(ctx, threadID, func(current domain.Thread, next domain.SeqSource) (domain.ChangeSet, error) {
		result, changes, fnErr = s.derive(current, fn, next)
		return changes, fnErr
	})
	switch {
	case fnErr != nil:
		return domain.Thread{}, nil, fnErr
	case err != nil:
		return domain.Thread{}, nil, apperrors.NewCollaboratorUnavailable("persistence", err)
	case !found:
		delete(s.threads, threadID)
		delete(s.messages, threadID)
		return domain.Thread{}, nil, notFound(threadID)
	}

	for _, msg := range changes.Messages {
		s.bumpSeq(msg.Seq)
	}
	s.cacheMessages(result, changes.Messages)
	return result, append([]domain.Message(nil), changes.Messages...), nil
}

// derive runs fn against current and builds the records the change writes.
func (s *ThreadStore) derive(current domain.Thread, fn MutateFunc, next domain.SeqSource) (domain.Thread, domain.ChangeSet, error) {
	update, drafts, err := fn(current.Clone())
	if err != nil {
		return domain.Thread{}, domain.ChangeSet{}, err
	}
	if update.IsEmpty() && len(drafts) == 0 {
		return current, domain.ChangeSet{}, nil
	}

	now := s.now()
	result := current.Clone()
	changes := domain.ChangeSet{}
	if !update.IsEmpty() {
		update.Apply(&result)
		result.UpdatedAt = now
		updated := result.Clone()
		changes.UpdatedThread = &updated
	}
	created, err := s.buildMessages(current.ID, now, drafts, next)
	if err != nil {
		return domain.Thread{}, domain.ChangeSet{}, err
	}
	changes.Messages = created
	return result, changes, nil
}

func (s *ThreadStore) buildMessages(threadID string, now time.Time, drafts []domain.MessageDraft, next domain.SeqSource) ([]domain.Message, error) {
	created := make([]domain.Message, 0, len(drafts))
	for _, draft := range drafts {
		seq, err := next()
		if err != nil {
			return nil, apperrors.NewCollaboratorUnavailable("persistence", err)
		}
		created = append(created, domain.Message{
			ID:        s.newID(),
			ThreadID:  threadID,
			Sender:    draft.Sender,
			AuthorID:  draft.AuthorID,
			Text:      draft.Text,
			Seq:       seq,
			CreatedAt: now,
		})
	}
	return created, nil
}

// seqCounter hands out sequence numbers from a reservation, or from the in-memory counter
// when no reservation was made.
type seqCounter struct {
	last     uint64
	reserved []uint64
	reserve  bool
}

func (s *ThreadStore) counter(reserved []uint64) *seqCounter {
	return &seqCounter{last: s.seq, reserved: reserved, reserve: reserved != nil}
}

func (c *seqCounter) next() (uint64, error) {
	if !c.reserve {
		c.last++
		return c.last, nil
	}
	if len(c.reserved) == 0 {
		return 0, errors.New("sequence reservation exhausted")
	}
	c.last, c.reserved = c.reserved[0], c.reserved[1:]
	return c.last, nil
}

// cacheMessages stores thread and appends msgs to its cached timeline. Callers hold the lock.
func (s *ThreadStore) cacheMessages(thread domain.Thread, msgs []domain.Message) {
	stored := thread.Clone()
	s.threads[thread.ID] = &stored
	if len(msgs) > 0 {
		s.messages[thread.ID] = append(s.messages[thread.ID], msgs...)
	}
}

// refreshThread replaces the cached copy of one thread with the durable one.
func (s *ThreadStore) refreshThread(ctx context.Context, threadID string) error {
	thread, msgs, found, err := s.shared.LoadThread(ctx, threadID)
	if err != nil {
		return apperrors.NewCollaboratorUnavailable("persistence", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !found {
		delete(s.threads, threadID)
		delete(s.messages, threadID)
		return notFound(threadID)
	}
	stored := thread.Clone()
	s.threads[threadID] = &stored
	s.messages[threadID] = append([]domain.Message(nil), msgs...)
	for _, msg := range msgs {
		s.bumpSeq(msg.Seq)
	}
	return nil
}

// GetThread returns a copy of the thread.
func (s *ThreadStore) GetThread(ctx context.Context, threadID string) (domain.Thread, error) {
	if s.shared != nil {
		if err := s.refreshThread(ctx, threadID); err != nil {
			return domain.Thread{}, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return domain.Thread{}, notFound(threadID)
	}
	return thread.Clone(), nil
}

// ListMessages returns the thread timeline in insertion order.
func (s *ThreadStore) ListMessages(ctx context.Context, threadID string) ([]domain.Message, error) {
	if s.shared != nil {
		if err := s.refreshThread(ctx, threadID); err != nil {
			return nil, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, notFound(threadID)
	}
	return append([]domain.Message{}, s.messages[threadID]...), nil
}

// ListThreads returns matching threads, newest first.
func (s *ThreadStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]domain.Thread, error) {
	if err := s.sync(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	result := make([]domain.Thread, 0, len(s.threads))
	for _, thread := range s.threads {
		if !matchesFilter(thread, filter) {
			continue
		}
		result = append(result, thread.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Seq > result[j].Seq
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return []domain.Thread{}, nil
	}
	result = result[offset:]
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Statistics counts threads per status and per assigned department in one consistent pass.
func (s *ThreadStore) Statistics(ctx context.Context) (domain.ThreadStatistics, error) {
	if err := s.sync(ctx); err != nil {
		return domain.ThreadStatistics{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.ThreadStatistics{
		Total:        len(s.threads),
		ByStatus:     make(map[domain.ThreadStatus]int, len(domain.ThreadStatuses)),
		ByDepartment: make(map[string]int),
	}
	for _, status := range domain.ThreadStatuses {
		stats.ByStatus[status] = 0
	}
	for _, thread := range s.threads {
		stats.ByStatus[thread.Status]++
		if dept := thread.AssignedDepartment(); dept != "" {
			stats.ByDepartment[dept]++
		}
	}
	return stats, nil
}

func (s *ThreadStore) commit(ctx context.Context, changes domain.ChangeSet) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Commit(ctx, changes); err != nil {
		if errors.Is(err, domain.ErrDepartmentExists) {
			return departmentExists(departmentName(changes))
		}
		return apperrors.NewCollaboratorUnavailable("persistence", err)
	}
	return nil
}

func (s *ThreadStore) bumpSeq(seq uint64) {
	if seq > s.seq {
		s.seq = seq
	}
}

func matchesFilter(thread *domain.Thread, filter ThreadFilter) bool {
	if filter.StudentRef != nil && !thread.OwnedBy(*filter.StudentRef) {
		return false
	}
	if filter.AssignedTo != nil && departmentKey(thread.AssignedDepartment()) != departmentKey(*filter.AssignedTo) {
		return false
	}
	if filter.Status != nil && thread.Status != *filter.Status {
		return false
	}
	return true
}

func departmentKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func notFound(threadID string) error {
	return apperrors.NewNotFound("thread", map[string]any{"thread_id": threadID})
}
