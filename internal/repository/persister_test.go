package repository

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/domain"
	"github.com/spec-kit/student-support/internal/persistence"
	"github.com/spec-kit/student-support/internal/store"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))
	return pool
}

func TestPersisterRoundTripsStoreState(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	persister := NewPostgresPersister(pool)

	s := store.New(store.WithPersister(persister))
	dept := "Dept " + uuid.NewString()
	thread, _, err := s.CreateThreadWithMessages(ctx, store.CreateThreadInput{
		Title:      "Refund",
		StudentRef: domain.StringPtr("s-" + uuid.NewString()),
		Status:     domain.ThreadStatusPending,
		Priority:   domain.ThreadPriorityHigh,
	}, domain.MessageDraft{Sender: domain.RoleStudent, Text: "help"})
	require.NoError(t, err)
	_, _, err = s.EnsureDepartment(ctx, dept, "test")
	require.NoError(t, err)
	assigned := domain.ThreadStatusAssigned
	_, err = s.Transition(ctx, thread.ID, domain.ThreadUpdate{Status: &assigned, AssignedTo: &dept})
	require.NoError(t, err)

	restored := store.New()
	require.NoError(t, restored.Hydrate(ctx, persister))

	got, err := restored.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusAssigned, got.Status)
	assert.Equal(t, dept, got.AssignedDepartment())
	assert.WithinDuration(t, thread.CreatedAt, got.CreatedAt, time.Millisecond)

	msgs, err := restored.ListMessages(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "help", msgs[0].Text)
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	persister := NewPostgresPersister(pool)

	now := time.Now().UTC()
	orphan := domain.Message{ID: uuid.NewString(), ThreadID: uuid.NewString(), Sender: domain.RoleStudent, Text: "x", CreatedAt: now}
	thread := domain.Thread{ID: uuid.NewString(), Title: "t", Status: domain.ThreadStatusPending, Priority: domain.ThreadPriorityNormal, CreatedAt: now, UpdatedAt: now}

	err := persister.Commit(ctx, domain.ChangeSet{NewThread: &thread, Messages: []domain.Message{orphan}})
	require.Error(t, err)

	snapshot, err := persister.Load(ctx)
	require.NoError(t, err)
	for _, stored := range snapshot.Threads {
		assert.NotEqual(t, thread.ID, stored.ID)
	}
}

func TestSharedStoresOverOnePoolStayConsistent(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	a := store.New(store.WithSharedPersister(NewPostgresPersister(pool)))
	b := store.New(store.WithSharedPersister(NewPostgresPersister(pool)))

	thread, err := a.CreateThread(ctx, store.CreateThreadInput{Title: "Fees", Status: domain.ThreadStatusPending})
	require.NoError(t, err)

	_, err = b.GetThread(ctx, thread.ID)
	require.NoError(t, err)

	escalated := domain.ThreadStatusEscalated
	_, err = a.Transition(ctx, thread.ID, domain.ThreadUpdate{Status: &escalated})
	require.NoError(t, err)
	high := domain.ThreadPriorityHigh
	_, err = b.Transition(ctx, thread.ID, domain.ThreadUpdate{Priority: &high})
	require.NoError(t, err)

	first, err := a.AppendMessage(ctx, thread.ID, domain.MessageDraft{Sender: domain.RoleStudent, Text: "one"})
	require.NoError(t, err)
	second, err := b.AppendMessage(ctx, thread.ID, domain.MessageDraft{Sender: domain.RoleStudent, Text: "two"})
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	durable, err := NewThreadRepository(pool).GetByID(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusEscalated, durable.Status)
	assert.Equal(t, domain.ThreadPriorityHigh, durable.Priority)

	msgs, err := a.ListMessages(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[1].Text)
}

func TestDepartmentRowsFollowStoreChanges(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	s := store.New(store.WithSharedPersister(NewPostgresPersister(pool)))
	repo := NewDepartmentRepository(pool)

	name := "Dept " + uuid.NewString()
	dept, err := s.CreateDepartment(ctx, name, "first")
	require.NoError(t, err)

	_, err = store.New(store.WithPersister(NewPostgresPersister(pool))).CreateDepartment(ctx, strings.ToUpper(name), "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))

	desc := "second"
	_, err = s.UpdateDepartment(ctx, dept.ID, domain.DepartmentUpdate{Description: &desc})
	require.NoError(t, err)
	stored, err := repo.GetByID(ctx, dept.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", stored.Description)

	_, err = s.DeleteDepartment(ctx, dept.ID)
	require.NoError(t, err)
	_, err = repo.GetByID(ctx, dept.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}
