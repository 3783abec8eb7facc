package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/student-support/internal/domain"
)

// ThreadRepository manages thread rows.
type ThreadRepository interface {
	Create(ctx context.Context, thread domain.Thread) error
	Update(ctx context.Context, thread domain.Thread) error
	GetByID(ctx context.Context, id string) (domain.Thread, error)
	// GetForUpdate reads the thread and locks its row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (domain.Thread, error)
	List(ctx context.Context) ([]domain.Thread, error)
}

const threadColumns = `id, seq, title, student_ref, department, topic, issue_type,
            assigned_to, status, priority, assignee, created_at, updated_at`

type threadRepository struct {
	db DBTX
}

// NewThreadRepository builds the repository.
func NewThreadRepository(db DBTX) ThreadRepository {
	return &threadRepository{db: db}
}

func (r *threadRepository) Create(ctx context.Context, thread domain.Thread) error {
	const query = `
        INSERT INTO threads (id, seq, title, student_ref, department, topic, issue_type,
            assigned_to, status, priority, assignee, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.db.Exec(ctx, query,
		thread.ID,
		int64(thread.Seq),
		thread.Title,
		thread.StudentRef,
		thread.Department,
		thread.Topic,
		thread.IssueType,
		thread.AssignedTo,
		string(thread.Status),
		string(thread.Priority),
		thread.Assignee,
		thread.CreatedAt,
		thread.UpdatedAt,
	)
	return err
}

func (r *threadRepository) Update(ctx context.Context, thread domain.Thread) error {
	const query = `
        UPDATE threads SET assigned_to=$1, status=$2, priority=$3, assignee=$4, updated_at=$5
        WHERE id=$6`
	cmd, err := r.db.Exec(ctx, query,
		thread.AssignedTo,
		string(thread.Status),
		string(thread.Priority),
		thread.Assignee,
		thread.UpdatedAt,
		thread.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *threadRepository) GetByID(ctx context.Context, id string) (domain.Thread, error) {
	return scanThread(r.db.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id=$1`, id))
}

func (r *threadRepository) GetForUpdate(ctx context.Context, id string) (domain.Thread, error) {
	return scanThread(r.db.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id=$1 FOR UPDATE`, id))
}

func (r *threadRepository) List(ctx context.Context) ([]domain.Thread, error) {
	rows, err := r.db.Query(ctx, `SELECT `+threadColumns+` FROM threads ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, thread)
	}
	return result, rows.Err()
}

func scanThread(row pgx.Row) (domain.Thread, error) {
	var (
		thread   domain.Thread
		seq      int64
		status   string
		priority string
	)
	if err := row.Scan(
		&thread.ID,
		&seq,
		&thread.Title,
		&thread.StudentRef,
		&thread.Department,
		&thread.Topic,
		&thread.IssueType,
		&thread.AssignedTo,
		&status,
		&priority,
		&thread.Assignee,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	); err != nil {
		return domain.Thread{}, err
	}
	thread.Seq = uint64(seq)
	thread.Status = domain.ThreadStatus(status)
	thread.Priority = domain.ThreadPriority(priority)
	return thread, nil
}
