package repository

import (
	"context"

	"github.com/spec-kit/student-support/internal/domain"
)

// MessageRepository manages thread timeline messages.
type MessageRepository interface {
	Create(ctx context.Context, msg domain.Message) error
	List(ctx context.Context) ([]domain.Message, error)
	ListByThread(ctx context.Context, threadID string) ([]domain.Message, error)
}

const messageColumns = `id, thread_id, seq, sender, author_id, body, created_at`

type messageRepository struct {
	db DBTX
}

// NewMessageRepository builds repository.
func NewMessageRepository(db DBTX) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, msg domain.Message) error {
	const query = `
        INSERT INTO thread_messages (id, thread_id, seq, sender, author_id, body, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.Exec(ctx, query,
		msg.ID,
		msg.ThreadID,
		int64(msg.Seq),
		string(msg.Sender),
		msg.AuthorID,
		msg.Text,
		msg.CreatedAt,
	)
	return err
}

func (r *messageRepository) List(ctx context.Context) ([]domain.Message, error) {
	return r.query(ctx, `SELECT `+messageColumns+` FROM thread_messages ORDER BY seq ASC`)
}

func (r *messageRepository) ListByThread(ctx context.Context, threadID string) ([]domain.Message, error) {
	return r.query(ctx, `SELECT `+messageColumns+` FROM thread_messages WHERE thread_id=$1 ORDER BY seq ASC`, threadID)
}

func (r *messageRepository) query(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var (
			msg    domain.Message
			seq    int64
			sender string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&seq,
			&sender,
			&msg.AuthorID,
			&msg.Text,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg.Seq = uint64(seq)
		msg.Sender = domain.Role(sender)
		result = append(result, msg)
	}
	return result, rows.Err()
}
