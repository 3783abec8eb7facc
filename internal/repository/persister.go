package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/student-support/internal/domain"
)

// PostgresPersister writes store change sets in one transaction and loads the snapshot at startup.
// It also serves stores that share the database with other instances: threads are read
// on demand, mutated under a row lock and sequenced by the record_seq sequence.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

// NewPostgresPersister wraps a pool.
func NewPostgresPersister(pool *pgxpool.Pool) *PostgresPersister {
	return &PostgresPersister{pool: pool}
}

// Commit applies every row of changes or none of them.
func (p *PostgresPersister) Commit(ctx context.Context, changes domain.ChangeSet) (err error) {
	if err := p.ready(); err != nil {
		return err
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = applyChanges(ctx, tx, changes); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MutateThread locks the thread row, derives the change from the durable copy and commits it
// in the same transaction. found is false when the thread does not exist.
func (p *PostgresPersister) MutateThread(ctx context.Context, threadID string, change domain.LockedChange) (bool, error) {
	if err := p.ready(); err != nil {
		return false, err
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin mutate: %w", err)
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := NewThreadRepository(tx).GetForUpdate(ctx, threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("lock thread: %w", err)
	}

	changes, err := change(current, func() (uint64, error) { return nextSeq(ctx, tx) })
	if err != nil {
		return true, err
	}
	if err := applyChanges(ctx, tx, changes); err != nil {
		return true, err
	}
	if err := tx.Commit(ctx); err != nil {
		return true, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// LoadThread reads one thread and its timeline from a single snapshot.
func (p *PostgresPersister) LoadThread(ctx context.Context, threadID string) (domain.Thread, []domain.Message, bool, error) {
	if err := p.ready(); err != nil {
		return domain.Thread{}, nil, false, err
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Thread{}, nil, false, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	thread, err := NewThreadRepository(tx).GetByID(ctx, threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Thread{}, nil, false, nil
	}
	if err != nil {
		return domain.Thread{}, nil, false, fmt.Errorf("load thread: %w", err)
	}
	msgs, err := NewMessageRepository(tx).ListByThread(ctx, threadID)
	if err != nil {
		return domain.Thread{}, nil, false, fmt.Errorf("load messages: %w", err)
	}
	return thread, msgs, true, nil
}

// NextSeqs allocates n values from record_seq in increasing order.
func (p *PostgresPersister) NextSeqs(ctx context.Context, n int) ([]uint64, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `SELECT nextval('record_seq') FROM generate_series(1, $1)`, n)
	if err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}
	defer rows.Close()

	seqs := make([]uint64, 0, n)
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		seqs = append(seqs, uint64(seq))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Load reads every thread, message and department.
func (p *PostgresPersister) Load(ctx context.Context) (domain.Snapshot, error) {
	if err := p.ready(); err != nil {
		return domain.Snapshot{}, err
	}
	threads, err := NewThreadRepository(p.pool).List(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load threads: %w", err)
	}
	messages, err := NewMessageRepository(p.pool).List(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load messages: %w", err)
	}
	departments, err := NewDepartmentRepository(p.pool).List(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load departments: %w", err)
	}
	return domain.Snapshot{Threads: threads, Messages: messages, Departments: departments}, nil
}

func (p *PostgresPersister) ready() error {
	if p == nil || p.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return nil
}

// applyChanges writes changes inside tx. A NewDepartment whose name is taken is replaced
// with the existing row.
func applyChanges(ctx context.Context, tx pgx.Tx, changes domain.ChangeSet) error {
	departments := NewDepartmentRepository(tx)
	if changes.NewDepartment != nil {
		stored, err := departments.Create(ctx, *changes.NewDepartment)
		if err != nil {
			return fmt.Errorf("insert department: %w", err)
		}
		*changes.NewDepartment = stored
	}
	if changes.UpdatedDepartment != nil {
		if err := departments.Update(ctx, *changes.UpdatedDepartment); err != nil {
			return fmt.Errorf("update department: %w", err)
		}
	}
	if changes.DeletedDepartment != nil {
		if err := departments.Delete(ctx, changes.DeletedDepartment.ID); err != nil {
			return fmt.Errorf("delete department: %w", err)
		}
	}

	threads := NewThreadRepository(tx)
	if changes.NewThread != nil {
		if err := threads.Create(ctx, *changes.NewThread); err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
	}
	if changes.UpdatedThread != nil {
		if err := threads.Update(ctx, *changes.UpdatedThread); err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
	}
	messages := NewMessageRepository(tx)
	for _, msg := range changes.Messages {
		if err := messages.Create(ctx, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func nextSeq(ctx context.Context, tx pgx.Tx) (uint64, error) {
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('record_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocate sequence: %w", err)
	}
	return uint64(seq), nil
}
