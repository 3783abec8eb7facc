package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/student-support/internal/domain"
)

const uniqueViolation = "23505"

// DepartmentRepository manages department persistence.
type DepartmentRepository interface {
	// Create inserts dept, or returns the existing row when the name is already taken.
	Create(ctx context.Context, dept domain.Department) (domain.Department, error)
	GetByID(ctx context.Context, id string) (domain.Department, error)
	Update(ctx context.Context, dept domain.Department) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.Department, error)
}

type departmentRepository struct {
	db DBTX
}

// NewDepartmentRepository builds the repository.
func NewDepartmentRepository(db DBTX) DepartmentRepository {
	return &departmentRepository{db: db}
}

func (r *departmentRepository) Create(ctx context.Context, dept domain.Department) (domain.Department, error) {
	const query = `
        INSERT INTO departments (id, name, description, created_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (lower(name)) DO UPDATE SET name = departments.name
        RETURNING id, name, description, created_at`
	var stored domain.Department
	err := r.db.QueryRow(ctx, query,
		dept.ID,
		dept.Name,
		dept.Description,
		dept.CreatedAt,
	).Scan(&stored.ID, &stored.Name, &stored.Description, &stored.CreatedAt)
	return stored, err
}

func (r *departmentRepository) GetByID(ctx context.Context, id string) (domain.Department, error) {
	const query = `
        SELECT id, name, description, created_at
        FROM departments WHERE id=$1`
	var dept domain.Department
	err := r.db.QueryRow(ctx, query, id).Scan(&dept.ID, &dept.Name, &dept.Description, &dept.CreatedAt)
	return dept, err
}

func (r *departmentRepository) Update(ctx context.Context, dept domain.Department) error {
	const query = `
        UPDATE departments SET name=$1, description=$2
        WHERE id=$3`
	cmd, err := r.db.Exec(ctx, query, dept.Name, dept.Description, dept.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDepartmentExists
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *departmentRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM departments WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *departmentRepository) List(ctx context.Context) ([]domain.Department, error) {
	const query = `
        SELECT id, name, description, created_at
        FROM departments ORDER BY name ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Department
	for rows.Next() {
		var dept domain.Department
		if err := rows.Scan(&dept.ID, &dept.Name, &dept.Description, &dept.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, dept)
	}
	return result, rows.Err()
}
