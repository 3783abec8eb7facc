package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/domain"
	"github.com/spec-kit/student-support/internal/policy"
	"github.com/spec-kit/student-support/internal/store"
)

// DepartmentService administers the departments threads are routed to.
type DepartmentService struct {
	store  *store.ThreadStore
	logger *zap.Logger
}

// NewDepartmentService constructs the service.
func NewDepartmentService(s *store.ThreadStore, logger *zap.Logger) *DepartmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DepartmentService{store: s, logger: logger}
}

// ListDepartments returns known departments.
func (s *DepartmentService) ListDepartments(ctx context.Context, actor domain.Actor) ([]domain.Department, error) {
	if err := policy.Authorize(actor, policy.ActionListDepartments, nil); err != nil {
		return nil, err
	}
	return s.store.ListDepartments(ctx)
}

// GetDepartment returns one department.
func (s *DepartmentService) GetDepartment(ctx context.Context, actor domain.Actor, id string) (domain.Department, error) {
	if err := policy.Authorize(actor, policy.ActionListDepartments, nil); err != nil {
		return domain.Department{}, err
	}
	return s.store.GetDepartment(ctx, id)
}

// CreateDepartment adds a department with a name no other department uses.
func (s *DepartmentService) CreateDepartment(ctx context.Context, actor domain.Actor, name, description string) (domain.Department, error) {
	if err := policy.Authorize(actor, policy.ActionManageDepartments, nil); err != nil {
		return domain.Department{}, err
	}
	dept, err := s.store.CreateDepartment(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return domain.Department{}, err
	}
	s.logger.Info("department created", zap.String("department_id", dept.ID), zap.String("department", dept.Name), zap.String("actor", actor.UserID))
	return dept, nil
}

// UpdateDepartment edits a department's name or description.
func (s *DepartmentService) UpdateDepartment(ctx context.Context, actor domain.Actor, id string, update domain.DepartmentUpdate) (domain.Department, error) {
	if err := policy.Authorize(actor, policy.ActionManageDepartments, nil); err != nil {
		return domain.Department{}, err
	}
	dept, err := s.store.UpdateDepartment(ctx, id, update)
	if err != nil {
		return domain.Department{}, err
	}
	s.logger.Info("department updated", zap.String("department_id", dept.ID), zap.String("department", dept.Name), zap.String("actor", actor.UserID))
	return dept, nil
}

// DeleteDepartment removes a department. Threads already routed to it are left as they are.
func (s *DepartmentService) DeleteDepartment(ctx context.Context, actor domain.Actor, id string) error {
	if err := policy.Authorize(actor, policy.ActionManageDepartments, nil); err != nil {
		return err
	}
	dept, err := s.store.DeleteDepartment(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Info("department deleted", zap.String("department_id", dept.ID), zap.String("department", dept.Name), zap.String("actor", actor.UserID))
	return nil
}
