package store

import (
	"context"
	"sort"
	"strings"

	"github.com/spec-kit/student-support/internal/domain"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

// EnsureDepartment returns the named department, creating it when unknown.
// The boolean reports whether it was created by this call.
func (s *ThreadStore) EnsureDepartment(ctx context.Context, name, description string) (domain.Department, bool, error) {
	name = strings.TrimSpace(name)
	key := departmentKey(name)

	if s.shared != nil && !s.hasDepartment(key) {
		if err := s.sync(ctx); err != nil {
			return domain.Department{}, false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dept, ok := s.departments[key]; ok {
		return dept, false, nil
	}
	dept := domain.Department{
		ID:          s.newID(),
		Name:        name,
		Description: description,
		CreatedAt:   s.now(),
	}
	id := dept.ID
	if err := s.commit(ctx, domain.ChangeSet{NewDepartment: &dept}); err != nil {
		return domain.Department{}, false, err
	}
	s.departments[key] = dept
	return dept, dept.ID == id, nil
}

// CreateDepartment adds a department. Names are unique regardless of case.
func (s *ThreadStore) CreateDepartment(ctx context.Context, name, description string) (domain.Department, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Department{}, apperrors.NewValidationError("department name is required", map[string]any{"field": "name"})
	}
	if err := s.sync(ctx); err != nil {
		return domain.Department{}, err
	}
	key := departmentKey(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.departments[key]; ok {
		return domain.Department{}, departmentExists(name)
	}
	dept := domain.Department{
		ID:          s.newID(),
		Name:        name,
		Description: description,
		CreatedAt:   s.now(),
	}
	id := dept.ID
	if err := s.commit(ctx, domain.ChangeSet{NewDepartment: &dept}); err != nil {
		return domain.Department{}, err
	}
	s.departments[key] = dept
	if dept.ID != id {
		// another instance created it first
		return domain.Department{}, departmentExists(name)
	}
	return dept, nil
}

// GetDepartment returns the department with the given id.
func (s *ThreadStore) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	if err := s.sync(ctx); err != nil {
		return domain.Department{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, dept, ok := s.departmentByID(id)
	if !ok {
		return domain.Department{}, departmentNotFound(id)
	}
	return dept, nil
}

// UpdateDepartment renames or redescribes a department. Threads keep the department
// name they were routed with.
func (s *ThreadStore) UpdateDepartment(ctx context.Context, id string, update domain.DepartmentUpdate) (domain.Department, error) {
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return domain.Department{}, apperrors.NewValidationError("department name cannot be empty", map[string]any{"field": "name"})
	}
	if err := s.sync(ctx); err != nil {
		return domain.Department{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, current, ok := s.departmentByID(id)
	if !ok {
		return domain.Department{}, departmentNotFound(id)
	}
	if update.IsEmpty() {
		return current, nil
	}
	next := current
	update.Apply(&next)
	nextKey := departmentKey(next.Name)
	if nextKey != key {
		if _, taken := s.departments[nextKey]; taken {
			return domain.Department{}, departmentExists(next.Name)
		}
	}
	if err := s.commit(ctx, domain.ChangeSet{UpdatedDepartment: &next}); err != nil {
		return domain.Department{}, err
	}
	delete(s.departments, key)
	s.departments[nextKey] = next
	return next, nil
}

// DeleteDepartment removes a department. Threads routed to it keep their assignment.
func (s *ThreadStore) DeleteDepartment(ctx context.Context, id string) (domain.Department, error) {
	if err := s.sync(ctx); err != nil {
		return domain.Department{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, dept, ok := s.departmentByID(id)
	if !ok {
		return domain.Department{}, departmentNotFound(id)
	}
	if err := s.commit(ctx, domain.ChangeSet{DeletedDepartment: &dept}); err != nil {
		return domain.Department{}, err
	}
	delete(s.departments, key)
	return dept, nil
}

// ListDepartments returns known departments ordered by name.
func (s *ThreadStore) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	if err := s.sync(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	result := make([]domain.Department, 0, len(s.departments))
	for _, dept := range s.departments {
		result = append(result, dept)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *ThreadStore) hasDepartment(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.departments[key]
	return ok
}

func (s *ThreadStore) departmentByID(id string) (string, domain.Department, bool) {
	for key, dept := range s.departments {
		if dept.ID == id {
			return key, dept, true
		}
	}
	return "", domain.Department{}, false
}

func departmentName(changes domain.ChangeSet) string {
	switch {
	case changes.NewDepartment != nil:
		return changes.NewDepartment.Name
	case changes.UpdatedDepartment != nil:
		return changes.UpdatedDepartment.Name
	}
	return ""
}

func departmentExists(name string) error {
	return apperrors.NewValidationError("department with this name already exists", map[string]any{"name": name})
}

func departmentNotFound(id string) error {
	return apperrors.NewNotFound("department", map[string]any{"department_id": id})
}
