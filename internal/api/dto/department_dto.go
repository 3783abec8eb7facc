package dto

import "github.com/spec-kit/student-support/internal/domain"

// CreateDepartmentRequest payload for POST /departments.
type CreateDepartmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpdateDepartmentRequest payload for PATCH /departments/:id. Absent fields are left unchanged.
type UpdateDepartmentRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Update converts the payload to a domain update.
func (r UpdateDepartmentRequest) Update() domain.DepartmentUpdate {
	return domain.DepartmentUpdate{Name: r.Name, Description: r.Description}
}
