package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrDepartmentExists is returned by persisters when a department name is already taken.
var ErrDepartmentExists = errors.New("department already exists")

// Department represents an organizational unit threads can be routed to.
type Department struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// DepartmentUpdate holds the optional fields of a department edit.
type DepartmentUpdate struct {
	Name        *string
	Description *string
}

// IsEmpty reports whether the update changes nothing.
func (u DepartmentUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil
}

// Apply copies the set fields onto dept. Names are trimmed.
func (u DepartmentUpdate) Apply(dept *Department) {
	if u.Name != nil {
		dept.Name = strings.TrimSpace(*u.Name)
	}
	if u.Description != nil {
		dept.Description = *u.Description
	}
}
