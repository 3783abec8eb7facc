package policy

import (
	"strings"

	"github.com/spec-kit/student-support/internal/domain"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

// Action is a command an actor may attempt.
type Action string

const (
	ActionCreateThread      Action = "create_thread"
	ActionViewThread        Action = "view_thread"
	ActionPostMessage       Action = "post_message"
	ActionAssign            Action = "assign"
	ActionEscalate          Action = "escalate"
	ActionResolve           Action = "resolve"
	ActionUpdate            Action = "update"
	ActionReassign          Action = "reassign"
	ActionViewStatistics    Action = "view_statistics"
	ActionListThreads       Action = "list_threads"
	ActionListDepartments   Action = "list_departments"
	ActionManageDepartments Action = "manage_departments"
)

// Denial reasons reported in AccessDenied details.
const (
	ReasonRoleNotAllowed    = "role_not_allowed"
	ReasonNotThreadOwner    = "not_thread_owner"
	ReasonNotAssigned       = "thread_not_assigned_to_department"
	ReasonMissingDepartment = "actor_without_department"
)

// Authorize decides whether actor may perform action on thread. Thread-scoped actions
// expect the caller to have loaded the thread already so a missing thread surfaces as
// NotFound before any denial. For ActionCreateThread, thread is the draft being created.
func Authorize(actor domain.Actor, action Action, thread *domain.Thread) error {
	if !actor.Role.IsHuman() {
		return deny(ReasonRoleNotAllowed)
	}

	switch action {
	case ActionCreateThread:
		if actor.Role == domain.RoleStudent && thread != nil && thread.StudentRef != nil && *thread.StudentRef != actor.UserID {
			return deny(ReasonNotThreadOwner)
		}
		return nil

	case ActionViewThread, ActionPostMessage:
		return participant(actor, thread)

	case ActionAssign, ActionReassign:
		return allowRoles(actor, domain.RoleManager)

	case ActionEscalate:
		return allowRoles(actor, domain.RoleManager, domain.RoleDepartment)

	case ActionResolve, ActionUpdate:
		if err := allowRoles(actor, domain.RoleDepartment, domain.RoleManager, domain.RoleLeadership); err != nil {
			return err
		}
		if actor.Role == domain.RoleDepartment {
			return assignedToActor(actor, thread)
		}
		return nil

	case ActionViewStatistics:
		return allowRoles(actor, domain.RoleManager, domain.RoleLeadership)

	case ActionListThreads:
		if actor.Role == domain.RoleDepartment && actor.Department == "" {
			return deny(ReasonMissingDepartment)
		}
		return nil

	case ActionListDepartments:
		return nil

	case ActionManageDepartments:
		return allowRoles(actor, domain.RoleManager, domain.RoleLeadership)
	}

	return deny(ReasonRoleNotAllowed)
}

// Scope narrows thread listings to what actor may see.
type Scope struct {
	StudentRef *string
	AssignedTo *string
}

// ListScope returns the listing restriction for actor. Managers and leadership are unrestricted.
func ListScope(actor domain.Actor) (Scope, error) {
	if err := Authorize(actor, ActionListThreads, nil); err != nil {
		return Scope{}, err
	}
	switch actor.Role {
	case domain.RoleStudent:
		ref := actor.UserID
		return Scope{StudentRef: &ref}, nil
	case domain.RoleDepartment:
		dept := actor.Department
		return Scope{AssignedTo: &dept}, nil
	default:
		return Scope{}, nil
	}
}

func participant(actor domain.Actor, thread *domain.Thread) error {
	switch actor.Role {
	case domain.RoleManager, domain.RoleLeadership:
		return nil
	case domain.RoleStudent:
		if thread.OwnedBy(actor.UserID) {
			return nil
		}
		return deny(ReasonNotThreadOwner)
	case domain.RoleDepartment:
		return assignedToActor(actor, thread)
	}
	return deny(ReasonRoleNotAllowed)
}

func assignedToActor(actor domain.Actor, thread *domain.Thread) error {
	if actor.Department == "" {
		return deny(ReasonMissingDepartment)
	}
	// department names are matched the way the store keys them
	if !strings.EqualFold(thread.AssignedDepartment(), strings.TrimSpace(actor.Department)) {
		return deny(ReasonNotAssigned)
	}
	return nil
}

func allowRoles(actor domain.Actor, allowed ...domain.Role) error {
	for _, role := range allowed {
		if actor.Role == role {
			return nil
		}
	}
	return deny(ReasonRoleNotAllowed)
}

func deny(reason string) error {
	return apperrors.NewAccessDenied(reason)
}
