package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/student-support/internal/domain"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

var (
	student    = domain.Actor{UserID: "s-1", Role: domain.RoleStudent}
	otherStud  = domain.Actor{UserID: "s-2", Role: domain.RoleStudent}
	manager    = domain.Actor{UserID: "m-1", Role: domain.RoleManager}
	leadership = domain.Actor{UserID: "l-1", Role: domain.RoleLeadership}
	finance    = domain.Actor{UserID: "d-1", Role: domain.RoleDepartment, Department: "Finance"}
	it         = domain.Actor{UserID: "d-2", Role: domain.RoleDepartment, Department: "IT"}
	assistant  = domain.Actor{Role: domain.RoleAssistant}
)

func financeThread() *domain.Thread {
	return &domain.Thread{
		ID:         "t-1",
		StudentRef: domain.StringPtr("s-1"),
		AssignedTo: domain.StringPtr("Finance"),
		Status:     domain.ThreadStatusAssigned,
	}
}

func TestAuthorize(t *testing.T) {
	cases := []struct {
		name   string
		actor  domain.Actor
		action Action
		thread *domain.Thread
		reason string
	}{
		{"student creates for self", student, ActionCreateThread, &domain.Thread{StudentRef: domain.StringPtr("s-1")}, ""},
		{"student cannot create for others", student, ActionCreateThread, &domain.Thread{StudentRef: domain.StringPtr("s-9")}, ReasonNotThreadOwner},
		{"manager creates on behalf", manager, ActionCreateThread, &domain.Thread{StudentRef: domain.StringPtr("s-9")}, ""},
		{"student posts on own thread", student, ActionPostMessage, financeThread(), ""},
		{"student cannot post on others thread", otherStud, ActionPostMessage, financeThread(), ReasonNotThreadOwner},
		{"assigned department posts", finance, ActionPostMessage, financeThread(), ""},
		{"other department cannot post", it, ActionPostMessage, financeThread(), ReasonNotAssigned},
		{"leadership posts", leadership, ActionPostMessage, financeThread(), ""},
		{"assistant is not a human actor", assistant, ActionPostMessage, financeThread(), ReasonRoleNotAllowed},
		{"manager assigns", manager, ActionAssign, financeThread(), ""},
		{"department cannot assign", finance, ActionAssign, financeThread(), ReasonRoleNotAllowed},
		{"leadership cannot assign", leadership, ActionAssign, financeThread(), ReasonRoleNotAllowed},
		{"department escalates", it, ActionEscalate, financeThread(), ""},
		{"student cannot escalate", student, ActionEscalate, financeThread(), ReasonRoleNotAllowed},
		{"assigned department resolves", finance, ActionResolve, financeThread(), ""},
		{"unassigned department cannot resolve", it, ActionResolve, financeThread(), ReasonNotAssigned},
		{"department cannot resolve unassigned thread", finance, ActionResolve, &domain.Thread{ID: "t-2"}, ReasonNotAssigned},
		{"leadership updates", leadership, ActionUpdate, financeThread(), ""},
		{"student cannot update", student, ActionUpdate, financeThread(), ReasonRoleNotAllowed},
		{"department cannot reassign", finance, ActionReassign, financeThread(), ReasonRoleNotAllowed},
		{"manager views statistics", manager, ActionViewStatistics, nil, ""},
		{"leadership views statistics", leadership, ActionViewStatistics, nil, ""},
		{"department cannot view statistics", finance, ActionViewStatistics, nil, ReasonRoleNotAllowed},
		{"student cannot view statistics", student, ActionViewStatistics, nil, ReasonRoleNotAllowed},
		{"department without a department", domain.Actor{UserID: "d-3", Role: domain.RoleDepartment}, ActionViewThread, financeThread(), ReasonMissingDepartment},
		{"department name matches in any case", domain.Actor{UserID: "d-4", Role: domain.RoleDepartment, Department: "FINANCE"}, ActionPostMessage, financeThread(), ""},
		{"manager manages departments", manager, ActionManageDepartments, nil, ""},
		{"leadership manages departments", leadership, ActionManageDepartments, nil, ""},
		{"department cannot manage departments", finance, ActionManageDepartments, nil, ReasonRoleNotAllowed},
		{"student cannot manage departments", student, ActionManageDepartments, nil, ReasonRoleNotAllowed},
		{"student lists departments", student, ActionListDepartments, nil, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.actor, tc.action, tc.thread)
			if tc.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsAccessDenied(err))
			assert.False(t, apperrors.IsNotFound(err))
			de := apperrors.ToDomainError(err)
			assert.Equal(t, tc.reason, de.Details["reason"])
		})
	}
}

func TestListScope(t *testing.T) {
	scope, err := ListScope(student)
	require.NoError(t, err)
	require.NotNil(t, scope.StudentRef)
	assert.Equal(t, "s-1", *scope.StudentRef)
	assert.Nil(t, scope.AssignedTo)

	scope, err = ListScope(finance)
	require.NoError(t, err)
	require.NotNil(t, scope.AssignedTo)
	assert.Equal(t, "Finance", *scope.AssignedTo)

	scope, err = ListScope(leadership)
	require.NoError(t, err)
	assert.Equal(t, Scope{}, scope)

	_, err = ListScope(domain.Actor{Role: domain.RoleDepartment})
	assert.True(t, apperrors.IsAccessDenied(err))

	_, err = ListScope(domain.Actor{Role: domain.RoleSystem})
	assert.True(t, apperrors.IsAccessDenied(err))
}
