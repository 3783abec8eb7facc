package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThreadStatusRejectsUnknownValues(t *testing.T) {
	status, err := ParseThreadStatus(" In_Progress ")
	require.NoError(t, err)
	assert.Equal(t, ThreadStatusInProgress, status)

	_, err = ParseThreadStatus("closed")
	assert.Error(t, err)
}

func TestParseThreadPriorityAndRole(t *testing.T) {
	priority, err := ParseThreadPriority("URGENT")
	require.NoError(t, err)
	assert.Equal(t, ThreadPriorityUrgent, priority)

	_, err = ParseThreadPriority("critical")
	assert.Error(t, err)

	role, err := ParseRole("Department")
	require.NoError(t, err)
	assert.Equal(t, RoleDepartment, role)
	assert.True(t, role.IsHuman())
	assert.False(t, RoleAssistant.IsHuman())

	_, err = ParseRole("admin")
	assert.Error(t, err)
}

func TestThreadUpdateApplyOnlyTouchesProvidedFields(t *testing.T) {
	thread := Thread{
		ID:         "t-1",
		Title:      "Scholarship",
		AssignedTo: StringPtr("Finance"),
		Status:     ThreadStatusAssigned,
		Priority:   ThreadPriorityHigh,
	}
	escalated := ThreadStatusEscalated
	ThreadUpdate{Status: &escalated}.Apply(&thread)

	assert.Equal(t, ThreadStatusEscalated, thread.Status)
	assert.Equal(t, ThreadPriorityHigh, thread.Priority)
	assert.Equal(t, "Finance", thread.AssignedDepartment())
	assert.Nil(t, thread.Assignee)
}

func TestThreadCloneDoesNotSharePointers(t *testing.T) {
	original := Thread{StudentRef: StringPtr("s-1"), AssignedTo: StringPtr("IT")}
	clone := original.Clone()
	*clone.AssignedTo = "Finance"

	assert.Equal(t, "IT", *original.AssignedTo)
	assert.True(t, clone.OwnedBy("s-1"))
	assert.Nil(t, StringPtr("   "))
}
