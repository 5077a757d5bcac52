package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    RequestStatus
		to      RequestStatus
		allowed bool
	}{
		{RequestStatusPending, RequestStatusCreating, true},
		{RequestStatusPending, RequestStatusRunning, true},
		{RequestStatusPending, RequestStatusFailed, true},
		{RequestStatusPending, RequestStatusComplete, false},
		{RequestStatusCreating, RequestStatusRunning, true},
		{RequestStatusCreating, RequestStatusPending, false},
		{RequestStatusRunning, RequestStatusComplete, true},
		{RequestStatusRunning, RequestStatusCompleteWithError, true},
		{RequestStatusRunning, RequestStatusFailed, true},
		{RequestStatusComplete, RequestStatusRunning, false},
		{RequestStatusFailed, RequestStatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestRequestStatusTerminal(t *testing.T) {
	assert.False(t, RequestStatusPending.IsTerminal())
	assert.False(t, RequestStatusCreating.IsTerminal())
	assert.False(t, RequestStatusRunning.IsTerminal())
	assert.True(t, RequestStatusComplete.IsTerminal())
	assert.True(t, RequestStatusCompleteWithError.IsTerminal())
	assert.True(t, RequestStatusFailed.IsTerminal())
}

func TestMachineStatusResult(t *testing.T) {
	assert.Equal(t, "succeed", MachineStatusRunning.Result())
	assert.Equal(t, "fail", MachineStatusFailed.Result())
	assert.Equal(t, "fail", MachineStatusTerminated.Result())
	assert.Equal(t, "executing", MachineStatusPending.Result())
	assert.Equal(t, "executing", MachineStatusStopping.Result())
	assert.Equal(t, "executing", MachineStatusReturned.Result())
	assert.Equal(t, "executing", MachineStatusUnknown.Result())
}

func TestMachineTransitionPath(t *testing.T) {
	// observed state can skip intermediate hops
	path := MachineStatusRunning.TransitionPath(MachineStatusTerminated)
	require.Equal(t, []MachineStatus{MachineStatusShuttingDown, MachineStatusTerminated}, path)

	path = MachineStatusPending.TransitionPath(MachineStatusRunning)
	require.Equal(t, []MachineStatus{MachineStatusRunning}, path)

	// same state is an empty walk, not a missing one
	path = MachineStatusRunning.TransitionPath(MachineStatusRunning)
	require.NotNil(t, path)
	assert.Empty(t, path)

	// terminal states have no way back
	assert.Nil(t, MachineStatusReturned.TransitionPath(MachineStatusRunning))
	assert.Nil(t, MachineStatusFailed.TransitionPath(MachineStatusPending))
}

func TestMachineUnknownRecovers(t *testing.T) {
	path := MachineStatusUnknown.TransitionPath(MachineStatusRunning)
	require.Equal(t, []MachineStatus{MachineStatusRunning}, path)
}

func TestParseStatuses(t *testing.T) {
	got, err := ParseRequestStatus("complete_with_error")
	require.NoError(t, err)
	assert.Equal(t, RequestStatusCompleteWithError, got)
	_, err = ParseRequestStatus("finished")
	assert.Error(t, err)

	ms, err := ParseMachineStatus("shutting-down")
	require.NoError(t, err)
	assert.Equal(t, MachineStatusShuttingDown, ms)
	_, err = ParseMachineStatus("paused")
	assert.Error(t, err)
}
