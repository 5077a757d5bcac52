package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine() *Machine {
	return NewMachine("i-0abc", "req-1", MachineStatusPending, StrategyDirectLaunch, "r-1")
}

func TestNewMachine(t *testing.T) {
	m := newTestMachine()
	assert.Equal(t, MachineStatusPending, m.Status)
	assert.Equal(t, PriceTierOnDemand, m.PriceTier)
	assert.Contains(t, m.StatusTimestamps, "pending")
	require.Len(t, m.EventLog, 1)
	assert.Equal(t, EventMachineCreated, m.EventLog[0].Type)
}

func TestMachineTransitionTo(t *testing.T) {
	m := newTestMachine()
	require.NoError(t, m.TransitionTo(MachineStatusRunning, ""))
	assert.True(t, m.IsRunning())

	// same-state transition is a no-op
	version := m.Version
	require.NoError(t, m.TransitionTo(MachineStatusRunning, ""))
	assert.Equal(t, version, m.Version)

	err := m.TransitionTo(MachineStatusPending, "")
	require.Error(t, err)
	assert.Equal(t, ErrTypeInvalidMachineState, ErrorType(err))
}

func TestMachineReconcileObservedWalksPath(t *testing.T) {
	m := newTestMachine()
	require.NoError(t, m.TransitionTo(MachineStatusRunning, ""))

	// provider reports terminated; the walk passes through shutting-down
	require.NoError(t, m.ReconcileObserved(MachineStatusTerminated, "spot reclaimed"))
	assert.Equal(t, MachineStatusTerminated, m.Status)
	assert.Contains(t, m.StatusTimestamps, "shutting-down")
	assert.Equal(t, "spot reclaimed", m.StatusReasons["terminated"])
	assert.Equal(t, "fail", m.Result())
}

func TestMachineMarkReturned(t *testing.T) {
	m := newTestMachine()
	require.NoError(t, m.TransitionTo(MachineStatusRunning, ""))
	require.NoError(t, m.MarkReturned("returned by scheduler"))
	assert.Equal(t, MachineStatusReturned, m.Status)
	assert.True(t, m.Status.IsTerminal())
}

func TestMachineHealthChecks(t *testing.T) {
	m := newTestMachine()
	now := time.Now().UTC()
	m.RecordHealthCheck(HealthCheckResult{CheckType: "instance_status", Healthy: true, CheckedAt: now})
	m.RecordHealthCheck(HealthCheckResult{CheckType: "system_status", Healthy: true, CheckedAt: now})
	assert.True(t, m.IsHealthy())
	require.NotNil(t, m.LastHealthCheckAt)

	// only the latest observation per check type counts
	m.RecordHealthCheck(HealthCheckResult{CheckType: "system_status", Healthy: false, Message: "impaired", CheckedAt: now.Add(time.Minute)})
	assert.False(t, m.IsHealthy())
	assert.Len(t, m.HealthChecks["system_status"], 2)

	m.RecordHealthCheck(HealthCheckResult{CheckType: "system_status", Healthy: true, CheckedAt: now.Add(2 * time.Minute)})
	assert.True(t, m.IsHealthy())
}
