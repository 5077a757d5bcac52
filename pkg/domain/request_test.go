package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acquireTemplate() *Template {
	return &Template{
		TemplateID:  "linux",
		Strategy:    StrategyDirectLaunch,
		MaxNumber:   10,
		ImageID:     "ami-0123456789abcdef0",
		SubnetID:    "subnet-0123",
		MachineType: "m5.large",
	}
}

func TestNewAcquireRequest(t *testing.T) {
	req, err := NewAcquireRequest(acquireTemplate(), 3, 0, map[string]string{"team": "ci"}, nil, "corr-1")
	require.NoError(t, err)
	assert.Regexp(t, AcquireRequestIDPattern, req.ID)
	assert.Equal(t, RequestTypeAcquire, req.Type)
	assert.Equal(t, RequestStatusPending, req.Status)
	assert.Equal(t, DefaultTimeoutSeconds, req.TimeoutSeconds)
	assert.Equal(t, "corr-1", req.CorrelationID)
	require.Len(t, req.EventLog, 1)
	assert.Equal(t, EventRequestCreated, req.EventLog[0].Type)
}

func TestNewAcquireRequestValidation(t *testing.T) {
	_, err := NewAcquireRequest(acquireTemplate(), 0, 0, nil, nil, "")
	assert.Equal(t, ErrTypeValidation, ErrorType(err))

	_, err = NewAcquireRequest(acquireTemplate(), 11, 0, nil, nil, "")
	assert.Equal(t, ErrTypeRequestValidation, ErrorType(err))
}

func TestAcquireRequestTimeoutClamped(t *testing.T) {
	req, err := NewAcquireRequest(acquireTemplate(), 1, MaxTimeoutSeconds+1, nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, MaxTimeoutSeconds, req.TimeoutSeconds)
}

func TestRequestLifecycle(t *testing.T) {
	req, err := NewAcquireRequest(acquireTemplate(), 2, 600, nil, nil, "")
	require.NoError(t, err)

	require.NoError(t, req.BeginProvisioning())
	require.NoError(t, req.ResourcesAcquired("fleet-1"))
	assert.Equal(t, "fleet-1", req.ResourceID)
	assert.Equal(t, RequestStatusRunning, req.Status)

	require.NoError(t, req.Complete())
	assert.True(t, req.Status.IsTerminal())
	assert.False(t, req.IsActive())

	// terminal, no edges left
	err = req.Fail("late failure")
	require.Error(t, err)
	assert.Equal(t, ErrTypeInvalidRequestState, ErrorType(err))
}

func TestRequestFailTimeoutMessage(t *testing.T) {
	req, err := NewAcquireRequest(acquireTemplate(), 1, 600, nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, req.BeginProvisioning())
	require.NoError(t, req.ResourcesAcquired("r-1"))

	require.NoError(t, req.FailTimeout())
	assert.Equal(t, "Request timed out after 600 seconds", req.Message)
}

func TestRequestTimedOutFromFirstObservation(t *testing.T) {
	req, err := NewAcquireRequest(acquireTemplate(), 1, 600, nil, nil, "")
	require.NoError(t, err)

	now := time.Now().UTC()
	assert.False(t, req.TimedOut(now), "no observation yet")

	req.Observe(now)
	require.NotNil(t, req.FirstObservedAt)
	assert.False(t, req.TimedOut(now.Add(599*time.Second)))
	assert.True(t, req.TimedOut(now.Add(601*time.Second)))

	// later observations never move the timeout anchor
	req.Observe(now.Add(time.Minute))
	assert.Equal(t, now, *req.FirstObservedAt)
	assert.Equal(t, now.Add(time.Minute), *req.LastObservedAt)
}

func TestAttachMachine(t *testing.T) {
	req, err := NewAcquireRequest(acquireTemplate(), 2, 0, nil, nil, "")
	require.NoError(t, err)

	require.NoError(t, req.AttachMachine("i-001"))
	require.NoError(t, req.AttachMachine("i-002"))
	assert.True(t, req.HasMachine("i-001"))

	// idempotent for a known machine
	require.NoError(t, req.AttachMachine("i-001"))
	assert.Len(t, req.MachineIDs, 2)

	// over-delivery is rejected
	err = req.AttachMachine("i-003")
	require.Error(t, err)
	assert.Equal(t, ErrTypeRequestValidation, ErrorType(err))
}

func TestNewReturnRequest(t *testing.T) {
	ret := NewReturnRequest([]string{"i-001", "i-002"}, "corr-9")
	assert.Regexp(t, ReturnRequestIDPattern, ret.ID)
	assert.Equal(t, RequestTypeReturn, ret.Type)
	assert.Equal(t, 2, ret.RequestedCount)
	assert.Equal(t, []string{"i-001", "i-002"}, ret.MachineIDs)

	require.NoError(t, ret.BeginProvisioning())
	require.NoError(t, ret.ReleasesDispatched())
	require.NoError(t, ret.Complete())
}

func TestRequestTypeOf(t *testing.T) {
	typ, err := RequestTypeOf("req-abc")
	require.NoError(t, err)
	assert.Equal(t, RequestTypeAcquire, typ)

	typ, err = RequestTypeOf("ret-abc")
	require.NoError(t, err)
	assert.Equal(t, RequestTypeReturn, typ)

	_, err = RequestTypeOf("job-abc")
	assert.Error(t, err)
}

func TestTakeEventsDrains(t *testing.T) {
	req, err := NewAcquireRequest(acquireTemplate(), 1, 0, nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, req.BeginProvisioning())

	taken := req.TakeEvents()
	assert.Len(t, taken, 2)
	assert.Empty(t, req.TakeEvents())
	// the aggregate log keeps the full history
	assert.Len(t, req.EventLog, 2)
}
