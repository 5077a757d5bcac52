package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/health"
	"github.com/cuemby/paddock/pkg/provider"
	"github.com/cuemby/paddock/pkg/provider/fake"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/template"
)

const testCatalog = `
templates:
  - templateId: linux-direct
    strategy: direct_launch
    maxNumber: 10
    imageId: ami-0123456789abcdef0
    subnetId: subnet-0123
    machineType: m5.large
  - templateId: linux-fleet
    strategy: instant_fleet
    maxNumber: 20
    imageId: ami-0123456789abcdef0
    subnetIds: [subnet-0123, subnet-4567]
    machineTypes:
      m5.large: 1
  - templateId: linux-spot
    strategy: spot_fleet
    maxNumber: 20
    imageId: ami-0123456789abcdef0
    subnetId: subnet-0123
    machineType: m5.large
    fleetRole: spot-fleet-role
`

type harness struct {
	engine *Engine
	cloud  *fake.Cloud
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o644))
	store, err := template.NewStore(catalogPath)
	require.NoError(t, err)

	cfg := storage.Config{Type: storage.TypeFile, Params: map[string]string{"dir": dir}}
	reqStrategy, err := storage.NewStrategy(cfg, storage.EntityRequests)
	require.NoError(t, err)
	machStrategy, err := storage.NewStrategy(cfg, storage.EntityMachines)
	require.NoError(t, err)
	t.Cleanup(func() {
		reqStrategy.Close()
		machStrategy.Close()
	})

	requests := storage.NewRequestRepository(reqStrategy)
	machines := storage.NewMachineRepository(machStrategy)

	cloud := fake.NewCloud()
	cloud.Roles["spot-fleet-role"] = "arn:aws:iam::123456789012:role/spot-fleet-role"
	clients := &provider.Clients{
		EC2: &fake.EC2{Cloud: cloud},
		ASG: &fake.ASG{Cloud: cloud},
		SSM: &fake.SSM{Cloud: cloud},
		IAM: &fake.IAM{Cloud: cloud},
	}
	policy := provider.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond}

	engine := &Engine{
		Templates:  store,
		Resolver:   template.NewResolver(clients.SSM, policy, time.Minute),
		Validator:  provider.NewValidator(clients.EC2, policy, 100),
		Dispatch:   provider.NewDispatcher(clients, policy),
		Requests:   requests,
		Machines:   machines,
		UoW:        &storage.UnitOfWorkFactory{Requests: requests, Machines: machines, Publisher: events.NewSyncPublisher()},
		Checker:    health.NewChecker(clients.EC2, policy),
		CleanupAge: 72 * time.Hour,
	}
	return &harness{engine: engine, cloud: cloud}
}

func (h *harness) acquire(t *testing.T, templateID string, count int) *domain.Request {
	t.Helper()
	req, err := h.engine.CreateAcquire(context.Background(), CreateAcquireParams{
		TemplateID: templateID,
		Count:      count,
	})
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusRunning, req.Status)
	return req
}

func (h *harness) runAll(t *testing.T) {
	t.Helper()
	for id := range h.cloud.InstanceState {
		if h.cloud.InstanceState[id] != ec2types.InstanceStateNameTerminated {
			h.cloud.SetInstanceState(id, ec2types.InstanceStateNameRunning)
		}
	}
}

func TestAcquireReconcileComplete(t *testing.T) {
	h := newHarness(t)
	req := h.acquire(t, "linux-direct", 3)
	assert.Regexp(t, domain.AcquireRequestIDPattern, req.ID)
	assert.NotEmpty(t, req.ResourceID)

	// first observation discovers the machines in pending
	got, machines, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusRunning, got.Status)
	require.Len(t, machines, 3)
	for _, m := range machines {
		assert.Equal(t, domain.MachineStatusPending, m.Status)
		assert.Equal(t, "executing", m.Result())
	}
	require.NotNil(t, got.FirstObservedAt)

	// provider reports running, request completes
	h.runAll(t)
	got, machines, err = h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusComplete, got.Status)
	for _, m := range machines {
		assert.Equal(t, domain.MachineStatusRunning, m.Status)
		assert.Equal(t, "succeed", m.Result())
		assert.NotEmpty(t, m.PrivateIP)
		assert.Regexp(t, `^ip-.*\.ec2\.internal$`, m.Name)
	}

	// reconciliation past completion keeps the request terminal
	again, _, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusComplete, again.Status)
}

func TestAcquireUnknownTemplate(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateAcquire(context.Background(), CreateAcquireParams{TemplateID: "nope", Count: 1})
	require.Error(t, err)
	assert.Equal(t, domain.ErrTypeTemplateNotFound, domain.ErrorType(err))
}

func TestAcquireCountOverTemplateMaximum(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateAcquire(context.Background(), CreateAcquireParams{TemplateID: "linux-direct", Count: 11})
	require.Error(t, err)
	assert.Equal(t, domain.ErrTypeRequestValidation, domain.ErrorType(err))
}

func TestAcquireProviderFailurePersistsFailedRequest(t *testing.T) {
	h := newHarness(t)
	h.cloud.FailNext("RunInstances",
		fake.APIError("UnauthorizedOperation", "denied"))

	req, err := h.engine.CreateAcquire(context.Background(), CreateAcquireParams{TemplateID: "linux-direct", Count: 1})
	require.Error(t, err)
	require.NotNil(t, req)
	assert.Equal(t, provider.KindIAM, provider.KindOf(err))

	stored, err := h.engine.Requests.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusFailed, stored.Status)
	assert.Contains(t, stored.Message, "acquiring hosts")
}

func TestReturnFullAcquisition(t *testing.T) {
	h := newHarness(t)
	req := h.acquire(t, "linux-fleet", 2)
	h.runAll(t)
	_, machines, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, machines, 2)

	ids := []string{machines[0].ID, machines[1].ID}
	ret, err := h.engine.CreateReturn(context.Background(), ids, "corr-1")
	require.NoError(t, err)
	assert.Regexp(t, domain.ReturnRequestIDPattern, ret.ID)
	assert.Equal(t, domain.RequestStatusComplete, ret.Status)

	for _, id := range ids {
		m, err := h.engine.Machines.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.MachineStatusReturned, m.Status)
		assert.Equal(t, ec2types.InstanceStateNameTerminated, h.cloud.InstanceState[id])
	}
	// the whole acquisition was released, the fleet is gone
	assert.Empty(t, h.cloud.Fleets)
}

func TestReturnSubsetKeepsAcquisitionAlive(t *testing.T) {
	h := newHarness(t)
	req := h.acquire(t, "linux-fleet", 3)
	h.runAll(t)
	_, machines, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, machines, 3)

	ret, err := h.engine.CreateReturn(context.Background(), []string{machines[0].ID}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusComplete, ret.Status)
	assert.Len(t, h.cloud.Fleets, 1)

	m, err := h.engine.Machines.Get(context.Background(), machines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MachineStatusReturned, m.Status)
}

func TestReturnRejectsNonRunningMachine(t *testing.T) {
	h := newHarness(t)
	req := h.acquire(t, "linux-direct", 1)
	_, machines, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, machines, 1)

	// still pending, not returnable
	_, err = h.engine.CreateReturn(context.Background(), []string{machines[0].ID}, "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrTypeInvalidMachineState, domain.ErrorType(err))
}

func TestReturnUnknownMachine(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateReturn(context.Background(), []string{"i-deadbeef"}, "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrTypeMachineNotFound, domain.ErrorType(err))
}

func TestReconcileTimeout(t *testing.T) {
	h := newHarness(t)
	req := h.acquire(t, "linux-direct", 1)
	_, _, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)

	// age the first observation past the timeout budget
	stored, err := h.engine.Requests.Get(context.Background(), req.ID)
	require.NoError(t, err)
	past := stored.FirstObservedAt.Add(-time.Duration(stored.TimeoutSeconds+1) * time.Second)
	stored.FirstObservedAt = &past
	unlock := h.engine.Requests.Lock(stored.ID)
	require.NoError(t, h.engine.Requests.Save(context.Background(), stored))
	unlock()

	got, _, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusFailed, got.Status)
	assert.Equal(t, fmt.Sprintf("Request timed out after %d seconds", stored.TimeoutSeconds), got.Message)
}

func TestReconcileDetectsReclaimedMachines(t *testing.T) {
	h := newHarness(t)
	req := h.acquire(t, "linux-spot", 2)
	h.runAll(t)
	_, machines, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, machines, 2)
	for _, m := range machines {
		assert.Equal(t, domain.PriceTierSpot, m.PriceTier)
	}

	// the provider reclaims one spot instance behind the broker's back,
	// after the request has already completed
	h.cloud.SetInstanceState(machines[0].ID, ec2types.InstanceStateNameTerminated)
	got, updated, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusComplete, got.Status)

	byID := map[string]*domain.Machine{}
	for _, m := range updated {
		byID[m.ID] = m
	}
	assert.Equal(t, domain.MachineStatusTerminated, byID[machines[0].ID].Status)
	assert.Equal(t, "fail", byID[machines[0].ID].Result())
	assert.Equal(t, domain.MachineStatusRunning, byID[machines[1].ID].Status)

	// the observation must be persisted, not just reflected in the reply
	stored, err := h.engine.Machines.Get(context.Background(), machines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MachineStatusTerminated, stored.Status)
}

func TestCheckHealthRecordsResults(t *testing.T) {
	h := newHarness(t)
	req := h.acquire(t, "linux-direct", 2)
	h.runAll(t)
	_, _, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)

	require.NoError(t, h.engine.CheckHealth(context.Background()))

	machines, err := h.engine.Machines.FindByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	for _, m := range machines {
		assert.NotNil(t, m.LastHealthCheckAt)
		assert.True(t, m.IsHealthy())
	}
}

func TestCleanupExpired(t *testing.T) {
	h := newHarness(t)
	req := h.acquire(t, "linux-direct", 1)
	h.runAll(t)
	_, _, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	got, _, err := h.engine.ReconcileStatus(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusComplete, got.Status)

	// not yet past the retention window
	removed, err := h.engine.CleanupExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = h.engine.CleanupExpired(context.Background(), time.Now().UTC().Add(73*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = h.engine.Requests.Get(context.Background(), req.ID)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}
