package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/health"
	"github.com/cuemby/paddock/pkg/lifecycle"
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
  - templateId: linux-alias
    strategy: direct_launch
    maxNumber: 5
    imageId: /aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64
    subnetId: subnet-0123
    machineType: m5.large
`

type harness struct {
	service *Service
	cloud   *fake.Cloud
}

func newHarness(t *testing.T, limiter *rate.Limiter) *harness {
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
	cloud.Parameters["/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64"] = "ami-0fedcba9876543210"
	clients := &provider.Clients{
		EC2: &fake.EC2{Cloud: cloud},
		ASG: &fake.ASG{Cloud: cloud},
		SSM: &fake.SSM{Cloud: cloud},
		IAM: &fake.IAM{Cloud: cloud},
	}
	policy := provider.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond}
	resolver := template.NewResolver(clients.SSM, policy, time.Minute)

	engine := &lifecycle.Engine{
		Templates:  store,
		Resolver:   resolver,
		Validator:  provider.NewValidator(clients.EC2, policy, 100),
		Dispatch:   provider.NewDispatcher(clients, policy),
		Requests:   requests,
		Machines:   machines,
		UoW:        &storage.UnitOfWorkFactory{Requests: requests, Machines: machines, Publisher: events.NewSyncPublisher()},
		Checker:    health.NewChecker(clients.EC2, policy),
		CleanupAge: 72 * time.Hour,
	}
	return &harness{
		service: NewService(engine, resolver, limiter, 300*time.Second, 120*time.Second),
		cloud:   cloud,
	}
}

func (h *harness) runAll(t *testing.T) {
	t.Helper()
	for id := range h.cloud.InstanceState {
		if h.cloud.InstanceState[id] != ec2types.InstanceStateNameTerminated {
			h.cloud.SetInstanceState(id, ec2types.InstanceStateNameRunning)
		}
	}
}

// acquire walks a template through requestMachines and a status poll so the
// machines reach running
func (h *harness) acquire(t *testing.T, templateID string, count int) (string, []MachineReport) {
	t.Helper()
	out := h.service.Run(context.Background(), OpRequestMachines, &Input{
		Template: &TemplateRef{TemplateID: templateID, MachineCount: count},
	})
	require.Empty(t, out.Error)
	require.NotNil(t, out.RequestID)

	h.runAll(t)
	status := h.service.Run(context.Background(), OpGetRequestStatus, &Input{
		Requests: []RequestRef{{RequestID: *out.RequestID}},
	})
	require.Empty(t, status.Error)
	require.Len(t, status.Requests, 1)
	require.Len(t, status.Requests[0].Machines, count)
	return *out.RequestID, status.Requests[0].Machines
}

func TestGetAvailableTemplates(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), OpGetAvailableTemplates, &Input{})
	require.Empty(t, out.Error)
	require.Len(t, out.Templates, 2)
	assert.Empty(t, out.Templates[0].ResolvedImageID)
	assert.NotEmpty(t, out.Metadata.CorrelationID)
}

func TestGetAvailableTemplatesLongResolvesAliases(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), OpGetAvailableTemplates, &Input{Long: true})
	require.Empty(t, out.Error)

	byID := map[string]TemplateReport{}
	for _, tmpl := range out.Templates {
		byID[tmpl.TemplateID] = tmpl
	}
	assert.Empty(t, byID["linux-direct"].ResolvedImageID)
	assert.Equal(t, "ami-0fedcba9876543210", byID["linux-alias"].ResolvedImageID)
}

func TestRequestMachinesAndStatusLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	requestID, machines := h.acquire(t, "linux-direct", 2)
	assert.Regexp(t, domain.AcquireRequestIDPattern, requestID)
	for _, m := range machines {
		assert.Equal(t, "succeed", m.Result)
		assert.NotZero(t, m.LaunchTime)
		assert.NotEmpty(t, m.PrivateIPAddress)
	}

	// terminal requests poll idempotently
	again := h.service.Run(context.Background(), OpGetRequestStatus, &Input{
		Requests: []RequestRef{{RequestID: requestID}},
	})
	require.Empty(t, again.Error)
	assert.Equal(t, string(domain.RequestStatusComplete), again.Requests[0].Status)
}

func TestRequestMachinesValidation(t *testing.T) {
	h := newHarness(t, nil)

	out := h.service.Run(context.Background(), OpRequestMachines, &Input{})
	assert.Equal(t, domain.ErrTypeValidation, out.Metadata.ErrorType)

	out = h.service.Run(context.Background(), OpRequestMachines, &Input{
		Template: &TemplateRef{TemplateID: "linux-direct", MachineCount: 0},
	})
	assert.Equal(t, domain.ErrTypeValidation, out.Metadata.ErrorType)
}

func TestRequestMachinesUnknownTemplate(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), OpRequestMachines, &Input{
		Template: &TemplateRef{TemplateID: "windows", MachineCount: 1},
	})
	assert.Equal(t, domain.ErrTypeTemplateNotFound, out.Metadata.ErrorType)
	assert.Contains(t, out.Error, "windows")
}

func TestReturnMachinesEmptyListMutatesNothing(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), OpRequestReturnMachines, &Input{})
	require.Empty(t, out.Error)
	assert.Nil(t, out.RequestID)
	assert.Equal(t, "no machines to return", out.Message)

	returns := h.service.Run(context.Background(), OpGetReturnRequests, &Input{})
	require.Empty(t, returns.Error)
	assert.Empty(t, returns.Requests)
}

func TestReturnMachinesRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	_, machines := h.acquire(t, "linux-direct", 2)

	out := h.service.Run(context.Background(), OpRequestReturnMachines, &Input{
		Machines: []MachineRef{{MachineID: machines[0].MachineID}},
	})
	require.Empty(t, out.Error)
	require.NotNil(t, out.RequestID)
	assert.Regexp(t, domain.ReturnRequestIDPattern, *out.RequestID)
	assert.Equal(t, ec2types.InstanceStateNameTerminated, h.cloud.InstanceState[machines[0].MachineID])
	assert.NotEqual(t, ec2types.InstanceStateNameTerminated, h.cloud.InstanceState[machines[1].MachineID])
}

func TestReturnMachinesRejectsEmptyID(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), OpRequestReturnMachines, &Input{
		Machines: []MachineRef{{Name: "nameless"}},
	})
	assert.Equal(t, domain.ErrTypeValidation, out.Metadata.ErrorType)
}

func TestReturnAllMachines(t *testing.T) {
	h := newHarness(t, nil)
	_, machines := h.acquire(t, "linux-direct", 3)

	out := h.service.Run(context.Background(), OpRequestReturnMachines, &Input{All: true})
	require.Empty(t, out.Error)
	require.NotNil(t, out.RequestID)
	for _, m := range machines {
		assert.Equal(t, ec2types.InstanceStateNameTerminated, h.cloud.InstanceState[m.MachineID])
	}
}

func TestGetRequestStatusPartialFailure(t *testing.T) {
	h := newHarness(t, nil)
	requestID, _ := h.acquire(t, "linux-direct", 1)

	out := h.service.Run(context.Background(), OpGetRequestStatus, &Input{
		Requests: []RequestRef{{RequestID: requestID}, {RequestID: "req-missing"}},
	})
	require.Empty(t, out.Error)
	require.Len(t, out.Requests, 1)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "req-missing", out.Errors[0].RequestID)
	assert.Equal(t, domain.ErrTypeRequestNotFound, out.Errors[0].ErrorType)
}

func TestGetRequestStatusAllFailed(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), OpGetRequestStatus, &Input{
		Requests: []RequestRef{{RequestID: "req-missing"}},
	})
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, domain.ErrTypeInternal, out.Metadata.ErrorType)
}

func TestGetRequestStatusRequiresSelector(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), OpGetRequestStatus, &Input{})
	assert.Equal(t, domain.ErrTypeValidation, out.Metadata.ErrorType)
}

func TestGetReturnRequestsReportsGracePeriod(t *testing.T) {
	h := newHarness(t, nil)
	_, machines := h.acquire(t, "linux-direct", 1)
	ret := h.service.Run(context.Background(), OpRequestReturnMachines, &Input{
		Machines: []MachineRef{{MachineID: machines[0].MachineID}},
	})
	require.Empty(t, ret.Error)

	out := h.service.Run(context.Background(), OpGetReturnRequests, &Input{})
	require.Empty(t, out.Error)
	require.Len(t, out.Requests, 1)
	assert.Equal(t, *ret.RequestID, out.Requests[0].RequestID)
	assert.Equal(t, 300, out.Requests[0].GracePeriod)
	require.Len(t, out.Requests[0].Machines, 1)
}

func TestGetReturnRequestsServedFromCache(t *testing.T) {
	h := newHarness(t, nil)
	_, machines := h.acquire(t, "linux-direct", 2)

	first := h.service.Run(context.Background(), OpGetReturnRequests, &Input{})
	require.Empty(t, first.Error)
	assert.Empty(t, first.Requests)

	ret := h.service.Run(context.Background(), OpRequestReturnMachines, &Input{
		Machines: []MachineRef{{MachineID: machines[0].MachineID}},
	})
	require.Empty(t, ret.Error)

	// identical query inside the TTL still sees the cached snapshot
	cached := h.service.Run(context.Background(), OpGetReturnRequests, &Input{})
	require.Empty(t, cached.Error)
	assert.Empty(t, cached.Requests)

	h.service.returnCache.Flush()
	fresh := h.service.Run(context.Background(), OpGetReturnRequests, &Input{})
	require.Empty(t, fresh.Error)
	assert.Len(t, fresh.Requests, 1)
}

func TestRateLimitedOperation(t *testing.T) {
	h := newHarness(t, rate.NewLimiter(rate.Every(time.Hour), 1))

	first := h.service.Run(context.Background(), OpGetAvailableTemplates, &Input{})
	require.Empty(t, first.Error)

	second := h.service.Run(context.Background(), OpGetAvailableTemplates, &Input{})
	assert.Equal(t, domain.ErrTypeRateLimit, second.Metadata.ErrorType)
	assert.Contains(t, second.Error, "rate limit exceeded")
}

func TestUnknownOperation(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), "mintMachines", &Input{})
	assert.Equal(t, domain.ErrTypeValidation, out.Metadata.ErrorType)
	assert.Contains(t, out.Error, "mintMachines")
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := newHarness(t, nil)
	out := h.service.Run(context.Background(), OpGetAvailableTemplates, &Input{CorrelationID: "corr-42"})
	assert.Equal(t, "corr-42", out.Metadata.CorrelationID)
}
