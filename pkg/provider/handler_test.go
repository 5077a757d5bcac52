package provider

import (
	"context"
	"testing"
	"time"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/provider/fake"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond}
}

func testTemplate(strategy domain.Strategy) *domain.Template {
	tmpl := &domain.Template{
		TemplateID:  "linux-small",
		Strategy:    strategy,
		MaxNumber:   10,
		ImageID:     "ami-0123456789abcdef0",
		SubnetID:    "subnet-0123",
		MachineType: "m5.large",
	}
	if strategy.IsSpot() {
		tmpl.FleetRole = "spot-fleet-role"
	}
	return tmpl
}

func testRequest(t *testing.T, tmpl *domain.Template, count int) *domain.Request {
	t.Helper()
	req, err := domain.NewAcquireRequest(tmpl, count, 0, nil, nil, "")
	require.NoError(t, err)
	return req
}

// acquire drives one handler through launch template creation and host
// acquisition, mirroring the lifecycle engine's call order
func acquire(t *testing.T, h Handler, req *domain.Request, tmpl *domain.Template) {
	t.Helper()
	ctx := context.Background()
	lt, err := h.CreateLaunchTemplate(ctx, tmpl, req)
	require.NoError(t, err)
	require.NotEmpty(t, lt.ID)
	req.SetLaunchTemplate(lt.ID, lt.Version)
	resourceID, err := h.AcquireHosts(ctx, req, tmpl)
	require.NoError(t, err)
	require.NotEmpty(t, resourceID)
	req.ResourceID = resourceID
}

func TestDirectLaunchAcquireAndCheck(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewDirectLaunchHandler(&fake.EC2{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategyDirectLaunch)
	req := testRequest(t, tmpl, 3)

	acquire(t, h, req, tmpl)

	records, err := h.CheckHostsStatus(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	for _, rec := range records {
		assert.Regexp(t, domain.MachineIDPattern, rec.ID)
		assert.Equal(t, string(ec2types.InstanceStateNamePending), rec.State)
		assert.Equal(t, domain.PriceTierOnDemand, rec.PriceTier)
	}
}

func TestDirectLaunchFullRelease(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewDirectLaunchHandler(&fake.EC2{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategyDirectLaunch)
	req := testRequest(t, tmpl, 2)
	acquire(t, h, req, tmpl)

	require.NoError(t, h.ReleaseHosts(context.Background(), req, nil))

	for id, state := range cloud.InstanceState {
		assert.Equal(t, ec2types.InstanceStateNameTerminated, state, id)
	}
	assert.Empty(t, cloud.LaunchTemplates)
}

func TestInstantFleetAcquireReportsLaunchFailure(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewInstantFleetHandler(&fake.EC2{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategyInstantFleet)
	req := testRequest(t, tmpl, 2)

	ctx := context.Background()
	lt, err := h.CreateLaunchTemplate(ctx, tmpl, req)
	require.NoError(t, err)
	req.SetLaunchTemplate(lt.ID, lt.Version)

	cloud.FailNext("CreateFleet", fake.APIError("MaxSpotInstanceCountExceeded", "over the line"))
	_, err = h.AcquireHosts(ctx, req, tmpl)
	require.Error(t, err)
	assert.Equal(t, KindCapacity, KindOf(err))
}

func TestInstantFleetPartialRelease(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewInstantFleetHandler(&fake.EC2{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategyInstantFleet)
	req := testRequest(t, tmpl, 3)
	acquire(t, h, req, tmpl)

	records, err := h.CheckHostsStatus(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, records, 3)

	victim := &domain.Machine{ID: records[0].ID}
	require.NoError(t, h.ReleaseHosts(context.Background(), req, []*domain.Machine{victim}))

	remaining, err := h.CheckHostsStatus(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestManagedFleetPartialReleaseShrinksBeforeTerminating(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewManagedFleetHandler(&fake.EC2{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategyManagedFleet)
	req := testRequest(t, tmpl, 3)
	acquire(t, h, req, tmpl)

	records, err := h.CheckHostsStatus(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, records, 3)

	victim := &domain.Machine{ID: records[0].ID}
	require.NoError(t, h.ReleaseHosts(context.Background(), req, []*domain.Machine{victim}))

	assert.Equal(t, 1, cloud.Calls("ModifyFleet"))
	assert.Equal(t, 1, cloud.Calls("TerminateInstances"))
}

func TestAutoScalingGroupLifecycle(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewAutoScalingGroupHandler(&fake.EC2{Cloud: cloud}, &fake.ASG{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategyAutoScalingGroup)
	req := testRequest(t, tmpl, 3)
	acquire(t, h, req, tmpl)

	records, err := h.CheckHostsStatus(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, records, 3)

	victim := &domain.Machine{ID: records[0].ID}
	require.NoError(t, h.ReleaseHosts(context.Background(), req, []*domain.Machine{victim}))
	assert.Equal(t, 1, cloud.Calls("DetachInstances"))

	remaining, err := h.CheckHostsStatus(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	require.NoError(t, h.ReleaseHosts(context.Background(), req, nil))
	assert.Empty(t, cloud.Groups)
}

func TestSpotFleetResolvesRoleBeforeAcquiring(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewSpotFleetHandler(&fake.EC2{Cloud: cloud}, &fake.IAM{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategySpotFleet)
	req := testRequest(t, tmpl, 2)

	ctx := context.Background()
	lt, err := h.CreateLaunchTemplate(ctx, tmpl, req)
	require.NoError(t, err)
	req.SetLaunchTemplate(lt.ID, lt.Version)

	// missing role fails before any fleet request is made
	_, err = h.AcquireHosts(ctx, req, tmpl)
	require.Error(t, err)
	assert.Equal(t, KindResourceNotFound, KindOf(err))
	assert.Equal(t, 0, cloud.Calls("RequestSpotFleet"))

	cloud.Roles["spot-fleet-role"] = "arn:aws:iam::123456789012:role/spot-fleet-role"
	resourceID, err := h.AcquireHosts(ctx, req, tmpl)
	require.NoError(t, err)
	req.ResourceID = resourceID

	records, err := h.CheckHostsStatus(ctx, req)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, domain.PriceTierSpot, rec.PriceTier)
	}
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewDirectLaunchHandler(&fake.EC2{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategyDirectLaunch)
	req := testRequest(t, tmpl, 1)

	cloud.FailNext("RunInstances",
		fake.APIError("RequestLimitExceeded", "slow down"),
		fake.APIError("RequestLimitExceeded", "slow down"))

	acquire(t, h, req, tmpl)
	assert.Equal(t, 3, cloud.Calls("RunInstances"))
}

func TestRetryGivesUpOnTerminalError(t *testing.T) {
	cloud := fake.NewCloud()
	h := NewDirectLaunchHandler(&fake.EC2{Cloud: cloud}, testPolicy())
	tmpl := testTemplate(domain.StrategyDirectLaunch)
	req := testRequest(t, tmpl, 1)

	ctx := context.Background()
	lt, err := h.CreateLaunchTemplate(ctx, tmpl, req)
	require.NoError(t, err)
	req.SetLaunchTemplate(lt.ID, lt.Version)

	cloud.FailNext("RunInstances", fake.APIError("UnauthorizedOperation", "denied"))
	_, err = h.AcquireHosts(ctx, req, tmpl)
	require.Error(t, err)
	assert.Equal(t, KindIAM, KindOf(err))
	assert.Equal(t, 1, cloud.Calls("RunInstances"))
}

func TestDispatcherRoutesByStrategy(t *testing.T) {
	cloud := fake.NewCloud()
	clients := &Clients{
		EC2: &fake.EC2{Cloud: cloud},
		ASG: &fake.ASG{Cloud: cloud},
		SSM: &fake.SSM{Cloud: cloud},
		IAM: &fake.IAM{Cloud: cloud},
	}
	d := NewDispatcher(clients, testPolicy())

	for _, strategy := range []domain.Strategy{
		domain.StrategyDirectLaunch,
		domain.StrategyInstantFleet,
		domain.StrategyManagedFleet,
		domain.StrategyAutoScalingGroup,
		domain.StrategySpotFleet,
	} {
		h, err := d.ForStrategy(strategy)
		assert.NoError(t, err, strategy)
		assert.NotNil(t, h, strategy)
	}

	_, err := d.ForStrategy(domain.Strategy("teleport"))
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestValidatorAccumulatesFailures(t *testing.T) {
	cloud := fake.NewCloud()
	v := NewValidator(&fake.EC2{Cloud: cloud}, testPolicy(), 5)
	tmpl := testTemplate(domain.StrategyDirectLaunch)

	err := v.Validate(context.Background(), tmpl, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance limit")

	assert.NoError(t, v.Validate(context.Background(), tmpl, 3))
}
