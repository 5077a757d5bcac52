package provider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
)

// ManagedFleetHandler acquires hosts with an asynchronous CreateFleet of
// type maintain. The fleet keeps replacing lost capacity, so partial returns
// must shrink the target before terminating, or the fleet launches
// replacements for the machines just handed back.
type ManagedFleetHandler struct {
	ec2    EC2API
	policy RetryPolicy
}

func NewManagedFleetHandler(client EC2API, policy RetryPolicy) *ManagedFleetHandler {
	return &ManagedFleetHandler{ec2: client, policy: policy}
}

func (h *ManagedFleetHandler) CreateLaunchTemplate(ctx context.Context, tmpl *domain.Template, req *domain.Request) (LaunchTemplate, error) {
	return createLaunchTemplate(ctx, h.ec2, h.policy, tmpl, req)
}

func (h *ManagedFleetHandler) AcquireHosts(ctx context.Context, req *domain.Request, tmpl *domain.Template) (string, error) {
	input := fleetInput(req, tmpl, ec2types.FleetTypeMaintain)
	input.ExcessCapacityTerminationPolicy = ec2types.FleetExcessCapacityTerminationPolicyTermination

	var fleetID string
	err := Retry(ctx, h.policy, "CreateFleet", func() error {
		out, err := h.ec2.CreateFleet(ctx, input)
		if err != nil {
			return err
		}
		fleetID = lo.FromPtr(out.FleetId)
		return nil
	})
	if err != nil {
		return "", err
	}
	log.WithRequestID(req.ID).Info().
		Str("fleet_id", fleetID).
		Int("count", req.RequestedCount).
		Msg("managed fleet created")
	return fleetID, nil
}

func (h *ManagedFleetHandler) CheckHostsStatus(ctx context.Context, req *domain.Request) ([]InstanceRecord, error) {
	return fleetInstanceRecords(ctx, h.ec2, h.policy, req)
}

func (h *ManagedFleetHandler) ReleaseHosts(ctx context.Context, req *domain.Request, machines []*domain.Machine) error {
	if len(machines) == 0 {
		if err := deleteFleet(ctx, h.ec2, h.policy, req.ResourceID); err != nil {
			return err
		}
		return deleteLaunchTemplate(ctx, h.ec2, h.policy, req)
	}

	// shrink first so the fleet does not replace the terminated capacity
	records, err := h.CheckHostsStatus(ctx, req)
	if err != nil {
		return err
	}
	remaining := len(records) - len(machines)
	if remaining < 0 {
		remaining = 0
	}
	err = Retry(ctx, h.policy, "ModifyFleet", func() error {
		_, err := h.ec2.ModifyFleet(ctx, &ec2.ModifyFleetInput{
			FleetId: lo.ToPtr(req.ResourceID),
			TargetCapacitySpecification: &ec2types.TargetCapacitySpecificationRequest{
				TotalTargetCapacity: lo.ToPtr(int32(remaining)),
			},
			ExcessCapacityTerminationPolicy: ec2types.FleetExcessCapacityTerminationPolicyNoTermination,
		})
		return err
	})
	if err != nil {
		return err
	}

	ids := lo.Map(machines, func(m *domain.Machine, _ int) string { return m.ID })
	return Retry(ctx, h.policy, "TerminateInstances", func() error {
		_, err := h.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
		if IsNotFound(err) {
			return nil
		}
		return err
	})
}
