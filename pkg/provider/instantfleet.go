package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
)

// InstantFleetHandler acquires hosts with a synchronous CreateFleet call.
// The fleet resolves capacity at request time and reports launch failures
// in the response, so acquisition errors surface immediately.
type InstantFleetHandler struct {
	ec2    EC2API
	policy RetryPolicy
}

func NewInstantFleetHandler(client EC2API, policy RetryPolicy) *InstantFleetHandler {
	return &InstantFleetHandler{ec2: client, policy: policy}
}

func (h *InstantFleetHandler) CreateLaunchTemplate(ctx context.Context, tmpl *domain.Template, req *domain.Request) (LaunchTemplate, error) {
	return createLaunchTemplate(ctx, h.ec2, h.policy, tmpl, req)
}

func (h *InstantFleetHandler) AcquireHosts(ctx context.Context, req *domain.Request, tmpl *domain.Template) (string, error) {
	input := fleetInput(req, tmpl, ec2types.FleetTypeInstant)

	var fleetID string
	err := Retry(ctx, h.policy, "CreateFleet", func() error {
		out, err := h.ec2.CreateFleet(ctx, input)
		if err != nil {
			return err
		}
		fleetID = lo.FromPtr(out.FleetId)
		launched := 0
		for _, inst := range out.Instances {
			launched += len(inst.InstanceIds)
		}
		// an instant fleet that launched nothing carries its reason in the
		// error list, not in the call error
		if launched == 0 && len(out.Errors) > 0 {
			first := out.Errors[0]
			return &Error{Kind: kindForFleetError(lo.FromPtr(first.ErrorCode)), Op: "CreateFleet",
				Err: fmt.Errorf("fleet launched no instances: %s: %s",
					lo.FromPtr(first.ErrorCode), lo.FromPtr(first.ErrorMessage))}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.WithRequestID(req.ID).Info().
		Str("fleet_id", fleetID).
		Int("count", req.RequestedCount).
		Msg("instant fleet created")
	return fleetID, nil
}

func (h *InstantFleetHandler) CheckHostsStatus(ctx context.Context, req *domain.Request) ([]InstanceRecord, error) {
	return fleetInstanceRecords(ctx, h.ec2, h.policy, req)
}

func (h *InstantFleetHandler) ReleaseHosts(ctx context.Context, req *domain.Request, machines []*domain.Machine) error {
	// instant fleets do not track capacity after launch: a full release
	// deletes the fleet with termination, a partial one terminates directly
	if len(machines) > 0 {
		ids := lo.Map(machines, func(m *domain.Machine, _ int) string { return m.ID })
		return Retry(ctx, h.policy, "TerminateInstances", func() error {
			_, err := h.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
			if IsNotFound(err) {
				return nil
			}
			return err
		})
	}
	if err := deleteFleet(ctx, h.ec2, h.policy, req.ResourceID); err != nil {
		return err
	}
	return deleteLaunchTemplate(ctx, h.ec2, h.policy, req)
}

// fleetInput renders the shared CreateFleet request for instant and managed
// fleets
func fleetInput(req *domain.Request, tmpl *domain.Template, fleetType ec2types.FleetType) *ec2.CreateFleetInput {
	overrides := fleetOverrides(tmpl)
	input := &ec2.CreateFleetInput{
		Type: fleetType,
		LaunchTemplateConfigs: []ec2types.FleetLaunchTemplateConfigRequest{{
			LaunchTemplateSpecification: &ec2types.FleetLaunchTemplateSpecificationRequest{
				LaunchTemplateId: lo.ToPtr(req.LaunchTemplateID),
				Version:          lo.ToPtr(req.LaunchTemplateVersion),
			},
			Overrides: overrides,
		}},
		TargetCapacitySpecification: &ec2types.TargetCapacitySpecificationRequest{
			TotalTargetCapacity:       lo.ToPtr(int32(req.RequestedCount)),
			DefaultTargetCapacityType: ec2types.DefaultTargetCapacityTypeOnDemand,
		},
		TagSpecifications: tagSpec(ec2types.ResourceTypeFleet, requestTags(req, tmpl)),
	}
	if tmpl.AllocationStrategy != "" {
		input.OnDemandOptions = &ec2types.OnDemandOptionsRequest{
			AllocationStrategy: ec2types.FleetOnDemandAllocationStrategy(tmpl.AllocationStrategy),
		}
	}
	return input
}

// fleetOverrides expands the template's subnet and weighted type matrix into
// per-combination overrides
func fleetOverrides(tmpl *domain.Template) []ec2types.FleetLaunchTemplateOverridesRequest {
	subnets := tmpl.Subnets()
	types := tmpl.Types()
	overrides := make([]ec2types.FleetLaunchTemplateOverridesRequest, 0, len(subnets)*len(types))
	for _, subnet := range subnets {
		for machineType, weight := range types {
			overrides = append(overrides, ec2types.FleetLaunchTemplateOverridesRequest{
				SubnetId:         lo.ToPtr(subnet),
				InstanceType:     ec2types.InstanceType(machineType),
				WeightedCapacity: lo.ToPtr(weight),
			})
		}
	}
	return overrides
}

// fleetInstanceRecords lists the fleet's current instances with full detail
func fleetInstanceRecords(ctx context.Context, client EC2API, policy RetryPolicy, req *domain.Request) ([]InstanceRecord, error) {
	var ids []string
	err := Retry(ctx, policy, "DescribeFleetInstances", func() error {
		ids = ids[:0]
		out, err := client.DescribeFleetInstances(ctx, &ec2.DescribeFleetInstancesInput{
			FleetId: lo.ToPtr(req.ResourceID),
		})
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		for _, inst := range out.ActiveInstances {
			ids = append(ids, lo.FromPtr(inst.InstanceId))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return describeByIDs(ctx, client, policy, ids)
}

// deleteFleet tears the fleet down, terminating whatever it still holds
func deleteFleet(ctx context.Context, client EC2API, policy RetryPolicy, fleetID string) error {
	if fleetID == "" {
		return nil
	}
	return Retry(ctx, policy, "DeleteFleets", func() error {
		_, err := client.DeleteFleets(ctx, &ec2.DeleteFleetsInput{
			FleetIds:           []string{fleetID},
			TerminateInstances: lo.ToPtr(true),
		})
		if IsNotFound(err) {
			return nil
		}
		return err
	})
}

// kindForFleetError maps a fleet-level error code onto the handler error
// kinds
func kindForFleetError(code string) ErrorKind {
	switch {
	case capacityErrorCodes[code]:
		return KindCapacity
	case quotaErrorCodes[code]:
		return KindQuota
	case iamErrorCodes[code]:
		return KindIAM
	default:
		return KindValidation
	}
}
