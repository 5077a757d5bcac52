package provider

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
)

// SpotFleetHandler acquires spot capacity through a spot fleet request of
// type request. The fleet role is resolved and verified against IAM before
// the fleet is submitted, because a bad role otherwise fails asynchronously
// with no instances and no error.
type SpotFleetHandler struct {
	ec2    EC2API
	iam    IAMAPI
	policy RetryPolicy
}

func NewSpotFleetHandler(ec2Client EC2API, iamClient IAMAPI, policy RetryPolicy) *SpotFleetHandler {
	return &SpotFleetHandler{ec2: ec2Client, iam: iamClient, policy: policy}
}

func (h *SpotFleetHandler) CreateLaunchTemplate(ctx context.Context, tmpl *domain.Template, req *domain.Request) (LaunchTemplate, error) {
	return createLaunchTemplate(ctx, h.ec2, h.policy, tmpl, req)
}

func (h *SpotFleetHandler) AcquireHosts(ctx context.Context, req *domain.Request, tmpl *domain.Template) (string, error) {
	roleARN, err := h.resolveFleetRole(ctx, tmpl.FleetRole)
	if err != nil {
		return "", err
	}

	config := &ec2types.SpotFleetRequestConfigData{
		IamFleetRole:   lo.ToPtr(roleARN),
		TargetCapacity: lo.ToPtr(int32(req.RequestedCount)),
		Type:           ec2types.FleetTypeRequest,
		LaunchTemplateConfigs: []ec2types.LaunchTemplateConfig{{
			LaunchTemplateSpecification: &ec2types.FleetLaunchTemplateSpecification{
				LaunchTemplateId: lo.ToPtr(req.LaunchTemplateID),
				Version:          lo.ToPtr(req.LaunchTemplateVersion),
			},
			Overrides: spotOverrides(tmpl),
		}},
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSpotFleetRequest,
			Tags:         ec2Tags(requestTags(req, tmpl)),
		}},
	}
	if tmpl.MaxPrice != "" {
		config.SpotPrice = lo.ToPtr(tmpl.MaxPrice)
	}
	if tmpl.AllocationStrategy != "" {
		config.AllocationStrategy = ec2types.AllocationStrategy(tmpl.AllocationStrategy)
	}

	var fleetRequestID string
	err = Retry(ctx, h.policy, "RequestSpotFleet", func() error {
		out, err := h.ec2.RequestSpotFleet(ctx, &ec2.RequestSpotFleetInput{
			SpotFleetRequestConfig: config,
		})
		if err != nil {
			return err
		}
		fleetRequestID = lo.FromPtr(out.SpotFleetRequestId)
		return nil
	})
	if err != nil {
		return "", err
	}
	log.WithRequestID(req.ID).Info().
		Str("spot_fleet_request_id", fleetRequestID).
		Int("count", req.RequestedCount).
		Msg("spot fleet requested")
	return fleetRequestID, nil
}

func (h *SpotFleetHandler) CheckHostsStatus(ctx context.Context, req *domain.Request) ([]InstanceRecord, error) {
	var ids []string
	err := Retry(ctx, h.policy, "DescribeSpotFleetInstances", func() error {
		ids = ids[:0]
		out, err := h.ec2.DescribeSpotFleetInstances(ctx, &ec2.DescribeSpotFleetInstancesInput{
			SpotFleetRequestId: lo.ToPtr(req.ResourceID),
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
	records, err := describeByIDs(ctx, h.ec2, h.policy, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].PriceTier = domain.PriceTierSpot
	}
	return records, nil
}

func (h *SpotFleetHandler) ReleaseHosts(ctx context.Context, req *domain.Request, machines []*domain.Machine) error {
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
	err := Retry(ctx, h.policy, "CancelSpotFleetRequests", func() error {
		_, err := h.ec2.CancelSpotFleetRequests(ctx, &ec2.CancelSpotFleetRequestsInput{
			SpotFleetRequestIds: []string{req.ResourceID},
			TerminateInstances:  lo.ToPtr(true),
		})
		if IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return deleteLaunchTemplate(ctx, h.ec2, h.policy, req)
}

// resolveFleetRole turns a role name into its ARN and verifies it exists.
// ARNs are verified by name, extracted from the final path segment.
func (h *SpotFleetHandler) resolveFleetRole(ctx context.Context, role string) (string, error) {
	name := role
	if strings.HasPrefix(role, "arn:") {
		parts := strings.Split(role, "/")
		name = parts[len(parts)-1]
	}
	var arn string
	err := Retry(ctx, h.policy, "GetRole", func() error {
		out, err := h.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: lo.ToPtr(name)})
		if err != nil {
			return err
		}
		arn = lo.FromPtr(out.Role.Arn)
		return nil
	})
	if err != nil {
		return "", err
	}
	return arn, nil
}

// spotOverrides expands the subnet and weighted type matrix for the spot
// fleet request shape
func spotOverrides(tmpl *domain.Template) []ec2types.LaunchTemplateOverrides {
	subnets := tmpl.Subnets()
	types := tmpl.Types()
	overrides := make([]ec2types.LaunchTemplateOverrides, 0, len(subnets)*len(types))
	for _, subnet := range subnets {
		for machineType, weight := range types {
			overrides = append(overrides, ec2types.LaunchTemplateOverrides{
				SubnetId:         lo.ToPtr(subnet),
				InstanceType:     ec2types.InstanceType(machineType),
				WeightedCapacity: lo.ToPtr(weight),
			})
		}
	}
	return overrides
}
