package provider

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
)

// AutoScalingGroupHandler acquires hosts through an auto scaling group
// pinned at min = max = desired. Subset returns detach with a desired
// capacity decrement so the group does not launch replacements.
type AutoScalingGroupHandler struct {
	ec2    EC2API
	asg    ASGAPI
	policy RetryPolicy
}

func NewAutoScalingGroupHandler(ec2Client EC2API, asgClient ASGAPI, policy RetryPolicy) *AutoScalingGroupHandler {
	return &AutoScalingGroupHandler{ec2: ec2Client, asg: asgClient, policy: policy}
}

func (h *AutoScalingGroupHandler) CreateLaunchTemplate(ctx context.Context, tmpl *domain.Template, req *domain.Request) (LaunchTemplate, error) {
	return createLaunchTemplate(ctx, h.ec2, h.policy, tmpl, req)
}

func (h *AutoScalingGroupHandler) AcquireHosts(ctx context.Context, req *domain.Request, tmpl *domain.Template) (string, error) {
	groupName := "paddock-" + req.ID
	count := int32(req.RequestedCount)

	tags := requestTags(req, tmpl)
	asgTags := make([]asgtypes.Tag, 0, len(tags))
	for _, t := range ec2Tags(tags) {
		asgTags = append(asgTags, asgtypes.Tag{
			Key:               t.Key,
			Value:             t.Value,
			PropagateAtLaunch: lo.ToPtr(true),
		})
	}

	err := Retry(ctx, h.policy, "CreateAutoScalingGroup", func() error {
		_, err := h.asg.CreateAutoScalingGroup(ctx, &autoscaling.CreateAutoScalingGroupInput{
			AutoScalingGroupName: lo.ToPtr(groupName),
			LaunchTemplate: &asgtypes.LaunchTemplateSpecification{
				LaunchTemplateId: lo.ToPtr(req.LaunchTemplateID),
				Version:          lo.ToPtr(req.LaunchTemplateVersion),
			},
			MinSize:           lo.ToPtr(count),
			MaxSize:           lo.ToPtr(count),
			DesiredCapacity:   lo.ToPtr(count),
			VPCZoneIdentifier: lo.ToPtr(strings.Join(tmpl.Subnets(), ",")),
			Tags:              asgTags,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	log.WithRequestID(req.ID).Info().
		Str("group_name", groupName).
		Int("count", req.RequestedCount).
		Msg("auto scaling group created")
	return groupName, nil
}

func (h *AutoScalingGroupHandler) CheckHostsStatus(ctx context.Context, req *domain.Request) ([]InstanceRecord, error) {
	var ids []string
	err := Retry(ctx, h.policy, "DescribeAutoScalingGroups", func() error {
		ids = ids[:0]
		out, err := h.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: []string{req.ResourceID},
		})
		if err != nil {
			return err
		}
		for _, group := range out.AutoScalingGroups {
			for _, inst := range group.Instances {
				ids = append(ids, lo.FromPtr(inst.InstanceId))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return describeByIDs(ctx, h.ec2, h.policy, ids)
}

func (h *AutoScalingGroupHandler) ReleaseHosts(ctx context.Context, req *domain.Request, machines []*domain.Machine) error {
	if len(machines) == 0 {
		err := Retry(ctx, h.policy, "DeleteAutoScalingGroup", func() error {
			_, err := h.asg.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
				AutoScalingGroupName: lo.ToPtr(req.ResourceID),
				ForceDelete:          lo.ToPtr(true),
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

	ids := lo.Map(machines, func(m *domain.Machine, _ int) string { return m.ID })
	err := Retry(ctx, h.policy, "DetachInstances", func() error {
		_, err := h.asg.DetachInstances(ctx, &autoscaling.DetachInstancesInput{
			AutoScalingGroupName:           lo.ToPtr(req.ResourceID),
			InstanceIds:                    ids,
			ShouldDecrementDesiredCapacity: lo.ToPtr(true),
		})
		return err
	})
	if err != nil {
		return err
	}
	return Retry(ctx, h.policy, "TerminateInstances", func() error {
		_, err := h.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
		if IsNotFound(err) {
			return nil
		}
		return err
	})
}
