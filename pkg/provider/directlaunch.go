package provider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
)

// DirectLaunchHandler acquires hosts with a plain RunInstances call. The
// reservation id is the tracked resource; instances are found again through
// the request-id tag, which survives the reservation.
type DirectLaunchHandler struct {
	ec2    EC2API
	policy RetryPolicy
}

func NewDirectLaunchHandler(client EC2API, policy RetryPolicy) *DirectLaunchHandler {
	return &DirectLaunchHandler{ec2: client, policy: policy}
}

func (h *DirectLaunchHandler) CreateLaunchTemplate(ctx context.Context, tmpl *domain.Template, req *domain.Request) (LaunchTemplate, error) {
	return createLaunchTemplate(ctx, h.ec2, h.policy, tmpl, req)
}

func (h *DirectLaunchHandler) AcquireHosts(ctx context.Context, req *domain.Request, tmpl *domain.Template) (string, error) {
	input := &ec2.RunInstancesInput{
		LaunchTemplate: &ec2types.LaunchTemplateSpecification{
			LaunchTemplateId: lo.ToPtr(req.LaunchTemplateID),
			Version:          lo.ToPtr(req.LaunchTemplateVersion),
		},
		MinCount: lo.ToPtr(int32(req.RequestedCount)),
		MaxCount: lo.ToPtr(int32(req.RequestedCount)),
	}
	if subnets := tmpl.Subnets(); len(subnets) > 0 {
		input.SubnetId = lo.ToPtr(subnets[0])
	}

	var reservationID string
	err := Retry(ctx, h.policy, "RunInstances", func() error {
		out, err := h.ec2.RunInstances(ctx, input)
		if err != nil {
			return err
		}
		reservationID = lo.FromPtr(out.ReservationId)
		return nil
	})
	if err != nil {
		return "", err
	}
	log.WithRequestID(req.ID).Info().
		Str("reservation_id", reservationID).
		Int("count", req.RequestedCount).
		Msg("instances launched")
	return reservationID, nil
}

func (h *DirectLaunchHandler) CheckHostsStatus(ctx context.Context, req *domain.Request) ([]InstanceRecord, error) {
	var records []InstanceRecord
	err := Retry(ctx, h.policy, "DescribeInstances", func() error {
		records = records[:0]
		out, err := h.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{{
				Name:   lo.ToPtr("tag:" + TagRequestID),
				Values: []string{req.ID},
			}},
		})
		if err != nil {
			return err
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				records = append(records, recordFromInstance(inst))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (h *DirectLaunchHandler) ReleaseHosts(ctx context.Context, req *domain.Request, machines []*domain.Machine) error {
	ids := lo.Map(machines, func(m *domain.Machine, _ int) string { return m.ID })
	if len(ids) == 0 {
		records, err := h.CheckHostsStatus(ctx, req)
		if err != nil {
			return err
		}
		ids = lo.Map(records, func(r InstanceRecord, _ int) string { return r.ID })
	}
	if len(ids) > 0 {
		err := Retry(ctx, h.policy, "TerminateInstances", func() error {
			_, err := h.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
			if IsNotFound(err) {
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	// the launch template goes with the last release of the acquisition
	if len(machines) == 0 {
		return deleteLaunchTemplate(ctx, h.ec2, h.policy, req)
	}
	return nil
}
