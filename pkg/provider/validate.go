package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/cuemby/paddock/pkg/domain"
)

// Validator pre-checks a template's cloud prerequisites before any resource
// is created, so misconfiguration fails the request fast instead of after a
// partial acquisition.
type Validator struct {
	ec2           EC2API
	policy        RetryPolicy
	instanceLimit int
}

// NewValidator builds a prerequisite validator. instanceLimit caps the total
// machine count a single request may ask for, zero disables the cap.
func NewValidator(client EC2API, policy RetryPolicy, instanceLimit int) *Validator {
	return &Validator{ec2: client, policy: policy, instanceLimit: instanceLimit}
}

// Validate checks every referenced cloud resource and accumulates all
// failures rather than stopping at the first
func (v *Validator) Validate(ctx context.Context, tmpl *domain.Template, count int) error {
	var errs error
	if v.instanceLimit > 0 && count > v.instanceLimit {
		errs = multierr.Append(errs, &domain.RequestValidationError{Message: fmt.Sprintf(
			"machineCount %d exceeds broker instance limit of %d", count, v.instanceLimit)})
	}
	errs = multierr.Append(errs, v.checkImage(ctx, tmpl.ImageID))
	errs = multierr.Append(errs, v.checkSubnets(ctx, tmpl.Subnets()))
	errs = multierr.Append(errs, v.checkSecurityGroups(ctx, tmpl.SecurityGroupIDs))
	return errs
}

func (v *Validator) checkImage(ctx context.Context, imageID string) error {
	// aliases resolve to concrete ids before validation; anything else that
	// is not an ami id is checked at launch time by the provider
	if len(imageID) < 4 || imageID[:4] != "ami-" {
		return nil
	}
	err := Retry(ctx, v.policy, "DescribeImages", func() error {
		out, err := v.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
		if err != nil {
			return err
		}
		if len(out.Images) == 0 {
			return &Error{Kind: KindResourceNotFound, Op: "DescribeImages",
				Err: fmt.Errorf("image %s does not exist", imageID)}
		}
		return nil
	})
	return err
}

func (v *Validator) checkSubnets(ctx context.Context, subnetIDs []string) error {
	if len(subnetIDs) == 0 {
		return nil
	}
	return Retry(ctx, v.policy, "DescribeSubnets", func() error {
		out, err := v.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: subnetIDs})
		if err != nil {
			return err
		}
		found := lo.Map(out.Subnets, func(s ec2types.Subnet, _ int) string {
			return lo.FromPtr(s.SubnetId)
		})
		missing, _ := lo.Difference(subnetIDs, found)
		if len(missing) > 0 {
			return &Error{Kind: KindResourceNotFound, Op: "DescribeSubnets",
				Err: fmt.Errorf("subnets do not exist: %v", missing)}
		}
		return nil
	})
}

func (v *Validator) checkSecurityGroups(ctx context.Context, groupIDs []string) error {
	if len(groupIDs) == 0 {
		return nil
	}
	return Retry(ctx, v.policy, "DescribeSecurityGroups", func() error {
		out, err := v.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: groupIDs})
		if err != nil {
			return err
		}
		found := lo.Map(out.SecurityGroups, func(g ec2types.SecurityGroup, _ int) string {
			return lo.FromPtr(g.GroupId)
		})
		missing, _ := lo.Difference(groupIDs, found)
		if len(missing) > 0 {
			return &Error{Kind: KindResourceNotFound, Op: "DescribeSecurityGroups",
				Err: fmt.Errorf("security groups do not exist: %v", missing)}
		}
		return nil
	})
}
