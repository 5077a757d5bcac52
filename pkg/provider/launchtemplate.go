package provider

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
)

// launchTemplateName derives the per-request launch template name. Request
// ids are unique, so collisions mean a retried create and are tolerated.
func launchTemplateName(req *domain.Request) string {
	return "paddock-" + req.ID
}

// createLaunchTemplate registers a launch template rendering the resolved
// template for one request. All five strategies share this shape; fleet
// overrides (instance types, subnets, weights) ride on the fleet request
// instead.
func createLaunchTemplate(ctx context.Context, client EC2API, policy RetryPolicy, tmpl *domain.Template, req *domain.Request) (LaunchTemplate, error) {
	data := &ec2types.RequestLaunchTemplateData{
		ImageId: lo.ToPtr(tmpl.ImageID),
	}
	if tmpl.MachineType != "" {
		data.InstanceType = ec2types.InstanceType(tmpl.MachineType)
	}
	if len(tmpl.SecurityGroupIDs) > 0 {
		data.SecurityGroupIds = tmpl.SecurityGroupIDs
	}
	if tmpl.KeyName != "" {
		data.KeyName = lo.ToPtr(tmpl.KeyName)
	}
	if tmpl.UserData != "" {
		data.UserData = lo.ToPtr(base64.StdEncoding.EncodeToString([]byte(tmpl.UserData)))
	}
	if tmpl.InstanceProfile != "" {
		data.IamInstanceProfile = &ec2types.LaunchTemplateIamInstanceProfileSpecificationRequest{
			Name: lo.ToPtr(tmpl.InstanceProfile),
		}
	}
	data.TagSpecifications = []ec2types.LaunchTemplateTagSpecificationRequest{{
		ResourceType: ec2types.ResourceTypeInstance,
		Tags:         ec2Tags(requestTags(req, tmpl)),
	}}

	var out *ec2.CreateLaunchTemplateOutput
	err := Retry(ctx, policy, "CreateLaunchTemplate", func() error {
		var err error
		out, err = client.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
			LaunchTemplateName: lo.ToPtr(launchTemplateName(req)),
			LaunchTemplateData: data,
			TagSpecifications:  tagSpec(ec2types.ResourceTypeLaunchTemplate, requestTags(req, tmpl)),
		})
		return err
	})
	if err != nil {
		return LaunchTemplate{}, err
	}

	lt := LaunchTemplate{
		ID:      lo.FromPtr(out.LaunchTemplate.LaunchTemplateId),
		Version: "$Latest",
	}
	log.WithRequestID(req.ID).Debug().
		Str("launch_template_id", lt.ID).
		Str("template_id", tmpl.TemplateID).
		Msg("launch template created")
	return lt, nil
}

// deleteLaunchTemplate removes the per-request launch template. Absence is
// not an error; releases must be idempotent.
func deleteLaunchTemplate(ctx context.Context, client EC2API, policy RetryPolicy, req *domain.Request) error {
	if req.LaunchTemplateID == "" {
		return nil
	}
	return Retry(ctx, policy, "DeleteLaunchTemplate", func() error {
		_, err := client.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
			LaunchTemplateId: lo.ToPtr(req.LaunchTemplateID),
		})
		if IsNotFound(err) {
			return nil
		}
		return err
	})
}
