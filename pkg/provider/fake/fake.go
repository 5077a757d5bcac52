// Package fake provides a deterministic in-memory stand-in for the AWS
// clients, suitable for table-driven tests of the handlers and everything
// layered above them.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	"github.com/samber/lo"
)

// APIError builds a coded error the classification layer recognizes
func APIError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}

// Cloud is the shared in-memory provider state. One Cloud backs the EC2,
// auto scaling, SSM and IAM fakes so cross-service flows see one world.
type Cloud struct {
	mu sync.Mutex

	nextInstance    int
	nextTemplate    int
	nextFleet       int
	nextSpotFleet   int
	nextReservation int

	Instances       map[string]ec2types.Instance
	InstanceState   map[string]ec2types.InstanceStateName
	LaunchTemplates map[string]string
	Fleets          map[string][]string
	SpotFleets      map[string][]string
	Groups          map[string][]string
	Parameters      map[string]string
	Roles           map[string]string

	// errs queues scripted failures per operation name, consumed in order
	errs map[string][]error
	// calls counts invocations per operation name
	calls map[string]int
}

// NewCloud builds an empty fake provider
func NewCloud() *Cloud {
	return &Cloud{
		Instances:       map[string]ec2types.Instance{},
		InstanceState:   map[string]ec2types.InstanceStateName{},
		LaunchTemplates: map[string]string{},
		Fleets:          map[string][]string{},
		SpotFleets:      map[string][]string{},
		Groups:          map[string][]string{},
		Parameters:      map[string]string{},
		Roles:           map[string]string{},
		errs:            map[string][]error{},
		calls:           map[string]int{},
	}
}

// FailNext queues errors for the named operation; each call consumes one
func (c *Cloud) FailNext(op string, errors ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[op] = append(c.errs[op], errors...)
}

// Calls reports how often the named operation ran
func (c *Cloud) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// SetInstanceState overrides the provider-reported state of an instance
func (c *Cloud) SetInstanceState(id string, state ec2types.InstanceStateName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InstanceState[id] = state
	if inst, ok := c.Instances[id]; ok {
		inst.State = &ec2types.InstanceState{Name: state}
		c.Instances[id] = inst
	}
}

// begin records the call and pops a scripted error if one is queued. The
// lock is held by the caller.
func (c *Cloud) begin(op string) error {
	c.calls[op]++
	queue := c.errs[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	c.errs[op] = queue[1:]
	return err
}

// launch creates n instances in the given lifecycle and returns their ids
func (c *Cloud) launch(n int, lifecycle ec2types.InstanceLifecycleType, tags []ec2types.Tag) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c.nextInstance++
		id := fmt.Sprintf("i-%08x", c.nextInstance)
		inst := ec2types.Instance{
			InstanceId:        lo.ToPtr(id),
			InstanceType:      ec2types.InstanceTypeM5Large,
			State:             &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
			PrivateDnsName:    lo.ToPtr(fmt.Sprintf("ip-10-0-0-%d.ec2.internal", c.nextInstance%250+1)),
			PrivateIpAddress:  lo.ToPtr(fmt.Sprintf("10.0.0.%d", c.nextInstance%250+1)),
			SubnetId:          lo.ToPtr("subnet-fake"),
			VpcId:             lo.ToPtr("vpc-fake"),
			ImageId:           lo.ToPtr("ami-fake"),
			LaunchTime:        lo.ToPtr(time.Now().UTC()),
			InstanceLifecycle: lifecycle,
			Tags:              tags,
		}
		c.Instances[id] = inst
		c.InstanceState[id] = ec2types.InstanceStateNamePending
		ids = append(ids, id)
	}
	return ids
}

func (c *Cloud) instanceTagged(inst ec2types.Instance, key, value string) bool {
	for _, t := range inst.Tags {
		if lo.FromPtr(t.Key) == key && lo.FromPtr(t.Value) == value {
			return true
		}
	}
	return false
}

// EC2 implements the EC2 client slice over the shared cloud
type EC2 struct{ Cloud *Cloud }

func (f *EC2) CreateLaunchTemplate(ctx context.Context, in *ec2.CreateLaunchTemplateInput, _ ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("CreateLaunchTemplate"); err != nil {
		return nil, err
	}
	c.nextTemplate++
	id := fmt.Sprintf("lt-%08x", c.nextTemplate)
	c.LaunchTemplates[id] = lo.FromPtr(in.LaunchTemplateName)
	return &ec2.CreateLaunchTemplateOutput{
		LaunchTemplate: &ec2types.LaunchTemplate{
			LaunchTemplateId:   lo.ToPtr(id),
			LaunchTemplateName: in.LaunchTemplateName,
		},
	}, nil
}

func (f *EC2) DeleteLaunchTemplate(ctx context.Context, in *ec2.DeleteLaunchTemplateInput, _ ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DeleteLaunchTemplate"); err != nil {
		return nil, err
	}
	id := lo.FromPtr(in.LaunchTemplateId)
	if _, ok := c.LaunchTemplates[id]; !ok {
		return nil, APIError("InvalidLaunchTemplateId.NotFound", "no such launch template")
	}
	delete(c.LaunchTemplates, id)
	return &ec2.DeleteLaunchTemplateOutput{}, nil
}

func (f *EC2) RunInstances(ctx context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("RunInstances"); err != nil {
		return nil, err
	}
	tags := launchTemplateTags(c, in.LaunchTemplate)
	ids := c.launch(int(lo.FromPtr(in.MaxCount)), "", tags)
	c.nextReservation++
	out := &ec2.RunInstancesOutput{ReservationId: lo.ToPtr(fmt.Sprintf("r-%08x", c.nextReservation))}
	for _, id := range ids {
		out.Instances = append(out.Instances, c.Instances[id])
	}
	return out, nil
}

func (f *EC2) TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("TerminateInstances"); err != nil {
		return nil, err
	}
	for _, id := range in.InstanceIds {
		if _, ok := c.Instances[id]; !ok {
			return nil, APIError("InvalidInstanceID.NotFound", "no such instance: "+id)
		}
	}
	for _, id := range in.InstanceIds {
		c.InstanceState[id] = ec2types.InstanceStateNameTerminated
		inst := c.Instances[id]
		inst.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}
		c.Instances[id] = inst
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *EC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DescribeInstances"); err != nil {
		return nil, err
	}
	var matched []ec2types.Instance
	if len(in.InstanceIds) > 0 {
		for _, id := range in.InstanceIds {
			if inst, ok := c.Instances[id]; ok {
				matched = append(matched, inst)
			}
		}
	} else {
		for _, inst := range c.Instances {
			ok := true
			for _, filter := range in.Filters {
				name := lo.FromPtr(filter.Name)
				if len(name) > 4 && name[:4] == "tag:" {
					if !c.instanceTagged(inst, name[4:], filter.Values[0]) {
						ok = false
					}
				}
			}
			if ok {
				matched = append(matched, inst)
			}
		}
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: matched}},
	}, nil
}

func (f *EC2) DescribeInstanceStatus(ctx context.Context, in *ec2.DescribeInstanceStatusInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DescribeInstanceStatus"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeInstanceStatusOutput{}
	for _, id := range in.InstanceIds {
		state, ok := c.InstanceState[id]
		if !ok {
			continue
		}
		status := ec2types.SummaryStatusOk
		if state != ec2types.InstanceStateNameRunning {
			status = ec2types.SummaryStatusNotApplicable
		}
		out.InstanceStatuses = append(out.InstanceStatuses, ec2types.InstanceStatus{
			InstanceId:     lo.ToPtr(id),
			InstanceState:  &ec2types.InstanceState{Name: state},
			InstanceStatus: &ec2types.InstanceStatusSummary{Status: status},
			SystemStatus:   &ec2types.InstanceStatusSummary{Status: status},
		})
	}
	return out, nil
}

func (f *EC2) CreateFleet(ctx context.Context, in *ec2.CreateFleetInput, _ ...func(*ec2.Options)) (*ec2.CreateFleetOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("CreateFleet"); err != nil {
		return nil, err
	}
	c.nextFleet++
	fleetID := fmt.Sprintf("fleet-%08x", c.nextFleet)
	count := int(lo.FromPtr(in.TargetCapacitySpecification.TotalTargetCapacity))
	tags := launchTemplateTagsFromFleet(c, in)
	ids := c.launch(count, "", tags)
	c.Fleets[fleetID] = ids
	out := &ec2.CreateFleetOutput{FleetId: lo.ToPtr(fleetID)}
	if in.Type == ec2types.FleetTypeInstant {
		out.Instances = []ec2types.CreateFleetInstance{{InstanceIds: ids}}
	}
	return out, nil
}

func (f *EC2) DeleteFleets(ctx context.Context, in *ec2.DeleteFleetsInput, _ ...func(*ec2.Options)) (*ec2.DeleteFleetsOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DeleteFleets"); err != nil {
		return nil, err
	}
	for _, fleetID := range in.FleetIds {
		ids, ok := c.Fleets[fleetID]
		if !ok {
			return nil, APIError("InvalidFleetId.NotFound", "no such fleet: "+fleetID)
		}
		if lo.FromPtr(in.TerminateInstances) {
			for _, id := range ids {
				c.InstanceState[id] = ec2types.InstanceStateNameTerminated
				inst := c.Instances[id]
				inst.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}
				c.Instances[id] = inst
			}
		}
		delete(c.Fleets, fleetID)
	}
	return &ec2.DeleteFleetsOutput{}, nil
}

func (f *EC2) ModifyFleet(ctx context.Context, in *ec2.ModifyFleetInput, _ ...func(*ec2.Options)) (*ec2.ModifyFleetOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("ModifyFleet"); err != nil {
		return nil, err
	}
	if _, ok := c.Fleets[lo.FromPtr(in.FleetId)]; !ok {
		return nil, APIError("InvalidFleetId.NotFound", "no such fleet")
	}
	return &ec2.ModifyFleetOutput{Return: lo.ToPtr(true)}, nil
}

func (f *EC2) DescribeFleetInstances(ctx context.Context, in *ec2.DescribeFleetInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeFleetInstancesOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DescribeFleetInstances"); err != nil {
		return nil, err
	}
	ids, ok := c.Fleets[lo.FromPtr(in.FleetId)]
	if !ok {
		return nil, APIError("InvalidFleetId.NotFound", "no such fleet")
	}
	out := &ec2.DescribeFleetInstancesOutput{}
	for _, id := range ids {
		if c.InstanceState[id] == ec2types.InstanceStateNameTerminated {
			continue
		}
		out.ActiveInstances = append(out.ActiveInstances, ec2types.ActiveInstance{InstanceId: lo.ToPtr(id)})
	}
	return out, nil
}

func (f *EC2) RequestSpotFleet(ctx context.Context, in *ec2.RequestSpotFleetInput, _ ...func(*ec2.Options)) (*ec2.RequestSpotFleetOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("RequestSpotFleet"); err != nil {
		return nil, err
	}
	c.nextSpotFleet++
	sfrID := fmt.Sprintf("sfr-%08x", c.nextSpotFleet)
	count := int(lo.FromPtr(in.SpotFleetRequestConfig.TargetCapacity))
	ids := c.launch(count, ec2types.InstanceLifecycleTypeSpot, nil)
	c.SpotFleets[sfrID] = ids
	return &ec2.RequestSpotFleetOutput{SpotFleetRequestId: lo.ToPtr(sfrID)}, nil
}

func (f *EC2) CancelSpotFleetRequests(ctx context.Context, in *ec2.CancelSpotFleetRequestsInput, _ ...func(*ec2.Options)) (*ec2.CancelSpotFleetRequestsOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("CancelSpotFleetRequests"); err != nil {
		return nil, err
	}
	for _, sfrID := range in.SpotFleetRequestIds {
		ids, ok := c.SpotFleets[sfrID]
		if !ok {
			return nil, APIError("InvalidSpotFleetRequestId.NotFound", "no such spot fleet request")
		}
		if lo.FromPtr(in.TerminateInstances) {
			for _, id := range ids {
				c.InstanceState[id] = ec2types.InstanceStateNameTerminated
				inst := c.Instances[id]
				inst.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}
				c.Instances[id] = inst
			}
		}
		delete(c.SpotFleets, sfrID)
	}
	return &ec2.CancelSpotFleetRequestsOutput{}, nil
}

func (f *EC2) DescribeSpotFleetInstances(ctx context.Context, in *ec2.DescribeSpotFleetInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotFleetInstancesOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DescribeSpotFleetInstances"); err != nil {
		return nil, err
	}
	ids, ok := c.SpotFleets[lo.FromPtr(in.SpotFleetRequestId)]
	if !ok {
		return nil, APIError("InvalidSpotFleetRequestId.NotFound", "no such spot fleet request")
	}
	out := &ec2.DescribeSpotFleetInstancesOutput{}
	for _, id := range ids {
		if c.InstanceState[id] == ec2types.InstanceStateNameTerminated {
			continue
		}
		out.ActiveInstances = append(out.ActiveInstances, ec2types.ActiveInstance{InstanceId: lo.ToPtr(id)})
	}
	return out, nil
}

func (f *EC2) DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DescribeImages"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeImagesOutput{}
	for _, id := range in.ImageIds {
		out.Images = append(out.Images, ec2types.Image{ImageId: lo.ToPtr(id)})
	}
	return out, nil
}

func (f *EC2) DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DescribeSubnets"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeSubnetsOutput{}
	for _, id := range in.SubnetIds {
		out.Subnets = append(out.Subnets, ec2types.Subnet{SubnetId: lo.ToPtr(id)})
	}
	return out, nil
}

func (f *EC2) DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DescribeSecurityGroups"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeSecurityGroupsOutput{}
	for _, id := range in.GroupIds {
		out.SecurityGroups = append(out.SecurityGroups, ec2types.SecurityGroup{GroupId: lo.ToPtr(id)})
	}
	return out, nil
}

// ASG implements the auto scaling client slice over the shared cloud
type ASG struct{ Cloud *Cloud }

func (f *ASG) CreateAutoScalingGroup(ctx context.Context, in *autoscaling.CreateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("CreateAutoScalingGroup"); err != nil {
		return nil, err
	}
	var tags []ec2types.Tag
	for _, t := range in.Tags {
		tags = append(tags, ec2types.Tag{Key: t.Key, Value: t.Value})
	}
	ids := c.launch(int(lo.FromPtr(in.DesiredCapacity)), "", tags)
	c.Groups[lo.FromPtr(in.AutoScalingGroupName)] = ids
	return &autoscaling.CreateAutoScalingGroupOutput{}, nil
}

func (f *ASG) DeleteAutoScalingGroup(ctx context.Context, in *autoscaling.DeleteAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DeleteAutoScalingGroup"); err != nil {
		return nil, err
	}
	name := lo.FromPtr(in.AutoScalingGroupName)
	ids, ok := c.Groups[name]
	if !ok {
		return nil, APIError("ValidationError", "no such group: "+name)
	}
	if lo.FromPtr(in.ForceDelete) {
		for _, id := range ids {
			c.InstanceState[id] = ec2types.InstanceStateNameTerminated
			inst := c.Instances[id]
			inst.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}
			c.Instances[id] = inst
		}
	}
	delete(c.Groups, name)
	return &autoscaling.DeleteAutoScalingGroupOutput{}, nil
}

func (f *ASG) DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DescribeAutoScalingGroups"); err != nil {
		return nil, err
	}
	out := &autoscaling.DescribeAutoScalingGroupsOutput{}
	for _, name := range in.AutoScalingGroupNames {
		ids, ok := c.Groups[name]
		if !ok {
			continue
		}
		group := asgtypes.AutoScalingGroup{AutoScalingGroupName: lo.ToPtr(name)}
		for _, id := range ids {
			if c.InstanceState[id] == ec2types.InstanceStateNameTerminated {
				continue
			}
			group.Instances = append(group.Instances, asgtypes.Instance{InstanceId: lo.ToPtr(id)})
		}
		out.AutoScalingGroups = append(out.AutoScalingGroups, group)
	}
	return out, nil
}

func (f *ASG) DetachInstances(ctx context.Context, in *autoscaling.DetachInstancesInput, _ ...func(*autoscaling.Options)) (*autoscaling.DetachInstancesOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DetachInstances"); err != nil {
		return nil, err
	}
	name := lo.FromPtr(in.AutoScalingGroupName)
	kept := make([]string, 0, len(c.Groups[name]))
	for _, id := range c.Groups[name] {
		if !lo.Contains(in.InstanceIds, id) {
			kept = append(kept, id)
		}
	}
	c.Groups[name] = kept
	return &autoscaling.DetachInstancesOutput{}, nil
}

// SSM implements the parameter store slice over the shared cloud
type SSM struct{ Cloud *Cloud }

func (f *SSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("GetParameter"); err != nil {
		return nil, err
	}
	name := lo.FromPtr(in.Name)
	value, ok := c.Parameters[name]
	if !ok {
		return nil, APIError("ParameterNotFound", "no such parameter: "+name)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Name: in.Name, Value: lo.ToPtr(value)},
	}, nil
}

// IAM implements the role lookup slice over the shared cloud
type IAM struct{ Cloud *Cloud }

func (f *IAM) GetRole(ctx context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	c := f.Cloud
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("GetRole"); err != nil {
		return nil, err
	}
	name := lo.FromPtr(in.RoleName)
	arn, ok := c.Roles[name]
	if !ok {
		return nil, APIError("NoSuchEntity", "no such role: "+name)
	}
	return &iam.GetRoleOutput{
		Role: &iamtypes.Role{RoleName: in.RoleName, Arn: lo.ToPtr(arn)},
	}, nil
}

// launchTemplateTags copies the instance tag specification recorded for the
// launch template. The fake keeps only the name, so it synthesizes the
// request-id tag from it instead.
func launchTemplateTags(c *Cloud, spec *ec2types.LaunchTemplateSpecification) []ec2types.Tag {
	if spec == nil {
		return nil
	}
	name, ok := c.LaunchTemplates[lo.FromPtr(spec.LaunchTemplateId)]
	if !ok || len(name) <= len("paddock-") {
		return nil
	}
	return []ec2types.Tag{{
		Key:   lo.ToPtr("paddock:request-id"),
		Value: lo.ToPtr(name[len("paddock-"):]),
	}}
}

func launchTemplateTagsFromFleet(c *Cloud, in *ec2.CreateFleetInput) []ec2types.Tag {
	for _, cfg := range in.LaunchTemplateConfigs {
		if cfg.LaunchTemplateSpecification == nil {
			continue
		}
		return launchTemplateTags(c, &ec2types.LaunchTemplateSpecification{
			LaunchTemplateId: cfg.LaunchTemplateSpecification.LaunchTemplateId,
		})
	}
	return nil
}
