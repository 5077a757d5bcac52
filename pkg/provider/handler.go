package provider

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
)

// Tag keys stamped on every provider resource the broker creates
const (
	TagRequestID  = "paddock:request-id"
	TagTemplateID = "paddock:template-id"
	TagManagedBy  = "paddock:managed-by"

	managedByValue = "paddock"
)

// LaunchTemplate identifies a provider launch template version created for
// one request
type LaunchTemplate struct {
	ID      string
	Version string
}

// InstanceRecord is one provider instance as observed during a status check
type InstanceRecord struct {
	ID               string
	Type             string
	State            string
	StateReason      string
	PrivateDNS       string
	PrivateIP        string
	PublicIP         string
	AvailabilityZone string
	SubnetID         string
	VPCID            string
	ImageID          string
	PriceTier        domain.PriceTier
	LaunchedAt       time.Time
}

// Handler is the per-strategy acquisition contract. Implementations are
// stateless; everything they need travels on the request and template.
type Handler interface {
	// CreateLaunchTemplate registers the provider launch template the
	// acquisition will reference
	CreateLaunchTemplate(ctx context.Context, tmpl *domain.Template, req *domain.Request) (LaunchTemplate, error)

	// AcquireHosts starts the acquisition and returns the opaque provider
	// resource id tracking it
	AcquireHosts(ctx context.Context, req *domain.Request, tmpl *domain.Template) (string, error)

	// CheckHostsStatus lists the instances the acquisition has produced so
	// far with their provider-reported state
	CheckHostsStatus(ctx context.Context, req *domain.Request) ([]InstanceRecord, error)

	// ReleaseHosts returns the given machines to the provider. An empty
	// machine slice releases the whole acquisition.
	ReleaseHosts(ctx context.Context, req *domain.Request, machines []*domain.Machine) error
}

// Dispatcher routes requests to the handler matching their strategy
type Dispatcher struct {
	handlers map[domain.Strategy]Handler
}

// NewDispatcher wires the five handlers over one client bundle
func NewDispatcher(clients *Clients, policy RetryPolicy) *Dispatcher {
	return &Dispatcher{
		handlers: map[domain.Strategy]Handler{
			domain.StrategyDirectLaunch:     NewDirectLaunchHandler(clients.EC2, policy),
			domain.StrategyInstantFleet:     NewInstantFleetHandler(clients.EC2, policy),
			domain.StrategyManagedFleet:     NewManagedFleetHandler(clients.EC2, policy),
			domain.StrategyAutoScalingGroup: NewAutoScalingGroupHandler(clients.EC2, clients.ASG, policy),
			domain.StrategySpotFleet:        NewSpotFleetHandler(clients.EC2, clients.IAM, policy),
		},
	}
}

// ForStrategy returns the handler bound to the strategy
func (d *Dispatcher) ForStrategy(s domain.Strategy) (Handler, error) {
	h, ok := d.handlers[s]
	if !ok {
		return nil, &Error{Kind: KindValidation, Op: "dispatch",
			Err: &domain.ValidationError{Field: "strategy", Message: "no handler registered for " + string(s)}}
	}
	return h, nil
}

// Strategies lists the registered strategies
func (d *Dispatcher) Strategies() []domain.Strategy {
	return lo.Keys(d.handlers)
}

// requestTags merges the template and request tags under the broker's
// correlation tags
func requestTags(req *domain.Request, tmpl *domain.Template) map[string]string {
	tags := map[string]string{
		TagRequestID: req.ID,
		TagManagedBy: managedByValue,
	}
	if tmpl != nil {
		for k, v := range tmpl.Tags {
			tags[k] = v
		}
		tags[TagTemplateID] = tmpl.TemplateID
	}
	for k, v := range req.Tags {
		tags[k] = v
	}
	tags[TagRequestID] = req.ID
	tags[TagManagedBy] = managedByValue
	return tags
}

// ec2Tags renders a tag map as EC2 tag structs in stable order
func ec2Tags(tags map[string]string) []ec2types.Tag {
	keys := lo.Keys(tags)
	sort.Strings(keys)
	out := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, ec2types.Tag{Key: lo.ToPtr(k), Value: lo.ToPtr(tags[k])})
	}
	return out
}

// tagSpec wraps tags in a tag specification for the given resource type
func tagSpec(resourceType ec2types.ResourceType, tags map[string]string) []ec2types.TagSpecification {
	return []ec2types.TagSpecification{{
		ResourceType: resourceType,
		Tags:         ec2Tags(tags),
	}}
}

// recordFromInstance maps a provider instance into an InstanceRecord
func recordFromInstance(inst ec2types.Instance) InstanceRecord {
	rec := InstanceRecord{
		ID:         lo.FromPtr(inst.InstanceId),
		Type:       string(inst.InstanceType),
		PrivateDNS: lo.FromPtr(inst.PrivateDnsName),
		PrivateIP:  lo.FromPtr(inst.PrivateIpAddress),
		PublicIP:   lo.FromPtr(inst.PublicIpAddress),
		SubnetID:   lo.FromPtr(inst.SubnetId),
		VPCID:      lo.FromPtr(inst.VpcId),
		ImageID:    lo.FromPtr(inst.ImageId),
		PriceTier:  domain.PriceTierOnDemand,
	}
	if inst.State != nil {
		rec.State = string(inst.State.Name)
	}
	if inst.StateReason != nil {
		rec.StateReason = lo.FromPtr(inst.StateReason.Message)
	}
	if inst.Placement != nil {
		rec.AvailabilityZone = lo.FromPtr(inst.Placement.AvailabilityZone)
	}
	if inst.LaunchTime != nil {
		rec.LaunchedAt = *inst.LaunchTime
	}
	if inst.InstanceLifecycle == ec2types.InstanceLifecycleTypeSpot {
		rec.PriceTier = domain.PriceTierSpot
	}
	return rec
}

// describeByIDs fetches instance records for an explicit id list, dropping
// ids the provider no longer knows
func describeByIDs(ctx context.Context, client EC2API, policy RetryPolicy, ids []string) ([]InstanceRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	records := make([]InstanceRecord, 0, len(ids))
	err := Retry(ctx, policy, "DescribeInstances", func() error {
		records = records[:0]
		out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
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
