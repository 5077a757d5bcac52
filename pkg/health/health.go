// Package health probes machine health through the provider's status
// checks. Results are recorded on the machine aggregate; interpretation is
// left to the reconciler.
package health

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/provider"
)

// Check types recorded on machines
const (
	CheckInstance = "instance_status"
	CheckSystem   = "system_status"
)

// Checker runs provider status checks against batches of machines
type Checker struct {
	ec2    provider.EC2API
	policy provider.RetryPolicy
}

// NewChecker builds a status checker over the EC2 client
func NewChecker(client provider.EC2API, policy provider.RetryPolicy) *Checker {
	return &Checker{ec2: client, policy: policy}
}

// Check probes the given machine ids and returns the results keyed by
// machine id. Machines absent from the provider response get an unhealthy
// result for both check types.
func (c *Checker) Check(ctx context.Context, machineIDs []string) (map[string][]domain.HealthCheckResult, error) {
	if len(machineIDs) == 0 {
		return map[string][]domain.HealthCheckResult{}, nil
	}

	var statuses []ec2types.InstanceStatus
	err := provider.Retry(ctx, c.policy, "DescribeInstanceStatus", func() error {
		out, err := c.ec2.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
			InstanceIds:         machineIDs,
			IncludeAllInstances: lo.ToPtr(true),
		})
		if err != nil {
			return err
		}
		statuses = out.InstanceStatuses
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	results := make(map[string][]domain.HealthCheckResult, len(machineIDs))
	byID := lo.KeyBy(statuses, func(s ec2types.InstanceStatus) string {
		return lo.FromPtr(s.InstanceId)
	})
	for _, id := range machineIDs {
		status, ok := byID[id]
		if !ok {
			results[id] = []domain.HealthCheckResult{
				{CheckType: CheckInstance, Healthy: false, Message: "not reported by provider", CheckedAt: now},
				{CheckType: CheckSystem, Healthy: false, Message: "not reported by provider", CheckedAt: now},
			}
			continue
		}
		results[id] = []domain.HealthCheckResult{
			summaryResult(CheckInstance, status.InstanceStatus, now),
			summaryResult(CheckSystem, status.SystemStatus, now),
		}
	}
	return results, nil
}

// summaryResult maps one provider status summary onto a check result
func summaryResult(checkType string, summary *ec2types.InstanceStatusSummary, now time.Time) domain.HealthCheckResult {
	result := domain.HealthCheckResult{CheckType: checkType, CheckedAt: now}
	if summary == nil {
		result.Message = "no status summary"
		return result
	}
	switch summary.Status {
	case ec2types.SummaryStatusOk:
		result.Healthy = true
	case ec2types.SummaryStatusInitializing:
		// still booting counts as healthy, the check is about degradation
		result.Healthy = true
		result.Message = "initializing"
	default:
		result.Message = string(summary.Status)
	}
	return result
}
