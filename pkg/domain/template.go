package domain

import (
	"fmt"
	"regexp"
)

// Strategy selects the provider acquisition primitive a template binds to
type Strategy string

const (
	StrategyDirectLaunch     Strategy = "direct_launch"
	StrategyInstantFleet     Strategy = "instant_fleet"
	StrategyManagedFleet     Strategy = "managed_fleet"
	StrategyAutoScalingGroup Strategy = "auto_scaling_group"
	StrategySpotFleet        Strategy = "spot_fleet"
)

// ParseStrategy parses a rendered strategy tag back to its enum value
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyDirectLaunch, StrategyInstantFleet, StrategyManagedFleet,
		StrategyAutoScalingGroup, StrategySpotFleet:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown acquisition strategy: %q", s)
}

// IsSpot reports whether the strategy launches spot capacity
func (s Strategy) IsSpot() bool {
	return s == StrategySpotFleet
}

var templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Template is an immutable provisioning recipe. Exactly one of SubnetID /
// SubnetIDs and exactly one of MachineType / MachineTypes must be set.
type Template struct {
	TemplateID         string             `json:"templateId" yaml:"templateId"`
	Strategy           Strategy           `json:"strategy" yaml:"strategy"`
	MaxNumber          int                `json:"maxNumber" yaml:"maxNumber"`
	ImageID            string             `json:"imageId" yaml:"imageId"`
	SubnetID           string             `json:"subnetId,omitempty" yaml:"subnetId,omitempty"`
	SubnetIDs          []string           `json:"subnetIds,omitempty" yaml:"subnetIds,omitempty"`
	MachineType        string             `json:"machineType,omitempty" yaml:"machineType,omitempty"`
	MachineTypes       map[string]float64 `json:"machineTypes,omitempty" yaml:"machineTypes,omitempty"`
	SecurityGroupIDs   []string           `json:"securityGroupIds,omitempty" yaml:"securityGroupIds,omitempty"`
	KeyName            string             `json:"keyName,omitempty" yaml:"keyName,omitempty"`
	UserData           string             `json:"userData,omitempty" yaml:"userData,omitempty"`
	FleetRole          string             `json:"fleetRole,omitempty" yaml:"fleetRole,omitempty"`
	MaxPrice           string             `json:"maxPrice,omitempty" yaml:"maxPrice,omitempty"`
	AllocationStrategy string             `json:"allocationStrategy,omitempty" yaml:"allocationStrategy,omitempty"`
	InstanceProfile    string             `json:"instanceProfile,omitempty" yaml:"instanceProfile,omitempty"`
	Tags               map[string]string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Validate enforces the template invariants
func (t *Template) Validate() error {
	if t.TemplateID == "" {
		return &ValidationError{Field: "templateId", Message: "must not be empty"}
	}
	if !templateIDPattern.MatchString(t.TemplateID) {
		return &ValidationError{Field: "templateId", Message: "must be alphanumeric, hyphen or underscore"}
	}
	if _, err := ParseStrategy(string(t.Strategy)); err != nil {
		return &ValidationError{Field: "strategy", Message: err.Error()}
	}
	if t.MaxNumber <= 0 {
		return &ValidationError{Field: "maxNumber", Message: "must be strictly positive"}
	}
	if t.ImageID == "" {
		return &ValidationError{Field: "imageId", Message: "must not be empty"}
	}
	if (t.SubnetID == "") == (len(t.SubnetIDs) == 0) {
		return &ValidationError{Field: "subnetId", Message: "exactly one of subnetId and subnetIds must be set"}
	}
	if (t.MachineType == "") == (len(t.MachineTypes) == 0) {
		return &ValidationError{Field: "machineType", Message: "exactly one of machineType and machineTypes must be set"}
	}
	for mt, weight := range t.MachineTypes {
		if weight <= 0 {
			return &ValidationError{Field: "machineTypes", Message: fmt.Sprintf("weight for %s must be strictly positive", mt)}
		}
	}
	if t.Strategy.IsSpot() && t.FleetRole == "" {
		return &ValidationError{Field: "fleetRole", Message: "required for spot strategies"}
	}
	return nil
}

// Subnets returns the subnet placement as a list regardless of which form
// the template used
func (t *Template) Subnets() []string {
	if t.SubnetID != "" {
		return []string{t.SubnetID}
	}
	return t.SubnetIDs
}

// Types returns the machine types as a weighted map regardless of which form
// the template used
func (t *Template) Types() map[string]float64 {
	if t.MachineType != "" {
		return map[string]float64{t.MachineType: 1}
	}
	return t.MachineTypes
}
