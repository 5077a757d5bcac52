package domain

import (
	"regexp"
	"time"
)

// PriceTier distinguishes on-demand from spot capacity
type PriceTier string

const (
	PriceTierOnDemand PriceTier = "on_demand"
	PriceTierSpot     PriceTier = "spot"
)

// MachineIDPattern matches provider-native instance ids
var MachineIDPattern = regexp.MustCompile(`^[ij]-[a-f0-9]+$`)

// HealthCheckResult is one observation of a machine health check
type HealthCheckResult struct {
	CheckType string    `json:"checkType"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Machine is the mutable aggregate representing one cloud instance,
// identified by its provider-native instance id.
type Machine struct {
	ID         string        `json:"id"`
	RequestID  string        `json:"requestId"`
	Name       string        `json:"name,omitempty"`
	Status     MachineStatus `json:"status"`
	Type       string        `json:"machineType,omitempty"`
	PrivateIP  string        `json:"privateIpAddress,omitempty"`
	PublicIP   string        `json:"publicIpAddress,omitempty"`
	Strategy   Strategy      `json:"strategy,omitempty"`
	ResourceID string        `json:"resourceId,omitempty"`
	PriceTier  PriceTier     `json:"priceTier,omitempty"`

	AvailabilityZone string            `json:"availabilityZone,omitempty"`
	SubnetID         string            `json:"subnetId,omitempty"`
	VPCID            string            `json:"vpcId,omitempty"`
	ImageID          string            `json:"imageId,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`

	LaunchedAt        time.Time                      `json:"launchedAt"`
	StatusTimestamps  map[string]time.Time           `json:"statusTimestamps,omitempty"`
	StatusReasons     map[string]string              `json:"statusReasons,omitempty"`
	HealthChecks      map[string][]HealthCheckResult `json:"healthChecks,omitempty"`
	LastHealthCheckAt *time.Time                     `json:"lastHealthCheckAt,omitempty"`

	Version  int     `json:"version"`
	EventLog []Event `json:"eventLog,omitempty"`

	pending []Event
}

// NewMachine constructs a machine aggregate on first observation of a
// provider instance, with the creation event attached
func NewMachine(id, requestID string, initial MachineStatus, strategy Strategy, resourceID string) *Machine {
	m := &Machine{
		ID:               id,
		RequestID:        requestID,
		Status:           initial,
		Strategy:         strategy,
		ResourceID:       resourceID,
		PriceTier:        PriceTierOnDemand,
		LaunchedAt:       time.Now().UTC(),
		StatusTimestamps: map[string]time.Time{string(initial): time.Now().UTC()},
		StatusReasons:    map[string]string{},
		HealthChecks:     map[string][]HealthCheckResult{},
	}
	m.record(EventMachineCreated, EventPayload{NewStatus: string(initial), ResourceID: resourceID})
	return m
}

// IsRunning reports whether the machine is currently running
func (m *Machine) IsRunning() bool {
	return m.Status == MachineStatusRunning
}

// TransitionTo moves the machine along one allowed edge, stamping timestamps
// and reasons for terminal transitions
func (m *Machine) TransitionTo(next MachineStatus, reason string) error {
	if m.Status == next {
		return nil
	}
	if !m.Status.CanTransitionTo(next) {
		return &InvalidMachineStateError{MachineID: m.ID, From: m.Status, To: next}
	}
	old := m.Status
	m.Status = next
	now := time.Now().UTC()
	if m.StatusTimestamps == nil {
		m.StatusTimestamps = map[string]time.Time{}
	}
	m.StatusTimestamps[string(next)] = now
	if reason != "" {
		if m.StatusReasons == nil {
			m.StatusReasons = map[string]string{}
		}
		m.StatusReasons[string(next)] = reason
	}
	m.record(EventMachineStatusChanged, EventPayload{
		OldStatus: string(old),
		NewStatus: string(next),
		Reason:    reason,
	})
	return nil
}

// ReconcileObserved advances the machine toward an observed provider status.
// Observed state can skip intermediate states, so the full path is walked
// edge by edge.
func (m *Machine) ReconcileObserved(observed MachineStatus, reason string) error {
	path := m.Status.TransitionPath(observed)
	if path == nil {
		return &InvalidMachineStateError{MachineID: m.ID, From: m.Status, To: observed}
	}
	for _, hop := range path {
		hopReason := ""
		if hop == observed {
			hopReason = reason
		}
		if err := m.TransitionTo(hop, hopReason); err != nil {
			return err
		}
	}
	return nil
}

// MarkReturned stamps the machine returned after its resources were released
func (m *Machine) MarkReturned(reason string) error {
	return m.ReconcileObserved(MachineStatusReturned, reason)
}

// RecordHealthCheck appends one health-check observation. History per check
// type is append-only.
func (m *Machine) RecordHealthCheck(result HealthCheckResult) {
	if m.HealthChecks == nil {
		m.HealthChecks = map[string][]HealthCheckResult{}
	}
	m.HealthChecks[result.CheckType] = append(m.HealthChecks[result.CheckType], result)
	at := result.CheckedAt
	m.LastHealthCheckAt = &at
	m.record(EventMachineHealthChecked, EventPayload{
		CheckType: result.CheckType,
		Healthy:   result.Healthy,
		Reason:    result.Message,
	})
}

// IsHealthy reports whether the latest observation of every check type is
// healthy
func (m *Machine) IsHealthy() bool {
	for _, history := range m.HealthChecks {
		if len(history) == 0 {
			continue
		}
		if !history[len(history)-1].Healthy {
			return false
		}
	}
	return true
}

// Result derives the scheduler-facing result string
func (m *Machine) Result() string {
	return m.Status.Result()
}

// record appends an event to the aggregate log and the pending set
func (m *Machine) record(eventType EventType, payload EventPayload) {
	m.Version++
	e := NewEvent(eventType, AggregateMachine, m.ID, m.Version, payload)
	m.EventLog = append(m.EventLog, e)
	m.pending = append(m.pending, e)
}

// TakeEvents drains and returns the events pending dispatch
func (m *Machine) TakeEvents() []Event {
	out := m.pending
	m.pending = nil
	return out
}
