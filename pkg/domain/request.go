package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestType distinguishes acquisitions from returns
type RequestType string

const (
	RequestTypeAcquire RequestType = "acquire"
	RequestTypeReturn  RequestType = "return"
)

const (
	// AcquirePrefix and ReturnPrefix are semantic: the prefix of a request id
	// determines its type.
	AcquirePrefix = "req-"
	ReturnPrefix  = "ret-"

	// DefaultTimeoutSeconds is applied when an acquire request carries no
	// explicit timeout
	DefaultTimeoutSeconds = 3600
	// MaxTimeoutSeconds caps any requested timeout
	MaxTimeoutSeconds = 86400
)

var (
	// AcquireRequestIDPattern matches generated acquire request ids
	AcquireRequestIDPattern = regexp.MustCompile(`^req-[0-9a-f-]{36}$`)
	// ReturnRequestIDPattern matches generated return request ids
	ReturnRequestIDPattern = regexp.MustCompile(`^ret-[0-9a-f-]{36}$`)
)

// RequestTypeOf derives the request type from an id prefix
func RequestTypeOf(id string) (RequestType, error) {
	switch {
	case strings.HasPrefix(id, AcquirePrefix):
		return RequestTypeAcquire, nil
	case strings.HasPrefix(id, ReturnPrefix):
		return RequestTypeReturn, nil
	}
	return "", fmt.Errorf("request id %q carries no recognized prefix", id)
}

// Request is the mutable aggregate representing one acquisition or return.
// Machines are referenced by id; the acquiring request owns them for its
// active lifetime, a return request borrows them for termination.
type Request struct {
	ID                    string            `json:"id"`
	Type                  RequestType       `json:"type"`
	TemplateID            string            `json:"templateId,omitempty"`
	RequestedCount        int               `json:"requestedCount"`
	Strategy              Strategy          `json:"strategy,omitempty"`
	Status                RequestStatus     `json:"status"`
	Message               string            `json:"message,omitempty"`
	MachineIDs            []string          `json:"machineIds,omitempty"`
	CreatedAt             time.Time         `json:"createdAt"`
	FirstObservedAt       *time.Time        `json:"firstObservedAt,omitempty"`
	LastObservedAt        *time.Time        `json:"lastObservedAt,omitempty"`
	CorrelationID         string            `json:"correlationId,omitempty"`
	TimeoutSeconds        int               `json:"timeoutSeconds,omitempty"`
	ResourceID            string            `json:"resourceId,omitempty"`
	LaunchTemplateID      string            `json:"launchTemplateId,omitempty"`
	LaunchTemplateVersion string            `json:"launchTemplateVersion,omitempty"`
	Tags                  map[string]string `json:"tags,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	Version               int               `json:"version"`
	EventLog              []Event           `json:"eventLog,omitempty"`

	pending []Event
}

// NewAcquireRequest constructs an acquire request in pending state with the
// creation event attached
func NewAcquireRequest(tmpl *Template, count, timeoutSeconds int, tags, metadata map[string]string, correlationID string) (*Request, error) {
	if count <= 0 {
		return nil, &ValidationError{Field: "machineCount", Message: "must be strictly positive"}
	}
	if count > tmpl.MaxNumber {
		return nil, &RequestValidationError{Message: fmt.Sprintf(
			"machineCount %d exceeds template %s maximum of %d", count, tmpl.TemplateID, tmpl.MaxNumber)}
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}
	if timeoutSeconds > MaxTimeoutSeconds {
		timeoutSeconds = MaxTimeoutSeconds
	}
	r := &Request{
		ID:             AcquirePrefix + uuid.NewString(),
		Type:           RequestTypeAcquire,
		TemplateID:     tmpl.TemplateID,
		RequestedCount: count,
		Strategy:       tmpl.Strategy,
		Status:         RequestStatusPending,
		CreatedAt:      time.Now().UTC(),
		CorrelationID:  correlationID,
		TimeoutSeconds: timeoutSeconds,
		Tags:           tags,
		Metadata:       metadata,
	}
	r.record(EventRequestCreated, EventPayload{NewStatus: string(r.Status), Count: count})
	return r, nil
}

// NewReturnRequest constructs a return request referencing the borrowed
// machines
func NewReturnRequest(machineIDs []string, correlationID string) *Request {
	r := &Request{
		ID:             ReturnPrefix + uuid.NewString(),
		Type:           RequestTypeReturn,
		RequestedCount: len(machineIDs),
		Status:         RequestStatusPending,
		MachineIDs:     append([]string{}, machineIDs...),
		CreatedAt:      time.Now().UTC(),
		CorrelationID:  correlationID,
	}
	r.record(EventRequestCreated, EventPayload{NewStatus: string(r.Status), Count: len(machineIDs)})
	return r
}

// IsActive reports whether the request still accepts reconciliation
func (r *Request) IsActive() bool {
	return !r.Status.IsTerminal()
}

// transition moves the request along an allowed edge, recording the change
func (r *Request) transition(next RequestStatus, reason string) error {
	if !r.Status.CanTransitionTo(next) {
		return &InvalidRequestStateError{RequestID: r.ID, From: r.Status, To: next}
	}
	old := r.Status
	r.Status = next
	if reason != "" {
		r.Message = reason
	}
	r.record(EventRequestStatusChanged, EventPayload{
		OldStatus: string(old),
		NewStatus: string(next),
		Reason:    reason,
	})
	return nil
}

// BeginProvisioning marks the request as creating provider resources
func (r *Request) BeginProvisioning() error {
	return r.transition(RequestStatusCreating, "")
}

// ResourcesAcquired stores the opaque provider resource id and marks the
// request running
func (r *Request) ResourcesAcquired(resourceID string) error {
	if err := r.transition(RequestStatusRunning, ""); err != nil {
		return err
	}
	r.ResourceID = resourceID
	r.record(EventResourceAcquired, EventPayload{ResourceID: resourceID})
	return nil
}

// ReleasesDispatched marks a return request running once its release calls
// have been issued
func (r *Request) ReleasesDispatched() error {
	return r.transition(RequestStatusRunning, "")
}

// SetLaunchTemplate stores the provider launch template pair created for the
// request
func (r *Request) SetLaunchTemplate(id, version string) {
	r.LaunchTemplateID = id
	r.LaunchTemplateVersion = version
}

// Complete marks the request terminal with every machine running
func (r *Request) Complete() error {
	return r.transition(RequestStatusComplete, "")
}

// CompleteWithErrors marks the request terminal with at least one machine
// failed
func (r *Request) CompleteWithErrors(message string) error {
	return r.transition(RequestStatusCompleteWithError, message)
}

// Fail marks the request terminal with an explanatory message
func (r *Request) Fail(message string) error {
	return r.transition(RequestStatusFailed, message)
}

// FailTimeout marks the request failed with the canonical timeout reason
func (r *Request) FailTimeout() error {
	msg := fmt.Sprintf("Request timed out after %d seconds", r.TimeoutSeconds)
	if err := r.transition(RequestStatusFailed, msg); err != nil {
		return err
	}
	r.record(EventRequestTimedOut, EventPayload{Reason: msg})
	return nil
}

// Observe stamps observation times. The first observation time is set at
// most once; the timeout budget is measured from it, not from creation.
func (r *Request) Observe(now time.Time) {
	if r.FirstObservedAt == nil {
		first := now
		r.FirstObservedAt = &first
	}
	last := now
	r.LastObservedAt = &last
}

// TimedOut reports whether the timeout budget since first observation is
// exhausted
func (r *Request) TimedOut(now time.Time) bool {
	if r.FirstObservedAt == nil || r.TimeoutSeconds <= 0 {
		return false
	}
	return now.Sub(*r.FirstObservedAt) > time.Duration(r.TimeoutSeconds)*time.Second
}

// HasMachine reports whether the machine is already associated
func (r *Request) HasMachine(machineID string) bool {
	for _, id := range r.MachineIDs {
		if id == machineID {
			return true
		}
	}
	return false
}

// AttachMachine associates a discovered machine with the request. Attaching
// an already-associated machine is a no-op; attaching beyond the requested
// count fails.
func (r *Request) AttachMachine(machineID string) error {
	if r.HasMachine(machineID) {
		return nil
	}
	if len(r.MachineIDs) >= r.RequestedCount {
		return &MachineAllocationError{RequestID: r.ID, MachineID: machineID, Limit: r.RequestedCount}
	}
	r.MachineIDs = append(r.MachineIDs, machineID)
	r.record(EventMachineAttached, EventPayload{MachineID: machineID, Count: len(r.MachineIDs)})
	return nil
}

// record appends an event to the aggregate log and the pending set
func (r *Request) record(eventType EventType, payload EventPayload) {
	r.Version++
	e := NewEvent(eventType, AggregateRequest, r.ID, r.Version, payload)
	r.EventLog = append(r.EventLog, e)
	r.pending = append(r.pending, e)
}

// TakeEvents drains and returns the events pending dispatch
func (r *Request) TakeEvents() []Event {
	out := r.pending
	r.pending = nil
	return out
}
