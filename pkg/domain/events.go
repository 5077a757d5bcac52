package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventRequestCreated       EventType = "request.created"
	EventRequestStatusChanged EventType = "request.status_changed"
	EventRequestTimedOut      EventType = "request.timed_out"
	EventMachineAttached      EventType = "request.machine_attached"
	EventMachineCreated       EventType = "machine.created"
	EventMachineStatusChanged EventType = "machine.status_changed"
	EventMachineHealthChecked EventType = "machine.health_checked"
	EventMachineReturned      EventType = "machine.returned"
	EventResourceAcquired     EventType = "provider.resource_acquired"
	EventResourceReleased     EventType = "provider.resource_released"
)

// AggregateType names the aggregate kind an event belongs to
type AggregateType string

const (
	AggregateRequest AggregateType = "request"
	AggregateMachine AggregateType = "machine"
)

// EventPayload carries the event-type specific fields. The set of payload
// shapes is closed; unused fields stay empty for a given event type.
type EventPayload struct {
	OldStatus  string `json:"oldStatus,omitempty"`
	NewStatus  string `json:"newStatus,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	MachineID  string `json:"machineId,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
	CheckType  string `json:"checkType,omitempty"`
	Healthy    bool   `json:"healthy,omitempty"`
	Count      int    `json:"count,omitempty"`
}

// Event is an immutable record of one domain transition. Events reference
// aggregates by id only, never by pointer.
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	Timestamp     time.Time         `json:"timestamp"`
	AggregateType AggregateType     `json:"aggregateType"`
	AggregateID   string            `json:"aggregateId"`
	Version       int               `json:"version"`
	Payload       EventPayload      `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent constructs an event with a generated id and current timestamp
func NewEvent(eventType EventType, aggType AggregateType, aggID string, version int, payload EventPayload) Event {
	return Event{
		ID:            fmt.Sprintf("evt-%s", uuid.NewString()),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		AggregateType: aggType,
		AggregateID:   aggID,
		Version:       version,
		Payload:       payload,
	}
}
