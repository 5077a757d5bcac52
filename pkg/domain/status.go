package domain

import "fmt"

// RequestStatus represents the lifecycle state of a Request
type RequestStatus string

const (
	RequestStatusPending           RequestStatus = "pending"
	RequestStatusCreating          RequestStatus = "creating"
	RequestStatusRunning           RequestStatus = "running"
	RequestStatusComplete          RequestStatus = "complete"
	RequestStatusCompleteWithError RequestStatus = "complete_with_error"
	RequestStatusFailed            RequestStatus = "failed"
)

// requestTransitions defines the allowed request state machine edges
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:           {RequestStatusCreating, RequestStatusRunning, RequestStatusFailed},
	RequestStatusCreating:          {RequestStatusRunning, RequestStatusFailed},
	RequestStatusRunning:           {RequestStatusComplete, RequestStatusCompleteWithError, RequestStatusFailed},
	RequestStatusComplete:          {},
	RequestStatusCompleteWithError: {},
	RequestStatusFailed:            {},
}

// IsTerminal reports whether no further status transitions are allowed
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusComplete || s == RequestStatusCompleteWithError || s == RequestStatusFailed
}

// CanTransitionTo reports whether the edge s -> next is allowed
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseRequestStatus parses a rendered request status back to its enum value
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case RequestStatusPending, RequestStatusCreating, RequestStatusRunning,
		RequestStatusComplete, RequestStatusCompleteWithError, RequestStatusFailed:
		return RequestStatus(s), nil
	}
	return "", fmt.Errorf("unknown request status: %q", s)
}

// MachineStatus represents the lifecycle state of a Machine
type MachineStatus string

const (
	MachineStatusPending      MachineStatus = "pending"
	MachineStatusRunning      MachineStatus = "running"
	MachineStatusStopping     MachineStatus = "stopping"
	MachineStatusStopped      MachineStatus = "stopped"
	MachineStatusShuttingDown MachineStatus = "shutting-down"
	MachineStatusTerminated   MachineStatus = "terminated"
	MachineStatusFailed       MachineStatus = "failed"
	MachineStatusReturned     MachineStatus = "returned"
	MachineStatusUnknown      MachineStatus = "unknown"
)

// machineTransitions defines the allowed machine state machine edges.
// Unknown carries recovery edges for machines first observed in an
// indeterminate provider state.
var machineTransitions = map[MachineStatus][]MachineStatus{
	MachineStatusPending:      {MachineStatusRunning, MachineStatusFailed},
	MachineStatusRunning:      {MachineStatusStopping, MachineStatusShuttingDown},
	MachineStatusStopping:     {MachineStatusStopped, MachineStatusFailed},
	MachineStatusStopped:      {MachineStatusRunning, MachineStatusTerminated},
	MachineStatusShuttingDown: {MachineStatusTerminated},
	MachineStatusTerminated:   {MachineStatusReturned},
	MachineStatusFailed:       {},
	MachineStatusReturned:     {},
	MachineStatusUnknown:      {MachineStatusPending, MachineStatusRunning, MachineStatusStopped, MachineStatusTerminated},
}

// IsTerminal reports whether no further status transitions are allowed
func (s MachineStatus) IsTerminal() bool {
	return s == MachineStatusFailed || s == MachineStatusReturned
}

// CanTransitionTo reports whether the edge s -> next is allowed
func (s MachineStatus) CanTransitionTo(next MachineStatus) bool {
	for _, allowed := range machineTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionPath returns the intermediate hops needed to move from s to
// target along allowed edges, target included. Observed provider state can
// skip intermediate states (a machine seen running and later terminated);
// the reconciler walks the returned path so the state machine stays intact.
// Returns nil when no path exists.
func (s MachineStatus) TransitionPath(target MachineStatus) []MachineStatus {
	if s == target {
		return []MachineStatus{}
	}
	// breadth-first over a tiny graph
	type node struct {
		status MachineStatus
		path   []MachineStatus
	}
	visited := map[MachineStatus]bool{s: true}
	queue := []node{{status: s}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range machineTransitions[cur.status] {
			if visited[next] {
				continue
			}
			path := append(append([]MachineStatus{}, cur.path...), next)
			if next == target {
				return path
			}
			visited[next] = true
			queue = append(queue, node{status: next, path: path})
		}
	}
	return nil
}

// ParseMachineStatus parses a rendered machine status back to its enum value
func ParseMachineStatus(s string) (MachineStatus, error) {
	switch MachineStatus(s) {
	case MachineStatusPending, MachineStatusRunning, MachineStatusStopping,
		MachineStatusStopped, MachineStatusShuttingDown, MachineStatusTerminated,
		MachineStatusFailed, MachineStatusReturned, MachineStatusUnknown:
		return MachineStatus(s), nil
	}
	return "", fmt.Errorf("unknown machine status: %q", s)
}

// Result derives the scheduler-facing result string for a machine status
func (s MachineStatus) Result() string {
	switch s {
	case MachineStatusRunning:
		return "succeed"
	case MachineStatusFailed, MachineStatusTerminated:
		return "fail"
	default:
		return "executing"
	}
}
