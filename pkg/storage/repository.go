package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/paddock/pkg/domain"
)

// Entity type names used to scope strategies
const (
	EntityRequests = "requests"
	EntityMachines = "machines"
)

// aggregateLocks enforces at-most-one-writer per aggregate id within the
// process
type aggregateLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAggregateLocks() *aggregateLocks {
	return &aggregateLocks{locks: map[string]*sync.Mutex{}}
}

// Acquire locks the aggregate and returns its release function
func (l *aggregateLocks) Acquire(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// RequestRepository provides typed CRUD over Request aggregates
type RequestRepository struct {
	strategy Strategy
	locks    *aggregateLocks
}

// NewRequestRepository wraps a strategy scoped to the requests entity type
func NewRequestRepository(strategy Strategy) *RequestRepository {
	return &RequestRepository{strategy: strategy, locks: newAggregateLocks()}
}

// Lock acquires the per-aggregate writer lock, returning the release
// function
func (r *RequestRepository) Lock(id string) func() {
	return r.locks.Acquire(id)
}

// Save persists the aggregate
func (r *RequestRepository) Save(ctx context.Context, req *domain.Request) error {
	blob, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request %s: %w", req.ID, err)
	}
	return r.strategy.Save(ctx, req.ID, blob)
}

// Get loads a request by id
func (r *RequestRepository) Get(ctx context.Context, id string) (*domain.Request, error) {
	blob, ok, err := r.strategy.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewRequestNotFound(id)
	}
	var req domain.Request
	if err := json.Unmarshal(blob, &req); err != nil {
		return nil, fmt.Errorf("decoding request %s: %w", id, err)
	}
	return &req, nil
}

// All returns every stored request
func (r *RequestRepository) All(ctx context.Context) ([]*domain.Request, error) {
	blobs, err := r.strategy.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return decodeRequests(mapValues(blobs))
}

// FindByStatus returns requests in any of the given statuses
func (r *RequestRepository) FindByStatus(ctx context.Context, statuses ...domain.RequestStatus) ([]*domain.Request, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	blobs, err := r.strategy.FindByCriteria(ctx, []Criterion{In("status", values...)})
	if err != nil {
		return nil, err
	}
	return decodeRequests(blobs)
}

// FindByType returns requests of one type
func (r *RequestRepository) FindByType(ctx context.Context, t domain.RequestType) ([]*domain.Request, error) {
	blobs, err := r.strategy.FindByCriteria(ctx, []Criterion{Eq("type", string(t))})
	if err != nil {
		return nil, err
	}
	return decodeRequests(blobs)
}

// FindByCorrelation returns requests sharing a correlation id
func (r *RequestRepository) FindByCorrelation(ctx context.Context, correlationID string) ([]*domain.Request, error) {
	blobs, err := r.strategy.FindByCriteria(ctx, []Criterion{Eq("correlationId", correlationID)})
	if err != nil {
		return nil, err
	}
	return decodeRequests(blobs)
}

// FindActive returns requests whose status is not terminal
func (r *RequestRepository) FindActive(ctx context.Context) ([]*domain.Request, error) {
	return r.FindByStatus(ctx, domain.RequestStatusPending, domain.RequestStatusCreating, domain.RequestStatusRunning)
}

// Delete removes a request
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	return r.strategy.Delete(ctx, id)
}

func decodeRequests(blobs [][]byte) ([]*domain.Request, error) {
	out := make([]*domain.Request, 0, len(blobs))
	for _, blob := range blobs {
		var req domain.Request
		if err := json.Unmarshal(blob, &req); err != nil {
			return nil, fmt.Errorf("decoding request: %w", err)
		}
		out = append(out, &req)
	}
	return out, nil
}

// MachineRepository provides typed CRUD over Machine aggregates
type MachineRepository struct {
	strategy Strategy
	locks    *aggregateLocks
}

// NewMachineRepository wraps a strategy scoped to the machines entity type
func NewMachineRepository(strategy Strategy) *MachineRepository {
	return &MachineRepository{strategy: strategy, locks: newAggregateLocks()}
}

// Lock acquires the per-aggregate writer lock, returning the release
// function
func (r *MachineRepository) Lock(id string) func() {
	return r.locks.Acquire(id)
}

// Save persists the aggregate
func (r *MachineRepository) Save(ctx context.Context, m *domain.Machine) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding machine %s: %w", m.ID, err)
	}
	return r.strategy.Save(ctx, m.ID, blob)
}

// Get loads a machine by id
func (r *MachineRepository) Get(ctx context.Context, id string) (*domain.Machine, error) {
	blob, ok, err := r.strategy.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewMachineNotFound(id)
	}
	var m domain.Machine
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("decoding machine %s: %w", id, err)
	}
	return &m, nil
}

// All returns every stored machine
func (r *MachineRepository) All(ctx context.Context) ([]*domain.Machine, error) {
	blobs, err := r.strategy.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return decodeMachines(mapValues(blobs))
}

// FindByRequest returns the machines acquired by one request
func (r *MachineRepository) FindByRequest(ctx context.Context, requestID string) ([]*domain.Machine, error) {
	blobs, err := r.strategy.FindByCriteria(ctx, []Criterion{Eq("requestId", requestID)})
	if err != nil {
		return nil, err
	}
	return decodeMachines(blobs)
}

// FindByStatus returns machines in any of the given statuses
func (r *MachineRepository) FindByStatus(ctx context.Context, statuses ...domain.MachineStatus) ([]*domain.Machine, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	blobs, err := r.strategy.FindByCriteria(ctx, []Criterion{In("status", values...)})
	if err != nil {
		return nil, err
	}
	return decodeMachines(blobs)
}

// FindRunning returns every running machine
func (r *MachineRepository) FindRunning(ctx context.Context) ([]*domain.Machine, error) {
	return r.FindByStatus(ctx, domain.MachineStatusRunning)
}

// Delete removes a machine
func (r *MachineRepository) Delete(ctx context.Context, id string) error {
	return r.strategy.Delete(ctx, id)
}

func decodeMachines(blobs [][]byte) ([]*domain.Machine, error) {
	out := make([]*domain.Machine, 0, len(blobs))
	for _, blob := range blobs {
		var m domain.Machine
		if err := json.Unmarshal(blob, &m); err != nil {
			return nil, fmt.Errorf("decoding machine: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

func mapValues(blobs map[string][]byte) [][]byte {
	out := make([][]byte, 0, len(blobs))
	for _, blob := range blobs {
		out = append(out, blob)
	}
	return out
}
