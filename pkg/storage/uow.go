package storage

import (
	"context"
	"fmt"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/log"
)

// pendingSave is one registered aggregate mutation awaiting commit
type pendingSave struct {
	save   func(ctx context.Context) error
	events func() []domain.Event
}

// UnitOfWork groups repository mutations into one atomic commit. Events
// collected from registered aggregates are dispatched strictly after the
// storage commit succeeds; a failed commit never publishes events, and a
// failed dispatch never rolls the commit back. Units of work over the same
// strategies serialize: Begin blocks until the previous unit commits or
// rolls back. Nested units of work are not supported.
type UnitOfWork struct {
	requests  *RequestRepository
	machines  *MachineRepository
	publisher events.Publisher

	// ctx scopes every storage call of the unit, like database/sql does for
	// its transactions
	ctx context.Context

	strategies []Strategy
	pending    []pendingSave
	open       bool
}

// UnitOfWorkFactory builds units of work over one repository pair
type UnitOfWorkFactory struct {
	Requests  *RequestRepository
	Machines  *MachineRepository
	Publisher events.Publisher
}

// Begin opens a unit of work and starts a transaction on each underlying
// strategy
func (f *UnitOfWorkFactory) Begin(ctx context.Context) (*UnitOfWork, error) {
	uow := &UnitOfWork{
		requests:  f.Requests,
		machines:  f.Machines,
		publisher: f.Publisher,
		ctx:       ctx,
	}
	seen := map[Strategy]bool{}
	for _, s := range []Strategy{f.Requests.strategy, f.Machines.strategy} {
		if seen[s] {
			continue
		}
		seen[s] = true
		if err := s.BeginTransaction(ctx); err != nil {
			uow.rollbackStrategies()
			return nil, fmt.Errorf("beginning transaction: %w", err)
		}
		uow.strategies = append(uow.strategies, s)
	}
	uow.open = true
	return uow, nil
}

// RegisterRequest stages a request aggregate for commit
func (u *UnitOfWork) RegisterRequest(req *domain.Request) {
	u.pending = append(u.pending, pendingSave{
		save:   func(ctx context.Context) error { return u.requests.Save(ctx, req) },
		events: req.TakeEvents,
	})
}

// RegisterMachine stages a machine aggregate for commit
func (u *UnitOfWork) RegisterMachine(m *domain.Machine) {
	u.pending = append(u.pending, pendingSave{
		save:   func(ctx context.Context) error { return u.machines.Save(ctx, m) },
		events: m.TakeEvents,
	})
}

// Commit flushes every staged mutation, commits the storage transactions,
// then dispatches the collected events in registration order. A save
// failure rolls the whole unit back.
func (u *UnitOfWork) Commit() error {
	if !u.open {
		return fmt.Errorf("unit of work is not open")
	}
	for _, p := range u.pending {
		if err := p.save(u.ctx); err != nil {
			u.rollbackStrategies()
			u.open = false
			return fmt.Errorf("saving aggregate: %w", err)
		}
	}
	for _, s := range u.strategies {
		if err := s.CommitTransaction(u.ctx); err != nil {
			u.rollbackStrategies()
			u.open = false
			return fmt.Errorf("committing transaction: %w", err)
		}
	}
	u.open = false
	if u.publisher != nil {
		for _, p := range u.pending {
			for _, event := range p.events() {
				u.publisher.Publish(event)
			}
		}
	}
	u.pending = nil
	return nil
}

// Rollback discards staged mutations and pending events
func (u *UnitOfWork) Rollback() {
	if !u.open {
		return
	}
	u.rollbackStrategies()
	// drain events so they never surface on a later commit
	for _, p := range u.pending {
		p.events()
	}
	u.pending = nil
	u.open = false
}

// Close rolls back when the unit was left open, for use with defer
func (u *UnitOfWork) Close() {
	if u.open {
		u.Rollback()
	}
}

func (u *UnitOfWork) rollbackStrategies() {
	for _, s := range u.strategies {
		if err := s.RollbackTransaction(u.ctx); err != nil {
			log.WithComponent("storage").Error().Err(err).Msg("rollback failed")
		}
	}
}
