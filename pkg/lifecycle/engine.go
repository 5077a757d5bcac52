package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/health"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/provider"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/template"
)

// Engine coordinates the broker's write path. All methods are safe for
// concurrent use; per-aggregate locks serialize writers on the same
// request.
type Engine struct {
	Templates *template.Store
	Resolver  *template.Resolver
	Validator *provider.Validator
	Dispatch  *provider.Dispatcher
	Requests  *storage.RequestRepository
	Machines  *storage.MachineRepository
	UoW       *storage.UnitOfWorkFactory
	Checker   *health.Checker

	// DefaultTimeout is applied to acquire requests that carry no explicit
	// timeout. Zero falls back to the domain default.
	DefaultTimeout time.Duration

	// CleanupAge bounds how long terminal requests are kept
	CleanupAge time.Duration
}

// CreateAcquireParams carries the scheduler's acquisition order
type CreateAcquireParams struct {
	TemplateID     string
	Count          int
	TimeoutSeconds int
	Tags           map[string]string
	Metadata       map[string]string
	CorrelationID  string
}

// CreateAcquire validates and persists a new acquire request, then starts
// the provider acquisition. Failures before the request is persisted return
// only an error; failures after persist the request in failed state and
// return it alongside the error, so callers can report the request id.
func (e *Engine) CreateAcquire(ctx context.Context, params CreateAcquireParams) (*domain.Request, error) {
	tmpl, err := e.Templates.Get(params.TemplateID)
	if err != nil {
		return nil, err
	}
	resolved, err := e.Resolver.Resolve(ctx, tmpl)
	if err != nil {
		return nil, err
	}

	timeoutSeconds := params.TimeoutSeconds
	if timeoutSeconds <= 0 && e.DefaultTimeout > 0 {
		timeoutSeconds = int(e.DefaultTimeout.Seconds())
	}
	req, err := domain.NewAcquireRequest(&resolved, params.Count, timeoutSeconds,
		params.Tags, params.Metadata, params.CorrelationID)
	if err != nil {
		return nil, err
	}
	if err := e.Validator.Validate(ctx, &resolved, params.Count); err != nil {
		return nil, err
	}
	handler, err := e.Dispatch.ForStrategy(resolved.Strategy)
	if err != nil {
		return nil, err
	}

	if err := e.commitRequest(ctx, req); err != nil {
		return nil, err
	}
	logger := log.WithRequestID(req.ID)
	logger.Info().
		Str("template_id", params.TemplateID).
		Str("strategy", string(resolved.Strategy)).
		Int("count", params.Count).
		Msg("acquire request created")

	// past this point the request exists; provider failures are recorded on
	// it instead of being returned bare
	if err := req.BeginProvisioning(); err != nil {
		return req, err
	}
	lt, err := handler.CreateLaunchTemplate(ctx, &resolved, req)
	if err != nil {
		return e.failRequest(ctx, req, fmt.Sprintf("creating launch template: %v", err), err)
	}
	req.SetLaunchTemplate(lt.ID, lt.Version)

	resourceID, err := handler.AcquireHosts(ctx, req, &resolved)
	if err != nil {
		return e.failRequest(ctx, req, fmt.Sprintf("acquiring hosts: %v", err), err)
	}
	if err := req.ResourcesAcquired(resourceID); err != nil {
		return req, err
	}
	if err := e.commitRequest(ctx, req); err != nil {
		return req, err
	}
	logger.Info().
		Str("resource_id", resourceID).
		Msg("provider resources acquired")
	return req, nil
}

// CreateReturn persists a return request for the given machines and
// releases them through the handlers that acquired them. Machines must be
// running; a machine in any other state fails the whole call before
// anything is released.
func (e *Engine) CreateReturn(ctx context.Context, machineIDs []string, correlationID string) (*domain.Request, error) {
	machines := make([]*domain.Machine, 0, len(machineIDs))
	for _, id := range machineIDs {
		m, err := e.Machines.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !m.IsRunning() {
			return nil, &domain.InvalidMachineStateError{
				MachineID: m.ID,
				From:      m.Status,
				To:        domain.MachineStatusReturned,
				Message:   "only running machines can be returned",
			}
		}
		machines = append(machines, m)
	}

	ret := domain.NewReturnRequest(machineIDs, correlationID)
	if err := e.commitRequest(ctx, ret); err != nil {
		return nil, err
	}
	if err := ret.BeginProvisioning(); err != nil {
		return ret, err
	}

	// machines may span several acquisitions; release each group through
	// the handler that acquired it
	groups := lo.GroupBy(machines, func(m *domain.Machine) string { return m.RequestID })
	var failures []string
	for originID, group := range groups {
		if err := e.releaseGroup(ctx, originID, group); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", originID, err))
			continue
		}
		for _, m := range group {
			if err := m.MarkReturned("returned on request"); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", m.ID, err))
			}
		}
	}

	now := time.Now().UTC()
	ret.Observe(now)
	if err := ret.ReleasesDispatched(); err != nil {
		return ret, err
	}
	var terminalErr error
	if len(failures) > 0 {
		terminalErr = ret.CompleteWithErrors("release failures: " + strings.Join(failures, "; "))
	} else {
		terminalErr = ret.Complete()
	}
	if terminalErr != nil {
		return ret, terminalErr
	}

	uow, err := e.UoW.Begin(ctx)
	if err != nil {
		return ret, err
	}
	defer uow.Close()
	uow.RegisterRequest(ret)
	for _, m := range machines {
		uow.RegisterMachine(m)
	}
	if err := uow.Commit(); err != nil {
		return ret, err
	}
	log.WithRequestID(ret.ID).Info().
		Int("count", len(machineIDs)).
		Int("failures", len(failures)).
		Msg("return request completed")
	if len(failures) > 0 {
		return ret, fmt.Errorf("partial return: %s", strings.Join(failures, "; "))
	}
	return ret, nil
}

// releaseGroup hands one origin request's machines back to its handler. A
// group covering every live machine of the origin releases the whole
// acquisition so fleets and groups are torn down rather than drained.
func (e *Engine) releaseGroup(ctx context.Context, originID string, group []*domain.Machine) error {
	origin, err := e.Requests.Get(ctx, originID)
	if err != nil {
		return err
	}
	handler, err := e.Dispatch.ForStrategy(origin.Strategy)
	if err != nil {
		return err
	}

	siblings, err := e.Machines.FindByRequest(ctx, originID)
	if err != nil {
		return err
	}
	live := lo.CountBy(siblings, func(m *domain.Machine) bool {
		return !m.Status.IsTerminal() && m.Status != domain.MachineStatusTerminated
	})
	if len(group) >= live {
		return handler.ReleaseHosts(ctx, origin, nil)
	}
	return handler.ReleaseHosts(ctx, origin, group)
}

// ReconcileStatus observes the provider state of one acquire request and
// advances the request and its machines. Return requests are returned as
// stored. Terminal acquire requests keep their status, but machines that
// are still live are re-observed so reclaims after completion surface.
// The call is idempotent; re-observing the same state changes nothing.
func (e *Engine) ReconcileStatus(ctx context.Context, requestID string) (*domain.Request, []*domain.Machine, error) {
	unlock := e.Requests.Lock(requestID)
	defer unlock()

	req, err := e.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	machines, err := e.Machines.FindByRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.Type == domain.RequestTypeReturn {
		return req, e.machinesFor(ctx, req, machines), nil
	}

	handler, err := e.Dispatch.ForStrategy(req.Strategy)
	if err != nil {
		return nil, nil, err
	}

	if !req.IsActive() {
		touched, err := e.observeLive(ctx, handler, req, machines)
		if err != nil {
			return nil, nil, err
		}
		if len(touched) > 0 {
			uow, err := e.UoW.Begin(ctx)
			if err != nil {
				return nil, nil, err
			}
			defer uow.Close()
			for _, m := range touched {
				uow.RegisterMachine(m)
			}
			if err := uow.Commit(); err != nil {
				return nil, nil, err
			}
		}
		return req, e.machinesFor(ctx, req, machines), nil
	}

	now := time.Now().UTC()
	req.Observe(now)

	byID := lo.KeyBy(machines, func(m *domain.Machine) string { return m.ID })
	var touched []*domain.Machine

	if req.ResourceID != "" {
		records, err := handler.CheckHostsStatus(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		for _, rec := range records {
			m, known := byID[rec.ID]
			if !known {
				if len(req.MachineIDs) >= req.RequestedCount && !req.HasMachine(rec.ID) {
					// over-delivery: the provider launched more than asked,
					// ignore the surplus
					continue
				}
				m = domain.NewMachine(rec.ID, req.ID, domain.MachineStatusPending, req.Strategy, req.ResourceID)
				if err := req.AttachMachine(rec.ID); err != nil {
					return nil, nil, err
				}
				byID[rec.ID] = m
				machines = append(machines, m)
				e.recordInitialHealth(ctx, m)
			}
			applyRecord(m, rec)
			observed := statusFromProviderState(rec.State)
			if err := m.ReconcileObserved(observed, rec.StateReason); err != nil {
				log.WithMachineID(m.ID).Warn().
					Str("observed", string(observed)).
					Str("current", string(m.Status)).
					Err(err).
					Msg("unreconcilable observed state")
			}
			touched = append(touched, m)
		}
		// machines the provider no longer reports have been reclaimed
		for _, m := range machines {
			if m.Status.IsTerminal() || m.Status == domain.MachineStatusTerminated {
				continue
			}
			if !lo.ContainsBy(records, func(r provider.InstanceRecord) bool { return r.ID == m.ID }) {
				if err := m.ReconcileObserved(domain.MachineStatusTerminated, "no longer reported by provider"); err == nil {
					touched = append(touched, m)
				}
			}
		}
	}

	e.settle(req, machines, now)

	uow, err := e.UoW.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer uow.Close()
	uow.RegisterRequest(req)
	for _, m := range lo.Uniq(touched) {
		uow.RegisterMachine(m)
	}
	if err := uow.Commit(); err != nil {
		return nil, nil, err
	}
	return req, e.machinesFor(ctx, req, machines), nil
}

// observeLive applies provider observations to machines that are still
// live without touching the request itself. Terminal requests pass through
// here so spot reclaims after completion are still noticed. New machines
// are never attached past that point.
func (e *Engine) observeLive(ctx context.Context, handler provider.Handler, req *domain.Request, machines []*domain.Machine) ([]*domain.Machine, error) {
	live := lo.Filter(machines, func(m *domain.Machine, _ int) bool {
		return !m.Status.IsTerminal() && m.Status != domain.MachineStatusTerminated
	})
	if req.ResourceID == "" || len(live) == 0 {
		return nil, nil
	}
	records, err := handler.CheckHostsStatus(ctx, req)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(records, func(r provider.InstanceRecord) string { return r.ID })

	var touched []*domain.Machine
	for _, m := range live {
		rec, reported := byID[m.ID]
		if !reported {
			if err := m.ReconcileObserved(domain.MachineStatusTerminated, "no longer reported by provider"); err == nil {
				touched = append(touched, m)
			}
			continue
		}
		applyRecord(m, rec)
		observed := statusFromProviderState(rec.State)
		if err := m.ReconcileObserved(observed, rec.StateReason); err != nil {
			log.WithMachineID(m.ID).Warn().
				Str("observed", string(observed)).
				Str("current", string(m.Status)).
				Err(err).
				Msg("unreconcilable observed state")
		}
		touched = append(touched, m)
	}
	return touched, nil
}

// settle decides whether the request reached a terminal status
func (e *Engine) settle(req *domain.Request, machines []*domain.Machine, now time.Time) {
	if !req.IsActive() {
		return
	}
	if req.TimedOut(now) {
		if err := req.FailTimeout(); err != nil {
			log.WithRequestID(req.ID).Error().Err(err).Msg("timeout transition rejected")
		}
		return
	}
	if req.Status != domain.RequestStatusRunning || len(machines) < req.RequestedCount {
		return
	}

	decided := 0
	failed := 0
	for _, m := range machines {
		switch m.Result() {
		case "succeed":
			decided++
		case "fail":
			decided++
			failed++
		}
	}
	if decided < req.RequestedCount {
		return
	}
	var err error
	if failed == 0 {
		err = req.Complete()
	} else {
		err = req.CompleteWithErrors(fmt.Sprintf("%d of %d machines failed", failed, req.RequestedCount))
	}
	if err != nil {
		log.WithRequestID(req.ID).Error().Err(err).Msg("completion transition rejected")
	}
}

// CheckHealth probes every running machine of active acquire requests and
// records the results
func (e *Engine) CheckHealth(ctx context.Context) error {
	if e.Checker == nil {
		return nil
	}
	running, err := e.Machines.FindRunning(ctx)
	if err != nil {
		return err
	}
	if len(running) == 0 {
		return nil
	}
	ids := lo.Map(running, func(m *domain.Machine, _ int) string { return m.ID })
	results, err := e.Checker.Check(ctx, ids)
	if err != nil {
		return err
	}

	uow, err := e.UoW.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close()
	for _, m := range running {
		for _, result := range results[m.ID] {
			m.RecordHealthCheck(result)
		}
		uow.RegisterMachine(m)
	}
	return uow.Commit()
}

// CleanupExpired removes terminal requests older than the retention window
// together with their machines. Returns how many requests were removed.
func (e *Engine) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	if e.CleanupAge <= 0 {
		return 0, nil
	}
	all, err := e.Requests.All(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, req := range all {
		if req.IsActive() || now.Sub(req.CreatedAt) < e.CleanupAge {
			continue
		}
		if req.Type == domain.RequestTypeAcquire {
			machines, err := e.Machines.FindByRequest(ctx, req.ID)
			if err != nil {
				return removed, err
			}
			for _, m := range machines {
				if err := e.Machines.Delete(ctx, m.ID); err != nil {
					return removed, err
				}
			}
		}
		if err := e.Requests.Delete(ctx, req.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		log.WithComponent("lifecycle").Info().
			Int("count", removed).
			Msg("expired requests removed")
	}
	return removed, nil
}

// recordInitialHealth runs the first health check on a newly discovered
// machine. Probe failures are recorded as unhealthy results, never
// propagated; acquisition does not block on monitoring.
func (e *Engine) recordInitialHealth(ctx context.Context, m *domain.Machine) {
	if e.Checker == nil {
		return
	}
	results, err := e.Checker.Check(ctx, []string{m.ID})
	if err != nil {
		m.RecordHealthCheck(domain.HealthCheckResult{
			CheckType: health.CheckInstance,
			Healthy:   false,
			Message:   fmt.Sprintf("health probe failed: %v", err),
			CheckedAt: time.Now().UTC(),
		})
		return
	}
	for _, result := range results[m.ID] {
		m.RecordHealthCheck(result)
	}
}

// machinesFor filters the stored machines down to those the request owns
func (e *Engine) machinesFor(ctx context.Context, req *domain.Request, machines []*domain.Machine) []*domain.Machine {
	if req.Type == domain.RequestTypeReturn {
		out := make([]*domain.Machine, 0, len(req.MachineIDs))
		for _, id := range req.MachineIDs {
			if m, err := e.Machines.Get(ctx, id); err == nil {
				out = append(out, m)
			}
		}
		return out
	}
	return machines
}

// commitRequest persists one request aggregate in its own unit of work
func (e *Engine) commitRequest(ctx context.Context, req *domain.Request) error {
	uow, err := e.UoW.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close()
	uow.RegisterRequest(req)
	return uow.Commit()
}

// failRequest records a provider failure on the request and persists it
func (e *Engine) failRequest(ctx context.Context, req *domain.Request, message string, cause error) (*domain.Request, error) {
	if err := req.Fail(message); err != nil {
		log.WithRequestID(req.ID).Error().Err(err).Msg("failure transition rejected")
	}
	if err := e.commitRequest(ctx, req); err != nil {
		log.WithRequestID(req.ID).Error().Err(err).Msg("persisting failed request")
	}
	return req, cause
}

// statusFromProviderState maps a provider-reported instance state onto the
// machine state machine. Anything unrecognized is Unknown, which carries
// recovery edges.
func statusFromProviderState(state string) domain.MachineStatus {
	switch state {
	case "pending":
		return domain.MachineStatusPending
	case "running":
		return domain.MachineStatusRunning
	case "stopping":
		return domain.MachineStatusStopping
	case "stopped":
		return domain.MachineStatusStopped
	case "shutting-down":
		return domain.MachineStatusShuttingDown
	case "terminated":
		return domain.MachineStatusTerminated
	default:
		return domain.MachineStatusUnknown
	}
}

// applyRecord copies observed provider detail onto the machine
func applyRecord(m *domain.Machine, rec provider.InstanceRecord) {
	if rec.Type != "" {
		m.Type = rec.Type
	}
	if rec.PrivateDNS != "" {
		m.Name = rec.PrivateDNS
	}
	if rec.PrivateIP != "" {
		m.PrivateIP = rec.PrivateIP
	}
	if rec.PublicIP != "" {
		m.PublicIP = rec.PublicIP
	}
	if rec.AvailabilityZone != "" {
		m.AvailabilityZone = rec.AvailabilityZone
	}
	if rec.SubnetID != "" {
		m.SubnetID = rec.SubnetID
	}
	if rec.VPCID != "" {
		m.VPCID = rec.VPCID
	}
	if rec.ImageID != "" {
		m.ImageID = rec.ImageID
	}
	if rec.PriceTier != "" {
		m.PriceTier = rec.PriceTier
	}
	if !rec.LaunchedAt.IsZero() {
		m.LaunchedAt = rec.LaunchedAt
	}
}
