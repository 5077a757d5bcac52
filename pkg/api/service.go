package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/lifecycle"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/provider"
	"github.com/cuemby/paddock/pkg/template"
)

// Operation names addressed by the scheduler
const (
	OpGetAvailableTemplates = "getAvailableTemplates"
	OpRequestMachines       = "requestMachines"
	OpRequestReturnMachines = "requestReturnMachines"
	OpGetRequestStatus      = "getRequestStatus"
	OpGetReturnRequests     = "getReturnRequests"
)

const (
	// statusPollAttempts bounds the per-request retry of transient status
	// poll failures
	statusPollAttempts = 3

	// returnCacheTTL bounds how long identical getReturnRequests queries are
	// served from cache
	returnCacheTTL = 60 * time.Second
)

// Service implements the five scheduler-facing boundary operations
type Service struct {
	Engine   *lifecycle.Engine
	Resolver *template.Resolver
	Limiter  *rate.Limiter

	// GracePeriod and SpotGracePeriod are reported on return requests so
	// the scheduler keeps the machines alive long enough for draining
	GracePeriod     time.Duration
	SpotGracePeriod time.Duration

	returnCache *gocache.Cache
}

// NewService builds the boundary service. limiter may be nil to disable
// rate limiting.
func NewService(engine *lifecycle.Engine, resolver *template.Resolver, limiter *rate.Limiter, grace, spotGrace time.Duration) *Service {
	return &Service{
		Engine:          engine,
		Resolver:        resolver,
		Limiter:         limiter,
		GracePeriod:     grace,
		SpotGracePeriod: spotGrace,
		returnCache:     gocache.New(returnCacheTTL, 2*returnCacheTTL),
	}
}

// Run dispatches one named operation. Unknown operations fail with a
// validation error; every path returns a structured envelope.
func (s *Service) Run(ctx context.Context, operation string, in *Input) *Output {
	start := time.Now()
	correlationID := newCorrelationID(in)
	logger := log.WithCorrelationID(correlationID)

	var (
		out *Output
		err error
	)
	switch operation {
	case OpGetAvailableTemplates:
		out, err = s.GetAvailableTemplates(ctx, in)
	case OpRequestMachines:
		out, err = s.RequestMachines(ctx, in)
	case OpRequestReturnMachines:
		out, err = s.RequestReturnMachines(ctx, in)
	case OpGetRequestStatus:
		out, err = s.GetRequestStatus(ctx, in)
	case OpGetReturnRequests:
		out, err = s.GetReturnRequests(ctx, in)
	default:
		err = &domain.ValidationError{Field: "operation", Message: fmt.Sprintf("unknown operation %q", operation)}
	}

	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(operation, "error").Inc()
		if kind := provider.KindOf(err); kind != "" {
			metrics.ProviderErrors.WithLabelValues(string(kind)).Inc()
		}
		logger.Warn().
			Str("operation", operation).
			Str("error_type", domain.ErrorType(wrapProviderError(err))).
			Err(err).
			Msg("boundary operation failed")
		return errorOutput(correlationID, wrapProviderError(err))
	}
	metrics.OperationsTotal.WithLabelValues(operation, "success").Inc()
	out.Metadata.CorrelationID = correlationID
	if out.Metadata.Timestamp == "" {
		out.Metadata.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	logger.Debug().
		Str("operation", operation).
		Dur("duration", time.Since(start)).
		Msg("boundary operation completed")
	return out
}

// GetAvailableTemplates lists the template catalog. The long flag resolves
// image aliases through the cloud so the scheduler sees concrete ids.
func (s *Service) GetAvailableTemplates(ctx context.Context, in *Input) (*Output, error) {
	if err := s.allow(OpGetAvailableTemplates); err != nil {
		return nil, err
	}
	templates := s.Engine.Templates.List()
	reports := make([]TemplateReport, 0, len(templates))
	for _, tmpl := range templates {
		report := TemplateReport{Template: tmpl}
		if in != nil && in.Long && s.Resolver != nil && template.IsAlias(tmpl.ImageID) {
			resolved, err := s.Resolver.ResolveImage(ctx, tmpl.ImageID)
			if err == nil {
				report.ResolvedImageID = resolved
			}
		}
		reports = append(reports, report)
	}
	return &Output{
		Templates: reports,
		Message:   fmt.Sprintf("%d templates available", len(reports)),
	}, nil
}

// RequestMachines validates the acquire order and starts the acquisition
func (s *Service) RequestMachines(ctx context.Context, in *Input) (*Output, error) {
	if in == nil || in.Template == nil {
		return nil, &domain.ValidationError{Field: "template", Message: "must be provided"}
	}
	if in.Template.MachineCount <= 0 {
		return nil, &domain.ValidationError{Field: "machineCount", Message: "must be strictly positive"}
	}
	if err := s.allow(OpRequestMachines); err != nil {
		return nil, err
	}

	req, err := s.Engine.CreateAcquire(ctx, lifecycle.CreateAcquireParams{
		TemplateID:     in.Template.TemplateID,
		Count:          in.Template.MachineCount,
		TimeoutSeconds: in.Template.TimeoutSeconds,
		Tags:           in.Template.Tags,
		CorrelationID:  in.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	metrics.MachinesAcquired.WithLabelValues(string(req.Strategy)).Add(float64(in.Template.MachineCount))
	return &Output{
		RequestID: lo.ToPtr(req.ID),
		Message:   fmt.Sprintf("acquiring %d machines from template %s", in.Template.MachineCount, in.Template.TemplateID),
		Metadata:  successMetadata(in.CorrelationID, req.ID),
	}, nil
}

// RequestReturnMachines returns the named machines to the provider. An
// empty machine list succeeds with a null request id and mutates nothing.
func (s *Service) RequestReturnMachines(ctx context.Context, in *Input) (*Output, error) {
	if in == nil || (len(in.Machines) == 0 && !in.All) {
		return &Output{Message: "no machines to return"}, nil
	}
	if err := s.allow(OpRequestReturnMachines); err != nil {
		return nil, err
	}

	var ids []string
	if in.All {
		running, err := s.Engine.Machines.FindRunning(ctx)
		if err != nil {
			return nil, err
		}
		ids = lo.Map(running, func(m *domain.Machine, _ int) string { return m.ID })
		sort.Strings(ids)
		if len(ids) == 0 {
			return &Output{Message: "no machines to return"}, nil
		}
	} else {
		for _, ref := range in.Machines {
			if ref.MachineID == "" {
				return nil, &domain.ValidationError{Field: "machineId", Message: "must not be empty"}
			}
			ids = append(ids, ref.MachineID)
		}
	}

	ret, err := s.Engine.CreateReturn(ctx, ids, in.CorrelationID)
	if err != nil && ret == nil {
		return nil, err
	}
	metrics.MachinesReturned.Add(float64(len(ids)))
	out := &Output{
		RequestID: lo.ToPtr(ret.ID),
		Message:   fmt.Sprintf("returning %d machines", len(ids)),
		Metadata:  successMetadata(in.CorrelationID, ret.ID),
	}
	if err != nil {
		out.Message = err.Error()
	}
	return out, nil
}

// GetRequestStatus reconciles and reports one or more requests. Per-request
// failures land in the errors array; the call fails outright only when
// every request failed.
func (s *Service) GetRequestStatus(ctx context.Context, in *Input) (*Output, error) {
	if err := s.allow(OpGetRequestStatus); err != nil {
		return nil, err
	}

	var ids []string
	switch {
	case in != nil && len(in.Requests) > 0:
		for _, ref := range in.Requests {
			if ref.RequestID == "" {
				return nil, &domain.ValidationError{Field: "requestId", Message: "must not be empty"}
			}
			ids = append(ids, ref.RequestID)
		}
	case in != nil && in.All:
		active, err := s.Engine.Requests.FindActive(ctx)
		if err != nil {
			return nil, err
		}
		ids = lo.Map(active, func(r *domain.Request, _ int) string { return r.ID })
		sort.Strings(ids)
	default:
		return nil, &domain.ValidationError{Field: "requests", Message: "at least one requestId or all=true required"}
	}

	out := &Output{}
	for _, id := range ids {
		req, machines, err := s.pollStatus(ctx, id)
		if err != nil {
			out.Errors = append(out.Errors, RequestError{
				RequestID: id,
				Message:   err.Error(),
				ErrorType: domain.ErrorType(wrapProviderError(err)),
			})
			continue
		}
		out.Requests = append(out.Requests, requestReport(req, machines))
	}
	if len(out.Requests) == 0 && len(out.Errors) > 0 {
		return nil, fmt.Errorf("all %d status polls failed: %s", len(out.Errors), out.Errors[0].Message)
	}
	out.Message = fmt.Sprintf("%d of %d requests reported", len(out.Requests), len(ids))
	return out, nil
}

// GetReturnRequests lists return-type requests with their grace periods.
// Identical queries are served from a short cache.
func (s *Service) GetReturnRequests(ctx context.Context, in *Input) (*Output, error) {
	if err := s.allow(OpGetReturnRequests); err != nil {
		return nil, err
	}
	key := returnQueryKey(in)
	if cached, ok := s.returnCache.Get(key); ok {
		out := cached.(Output)
		return &out, nil
	}

	returns, err := s.Engine.Requests.FindByType(ctx, domain.RequestTypeReturn)
	if err != nil {
		return nil, err
	}
	sort.Slice(returns, func(i, j int) bool { return returns[i].CreatedAt.Before(returns[j].CreatedAt) })

	out := &Output{}
	for _, ret := range returns {
		report := RequestReport{
			RequestID:   ret.ID,
			Status:      string(ret.Status),
			Message:     ret.Message,
			GracePeriod: int(s.gracePeriodFor(ctx, ret).Seconds()),
		}
		for _, id := range ret.MachineIDs {
			if m, err := s.Engine.Machines.Get(ctx, id); err == nil {
				report.Machines = append(report.Machines, machineReport(m))
			}
		}
		out.Requests = append(out.Requests, report)
	}
	out.Message = fmt.Sprintf("%d return requests", len(out.Requests))

	s.returnCache.SetDefault(key, *out)
	return out, nil
}

// pollStatus reconciles one request, retrying transient provider failures.
// Absent requests are never retried.
func (s *Service) pollStatus(ctx context.Context, id string) (*domain.Request, []*domain.Machine, error) {
	var (
		req      *domain.Request
		machines []*domain.Machine
		err      error
	)
	for attempt := 1; attempt <= statusPollAttempts; attempt++ {
		req, machines, err = s.Engine.ReconcileStatus(ctx, id)
		if err == nil || domain.IsNotFound(err) || !retriableStatusError(err) {
			return req, machines, err
		}
		log.WithRequestID(id).Warn().
			Int("attempt", attempt).
			Err(err).
			Msg("status poll failed, retrying")
	}
	return req, machines, err
}

// retriableStatusError reports whether a status poll failure is worth
// another attempt at the boundary
func retriableStatusError(err error) bool {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.Kind == provider.KindNetwork || pe.Kind == provider.KindCapacity
	}
	return false
}

// gracePeriodFor picks the return grace period; spot capacity drains faster
func (s *Service) gracePeriodFor(ctx context.Context, ret *domain.Request) time.Duration {
	for _, id := range ret.MachineIDs {
		m, err := s.Engine.Machines.Get(ctx, id)
		if err != nil {
			continue
		}
		if m.PriceTier == domain.PriceTierSpot {
			return s.SpotGracePeriod
		}
	}
	return s.GracePeriod
}

// allow consumes one rate-limit token for the operation
func (s *Service) allow(operation string) error {
	if s.Limiter == nil || s.Limiter.Allow() {
		return nil
	}
	metrics.RateLimited.WithLabelValues(operation).Inc()
	return &domain.RateLimitError{Operation: operation}
}

// returnQueryKey derives the cache key for a getReturnRequests input
func returnQueryKey(in *Input) string {
	if in == nil {
		return "all"
	}
	parts := make([]string, 0, len(in.Requests)+1)
	if in.All {
		parts = append(parts, "all")
	}
	for _, ref := range in.Requests {
		parts = append(parts, ref.RequestID)
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, ",")
}

// wrapProviderError maps a typed handler error onto the domain error
// taxonomy so the envelope carries a stable tag
func wrapProviderError(err error) error {
	var pe *provider.Error
	if !errors.As(err, &pe) {
		return err
	}
	if pe.Kind == provider.KindResourceNotFound {
		return &domain.NotFoundError{Kind: domain.KindResource, ID: pe.Err.Error()}
	}
	return &domain.InfrastructureError{Operation: pe.Op, Err: pe.Err}
}
