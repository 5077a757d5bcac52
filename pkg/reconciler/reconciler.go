package reconciler

import (
	"context"
	"time"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/lifecycle"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
)

// Options tunes the background loops
type Options struct {
	// Interval between reconciliation sweeps over active requests
	Interval time.Duration

	// HealthInterval between machine health check rounds. Zero disables
	// health checking.
	HealthInterval time.Duration

	// CleanupInterval between terminal-request retention sweeps. Zero
	// falls back to hourly.
	CleanupInterval time.Duration
}

// Reconciler drives the lifecycle engine in the background: it sweeps
// active requests against the provider, runs periodic health checks and
// removes terminal requests past their retention window.
type Reconciler struct {
	engine *lifecycle.Engine
	opts   Options
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a reconciler over the engine
func New(engine *lifecycle.Engine, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	return &Reconciler{
		engine: engine,
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background loops
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the loops to finish and waits for the in-flight sweep
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	sweep := time.NewTicker(r.opts.Interval)
	defer sweep.Stop()
	cleanup := time.NewTicker(r.opts.CleanupInterval)
	defer cleanup.Stop()

	var health <-chan time.Time
	if r.opts.HealthInterval > 0 {
		ticker := time.NewTicker(r.opts.HealthInterval)
		defer ticker.Stop()
		health = ticker.C
	}

	// Sweep immediately on start
	r.Sweep(ctx)

	for {
		select {
		case <-sweep.C:
			r.Sweep(ctx)
		case <-health:
			if err := r.engine.CheckHealth(ctx); err != nil {
				log.WithComponent("reconciler").Warn().
					Err(err).
					Msg("health check round failed")
			}
		case <-cleanup.C:
			r.Cleanup(ctx)
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

// Sweep reconciles every active request once. Per-request failures are
// logged and never abort the sweep.
func (r *Reconciler) Sweep(ctx context.Context) {
	start := time.Now()
	logger := log.WithComponent("reconciler")

	active, err := r.engine.Requests.FindActive(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("listing active requests")
		return
	}
	for _, req := range active {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := r.engine.ReconcileStatus(ctx, req.ID); err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			log.WithRequestID(req.ID).Warn().
				Err(err).
				Msg("reconciliation failed")
		}
	}

	metrics.ReconcileCycles.Inc()
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	logger.Debug().
		Int("active", len(active)).
		Dur("duration", time.Since(start)).
		Msg("sweep complete")
}

// Cleanup removes terminal requests past the engine's retention window
func (r *Reconciler) Cleanup(ctx context.Context) {
	removed, err := r.engine.CleanupExpired(ctx, time.Now().UTC())
	if err != nil {
		log.WithComponent("reconciler").Warn().
			Err(err).
			Msg("cleanup failed")
		return
	}
	if removed > 0 {
		metrics.RequestsCleaned.Add(float64(removed))
		log.WithComponent("reconciler").Info().
			Int("removed", removed).
			Msg("expired requests removed")
	}
}
