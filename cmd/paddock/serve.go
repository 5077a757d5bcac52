package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/cuemby/paddock/pkg/api"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/health"
	"github.com/cuemby/paddock/pkg/lifecycle"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/provider"
	"github.com/cuemby/paddock/pkg/reconciler"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/template"
)

// broker bundles the wired components behind one Close
type broker struct {
	Service   *api.Service
	Engine    *lifecycle.Engine
	Requests  *storage.RequestRepository
	Machines  *storage.MachineRepository
	publisher events.Publisher
	closers   []func() error
}

func (b *broker) Close() {
	b.publisher.Close()
	for _, closer := range b.closers {
		if err := closer(); err != nil {
			log.WithComponent("main").Warn().Err(err).Msg("closing storage")
		}
	}
}

// newBroker wires storage, provider clients, the lifecycle engine and the
// boundary service from the configuration
func newBroker(ctx context.Context, cfg config.Config) (*broker, error) {
	clients, err := provider.NewClients(ctx, cfg.Provider.Region, cfg.Provider.Profile)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Type == storage.TypeDynamoDB {
		storage.RegisterDynamo(clients.Dynamo)
	}

	reqStrategy, err := storage.NewStrategy(cfg.Storage, storage.EntityRequests)
	if err != nil {
		return nil, fmt.Errorf("opening request storage: %w", err)
	}
	machStrategy, err := storage.NewStrategy(cfg.Storage, storage.EntityMachines)
	if err != nil {
		reqStrategy.Close()
		return nil, fmt.Errorf("opening machine storage: %w", err)
	}
	requests := storage.NewRequestRepository(reqStrategy)
	machines := storage.NewMachineRepository(machStrategy)

	store, err := template.NewStore(cfg.Template.File)
	if err != nil {
		reqStrategy.Close()
		machStrategy.Close()
		return nil, fmt.Errorf("loading template catalog: %w", err)
	}

	publisher, err := events.NewPublisher(events.Mode(cfg.Events.Mode))
	if err != nil {
		reqStrategy.Close()
		machStrategy.Close()
		return nil, err
	}

	policy := provider.RetryPolicy{
		Attempts:  uint(cfg.Provider.MaxRetries),
		BaseDelay: time.Duration(cfg.Provider.RetryBaseMS) * time.Millisecond,
		MaxJitter: time.Duration(cfg.Provider.RetryBaseMS) * time.Millisecond / 4,
	}
	resolver := template.NewResolver(clients.SSM, policy, cfg.Template.AliasCacheTTL)

	engine := &lifecycle.Engine{
		Templates:      store,
		Resolver:       resolver,
		Validator:      provider.NewValidator(clients.EC2, policy, cfg.Provider.InstanceLimit),
		Dispatch:       provider.NewDispatcher(clients, policy),
		Requests:       requests,
		Machines:       machines,
		UoW:            &storage.UnitOfWorkFactory{Requests: requests, Machines: machines, Publisher: publisher},
		Checker:        health.NewChecker(clients.EC2, policy),
		DefaultTimeout: cfg.Request.DefaultTimeout,
		CleanupAge:     cfg.Request.CleanupAge,
	}

	var limiter *rate.Limiter
	if cfg.Server.RateLimit > 0 {
		burst := cfg.Server.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), burst)
	}

	return &broker{
		Service:   api.NewService(engine, resolver, limiter, cfg.Request.GracePeriod, cfg.Request.SpotGracePeriod),
		Engine:    engine,
		Requests:  requests,
		Machines:  machines,
		publisher: publisher,
		closers:   []func() error{reqStrategy.Close, machStrategy.Close},
	}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker as a long-lived server",
	Long: `Run the broker in server mode: the boundary operations are exposed
over HTTP, active requests are reconciled in the background and metrics
are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		b, err := newBroker(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		recon := reconciler.New(b.Engine, reconciler.Options{
			Interval:       cfg.Server.ReconcileInterval,
			HealthInterval: cfg.Health.Interval,
		})
		recon.Start(ctx)
		defer recon.Stop()

		collector := metrics.NewCollector(b.Requests, b.Machines)
		collector.Start()
		defer collector.Stop()

		server := api.NewServer(b.Service)
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.Server.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.WithComponent("main").Info().
				Str("signal", sig.String()).
				Msg("shutting down")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	},
}
