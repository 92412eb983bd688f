package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldstone-labs/deskmate/internal/config"
	"github.com/fieldstone-labs/deskmate/internal/logger"
	"github.com/fieldstone-labs/deskmate/internal/observability"
	"github.com/fieldstone-labs/deskmate/pkg/commandqueue"
	"github.com/fieldstone-labs/deskmate/pkg/gateway"
	"github.com/fieldstone-labs/deskmate/pkg/llm"
	"github.com/fieldstone-labs/deskmate/pkg/mcp"
	"github.com/fieldstone-labs/deskmate/pkg/orchestrator"
	"github.com/fieldstone-labs/deskmate/pkg/prompt"
	"github.com/fieldstone-labs/deskmate/pkg/routing"
	"github.com/fieldstone-labs/deskmate/pkg/session"
)

// Daemon owns the process-lifetime components and their start/stop order.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	queue         *commandqueue.Queue
	sessions      *session.Store
	registry      *mcp.Registry
	provider      llm.Provider
	prompts       *prompt.Library
	promptWatcher *prompt.Watcher
	routingTable  *routing.Table
	orchestrator  *orchestrator.Orchestrator
	gateway       *gateway.Server
	sweeper       *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	gatewayErr chan error
	running    bool
	mu         sync.Mutex
}

// New builds the daemon's components in dependency order. Nothing starts
// until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     cfg,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		gatewayErr: make(chan error, 1),
	}

	if err := d.initialize(); err != nil {
		cancel()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	zl := d.logger.Zerolog()

	d.queue = commandqueue.New(zl)
	d.sessions = session.NewStore(d.config.Session.IdleTimeout, zl)

	destinations := make(map[string]routing.Destination, len(d.config.Routing))
	for key, dest := range d.config.Routing {
		destinations[key] = routing.Destination{ID: dest.ID, Name: dest.Name}
	}
	d.routingTable = routing.NewTable(destinations)

	d.prompts = prompt.NewLibrary(d.config.Prompts.Dir, zl)
	if d.config.Prompts.Watch {
		watcher, err := prompt.NewWatcher(d.prompts, zl)
		if err != nil {
			return fmt.Errorf("failed to create prompt watcher: %w", err)
		}
		d.promptWatcher = watcher
	}

	provider, err := llm.NewProvider(d.config.Model.Provider, d.config.Model.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	d.provider = provider

	transport, err := d.buildTransport()
	if err != nil {
		return err
	}
	d.registry = mcp.NewRegistry(transport, zl)

	d.orchestrator, err = orchestrator.New(orchestrator.Config{
		Provider:       d.provider,
		Registry:       d.registry,
		Prompts:        d.prompts,
		Routing:        d.routingTable,
		Logger:         zl,
		Model:          d.config.Model.Name,
		MaxTokens:      d.config.Model.MaxTokens,
		Temperature:    d.config.Model.Temperature,
		MaxIterations:  d.config.Tools.MaxIterations,
		RequestTimeout: d.config.Model.RequestTimeout,
		Invalidating:   d.config.Tools.Invalidating,
		ArtifactTools:  d.config.Tools.ArtifactTools,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	d.gateway, err = gateway.NewServer(gateway.Config{
		Host:     d.config.Server.Host,
		Port:     d.config.Server.Port,
		Runner:   d.orchestrator,
		Sessions: d.sessions,
		Queue:    d.queue,
		Registry: d.registry,
		Provider: d.provider,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	if d.config.Session.SweepEvery != "" {
		d.sweeper = cron.New()
		_, err := d.sweeper.AddFunc(d.config.Session.SweepEvery, func() {
			if evicted := d.sessions.Sweep(); evicted > 0 {
				zl := d.logger.Zerolog()
				zl.Info().Int("evicted", evicted).Msg("idle sessions swept")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule session sweep: %w", err)
		}
	}

	return nil
}

func (d *Daemon) buildTransport() (mcp.Transport, error) {
	switch d.config.Tools.Transport {
	case "stdio":
		return mcp.NewStdioTransport(d.config.Tools.Command, d.config.Tools.Args, d.config.Tools.CallTimeout, d.logger.Zerolog()), nil
	case "http":
		return mcp.NewHTTPTransport(d.config.Tools.URL, d.config.Tools.CallTimeout), nil
	default:
		return nil, fmt.Errorf("unknown tool transport: %q", d.config.Tools.Transport)
	}
}

// Start connects to the tool service and brings up the serving surfaces.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()

	zl := d.logger.Zerolog()
	zl.Info().Msg("starting deskmate")

	if err := d.registry.Connect(d.ctx); err != nil {
		return fmt.Errorf("failed to connect to tool service: %w", err)
	}

	if d.promptWatcher != nil {
		if err := d.promptWatcher.Start(); err != nil {
			zl.Warn().Err(err).Msg("prompt watcher failed to start, prompts will not hot-reload")
		}
	}

	if d.sweeper != nil {
		d.sweeper.Start()
		zl.Info().Str("schedule", d.config.Session.SweepEvery).Msg("session sweeper started")
	}

	go func() {
		d.gatewayErr <- d.gateway.Start()
	}()

	zl.Info().
		Str("host", d.config.Server.Host).
		Int("port", d.config.Server.Port).
		Str("provider", d.config.Model.Provider).
		Msg("deskmate started")
	return nil
}

// Wait blocks until a termination signal arrives or the gateway fails.
func (d *Daemon) Wait() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		zl := d.logger.Zerolog()
		zl.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		return nil
	case err := <-d.gatewayErr:
		return err
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts everything down in reverse start order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	zl := d.logger.Zerolog()
	zl.Info().Msg("stopping deskmate")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := d.gateway.Stop(shutdownCtx); err != nil {
		zl.Warn().Err(err).Msg("gateway did not stop cleanly")
	}

	if d.sweeper != nil {
		<-d.sweeper.Stop().Done()
	}
	if d.promptWatcher != nil {
		d.promptWatcher.Stop()
	}

	if err := d.queue.Close(); err != nil {
		zl.Warn().Err(err).Msg("command queue did not close cleanly")
	}

	d.registry.Close()
	d.cancel()

	zl.Info().Msg("deskmate stopped")
	return nil
}
