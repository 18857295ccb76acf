// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"firestige.xyz/netdash/internal/aggregator"
	"firestige.xyz/netdash/internal/api"
	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/engine"
	"firestige.xyz/netdash/internal/export"
	logpkg "firestige.xyz/netdash/internal/log"
	"firestige.xyz/netdash/internal/metrics"
	"firestige.xyz/netdash/internal/publisher"
	"firestige.xyz/netdash/internal/resolve"
	"firestige.xyz/netdash/internal/source"
)

// Version is reported at startup.
const Version = "0.1.0"

// Daemon manages the netdash process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	opener     source.Opener

	// Core components
	engine        *engine.Engine
	resolver      *resolve.Resolver // nil if resolve disabled
	exporters     *export.Runner    // nil if no exporter enabled
	apiServer     *api.Server       // nil if api disabled
	metricsServer *metrics.Server   // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	pidWritten   bool
	stopped      bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithOpener replaces the capture source opener.
func WithOpener(o source.Opener) Option {
	return func(d *Daemon) {
		d.opener = o
	}
}

// New loads configuration and creates a Daemon.
func New(configPath string, opts ...Option) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg, configPath, opts...), nil
}

// NewWithConfig creates a Daemon from an already loaded configuration.
func NewWithConfig(cfg *config.GlobalConfig, configPath string, opts ...Option) *Daemon {
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		shutdownChan: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.opener == nil {
		d.opener = source.NewManager()
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// EngineConfig converts the global configuration into an engine run configuration.
func EngineConfig(cfg *config.GlobalConfig) engine.Config {
	c := cfg.Capture
	backend := c.Backend
	if c.File != "" {
		backend = source.BackendFile
	}
	return engine.Config{
		Capture: source.Config{
			Interface:    c.Interface,
			Filter:       c.Filter,
			Backend:      backend,
			Promiscuous:  c.Promiscuous,
			SnapLen:      c.SnapLen,
			ReadTimeout:  c.ReadTimeout,
			BufferSizeMB: c.BufferSizeMB,
			File:         c.File,
		},
		WindowInterval:  cfg.Engine.WindowInterval,
		PublishInterval: cfg.Engine.PublishInterval,
		Aggregation: aggregator.Config{
			FlowCap:      cfg.Engine.FlowCap,
			HistoryDepth: cfg.Engine.HistoryDepth,
		},
		Retry: engine.RetryConfig{
			MaxAttempts:    cfg.Engine.Retry.MaxAttempts,
			InitialBackoff: cfg.Engine.Retry.InitialBackoff,
			MaxBackoff:     cfg.Engine.Retry.MaxBackoff,
		},
	}
}

// Engine returns the capture engine. Valid after Start.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// APIAddr returns the bound API address, or "" if the API is disabled.
func (d *Daemon) APIAddr() string {
	if d.apiServer == nil {
		return ""
	}
	return d.apiServer.Addr()
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting netdash daemon",
		"version", Version,
		"config", d.configPath,
		"target", EngineConfig(d.config).Capture.Name(),
	)

	// 2. Write PID file
	if err := writePIDFile(d.config.Control.PIDFile); err != nil {
		return err
	}
	d.pidWritten = true

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Create publisher and engine
	var pubOpts []publisher.Option
	if d.config.Resolve.Enabled {
		d.resolver = resolve.New(d.config.Resolve)
		pubOpts = append(pubOpts, publisher.WithAnnotator(d.resolver))
	}
	pub := publisher.New(publisher.Config{
		TopN:             d.config.Engine.TopN,
		SubscriberBuffer: d.config.Engine.SubscriberBuffer,
	}, pubOpts...)
	d.engine = engine.New(d.opener, pub)

	// 5. Start exporters
	if err := d.startExporters(); err != nil {
		return fmt.Errorf("failed to start exporters: %w", err)
	}

	// 6. Start API server
	if d.config.API.Enabled {
		d.apiServer = api.NewServer(d.config.API.Listen, d.engine, EngineConfig(d.config))
		if err := d.apiServer.Start(d.ctx); err != nil {
			return fmt.Errorf("failed to start api server: %w", err)
		}
	}

	// 7. Autostart capture. Failure is non-fatal: the API can retry.
	if d.config.Engine.Autostart {
		if err := d.engine.Start(EngineConfig(d.config)); err != nil {
			slog.Error("autostart failed", "error", err)
		}
	}

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe
// to call more than once.
func (d *Daemon) Stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	slog.Info("initiating graceful shutdown")

	// 1. Stop capture; the final snapshot reaches exporters and open streams
	if d.engine != nil {
		if err := d.engine.Stop(); err != nil && !errors.Is(err, core.ErrNotRunning) {
			slog.Error("error stopping engine", "error", err)
		}
	}

	// 2. Stop exporters, then close the publisher, which ends snapshot streams
	if d.exporters != nil {
		slog.Info("stopping exporters")
		if err := d.exporters.Stop(); err != nil {
			slog.Error("error stopping exporters", "error", err)
		}
	}
	if d.engine != nil {
		d.engine.Close()
	}
	if d.resolver != nil {
		d.resolver.Close()
	}

	// 3. Stop API server
	if d.apiServer != nil {
		slog.Info("stopping api server")
		if err := d.apiServer.Stop(context.Background()); err != nil {
			slog.Error("error stopping api server", "error", err)
		}
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		if err := d.metricsServer.Stop(context.Background()); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 5. Cancel context to signal all goroutines
	d.cancel()

	// 6. Unregister signal handler
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if d.pidWritten {
		if err := removePIDFile(d.config.Control.PIDFile); err != nil {
			slog.Error("error removing PID file", "error", err)
		}
	}

	slog.Info("daemon stopped gracefully")
	logpkg.Close()
}

// Run blocks until SIGTERM/SIGINT, TriggerShutdown, or capture ends with
// no API to restart it (an offline source drained or retries ran out).
// SIGHUP reloads the log configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	var captureDone <-chan struct{}
	if d.apiServer == nil && d.engine != nil {
		captureDone = d.engine.Done()
	}

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-captureDone:
			health := d.engine.Health()
			d.Stop()
			if health.State == engine.StateUnavailable {
				return fmt.Errorf("capture ended: %s", health.Error)
			}
			slog.Info("replay finished")
			return nil

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file. Only logging is hot-reloaded;
// capture and listener changes take effect on the next Start or restart.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return errors.New("no config file to reload")
	}
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	if err := logpkg.Init(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	requiresRestart := []string{}
	if newConfig.API.Listen != d.config.API.Listen {
		requiresRestart = append(requiresRestart, "api.listen")
	}
	if newConfig.Metrics.Listen != d.config.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}
	if !reflect.DeepEqual(newConfig.Export, d.config.Export) {
		requiresRestart = append(requiresRestart, "export")
	}

	// Capture settings apply to the next engine start.
	if d.apiServer != nil {
		d.apiServer.SetDefaults(EngineConfig(newConfig))
	}
	d.config.Log = newConfig.Log
	d.config.Capture = newConfig.Capture
	d.config.Engine = newConfig.Engine

	slog.Info("configuration reloaded",
		"log_level", newConfig.Log.Level,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown requests a graceful shutdown of Run.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

func (d *Daemon) startExporters() error {
	var exporters []export.Exporter
	if k := d.config.Export.Kafka; k.Enabled {
		exp, err := export.NewKafkaExporter(k, EngineConfig(d.config).Capture.Name())
		if err != nil {
			return err
		}
		exporters = append(exporters, exp)
	}
	if n := d.config.Export.NATS; n.Enabled {
		exp, err := export.NewNATSExporter(n)
		if err != nil {
			for _, e := range exporters {
				e.Close()
			}
			return err
		}
		exporters = append(exporters, exp)
	}
	if len(exporters) == 0 {
		return nil
	}

	d.exporters = export.NewRunner(d.engine, 0, exporters...)
	d.exporters.Start(d.ctx)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}
