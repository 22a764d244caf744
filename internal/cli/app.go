// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/config"
	"github.com/jeranaias/uoe-chat/internal/health"
	"github.com/jeranaias/uoe-chat/internal/logging"
	"github.com/jeranaias/uoe-chat/internal/metrics"
	"github.com/jeranaias/uoe-chat/internal/orchestrator"
	"github.com/jeranaias/uoe-chat/internal/store"
	"github.com/jeranaias/uoe-chat/internal/tracing"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// GlobalOptions holds the persistent flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	APIURL     string
	Namespace  string
	LogLevel   string
	Verbose    bool
	NoColor    bool

	// version tags exported spans.
	version string
}

// loadConfig resolves the config file, then applies flag overrides on top of
// file and environment values. The returned path is "" when no file exists.
func loadConfig(opts GlobalOptions) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", &ConfigError{Err: err}
	}

	path := opts.ConfigPath
	if path == "" {
		if p, err := config.ConfigPathTOML(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, path, &ConfigError{Path: path, Err: err}
	}

	if opts.APIURL != "" {
		cfg.API.BaseURL = opts.APIURL
	}
	if opts.Namespace != "" {
		cfg.Chat.Namespace = opts.Namespace
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, &ConfigError{Path: path, Err: err}
	}
	return cfg, path, nil
}

// =============================================================================
// APP
// =============================================================================

// App wires the components for one invocation.
type App struct {
	Config       *config.Config
	ConfigPath   string
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Client       *api.Client
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Monitor      *health.Monitor

	shutdownTracing tracing.ShutdownFunc
}

// tracingShutdownTimeout bounds the final span flush on exit.
const tracingShutdownTimeout = 5 * time.Second

// appMode selects where logs go.
type appMode int

const (
	// modeLine prints to the terminal; logs below warn are dropped unless a
	// log file or --verbose is set.
	modeLine appMode = iota
	// modeFullscreen owns the terminal; logs always go to a file.
	modeFullscreen
)

// NewApp loads configuration and builds every component.
func NewApp(opts GlobalOptions, mode appMode) (*App, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg, path, mode, opts)
}

func newAppFromConfig(cfg *config.Config, path string, mode appMode, opts GlobalOptions) (*App, error) {
	logOpts := cfg.LogOptions()
	switch {
	case mode == modeFullscreen && logOpts.File == "":
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		logOpts.File = filepath.Join(dir, "uoechat.log")
	case mode == modeLine && logOpts.File == "" && !opts.Verbose:
		if logging.ParseLevel(logOpts.Level) < logging.ParseLevel("warn") {
			logOpts.Level = "warn"
		}
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	traceOpts := cfg.TraceOptions()
	traceOpts.ServiceVersion = opts.version
	traceOpts.Logger = logger
	shutdownTracing, err := tracing.Init(context.Background(), traceOpts)
	if err != nil {
		// Export is optional; the spans fall back to the no-op provider.
		logger.Warn("tracing unavailable", zap.Error(err))
	}

	m := metrics.New()

	cc := cfg.ClientConfig()
	cc.Logger = logger
	client := api.NewClient(cc)

	settings := cfg.Settings()
	st := store.New(store.Options{
		Namespace: cfg.Namespace(),
		Settings:  &settings,
		MaxTurns:  cfg.Chat.MaxTurns,
	})

	orch := orchestrator.New(st, client, orchestrator.Options{Logger: logger, Metrics: m})
	monitor := health.NewMonitor(client, st.SetOnline, health.Options{
		Interval: cfg.HealthInterval(),
		Logger:   logger,
		Metrics:  m,
	})

	return &App{
		Config:       cfg,
		ConfigPath:   path,
		Logger:       logger,
		Metrics:      m,
		Client:       client,
		Store:        st,
		Orchestrator: orch,
		Monitor:      monitor,

		shutdownTracing: shutdownTracing,
	}, nil
}

// Run supervises the health monitor, the optional metrics endpoint and ui.
// ui's return ends the run; its error is the run's error.
func (a *App) Run(ctx context.Context, ui func(ctx context.Context) error) error {
	eg, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	eg.Go(func() error {
		return a.Monitor.Run(runCtx)
	})

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		eg.Go(func() error {
			a.Logger.Info("metrics listening", zap.String("addr", addr))
			return a.Metrics.Serve(runCtx, addr)
		})
	}

	eg.Go(func() error {
		defer cancel()
		err := ui(runCtx)
		// Abort anything still in flight before the group unwinds.
		a.Orchestrator.Stop()
		return err
	})

	err := eg.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return nil
	}
	return err
}

// Close flushes buffered spans and the logger.
func (a *App) Close() {
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		if err := a.shutdownTracing(ctx); err != nil {
			a.Logger.Warn("tracing shutdown failed", zap.Error(err))
		}
		cancel()
	}
	_ = a.Logger.Sync()
}
