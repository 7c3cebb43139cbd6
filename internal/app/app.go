package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/vk/modtool/internal/config"
	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
	"github.com/vk/modtool/internal/monitor"
	"github.com/vk/modtool/internal/plugins"
	"github.com/vk/modtool/internal/provision"
	"github.com/vk/modtool/internal/selfcheck"
	"github.com/vk/modtool/internal/verify"
)

// App encapsulates the engine's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	bus    *events.Bus
	cfg    *config.Config
	appCfg *Config

	provisioner *provision.Provisioner
	checker     *selfcheck.Checker
	verifier    *verify.Runner
	plugins     *plugins.Loader
	monitor     *monitor.Monitor

	mu        sync.RWMutex
	checks    []selfcheck.CheckResult
	records   []plugins.Record
	workspace provision.WorkspaceState
}

// New is the constructor for the engine. It returns a fully initialized
// App instance, including its own isolated logger and event bus. A failure
// to load the declared structure is a programmer/operator error and
// panics; the CLI recovers it into a clean exit.
func New(outW io.Writer, appConfig *Config, loader *config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	configPath := appConfig.ConfigPath
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(appConfig.Root, configPath)
	}
	cfg, err := loader.Load(ctx, appConfig.Root, configPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Declared structure loaded.", "project", cfg.ProjectName)

	bus := events.NewBus()
	checker := selfcheck.New(cfg, bus)

	app := &App{
		outW:        outW,
		logger:      logger,
		bus:         bus,
		cfg:         cfg,
		appCfg:      appConfig,
		provisioner: provision.New(cfg, bus),
		checker:     checker,
		verifier:    verify.New(cfg, bus),
		plugins:     plugins.New(cfg.PluginDir, bus),
	}
	if !appConfig.NoMonitor {
		app.monitor = monitor.New(cfg.MonitorInterval, checker.QuickCheck, bus)
		if cfg.WatchPlugins {
			app.monitor.WatchDir(cfg.PluginDir)
		}
	}
	return app
}

// Bus returns the status/log channel for the UI to drain.
func (a *App) Bus() *events.Bus {
	return a.bus
}

// Declaration returns the resolved declared structure. Primarily for tests.
func (a *App) Declaration() *config.Config {
	return a.cfg
}

// LatestChecks returns a copy of the CheckResult list from the most recent
// self-check run, for on-demand UI queries.
func (a *App) LatestChecks() []selfcheck.CheckResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	checks := make([]selfcheck.CheckResult, len(a.checks))
	copy(checks, a.checks)
	return checks
}

// PluginRecords returns a copy of the records from the most recent plugin
// scan, for on-demand UI queries.
func (a *App) PluginRecords() []plugins.Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	records := make([]plugins.Record, len(a.records))
	copy(records, a.records)
	return records
}

// Workspace returns the provisioned workspace state.
func (a *App) Workspace() provision.WorkspaceState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.workspace
}

func (a *App) setChecks(checks []selfcheck.CheckResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = checks
}

func (a *App) appendChecks(checks ...selfcheck.CheckResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, checks...)
}

func (a *App) setRecords(records []plugins.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = records
}

func (a *App) setWorkspace(state provision.WorkspaceState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workspace = state
}
