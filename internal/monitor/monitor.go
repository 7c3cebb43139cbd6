// Package monitor runs the background health loop for the lifetime of the
// process. Each tick re-runs the lightweight directory check (never the
// full manifest diff or syntax scan, to keep ticks cheap) and publishes a
// summary event. Shutdown is cooperative and bounded: Stop returns within
// one tick interval and is safe to call any number of times, even after
// the loop has already exited.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
	"github.com/vk/modtool/internal/selfcheck"
)

const source = "monitor"

// QuickCheck is the lightweight check the monitor re-runs on every tick.
type QuickCheck func(ctx context.Context) selfcheck.CheckResult

// Monitor is a cancellable background health loop.
type Monitor struct {
	interval time.Duration
	quick    QuickCheck
	bus      *events.Bus

	// watchDir, when set, is watched for plugin file changes between ticks.
	watchDir string

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	ticks    atomic.Uint64
}

// New creates a Monitor. interval must be positive.
func New(interval time.Duration, quick QuickCheck, bus *events.Bus) *Monitor {
	if interval <= 0 {
		panic("monitor: interval must be positive")
	}
	return &Monitor{
		interval: interval,
		quick:    quick,
		bus:      bus,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// WatchDir enables plugin-directory change notifications. Must be called
// before Start.
func (m *Monitor) WatchDir(dir string) {
	m.watchDir = dir
}

// Start launches the background loop. It returns false if the monitor was
// already started; a Monitor instance runs at most once.
func (m *Monitor) Start(ctx context.Context) bool {
	if !m.started.CompareAndSwap(false, true) {
		return false
	}
	go m.run(ctx)
	return true
}

// Stop requests shutdown and waits for the loop to exit, but never longer
// than one tick interval. It reports whether the loop is known to have
// exited. Stop is idempotent and safe after a natural exit.
func (m *Monitor) Stop() bool {
	if !m.started.Load() {
		return false
	}
	m.stopOnce.Do(func() { close(m.stopCh) })

	select {
	case <-m.doneCh:
		return true
	case <-time.After(m.interval):
		return false
	}
}

// Ticks returns the number of completed monitor ticks.
func (m *Monitor) Ticks() uint64 {
	return m.ticks.Load()
}

func (m *Monitor) run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	watchEvents, closeWatcher := m.startWatcher(ctx)
	defer closeWatcher()

	logger.Info("Health monitor started.", "interval", m.interval)
	m.bus.Publish(events.SeverityInfo, source, "health monitor started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Health monitor stopping: context cancelled.")
			return
		case <-m.stopCh:
			logger.Debug("Health monitor stopping: stop requested.")
			return
		case <-ticker.C:
			result := m.quick(ctx)
			tick := m.ticks.Add(1)
			m.bus.Publish(result.Outcome.Severity(), source,
				fmt.Sprintf("tick %d: %s (%s)", tick, result.Outcome, result.Detail))
		case event, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				m.bus.Publish(events.SeverityInfo, source, "plugin directory changed: "+event.Name)
			}
		}
	}
}

// startWatcher wires the optional fsnotify watcher. A watcher failure is
// reported and degrades the monitor to tick-only operation; it never stops
// the loop.
func (m *Monitor) startWatcher(ctx context.Context) (<-chan fsnotify.Event, func()) {
	if m.watchDir == "" {
		return nil, func() {}
	}
	logger := ctxlog.FromContext(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Plugin watcher unavailable.", "error", err)
		m.bus.Publish(events.SeverityWarn, source, "plugin watcher unavailable: "+err.Error())
		return nil, func() {}
	}
	if err := watcher.Add(m.watchDir); err != nil {
		logger.Warn("Plugin watcher could not watch directory.", "dir", m.watchDir, "error", err)
		m.bus.Publish(events.SeverityWarn, source, "plugin watcher disabled: "+err.Error())
		watcher.Close()
		return nil, func() {}
	}

	// Drain watcher errors so its error channel never fills up.
	go func() {
		for err := range watcher.Errors {
			m.bus.Publish(events.SeverityWarn, source, "plugin watcher error: "+err.Error())
		}
	}()

	return watcher.Events, func() { watcher.Close() }
}
