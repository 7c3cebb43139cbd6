package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
	"github.com/vk/modtool/internal/plugins"
	"github.com/vk/modtool/internal/selfcheck"
	"github.com/vk/modtool/internal/verify"
)

// Run executes the startup pipeline sequentially: environment
// provisioning, structural self-check, verification run, plugin load.
// Every failure except a fatal provisioning error is converted into the
// report stream and startup continues; a fatal provisioning error is
// returned so the CLI can exit non-zero before the self-check runs. After
// the pipeline completes, the health monitor runs in the background for
// the remainder of the process lifetime.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	board := &statusBoard{}

	// 1. Environment provisioner. The one fatal stage.
	state, err := a.provisioner.EnsureEnvironment(ctx)
	a.setWorkspace(state)
	if err != nil {
		a.appendChecks(selfcheck.CheckResult{
			Name:    "environment",
			Outcome: selfcheck.OutcomeError,
			Detail:  state.LastOutcome,
			Time:    time.Now(),
		})
		board.record("environment", "Environment", "fatal", state.LastOutcome)
		a.publishBoard(board)
		return fmt.Errorf("environment provisioning: %w", err)
	}
	board.record("environment", "Environment", "provisioned", state.LastOutcome)

	// Re-launch inside the workspace if needed; on success this call does
	// not return. A re-launch failure degrades to a warning because the
	// engine still works outside the workspace, just less isolated.
	if _, err := a.provisioner.MaybeRelaunch(ctx); err != nil {
		a.logger.Warn("Re-launch inside workspace failed, continuing outside.", "error", err)
		a.bus.Publish(events.SeverityWarn, "provision", "re-launch failed: "+err.Error())
	}

	// 2. Structural self-check.
	checks := a.checker.FullCheck(ctx)
	a.setChecks(checks)
	board.record("selfcheck", "Self-check", string(overallOutcome(checks)), fmt.Sprintf("%d checks", len(checks)))

	// 3. Verification runner.
	report := a.verifier.Run(ctx)
	a.appendChecks(selfcheck.CheckResult{
		Name:    "tests",
		Outcome: outcomeForVerdict(report.Verdict),
		Detail:  report.Detail,
		Time:    time.Now(),
	})
	board.record("verify", "Verification", string(report.Verdict), report.Detail)

	// 4. Plugin loader.
	records, err := a.plugins.Load(ctx)
	if err != nil {
		a.appendChecks(selfcheck.CheckResult{
			Name:    "plugins",
			Outcome: selfcheck.OutcomeError,
			Detail:  err.Error(),
			Time:    time.Now(),
		})
		board.record("plugins", "Plugins", "error", err.Error())
	} else {
		a.setRecords(records)
		board.record("plugins", "Plugins", pluginBoardStatus(records), pluginSummary(records))
	}

	a.publishBoard(board)
	a.logger.Info("🚀 Startup pipeline finished.")

	if a.monitor != nil {
		a.monitor.Start(ctx)
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// Shutdown stops the background monitor (bounded by one tick interval) and
// closes the event bus so drain consumers terminate.
func (a *App) Shutdown() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	a.bus.Close()
	a.logger.Debug("App shut down.")
}

func (a *App) publishBoard(board *statusBoard) {
	for _, line := range board.lines() {
		a.bus.Publish(events.SeverityInfo, "startup", line)
	}
	percent, label := board.progress()
	a.bus.Publish(events.SeverityInfo, "startup", label)
	a.logger.Info("Startup progress computed.", "percent", percent)
}

// overallOutcome condenses a result set: any error wins, then any warning.
func overallOutcome(checks []selfcheck.CheckResult) selfcheck.Outcome {
	overall := selfcheck.OutcomeOK
	for _, check := range checks {
		switch check.Outcome {
		case selfcheck.OutcomeError:
			return selfcheck.OutcomeError
		case selfcheck.OutcomeWarning:
			overall = selfcheck.OutcomeWarning
		}
	}
	return overall
}

func outcomeForVerdict(verdict verify.Verdict) selfcheck.Outcome {
	switch verdict {
	case verify.VerdictFailed:
		return selfcheck.OutcomeError
	case verify.VerdictTimedOut:
		return selfcheck.OutcomeWarning
	default:
		return selfcheck.OutcomeOK
	}
}

func pluginBoardStatus(records []plugins.Record) string {
	for _, record := range records {
		if record.Status == plugins.StatusFailed {
			return "degraded"
		}
	}
	return "loaded"
}

func pluginSummary(records []plugins.Record) string {
	loaded, skipped, failed := 0, 0, 0
	for _, record := range records {
		switch record.Status {
		case plugins.StatusLoaded:
			loaded++
		case plugins.StatusSkipped:
			skipped++
		case plugins.StatusFailed:
			failed++
		}
	}
	return fmt.Sprintf("%d loaded, %d skipped, %d failed", loaded, skipped, failed)
}
