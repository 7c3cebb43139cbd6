// Package provision brings the process into its isolated, versioned
// runtime workspace: it creates the workspace on first run, drives the
// external installer over the declared package list, retries a conflicting
// install exactly once with a force policy, and re-launches the host
// inside the workspace when it was started outside of it.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/vk/modtool/internal/config"
	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
)

const source = "provision"

// EnvBootstrapped marks a process that has already been re-launched inside
// the workspace, so a re-launched process never re-launches again.
const EnvBootstrapped = "MODTOOL_BOOTSTRAPPED"

// ErrFatal wraps the one failure class that stops startup before the
// self-check runs: a package install that still fails after the forced
// retry. The CLI maps it to a non-zero exit instead of a crash.
var ErrFatal = errors.New("environment provisioning failed")

// WorkspaceState summarizes the provisioned workspace after
// EnsureEnvironment. It persists across runs via the workspace directory
// itself; only the provisioner mutates it.
type WorkspaceState struct {
	Path        string
	Provisioned bool
	Packages    []string
	LastOutcome string
}

// Provisioner ensures the runtime workspace exists and is populated. The
// exec seams exist so tests can observe installer invocations and the
// re-launch without spawning or replacing real processes.
type Provisioner struct {
	cfg *config.Config
	bus *events.Bus

	runCommand func(ctx context.Context, argv []string) error
	replace    func(argv0 string, argv []string, env []string) error
	getenv     func(key string) string
	executable func() (string, error)
}

// New creates a Provisioner with real process execution.
func New(cfg *config.Config, bus *events.Bus) *Provisioner {
	return &Provisioner{
		cfg:        cfg,
		bus:        bus,
		runCommand: runCommand,
		replace:    syscall.Exec,
		getenv:     os.Getenv,
		executable: os.Executable,
	}
}

// EnsureEnvironment runs the full provisioning sequence: workspace
// creation, then package installation with one forced retry on conflict.
// A second install failure returns an error wrapping ErrFatal.
func (p *Provisioner) EnsureEnvironment(ctx context.Context) (WorkspaceState, error) {
	state := WorkspaceState{Path: p.cfg.Workspace}

	created, err := p.ensureWorkspace(ctx)
	if err != nil {
		state.LastOutcome = "workspace creation failed"
		p.bus.Publish(events.SeverityError, source, state.LastOutcome+": "+err.Error())
		return state, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	state.Provisioned = true
	if created {
		p.bus.Publish(events.SeverityWarn, source, "workspace created: "+p.cfg.Workspace)
	} else {
		p.bus.Publish(events.SeverityInfo, source, "workspace present: "+p.cfg.Workspace)
	}

	packages, err := p.readPackageList()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			state.LastOutcome = "no package list, install skipped"
			p.bus.Publish(events.SeverityInfo, source, state.LastOutcome)
			return state, nil
		}
		state.LastOutcome = "package list unreadable"
		p.bus.Publish(events.SeverityError, source, state.LastOutcome+": "+err.Error())
		return state, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	state.Packages = packages
	if len(packages) == 0 {
		state.LastOutcome = "package list empty, install skipped"
		p.bus.Publish(events.SeverityInfo, source, state.LastOutcome)
		return state, nil
	}
	if len(p.cfg.Installer) == 0 {
		state.LastOutcome = "no installer declared, install skipped"
		p.bus.Publish(events.SeverityWarn, source, state.LastOutcome)
		return state, nil
	}

	if err := p.installPackages(ctx); err != nil {
		state.LastOutcome = "install failed after forced retry"
		p.bus.Publish(events.SeverityError, source, state.LastOutcome+": "+err.Error())
		return state, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	state.LastOutcome = fmt.Sprintf("%d packages installed", len(packages))
	p.bus.Publish(events.SeverityInfo, source, state.LastOutcome)
	return state, nil
}

// MaybeRelaunch re-executes the process inside the workspace when it is
// not already running there: the env marker set, or an executable path
// under the workspace, both count as inside. It returns true when a
// re-launch was initiated; in the real implementation the call does not
// return in that case because the process image is replaced.
func (p *Provisioner) MaybeRelaunch(ctx context.Context) (bool, error) {
	logger := ctxlog.FromContext(ctx)

	if p.getenv(EnvBootstrapped) == "1" {
		logger.Debug("Already running inside the workspace, re-launch skipped.")
		return false, nil
	}

	executable, err := p.executable()
	if err != nil {
		return false, fmt.Errorf("cannot determine own executable: %w", err)
	}
	if isWithin(p.cfg.Workspace, executable) {
		logger.Debug("Executable already lives in the workspace, re-launch skipped.", "executable", executable)
		return false, nil
	}

	p.bus.Publish(events.SeverityInfo, source, "re-launching inside workspace")
	logger.Info("Re-launching inside workspace.", "workspace", p.cfg.Workspace)

	env := append(os.Environ(), EnvBootstrapped+"=1")
	if err := p.replace(executable, os.Args, env); err != nil {
		return false, fmt.Errorf("re-launch failed: %w", err)
	}
	return true, nil
}

func (p *Provisioner) ensureWorkspace(ctx context.Context) (created bool, err error) {
	logger := ctxlog.FromContext(ctx)

	info, err := os.Stat(p.cfg.Workspace)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("workspace path %s exists but is not a directory", p.cfg.Workspace)
		}
		logger.Debug("Workspace found.", "path", p.cfg.Workspace)
		return false, nil
	}

	logger.Info("Creating workspace.", "path", p.cfg.Workspace)
	if err := os.MkdirAll(p.cfg.Workspace, 0o755); err != nil {
		return false, err
	}
	return true, nil
}

// readPackageList returns the declared package entries, skipping blank and
// comment lines. A list with no effective entries means the standard
// library is enough and installation is skipped.
func (p *Provisioner) readPackageList() ([]string, error) {
	data, err := os.ReadFile(p.cfg.PackageList)
	if err != nil {
		return nil, err
	}

	var packages []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		packages = append(packages, line)
	}
	return packages, nil
}

// installPackages runs the declared installer once, and on failure retries
// exactly once with the force flag appended to discard conflicting
// versions. The second failure propagates to the caller.
func (p *Provisioner) installPackages(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	argv := append(append([]string(nil), p.cfg.Installer...), p.cfg.PackageList)

	p.bus.Publish(events.SeverityInfo, source, "installing declared packages")
	logger.Info("Installing declared packages.", "installer", argv[0])
	err := p.runCommand(ctx, argv)
	if err == nil {
		return nil
	}
	p.bus.Publish(events.SeverityWarn, source, "dependency conflict detected, retrying with force reinstall")
	logger.Warn("Install failed, retrying once with force policy.", "error", err)

	forced := append(append([]string(nil), p.cfg.Installer...), p.cfg.ForceFlag, p.cfg.PackageList)
	return p.runCommand(ctx, forced)
}

// isWithin reports whether path lies inside dir.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// runCommand executes argv and folds captured stderr into the error so a
// human-readable trace survives failures.
func runCommand(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, detail)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
