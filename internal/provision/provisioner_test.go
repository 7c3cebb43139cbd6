package provision

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/modtool/internal/config"
	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return ctxlog.WithLogger(context.Background(), logger)
}

func testConfig(root string) *config.Config {
	return &config.Config{
		Root:        root,
		Workspace:   filepath.Join(root, ".workspace"),
		PackageList: filepath.Join(root, "packages.txt"),
		Installer:   []string{"installer"},
		ForceFlag:   "--force-reinstall",
	}
}

func writePackageList(t *testing.T, cfg *config.Config, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(cfg.PackageList, []byte(content), 0o644))
}

// stubProvisioner records every installer invocation and lets the test
// script its outcomes, one per call.
func stubProvisioner(cfg *config.Config, bus *events.Bus, outcomes ...error) (*Provisioner, *[][]string) {
	var calls [][]string
	p := New(cfg, bus)
	p.runCommand = func(_ context.Context, argv []string) error {
		calls = append(calls, argv)
		if len(calls) > len(outcomes) {
			return nil
		}
		return outcomes[len(calls)-1]
	}
	return p, &calls
}

func TestEnsureEnvironmentCreatesWorkspace(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	writePackageList(t, cfg, "example.com/tool\n")
	bus := events.NewBus()
	p, calls := stubProvisioner(cfg, bus)

	state, err := p.EnsureEnvironment(testContext())
	require.NoError(t, err)

	assert.True(t, state.Provisioned)
	assert.Equal(t, cfg.Workspace, state.Path)
	assert.Equal(t, []string{"example.com/tool"}, state.Packages)
	assert.Equal(t, "1 packages installed", state.LastOutcome)
	require.Len(t, *calls, 1)

	info, statErr := os.Stat(cfg.Workspace)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())

	// First run heals: workspace creation is surfaced as a warning.
	var sawCreated bool
	for _, event := range bus.Snapshot() {
		if event.Severity == events.SeverityWarn {
			sawCreated = true
		}
	}
	assert.True(t, sawCreated, "workspace creation should be reported as a warning")
}

func TestEnsureEnvironmentSkipsWhenListMissing(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	p, calls := stubProvisioner(cfg, events.NewBus())

	state, err := p.EnsureEnvironment(testContext())
	require.NoError(t, err)
	assert.True(t, state.Provisioned)
	assert.Empty(t, state.Packages)
	assert.Contains(t, state.LastOutcome, "skipped")
	assert.Empty(t, *calls)
}

func TestEnsureEnvironmentSkipsWhenListEffectivelyEmpty(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	writePackageList(t, cfg, "# only comments\n\n   \n")
	p, calls := stubProvisioner(cfg, events.NewBus())

	state, err := p.EnsureEnvironment(testContext())
	require.NoError(t, err)
	assert.Contains(t, state.LastOutcome, "skipped")
	assert.Empty(t, *calls)
}

func TestEnsureEnvironmentWarnsWhenNoInstallerDeclared(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.Installer = nil
	writePackageList(t, cfg, "example.com/tool\n")
	bus := events.NewBus()
	p, calls := stubProvisioner(cfg, bus)

	state, err := p.EnsureEnvironment(testContext())
	require.NoError(t, err)
	assert.Equal(t, "no installer declared, install skipped", state.LastOutcome)
	assert.Empty(t, *calls)
}

func TestInstallRetriesOnceWithForceFlag(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	writePackageList(t, cfg, "example.com/tool\n")
	p, calls := stubProvisioner(cfg, events.NewBus(), errors.New("version conflict"))

	state, err := p.EnsureEnvironment(testContext())
	require.NoError(t, err)
	assert.Equal(t, "1 packages installed", state.LastOutcome)

	require.Len(t, *calls, 2)
	assert.Equal(t, []string{"installer", cfg.PackageList}, (*calls)[0])
	assert.Equal(t, []string{"installer", "--force-reinstall", cfg.PackageList}, (*calls)[1])
}

func TestInstallFailingTwiceIsFatal(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	writePackageList(t, cfg, "example.com/tool\n")
	p, calls := stubProvisioner(cfg, events.NewBus(),
		errors.New("version conflict"), errors.New("still conflicting"))

	state, err := p.EnsureEnvironment(testContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Contains(t, state.LastOutcome, "failed")
	require.Len(t, *calls, 2, "exactly one forced retry, never a third attempt")
}

func TestEnsureEnvironmentRejectsWorkspaceFileCollision(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	require.NoError(t, os.WriteFile(cfg.Workspace, []byte("not a dir"), 0o644))
	p, _ := stubProvisioner(cfg, events.NewBus())

	_, err := p.EnsureEnvironment(testContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
}

func TestMaybeRelaunchSkipsWhenAlreadyBootstrapped(t *testing.T) {
	root := t.TempDir()
	p := New(testConfig(root), events.NewBus())
	p.getenv = func(key string) string {
		if key == EnvBootstrapped {
			return "1"
		}
		return ""
	}
	p.replace = func(string, []string, []string) error {
		t.Fatal("replace must not be called when already bootstrapped")
		return nil
	}

	relaunched, err := p.MaybeRelaunch(testContext())
	require.NoError(t, err)
	assert.False(t, relaunched)
}

func TestMaybeRelaunchSkipsWhenExecutableInsideWorkspace(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	p := New(cfg, events.NewBus())
	p.getenv = func(string) string { return "" }
	p.executable = func() (string, error) {
		return filepath.Join(cfg.Workspace, "bin", "modtool"), nil
	}
	p.replace = func(string, []string, []string) error {
		t.Fatal("replace must not be called when the executable is already in the workspace")
		return nil
	}

	relaunched, err := p.MaybeRelaunch(testContext())
	require.NoError(t, err)
	assert.False(t, relaunched)
}

func TestMaybeRelaunchMarksEnvironment(t *testing.T) {
	root := t.TempDir()
	p := New(testConfig(root), events.NewBus())
	p.getenv = func(string) string { return "" }

	var gotEnv []string
	p.replace = func(argv0 string, argv []string, env []string) error {
		assert.NotEmpty(t, argv0)
		assert.Equal(t, os.Args, argv)
		gotEnv = env
		return nil
	}

	relaunched, err := p.MaybeRelaunch(testContext())
	require.NoError(t, err)
	assert.True(t, relaunched)
	assert.Contains(t, gotEnv, EnvBootstrapped+"=1")
}

func TestMaybeRelaunchSurfacesExecFailure(t *testing.T) {
	root := t.TempDir()
	p := New(testConfig(root), events.NewBus())
	p.getenv = func(string) string { return "" }
	p.replace = func(string, []string, []string) error {
		return errors.New("exec denied")
	}

	relaunched, err := p.MaybeRelaunch(testContext())
	require.Error(t, err)
	assert.False(t, relaunched)
}
