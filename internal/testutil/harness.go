// Package testutil provides shared helpers for integration-style tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/modtool/internal/app"
	"github.com/vk/modtool/internal/config"
	"github.com/vk/modtool/internal/provision"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// WriteProject creates a temporary project root and writes the given
// relative-path/content pairs into it.
func WriteProject(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// HarnessResult holds the outcomes of a startup pipeline test run.
type HarnessResult struct {
	Root      string
	LogOutput string
	Err       error
	App       *app.App
}

// RunStartup provides a standardized harness for exercising the full
// startup pipeline against a temporary project tree. The bootstrap marker
// is always set so tests never re-exec themselves, and the monitor is
// disabled so runs terminate.
func RunStartup(t *testing.T, files map[string]string) *HarnessResult {
	t.Helper()

	root := WriteProject(t, files)
	t.Setenv(provision.EnvBootstrapped, "1")

	appConfig := &app.Config{
		Root:       root,
		ConfigPath: "structure.hcl",
		LogLevel:   "debug",
		LogFormat:  "text",
		NoMonitor:  true,
	}

	logBuffer := &SafeBuffer{}

	var testApp *app.App
	var panicErr any
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicErr = r
			}
		}()
		testApp = app.New(logBuffer, appConfig, config.NewLoader())
	}()

	if panicErr != nil {
		return &HarnessResult{
			Root:      root,
			LogOutput: logBuffer.String(),
			Err:       fmt.Errorf("application startup panicked | %v", panicErr),
		}
	}

	runErr := testApp.Run(context.Background())

	return &HarnessResult{
		Root:      root,
		LogOutput: logBuffer.String(),
		Err:       runErr,
		App:       testApp,
	}
}
