package plugins

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return ctxlog.WithLogger(context.Background(), logger)
}

func writePlugin(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func loadDir(t *testing.T, dir string) []Record {
	t.Helper()
	records, err := New(dir, events.NewBus()).Load(testContext())
	require.NoError(t, err)
	return records
}

const wellFormedPlugin = `package plugin

var PluginMeta = map[string]string{
	"name":    "status-widget",
	"version": "1.2.0",
}

func OnLoad() error {
	return nil
}
`

func TestLoadWellFormedPlugin(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "status.go", wellFormedPlugin)

	records := loadDir(t, dir)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, StatusLoaded, record.Status)
	assert.Equal(t, "status-widget", record.Name)
	assert.Equal(t, "1.2.0", record.Version)
	assert.True(t, record.HasHook)
	assert.Empty(t, record.Reason)
}

func TestLoadPluginWithoutHook(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "passive.go", `package plugin

var PluginMeta = map[string]string{"name": "passive"}
`)

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, StatusLoaded, records[0].Status)
	assert.False(t, records[0].HasHook)
}

func TestLoadPluginWithoutMetaKeepsFileName(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "bare.go", `package plugin

func OnLoad() {}
`)

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, StatusLoaded, records[0].Status)
	assert.Equal(t, "bare", records[0].Name)
}

func TestFailingHookIsCapturedPerPlugin(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "broken.go", `package plugin

import "errors"

func OnLoad() error {
	return errors.New("widget backend unavailable")
}
`)
	writePlugin(t, dir, "healthy.go", wellFormedPlugin)

	records := loadDir(t, dir)
	require.Len(t, records, 2)

	assert.Equal(t, StatusFailed, records[0].Status)
	assert.Contains(t, records[0].Reason, "widget backend unavailable")
	// A broken neighbor never poisons the rest of the scan.
	assert.Equal(t, StatusLoaded, records[1].Status)
}

func TestPanickingHookIsRecovered(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "volatile.go", `package plugin

func OnLoad() {
	panic("initialization exploded")
}
`)

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, StatusFailed, records[0].Status)
	assert.Contains(t, records[0].Reason, "panic")
}

func TestInvalidHookSignatureIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "greedy.go", `package plugin

func OnLoad(app string) error {
	return nil
}
`)

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, StatusSkipped, records[0].Status)
	assert.Contains(t, records[0].Reason, "invalid schema")
}

func TestBlankMetaNameIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "anonymous.go", `package plugin

var PluginMeta = map[string]string{"name": "   "}
`)

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, StatusSkipped, records[0].Status)
	assert.Contains(t, records[0].Reason, "invalid schema")
}

func TestWrongMetaTypeIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "typed.go", `package plugin

var PluginMeta = []string{"name"}
`)

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, StatusSkipped, records[0].Status)
}

func TestUnderscorePrefixedFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "_helper.go", "this is not even Go")

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, StatusSkipped, records[0].Status)
	assert.Equal(t, "internal file", records[0].Reason)
}

func TestUnparsableSourceFails(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "garbled.go", "package plugin\nfunc {")

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, StatusFailed, records[0].Status)
	assert.Contains(t, records[0].Reason, "source does not parse")
}

func TestLoadOrderIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "zeta.go", `package plugin
`)
	writePlugin(t, dir, "alpha.go", `package plugin
`)
	writePlugin(t, dir, "mid.go", `package plugin
`)

	first := loadDir(t, dir)
	second := loadDir(t, dir)
	require.Len(t, first, 3)

	var names []string
	for _, record := range first {
		names = append(names, filepath.Base(record.Path))
	}
	assert.Equal(t, []string{"alpha.go", "mid.go", "zeta.go"}, names)

	for i := range first {
		assert.Equal(t, first[i].Path, second[i].Path)
		assert.Equal(t, first[i].Status, second[i].Status)
	}
}

func TestLoadCreatesMissingPluginDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugins")
	bus := events.NewBus()

	records, err := New(dir, bus).Load(testContext())
	require.NoError(t, err)
	assert.Empty(t, records)

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestLoadRejectsFileAsPluginDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plugins")
	require.NoError(t, os.WriteFile(path, []byte("not a dir"), 0o644))

	_, err := New(path, events.NewBus()).Load(testContext())
	require.Error(t, err)
}

func TestIgnoresNonGoFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0o644))
	writePlugin(t, dir, "only.go", `package plugin
`)

	records := loadDir(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, "only", records[0].Name)
}
