package plugins

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
	"github.com/vk/modtool/internal/fsutil"
)

const source = "plugins"

// Loader loads extension modules from a directory.
type Loader struct {
	dir string
	bus *events.Bus
}

// New creates a Loader for the given plugin directory.
func New(dir string, bus *events.Bus) *Loader {
	return &Loader{dir: dir, bus: bus}
}

// Load discovers every plugin file directly under the plugin directory, in
// lexicographic order so load order is reproducible across runs, and loads
// each one in isolation. It returns one record per discovered file. The
// only error condition is an unusable plugin directory; individual plugin
// failures are captured in their records.
func (l *Loader) Load(ctx context.Context) ([]Record, error) {
	logger := ctxlog.FromContext(ctx)

	if err := l.ensureDir(ctx); err != nil {
		return nil, err
	}

	files, err := fsutil.ListFilesByExtension(l.dir, ".go")
	if err != nil {
		return nil, fmt.Errorf("plugin discovery failed: %w", err)
	}

	records := make([]Record, 0, len(files))
	for _, file := range files {
		record := l.loadOne(ctx, file)
		records = append(records, record)
		l.bus.Publish(severityFor(record.Status), source,
			fmt.Sprintf("%s: %s%s", filepath.Base(record.Path), record.Status, reasonSuffix(record.Reason)))
	}

	if len(records) == 0 {
		logger.Info("No plugins found.", "dir", l.dir)
		l.bus.Publish(events.SeverityInfo, source, "no plugins found, drop extensions into "+l.dir)
	} else {
		logger.Info("Plugin scan finished.", "dir", l.dir, "count", len(records))
	}
	return records, nil
}

// loadOne takes one candidate from pending to its terminal state. Any
// panic from interpretation or from the OnLoad hook is recovered and
// recorded; it must never escape into the pipeline.
func (l *Loader) loadOne(ctx context.Context, path string) (record Record) {
	logger := ctxlog.FromContext(ctx)

	record = Record{
		Name:   strings.TrimSuffix(filepath.Base(path), ".go"),
		Path:   path,
		Status: StatusPending,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Plugin panicked during load.", "plugin", path, "panic", r)
			record.Status = StatusFailed
			record.Reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	if strings.HasPrefix(filepath.Base(path), "_") {
		record.Status = StatusSkipped
		record.Reason = "internal file"
		return record
	}

	src, err := os.ReadFile(path)
	if err != nil {
		record.Status = StatusFailed
		record.Reason = fmt.Sprintf("unreadable: %v", err)
		return record
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		// Unparsable source is a broken import, not a schema mismatch.
		record.Status = StatusFailed
		record.Reason = fmt.Sprintf("source does not parse: %v", err)
		return record
	}

	shape, err := validateSchema(file)
	if err != nil {
		record.Status = StatusSkipped
		record.Reason = err.Error()
		return record
	}
	record.HasHook = shape.hookKind != hookNone

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		record.Status = StatusFailed
		record.Reason = fmt.Sprintf("interpreter setup failed: %v", err)
		return record
	}
	if _, err := i.Eval(string(src)); err != nil {
		logger.Warn("Plugin failed to evaluate.", "plugin", path, "error", err)
		record.Status = StatusFailed
		record.Reason = fmt.Sprintf("evaluation failed: %v", err)
		return record
	}

	if shape.hasMeta {
		name, version, err := readMeta(i, shape.pkg)
		if err != nil {
			record.Status = StatusSkipped
			record.Reason = err.Error()
			return record
		}
		if name != "" {
			record.Name = name
		}
		record.Version = version
	}

	// The hook is optional: a module without one is still loaded.
	if shape.hookKind != hookNone {
		if err := callHook(i, shape); err != nil {
			logger.Warn("Plugin hook failed.", "plugin", path, "error", err)
			record.Status = StatusFailed
			record.Reason = fmt.Sprintf("on_load failed: %v", err)
			return record
		}
	}

	record.Status = StatusLoaded
	return record
}

func (l *Loader) ensureDir(ctx context.Context) error {
	info, err := os.Stat(l.dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("plugin path %s must be a directory", l.dir)
		}
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("plugin directory could not be created: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Plugin directory created.", "dir", l.dir)
	l.bus.Publish(events.SeverityWarn, source, "plugin directory created: "+l.dir)
	return nil
}

type hookKind int

const (
	hookNone hookKind = iota
	hookPlain
	hookWithError
)

// pluginShape is the statically discovered capability set of a plugin
// file: {valid-with-hook, valid-without-hook} after validateSchema;
// invalid-schema files never reach interpretation.
type pluginShape struct {
	pkg      string
	hasMeta  bool
	hookKind hookKind
}

// validateSchema checks the parsed declarations against the expected
// capability shapes without executing anything.
func validateSchema(file *ast.File) (pluginShape, error) {
	shape := pluginShape{pkg: file.Name.Name}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Name.Name != "OnLoad" || d.Recv != nil {
				continue
			}
			kind, err := hookShape(d)
			if err != nil {
				return pluginShape{}, err
			}
			shape.hookKind = kind
		case *ast.GenDecl:
			if d.Tok != token.VAR {
				continue
			}
			for _, spec := range d.Specs {
				valueSpec, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for _, name := range valueSpec.Names {
					if name.Name == "PluginMeta" {
						shape.hasMeta = true
					}
				}
			}
		}
	}
	return shape, nil
}

// hookShape accepts exactly func OnLoad() and func OnLoad() error.
func hookShape(d *ast.FuncDecl) (hookKind, error) {
	if d.Type.Params != nil && len(d.Type.Params.List) > 0 {
		return hookNone, fmt.Errorf("invalid schema: OnLoad must not take arguments")
	}
	if d.Type.Results == nil || len(d.Type.Results.List) == 0 {
		return hookPlain, nil
	}
	if len(d.Type.Results.List) == 1 {
		if ident, ok := d.Type.Results.List[0].Type.(*ast.Ident); ok && ident.Name == "error" {
			return hookWithError, nil
		}
	}
	return hookNone, fmt.Errorf("invalid schema: OnLoad must return nothing or a single error")
}

// readMeta pulls PluginMeta out of the interpreter and validates its
// values at runtime (the static pass only proves the declaration exists).
func readMeta(i *interp.Interpreter, pkg string) (name, version string, err error) {
	value, err := i.Eval(pkg + ".PluginMeta")
	if err != nil {
		return "", "", fmt.Errorf("invalid schema: PluginMeta unreadable: %v", err)
	}
	meta, ok := value.Interface().(map[string]string)
	if !ok {
		return "", "", fmt.Errorf("invalid schema: PluginMeta must be a map[string]string")
	}
	if n, present := meta["name"]; present {
		if strings.TrimSpace(n) == "" {
			return "", "", fmt.Errorf("invalid schema: PluginMeta name must not be blank")
		}
		name = strings.TrimSpace(n)
	}
	version = meta["version"]
	return name, version, nil
}

// callHook invokes OnLoad inside the interpreter. Panics are left to the
// caller's recover so they land in the record, not in the pipeline.
func callHook(i *interp.Interpreter, shape pluginShape) error {
	value, err := i.Eval(shape.pkg + ".OnLoad")
	if err != nil {
		return fmt.Errorf("hook not resolvable: %v", err)
	}
	switch fn := value.Interface().(type) {
	case func() error:
		return fn()
	case func():
		fn()
		return nil
	default:
		return fmt.Errorf("hook has unexpected runtime type %T", value.Interface())
	}
}

func severityFor(status Status) events.Severity {
	switch status {
	case StatusFailed:
		return events.SeverityError
	case StatusSkipped:
		return events.SeverityWarn
	default:
		return events.SeverityInfo
	}
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}
