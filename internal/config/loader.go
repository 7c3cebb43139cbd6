package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/fsutil"
)

// Defaults applied when the declaration leaves a field out.
const (
	defaultWorkspace       = ".workspace"
	defaultPackageList     = "packages.txt"
	defaultForceFlag       = "--force-reinstall"
	defaultManifest        = "config/manifest.json"
	defaultPluginDir       = "plugins"
	defaultVerifyTimeout   = 2 * time.Minute
	defaultMonitorInterval = 5 * time.Second
)

var defaultRequiredDirs = []string{"logs", "plugins", "config"}

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Project     *projectBlock     `hcl:"project,block"`
	Environment *environmentBlock `hcl:"environment,block"`
	Verify      *verifyBlock      `hcl:"verify,block"`
	Plugins     *pluginsBlock     `hcl:"plugins,block"`
	Monitor     *monitorBlock     `hcl:"monitor,block"`
	Layout      *layoutBlock      `hcl:"layout,block"`
	Remain      hcl.Body          `hcl:",remain"`
}

type projectBlock struct {
	Name         string   `hcl:"name,label"`
	RequiredDirs []string `hcl:"required_dirs,optional"`
	Manifest     string   `hcl:"manifest,optional"`
}

type environmentBlock struct {
	Workspace   string   `hcl:"workspace,optional"`
	PackageList string   `hcl:"package_list,optional"`
	Installer   []string `hcl:"installer,optional"`
	ForceFlag   string   `hcl:"force_flag,optional"`
}

type verifyBlock struct {
	Command []string `hcl:"command,optional"`
	Timeout string   `hcl:"timeout,optional"`
}

type pluginsBlock struct {
	Dir string `hcl:"dir,optional"`
}

type monitorBlock struct {
	Interval string `hcl:"interval,optional"`
	Watch    *bool  `hcl:"watch,optional"`
}

type layoutBlock struct {
	Themes   []string        `hcl:"themes,optional"`
	Sections []*sectionBlock `hcl:"section,block"`
}

type sectionBlock struct {
	ID                 string `hcl:"id,label"`
	Title              string `hcl:"title"`
	Purpose            string `hcl:"purpose"`
	AccessibilityLabel string `hcl:"accessibility_label"`
}

// Loader parses declared-structure HCL files into the resolved Config.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the declaration at path (a single .hcl file or a directory
// of them) and resolves it against root. Declarations may reference the
// project root in expressions as the `root` variable.
func (l *Loader) Load(ctx context.Context, root, path string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "root", root, "path", path)

	files, err := l.findFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl declaration files found at %s", path)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"root": cty.StringVal(root),
		},
	}

	parser := hclparse.NewParser()
	merged := &fileRoot{}

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var decoded fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &decoded); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		if err := merge(merged, &decoded, file); err != nil {
			return nil, err
		}
		logger.Debug("Successfully decoded declaration file.", "file", file)
	}

	cfg, err := l.resolve(root, merged)
	if err != nil {
		return nil, err
	}
	logger.Debug("Declaration resolved.", "project", cfg.ProjectName, "required_dirs", len(cfg.RequiredDirs))
	return cfg, nil
}

func (l *Loader) findFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("declaration path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return fsutil.FindFilesByExtension(path, ".hcl")
}

// merge folds one decoded file into the accumulated root. Each block type
// may be declared at most once across all files.
func merge(dst, src *fileRoot, file string) error {
	set := func(name string, existing, incoming bool) error {
		if existing && incoming {
			return fmt.Errorf("duplicate %q block in %s", name, file)
		}
		return nil
	}

	if err := set("project", dst.Project != nil, src.Project != nil); err != nil {
		return err
	}
	if src.Project != nil {
		dst.Project = src.Project
	}
	if err := set("environment", dst.Environment != nil, src.Environment != nil); err != nil {
		return err
	}
	if src.Environment != nil {
		dst.Environment = src.Environment
	}
	if err := set("verify", dst.Verify != nil, src.Verify != nil); err != nil {
		return err
	}
	if src.Verify != nil {
		dst.Verify = src.Verify
	}
	if err := set("plugins", dst.Plugins != nil, src.Plugins != nil); err != nil {
		return err
	}
	if src.Plugins != nil {
		dst.Plugins = src.Plugins
	}
	if err := set("monitor", dst.Monitor != nil, src.Monitor != nil); err != nil {
		return err
	}
	if src.Monitor != nil {
		dst.Monitor = src.Monitor
	}
	if err := set("layout", dst.Layout != nil, src.Layout != nil); err != nil {
		return err
	}
	if src.Layout != nil {
		dst.Layout = src.Layout
	}
	return nil
}

// resolve applies defaults and resolves relative paths against root.
func (l *Loader) resolve(root string, decoded *fileRoot) (*Config, error) {
	if decoded.Project == nil {
		return nil, fmt.Errorf("declaration is missing the required \"project\" block")
	}

	cfg := &Config{
		Root:            root,
		ProjectName:     decoded.Project.Name,
		RequiredDirs:    decoded.Project.RequiredDirs,
		ManifestPath:    decoded.Project.Manifest,
		Workspace:       defaultWorkspace,
		PackageList:     defaultPackageList,
		ForceFlag:       defaultForceFlag,
		VerifyTimeout:   defaultVerifyTimeout,
		PluginDir:       defaultPluginDir,
		MonitorInterval: defaultMonitorInterval,
	}
	if len(cfg.RequiredDirs) == 0 {
		cfg.RequiredDirs = append([]string(nil), defaultRequiredDirs...)
	}
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = defaultManifest
	}

	if env := decoded.Environment; env != nil {
		if env.Workspace != "" {
			cfg.Workspace = env.Workspace
		}
		if env.PackageList != "" {
			cfg.PackageList = env.PackageList
		}
		if env.ForceFlag != "" {
			cfg.ForceFlag = env.ForceFlag
		}
		cfg.Installer = env.Installer
	}

	if verify := decoded.Verify; verify != nil {
		cfg.VerifyCommand = verify.Command
		if verify.Timeout != "" {
			timeout, err := time.ParseDuration(verify.Timeout)
			if err != nil {
				return nil, fmt.Errorf("verify.timeout: %w", err)
			}
			if timeout <= 0 {
				return nil, fmt.Errorf("verify.timeout must be positive, got %s", timeout)
			}
			cfg.VerifyTimeout = timeout
		}
	}

	if plugins := decoded.Plugins; plugins != nil && plugins.Dir != "" {
		cfg.PluginDir = plugins.Dir
	}

	if monitor := decoded.Monitor; monitor != nil {
		if monitor.Interval != "" {
			interval, err := time.ParseDuration(monitor.Interval)
			if err != nil {
				return nil, fmt.Errorf("monitor.interval: %w", err)
			}
			if interval <= 0 {
				return nil, fmt.Errorf("monitor.interval must be positive, got %s", interval)
			}
			cfg.MonitorInterval = interval
		}
		if monitor.Watch != nil {
			cfg.WatchPlugins = *monitor.Watch
		}
	}

	if layout := decoded.Layout; layout != nil {
		cfg.Layout.Themes = layout.Themes
		for _, section := range layout.Sections {
			cfg.Layout.Sections = append(cfg.Layout.Sections, Section{
				ID:                 section.ID,
				Title:              section.Title,
				Purpose:            section.Purpose,
				AccessibilityLabel: section.AccessibilityLabel,
			})
		}
	}

	// Resolve everything path-like against the project root.
	cfg.ManifestPath = resolvePath(root, cfg.ManifestPath)
	cfg.Workspace = resolvePath(root, cfg.Workspace)
	cfg.PackageList = resolvePath(root, cfg.PackageList)
	cfg.PluginDir = resolvePath(root, cfg.PluginDir)

	return cfg, nil
}

func resolvePath(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
