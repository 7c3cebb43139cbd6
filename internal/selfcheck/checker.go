package selfcheck

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/modtool/internal/config"
	"github.com/vk/modtool/internal/ctxlog"
	"github.com/vk/modtool/internal/events"
	"github.com/vk/modtool/internal/fsutil"
)

const source = "selfcheck"

// Checker runs the structural self-check against a declared structure.
type Checker struct {
	cfg *config.Config
	bus *events.Bus
}

// New creates a Checker bound to the declaration and the event bus.
func New(cfg *config.Config, bus *events.Bus) *Checker {
	return &Checker{cfg: cfg, bus: bus}
}

// FullCheck runs every declared check and returns one CheckResult per
// check (plus one per unparsable source file). No step aborts its
// siblings; failures are reported, never propagated.
func (c *Checker) FullCheck(ctx context.Context) []CheckResult {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Structural self-check started.", "root", c.cfg.Root)

	var results []CheckResult
	results = append(results, c.EnsureRequiredDirs(ctx)...)
	results = append(results, c.SyncManifest(ctx))
	results = append(results, c.ScanSyntax(ctx)...)

	logger.Debug("Structural self-check finished.", "checks", len(results))
	return results
}

// EnsureRequiredDirs creates every missing required directory. A present
// directory reports ok, a created one reports warning (the layout was
// incomplete and has been healed); only a creation failure is an error.
func (c *Checker) EnsureRequiredDirs(ctx context.Context) []CheckResult {
	logger := ctxlog.FromContext(ctx)

	results := make([]CheckResult, 0, len(c.cfg.RequiredDirs))
	for _, dir := range c.cfg.RequiredDirs {
		path := dir
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.cfg.Root, dir)
		}
		name := "dir:" + dir

		info, err := os.Stat(path)
		switch {
		case err == nil && info.IsDir():
			results = append(results, c.report(name, OutcomeOK, "present"))
		case err == nil:
			results = append(results, c.report(name, OutcomeError, "exists but is not a directory"))
		default:
			if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
				logger.Error("Required directory could not be created.", "dir", path, "error", mkErr)
				results = append(results, c.report(name, OutcomeError, fmt.Sprintf("create failed: %v", mkErr)))
				continue
			}
			results = append(results, c.report(name, OutcomeWarning, "created automatically"))
		}
	}
	return results
}

// SyncManifest recomputes the expected manifest and rewrites the on-disk
// file when it differs or is missing. Identical content reports ok.
func (c *Checker) SyncManifest(ctx context.Context) CheckResult {
	logger := ctxlog.FromContext(ctx)

	expected := buildManifest(c.cfg)
	updated, revision, err := syncManifest(c.cfg.ManifestPath, expected)
	if err != nil {
		logger.Error("Manifest sync failed.", "path", c.cfg.ManifestPath, "error", err)
		return c.report("manifest", OutcomeError, fmt.Sprintf("write failed: %v", err))
	}
	if updated {
		return c.report("manifest", OutcomeWarning, fmt.Sprintf("layout updated (revision %d)", revision))
	}
	return c.report("manifest", OutcomeOK, fmt.Sprintf("up to date (revision %d)", revision))
}

// ScanSyntax statically parses the program's own source tree: every .go
// file under the root plus every .hcl declaration file. Each file that
// fails to parse yields one error result naming it; a clean tree yields a
// single ok result. A bad file never stops the scan.
func (c *Checker) ScanSyntax(ctx context.Context) []CheckResult {
	logger := ctxlog.FromContext(ctx)

	var failures []CheckResult

	goFiles, err := fsutil.FindFilesByExtension(c.cfg.Root, ".go")
	if err != nil {
		return []CheckResult{c.report("syntax", OutcomeError, fmt.Sprintf("source walk failed: %v", err))}
	}
	fset := token.NewFileSet()
	for _, file := range goFiles {
		if isExcludedPath(c.cfg, file) {
			continue
		}
		if _, parseErr := parser.ParseFile(fset, file, nil, parser.SkipObjectResolution); parseErr != nil {
			logger.Warn("Source file failed syntax check.", "file", file, "error", parseErr)
			failures = append(failures, c.report("syntax:"+relPath(c.cfg.Root, file), OutcomeError, parseErr.Error()))
		}
	}

	hclFiles, err := fsutil.FindFilesByExtension(c.cfg.Root, ".hcl")
	if err != nil {
		return append(failures, c.report("syntax", OutcomeError, fmt.Sprintf("declaration walk failed: %v", err)))
	}
	hclParser := hclparse.NewParser()
	for _, file := range hclFiles {
		if isExcludedPath(c.cfg, file) {
			continue
		}
		if _, diags := hclParser.ParseHCLFile(file); diags.HasErrors() {
			logger.Warn("Declaration file failed syntax check.", "file", file, "error", diags.Error())
			failures = append(failures, c.report("syntax:"+relPath(c.cfg.Root, file), OutcomeError, diags.Error()))
		}
	}

	if len(failures) == 0 {
		return []CheckResult{c.report("syntax", OutcomeOK, fmt.Sprintf("%d files parsed cleanly", len(goFiles)+len(hclFiles)))}
	}
	return failures
}

// QuickCheck is the lightweight subset re-run by the health monitor:
// directory presence only, self-healing missing ones. No manifest diff, no
// syntax scan, so ticks stay cheap.
func (c *Checker) QuickCheck(ctx context.Context) CheckResult {
	var repaired []string
	for _, dir := range c.cfg.RequiredDirs {
		path := dir
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.cfg.Root, dir)
		}
		if _, err := os.Stat(path); err != nil {
			if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
				return c.report("quick", OutcomeError, fmt.Sprintf("%s: create failed: %v", dir, mkErr))
			}
			repaired = append(repaired, dir)
		}
	}
	if len(repaired) > 0 {
		return c.report("quick", OutcomeWarning, "repaired missing dirs: "+strings.Join(repaired, ", "))
	}
	return c.report("quick", OutcomeOK, "all required dirs present")
}

// report builds the immutable result and mirrors it onto the event bus.
func (c *Checker) report(name string, outcome Outcome, detail string) CheckResult {
	result := newResult(name, outcome, detail)
	if c.bus != nil {
		c.bus.Publish(outcome.Severity(), source, fmt.Sprintf("%s: %s (%s)", name, outcome, detail))
	}
	return result
}

// isExcludedPath reports whether the file is outside the program's own
// source tree: the provisioned workspace holds third-party copies and the
// plugin directory holds extensions, and the syntax scan judges neither.
// Broken plugins surface through the plugin loader as failed records, not
// as self-check errors.
func isExcludedPath(cfg *config.Config, file string) bool {
	for _, base := range []string{cfg.Workspace, cfg.PluginDir} {
		rel, err := filepath.Rel(base, file)
		if err != nil {
			continue
		}
		if rel == "." || !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func relPath(root, file string) string {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return file
	}
	return rel
}
