package selfcheck

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vk/modtool/internal/config"
)

// schemaVersion identifies the manifest format itself, not its content.
// Bump it only when the JSON shape changes.
const schemaVersion = 1

// Manifest is the structural snapshot written to disk on every successful
// check. It is a deterministic function of the declared structure: the
// file is rewritten wholesale, never merged, so it always reflects the
// current declaration. Revision increases monotonically and changes only
// when the regenerated content differs from what is on disk, which lets
// external consumers detect staleness without a version history.
type Manifest struct {
	SchemaVersion int               `json:"schema_version"`
	Revision      int               `json:"revision"`
	Project       string            `json:"project"`
	RequiredDirs  []string          `json:"required_dirs"`
	Sections      []manifestSection `json:"sections"`
	Themes        []string          `json:"themes,omitempty"`
}

type manifestSection struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Purpose            string `json:"purpose"`
	AccessibilityLabel string `json:"accessibility_label"`
}

// buildManifest computes the expected snapshot from the declaration. The
// revision is filled in by syncManifest.
func buildManifest(cfg *config.Config) Manifest {
	manifest := Manifest{
		SchemaVersion: schemaVersion,
		Project:       cfg.ProjectName,
		RequiredDirs:  append([]string(nil), cfg.RequiredDirs...),
		Themes:        append([]string(nil), cfg.Layout.Themes...),
	}
	for _, section := range cfg.Layout.Sections {
		manifest.Sections = append(manifest.Sections, manifestSection{
			ID:                 section.ID,
			Title:              section.Title,
			Purpose:            section.Purpose,
			AccessibilityLabel: section.AccessibilityLabel,
		})
	}
	return manifest
}

// syncManifest compares the expected snapshot against the on-disk file and
// rewrites it when they differ. Returns whether a write happened and the
// revision now on disk.
func syncManifest(path string, expected Manifest) (updated bool, revision int, err error) {
	existing, readErr := readManifest(path)
	switch {
	case readErr == nil:
		// Compare content with the revision pinned to the existing one;
		// identical content keeps the revision stable.
		expected.Revision = existing.Revision
		same, cmpErr := manifestsEqual(existing, expected)
		if cmpErr != nil {
			return false, 0, cmpErr
		}
		if same {
			return false, existing.Revision, nil
		}
		expected.Revision = existing.Revision + 1
	case errors.Is(readErr, fs.ErrNotExist):
		expected.Revision = 1
	default:
		// Unreadable or corrupt manifest: replace it and move the
		// revision forward so consumers notice.
		expected.Revision = 1
		if existing.Revision > 0 {
			expected.Revision = existing.Revision + 1
		}
	}

	if err := writeManifest(path, expected); err != nil {
		return false, 0, err
	}
	return true, expected.Revision, nil
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("manifest %s is not valid JSON: %w", path, err)
	}
	return manifest, nil
}

func writeManifest(path string, manifest Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func manifestsEqual(a, b Manifest) (bool, error) {
	aj, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aj, bj), nil
}
