package config

import "time"

// Section describes one UI zone of the control panel for layout and
// accessibility documentation. The engine only snapshots these into the
// manifest; rendering belongs to the UI.
type Section struct {
	ID                 string
	Title              string
	Purpose            string
	AccessibilityLabel string
}

// Layout is the declared panel layout plus the available theme names.
type Layout struct {
	Sections []Section
	Themes   []string
}

// Config is the fully resolved declaration the engine runs against. All
// relative paths have been resolved against Root and all defaults applied.
type Config struct {
	Root        string
	ProjectName string

	// Structural self-check.
	RequiredDirs []string
	ManifestPath string
	Layout       Layout

	// Environment provisioner.
	Workspace   string
	PackageList string
	Installer   []string
	ForceFlag   string

	// Verification runner.
	VerifyCommand []string
	VerifyTimeout time.Duration

	// Plugin loader.
	PluginDir string

	// Health monitor.
	MonitorInterval time.Duration
	WatchPlugins    bool
}
