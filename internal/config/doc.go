// Package config loads the declared project structure from HCL files.
//
// The declared structure is external input to the engine: required
// directories, the third-party package list location, the verification
// command, the plugin directory, monitor cadence and the panel layout that
// the self-check snapshots into the on-disk manifest. The engine reads
// this declaration; it never writes it.
package config
