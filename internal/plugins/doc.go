// Package plugins discovers, schema-validates and loads optional
// extension modules from the plugin directory.
//
// A plugin is a single Go source file interpreted at runtime with yaegi,
// never compiled into the host. It may declare two optional capabilities:
//
//	var PluginMeta = map[string]string{"name": "...", "version": "..."}
//	func OnLoad() error
//
// Schema validation runs statically (via go/parser) before anything is
// interpreted: a file whose declared capabilities do not match the
// expected shapes is skipped without ever being executed. Interpretation
// and the OnLoad hook run under panic recovery, so one bad extension can
// fail only its own record and never the host or its siblings.
package plugins
