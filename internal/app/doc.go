// Package app wires the startup engine together: it owns the isolated
// logger, the event bus, and the sequential startup pipeline (provision,
// self-check, verification, plugin load) followed by the background health
// monitor. The UI consumes the bus and the read-only accessors; no
// component holds a reference to another's internal state.
package app
