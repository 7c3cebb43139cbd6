// Package events implements the status/log channel shared by every
// component of the startup engine.
//
// # Purpose
//
// All components (provisioner, self-check, verification runner, plugin
// loader, health monitor) publish structured events into a single Bus
// instead of returning status directly to the UI. The UI drains the bus as
// a single consumer and renders the stream.
//
// # Concurrency Model
//
// The bus is the only piece of mutable state shared across the
// foreground/background boundary, so it takes the conservative route: a
// single mutex serializes publishes, which is what makes sequence numbers
// strictly increasing and loss-free under concurrent producers. Publish
// volume is a handful of events per second at worst; lock contention is a
// non-issue at that rate.
//
//   - Publish: any goroutine, any time.
//   - Drain: exactly one consumer. Each call resumes from the current
//     cursor; the stream is forward-only, never rewindable.
//   - Snapshot: read-only copy for on-demand queries, safe from any
//     goroutine.
package events
