// Package selfcheck verifies and repairs the on-disk layout the tool
// depends on, keeps the structural manifest a deterministic snapshot of
// the declared structure, and runs a static syntax pass over the source
// tree. Every step self-heals where it can and is reported individually;
// FullCheck is idempotent apart from timestamps.
package selfcheck
