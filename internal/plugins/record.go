package plugins

// Status is the lifecycle state of one discovered plugin. A record starts
// pending and moves monotonically to exactly one terminal state; records
// are rebuilt from scratch on every scan, never mutated back.
type Status string

const (
	StatusPending Status = "pending"
	StatusLoaded  Status = "loaded"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Record reports the outcome for one discovered plugin file.
type Record struct {
	Name    string
	Path    string
	Status  Status
	Reason  string
	HasHook bool
	Version string
}
