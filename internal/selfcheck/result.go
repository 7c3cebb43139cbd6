package selfcheck

import (
	"time"

	"github.com/vk/modtool/internal/events"
)

// Outcome classifies a single check. warning means the check self-healed
// or confidence degraded; startup always continues past a warning.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeWarning Outcome = "warning"
	OutcomeError   Outcome = "error"
)

// CheckResult is the immutable record of one check in one run.
type CheckResult struct {
	Name    string
	Outcome Outcome
	Detail  string
	Time    time.Time
}

// Severity maps a check outcome onto the event stream taxonomy.
func (o Outcome) Severity() events.Severity {
	switch o {
	case OutcomeWarning:
		return events.SeverityWarn
	case OutcomeError:
		return events.SeverityError
	default:
		return events.SeverityInfo
	}
}

func newResult(name string, outcome Outcome, detail string) CheckResult {
	return CheckResult{
		Name:    name,
		Outcome: outcome,
		Detail:  detail,
		Time:    time.Now(),
	}
}
