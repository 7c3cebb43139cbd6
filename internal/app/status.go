package app

import "fmt"

// startupStep is one entry on the startup status board.
type startupStep struct {
	Key    string
	Title  string
	Status string
	Detail string
}

// statusBoard collects per-step outcomes during the startup pipeline and
// condenses them into a progress figure for the UI.
type statusBoard struct {
	steps []startupStep
}

// goodStatuses are the step states that count as stable for progress.
var goodStatuses = map[string]struct{}{
	"ok":          {},
	"provisioned": {},
	"passed":      {},
	"skipped":     {},
	"loaded":      {},
}

func (b *statusBoard) record(key, title, status, detail string) {
	b.steps = append(b.steps, startupStep{Key: key, Title: title, Status: status, Detail: detail})
}

// progress returns a percentage of stable steps and a short readable label.
func (b *statusBoard) progress() (int, string) {
	if len(b.steps) == 0 {
		return 0, "no steps recorded"
	}
	good := 0
	for _, step := range b.steps {
		if _, ok := goodStatuses[step.Status]; ok {
			good++
		}
	}
	percent := good * 100 / len(b.steps)
	return percent, fmt.Sprintf("progress %d%%: %d/%d steps stable", percent, good, len(b.steps))
}

// lines renders the board for the log/status stream.
func (b *statusBoard) lines() []string {
	lines := make([]string, 0, len(b.steps))
	for _, step := range b.steps {
		line := fmt.Sprintf("%s: %s", step.Title, step.Status)
		if step.Detail != "" {
			line += " - " + step.Detail
		}
		lines = append(lines, line)
	}
	return lines
}
