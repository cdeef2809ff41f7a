package cli

import (
	"github.com/cbout22/skills-sync/internal/syncer"
)

// checkSummary counts the skills that are not up to date.
type checkSummary struct {
	Total      int
	Stale      int // update available upstream
	Modified   int // edited locally, including conflicts
	Missing    int
	Failed     int
	FirstError error
}

// Issues is the number of skills that need attention.
func (s checkSummary) Issues() int {
	return s.Stale + s.Modified + s.Missing + s.Failed
}

// summarizeChecks is a pure function over the result of Syncer.Status.
func summarizeChecks(checks []syncer.Check) checkSummary {
	sum := checkSummary{Total: len(checks)}
	for _, c := range checks {
		if c.Err != nil {
			sum.Failed++
			if sum.FirstError == nil {
				sum.FirstError = c.Err
			}
			continue
		}
		switch c.Decision {
		case syncer.UpdateAvailable:
			sum.Stale++
		case syncer.LocallyModified, syncer.Conflict:
			sum.Modified++
		case syncer.Missing:
			sum.Missing++
		}
	}
	return sum
}
