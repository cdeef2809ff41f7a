package syncer

import "github.com/cbout22/skills-sync/internal/manifest"

// Decision is the sync state of one installed skill.
type Decision int

const (
	UpToDate        Decision = iota // local matches record, upstream unchanged
	UpdateAvailable                 // local matches record, upstream advanced
	LocallyModified                 // local edited, upstream unchanged
	Conflict                        // local edited and upstream advanced
	Missing                         // recorded but the directory is gone
)

func (d Decision) String() string {
	switch d {
	case UpToDate:
		return "up-to-date"
	case UpdateAvailable:
		return "update-available"
	case LocallyModified:
		return "locally-modified"
	case Conflict:
		return "conflict"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// NeedsConfirmation reports whether acting on d would overwrite local edits.
func (d Decision) NeedsConfirmation() bool {
	return d == LocallyModified || d == Conflict
}

// LocalState is what is on disk for one skill.
type LocalState struct {
	Present     bool
	Fingerprint string
}

// Classify applies the decision table. It is pure: all state comes in
// through its arguments.
func Classify(stored manifest.SkillRecord, local LocalState, upstreamCommit string) Decision {
	if !local.Present {
		return Missing
	}
	edited := local.Fingerprint != stored.Fingerprint
	advanced := upstreamCommit != stored.Commit

	switch {
	case !edited && !advanced:
		return UpToDate
	case !edited && advanced:
		return UpdateAvailable
	case edited && !advanced:
		return LocallyModified
	default:
		return Conflict
	}
}
