package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/cbout22/skills-sync/internal/manifest"
	"github.com/cbout22/skills-sync/internal/syncer"
)

var (
	okStyle    = color.New(color.FgGreen)
	warnStyle  = color.New(color.FgYellow)
	errStyle   = color.New(color.FgRed)
	boldStyle  = color.New(color.Bold)
	mutedStyle = color.New(color.FgHiBlack)
)

// printer renders results either for humans or as JSON.
type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusGlyph(s syncer.Status) string {
	switch s {
	case syncer.StatusUpToDate:
		return okStyle.Sprint("=")
	case syncer.StatusUpdated, syncer.StatusInstalled:
		return okStyle.Sprint("✓")
	case syncer.StatusRemoved:
		return okStyle.Sprint("-")
	case syncer.StatusSkippedLocalEdits:
		return warnStyle.Sprint("!")
	default:
		return errStyle.Sprint("✗")
	}
}

func (p *printer) report(r syncer.Report) error {
	if p.json {
		if r.Outcomes == nil {
			r.Outcomes = []syncer.Outcome{}
		}
		return p.encode(r)
	}
	if len(r.Outcomes) == 0 {
		fmt.Fprintln(p.w, "No skills installed, nothing to do.")
		return nil
	}
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("%s %s %s", statusGlyph(o.Status), boldStyle.Sprint(o.Name), o.Status)
		switch {
		case o.Status == syncer.StatusUpdated && o.PreviousCommit != "" && o.PreviousCommit != o.Commit:
			line += mutedStyle.Sprintf(" (%s → %s)", shortCommit(o.PreviousCommit), shortCommit(o.Commit))
		case o.Commit != "" && o.Status != syncer.StatusFailed:
			line += mutedStyle.Sprintf(" (%s@%s)", o.Ref, shortCommit(o.Commit))
		}
		if o.Reason != "" {
			line += ": " + o.Reason
		}
		fmt.Fprintln(p.w, line)
	}
	fmt.Fprintln(p.w, summaryLine(r))
	return nil
}

func summaryLine(r syncer.Report) string {
	var parts []string
	for _, s := range []syncer.Status{
		syncer.StatusInstalled, syncer.StatusUpdated, syncer.StatusUpToDate,
		syncer.StatusRemoved, syncer.StatusSkippedLocalEdits, syncer.StatusFailed,
	} {
		if n := r.Count(s); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	return strings.Join(parts, ", ")
}

type listEntry struct {
	Name       string `json:"name"`
	SourceURL  string `json:"source_url"`
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	Path       string `json:"path"`
	Commit     string `json:"commit"`
}

func (p *printer) list(reg manifest.Registry) error {
	entries := make([]listEntry, 0, len(reg.Skills))
	for _, rec := range reg.Records() {
		entries = append(entries, listEntry{
			Name:       rec.Name,
			SourceURL:  rec.SourceURL,
			Repository: rec.Owner + "/" + rec.Repository,
			Ref:        rec.Ref,
			Path:       rec.Path,
			Commit:     rec.Commit,
		})
	}
	if p.json {
		return p.encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(p.w, "No skills installed.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(p.w, "%s  %s@%s  %s  %s\n",
			boldStyle.Sprint(e.Name), e.Repository, e.Ref, e.Path, mutedStyle.Sprint(shortCommit(e.Commit)))
		if e.SourceURL != "" {
			fmt.Fprintf(p.w, "  %s\n", mutedStyle.Sprint(e.SourceURL))
		}
	}
	return nil
}

func (p *printer) checks(checks []syncer.Check) error {
	if p.json {
		if checks == nil {
			checks = []syncer.Check{}
		}
		return p.encode(checks)
	}
	if len(checks) == 0 {
		fmt.Fprintln(p.w, "No skills installed, nothing to check.")
		return nil
	}
	for _, c := range checks {
		var glyph string
		switch {
		case c.Err != nil:
			glyph = errStyle.Sprint("✗")
		case c.Decision == syncer.UpToDate:
			glyph = okStyle.Sprint("✓")
		default:
			glyph = warnStyle.Sprint("!")
		}
		line := fmt.Sprintf("%s %s %s", glyph, boldStyle.Sprint(c.Name), c.State)
		if c.Decision == syncer.UpdateAvailable || c.Decision == syncer.Conflict {
			line += mutedStyle.Sprintf(" (%s → %s)", shortCommit(c.RecordedCommit), shortCommit(c.UpstreamCommit))
		}
		if c.Reason != "" {
			line += ": " + c.Reason
		}
		fmt.Fprintln(p.w, line)
	}
	return nil
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
