package syncer

import (
	"errors"
	"fmt"
)

// Status is the result of acting on one skill.
type Status string

const (
	StatusUpToDate          Status = "up-to-date"
	StatusUpdated           Status = "updated"
	StatusInstalled         Status = "installed"
	StatusRemoved           Status = "removed"
	StatusSkippedLocalEdits Status = "skipped-local-edits"
	StatusFailed            Status = "failed"
)

// Outcome records what happened to one skill.
type Outcome struct {
	Name           string `json:"name"`
	Status         Status `json:"status"`
	Decision       string `json:"decision,omitempty"`
	Ref            string `json:"ref,omitempty"`
	Commit         string `json:"commit,omitempty"`
	PreviousCommit string `json:"previous_commit,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Err            error  `json:"-"`
}

// Report collects per-skill outcomes in a stable order.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	if o.Err != nil && o.Reason == "" {
		o.Reason = o.Err.Error()
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns how many outcomes have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Skipped reports whether any skill was left alone because of local edits.
func (r Report) Skipped() bool {
	return r.Count(StatusSkippedLocalEdits) > 0
}

// Err joins the errors of every failed outcome, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed && o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Check is the read-only classification of one skill.
type Check struct {
	Name             string   `json:"name"`
	Decision         Decision `json:"-"`
	State            string   `json:"state"`
	Ref              string   `json:"ref"`
	RecordedCommit   string   `json:"recorded_commit"`
	UpstreamCommit   string   `json:"upstream_commit,omitempty"`
	LocalFingerprint string   `json:"local_fingerprint,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	Err              error    `json:"-"`
}
