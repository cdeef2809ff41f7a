// Package syncer installs, synchronizes and removes skills. Every operation
// takes the registry as a value and returns the new value along with a
// per-skill report; persisting it is the caller's job.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/injector"
	"github.com/cbout22/skills-sync/internal/logging"
	"github.com/cbout22/skills-sync/internal/manifest"
	"github.com/cbout22/skills-sync/internal/resolver"
	"github.com/cbout22/skills-sync/internal/skillerr"
)

// Options configures a Syncer.
type Options struct {
	// Jobs bounds concurrent remote work. Values below 1 mean 1.
	Jobs int
	// Confirmer gates overwrites of local edits. Nil declines.
	Confirmer Confirmer
	// Now stamps installed_at. Nil means time.Now.
	Now func() time.Time
}

// Syncer drives skill installation and synchronization.
type Syncer struct {
	resolver *resolver.Resolver
	injector *injector.Injector
	confirm  Confirmer
	jobs     int
	now      func() time.Time
}

// New creates a Syncer.
func New(res *resolver.Resolver, inj *injector.Injector, opts Options) *Syncer {
	s := &Syncer{
		resolver: res,
		injector: inj,
		confirm:  opts.Confirmer,
		jobs:     opts.Jobs,
		now:      opts.Now,
	}
	if s.confirm == nil {
		s.confirm = Decline
	}
	if s.jobs < 1 {
		s.jobs = 1
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// InstallRequest names what to install.
type InstallRequest struct {
	URL string
	// Name overrides the default, which is the last URL segment.
	Name string
	// Force rebinds a name already bound to another source.
	Force bool
}

func (s *Syncer) localState(name string) (LocalState, error) {
	present, err := s.injector.Exists(name)
	if err != nil || !present {
		return LocalState{}, err
	}
	fp, err := s.injector.Fingerprint(name)
	if err != nil {
		return LocalState{}, err
	}
	return LocalState{Present: true, Fingerprint: fp}, nil
}

// gate asks the Confirmer. A declined or interrupted prompt yields a
// LOCAL_EDITS_DETECTED error describing why.
func (s *Syncer) gate(ctx context.Context, prompt string) error {
	ok, err := s.confirm.Confirm(ctx, prompt)
	if err != nil {
		return skillerr.Wrap(skillerr.KindLocalEdits, err, "local edits kept, confirmation interrupted")
	}
	if !ok {
		return skillerr.New(skillerr.KindLocalEdits, "local edits kept, overwrite declined")
	}
	return nil
}

// Install resolves req.URL and installs or refreshes the skill under its
// name. A directory without SKILL.md whose children carry one is installed as
// one skill per child.
func (s *Syncer) Install(ctx context.Context, reg manifest.Registry, req InstallRequest) (manifest.Registry, Report, error) {
	var report Report

	loc, err := config.ParseLocator(req.URL)
	if err != nil {
		return reg, report, err
	}
	name := req.Name
	if name == "" {
		name = loc.DirectoryName()
	}
	if err := config.ValidateName(name); err != nil {
		return reg, report, skillerr.Wrap(skillerr.KindMalformedLocator, err, "invalid skill name")
	}
	log := logging.Ctx(ctx).With("skill", name)

	ref, err := s.resolver.ResolveLocator(ctx, loc)
	if err != nil {
		return reg, report, err
	}

	existing, recorded := reg.Get(name)
	local, err := s.localState(name)
	if err != nil {
		return reg, report, fmt.Errorf("inspecting %s: %w", name, err)
	}

	outcome := Outcome{Name: name, Ref: ref.Ref, Commit: ref.Commit}
	if recorded {
		outcome.PreviousCommit = existing.Commit
	}
	if recorded && existing.SameSource(ref) && local.Present &&
		local.Fingerprint == existing.Fingerprint && existing.Commit == ref.Commit {
		log.Info("already up to date", "commit", ref.Commit)
		outcome.Status = StatusUpToDate
		outcome.Decision = UpToDate.String()
		report.add(outcome)
		return reg, report, nil
	}

	files, err := s.resolver.Fetch(ctx, ref)
	if err != nil {
		return reg, report, fmt.Errorf("fetching %s: %w", name, err)
	}
	if !injector.HasManifest(files) {
		if names, _ := injector.Children(files); req.Name != "" && len(names) > 0 {
			return reg, report, skillerr.New(skillerr.KindMalformedLocator,
				"%s holds several skills, --name only applies to a single one", loc)
		}
		return s.installBatch(ctx, reg, loc, ref, files, req.Force)
	}

	if recorded && !existing.SameSource(ref) && !req.Force {
		return reg, report, skillerr.New(skillerr.KindNameConflict,
			"skill %q is already installed from %s/%s@%s:%s (use --force or --name)",
			name, existing.Owner, existing.Repository, existing.Ref, existing.Path)
	}

	if local.Present && (!recorded || local.Fingerprint != existing.Fingerprint) {
		prompt := fmt.Sprintf("Skill %q has local modifications. Overwrite them?", name)
		if !recorded {
			prompt = fmt.Sprintf("Directory %s exists and is not managed. Overwrite it?", s.injector.Dir(name))
		}
		if err := s.gate(ctx, prompt); err != nil {
			log.Warn("skipping, local edits kept", "reason", err)
			outcome.Status = StatusSkippedLocalEdits
			outcome.Decision = LocallyModified.String()
			outcome.Err = err
			report.add(outcome)
			return reg, report, nil
		}
	}

	fp, err := s.injector.Install(name, files)
	if err != nil {
		return reg, report, fmt.Errorf("installing %s: %w", name, err)
	}

	outcome.Status = StatusInstalled
	if recorded && local.Present {
		outcome.Status = StatusUpdated
	}
	report.add(outcome)
	log.Info("installed", "ref", ref.Ref, "path", ref.Path, "commit", ref.Commit)

	return reg.With(manifest.NewRecord(name, ref, fp, loc.String(), s.now())), report, nil
}

// batchItem is one child skill of a directory install.
type batchItem struct {
	name     string
	ref      config.ResolvedReference
	files    []resolver.File
	existing manifest.SkillRecord
	recorded bool
	local    LocalState
	gated    bool
	outcome  Outcome
	newRec   *manifest.SkillRecord
}

func (it *batchItem) fail(err error) {
	it.outcome.Status = StatusFailed
	it.outcome.Err = err
}

// installBatch installs every child directory of files that carries
// SKILL.md as its own skill, recorded at <path>/<child> with source URL
// <url>/<child>. Overwrites are confirmed once for the whole batch and each
// child succeeds or fails on its own.
func (s *Syncer) installBatch(ctx context.Context, reg manifest.Registry, loc config.Locator,
	ref config.ResolvedReference, files []resolver.File, force bool) (manifest.Registry, Report, error) {
	log := logging.Ctx(ctx)

	names, groups := injector.Children(files)
	if len(names) == 0 {
		return reg, Report{}, skillerr.New(skillerr.KindInvalidSkill,
			"%s has no %s at its top level or in any child directory", loc, injector.ManifestFile)
	}
	log.Info("installing skill directory", "url", loc.String(), "skills", len(names))

	items := make([]*batchItem, len(names))
	var gated []string
	for i, name := range names {
		child := ref
		child.Path = path.Join(ref.Path, name)
		it := &batchItem{
			name:    name,
			ref:     child,
			files:   groups[name],
			outcome: Outcome{Name: name, Ref: child.Ref, Commit: child.Commit},
		}
		items[i] = it

		if err := config.ValidateName(name); err != nil {
			it.fail(skillerr.Wrap(skillerr.KindInvalidSkill, err, "invalid skill name"))
			continue
		}
		it.existing, it.recorded = reg.Get(name)
		if it.recorded {
			it.outcome.PreviousCommit = it.existing.Commit
			if !it.existing.SameSource(child) && !force {
				it.fail(skillerr.New(skillerr.KindNameConflict,
					"skill %q is already installed from %s/%s@%s:%s (use --force)",
					name, it.existing.Owner, it.existing.Repository, it.existing.Ref, it.existing.Path))
				continue
			}
		}
		local, err := s.localState(name)
		if err != nil {
			it.fail(fmt.Errorf("inspecting local copy: %w", err))
			continue
		}
		it.local = local

		switch {
		case it.recorded && it.existing.SameSource(child) && local.Present &&
			local.Fingerprint == it.existing.Fingerprint && it.existing.Commit == child.Commit:
			it.outcome.Status = StatusUpToDate
			it.outcome.Decision = UpToDate.String()
		case local.Present && (!it.recorded || local.Fingerprint != it.existing.Fingerprint):
			it.gated = true
			gated = append(gated, name)
		}
	}

	if len(gated) > 0 {
		prompt := fmt.Sprintf("%d skill directories have local modifications or are not managed (%s). Overwrite them?",
			len(gated), strings.Join(gated, ", "))
		if err := s.gate(ctx, prompt); err != nil {
			for _, it := range items {
				if it.gated {
					it.outcome.Status = StatusSkippedLocalEdits
					it.outcome.Decision = LocallyModified.String()
					it.outcome.Err = err
				}
			}
		}
	}

	var eg errgroup.Group
	eg.SetLimit(s.jobs)
	for _, it := range items {
		if it.outcome.Status != "" {
			continue
		}
		eg.Go(func() error {
			fp, err := s.injector.Install(it.name, it.files)
			if err != nil {
				it.fail(fmt.Errorf("installing %s: %w", it.name, err))
				return nil
			}
			rec := manifest.NewRecord(it.name, it.ref, fp, loc.String()+"/"+it.name, s.now())
			it.newRec = &rec
			it.outcome.Status = StatusInstalled
			if it.recorded && it.local.Present {
				it.outcome.Status = StatusUpdated
			}
			return nil
		})
	}
	_ = eg.Wait()

	next := reg
	var report Report
	for _, it := range items {
		if it.newRec != nil {
			next = next.With(*it.newRec)
		}
		logOutcome(log, it.outcome)
		report.add(it.outcome)
	}
	return next, report, nil
}

func (s *Syncer) fetch(ctx context.Context, name string, ref config.ResolvedReference) (string, error) {
	files, err := s.resolver.Fetch(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", name, err)
	}
	fp, err := s.injector.Install(name, files)
	if err != nil {
		return "", fmt.Errorf("installing %s: %w", name, err)
	}
	return fp, nil
}

// plan is the per-skill working state of a sync.
type plan struct {
	rec      manifest.SkillRecord
	upstream config.ResolvedReference
	local    LocalState
	decision Decision
	fetch    bool
	outcome  Outcome
	newRec   *manifest.SkillRecord
}

// classify fills in local state, upstream commit and decision for every
// plan, in parallel.
func (s *Syncer) classify(ctx context.Context, plans []*plan) {
	var eg errgroup.Group
	eg.SetLimit(s.jobs)
	for _, p := range plans {
		eg.Go(func() error {
			p.outcome = Outcome{Name: p.rec.Name, Ref: p.rec.Ref, PreviousCommit: p.rec.Commit}

			local, err := s.localState(p.rec.Name)
			if err != nil {
				p.fail(fmt.Errorf("inspecting local copy: %w", err))
				return nil
			}
			upstream, err := s.resolver.Refresh(ctx, p.rec.Reference())
			if err != nil {
				p.fail(err)
				return nil
			}
			p.local = local
			p.upstream = upstream
			p.decision = Classify(p.rec, local, upstream.Commit)
			p.outcome.Decision = p.decision.String()
			p.outcome.Commit = upstream.Commit
			return nil
		})
	}
	_ = eg.Wait()
}

func (p *plan) fail(err error) {
	p.outcome.Status = StatusFailed
	p.outcome.Err = err
}

// Sync brings every recorded skill up to date with its ref.
func (s *Syncer) Sync(ctx context.Context, reg manifest.Registry) (manifest.Registry, Report, error) {
	return s.syncRecords(ctx, reg, reg.Records())
}

// Update synchronizes a single named skill.
func (s *Syncer) Update(ctx context.Context, reg manifest.Registry, name string) (manifest.Registry, Report, error) {
	rec, ok := reg.Get(name)
	if !ok {
		return reg, Report{}, skillerr.New(skillerr.KindNotFound, "skill %q is not installed", name)
	}
	return s.syncRecords(ctx, reg, []manifest.SkillRecord{rec})
}

func (s *Syncer) syncRecords(ctx context.Context, reg manifest.Registry, recs []manifest.SkillRecord) (manifest.Registry, Report, error) {
	log := logging.Ctx(ctx)
	plans := make([]*plan, len(recs))
	for i, rec := range recs {
		plans[i] = &plan{rec: rec}
	}

	s.classify(ctx, plans)

	// Confirmations run one at a time so prompts never interleave.
	for _, p := range plans {
		if p.outcome.Status == StatusFailed {
			continue
		}
		switch {
		case p.decision == UpToDate:
			p.outcome.Status = StatusUpToDate
		case p.decision.NeedsConfirmation():
			prompt := fmt.Sprintf("Skill %q has local modifications. Overwrite them?", p.rec.Name)
			if p.decision == Conflict {
				prompt = fmt.Sprintf("Skill %q has local modifications and upstream moved to %s. Overwrite them?",
					p.rec.Name, short(p.upstream.Commit))
			}
			if err := s.gate(ctx, prompt); err != nil {
				p.outcome.Status = StatusSkippedLocalEdits
				p.outcome.Err = err
				continue
			}
			p.fetch = true
		default:
			p.fetch = true
		}
	}

	var eg errgroup.Group
	eg.SetLimit(s.jobs)
	for _, p := range plans {
		if !p.fetch {
			continue
		}
		eg.Go(func() error {
			fp, err := s.fetch(ctx, p.rec.Name, p.upstream)
			if err != nil {
				p.fail(err)
				return nil
			}
			rec := manifest.NewRecord(p.rec.Name, p.upstream, fp, p.rec.SourceURL, s.now())
			p.newRec = &rec
			p.outcome.Status = StatusUpdated
			if p.decision == Missing {
				p.outcome.Status = StatusInstalled
			}
			return nil
		})
	}
	_ = eg.Wait()

	// Single writer: only this goroutine touches the registry.
	next := reg
	var report Report
	for _, p := range plans {
		if p.newRec != nil {
			next = next.With(*p.newRec)
		}
		logOutcome(log, p.outcome)
		report.add(p.outcome)
	}
	return next, report, nil
}

// Uninstall removes the skill directory and then its record.
func (s *Syncer) Uninstall(ctx context.Context, reg manifest.Registry, name string) (manifest.Registry, Report, error) {
	rec, ok := reg.Get(name)
	if !ok {
		return reg, Report{}, skillerr.New(skillerr.KindNotFound, "skill %q is not installed", name)
	}
	if err := s.injector.Remove(name); err != nil {
		return reg, Report{}, err
	}
	logging.Ctx(ctx).Info("uninstalled", "skill", name)

	var report Report
	report.add(Outcome{Name: name, Status: StatusRemoved, Ref: rec.Ref, PreviousCommit: rec.Commit})
	return reg.Without(name), report, nil
}

// Status classifies every recorded skill without fetching or prompting.
func (s *Syncer) Status(ctx context.Context, reg manifest.Registry) []Check {
	recs := reg.Records()
	plans := make([]*plan, len(recs))
	for i, rec := range recs {
		plans[i] = &plan{rec: rec}
	}
	s.classify(ctx, plans)

	checks := make([]Check, 0, len(plans))
	for _, p := range plans {
		c := Check{
			Name:             p.rec.Name,
			Decision:         p.decision,
			State:            p.decision.String(),
			Ref:              p.rec.Ref,
			RecordedCommit:   p.rec.Commit,
			UpstreamCommit:   p.upstream.Commit,
			LocalFingerprint: p.local.Fingerprint,
		}
		if p.outcome.Status == StatusFailed {
			c.State = string(StatusFailed)
			c.Err = p.outcome.Err
			c.Reason = p.outcome.Err.Error()
		}
		checks = append(checks, c)
	}
	return checks
}

func logOutcome(log *slog.Logger, o Outcome) {
	switch o.Status {
	case StatusFailed:
		log.Warn("sync failed", "skill", o.Name, "err", o.Err)
	case StatusSkippedLocalEdits:
		log.Warn("skipping, local edits kept", "skill", o.Name, "reason", o.Reason)
	default:
		log.Info("synced", "skill", o.Name, "status", string(o.Status), "commit", o.Commit)
	}
}

func short(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
