package resolver

import (
	"context"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/logging"
)

// Resolver turns tree URLs into commit-pinned references and fetches their
// content.
type Resolver struct {
	source    SourceRepository
	validator Validator
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAmbiguityDetection makes validation probe every candidate and warn when
// more than one matches.
func WithAmbiguityDetection(on bool) Option {
	return func(r *Resolver) { r.validator.DetectAmbiguity = on }
}

// New creates a Resolver backed by src.
func New(src SourceRepository, opts ...Option) *Resolver {
	r := &Resolver{
		source:    src,
		validator: Validator{Source: src},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source returns the underlying repository collaborator.
func (r *Resolver) Source() SourceRepository { return r.source }

// Resolve parses raw and resolves it to a commit-pinned reference.
func (r *Resolver) Resolve(ctx context.Context, raw string) (config.ResolvedReference, error) {
	loc, err := config.ParseLocator(raw)
	if err != nil {
		return config.ResolvedReference{}, err
	}
	return r.ResolveLocator(ctx, loc)
}

// ResolveLocator validates an already parsed locator and pins it.
func (r *Resolver) ResolveLocator(ctx context.Context, loc config.Locator) (config.ResolvedReference, error) {
	cand, err := r.validator.Validate(ctx, loc)
	if err != nil {
		return config.ResolvedReference{}, err
	}
	commit, err := ResolveCommit(ctx, r.source, loc.Owner, loc.Repository, cand.Ref)
	if err != nil {
		return config.ResolvedReference{}, err
	}
	logging.Ctx(ctx).Debug("resolved locator",
		"locator", loc.String(), "ref", cand.Ref, "path", cand.PathString(), "commit", commit)
	return config.ResolvedReference{
		Owner:      loc.Owner,
		Repository: loc.Repository,
		Ref:        cand.Ref,
		Path:       cand.PathString(),
		Commit:     commit,
	}, nil
}

// Refresh re-resolves a stored reference's ref to its current commit. The
// stored ref/path split is trusted and not re-validated.
func (r *Resolver) Refresh(ctx context.Context, ref config.ResolvedReference) (config.ResolvedReference, error) {
	commit, err := ResolveCommit(ctx, r.source, ref.Owner, ref.Repository, ref.Ref)
	if err != nil {
		return config.ResolvedReference{}, err
	}
	ref.Commit = commit
	return ref, nil
}

// Fetch downloads the directory named by ref at its pinned commit.
func (r *Resolver) Fetch(ctx context.Context, ref config.ResolvedReference) ([]File, error) {
	return r.source.FetchTree(ctx, ref.Owner, ref.Repository, ref.Commit, ref.Path)
}
