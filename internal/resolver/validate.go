package resolver

import (
	"context"
	"fmt"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/logging"
	"github.com/cbout22/skills-sync/internal/skillerr"
)

// Validator picks the (ref, path) partition of a locator that exists
// remotely.
type Validator struct {
	Source SourceRepository

	// DetectAmbiguity keeps probing after the first match and logs a warning
	// when more than one partition validates. The first match still wins.
	DetectAmbiguity bool
}

// Validate probes candidates longest-ref first. A transport failure aborts
// immediately; exhausting every candidate yields REFERENCE_NOT_FOUND.
func (v Validator) Validate(ctx context.Context, loc config.Locator) (config.Candidate, error) {
	log := logging.Ctx(ctx).With("repo", loc.RepoFullName())

	candidates := loc.Candidates()
	if len(candidates) == 0 {
		return config.Candidate{}, skillerr.New(skillerr.KindMalformedLocator, "locator %s has no ref/path partition", loc)
	}

	var (
		winner   config.Candidate
		found    bool
		others   []string
		attempts = make([]string, 0, len(candidates))
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return config.Candidate{}, err
		}
		attempts = append(attempts, c.String())

		ok, err := v.probe(ctx, loc, c)
		if err != nil {
			return config.Candidate{}, fmt.Errorf("validating %s: %w", c, err)
		}
		log.Debug("probed candidate", "ref", c.Ref, "path", c.PathString(), "match", ok)
		if !ok {
			continue
		}
		if !found {
			winner, found = c, true
			if !v.DetectAmbiguity {
				break
			}
			continue
		}
		others = append(others, c.String())
	}

	if !found {
		return config.Candidate{}, &skillerr.Error{
			Kind:     skillerr.KindReferenceNotFound,
			Msg:      fmt.Sprintf("no ref/path partition of %s exists", loc),
			Attempts: attempts,
		}
	}
	if len(others) > 0 {
		log.Warn("locator is ambiguous, using the longest ref",
			"chosen", winner.String(), "also_valid", others)
	}
	return winner, nil
}

func (v Validator) probe(ctx context.Context, loc config.Locator, c config.Candidate) (bool, error) {
	exists, err := v.Source.RefExists(ctx, loc.Owner, loc.Repository, c.Ref)
	if err != nil || !exists {
		return false, err
	}
	return v.Source.PathIsDirectory(ctx, loc.Owner, loc.Repository, c.Ref, c.PathString())
}
