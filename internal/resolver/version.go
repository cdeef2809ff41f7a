package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/cbout22/skills-sync/internal/config"
)

// ResolveCommit pins ref to a commit id. Full commit ids are returned as-is
// without a remote round trip.
func ResolveCommit(ctx context.Context, src SourceRepository, owner, repo, ref string) (string, error) {
	if config.IsCommitID(ref) {
		return strings.ToLower(ref), nil
	}
	sha, err := src.ResolveCommit(ctx, owner, repo, ref)
	if err != nil {
		return "", fmt.Errorf("resolving %s/%s@%s: %w", owner, repo, ref, err)
	}
	return sha, nil
}
