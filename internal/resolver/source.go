package resolver

import "context"

// File is one regular file fetched from a remote directory.
type File struct {
	// Path is slash-separated and relative to the fetched directory.
	Path       string
	Data       []byte
	Executable bool
}

// SourceRepository defines the remote operations needed to resolve and fetch
// skill directories. Implementations return (false, nil) or a
// REFERENCE_NOT_FOUND error for absent objects and a TRANSPORT_ERROR when
// the remote could not answer.
type SourceRepository interface {
	// RefExists reports whether ref names a branch, tag or commit.
	RefExists(ctx context.Context, owner, repo, ref string) (bool, error)

	// PathIsDirectory reports whether path is a directory at ref.
	PathIsDirectory(ctx context.Context, owner, repo, ref, path string) (bool, error)

	// ResolveCommit resolves ref to a full commit id.
	ResolveCommit(ctx context.Context, owner, repo, ref string) (string, error)

	// FetchTree returns every regular file under path at commit.
	FetchTree(ctx context.Context, owner, repo, commit, path string) ([]File, error)
}
