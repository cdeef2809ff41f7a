package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cbout22/skills-sync/internal/skillerr"
)

// GitHubHost is the only hosting domain a locator may point at.
const GitHubHost = "github.com"

// treeMarker separates owner/repository from the ref+path tail.
const treeMarker = "tree"

// CommitIDLength is the length of a full hex commit identifier.
const CommitIDLength = 40

// Locator is a parsed directory-tree URL such as
// https://github.com/org/repo/tree/release/v1.0/skills/web.
// The tail after the tree marker cannot be split into ref and path by
// syntax alone, so it is kept as raw segments.
type Locator struct {
	Host       string
	Owner      string
	Repository string
	Segments   []string
}

// Candidate is one hypothesised split of a locator's tail.
type Candidate struct {
	Ref  string
	Path []string
}

// PathString joins the candidate path with forward slashes.
func (c Candidate) PathString() string {
	return strings.Join(c.Path, "/")
}

// String renders the candidate for diagnostics.
func (c Candidate) String() string {
	return fmt.Sprintf("ref=%s path=%s", c.Ref, c.PathString())
}

// ResolvedReference is a validated candidate pinned to a commit.
type ResolvedReference struct {
	Owner      string
	Repository string
	Ref        string
	Path       string
	Commit     string
}

// RepoFullName returns "owner/repo".
func (r ResolvedReference) RepoFullName() string {
	return r.Owner + "/" + r.Repository
}

// ParseLocator parses a GitHub tree URL.
// Expected format: "https://github.com/owner/repo/tree/<ref...>/<path...>"
func ParseLocator(raw string) (Locator, error) {
	in := strings.TrimSpace(raw)
	u, err := url.Parse(in)
	if err != nil {
		return Locator{}, skillerr.Wrap(skillerr.KindMalformedLocator, err, "invalid locator %q", raw)
	}
	if u.Scheme != "https" {
		return Locator{}, malformed(raw, "scheme must be https")
	}

	host := strings.ToLower(u.Host)
	if host == "www."+GitHubHost {
		host = GitHubHost
	}
	if host != GitHubHost {
		return Locator{}, malformed(raw, "host must be "+GitHubHost)
	}

	parts := splitSegments(u.Path)
	if len(parts) < 2 {
		return Locator{}, malformed(raw, "missing owner/repository")
	}
	if len(parts) < 3 || parts[2] != treeMarker {
		return Locator{}, malformed(raw, "missing /tree/ marker")
	}
	if strings.HasSuffix(parts[1], ".git") {
		return Locator{}, malformed(raw, "repository must not carry a .git suffix")
	}
	for _, p := range parts {
		if p == "." || p == ".." {
			return Locator{}, malformed(raw, "relative path segments are not allowed")
		}
	}

	tail := parts[3:]
	switch len(tail) {
	case 0:
		return Locator{}, malformed(raw, "missing ref and path after /tree/")
	case 1:
		return Locator{}, malformed(raw, "locator names a ref but no directory")
	}

	return Locator{
		Host:       host,
		Owner:      parts[0],
		Repository: parts[1],
		Segments:   tail,
	}, nil
}

func malformed(raw, reason string) error {
	return skillerr.New(skillerr.KindMalformedLocator,
		"invalid locator %q: %s (expected https://github.com/<owner>/<repo>/tree/<ref>/<path>)", raw, reason)
}

// splitSegments splits a URL path on "/" and drops empty segments, so
// trailing and doubled slashes are tolerated.
func splitSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Candidates returns every (ref, path) split with a non-empty path, longest
// ref first.
func (l Locator) Candidates() []Candidate {
	n := len(l.Segments)
	if n < 2 {
		return nil
	}
	out := make([]Candidate, 0, n-1)
	for k := n - 1; k >= 1; k-- {
		path := make([]string, n-k)
		copy(path, l.Segments[k:])
		out = append(out, Candidate{
			Ref:  strings.Join(l.Segments[:k], "/"),
			Path: path,
		})
	}
	return out
}

// DirectoryName is the last tail segment, used as the default skill name.
func (l Locator) DirectoryName() string {
	if len(l.Segments) == 0 {
		return ""
	}
	return l.Segments[len(l.Segments)-1]
}

// RepoFullName returns "owner/repo".
func (l Locator) RepoFullName() string {
	return l.Owner + "/" + l.Repository
}

// String returns the canonical URL of the locator.
func (l Locator) String() string {
	return fmt.Sprintf("https://%s/%s/%s/%s/%s", l.Host, l.Owner, l.Repository, treeMarker, strings.Join(l.Segments, "/"))
}

// IsCommitID reports whether ref is a full hex commit identifier.
func IsCommitID(ref string) bool {
	if len(ref) != CommitIDLength {
		return false
	}
	for _, c := range ref {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ValidateName checks that a skill name can be used as a single directory
// name under the skills directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("skill name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid skill name %q", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("invalid skill name %q: must not start with '.'", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("invalid skill name %q: must not contain path separators", name)
	}
	return nil
}
