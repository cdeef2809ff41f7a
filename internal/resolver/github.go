package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/logging"
	"github.com/cbout22/skills-sync/internal/skillerr"
)

const (
	acceptSHA    = "application/vnd.github.sha"
	acceptObject = "application/vnd.github.object"

	modeSymlink    = "120000"
	modeExecutable = "100755"

	bodyExcerptLimit = 200
	downloadWorkers  = 8
)

// GitHub implements SourceRepository against the GitHub REST API and
// raw.githubusercontent.com.
type GitHub struct {
	client  *http.Client
	apiBase string
	rawBase string
}

var _ SourceRepository = (*GitHub)(nil)

// NewGitHub creates a GitHub source. Empty base URLs fall back to the public
// endpoints.
func NewGitHub(client *http.Client, apiBase, rawBase string) *GitHub {
	if apiBase == "" {
		apiBase = config.DefaultAPIURL
	}
	if rawBase == "" {
		rawBase = config.DefaultRawURL
	}
	return &GitHub{
		client:  client,
		apiBase: strings.TrimRight(apiBase, "/"),
		rawBase: strings.TrimRight(rawBase, "/"),
	}
}

// escapePath escapes each slash-separated segment and keeps the slashes.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func (g *GitHub) commitURL(owner, repo, ref string) string {
	return fmt.Sprintf("%s/repos/%s/%s/commits/%s", g.apiBase, url.PathEscape(owner), url.PathEscape(repo), escapePath(ref))
}

func (g *GitHub) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, skillerr.Wrap(skillerr.KindTransport, err, "building request for %s", rawURL)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	logging.Ctx(ctx).Debug("github request", "url", rawURL)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, skillerr.Wrap(skillerr.KindTransport, err, "GET %s", rawURL)
	}
	return resp, nil
}

func isNotFound(status int) bool {
	return status == http.StatusNotFound || status == http.StatusUnprocessableEntity
}

// statusError maps a non-2xx response to a TRANSPORT_ERROR. The body is
// consumed but not closed.
func statusError(resp *http.Response, op string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptLimit))
	excerpt := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		msg := fmt.Sprintf("%s: rate limited by GitHub (HTTP %d)", op, resp.StatusCode)
		if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
			msg += ", resets at unix " + reset
		}
		return skillerr.New(skillerr.KindTransport, "%s", msg)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return skillerr.New(skillerr.KindTransport, "%s: forbidden (HTTP %d), check GITHUB_TOKEN", op, resp.StatusCode)
	default:
		return skillerr.New(skillerr.KindTransport, "%s: HTTP %d: %s", op, resp.StatusCode, excerpt)
	}
}

// RefExists reports whether ref names a commit-ish in owner/repo.
func (g *GitHub) RefExists(ctx context.Context, owner, repo, ref string) (bool, error) {
	resp, err := g.get(ctx, g.commitURL(owner, repo, ref), acceptSHA)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case isNotFound(resp.StatusCode):
		return false, nil
	default:
		return false, statusError(resp, fmt.Sprintf("checking ref %q in %s/%s", ref, owner, repo))
	}
}

// ResolveCommit resolves a branch, tag or abbreviated commit to a full commit id.
func (g *GitHub) ResolveCommit(ctx context.Context, owner, repo, ref string) (string, error) {
	resp, err := g.get(ctx, g.commitURL(owner, repo, ref), acceptSHA)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if isNotFound(resp.StatusCode) {
		return "", skillerr.New(skillerr.KindReferenceNotFound, "ref %q not found in %s/%s", ref, owner, repo)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp, fmt.Sprintf("resolving commit for %s/%s@%s", owner, repo, ref))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", skillerr.Wrap(skillerr.KindTransport, err, "reading commit id")
	}
	sha := strings.ToLower(strings.TrimSpace(string(body)))
	if !config.IsCommitID(sha) {
		return "", skillerr.New(skillerr.KindTransport, "unexpected commit id %q for %s/%s@%s", sha, owner, repo, ref)
	}
	return sha, nil
}

type contentsObject struct {
	Type string `json:"type"`
}

// PathIsDirectory reports whether path is a directory at ref.
func (g *GitHub) PathIsDirectory(ctx context.Context, owner, repo, ref, path string) (bool, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		g.apiBase, url.PathEscape(owner), url.PathEscape(repo), escapePath(path), url.QueryEscape(ref))
	resp, err := g.get(ctx, u, acceptObject)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if isNotFound(resp.StatusCode) {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp, fmt.Sprintf("checking path %q in %s/%s@%s", path, owner, repo, ref))
	}

	var obj contentsObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return false, skillerr.Wrap(skillerr.KindTransport, err, "decoding contents response")
	}
	return obj.Type == "dir", nil
}

// treeEntry represents one item in the GitHub Trees API response.
type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"` // "blob", "tree" or "commit"
	SHA  string `json:"sha"`
}

type treeResponse struct {
	SHA       string      `json:"sha"`
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// FetchTree downloads every regular file under path at commit. Returned
// paths are relative to path.
func (g *GitHub) FetchTree(ctx context.Context, owner, repo, commit, path string) ([]File, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		g.apiBase, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(commit))
	resp, err := g.get(ctx, u, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if isNotFound(resp.StatusCode) {
		return nil, skillerr.New(skillerr.KindReferenceNotFound, "commit %s not found in %s/%s", commit, owner, repo)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, fmt.Sprintf("listing tree for %s/%s@%s", owner, repo, commit))
	}

	var tree treeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		return nil, skillerr.Wrap(skillerr.KindTransport, err, "decoding tree response")
	}
	if tree.Truncated {
		return nil, skillerr.New(skillerr.KindTransport, "tree listing for %s/%s@%s is truncated", owner, repo, commit)
	}

	// Filter entries that are regular files under the requested path
	prefix := strings.Trim(path, "/") + "/"
	var entries []treeEntry
	for _, e := range tree.Tree {
		if e.Type != "blob" || e.Mode == modeSymlink {
			continue
		}
		if strings.HasPrefix(e.Path, prefix) && len(e.Path) > len(prefix) {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, skillerr.New(skillerr.KindReferenceNotFound, "no files found under %s in %s/%s@%s", path, owner, repo, commit)
	}

	files := make([]File, len(entries))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(downloadWorkers)
	for i, e := range entries {
		eg.Go(func() error {
			data, err := g.download(gctx, owner, repo, commit, e.Path)
			if err != nil {
				return err
			}
			files[i] = File{
				Path:       strings.TrimPrefix(e.Path, prefix),
				Data:       data,
				Executable: e.Mode == modeExecutable,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// download fetches a single file from raw.githubusercontent.com.
func (g *GitHub) download(ctx context.Context, owner, repo, commit, filePath string) ([]byte, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/%s", g.rawBase, url.PathEscape(owner), url.PathEscape(repo), commit, escapePath(filePath))
	resp, err := g.get(ctx, u, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "fetching "+filePath)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, skillerr.Wrap(skillerr.KindTransport, err, "reading %s", u)
	}
	return data, nil
}
