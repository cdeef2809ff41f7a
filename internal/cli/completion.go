package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbout22/skills-sync/internal/auth"
	"github.com/cbout22/skills-sync/internal/logging"
)

const (
	githubPrefix      = "https://github.com/"
	completionTimeout = time.Second
)

func formatCompletionLine(value, description string) string {
	if description == "" {
		return value
	}
	return value + "\t" + description
}

// completeInstalledNames offers the names recorded in skills.toml.
func completeInstalledNames(opts *options, toComplete string) ([]string, cobra.ShellCompDirective) {
	s, err := opts.settings.Resolve()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	e, err := newEnv(s, false, nil, io.Discard, io.Discard)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	reg, err := e.store.Load()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var completions []string
	for _, rec := range reg.Records() {
		if strings.HasPrefix(rec.Name, toComplete) {
			completions = append(completions, formatCompletionLine(rec.Name, rec.SourceURL))
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeTreeURL completes https://github.com/<owner>/<repo>/tree/<ref>/<path>
// in stages: repository, tree marker, ref, then directories at that ref.
func completeTreeURL(cmd *cobra.Command, opts *options, toComplete string) ([]string, cobra.ShellCompDirective) {
	const dirDirective = cobra.ShellCompDirectiveNoSpace | cobra.ShellCompDirectiveNoFileComp

	if !strings.HasPrefix(toComplete, githubPrefix) {
		if strings.HasPrefix(githubPrefix, toComplete) {
			return []string{githubPrefix}, dirDirective
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// Keep the shell quiet; a missing token is not worth a warning here.
	ctx = logging.WithLogger(ctx, logging.Discard())
	client, err := auth.NewHTTPClientWithTimeout(ctx, completionTimeout)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	c := &completer{client: client, apiBase: strings.TrimRight(opts.settings.APIURL, "/")}

	parts := strings.Split(strings.TrimPrefix(toComplete, githubPrefix), "/")
	switch {
	case len(parts) <= 2:
		return c.repos(ctx, strings.Join(parts, "/")), dirDirective
	case len(parts) == 3:
		if strings.HasPrefix("tree", parts[2]) {
			return []string{githubPrefix + parts[0] + "/" + parts[1] + "/tree/"}, dirDirective
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	case parts[2] != "tree":
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	owner, repo := parts[0], parts[1]
	base := githubPrefix + owner + "/" + repo + "/tree/"
	tail := strings.Join(parts[3:], "/")

	refs := c.refs(ctx, owner, repo)
	// Longest ref first, mirroring how URLs are resolved.
	sort.Slice(refs, func(i, j int) bool { return len(refs[i].name) > len(refs[j].name) })
	for _, r := range refs {
		if strings.HasPrefix(tail, r.name+"/") {
			return c.dirs(ctx, owner, repo, r.name, strings.TrimPrefix(tail, r.name+"/"), base+r.name+"/"), dirDirective
		}
	}

	var completions []string
	for _, r := range refs {
		if strings.HasPrefix(r.name, tail) {
			completions = append(completions, formatCompletionLine(base+r.name+"/", r.kind))
		}
	}
	sort.Strings(completions)
	return completions, dirDirective
}

type completer struct {
	client  *http.Client
	apiBase string
}

func (c *completer) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *completer) repos(ctx context.Context, typed string) []string {
	if typed == "" {
		return nil
	}
	// "org/re" searches org's repositories whose name contains "re".
	query := typed
	if owner, prefix, ok := strings.Cut(typed, "/"); ok {
		query = fmt.Sprintf("user:%s %s in:name", owner, prefix)
	}

	var result struct {
		Items []struct {
			FullName    string `json:"full_name"`
			Description string `json:"description"`
		} `json:"items"`
	}
	searchURL := fmt.Sprintf("%s/search/repositories?q=%s&per_page=10", c.apiBase, url.QueryEscape(query))
	if err := c.getJSON(ctx, searchURL, &result); err != nil {
		return nil
	}

	var completions []string
	for _, item := range result.Items {
		if !strings.HasPrefix(item.FullName, typed) {
			continue
		}
		desc := item.Description
		if desc == "" {
			desc = "Repository"
		}
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		completions = append(completions, formatCompletionLine(githubPrefix+item.FullName+"/tree/", desc))
	}
	return completions
}

type refName struct {
	name string
	kind string
}

func (c *completer) refs(ctx context.Context, owner, repo string) []refName {
	var result []struct {
		Ref string `json:"ref"`
	}
	refsURL := fmt.Sprintf("%s/repos/%s/%s/git/refs", c.apiBase, url.PathEscape(owner), url.PathEscape(repo))
	if err := c.getJSON(ctx, refsURL, &result); err != nil {
		return nil
	}

	var refs []refName
	for _, item := range result {
		switch {
		case strings.HasPrefix(item.Ref, "refs/heads/"):
			refs = append(refs, refName{strings.TrimPrefix(item.Ref, "refs/heads/"), "Branch"})
		case strings.HasPrefix(item.Ref, "refs/tags/"):
			refs = append(refs, refName{strings.TrimPrefix(item.Ref, "refs/tags/"), "Tag"})
		}
	}
	return refs
}

// dirs suggests the directories one level below pathPrefix at ref. Skills
// are directories, so files are never offered.
func (c *completer) dirs(ctx context.Context, owner, repo, ref, pathPrefix, base string) []string {
	var result struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	treeURL := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		c.apiBase, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref))
	if err := c.getJSON(ctx, treeURL, &result); err != nil {
		return nil
	}

	// The segment being typed is matched as a prefix; complete ones are
	// followed by their children.
	parent := ""
	if i := strings.LastIndex(pathPrefix, "/"); i >= 0 {
		parent = pathPrefix[:i+1]
	}

	seen := make(map[string]bool)
	var completions []string
	for _, item := range result.Tree {
		if item.Type != "tree" || !strings.HasPrefix(item.Path, pathPrefix) {
			continue
		}
		rest := strings.TrimPrefix(item.Path, parent)
		next, _, _ := strings.Cut(rest, "/")
		dir := parent + next + "/"
		if seen[dir] {
			continue
		}
		seen[dir] = true
		completions = append(completions, formatCompletionLine(base+dir, "Directory"))
	}
	sort.Strings(completions)
	return completions
}
