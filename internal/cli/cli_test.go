package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/resolver"
	"github.com/cbout22/skills-sync/internal/skillerr"
	"github.com/cbout22/skills-sync/internal/syncer"
)

const (
	sha1 = "1111111111111111111111111111111111111111"
	sha2 = "2222222222222222222222222222222222222222"

	skillURL     = "https://github.com/myorg/skills/tree/release/v2/skills/review"
	dirSkillsURL = "https://github.com/myorg/skills/tree/release/v2/skills"
)

// mockSource implements resolver.SourceRepository for one repository whose
// skills/review directory exists on release/v2.
type mockSource struct {
	mu      sync.Mutex
	commit  string
	content map[string]string // commit -> SKILL.md body
}

var _ resolver.SourceRepository = (*mockSource)(nil)

func newMockSource() *mockSource {
	return &mockSource{
		commit:  sha1,
		content: map[string]string{sha1: "# Review v1\n", sha2: "# Review v2\n"},
	}
}

func (m *mockSource) advance(commit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commit = commit
}

func (m *mockSource) RefExists(_ context.Context, _, _, ref string) (bool, error) {
	return ref == "release/v2", nil
}

func (m *mockSource) PathIsDirectory(_ context.Context, _, _, ref, path string) (bool, error) {
	return ref == "release/v2" && path == "skills/review", nil
}

func (m *mockSource) ResolveCommit(_ context.Context, _, _, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref != "release/v2" {
		return "", skillerr.New(skillerr.KindReferenceNotFound, "no ref %s", ref)
	}
	return m.commit, nil
}

func (m *mockSource) FetchTree(_ context.Context, _, _, commit, _ string) ([]resolver.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.content[commit]
	if !ok {
		return nil, skillerr.New(skillerr.KindReferenceNotFound, "no commit %s", commit)
	}
	return []resolver.File{
		{Path: "SKILL.md", Data: []byte(body)},
		{Path: "scripts/run.sh", Data: []byte("#!/bin/sh\n"), Executable: true},
	}, nil
}

// setupTestEnv creates an env rooted at a temp directory, with stdin that is
// not a terminal so every confirmation is declined unless yes is set.
func setupTestEnv(t *testing.T, src resolver.SourceRepository, jsonOut, yes bool) (*env, *bytes.Buffer) {
	t.Helper()
	s := config.DefaultSettings()
	s.BaseDir = t.TempDir()
	s.JSON = jsonOut
	s.AssumeYes = yes
	s, err := s.Resolve()
	require.NoError(t, err)

	var out bytes.Buffer
	e, err := newEnv(s, true, strings.NewReader(""), &out, io.Discard)
	require.NoError(t, err)
	e.source = src
	e.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return e, &out
}

func installRequest(url string) syncer.InstallRequest {
	return syncer.InstallRequest{URL: url}
}

func skillFile(e *env, parts ...string) string {
	return filepath.Join(append([]string{e.settings.BaseDir, "skills", "review"}, parts...)...)
}

func TestInstallCmd_WritesSkillAndRegistry(t *testing.T) {
	t.Parallel()

	e, out := setupTestEnv(t, newMockSource(), false, false)
	ctx := context.Background()

	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))

	got, err := os.ReadFile(skillFile(e, "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Review v1\n", string(got))

	info, err := os.Stat(skillFile(e, "scripts", "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "executable bit preserved")

	data, err := os.ReadFile(filepath.Join(e.settings.BaseDir, "skills.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `commit = "`+sha1+`"`)
	assert.Contains(t, string(data), `ref = "release/v2"`)
	assert.Contains(t, string(data), `path = "skills/review"`)

	assert.Contains(t, out.String(), "review")
	assert.Contains(t, out.String(), "installed")
	assert.NoFileExists(t, filepath.Join(e.settings.BaseDir, "skills.toml.lock"))
}

func TestInstallCmd_MalformedURL(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, false)
	err := runInstallWith(context.Background(), e, installRequest("https://github.com/myorg/skills/tree/main"))
	require.Error(t, err)
	assert.Equal(t, exitMalformed, exitCode(err))
	assert.NoFileExists(t, filepath.Join(e.settings.BaseDir, "skills.toml"))
}

func TestInstallCmd_UnknownRef(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, false)
	err := runInstallWith(context.Background(), e, installRequest("https://github.com/myorg/skills/tree/nope/skills/review"))
	require.Error(t, err)
	assert.Equal(t, exitNotFound, exitCode(err))
	assert.Contains(t, err.Error(), "ref=nope/skills path=review")
}

func TestSyncCmd_EmptyRegistry(t *testing.T) {
	t.Parallel()

	e, out := setupTestEnv(t, newMockSource(), false, false)
	require.NoError(t, runSyncWith(context.Background(), e))

	assert.Contains(t, out.String(), "nothing to do")
	assert.NoFileExists(t, filepath.Join(e.settings.BaseDir, "skills.toml"), "unchanged registry is not written")
	assert.NoFileExists(t, filepath.Join(e.settings.BaseDir, "skills.toml.lock"))
}

func TestSyncCmd_UpstreamAdvance(t *testing.T) {
	t.Parallel()

	src := newMockSource()
	e, out := setupTestEnv(t, src, false, false)
	ctx := context.Background()
	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))

	src.advance(sha2)
	out.Reset()
	require.NoError(t, runSyncWith(ctx, e))

	got, err := os.ReadFile(skillFile(e, "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Review v2\n", string(got))
	assert.Contains(t, out.String(), "updated")
	assert.Contains(t, out.String(), "1111111 → 2222222")

	data, err := os.ReadFile(filepath.Join(e.settings.BaseDir, "skills.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), sha2)
}

func TestSyncCmd_LocalEditsKeptWithoutTerminal(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, false)
	ctx := context.Background()
	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))
	require.NoError(t, os.WriteFile(skillFile(e, "SKILL.md"), []byte("mine"), 0o644))

	err := runSyncWith(ctx, e)
	require.Error(t, err)
	assert.Equal(t, exitLocalEdits, exitCode(err))

	got, err := os.ReadFile(skillFile(e, "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, "mine", string(got))
}

func TestSyncCmd_YesOverwritesLocalEdits(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, true)
	ctx := context.Background()
	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))
	require.NoError(t, os.WriteFile(skillFile(e, "SKILL.md"), []byte("mine"), 0o644))

	require.NoError(t, runSyncWith(ctx, e))
	got, err := os.ReadFile(skillFile(e, "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Review v1\n", string(got))
}

func TestSyncCmd_RegistryLocked(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, false)
	lock, err := e.locker.Acquire()
	require.NoError(t, err)
	defer lock.Release()

	err = runSyncWith(context.Background(), e)
	require.Error(t, err)
	assert.True(t, skillerr.KindOf(err) == skillerr.KindRegistry)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestUpdateCmd_NotInstalled(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, false)
	err := runUpdateWith(context.Background(), e, "review")
	require.Error(t, err)
	assert.Equal(t, exitNotFound, exitCode(err))
}

func TestUninstallCmd_RemovesSkill(t *testing.T) {
	t.Parallel()

	e, out := setupTestEnv(t, newMockSource(), false, false)
	ctx := context.Background()
	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))

	out.Reset()
	require.NoError(t, runUninstallWith(ctx, e, "review"))
	assert.NoDirExists(t, skillFile(e))
	assert.Contains(t, out.String(), "removed")

	reg, err := e.store.Load()
	require.NoError(t, err)
	assert.Empty(t, reg.Skills)
}

func TestUninstallCmd_NotFound(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, false)
	err := runUninstallWith(context.Background(), e, "nonexistent")
	require.Error(t, err)
	assert.Equal(t, exitNotFound, exitCode(err))
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestUninstallCmd_AbsentNameTouchesNothing(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, false)
	require.NoError(t, runInstallWith(context.Background(), e, installRequest(skillURL)))
	before := listDir(t, e.settings.BaseDir)

	err := runUninstallWith(context.Background(), e, "ghost")
	assert.Equal(t, exitNotFound, exitCode(err))
	assert.Equal(t, before, listDir(t, e.settings.BaseDir))
}

func listDir(t *testing.T, root string) map[string]time.Time {
	t.Helper()
	entries := map[string]time.Time{}
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		entries[p] = info.ModTime()
		return nil
	})
	require.NoError(t, err)
	return entries
}

func TestListCmd_JSON(t *testing.T) {
	t.Parallel()

	e, out := setupTestEnv(t, newMockSource(), true, false)
	ctx := context.Background()
	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))

	out.Reset()
	require.NoError(t, runListWith(e))

	var entries []listEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, listEntry{
		Name:       "review",
		SourceURL:  skillURL,
		Repository: "myorg/skills",
		Ref:        "release/v2",
		Path:       "skills/review",
		Commit:     sha1,
	}, entries[0])
}

func TestListCmd_Empty(t *testing.T) {
	t.Parallel()

	e, out := setupTestEnv(t, newMockSource(), false, false)
	require.NoError(t, runListWith(e))
	assert.Contains(t, out.String(), "No skills installed")
}

func TestCheckCmd_AllInSync(t *testing.T) {
	t.Parallel()

	e, out := setupTestEnv(t, newMockSource(), false, false)
	ctx := context.Background()
	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))

	out.Reset()
	require.NoError(t, runCheckWith(ctx, e, true))
	assert.Contains(t, out.String(), "up-to-date")
}

func TestCheckCmd_StaleIsReportedNotFixed(t *testing.T) {
	t.Parallel()

	src := newMockSource()
	e, out := setupTestEnv(t, src, true, false)
	ctx := context.Background()
	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))
	src.advance(sha2)

	out.Reset()
	require.NoError(t, runCheckWith(ctx, e, false))

	var checks []struct {
		Name           string `json:"name"`
		State          string `json:"state"`
		UpstreamCommit string `json:"upstream_commit"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &checks))
	require.Len(t, checks, 1)
	assert.Equal(t, "update-available", checks[0].State)
	assert.Equal(t, sha2, checks[0].UpstreamCommit)

	got, err := os.ReadFile(skillFile(e, "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Review v1\n", string(got), "check never downloads")

	err = runCheckWith(ctx, e, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need attention")
}

func TestCheckCmd_StrictMissingDirectory(t *testing.T) {
	t.Parallel()

	e, _ := setupTestEnv(t, newMockSource(), false, false)
	ctx := context.Background()
	require.NoError(t, runInstallWith(ctx, e, installRequest(skillURL)))
	require.NoError(t, os.RemoveAll(skillFile(e)))

	err := runCheckWith(ctx, e, true)
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("plain"), exitFailure},
		{skillerr.New(skillerr.KindMalformedLocator, "x"), exitMalformed},
		{fmt.Errorf("wrapped: %w", skillerr.New(skillerr.KindNotFound, "x")), exitNotFound},
		{skillerr.New(skillerr.KindReferenceNotFound, "x"), exitNotFound},
		{skillerr.New(skillerr.KindLocalEdits, "x"), exitLocalEdits},
		{skillerr.New(skillerr.KindTransport, "x"), exitFailure},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, exitCode(tc.err), "%v", tc.err)
	}
}

// fakeGitHubAPI serves the REST endpoints used by resolver.GitHub for
// myorg/skills with release/v2 at sha1.
func fakeGitHubAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/myorg/skills/commits/", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/repos/myorg/skills/commits/") != "release/v2" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, sha1)
	})
	mux.HandleFunc("/repos/myorg/skills/contents/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/repos/myorg/skills/contents/")
		if r.URL.Query().Get("ref") != "release/v2" || (path != "skills/review" && path != "skills") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"type":"dir"}`)
	})
	mux.HandleFunc("/repos/myorg/skills/git/trees/"+sha1, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"`+sha1+`","truncated":false,"tree":[
			{"path":"skills","mode":"040000","type":"tree"},
			{"path":"skills/review","mode":"040000","type":"tree"},
			{"path":"skills/review/SKILL.md","mode":"100644","type":"blob"}
		]}`)
	})
	mux.HandleFunc("/raw/myorg/skills/"+sha1+"/skills/review/SKILL.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Review v1\n")
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestRun_EndToEnd(t *testing.T) {
	ts := fakeGitHubAPI(t)
	t.Setenv(config.EnvAPIURL, ts.URL)
	t.Setenv(config.EnvRawURL, ts.URL+"/raw")
	t.Setenv("GITHUB_TOKEN", "test-token")
	for _, k := range []string{"HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy", "HTTP_PROXY", "http_proxy"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	ctx := context.Background()

	var out, errOut bytes.Buffer
	code := run(ctx, []string{"--dir", dir, "install", skillURL}, strings.NewReader(""), &out, &errOut)
	require.Equal(t, exitOK, code, errOut.String())
	assert.FileExists(t, filepath.Join(dir, "skills", "review", "SKILL.md"))

	out.Reset()
	code = run(ctx, []string{"--dir", dir, "--json", "sync"}, strings.NewReader(""), &out, &errOut)
	require.Equal(t, exitOK, code, errOut.String())
	assert.Contains(t, out.String(), `"status": "up-to-date"`)

	out.Reset()
	code = run(ctx, []string{"--dir", dir, "list"}, strings.NewReader(""), &out, &errOut)
	require.Equal(t, exitOK, code, errOut.String())
	assert.Contains(t, out.String(), "myorg/skills@release/v2")

	errOut.Reset()
	code = run(ctx, []string{"--dir", dir, "uninstall", "ghost"}, strings.NewReader(""), &out, &errOut)
	assert.Equal(t, exitNotFound, code)
	assert.Contains(t, errOut.String(), "Error:")

	code = run(ctx, []string{"--dir", dir, "--jobs", "0", "sync"}, strings.NewReader(""), &out, &errOut)
	assert.Equal(t, exitFailure, code)
}

func TestRun_UninstallAbsentStaysOffline(t *testing.T) {
	for _, k := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		t.Setenv(k, "")
	}
	base := filepath.Join(t.TempDir(), "project")

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--dir", base, "uninstall", "ghost"}, strings.NewReader(""), &out, &errOut)
	assert.Equal(t, exitNotFound, code)
	assert.NoDirExists(t, base, "base directory is not created")
	assert.NotContains(t, errOut.String(), "GitHub token", "no client is built")
}

func TestRun_InstallDirectoryOfSkills(t *testing.T) {
	ts := fakeGitHubAPI(t)
	t.Setenv(config.EnvAPIURL, ts.URL)
	t.Setenv(config.EnvRawURL, ts.URL+"/raw")
	t.Setenv("GITHUB_TOKEN", "test-token")
	for _, k := range []string{"HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy", "HTTP_PROXY", "http_proxy"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--dir", dir, "--json", "install", dirSkillsURL},
		strings.NewReader(""), &out, &errOut)
	require.Equal(t, exitOK, code, errOut.String())
	assert.FileExists(t, filepath.Join(dir, "skills", "review", "SKILL.md"))

	data, err := os.ReadFile(filepath.Join(dir, "skills.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `source_url = "`+dirSkillsURL+`/review"`)
	assert.Contains(t, string(data), `path = "skills/review"`)
}
