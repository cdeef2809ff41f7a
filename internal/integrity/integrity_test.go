package integrity

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, bfs billy.Filesystem, dir string, files map[string]string, order []string) {
	t.Helper()
	for _, name := range order {
		require.NoError(t, util.WriteFile(bfs, dir+"/"+name, []byte(files[name]), 0o644))
	}
}

var sample = map[string]string{
	"SKILL.md":          "# skill\n",
	"scripts/run.sh":    "#!/bin/sh\necho hi\n",
	"docs/deep/note.md": "note",
}

func TestFingerprint_Format(t *testing.T) {
	t.Parallel()

	bfs := memfs.New()
	writeFiles(t, bfs, "skill", sample, []string{"SKILL.md", "scripts/run.sh", "docs/deep/note.md"})

	fp, err := Fingerprint(bfs, "skill")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fp, Prefix))
	assert.Len(t, fp, len(Prefix)+64)
}

func TestFingerprint_IndependentOfCreationOrder(t *testing.T) {
	t.Parallel()

	a, b := memfs.New(), memfs.New()
	writeFiles(t, a, "skill", sample, []string{"SKILL.md", "scripts/run.sh", "docs/deep/note.md"})
	writeFiles(t, b, "skill", sample, []string{"docs/deep/note.md", "scripts/run.sh", "SKILL.md"})

	fa, err := Fingerprint(a, "skill")
	require.NoError(t, err)
	fb, err := Fingerprint(b, "skill")
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestFingerprint_Idempotent(t *testing.T) {
	t.Parallel()

	bfs := memfs.New()
	writeFiles(t, bfs, "skill", sample, []string{"SKILL.md", "scripts/run.sh", "docs/deep/note.md"})

	first, err := Fingerprint(bfs, "skill")
	require.NoError(t, err)
	second, err := Fingerprint(bfs, "skill")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFingerprint_SensitiveToContentAndRename(t *testing.T) {
	t.Parallel()

	base := memfs.New()
	writeFiles(t, base, "skill", sample, []string{"SKILL.md", "scripts/run.sh", "docs/deep/note.md"})
	want, err := Fingerprint(base, "skill")
	require.NoError(t, err)

	edited := memfs.New()
	writeFiles(t, edited, "skill", sample, []string{"SKILL.md", "scripts/run.sh", "docs/deep/note.md"})
	require.NoError(t, util.WriteFile(edited, "skill/docs/deep/note.md", []byte("notE"), 0o644))
	got, err := Fingerprint(edited, "skill")
	require.NoError(t, err)
	assert.NotEqual(t, want, got, "one changed byte must change the fingerprint")

	renamed := memfs.New()
	writeFiles(t, renamed, "skill", sample, []string{"SKILL.md", "scripts/run.sh", "docs/deep/note.md"})
	require.NoError(t, renamed.Rename("skill/docs/deep/note.md", "skill/docs/deep/note2.md"))
	got, err = Fingerprint(renamed, "skill")
	require.NoError(t, err)
	assert.NotEqual(t, want, got, "a rename must change the fingerprint")
}

func TestFingerprint_IgnoresPermissions(t *testing.T) {
	t.Parallel()

	a, b := memfs.New(), memfs.New()
	require.NoError(t, util.WriteFile(a, "skill/run.sh", []byte("x"), 0o644))
	require.NoError(t, util.WriteFile(b, "skill/run.sh", []byte("x"), 0o755))

	fa, err := Fingerprint(a, "skill")
	require.NoError(t, err)
	fb, err := Fingerprint(b, "skill")
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestFingerprint_SkipsSymlinks(t *testing.T) {
	t.Parallel()

	plain := memfs.New()
	require.NoError(t, util.WriteFile(plain, "skill/SKILL.md", []byte("x"), 0o644))
	want, err := Fingerprint(plain, "skill")
	require.NoError(t, err)

	linked := memfs.New()
	require.NoError(t, util.WriteFile(linked, "skill/SKILL.md", []byte("x"), 0o644))
	require.NoError(t, linked.Symlink("SKILL.md", "skill/alias.md"))
	got, err := Fingerprint(linked, "skill")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFingerprint_EmptyAndMissing(t *testing.T) {
	t.Parallel()

	bfs := memfs.New()
	require.NoError(t, bfs.MkdirAll("skill/empty", 0o755))

	fp, err := Fingerprint(bfs, "skill")
	require.NoError(t, err)
	assert.Equal(t, Empty, fp)

	_, err = Fingerprint(bfs, "absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSum_MatchesFingerprint(t *testing.T) {
	t.Parallel()

	bfs := memfs.New()
	writeFiles(t, bfs, "skill", sample, []string{"SKILL.md", "scripts/run.sh", "docs/deep/note.md"})
	fp, err := Fingerprint(bfs, "skill")
	require.NoError(t, err)

	mem := map[string][]byte{}
	for k, v := range sample {
		mem[k] = []byte(v)
	}
	assert.Equal(t, fp, Sum(mem))
	assert.Equal(t, Empty, Sum(nil))
}
