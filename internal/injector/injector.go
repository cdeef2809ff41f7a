package injector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/integrity"
	"github.com/cbout22/skills-sync/internal/resolver"
	"github.com/cbout22/skills-sync/internal/skillerr"
)

// ManifestFile must exist at the top of every skill directory.
const ManifestFile = "SKILL.md"

const (
	dirPerm  = 0o755
	filePerm = 0o644
	execPerm = 0o755
)

// Injector writes fetched skill directories under skills/ on a billy
// filesystem rooted at the base directory.
type Injector struct {
	fs billy.Filesystem
}

// New creates an Injector.
func New(fs billy.Filesystem) *Injector {
	return &Injector{fs: fs}
}

// Dir returns the skill directory path for name.
func (inj *Injector) Dir(name string) string {
	return config.SkillPath(name)
}

func (inj *Injector) stagingDir(name string) string {
	return config.SkillsDirName + "/." + name + ".tmp"
}

func (inj *Injector) backupDir(name string) string {
	return config.SkillsDirName + "/." + name + ".old"
}

// Exists reports whether the skill directory for name is present.
func (inj *Injector) Exists(name string) (bool, error) {
	info, err := inj.fs.Lstat(inj.Dir(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", inj.Dir(name), err)
	}
	return info.IsDir(), nil
}

// Fingerprint returns the content fingerprint of the installed skill.
func (inj *Injector) Fingerprint(name string) (string, error) {
	return integrity.Fingerprint(inj.fs, inj.Dir(name))
}

// Install writes files into a staging directory, checks that they form a
// skill, and swaps the result into skills/<name>. It returns the fingerprint
// of the installed directory. On error the previous directory is left as it
// was.
func (inj *Injector) Install(name string, files []resolver.File) (string, error) {
	if err := config.ValidateName(name); err != nil {
		return "", err
	}
	if err := checkManifest(files); err != nil {
		return "", err
	}

	staging := inj.stagingDir(name)
	if err := util.RemoveAll(inj.fs, staging); err != nil {
		return "", fmt.Errorf("clearing stale staging dir %s: %w", staging, err)
	}
	if err := inj.fs.MkdirAll(staging, dirPerm); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}

	contents := make(map[string][]byte, len(files))
	for _, f := range files {
		rel, err := cleanRelative(f.Path)
		if err != nil {
			_ = util.RemoveAll(inj.fs, staging)
			return "", err
		}
		if err := inj.writeFile(staging+"/"+rel, f); err != nil {
			_ = util.RemoveAll(inj.fs, staging)
			return "", err
		}
		contents[rel] = f.Data
	}

	fingerprint, err := integrity.Fingerprint(inj.fs, staging)
	if err != nil {
		_ = util.RemoveAll(inj.fs, staging)
		return "", err
	}
	if want := integrity.Sum(contents); fingerprint != want {
		_ = util.RemoveAll(inj.fs, staging)
		return "", fmt.Errorf("staged content of %s does not match download (%s != %s)", name, fingerprint, want)
	}

	if err := inj.swap(name, staging); err != nil {
		_ = util.RemoveAll(inj.fs, staging)
		return "", err
	}
	return fingerprint, nil
}

func (inj *Injector) writeFile(target string, f resolver.File) error {
	if err := inj.fs.MkdirAll(path.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", f.Path, err)
	}
	perm := os.FileMode(filePerm)
	if f.Executable {
		perm = execPerm
	}
	if err := util.WriteFile(inj.fs, target, f.Data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}

// swap moves staging into place, keeping the previous directory until the
// new one is in.
func (inj *Injector) swap(name, staging string) error {
	target := inj.Dir(name)
	backup := inj.backupDir(name)

	exists, err := inj.Exists(name)
	if err != nil {
		return err
	}
	if !exists {
		if err := inj.fs.Rename(staging, target); err != nil {
			return fmt.Errorf("moving %s into place: %w", name, err)
		}
		return nil
	}

	if err := util.RemoveAll(inj.fs, backup); err != nil {
		return fmt.Errorf("clearing %s: %w", backup, err)
	}
	if err := inj.fs.Rename(target, backup); err != nil {
		return fmt.Errorf("moving old %s aside: %w", name, err)
	}
	if err := inj.fs.Rename(staging, target); err != nil {
		if rerr := inj.fs.Rename(backup, target); rerr != nil {
			return fmt.Errorf("moving %s into place: %w (restoring previous copy also failed: %v)", name, err, rerr)
		}
		return fmt.Errorf("moving %s into place: %w", name, err)
	}
	if err := util.RemoveAll(inj.fs, backup); err != nil {
		return fmt.Errorf("removing previous copy of %s: %w", name, err)
	}
	return nil
}

// Remove deletes the skill directory. A missing directory is not an error.
func (inj *Injector) Remove(name string) error {
	if err := config.ValidateName(name); err != nil {
		return err
	}
	if err := util.RemoveAll(inj.fs, inj.Dir(name)); err != nil {
		return fmt.Errorf("removing %s: %w", inj.Dir(name), err)
	}
	return nil
}

// HasManifest reports whether files carry SKILL.md at their top level.
func HasManifest(files []resolver.File) bool {
	for _, f := range files {
		if strings.EqualFold(f.Path, ManifestFile) {
			return true
		}
	}
	return false
}

func checkManifest(files []resolver.File) error {
	if HasManifest(files) {
		return nil
	}
	return skillerr.New(skillerr.KindInvalidSkill, "directory has no %s at its top level", ManifestFile)
}

// Children groups files by their first path segment and keeps the groups
// that form a skill on their own. Paths inside a group are relative to the
// child directory. Names come back sorted; files at the top level are
// dropped.
func Children(files []resolver.File) ([]string, map[string][]resolver.File) {
	groups := make(map[string][]resolver.File)
	for _, f := range files {
		clean := path.Clean(strings.ReplaceAll(f.Path, `\`, "/"))
		dir, rest, ok := strings.Cut(clean, "/")
		if !ok || dir == "" || rest == "" {
			continue
		}
		f.Path = rest
		groups[dir] = append(groups[dir], f)
	}

	names := make([]string, 0, len(groups))
	for dir, group := range groups {
		if !HasManifest(group) {
			delete(groups, dir)
			continue
		}
		names = append(names, dir)
	}
	sort.Strings(names)
	return names, groups
}

// cleanRelative rejects paths that would escape the skill directory.
func cleanRelative(p string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", skillerr.New(skillerr.KindInvalidSkill, "unsafe file path %q", p)
	}
	return clean, nil
}
