package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/skillerr"
)

// CurrentVersion is the registry format version written by Save.
const CurrentVersion = 1

// SkillRecord is the persisted state of one installed skill.
type SkillRecord struct {
	Name        string    `toml:"-"`
	Owner       string    `toml:"owner"`
	Repository  string    `toml:"repository"`
	Ref         string    `toml:"ref"`
	Path        string    `toml:"path"`
	Commit      string    `toml:"commit"`
	Fingerprint string    `toml:"fingerprint"`
	SourceURL   string    `toml:"source_url"`
	InstalledAt time.Time `toml:"installed_at"`
}

// Reference returns the record's commit-pinned source.
func (r SkillRecord) Reference() config.ResolvedReference {
	return config.ResolvedReference{
		Owner:      r.Owner,
		Repository: r.Repository,
		Ref:        r.Ref,
		Path:       r.Path,
		Commit:     r.Commit,
	}
}

// SameSource reports whether r and ref name the same (owner, repo, ref, path).
func (r SkillRecord) SameSource(ref config.ResolvedReference) bool {
	return r.Owner == ref.Owner && r.Repository == ref.Repository && r.Ref == ref.Ref && r.Path == ref.Path
}

// NewRecord builds a record for a freshly installed skill.
func NewRecord(name string, ref config.ResolvedReference, fingerprint, sourceURL string, at time.Time) SkillRecord {
	return SkillRecord{
		Name:        name,
		Owner:       ref.Owner,
		Repository:  ref.Repository,
		Ref:         ref.Ref,
		Path:        ref.Path,
		Commit:      ref.Commit,
		Fingerprint: fingerprint,
		SourceURL:   sourceURL,
		InstalledAt: at.UTC().Truncate(time.Second),
	}
}

// Registry is the whole skills.toml document. It is handled as a value:
// With and Without return modified copies.
type Registry struct {
	Version int                    `toml:"version"`
	Skills  map[string]SkillRecord `toml:"skills"`
}

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return Registry{Version: CurrentVersion, Skills: map[string]SkillRecord{}}
}

// Get returns the record for name.
func (r Registry) Get(name string) (SkillRecord, bool) {
	rec, ok := r.Skills[name]
	if ok {
		rec.Name = name
	}
	return rec, ok
}

// Names returns skill names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r.Skills))
	for n := range r.Skills {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Records returns every record sorted by name.
func (r Registry) Records() []SkillRecord {
	out := make([]SkillRecord, 0, len(r.Skills))
	for _, n := range r.Names() {
		rec, _ := r.Get(n)
		out = append(out, rec)
	}
	return out
}

// Clone returns a deep copy.
func (r Registry) Clone() Registry {
	c := Registry{Version: r.Version, Skills: make(map[string]SkillRecord, len(r.Skills))}
	for k, v := range r.Skills {
		c.Skills[k] = v
	}
	return c
}

// With returns a copy with rec stored under rec.Name.
func (r Registry) With(rec SkillRecord) Registry {
	c := r.Clone()
	c.Skills[rec.Name] = rec
	return c
}

// Without returns a copy with name removed.
func (r Registry) Without(name string) Registry {
	c := r.Clone()
	delete(c.Skills, name)
	return c
}

// Equal reports whether both registries hold the same records.
func (r Registry) Equal(o Registry) bool {
	if r.Version != o.Version || len(r.Skills) != len(o.Skills) {
		return false
	}
	for k, a := range r.Skills {
		b, ok := o.Skills[k]
		if !ok {
			return false
		}
		a.Name, b.Name = "", ""
		if !a.InstalledAt.Equal(b.InstalledAt) {
			return false
		}
		a.InstalledAt, b.InstalledAt = time.Time{}, time.Time{}
		if a != b {
			return false
		}
	}
	return true
}

// Store persists a Registry as TOML on a billy filesystem.
type Store struct {
	FS   billy.Filesystem
	Path string
}

// NewStore returns a store for skills.toml at the root of fs.
func NewStore(fs billy.Filesystem) *Store {
	return &Store{FS: fs, Path: config.RegistryFileName}
}

// Load reads the registry. A missing file yields an empty registry.
func (s *Store) Load() (Registry, error) {
	data, err := util.ReadFile(s.FS, s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewRegistry(), nil
		}
		return Registry{}, skillerr.Wrap(skillerr.KindRegistry, err, "reading %s", s.Path)
	}

	var reg Registry
	if err := toml.Unmarshal(data, &reg); err != nil {
		return Registry{}, skillerr.Wrap(skillerr.KindRegistry, err, "parsing %s", s.Path)
	}
	if reg.Version == 0 {
		reg.Version = CurrentVersion
	}
	if reg.Version > CurrentVersion {
		return Registry{}, skillerr.New(skillerr.KindRegistry,
			"%s has format version %d, this build understands up to %d", s.Path, reg.Version, CurrentVersion)
	}
	if reg.Skills == nil {
		reg.Skills = map[string]SkillRecord{}
	}
	for name, rec := range reg.Skills {
		if err := config.ValidateName(name); err != nil {
			return Registry{}, skillerr.Wrap(skillerr.KindRegistry, err, "parsing %s", s.Path)
		}
		rec.Name = name
		reg.Skills[name] = rec
	}
	return reg, nil
}

// Encode renders the registry as TOML.
func Encode(reg Registry) ([]byte, error) {
	if reg.Skills == nil {
		reg.Skills = map[string]SkillRecord{}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(reg); err != nil {
		return nil, fmt.Errorf("encoding registry: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the registry atomically: a temp file in the same directory is
// renamed over the target.
func (s *Store) Save(reg Registry) error {
	data, err := Encode(reg)
	if err != nil {
		return skillerr.Wrap(skillerr.KindRegistry, err, "saving %s", s.Path)
	}

	f, err := util.TempFile(s.FS, path.Dir(s.Path), "."+path.Base(s.Path)+"-")
	if err != nil {
		return skillerr.Wrap(skillerr.KindRegistry, err, "creating temp file for %s", s.Path)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.FS.Remove(tmp)
		return skillerr.Wrap(skillerr.KindRegistry, err, "writing %s", tmp)
	}
	if err := f.Close(); err != nil {
		_ = s.FS.Remove(tmp)
		return skillerr.Wrap(skillerr.KindRegistry, err, "closing %s", tmp)
	}
	if err := s.FS.Rename(tmp, s.Path); err != nil {
		_ = s.FS.Remove(tmp)
		return skillerr.Wrap(skillerr.KindRegistry, err, "replacing %s", s.Path)
	}
	return nil
}
