package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/cbout22/skills-sync/internal/auth"
	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/injector"
	"github.com/cbout22/skills-sync/internal/logging"
	"github.com/cbout22/skills-sync/internal/manifest"
	"github.com/cbout22/skills-sync/internal/resolver"
	"github.com/cbout22/skills-sync/internal/syncer"
)

// env is everything a command needs once flags are parsed.
type env struct {
	settings config.Settings
	fs       billy.Filesystem
	store    *manifest.Store
	locker   *manifest.Locker
	// source builds its HTTP client on first use, so commands that never
	// resolve or fetch stay offline.
	source  resolver.SourceRepository
	confirm syncer.Confirmer
	out     *printer
	now     func() time.Time
}

// newEnv roots a filesystem at the resolved base directory. create makes the
// directory first, for commands that write to it.
func newEnv(s config.Settings, create bool, in io.Reader, out, errOut io.Writer) (*env, error) {
	base := s.BaseDir
	if create {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", base, err)
		}
	}
	// BoundOS checks paths against the real base path.
	if real, err := filepath.EvalSymlinks(base); err == nil {
		base = real
	}
	bfs := osfs.New(base, osfs.WithBoundOS())

	var confirm syncer.Confirmer = newPrompter(in, errOut)
	if s.AssumeYes {
		confirm = syncer.AssumeYes
	}
	return &env{
		settings: s,
		fs:       bfs,
		store:    manifest.NewStore(bfs),
		locker:   manifest.NewLocker(bfs),
		source:   newLazySource(s),
		confirm:  confirm,
		out:      &printer{w: out, json: s.JSON},
		now:      time.Now,
	}, nil
}

func (e *env) newSyncer(confirm syncer.Confirmer) *syncer.Syncer {
	res := resolver.New(e.source, resolver.WithAmbiguityDetection(e.settings.DetectAmbiguity))
	return syncer.New(res, injector.New(e.fs), syncer.Options{
		Jobs:      e.settings.Jobs,
		Confirmer: confirm,
		Now:       e.now,
	})
}

type mutation func(s *syncer.Syncer, reg manifest.Registry) (manifest.Registry, syncer.Report, error)

// mutate runs fn under the registry lock and saves the registry when fn
// changed it. The registry is saved even when fn also returns an error, so
// skills that did succeed stay recorded.
func (e *env) mutate(ctx context.Context, fn mutation) (syncer.Report, error) {
	lock, err := e.locker.Acquire()
	if err != nil {
		return syncer.Report{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logging.Ctx(ctx).Warn("releasing registry lock", "err", err)
		}
	}()

	reg, err := e.store.Load()
	if err != nil {
		return syncer.Report{}, err
	}

	s := e.newSyncer(lockedConfirmer{Confirmer: e.confirm, lock: lock, every: e.refreshEvery()})
	next, report, runErr := fn(s, reg)
	if !next.Equal(reg) {
		if err := e.store.Save(next); err != nil {
			return report, fmt.Errorf("saving %s: %w", e.store.Path, err)
		}
		logging.Ctx(ctx).Debug("registry saved", "path", e.store.Path, "skills", len(next.Skills))
	}
	return report, runErr
}

func (e *env) refreshEvery() time.Duration {
	stale := e.locker.StaleAfter
	if stale <= 0 {
		stale = manifest.DefaultStaleAfter
	}
	return stale / 3
}

// lockedConfirmer keeps the registry lock fresh while a question waits on
// the user, so a second run does not take the lock over as stale.
type lockedConfirmer struct {
	syncer.Confirmer
	lock  *manifest.Lock
	every time.Duration
}

func (c lockedConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	stop := c.lock.KeepAlive(ctx, c.every, func(err error) {
		logging.Ctx(ctx).Warn("refreshing registry lock", "err", err)
	})
	defer stop()
	return c.Confirmer.Confirm(ctx, prompt)
}

// lazySource defers building the authenticated GitHub client, and its
// missing-token warning, until a resolve or fetch needs it.
type lazySource struct {
	once  sync.Once
	build func(ctx context.Context) (resolver.SourceRepository, error)
	src   resolver.SourceRepository
	err   error
}

func newLazySource(s config.Settings) *lazySource {
	return &lazySource{build: func(ctx context.Context) (resolver.SourceRepository, error) {
		client, err := auth.NewHTTPClient(ctx)
		if err != nil {
			return nil, err
		}
		return resolver.NewGitHub(client, s.APIURL, s.RawURL), nil
	}}
}

func (l *lazySource) get(ctx context.Context) (resolver.SourceRepository, error) {
	l.once.Do(func() { l.src, l.err = l.build(ctx) })
	return l.src, l.err
}

func (l *lazySource) RefExists(ctx context.Context, owner, repo, ref string) (bool, error) {
	src, err := l.get(ctx)
	if err != nil {
		return false, err
	}
	return src.RefExists(ctx, owner, repo, ref)
}

func (l *lazySource) PathIsDirectory(ctx context.Context, owner, repo, ref, path string) (bool, error) {
	src, err := l.get(ctx)
	if err != nil {
		return false, err
	}
	return src.PathIsDirectory(ctx, owner, repo, ref, path)
}

func (l *lazySource) ResolveCommit(ctx context.Context, owner, repo, ref string) (string, error) {
	src, err := l.get(ctx)
	if err != nil {
		return "", err
	}
	return src.ResolveCommit(ctx, owner, repo, ref)
}

func (l *lazySource) FetchTree(ctx context.Context, owner, repo, commit, path string) ([]resolver.File, error) {
	src, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return src.FetchTree(ctx, owner, repo, commit, path)
}
