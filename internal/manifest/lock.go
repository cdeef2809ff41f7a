package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/skillerr"
)

// DefaultLockFile guards the registry against concurrent mutating runs.
const DefaultLockFile = config.RegistryFileName + ".lock"

// DefaultStaleAfter is the age after which a lock is assumed abandoned.
const DefaultStaleAfter = 10 * time.Minute

// LockInfo is the JSON body of the lock file.
type LockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Locker acquires the advisory registry lock.
type Locker struct {
	FS         billy.Filesystem
	Path       string
	StaleAfter time.Duration
	Now        func() time.Time
}

// NewLocker returns a Locker for skills.toml.lock at the root of fs.
func NewLocker(fs billy.Filesystem) *Locker {
	return &Locker{FS: fs, Path: DefaultLockFile, StaleAfter: DefaultStaleAfter, Now: time.Now}
}

// Lock is a held registry lock.
type Lock struct {
	fs   billy.Filesystem
	path string
	now  func() time.Time

	mu   sync.Mutex
	Info LockInfo
}

// Acquire creates the lock file exclusively. A lock older than StaleAfter is
// replaced; a live one yields a REGISTRY_ERROR naming its holder.
func (l *Locker) Acquire() (*Lock, error) {
	now := l.now()
	host, _ := os.Hostname()
	info := LockInfo{PID: os.Getpid(), Host: host, AcquiredAt: now.UTC().Truncate(time.Second)}

	for attempt := 0; attempt < 2; attempt++ {
		err := l.create(info)
		if err == nil {
			return &Lock{fs: l.FS, path: l.Path, now: l.now, Info: info}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, skillerr.Wrap(skillerr.KindRegistry, err, "creating %s", l.Path)
		}

		held, acquiredAt := l.holder()
		if now.Sub(acquiredAt) < l.staleAfter() {
			return nil, skillerr.New(skillerr.KindRegistry,
				"registry is locked by pid %d on %q since %s (remove %s if no other run is active)",
				held.PID, held.Host, acquiredAt.Format(time.RFC3339), l.Path)
		}
		if err := l.FS.Remove(l.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, skillerr.Wrap(skillerr.KindRegistry, err, "removing stale %s", l.Path)
		}
	}
	return nil, skillerr.New(skillerr.KindRegistry, "could not acquire %s", l.Path)
}

func (l *Locker) create(info LockInfo) error {
	return writeLock(l.FS, l.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info)
}

func writeLock(bfs billy.Filesystem, path string, flag int, info LockInfo) error {
	f, err := bfs.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// holder reads the current lock body. An unreadable body falls back to the
// file's modification time.
func (l *Locker) holder() (LockInfo, time.Time) {
	var info LockInfo
	data, err := util.ReadFile(l.FS, l.Path)
	if err == nil && json.Unmarshal(data, &info) == nil && !info.AcquiredAt.IsZero() {
		return info, info.AcquiredAt
	}
	if st, err := l.FS.Stat(l.Path); err == nil {
		return info, st.ModTime()
	}
	return info, time.Time{}
}

func (l *Locker) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Locker) staleAfter() time.Duration {
	if l.StaleAfter > 0 {
		return l.StaleAfter
	}
	return DefaultStaleAfter
}

// Refresh stamps the lock with the current time so a run that is still
// working, such as one waiting on a prompt, is not taken for abandoned.
func (k *Lock) Refresh() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	info := k.Info
	info.AcquiredAt = k.now().UTC().Truncate(time.Second)
	if err := writeLock(k.fs, k.path, os.O_WRONLY|os.O_TRUNC, info); err != nil {
		return skillerr.Wrap(skillerr.KindRegistry, err, "refreshing %s", k.path)
	}
	k.Info = info
	return nil
}

// KeepAlive refreshes the lock now and then every interval until stop is
// called or ctx ends. Refresh failures are passed to onErr, which may be nil.
func (k *Lock) KeepAlive(ctx context.Context, every time.Duration, onErr func(error)) (stop func()) {
	report := func(err error) {
		if err != nil && onErr != nil {
			onErr(err)
		}
	}
	report(k.Refresh())

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				report(k.Refresh())
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Release removes the lock file.
func (k *Lock) Release() error {
	if err := k.fs.Remove(k.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("releasing %s: %w", k.path, err)
	}
	return nil
}
