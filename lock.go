package historify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// lockFileName is the well-known advisory lockfile inside the repository's
// metadata directory (spec.md §5).
const lockFileName = "lock"

// lockRetryInterval and lockWaitBudget bound how long a RepoLock acquire
// waits before failing fast with RepoBusy (spec.md §5: "fails fast ...
// after a small, bounded wait").
const (
	lockRetryInterval = 50 * time.Millisecond
	lockWaitBudget    = 500 * time.Millisecond
)

// RepoLock is the repository-wide advisory lock guarding write-capable
// commands (exclusive) and read-only commands (shared), held for the full
// duration of one command (spec.md §5).
type RepoLock struct {
	path  string
	f     *os.File
	token string
}

// NewRepoLock binds a RepoLock to its repository's metadata directory.
func NewRepoLock(dbDir string) *RepoLock {
	return &RepoLock{path: filepath.Join(dbDir, lockFileName)}
}

// AcquireExclusive takes the write lock, used by scan/closing/comment/config
// and any snapshot that touches logs.
func (l *RepoLock) AcquireExclusive() error { return l.acquire(syscall.LOCK_EX) }

// AcquireShared takes the read lock, used by verify (without --rebuild),
// status, log, and duplicates.
func (l *RepoLock) AcquireShared() error { return l.acquire(syscall.LOCK_SH) }

func (l *RepoLock) acquire(how int) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return wrap(KindIOError, "lock: open", err)
	}

	deadline := time.Now().Add(lockWaitBudget)
	for {
		err := syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) || time.Now().After(deadline) {
			f.Close()
			return wrap(KindRepoBusy, "lock: acquire", fmt.Errorf("repository is locked by another process: %w", err))
		}
		time.Sleep(lockRetryInterval)
	}

	l.f = f
	if how == syscall.LOCK_EX {
		l.token = uuid.NewString()
		_ = f.Truncate(0)
		_, _ = f.WriteAt([]byte(l.token+"\n"), 0)
	}
	return nil
}

// Release drops the lock and closes the underlying file descriptor.
func (l *RepoLock) Release() error {
	if l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return wrap(KindIOError, "lock: release", err)
	}
	return wrap(KindIOError, "lock: close", closeErr)
}

// Token returns this acquisition's holder UUID, set only by
// AcquireExclusive (spec.md names no shared-lock holder identity
// requirement, since readers never conflict with each other).
func (l *RepoLock) Token() string { return l.token }
