// Package snapshot publishes the latest JPEG snapshot to a well-known path.
//
// A snapshot is written to a temporary file under an exclusive advisory lock,
// synced, and renamed over the public path. Readers therefore see either the
// previous complete image or the new complete image, never a partial one.
package snapshot

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/ipcam/streamworker/internal/errors"
)

// ComponentSnapshot identifies snapshot errors
const ComponentSnapshot = "snapshot"

const (
	filePermissions = 0o644
	lockRetryDelay  = 10 * time.Millisecond
	// lockTimeout bounds how long a publish waits for readers holding the lock.
	lockTimeout = 500 * time.Millisecond
)

// Stage names the publish step that failed.
type Stage string

const (
	StageOpen   Stage = "open"
	StageLock   Stage = "lock"
	StageWrite  Stage = "write"
	StageSync   Stage = "sync"
	StageRename Stage = "rename"
)

// Publisher replaces the snapshot file atomically.
type Publisher struct {
	path     string
	tempPath string
	// rename is os.Rename; tests substitute it.
	rename func(oldpath, newpath string) error
}

// NewPublisher returns a publisher for path. An empty tempPath means
// path + ".tmp"; it must be on the same filesystem as path.
func NewPublisher(path, tempPath string) *Publisher {
	if tempPath == "" {
		tempPath = path + ".tmp"
	}
	return &Publisher{
		path:     path,
		tempPath: tempPath,
		rename:   os.Rename,
	}
}

// Path returns the public snapshot path.
func (p *Publisher) Path() string { return p.path }

// TempPath returns the staging path.
func (p *Publisher) TempPath() string { return p.tempPath }

// Publish runs write against the locked temporary file and, if every step
// succeeds, renames it over the public path. On any failure after the open
// the temporary file is removed and the previous snapshot stays in place.
// It returns the number of bytes published.
func (p *Publisher) Publish(ctx context.Context, write func(w io.Writer) error) (n int64, err error) {
	f, err := os.OpenFile(p.tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, filePermissions) //nolint:gosec // path comes from config
	if err != nil {
		return 0, p.stageError(StageOpen, errors.FileError(err, p.tempPath, 0))
	}

	lock := flock.New(p.tempPath)
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	cancel()
	if err != nil || !locked {
		_ = f.Close()
		if err == nil {
			err = errors.NewStd("snapshot temp file is locked")
		}
		return 0, p.stageError(StageLock, err)
	}

	cw := &countingWriter{w: f}
	failed := func(stage Stage, cause error) (int64, error) {
		_ = lock.Unlock()
		_ = f.Close()
		_ = os.Remove(p.tempPath)
		return 0, p.stageError(stage, cause)
	}

	if err := write(cw); err != nil {
		return failed(StageWrite, err)
	}
	if err := f.Sync(); err != nil {
		return failed(StageSync, errors.FileError(err, p.tempPath, cw.n))
	}

	unlockErr := lock.Unlock()
	closeErr := f.Close()
	if err := errors.Join(unlockErr, closeErr); err != nil {
		_ = os.Remove(p.tempPath)
		return 0, p.stageError(StageWrite, err)
	}

	if err := p.rename(p.tempPath, p.path); err != nil {
		_ = os.Remove(p.tempPath)
		return 0, p.stageError(StageRename, errors.FileError(err, p.path, 0))
	}

	syncDir(filepath.Dir(p.path))
	return cw.n, nil
}

func (p *Publisher) stageError(stage Stage, err error) error {
	return errors.New(err).
		Component(ComponentSnapshot).
		Category(errors.CategorySnapshot).
		Context("stage", string(stage)).
		FileContext(p.path, 0).
		Build()
}

// StageOf returns the failed publish stage of err, or "".
func StageOf(err error) Stage {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return ""
	}
	s, _ := ee.GetContext()["stage"].(string)
	return Stage(s)
}

// syncDir persists the rename. Failure only weakens durability across power loss.
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // directory of the configured path
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
