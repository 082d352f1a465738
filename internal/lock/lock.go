// Package lock keeps a single herald daemon per directory.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrHeld is returned by TryLock when another process holds the lock.
var ErrHeld = errors.New("lock held by another process")

// Holder is what the lock owner writes into the file: its PID on the first
// line and the time it took the lock on the second.
type Holder struct {
	PID   int
	Since time.Time
}

// FileLock is an advisory flock on a file that also records its Holder.
// The lock dies with the process, so a crashed daemon leaves only a stale
// file behind.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) Path() string { return fl.path }

func (fl *FileLock) TryLock() error {
	if fl.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := flockFile(fl.path, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return err
	}
	h := Holder{PID: os.Getpid(), Since: time.Now().UTC()}
	if err := h.writeTo(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return err
	}
	fl.file = f
	return nil
}

// flockFile opens path and takes a non-blocking exclusive flock on it.
func flockFile(path string, flag int) (*os.File, error) {
	f, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("acquire %s (another daemon may be running): %w", filepath.Base(path), ErrHeld)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return f, nil
}

func (h Holder) writeTo(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n%s\n", h.PID, h.Since.Format(time.RFC3339))), 0); err != nil {
		return fmt.Errorf("write lock holder: %w", err)
	}
	return f.Sync()
}

// Unlock releases the lock and removes the file. Unlocking an unheld lock
// is a no-op.
func (fl *FileLock) Unlock() error {
	f := fl.file
	if f == nil {
		return nil
	}
	fl.file = nil

	// remove while still holding the lock so no new holder loses its file
	_ = os.Remove(fl.path)
	unlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("release lock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	return nil
}

// ReadHolder parses the holder recorded at path. It does not check that
// the lock is still held; see Held. A missing timestamp line is allowed.
func ReadHolder(path string) (Holder, error) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, err
	}
	defer func() { _ = f.Close() }()

	var h Holder
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return h, fmt.Errorf("lock file %s is empty", path)
	}
	if h.PID, err = strconv.Atoi(strings.TrimSpace(sc.Text())); err != nil {
		return h, fmt.Errorf("parse lock file %s: %w", path, err)
	}
	if sc.Scan() {
		if since, err := time.Parse(time.RFC3339, strings.TrimSpace(sc.Text())); err == nil {
			h.Since = since
		}
	}
	return h, nil
}

// Held reports whether some process currently holds the lock at path.
func Held(path string) (bool, error) {
	f, err := flockFile(path, os.O_RDONLY)
	switch {
	case errors.Is(err, ErrHeld):
		return true, nil
	case err != nil:
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false, f.Close()
}
