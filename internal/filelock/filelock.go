// Package filelock serializes cross-process access to shared data files using
// ".bsy" marker files created with O_EXCL. Every node process on the board
// uses the same convention, so a lock taken here is honoured by every other
// node touching the same file.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/stlalpha/mailcore/internal/logging"
)

// ErrTimeout is returned when the lock could not be taken before the deadline.
var ErrTimeout = errors.New("filelock: timeout waiting for lock")

var (
	retryDelay = 50 * time.Millisecond
	timeout    = 30 * time.Second
	staleAfter = 10 * time.Minute
	settingsMu sync.RWMutex // Protects the tunables above for test access
)

// SetTimings overrides the retry delay, acquire timeout and stale threshold.
// Zero values leave the current setting in place.
func SetTimings(retry, wait, stale time.Duration) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	if retry > 0 {
		retryDelay = retry
	}
	if wait > 0 {
		timeout = wait
	}
	if stale > 0 {
		staleAfter = stale
	}
}

// Path returns the lock marker path guarding target.
func Path(target string) string {
	return target + ".bsy"
}

// Acquire takes the lock guarding target and returns a release func that
// must be called to drop it.
func Acquire(fs afero.Fs, target string) (func(), error) {
	lockPath := Path(target)

	settingsMu.RLock()
	wait := timeout
	retry := retryDelay
	stale := staleAfter
	settingsMu.RUnlock()

	deadline := time.Now().Add(wait)

	for {
		f, err := fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "pid=%d time=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			_ = f.Close()
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("filelock: lock %s: %w", lockPath, err)
		}

		if info, statErr := fs.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > stale {
				logging.Warn("Removing stale lock %s (age %s)", lockPath, time.Since(info.ModTime()).Round(time.Second))
				_ = fs.Remove(lockPath)
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w %s", ErrTimeout, lockPath)
		}
		time.Sleep(retry)
	}
	return func() {
		_ = fs.Remove(lockPath)
	}, nil
}

// With runs fn while holding the lock guarding target.
func With(fs afero.Fs, target string, fn func() error) error {
	release, err := Acquire(fs, target)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
