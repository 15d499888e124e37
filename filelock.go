package main

import (
	"fmt"
	"os"
	"time"
)

const (
	// How long a writer waits for the token file lock before giving up.
	lockWaitTimeout = 5 * time.Second
	lockPollDelay   = 100 * time.Millisecond

	// A lock file older than this belongs to a dead process and is reclaimed.
	staleLockAge = 30 * time.Second
)

// tokenFileLock guards the shared token file against writers in other
// processes. It is a plain O_EXCL lock file created next to the token file.
type tokenFileLock struct {
	path string
	file *os.File
}

// lockTokenFile takes the cross-process lock for path. It polls until the
// lock is free, reclaims locks left behind by crashed processes, and gives
// up after lockWaitTimeout.
func lockTokenFile(path string) (*tokenFileLock, error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(lockWaitTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// The owner's PID makes a leftover lock attributable.
			fmt.Fprintf(f, "%d", os.Getpid())
			return &tokenFileLock{path: lockPath, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		// Lock exists. Reclaim it when the owner looks dead, tolerating
		// another process reclaiming it first.
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out after %v waiting for lock on %s", lockWaitTimeout, path)
		}
		time.Sleep(lockPollDelay)
	}
}

// unlock releases the lock. The token file itself is untouched.
func (l *tokenFileLock) unlock() error {
	if l.file != nil {
		l.file.Close()
	}
	return os.Remove(l.path)
}
