package main

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockTokenFile_AcquireAndUnlock(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "tokens.json")

	lock, err := lockTokenFile(tokenPath)
	if err != nil {
		t.Fatalf("Failed to take lock: %v", err)
	}

	lockPath := tokenPath + ".lock"
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Errorf("Lock file was not created")
	}

	if err := lock.unlock(); err != nil {
		t.Errorf("Failed to unlock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file still present after unlock")
	}
}

func TestLockTokenFile_SerializesWriters(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "tokens.json")

	const writers = 10
	const rounds = 5

	var (
		completed atomic.Int32
		wg        sync.WaitGroup
	)

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(id int) {
			defer wg.Done()

			for j := 0; j < rounds; j++ {
				lock, err := lockTokenFile(tokenPath)
				if err != nil {
					t.Errorf("Writer %d round %d: failed to take lock: %v", id, j, err)
					return
				}

				// Hold the lock briefly, like a persist would.
				time.Sleep(10 * time.Millisecond)
				completed.Add(1)

				if err := lock.unlock(); err != nil {
					t.Errorf("Writer %d round %d: failed to unlock: %v", id, j, err)
					return
				}
			}
		}(i)
	}

	wg.Wait()

	if got, want := completed.Load(), int32(writers*rounds); got != want {
		t.Errorf("Expected %d completed rounds, got %d", want, got)
	}
	if _, err := os.Stat(tokenPath + ".lock"); !os.IsNotExist(err) {
		t.Errorf("Lock file left behind after all writers finished")
	}
}

func TestLockTokenFile_ReclaimsStaleLock(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	lockPath := tokenPath + ".lock"

	// Plant a lock whose owner died a while ago.
	stale, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("Failed to plant stale lock: %v", err)
	}
	stale.Close()

	abandoned := time.Now().Add(-(staleLockAge + 5*time.Second))
	if err := os.Chtimes(lockPath, abandoned, abandoned); err != nil {
		t.Fatalf("Failed to age the stale lock: %v", err)
	}

	lock, err := lockTokenFile(tokenPath)
	if err != nil {
		t.Fatalf("Failed to reclaim stale lock: %v", err)
	}
	defer lock.unlock()

	if lock.file == nil {
		t.Errorf("Lock file handle is nil")
	}
}

func TestLockTokenFile_WaitsForActiveLock(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "tokens.json")

	first, err := lockTokenFile(tokenPath)
	if err != nil {
		t.Fatalf("Failed to take first lock: %v", err)
	}
	defer first.unlock()

	errChan := make(chan error, 1)
	go func() {
		second, err := lockTokenFile(tokenPath)
		if err != nil {
			errChan <- err
			return
		}
		second.unlock()
		errChan <- nil
	}()

	// The second writer must still be polling while the first holds on.
	time.Sleep(200 * time.Millisecond)
	select {
	case <-errChan:
		t.Errorf("Second lock acquired while first was still held")
	default:
	}

	first.unlock()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Second lock failed after first was released: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Errorf("Second lock still waiting after first was released")
	}
}

func TestLockTokenFile_GivesUpOnHeldLock(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping lock timeout test in short mode")
	}

	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	lockPath := tokenPath + ".lock"

	// A fresh lock that nobody releases.
	held, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("Failed to plant held lock: %v", err)
	}
	held.Close()

	start := time.Now()
	_, err = lockTokenFile(tokenPath)
	waited := time.Since(start)

	if err == nil {
		t.Fatalf("Expected a timeout error, but the lock was acquired")
	}
	if waited < lockWaitTimeout-time.Second || waited > lockWaitTimeout+2*time.Second {
		t.Errorf("Expected to give up after about %v, waited %v", lockWaitTimeout, waited)
	}

	os.Remove(lockPath)
}

func TestLockTokenFile_MissingDirectoryFailsFast(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "no-such-dir", "tokens.json")

	start := time.Now()
	_, err := lockTokenFile(tokenPath)
	waited := time.Since(start)

	if err == nil {
		t.Fatalf("Expected an error for a missing directory")
	}
	if waited > time.Second {
		t.Errorf("Expected an immediate failure, waited %v", waited)
	}
}

func TestLockTokenFile_UnlockTwice(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "tokens.json")

	lock, err := lockTokenFile(tokenPath)
	if err != nil {
		t.Fatalf("Failed to take lock: %v", err)
	}

	if err := lock.unlock(); err != nil {
		t.Errorf("First unlock failed: %v", err)
	}
	// The second unlock reports the missing lock file but must not panic.
	if err := lock.unlock(); err == nil {
		t.Logf("Second unlock returned nil; expected an error")
	}
}

func BenchmarkLockTokenFile(b *testing.B) {
	tokenPath := filepath.Join(b.TempDir(), "tokens.json")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lock, err := lockTokenFile(tokenPath)
		if err != nil {
			b.Fatalf("Failed to take lock: %v", err)
		}
		if err := lock.unlock(); err != nil {
			b.Fatalf("Failed to unlock: %v", err)
		}
	}
}
