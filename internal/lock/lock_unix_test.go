//go:build unix

package lock

import (
	"path/filepath"
	"testing"
)

func TestAcquireRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire: %s", err)
	}
	defer first.Release()

	if _, err := Acquire(path); err != ErrBusy {
		t.Fatalf("second Acquire: got %v, want ErrBusy", err)
	}
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire: %s", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %s", err)
	}

	second, err := Acquire(path)
	if err != nil {
		t.Fatalf("second Acquire after release: %s", err)
	}
	second.Release()
}
