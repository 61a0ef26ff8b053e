package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	held, pid, err := IsHeld(Path(dir, "e1"))
	if err != nil || !held || pid != os.Getpid() {
		t.Errorf("IsHeld = %v, %d, %v", held, pid, err)
	}

	if _, err := Acquire(dir, "e1"); !errors.Is(err, ErrHeld) {
		t.Errorf("second acquire: expected ErrHeld, got %v", err)
	}
	// Other employees are independent.
	other, err := Acquire(dir, "e2")
	if err != nil {
		t.Fatalf("other employee: %v", err)
	}
	other.Release()

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second release should be a no-op: %v", err)
	}
	if _, err := os.Stat(Path(dir, "e1")); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}
}

func TestAcquireReplacesStaleLock(t *testing.T) {
	dir := t.TempDir()
	// PIDs are capped well below this value on every supported platform.
	if err := os.WriteFile(Path(dir, "e1"), []byte(strconv.Itoa(1<<30)), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(dir, "e1")
	if err != nil {
		t.Fatalf("stale lock should be replaced: %v", err)
	}
	defer l.Release()

	data, _ := os.ReadFile(filepath.Join(dir, "e1.lock"))
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock content = %q", data)
	}
}

func TestIsHeldMissingFile(t *testing.T) {
	held, _, err := IsHeld(filepath.Join(t.TempDir(), "none.lock"))
	if err != nil || held {
		t.Errorf("IsHeld = %v, %v", held, err)
	}
}
