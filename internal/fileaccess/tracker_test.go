package fileaccess

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHasBeenRead(t *testing.T) {
	tr := NewTracker()
	path := filepath.Join(t.TempDir(), "a.txt")
	os.WriteFile(path, []byte("x"), 0644)

	if tr.HasBeenRead("s1", path) {
		t.Fatal("unread path reported as read")
	}

	tr.RecordRead("s1", path)
	if !tr.HasBeenRead("s1", path) {
		t.Fatal("read path not tracked")
	}
	if tr.HasBeenRead("s2", path) {
		t.Fatal("read tracking leaked across sessions")
	}
}

func TestCheckModification(t *testing.T) {
	tr := NewTracker()
	path := filepath.Join(t.TempDir(), "b.txt")
	os.WriteFile(path, []byte("first"), 0644)

	tr.RecordRead("s1", path)
	if mc := tr.CheckModification("s1", path); mc.Modified {
		t.Fatalf("unmodified file flagged: %s", mc.Message)
	}

	// The signature is mtime+size; force both to change.
	time.Sleep(10 * time.Millisecond)
	os.WriteFile(path, []byte("second, longer"), 0644)

	if mc := tr.CheckModification("s1", path); !mc.Modified {
		t.Fatal("modified file not flagged")
	}
}

func TestRereadRefreshesSignature(t *testing.T) {
	tr := NewTracker()
	path := filepath.Join(t.TempDir(), "c.txt")
	os.WriteFile(path, []byte("one"), 0644)

	tr.RecordRead("s1", path)
	time.Sleep(10 * time.Millisecond)
	os.WriteFile(path, []byte("two two"), 0644)
	tr.RecordRead("s1", path)

	if mc := tr.CheckModification("s1", path); mc.Modified {
		t.Fatalf("re-read file still flagged: %s", mc.Message)
	}
}

func TestClearSession(t *testing.T) {
	tr := NewTracker()
	path := filepath.Join(t.TempDir(), "d.txt")
	os.WriteFile(path, []byte("x"), 0644)

	tr.RecordRead("s1", path)
	tr.ClearSession("s1")
	if tr.HasBeenRead("s1", path) {
		t.Fatal("cleared session still has records")
	}
}
