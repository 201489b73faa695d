package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndRestore(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base, "sess-1")

	target := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(target, []byte("before"), 0644); err != nil {
		t.Fatal(err)
	}

	meta, err := store.Create(target, "msg-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if meta.Version != 1 {
		t.Errorf("version = %d, want 1", meta.Version)
	}

	// Simulate the edit, then undo to the snapshot.
	if err := os.WriteFile(target, []byte("after"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Restore(target, "msg-1"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	data, _ := os.ReadFile(target)
	if string(data) != "before" {
		t.Errorf("restored content = %q, want %q", data, "before")
	}
}

func TestVersionsIncrease(t *testing.T) {
	store := NewStore(t.TempDir(), "sess-1")
	target := filepath.Join(t.TempDir(), "b.txt")

	for i := 1; i <= 3; i++ {
		os.WriteFile(target, []byte(fmt.Sprintf("v%d", i)), 0644)
		meta, err := store.Create(target, fmt.Sprintf("msg-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if meta.Version != i {
			t.Errorf("version = %d, want %d", meta.Version, i)
		}
	}

	metas, err := store.List(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(metas))
	}
	for i, m := range metas {
		if m.Version != i+1 {
			t.Errorf("list order: metas[%d].Version = %d", i, m.Version)
		}
	}
}

func TestMissingFileSnapshot(t *testing.T) {
	store := NewStore(t.TempDir(), "sess-1")
	target := filepath.Join(t.TempDir(), "new.txt")

	meta, err := store.Create(target, "msg-1")
	if err != nil {
		t.Fatalf("Create on missing file should fail soft: %v", err)
	}
	if !meta.Missing || meta.Version != 0 {
		t.Errorf("meta = %+v, want missing zero-version", meta)
	}

	// The file is created by the edit; undo removes it again.
	os.WriteFile(target, []byte("created"), 0644)
	if _, err := store.Restore(target, "msg-1"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("restore of a missing-file snapshot should delete the file")
	}
}

func TestCleanupKeepsNewest(t *testing.T) {
	store := NewStore(t.TempDir(), "sess-1")
	target := filepath.Join(t.TempDir(), "c.txt")

	for i := 1; i <= 15; i++ {
		os.WriteFile(target, []byte(fmt.Sprintf("v%d", i)), 0644)
		if _, err := store.Create(target, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Cleanup(0); err != nil {
		t.Fatal(err)
	}

	metas, err := store.List(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != DefaultKeep {
		t.Fatalf("got %d snapshots after cleanup, want %d", len(metas), DefaultKeep)
	}
	if metas[0].Version != 6 {
		t.Errorf("oldest retained version = %d, want 6", metas[0].Version)
	}
}

func TestSessionsDoNotCollide(t *testing.T) {
	base := t.TempDir()
	a := NewStore(base, "sess-a")
	b := NewStore(base, "sess-b")

	dirA, _ := a.Dir()
	dirB, _ := b.Dir()
	if dirA == dirB {
		t.Fatal("sessions must not share a snapshot directory")
	}
}

func TestRestoreByMessageID(t *testing.T) {
	store := NewStore(t.TempDir(), "sess-1")
	target := filepath.Join(t.TempDir(), "d.txt")

	os.WriteFile(target, []byte("one"), 0644)
	store.Create(target, "msg-1")
	os.WriteFile(target, []byte("two"), 0644)
	store.Create(target, "msg-2")
	os.WriteFile(target, []byte("three"), 0644)

	if _, err := store.Restore(target, "msg-2"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "two" {
		t.Errorf("content = %q, want %q", data, "two")
	}
}
