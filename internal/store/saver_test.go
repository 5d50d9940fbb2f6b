package store_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/store"
	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 5, 29, 14, 30, 5, 0, time.UTC)
	return func() time.Time { return t }
}

func TestDiskStoreSave(t *testing.T) {
	root := t.TempDir()
	s, err := store.NewDiskStore(root, fixedClock())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	frame := &types.Frame{Data: []byte("jpeg-bytes")}
	name, err := s.Save("raspi-cam-01", "proximity", frame)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if name != "raspi-cam-01_20250529_143005.jpg" {
		t.Errorf("filename = %q, want device_timestamp convention", name)
	}

	written, err := os.ReadFile(filepath.Join(root, "proximity", name))
	if err != nil {
		t.Fatalf("reading saved frame: %v", err)
	}
	if !bytes.Equal(written, frame.Data) {
		t.Error("saved bytes differ from the frame payload")
	}

	saved, failed := s.Stats()
	if saved != 1 || failed != 0 {
		t.Errorf("stats = (%d, %d), want (1, 0)", saved, failed)
	}
}

func TestDiskStoreSaveScored(t *testing.T) {
	root := t.TempDir()
	s, err := store.NewDiskStore(root, fixedClock())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	name, err := s.SaveScored("raspi-cam-02", "청바지", &types.Frame{Data: []byte("x")}, 0.92)
	if err != nil {
		t.Fatalf("SaveScored: %v", err)
	}
	if name != "raspi-cam-02_20250529_143005_92.jpg" {
		t.Errorf("filename = %q, want score suffix _92", name)
	}
	if _, err := os.Stat(filepath.Join(root, "청바지", name)); err != nil {
		t.Errorf("scored frame not written under the label directory: %v", err)
	}
}

func TestDiskStoreCreatesKeyDirectories(t *testing.T) {
	root := t.TempDir()
	s, err := store.NewDiskStore(root, nil)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	for _, key := range []string{"proximity", "치마"} {
		if _, err := s.Save("raspi-cam-01", key, &types.Frame{Data: []byte("x")}); err != nil {
			t.Fatalf("Save under %q: %v", key, err)
		}
		info, err := os.Stat(filepath.Join(root, key))
		if err != nil || !info.IsDir() {
			t.Errorf("key directory %q not created: %v", key, err)
		}
	}
}

func TestDiskStoreFailureCounted(t *testing.T) {
	root := t.TempDir()
	s, err := store.NewDiskStore(root, nil)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	// A regular file where the key directory should go forces MkdirAll
	// to fail.
	if err := os.WriteFile(filepath.Join(root, "blocked"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save("raspi-cam-01", "blocked", &types.Frame{Data: []byte("x")}); err == nil {
		t.Fatal("Save into a blocked key succeeded, want error")
	}

	saved, failed := s.Stats()
	if saved != 0 || failed != 1 {
		t.Errorf("stats = (%d, %d), want (0, 1)", saved, failed)
	}
}
