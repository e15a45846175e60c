package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	b := NewLocalBackend(filepath.Join(t.TempDir(), "state.json"))
	entries, err := b.Load()
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %v, want none", entries)
	}
}

func TestRecordReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	b := NewLocalBackend(path)
	now := time.Date(2017, 6, 30, 0, 0, 0, 0, time.UTC)

	if err := b.Record(Entry{Input: "b.csv", Status: StatusFailed, Error: "boom", ProcessedAt: now}); err != nil {
		t.Fatalf("Record returned unexpected error: %v", err)
	}
	if err := b.Record(Entry{Input: "a.csv", Status: StatusCompleted, Sessions: 3, ProcessedAt: now}); err != nil {
		t.Fatalf("Record returned unexpected error: %v", err)
	}
	if err := b.Record(Entry{Input: "b.csv", Status: StatusCompleted, Sessions: 1, ProcessedAt: now}); err != nil {
		t.Fatalf("Record returned unexpected error: %v", err)
	}

	// A fresh backend sees the persisted entries.
	reopened := NewLocalBackend(path)
	entries, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].Input != "a.csv" || entries[1].Input != "b.csv" {
		t.Fatalf("entries = %+v, want a.csv then b.csv", entries)
	}

	if e := entries[1]; e.Status != StatusCompleted || e.Sessions != 1 || e.Error != "" {
		t.Errorf("b.csv entry = %+v, want the later completed record", e)
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLocalBackend(path).Load(); err == nil {
		t.Error("Load of corrupt state should fail")
	}
}

func TestRecordLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewLocalBackend(filepath.Join(dir, "state.json"))
	if err := b.Record(Entry{Input: "a.csv", Status: StatusCompleted}); err != nil {
		t.Fatalf("Record returned unexpected error: %v", err)
	}
	files, _ := os.ReadDir(dir)
	if len(files) != 1 || files[0].Name() != "state.json" {
		t.Errorf("directory holds %d files, want only state.json", len(files))
	}
}
