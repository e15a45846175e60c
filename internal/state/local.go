package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LocalBackend implements Backend using a local JSON file.
type LocalBackend struct {
	Path string

	mu sync.Mutex
}

// NewLocalBackend creates a new local JSON state backend.
func NewLocalBackend(path string) *LocalBackend {
	return &LocalBackend{Path: path}
}

// stateFile is the on-disk JSON structure.
type stateFile struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Load reads all entries. A missing file holds no entries.
func (b *LocalBackend) Load() ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load()
}

func (b *LocalBackend) load() ([]Entry, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", b.Path, err)
	}
	return sf.Entries, nil
}

// save writes entries sorted by input, replacing the file atomically.
func (b *LocalBackend) save(entries []Entry) error {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Input < entries[j].Input
	})
	data, err := json.MarshalIndent(stateFile{Version: "1", Entries: entries}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(b.Path), ".state-*")
	if err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing state: %w", err)
	}
	return os.Rename(tmp.Name(), b.Path)
}

// Record inserts or replaces the entry for e.Input.
func (b *LocalBackend) Record(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.load()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].Input == e.Input {
			entries[i] = e
			return b.save(entries)
		}
	}
	return b.save(append(entries, e))
}
