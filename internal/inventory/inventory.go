// Package inventory persists the installed-plugin registry as an ordered list
// of [[plugin]] tables in a TOML file.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/BurntSushi/toml"

	"blockyard/internal/domain"
)

type document struct {
	Plugins []domain.InstalledPluginRecord `toml:"plugin"`
}

// Store is the in-memory view of the registry file. Records keep insertion
// order; updating a record keeps its position.
type Store struct {
	mu      sync.RWMutex
	path    string
	records []domain.InstalledPluginRecord
}

// Load reads the registry at path. A missing file is an empty registry.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path) //nolint:gosec // registry path comes from config
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin registry: %w", err)
	}

	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("parse plugin registry %s: %w", path, err)
	}
	for _, rec := range doc.Plugins {
		if rec.Key() == "" {
			continue
		}
		s.put(rec)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Records returns a copy of every record in file order.
func (s *Store) Records() []domain.InstalledPluginRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Get looks a record up by plugin name.
func (s *Store) Get(name string) (domain.InstalledPluginRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(name); i >= 0 {
		return s.records[i], true
	}
	return domain.InstalledPluginRecord{}, false
}

// Put inserts or replaces the record with the same plugin name.
func (s *Store) Put(rec domain.InstalledPluginRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(rec)
}

func (s *Store) put(rec domain.InstalledPluginRecord) {
	if i := s.index(rec.Name); i >= 0 {
		s.records[i] = rec
		return
	}
	s.records = append(s.records, rec)
}

// Delete removes the record for name and reports whether it existed.
func (s *Store) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(name)
	if i < 0 {
		return false
	}
	s.records = slices.Delete(s.records, i, i+1)
	return true
}

// Dependents returns the names of installed plugins that declare a hard
// dependency on name.
func (s *Store) Dependents(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := domain.CanonicalName(name)
	var out []string
	for _, rec := range s.records {
		if rec.Key() == key {
			continue
		}
		for _, dep := range rec.Dependencies {
			if !dep.Optional && domain.CanonicalName(dep.Name) == key {
				out = append(out, rec.Name)
				break
			}
		}
	}
	return out
}

func (s *Store) index(name string) int {
	key := domain.CanonicalName(name)
	return slices.IndexFunc(s.records, func(r domain.InstalledPluginRecord) bool { return r.Key() == key })
}

// Save writes the registry atomically through a temp file and rename.
func (s *Store) Save() error {
	s.mu.RLock()
	doc := document{Plugins: slices.Clone(s.records)}
	s.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteString("# Managed by blockyard. Edits are overwritten on the next install.\n\n")
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode plugin registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".plugins-*.toml")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name()) // no-op after a successful rename
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace plugin registry: %w", err)
	}
	return nil
}
