package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Storer keeps validated values under optimistic concurrency: reads return
// the current access id and writes must present it.
type Storer[T ValidatingSpec] interface {
	Get(id string) (T, string, bool)
	GetAll() map[string]T
	Create(id string, spec T) (string, error)
	Update(id string, accessID string, spec T) (string, error)
}

type FileStore[T ValidatingSpec] struct {
	path    string
	records map[string]*Record[T]

	mu sync.RWMutex
}

func NewFileStore[T ValidatingSpec](path string) (*FileStore[T], error) {
	s := &FileStore[T]{
		path:    path,
		records: map[string]*Record[T]{},
	}

	err := s.load()
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore[T]) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = map[string]*Record[T]{}

	err := filepath.Walk(s.path, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !info.IsDir() && filepath.Ext(path) == ".json" {
			rec, err := s.loadRecord(path)
			if err != nil {
				return err
			}

			err = rec.Validate()
			if err != nil {
				return fmt.Errorf("validating %s: %w", filepath.Base(path), err)
			}

			_, ok := s.records[rec.Id()]
			if ok {
				return fmt.Errorf("duplicate key detected: %s", rec.Id())
			}

			s.records[rec.Id()] = rec
		}

		return nil
	})

	if err != nil {
		return err
	}

	slog.Debug("store loaded", "path", s.path, "records", len(s.records))
	return nil
}

// Get returns the value stored under id and its current access id.
func (s *FileStore[T]) Get(id string) (T, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		var nilVal T
		return nilVal, "", false
	}

	return rec.Spec, rec.AccessID, true
}

func (s *FileStore[T]) GetAll() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vals := make(map[string]T, len(s.records))
	for id, rec := range s.records {
		vals[id] = rec.Spec
	}

	return vals
}

// Create stores a new value and returns its first access id.
func (s *FileStore[T]) Create(id string, spec T) (string, error) {
	if !ValidIdentifier(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrExists, id)
	}

	return s.write(id, spec)
}

// Update replaces the value under id when accessID is current, and returns
// the next access id.
func (s *FileStore[T]) Update(id string, accessID string, spec T) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.AccessID != accessID {
		return "", fmt.Errorf("%w: %s", ErrInvalidAccessID, id)
	}

	return s.write(id, spec)
}

// write persists spec under a fresh access id. The caller holds the lock.
func (s *FileStore[T]) write(id string, spec T) (string, error) {
	rec := &Record[T]{
		Version:    recordVersion,
		Identifier: Identifier(id),
		AccessID:   newAccessID(),
		Spec:       spec,
	}
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("validating %s: %w", id, err)
	}

	jsonData, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshalling json: %w", err)
	}

	if err := atomicWrite(s.filePath(id), jsonData, 0644); err != nil {
		return "", err
	}

	s.records[id] = rec
	return rec.AccessID, nil
}

// atomicWrite writes data to a temp file then renames it to the target path.
// This prevents partial or empty files if the process is interrupted.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			slog.Warn("failed to remove temp file after rename failure", "path", tmp, "error", removeErr)
		}
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func (s *FileStore[T]) filePath(id string) string {
	return filepath.Join(s.path, fmt.Sprintf("%s.json", id))
}

func (s *FileStore[T]) loadRecord(path string) (*Record[T], error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	// Ignoring close error - file is read-only, error is not actionable
	defer func() { _ = file.Close() }()

	jsonData, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	rec := &Record[T]{}
	err = json.Unmarshal(jsonData, rec)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling record: %w", err)
	}

	return rec, nil
}
