package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a watch list does not exist
var ErrNotFound = errors.New("watch list not found")

const fileSuffix = ".yaml"

// Store keeps watch list definitions as YAML files in one directory
type Store struct {
	dataDir string
}

// NewStore creates a new storage instance
func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
	}
}

// ValidateName checks that a watch list name can be used as a file name
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("watch list name must not be empty")
	case strings.ContainsAny(name, `/\`), name == ".", name == "..", strings.HasPrefix(name, "."):
		return fmt.Errorf("invalid watch list name %q", name)
	}
	return nil
}

func (s *Store) ensureDataDir() error {
	return os.MkdirAll(s.dataDir, 0755)
}

func (s *Store) listFilePath(name string) string {
	return filepath.Join(s.dataDir, name+fileSuffix)
}

// Save writes a watch list, replacing any list of the same name
func (s *Store) Save(list WatchList) error {
	if err := ValidateName(list.Name); err != nil {
		return err
	}
	if err := s.ensureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal watch list: %w", err)
	}

	// Write to a temporary file first so a crash never leaves a truncated list
	tmp, err := os.CreateTemp(s.dataDir, "."+list.Name+"-*")
	if err != nil {
		return fmt.Errorf("failed to write watch list file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write watch list file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write watch list file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.listFilePath(list.Name)); err != nil {
		return fmt.Errorf("failed to write watch list file: %w", err)
	}

	return nil
}

// Load reads a watch list. It returns ErrNotFound when there is none.
func (s *Store) Load(name string) (*WatchList, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.listFilePath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read watch list file: %w", err)
	}

	var list WatchList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal watch list %s: %w", name, err)
	}
	if list.Name == "" {
		list.Name = name
	}

	return &list, nil
}

// Exists checks if a watch list exists in storage
func (s *Store) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := os.Stat(s.listFilePath(name))
	return err == nil
}

// Names returns all stored watch list names, sorted
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), fileSuffix))
	}
	slices.Sort(names)

	return names, nil
}

// List returns the summaries of all stored watch lists. Lists that cannot
// be read are reported in the returned error but do not hide the others.
func (s *Store) List() ([]WatchListItem, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}

	var items []WatchListItem
	var errs []error
	for _, name := range names {
		list, err := s.Load(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, WatchListItem{
			Name:        list.Name,
			Description: list.Description,
			JQL:         list.JQL,
			KeyCount:    len(list.Keys),
			LastStarted: list.LastStarted,
		})
	}

	return items, errors.Join(errs...)
}

// Delete removes a watch list. Deleting a missing list is not an error.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.listFilePath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete watch list file: %w", err)
	}

	return nil
}

// DataDir returns the data directory path
func (s *Store) DataDir() string {
	return s.dataDir
}
