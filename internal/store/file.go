package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File persists values in a YAML document on disk, one section per origin:
//
//	http://localhost:8080:
//	  token: eyJhbGciOi...
//	  userId: "42"
//	  username: alice
//
// Every mutation rewrites the document through a temp file and rename, so a
// reader never observes a half-written file.
type File struct {
	mu     sync.Mutex
	path   string
	origin string
}

// OpenFile returns a File store at path scoped to origin. The parent
// directory is created with 0700 permissions if missing.
func OpenFile(path, origin string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("store: file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	f := &File{path: path, origin: origin}

	// Fail early on a corrupt document rather than on the first login.
	if _, err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get implements Store.
func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := doc[f.origin][key]
	return v, ok, nil
}

// Set implements Store.
func (f *File) Set(key, value string) error {
	return f.SetAll(map[string]string{key: value})
}

// SetAll implements BatchSetter.
func (f *File) SetAll(values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	section := doc[f.origin]
	if section == nil {
		section = make(map[string]string, len(values))
		doc[f.origin] = section
	}
	for k, v := range values {
		section[k] = v
	}
	return f.save(doc)
}

// Remove implements Store.
func (f *File) Remove(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	section, ok := doc[f.origin]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(section, k)
	}
	if len(section) == 0 {
		delete(doc, f.origin)
	}
	return f.save(doc)
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) load() (map[string]map[string]string, error) {
	doc := make(map[string]map[string]string)

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	if doc == nil {
		doc = make(map[string]map[string]string)
	}
	return doc, nil
}

func (f *File) save(doc map[string]map[string]string) error {
	if len(doc) == 0 {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: remove %s: %w", f.path, err)
		}
		return nil
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", f.path, err)
	}
	return nil
}
