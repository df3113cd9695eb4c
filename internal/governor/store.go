// SPDX-License-Identifier: MPL-2.0

package governor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// errCorruptState marks a state file that exists but does not parse.
var errCorruptState = errors.New("corrupt state file")

type (
	// Store is a small persistent string key/value map.
	Store interface {
		// Get returns the value for key and whether it was present.
		Get(key string) (string, bool, error)
		Set(key, value string) error
		Delete(key string) error
	}

	// Clearer is implemented by stores that can drop every value at once.
	Clearer interface {
		Clear() error
	}

	// FileStoreOption configures a FileStore.
	FileStoreOption func(*FileStore)

	// MemoryStore keeps values in memory. The zero value is ready to use.
	MemoryStore struct {
		mu     sync.Mutex
		values map[string]string
	}

	// FileStore keeps values in a TOML document. Every write rewrites the
	// whole file through a temporary sibling and a rename.
	FileStore struct {
		fs     afero.Fs
		path   string
		logger *log.Logger
		mu     sync.Mutex
	}

	stateDocument struct {
		Values map[string]string `toml:"values"`
	}
)

// Get implements Store.
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Store.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Clear implements Clearer.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values)
	return nil
}

// WithStoreLogger sets the logger used when a corrupt file is replaced.
func WithStoreLogger(l *log.Logger) FileStoreOption {
	return func(f *FileStore) { f.logger = l }
}

// NewFileStore returns a store persisted at path on fs. The file is created on
// first write. A file that does not parse is replaced by the next write.
func NewFileStore(fs afero.Fs, path string, opts ...FileStoreOption) *FileStore {
	f := &FileStore{
		fs:     fs,
		path:   path,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "governor"}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Get implements Store.
func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := doc.Values[key]
	return v, ok, nil
}

// Set implements Store.
func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.loadForWrite()
	if err != nil {
		return err
	}
	doc.Values[key] = value
	return f.save(doc)
}

// Delete implements Store.
func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.loadForWrite()
	if err != nil {
		return err
	}
	if _, ok := doc.Values[key]; !ok {
		return nil
	}
	delete(doc.Values, key)
	return f.save(doc)
}

// Clear implements Clearer by removing the backing file, readable or not.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fs.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// loadForWrite is load, except a corrupt file yields an empty document so the
// following save replaces it.
func (f *FileStore) loadForWrite() (stateDocument, error) {
	doc, err := f.load()
	if errors.Is(err, errCorruptState) {
		f.logger.Warn("replacing unreadable state file", "path", f.path, "err", err)
		return stateDocument{Values: make(map[string]string)}, nil
	}
	return doc, err
}

func (f *FileStore) load() (stateDocument, error) {
	doc := stateDocument{Values: make(map[string]string)}

	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("reading state file %s: %w", f.path, err)
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parsing state file %s: %w: %w", f.path, errCorruptState, err)
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	return doc, nil
}

func (f *FileStore) save(doc stateDocument) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	if err := f.fs.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		_ = f.fs.Remove(tmp) // best-effort
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
