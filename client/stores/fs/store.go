// Package fs provides a file system-based client.Storage. All entries live in
// a single JSON file, optionally sealed with a crypt.Sealer. A passphrase
// store keeps its random key salt in the file itself.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panyam/authkit/client/stores/crypt"
)

// Store keeps entries in one JSON file on disk. Every write replaces the
// file atomically so a crash never leaves a half-written record behind.
type Store struct {
	mu         sync.RWMutex
	path       string
	sealer     *crypt.Sealer
	passphrase string
	salt       []byte
}

// entryFile is the JSON structure stored on disk
type entryFile struct {
	Sealed  bool              `json:"sealed"`
	Salt    []byte            `json:"salt,omitempty"`
	Entries map[string][]byte `json:"entries"`
}

// Option configures a Store
type Option func(*Store)

// WithSealer encrypts every entry before it reaches the disk
func WithSealer(sealer *crypt.Sealer) Option {
	return func(s *Store) {
		s.sealer = sealer
	}
}

// WithPassphrase seals every entry with a key derived from passphrase and a
// random salt stored in the file. It takes precedence over WithSealer.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) {
		s.passphrase = passphrase
	}
}

// DefaultPath returns ~/.config/<appName>/credentials.json (or the platform
// equivalent)
func DefaultPath(appName string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "authkit"
	}
	return filepath.Join(configDir, appName, "credentials.json"), nil
}

// New creates a file store. If path is empty, DefaultPath(appName) is used.
// An existing file is validated up front.
func New(path string, appName string, opts ...Option) (*Store, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(appName); err != nil {
			return nil, err
		}
	}

	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}

	file, err := s.readFile()
	if err != nil {
		return nil, err
	}
	if s.passphrase != "" {
		if err := s.deriveSealer(file); err != nil {
			return nil, err
		}
	}
	if err := s.check(file); err != nil {
		return nil, err
	}
	return s, nil
}

// deriveSealer reuses the salt of an existing file or picks a new one, which
// the next write persists
func (s *Store) deriveSealer(file *entryFile) error {
	salt := file.Salt
	if len(salt) == 0 {
		var err error
		if salt, err = crypt.NewSalt(); err != nil {
			return err
		}
	}
	sealer, err := crypt.NewSealer(s.passphrase, salt)
	if err != nil {
		return err
	}
	s.sealer, s.salt = sealer, salt
	return nil
}

// Path returns the path to the entries file
func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (*entryFile, error) {
	file, err := s.readFile()
	if err != nil {
		return nil, err
	}
	if err := s.check(file); err != nil {
		return nil, err
	}
	return file, nil
}

func (s *Store) readFile() (*entryFile, error) {
	file := &entryFile{Entries: make(map[string][]byte)}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return file, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	if err := json.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if file.Entries == nil {
		file.Entries = make(map[string][]byte)
	}
	return file, nil
}

// check rejects a file whose sealing does not match the store's. Mixing the
// two would leave entries no reader can open.
func (s *Store) check(file *entryFile) error {
	if file.Sealed && s.sealer == nil {
		return fmt.Errorf("credentials file %s is sealed but no passphrase was configured", s.path)
	}
	if !file.Sealed && s.sealer != nil && len(file.Entries) > 0 {
		return fmt.Errorf("credentials file %s holds unsealed entries but a passphrase was configured", s.path)
	}
	return nil
}

func (s *Store) write(file *entryFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file.Sealed = s.sealer != nil
	if s.salt != nil {
		file.Salt = s.salt
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	return writeAtomicFile(s.path, data)
}

// GetEntry returns the entry stored under key, or nil when absent
func (s *Store) GetEntry(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.read()
	if err != nil {
		return nil, err
	}
	data, ok := file.Entries[key]
	if !ok {
		return nil, nil
	}
	if s.sealer == nil {
		return data, nil
	}
	plain, err := s.sealer.Open(data, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %q: %w", key, err)
	}
	return plain, nil
}

// SetEntry stores data under key and persists the file
func (s *Store) SetEntry(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}
	if s.sealer != nil {
		if data, err = s.sealer.Seal(data, []byte(key)); err != nil {
			return err
		}
	}
	file.Entries[key] = data
	return s.write(file)
}

// DeleteEntry removes key; removing a missing key is not an error
func (s *Store) DeleteEntry(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := file.Entries[key]; !ok {
		return nil
	}
	delete(file.Entries, key)
	return s.write(file)
}

// ListKeys returns all keys with stored entries
func (s *Store) ListKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(file.Entries))
	for k := range file.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
