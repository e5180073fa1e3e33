package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Store holds operator settings as a flat key/value JSON document. Keys that
// were never set read as their defaults.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// DefaultPath returns the default settings file (~/.vspota/settings.json).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vspota", "settings.json"), nil
}

// Open loads the settings file at path, creating its directory if needed.
// A missing file is not an error.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create settings dir: %w", err)
	}

	s := &Store{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

// OpenDefault opens the settings at the default path.
func OpenDefault() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// NewMemory returns a store that is never persisted.
func NewMemory() *Store {
	return &Store{values: make(map[string]string)}
}

// Path returns the backing file, empty for memory stores.
func (s *Store) Path() string {
	return s.path
}

// GetString returns the value of key as text.
func (s *Store) GetString(key string) string {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	if d, ok := definitions[key]; ok {
		return fmt.Sprint(d.def)
	}
	return ""
}

// GetInt returns the value of key as an integer, falling back to the default
// when the stored text does not parse.
func (s *Store) GetInt(key string) int {
	if n, err := strconv.Atoi(s.GetString(key)); err == nil {
		return n
	}
	if d, ok := definitions[key]; ok {
		if n, ok := d.def.(int); ok {
			return n
		}
	}
	return 0
}

// GetBool returns the value of key as a boolean, falling back to the default
// when the stored text does not parse.
func (s *Store) GetBool(key string) bool {
	if b, err := strconv.ParseBool(s.GetString(key)); err == nil {
		return b
	}
	if d, ok := definitions[key]; ok {
		if b, ok := d.def.(bool); ok {
			return b
		}
	}
	return false
}

// Set validates and stores a value without saving it.
func (s *Store) Set(key, value string) error {
	d, ok := definitions[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	switch d.kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		if key == KeyPacketSize && n <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
		value = strconv.Itoa(n)
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false: %w", key, err)
		}
		value = strconv.FormatBool(b)
	}
	if key == KeyDownloadAction {
		a, err := ParseAction(value)
		if err != nil {
			return err
		}
		value = string(a)
	}

	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// SetInt stores an integer value.
func (s *Store) SetInt(key string, v int) error {
	return s.Set(key, strconv.Itoa(v))
}

// SetBool stores a boolean value.
func (s *Store) SetBool(key string, v bool) error {
	return s.Set(key, strconv.FormatBool(v))
}

// Reset forgets the stored value of key, or of every key when key is empty.
func (s *Store) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		s.values = make(map[string]string)
		return nil
	}
	if _, ok := definitions[key]; !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	delete(s.values, key)
	return nil
}

// IsSet reports whether key has an explicit value.
func (s *Store) IsSet(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Save writes the settings file atomically. Memory stores ignore it.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(s.values, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Overlay returns a memory copy of s, used to apply one-off overrides that
// must not be saved.
func (s *Store) Overlay() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := NewMemory()
	for k, v := range s.values {
		o.values[k] = v
	}
	return o
}

// CharacteristicUUID derives a VSP characteristic UUID from the service UUID
// by replacing its second group of four hex digits with the offset stored
// under offsetKey.
func (s *Store) CharacteristicUUID(offsetKey string) string {
	return DeriveUUID(s.GetString(KeyUUID), s.GetString(offsetKey))
}

// DeriveUUID replaces characters 4-7 of base with offset.
func DeriveUUID(base, offset string) string {
	if len(base) < 8 {
		return base
	}
	return strings.ToLower(base[:4] + offset + base[8:])
}
