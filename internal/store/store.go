package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no stored image matches a hash.
var ErrNotFound = errors.New("image not found")

// ErrAmbiguous is returned when a short hash matches several images.
var ErrAmbiguous = errors.New("hash prefix is ambiguous")

// Store manages a content-addressable collection of application images.
type Store struct {
	baseDir     string
	imagesDir   string
	metadataDir string
	indexPath   string

	now func() time.Time
}

// Index contains quick lookup information for all images.
type Index struct {
	Images    map[string]IndexEntry `json:"images"` // hash -> entry
	UpdatedAt time.Time             `json:"updated_at"`
}

// IndexEntry contains summary info for quick listing.
type IndexEntry struct {
	Hash      string    `json:"hash"`
	Target    string    `json:"target"`
	Device    string    `json:"device,omitempty"`
	Size      int       `json:"size"`
	CRC       string    `json:"crc"`
	Compiled  bool      `json:"compiled"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultPath returns the default store path (~/.vspota/store).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vspota", "store"), nil
}

// Open opens or creates a store at the given path.
func Open(path string) (*Store, error) {
	s := &Store{
		baseDir:     path,
		imagesDir:   filepath.Join(path, "images"),
		metadataDir: filepath.Join(path, "metadata"),
		indexPath:   filepath.Join(path, "index.json"),
		now:         time.Now,
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images dir: %w", err)
	}
	if err := os.MkdirAll(s.metadataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata dir: %w", err)
	}

	return s, nil
}

// OpenDefault opens the store at the default path.
func OpenDefault() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Import adds an image to the store.
// If the image already exists (same hash), its sources are extended.
// Returns the hash and whether it was a new image.
func (s *Store) Import(img Image) (string, bool, error) {
	hash, err := ContentHash(img.Data)
	if err != nil {
		return "", false, err
	}

	imagePath := s.imagePath(hash)
	metaPath := s.metaPath(hash)
	now := s.now()
	source := Source{Origin: img.Origin, Method: img.Method(), Timestamp: now}

	isNew := false
	var meta *Metadata

	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		isNew = true
		meta = ExtractMetadata(img, hash, now)
		meta.Sources = []Source{source}

		if err := writeFileAtomic(imagePath, img.Data); err != nil {
			return "", false, fmt.Errorf("failed to write image: %w", err)
		}
	} else {
		meta, err = s.GetMetadata(hash)
		if err != nil {
			return "", false, err
		}
		meta.Sources = append(meta.Sources, source)
		meta.UpdatedAt = now
		if meta.Device == "" {
			meta.Device = img.Device
		}
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeFileAtomic(metaPath, metaJSON); err != nil {
		return "", false, fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := s.updateIndex(hash, meta); err != nil {
		return "", false, fmt.Errorf("failed to update index: %w", err)
	}

	return hash, isNew, nil
}

// Resolve expands a full or shortened hash to the stored image's full hash.
func (s *Store) Resolve(ref string) (string, error) {
	prefix := hashPrefix + hashToFilename(strings.ToLower(strings.TrimSpace(ref)))
	if len(prefix) == len(hashPrefix) {
		return "", ErrNotFound
	}

	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}

	var match string
	for hash := range index.Images {
		if !strings.HasPrefix(hash, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%w: %s", ErrAmbiguous, ref)
		}
		match = hash
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return match, nil
}

// Get retrieves image data by hash.
func (s *Store) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.imagePath(hash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return data, err
}

// GetMetadata retrieves image metadata by hash.
func (s *Store) GetMetadata(hash string) (*Metadata, error) {
	data, err := os.ReadFile(s.metaPath(hash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

// List returns all images in the store, newest first.
func (s *Store) List() ([]IndexEntry, error) {
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	entries := make([]IndexEntry, 0, len(index.Images))
	for _, entry := range index.Images {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Hash < entries[j].Hash
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	return entries, nil
}

// Export writes an image to a file.
func (s *Store) Export(hash, destPath string) error {
	data, err := s.Get(hash)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0644)
}

// Count returns the number of images in the store.
func (s *Store) Count() (int, error) {
	index, err := s.loadIndex()
	if err != nil {
		return 0, err
	}
	return len(index.Images), nil
}

func (s *Store) imagePath(hash string) string {
	return filepath.Join(s.imagesDir, hashToFilename(hash)+".bin")
}

func (s *Store) metaPath(hash string) string {
	return filepath.Join(s.metadataDir, hashToFilename(hash)+".json")
}

func (s *Store) loadIndex() (*Index, error) {
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return &Index{Images: make(map[string]IndexEntry)}, nil
	}
	if err != nil {
		return nil, err
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	if index.Images == nil {
		index.Images = make(map[string]IndexEntry)
	}
	return &index, nil
}

func (s *Store) updateIndex(hash string, meta *Metadata) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	index.Images[hash] = IndexEntry{
		Hash:      hash,
		Target:    meta.Target,
		Device:    meta.Device,
		Size:      meta.Size,
		CRC:       meta.CRC,
		Compiled:  meta.Compiled,
		CreatedAt: meta.CreatedAt,
	}
	index.UpdatedAt = s.now()

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.indexPath, data)
}

// writeFileAtomic writes to a temp file in the same directory and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
