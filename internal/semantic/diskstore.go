package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore persists one JSON index file per video. It is the default store
// for single-machine deployments; PostgresStore replaces it when a database
// is configured.
type DiskStore struct {
	dir string
}

// NewDiskStore creates a DiskStore under dir, creating the directory if
// absent.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("semantic: index dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("semantic: create index dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Load implements IndexStore. A missing file returns (nil, nil).
func (s *DiskStore) Load(_ context.Context, videoID string) (*Index, error) {
	data, err := os.ReadFile(s.path(videoID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index file: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		// A corrupt file is treated as absent so the matcher rebuilds.
		return nil, nil
	}
	return &idx, nil
}

// Save implements IndexStore.
func (s *DiskStore) Save(_ context.Context, idx *Index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return os.WriteFile(s.path(idx.VideoID), data, 0o644)
}

// Drop implements IndexStore.
func (s *DiskStore) Drop(_ context.Context, videoID string) error {
	if err := os.Remove(s.path(videoID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove index file: %w", err)
	}
	return nil
}

func (s *DiskStore) path(videoID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, videoID)
	return filepath.Join(s.dir, safe+".index.json")
}

// Ensure DiskStore implements IndexStore at compile time.
var _ IndexStore = (*DiskStore)(nil)
