package media

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Store writes WAV files into a directory and hands out URL-path references
// for them. The server mounts [Store.Handler] under the same prefix so the
// references resolve for connected clients.
//
// Safe for concurrent use.
type Store struct {
	dir    string
	prefix string
	seq    atomic.Uint64
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
// prefix is the URL path prefix references are issued under (e.g. "/media").
func NewStore(dir, prefix string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("media: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create dir %q: %w", dir, err)
	}
	if prefix == "" {
		prefix = "/media"
	}
	return &Store{dir: dir, prefix: prefix}, nil
}

// SavePCM wraps pcm in a WAV container and persists it, returning the URL
// path of the new file.
func (s *Store) SavePCM(pcm []byte, f WAVFormat) (string, error) {
	return s.SaveWAV(EncodeWAV(pcm, f))
}

// SaveWAV persists an already-encoded WAV file, returning its URL path.
// File names combine a timestamp with a process-local sequence number so
// concurrent saves never collide.
func (s *Store) SaveWAV(wav []byte) (string, error) {
	name := fmt.Sprintf("%s-%04d.wav", time.Now().UTC().Format("20060102T150405"), s.seq.Add(1)%10000)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("media: write %q: %w", path, err)
	}
	return s.prefix + "/" + name, nil
}

// CountFiles returns the number of files currently in the store. Used by the
// health endpoint's cache statistics.
func (s *Store) CountFiles() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

// Handler serves the stored files. Mount it under the store's URL prefix.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(s.prefix+"/", http.FileServer(http.Dir(s.dir)))
}

// Prefix returns the URL path prefix references are issued under.
func (s *Store) Prefix() string {
	return s.prefix
}
