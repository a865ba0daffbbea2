// Package imagestore is the content-addressed media store backing the
// gateway-served proxy paths for images, music, and TTS responses (spec
// §3 supplemented features: "audio_url rewritten to a gateway-served
// proxy path"). Grounded on the teacher's ui.image_dir/image_ttl_sec/
// image_max_bytes config surface, using patrickmn/go-cache (already a
// teacher dependency) for the TTL index instead of a hand-rolled sweep
// goroutine.
package imagestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
)

// Store persists media bytes under a content-addressed filename and
// tracks their TTL via an in-memory cache whose eviction callback
// deletes the backing file.
type Store struct {
	dir      string
	maxBytes int64
	index    *cache.Cache
}

// New builds a Store rooted at dir. ttl<=0 disables expiry (entries and
// their files live until the process restarts and re-creates the dir).
func New(dir string, ttl time.Duration, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagestore: creating %s: %w", dir, err)
	}
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	s := &Store{dir: dir, maxBytes: maxBytes, index: cache.New(ttl, time.Minute)}
	s.index.OnEvicted(func(id string, v interface{}) {
		path, ok := v.(string)
		if ok {
			os.Remove(path)
		}
	})
	return s, nil
}

// Put writes data to a content-addressed file named by its sha256 hash
// plus ext (e.g. ".png", ".mp3") and returns its id.
func (s *Store) Put(data []byte, ext string) (string, error) {
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("imagestore: payload of %d bytes exceeds max %d", len(data), s.maxBytes)
	}
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:]) + ext
	path := filepath.Join(s.dir, id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("imagestore: writing %s: %w", path, err)
	}
	s.index.SetDefault(id, path)
	return id, nil
}

// Path resolves id to its on-disk path, or false if it has expired or was
// never stored. A lookup does not extend the entry's TTL.
func (s *Store) Path(id string) (string, bool) {
	v, ok := s.index.Get(id)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// URL builds the gateway-served proxy path for a stored media id.
func URL(id string) string {
	return "/v1/media/" + id
}
