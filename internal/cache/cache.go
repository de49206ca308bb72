// Package cache stores backend responses on disk with a time-to-live.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lydakis/scenectl/internal/paths"
)

type entry struct {
	Content json.RawMessage `json:"content"`
	Created time.Time       `json:"created"`
	Expires time.Time       `json:"expires"`
}

// Store is a directory of cache entries keyed by namespace and key.
type Store struct {
	dir string
	now func() time.Time
}

// New returns a store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Default returns the store under the user cache directory.
func Default() *Store {
	return New(filepath.Join(paths.CacheDir(), "backends"))
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Get returns the cached content for key. Expired or unreadable entries
// are removed and reported as a miss.
func (s *Store) Get(namespace, key string) ([]byte, bool) {
	e, ok := s.load(namespace, key)
	if !ok {
		return nil, false
	}
	return e.Content, true
}

// Age returns how old a live entry is.
func (s *Store) Age(namespace, key string) (time.Duration, bool) {
	e, ok := s.load(namespace, key)
	if !ok {
		return 0, false
	}
	age := s.now().Sub(e.Created)
	if age < 0 {
		age = 0
	}
	return age, true
}

// Put stores JSON content for ttl. A non-positive ttl stores nothing.
func (s *Store) Put(namespace, key string, content []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if !json.Valid(content) {
		return fmt.Errorf("cache %s/%s: content is not JSON", namespace, key)
	}
	if err := paths.EnsureDir(s.dir); err != nil {
		return err
	}

	now := s.now()
	data, err := json.Marshal(entry{Content: content, Created: now, Expires: now.Add(ttl)})
	if err != nil {
		return err
	}

	path := s.entryPath(namespace, key)
	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
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
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Invalidate removes an entry.
func (s *Store) Invalidate(namespace, key string) error {
	err := os.Remove(s.entryPath(namespace, key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) load(namespace, key string) (entry, bool) {
	path := s.entryPath(namespace, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return entry{}, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		_ = os.Remove(path)
		return entry{}, false
	}
	if s.now().After(e.Expires) {
		_ = os.Remove(path)
		return entry{}, false
	}
	return e, true
}

func (s *Store) entryPath(namespace, key string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s", namespace, key)
	return filepath.Join(s.dir, hex.EncodeToString(h.Sum(nil))[:32]+".json")
}
