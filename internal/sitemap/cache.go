package sitemap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Cache persists the most recent successful classification so a transient
// sitemap outage can reuse it. A 5xx outage must never read this cache.
type Cache struct {
	path string
}

// NewCache stores the classification under dir.
func NewCache(dir string) *Cache {
	return &Cache{path: filepath.Join(dir, "classification.json")}
}

// Save writes the index atomically (temp file + rename) so a crash can
// never leave a half-written cache behind.
func (c *Cache) Save(ix *Index) error {
	payload, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write classification temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename classification cache: %w", err)
	}
	return nil
}

// Load returns the cached index, or (nil, nil) when no cache exists.
func (c *Cache) Load() (*Index, error) {
	payload, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read classification cache: %w", err)
	}
	var ix Index
	if err := json.Unmarshal(payload, &ix); err != nil {
		return nil, fmt.Errorf("decode classification cache: %w", err)
	}
	return &ix, nil
}
