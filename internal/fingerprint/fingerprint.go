// Package fingerprint persists per-URL content hashes for change
// detection across runs.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Hash computes the fingerprint of a record's significant region: the
// extracted fields serialized canonically, not the raw HTML, so markup
// noise (script nonces, rendered timestamps) cannot fake a change.
// Run-scoped fields (captured_at, run_id, archive_uri) are excluded.
func Hash(rec scraper.Record) string {
	d := xxhash.New()
	fields := []string{
		string(rec.Kind),
		rec.URL,
		rec.Slug,
		rec.Title,
		rec.OwnerHandle,
		rec.Category,
		rec.Description,
		strconv.Itoa(rec.PriceCents),
		rec.Currency,
		strconv.FormatFloat(rec.Rating, 'f', -1, 64),
		strconv.Itoa(rec.RatingCount),
	}
	for _, f := range fields {
		_, _ = d.WriteString(f)
		_, _ = d.Write([]byte{0x1f})
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// Cache is the on-disk fingerprint map, loaded once per run and saved
// atomically. Load failures degrade to an empty cache so every page just
// looks new; change detection is an optimization, never a correctness
// requirement.
type Cache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]scraper.PageFingerprint
}

// Open loads the cache stored under dir, tolerating a missing or corrupt
// file.
func Open(dir string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		path:    filepath.Join(dir, "fingerprints.json"),
		entries: make(map[string]scraper.PageFingerprint),
	}
	payload, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("fingerprint cache unreadable, starting empty", zap.Error(err))
		}
		return c
	}
	if err := json.Unmarshal(payload, &c.entries); err != nil {
		logger.Warn("fingerprint cache corrupt, starting empty", zap.Error(err))
		c.entries = make(map[string]scraper.PageFingerprint)
	}
	return c
}

// Get returns the stored fingerprint for url.
func (c *Cache) Get(url string) (scraper.PageFingerprint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fp, ok := c.entries[url]
	return fp, ok
}

// Put stores or refreshes the fingerprint for url.
func (c *Cache) Put(url string, fp scraper.PageFingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = fp
}

// Len reports the number of cached fingerprints.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Save writes the cache atomically (temp file + rename).
func (c *Cache) Save() error {
	c.mu.RLock()
	payload, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal fingerprints: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("create fingerprint dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write fingerprint temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename fingerprint cache: %w", err)
	}
	return nil
}
