package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache stores the consensus text and its validity window in
// <Dir>/consensus.json between scans. No subcommand of cmd/bwscan uses it;
// `aggregate` fetches a fresh consensus from the daemon.
type Cache struct {
	Dir string
}

type cachedConsensus struct {
	Text       string    `json:"text"`
	ValidUntil time.Time `json:"valid_until"`
	FreshUntil time.Time `json:"fresh_until"`
}

// LoadConsensus returns the cached consensus text and true if a still-valid
// cache entry exists, or "", false otherwise.
func (c *Cache) LoadConsensus() (string, bool) {
	if c.Dir == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(c.Dir, "consensus.json"))
	if err != nil {
		return "", false
	}
	var cached cachedConsensus
	if err := json.Unmarshal(data, &cached); err != nil {
		return "", false
	}
	if time.Now().After(cached.ValidUntil) {
		return "", false
	}
	return cached.Text, true
}

// SaveConsensus writes the consensus text and its validity window to cache.
func (c *Cache) SaveConsensus(text string, freshUntil, validUntil time.Time) error {
	if c.Dir == "" {
		return fmt.Errorf("cache directory not set")
	}
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.Marshal(cachedConsensus{Text: text, ValidUntil: validUntil, FreshUntil: freshUntil})
	if err != nil {
		return fmt.Errorf("marshal consensus cache: %w", err)
	}
	return os.WriteFile(filepath.Join(c.Dir, "consensus.json"), data, 0600)
}

// DefaultCacheDir returns "<dataDir>/cache", the conventional location for
// the consensus cache underneath a scanner's data directory.
func DefaultCacheDir(dataDir string) string {
	return filepath.Join(dataDir, "cache")
}
