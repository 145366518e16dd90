// Package prompts provides externalized prompt templates, embedded at
// compile time and served through a TTL cache.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

//go:embed *.json
var promptFiles embed.FS

// DefaultTTL bounds how long a parsed prompt file is served before being
// re-read.
const DefaultTTL = 10 * time.Minute

// Cache serves parsed prompt files with time-based staleness. The clock is
// injected so tests can advance it; concurrent refreshes of the same file
// are collapsed through singleflight.
type Cache struct {
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
	mu     sync.RWMutex
	loaded map[string]cachedFile
}

type cachedFile struct {
	prompts  map[string]string
	loadedAt time.Time
}

// NewCache builds a prompt cache. A nil clock uses time.Now; a zero ttl uses
// DefaultTTL.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:    ttl,
		now:    now,
		loaded: make(map[string]cachedFile),
	}
}

// Get retrieves a prompt by filename and key, refreshing the file when its
// cache entry has gone stale.
func (c *Cache) Get(filename, key string) (string, error) {
	file, err := c.loadFile(filename)
	if err != nil {
		return "", err
	}
	prompt, exists := file[key]
	if !exists {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// MustGet retrieves a prompt, panicking if absent. Use only for prompts
// required at initialization time.
func (c *Cache) MustGet(filename, key string) string {
	prompt, err := c.Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return prompt
}

// Refresh drops all cache entries so the next Get re-reads its file.
func (c *Cache) Refresh() {
	c.mu.Lock()
	c.loaded = make(map[string]cachedFile)
	c.mu.Unlock()
}

func (c *Cache) loadFile(filename string) (map[string]string, error) {
	c.mu.RLock()
	entry, exists := c.loaded[filename]
	c.mu.RUnlock()
	if exists && c.now().Sub(entry.loadedAt) < c.ttl {
		return entry.prompts, nil
	}

	result, err, _ := c.group.Do(filename, func() (any, error) {
		data, err := promptFiles.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
		}
		var prompts map[string]string
		if err := json.Unmarshal(data, &prompts); err != nil {
			return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
		}
		c.mu.Lock()
		c.loaded[filename] = cachedFile{prompts: prompts, loadedAt: c.now()}
		c.mu.Unlock()
		return prompts, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]string), nil
}

// Format replaces template placeholders in the form {{.Key}} with values
// from data.
func Format(template string, data map[string]string) string {
	result := template
	for key, value := range data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}
