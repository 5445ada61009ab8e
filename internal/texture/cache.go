package texture

import (
	"errors"
	"fmt"
	"sync"

	"neural-point-renderer/internal/envmap"
)

// ErrNotFound is returned for a map name missing from the index.
var ErrNotFound = errors.New("texture: environment map not found")

// Cache is a concurrency-safe environment map cache. It satisfies
// scene.EnvironmentResolver.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*cacheEntry
	index *Index
}

type cacheEntry struct {
	rad *Radiance
	err error
}

// NewCache creates a new cache backed by the given index.
func NewCache(index *Index) *Cache {
	return &Cache{
		items: make(map[string]*cacheEntry),
		index: index,
	}
}

// Radiance loads and caches a map by name. Failed loads are cached too.
func (c *Cache) Radiance(name string) (*Radiance, error) {
	path, ok := c.index.ResolvePath(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	// Fast path: read lock
	c.mu.RLock()
	if entry, exists := c.items[path]; exists {
		c.mu.RUnlock()
		return entry.rad, entry.err
	}
	c.mu.RUnlock()

	// Slow path: load from disk
	rad, err := Load(path)

	// Write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, exists := c.items[path]; exists {
		return entry.rad, entry.err
	}
	c.items[path] = &cacheEntry{rad: rad, err: err}
	return rad, err
}

// Environment builds a trainable map with the given channel count from the
// named file. Descriptor channels beyond RGB repeat the colour channels
// cyclically.
func (c *Cache) Environment(name string, channels int, logTexture bool) (*envmap.Map, error) {
	rad, err := c.Radiance(name)
	if err != nil {
		return nil, err
	}
	plane := rad.W * rad.H
	data := make([]float32, channels*plane)
	for ch := 0; ch < channels; ch++ {
		src := ch % 3
		copy(data[ch*plane:(ch+1)*plane], rad.Pix[src*plane:(src+1)*plane])
	}
	return envmap.FromRadiance(data, channels, rad.H, rad.W, logTexture)
}
