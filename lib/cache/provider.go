package cache

import (
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// Provider hands out one Cache per remote file, so reopening a file reuses its cached pages
type Provider struct {
	config common.CacheConfig
	caches *xsync.MapOf[string, *Cache]
}

// NewProvider creates an empty provider whose caches use config
func NewProvider(config common.CacheConfig) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	return &Provider{
		config: config,
		caches: xsync.NewMapOf[string, *Cache](),
	}, nil
}

// PathKey builds the cache key of file path inside the archive with the given handle
func PathKey(archive uint64, path string) string {
	return fmt.Sprintf("%016X:%s", archive, path)
}

// ProvideCache returns the cache stored under key. If there is none and create is set, a cache
// on top of backend is created and stored, otherwise nil is returned.
func (p *Provider) ProvideCache(key string, backend IBackend, create bool) *Cache {
	if !create {
		c, _ := p.caches.Load(key)
		return c
	}

	c, loaded := p.caches.LoadOrCompute(key, func() *Cache {
		// The config was validated by NewProvider, creating the LRUs can not fail
		c, err := newCache(backend, p.config)
		if err != nil {
			panic(err)
		}
		return c
	})
	if !loaded {
		Logger.Debugf("Created cache for %s", key)
	}
	return c
}

// Remove drops the cache stored under key
func (p *Provider) Remove(key string) {
	p.caches.Delete(key)
}

// ClearAll clears every cache but keeps them registered
func (p *Provider) ClearAll() {
	p.caches.Range(func(_ string, c *Cache) bool {
		c.Clear()
		return true
	})
}

// Len returns the number of registered caches
func (p *Provider) Len() int {
	return p.caches.Size()
}
