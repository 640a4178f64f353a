// Package geo enriches destination addresses with location and organization data.
package geo

import (
	"net/netip"
	"sync"

	"PacketRadar/internal/model"
)

// Source resolves a parsed address. ok is false when no usable record exists.
type Source interface {
	Resolve(ip netip.Addr) (model.GeoInfo, bool)
}

type entry struct {
	info model.GeoInfo
	ok   bool
}

// Cache memoizes a Source by IP string. Failed lookups are cached too, so a
// destination is resolved at most once for the lifetime of the cache.
// It is safe for concurrent use.
type Cache struct {
	src     Source
	mu      sync.RWMutex
	entries map[string]entry
}

// NewCache wraps src. A nil src yields a cache that never resolves anything.
func NewCache(src Source) *Cache {
	return &Cache{src: src, entries: make(map[string]entry)}
}

// Open loads the databases in dir and wraps them in a Cache.
func Open(dir string) (*Cache, *Databases, error) {
	dbs, err := OpenDatabases(dir)
	if err != nil {
		return nil, nil, err
	}
	return NewCache(dbs), dbs, nil
}

// Lookup implements model.GeoLookup.
func (c *Cache) Lookup(ip string) (model.GeoInfo, bool) {
	c.mu.RLock()
	e, hit := c.entries[ip]
	c.mu.RUnlock()
	if hit {
		return e.info, e.ok
	}

	e = c.resolve(ip)

	c.mu.Lock()
	if prev, raced := c.entries[ip]; raced {
		e = prev
	} else {
		c.entries[ip] = e
	}
	c.mu.Unlock()
	return e.info, e.ok
}

func (c *Cache) resolve(ip string) entry {
	if c.src == nil {
		return entry{}
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return entry{}
	}
	info, ok := c.src.Resolve(addr.Unmap())
	return entry{info: info, ok: ok}
}

// Len returns the number of memoized addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Static is a fixed, map-backed Source keyed by IP string.
type Static map[string]model.GeoInfo

// Resolve implements Source.
func (s Static) Resolve(ip netip.Addr) (model.GeoInfo, bool) {
	info, ok := s[ip.String()]
	return info, ok
}
