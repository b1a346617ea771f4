// Package ingresscache implements the Ingress Cache: a bounded LRU from
// ingress host to AppInfo, paired with a byte-keyed prefix trie enabling
// longest-prefix lookup, kept current by a background Kubernetes watcher.
package ingresscache

import (
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Capacity is the fixed LRU size. Eviction is least-recently-used on both
// read and write.
const Capacity = 2000

// Cache is the process-wide ingress attribution store. The LRU and trie are
// guarded by independent locks; a trie hit followed by an LRU miss (the LRU
// having evicted an entry the trie still remembers) is a tolerated miss, not
// an inconsistency.
type Cache struct {
	lruMu sync.Mutex
	lru   *lru.Cache[string, AppInfo]

	trieMu sync.Mutex
	trie   *iradix.Tree[string]

	watcherOnce sync.Once

	snapshot *Snapshot
}

// AttachSnapshot mirrors every subsequent Insert to the given snapshot.
// Mirror failures are not propagated to the caller — the snapshot is a
// warm-start optimization, not a correctness dependency.
func (c *Cache) AttachSnapshot(s *Snapshot) {
	c.snapshot = s
}

// New constructs an empty cache.
func New() *Cache {
	l, err := lru.New[string, AppInfo](Capacity)
	if err != nil {
		// Capacity is a positive compile-time constant; New only errors on
		// size <= 0.
		panic("ingresscache: " + err.Error())
	}
	return &Cache{
		lru:  l,
		trie: iradix.New[string](),
	}
}

// Insert puts info into the LRU keyed by host, and inserts host into the
// prefix trie. The two updates are independent and not atomic with respect
// to each other, matching the cache's documented concurrency contract.
func (c *Cache) Insert(host string, info AppInfo) {
	c.lruMu.Lock()
	c.lru.Add(host, info)
	c.lruMu.Unlock()

	c.trieMu.Lock()
	c.trie, _, _ = c.trie.Insert([]byte(host), host)
	c.trieMu.Unlock()

	if c.snapshot != nil {
		_ = c.snapshot.Save(host, info)
	}
}

// LongestPrefixLookup finds the longest inserted host that is a prefix of
// candidate and returns its AppInfo. Returns false if no inserted host is a
// prefix, or if the trie holds a host the LRU has since evicted.
func (c *Cache) LongestPrefixLookup(candidate string) (AppInfo, bool) {
	c.trieMu.Lock()
	tree := c.trie
	c.trieMu.Unlock()

	_, host, found := tree.Root().LongestPrefix([]byte(candidate))
	if !found {
		return AppInfo{}, false
	}

	c.lruMu.Lock()
	info, ok := c.lru.Get(host)
	c.lruMu.Unlock()
	if !ok {
		return AppInfo{}, false
	}
	return info, true
}

// Len returns the current LRU size.
func (c *Cache) Len() int {
	c.lruMu.Lock()
	defer c.lruMu.Unlock()
	return c.lru.Len()
}

// StartOnce runs start at most once for the lifetime of the cache, however
// many goroutines call StartOnce concurrently. This is the standard
// one-shot primitive alternative to a sequentially-consistent CAS gate —
// the observable guarantee (at most one watcher task) is the same.
func (c *Cache) StartOnce(start func()) {
	c.watcherOnce.Do(start)
}
