// Package cache holds compiled templates keyed by file path, with LRU
// eviction and invalidation on file modification.
package cache

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/errors"
)

// Compiler turns template source into a tree.
type Compiler func(source string) (*ast.Root, error)

// TemplateCache caches compiled templates with LRU eviction. An entry is
// reused only while the file's modification time and size are unchanged.
type TemplateCache struct {
	entries    map[string]*entry
	mutex      sync.RWMutex
	maxEntries int
	group      singleflight.Group

	// LRU implementation
	head *entry
	tail *entry

	hits      int64
	misses    int64
	compiles  int64
	evictions int64
}

type entry struct {
	path     string
	root     *ast.Root
	modTime  time.Time
	size     int64
	loadedAt time.Time

	prev *entry
	next *entry
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries    int   `json:"entries"`
	MaxEntries int   `json:"max_entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Compiles   int64 `json:"compiles"`
	Evictions  int64 `json:"evictions"`
}

// New creates a cache holding at most maxEntries templates. A
// non-positive size disables eviction.
func New(maxEntries int) *TemplateCache {
	c := &TemplateCache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
	}

	c.head = &entry{}
	c.tail = &entry{}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Load returns the compiled template at path, compiling it when absent or
// stale. Concurrent loads of the same path share one compilation.
func (c *TemplateCache) Load(path string, compile Compiler) (*ast.Root, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Invalidate(path)
			return nil, errors.NewIOError(errors.ErrCodeTemplateNotFound,
				fmt.Sprintf("template %s not found", path), err)
		}
		return nil, errors.NewIOError(errors.ErrCodeInvalidPath,
			fmt.Sprintf("cannot stat template %s", path), err)
	}

	if root, ok := c.lookup(path, info); ok {
		atomic.AddInt64(&c.hits, 1)
		return root, nil
	}
	atomic.AddInt64(&c.misses, 1)

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeTemplateNotFound,
				fmt.Sprintf("cannot read template %s", path), err)
		}

		atomic.AddInt64(&c.compiles, 1)
		root, err := compile(string(source))
		if err != nil {
			return nil, err
		}

		c.store(path, root, info)
		return root, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ast.Root), nil
}

func (c *TemplateCache) lookup(path string, info os.FileInfo) (*ast.Root, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, exists := c.entries[path]
	if !exists {
		return nil, false
	}
	if !e.modTime.Equal(info.ModTime()) || e.size != info.Size() {
		c.removeFromList(e)
		delete(c.entries, path)
		return nil, false
	}

	c.moveToFront(e)
	return e.root, true
}

func (c *TemplateCache) store(path string, root *ast.Root, info os.FileInfo) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, ok := c.entries[path]; ok {
		existing.root = root
		existing.modTime = info.ModTime()
		existing.size = info.Size()
		existing.loadedAt = time.Now()
		c.moveToFront(existing)
		return
	}

	c.evictIfNeeded()

	e := &entry{
		path:     path,
		root:     root,
		modTime:  info.ModTime(),
		size:     info.Size(),
		loadedAt: time.Now(),
	}
	c.entries[path] = e
	c.addToFront(e)
}

// evictIfNeeded makes room for one more entry.
func (c *TemplateCache) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}
	for len(c.entries) >= c.maxEntries && c.tail.prev != c.head {
		lru := c.tail.prev
		c.removeFromList(lru)
		delete(c.entries, lru.path)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// Invalidate drops path from the cache. It reports whether an entry existed.
func (c *TemplateCache) Invalidate(path string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, exists := c.entries[path]
	if !exists {
		return false
	}
	c.removeFromList(e)
	delete(c.entries, path)
	return true
}

// Clear drops every entry and resets statistics.
func (c *TemplateCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*entry)
	c.head.next = c.tail
	c.tail.prev = c.head

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.compiles, 0)
	atomic.StoreInt64(&c.evictions, 0)
}

// Stats returns the current counters.
func (c *TemplateCache) Stats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return Stats{
		Entries:    len(c.entries),
		MaxEntries: c.maxEntries,
		Hits:       atomic.LoadInt64(&c.hits),
		Misses:     atomic.LoadInt64(&c.misses),
		Compiles:   atomic.LoadInt64(&c.compiles),
		Evictions:  atomic.LoadInt64(&c.evictions),
	}
}

// Paths returns cached paths from most to least recently used.
func (c *TemplateCache) Paths() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	paths := make([]string, 0, len(c.entries))
	for e := c.head.next; e != c.tail; e = e.next {
		paths = append(paths, e.path)
	}
	return paths
}

// LRU doubly-linked list operations
func (c *TemplateCache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *TemplateCache) removeFromList(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *TemplateCache) moveToFront(e *entry) {
	c.removeFromList(e)
	c.addToFront(e)
}
