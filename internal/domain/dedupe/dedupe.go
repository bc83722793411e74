// Package dedupe tracks in-flight work so duplicate submissions coalesce.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50000

// Index maps a work key to the job currently handling it.
type Index interface {
	// Claim records jobID for key unless key is already claimed.
	// Returns the owning job id and whether this call claimed it.
	Claim(ctx context.Context, key, jobID string) (string, bool)

	// Release frees key if it is still owned by jobID.
	Release(ctx context.Context, key, jobID string)

	// Lookup returns the job owning key.
	Lookup(ctx context.Context, key string) (string, bool)

	Size() int64
}

// Key builds the index key for a subject at a state fingerprint.
func Key(subjectID, fingerprint string) string {
	return subjectID + "|" + fingerprint
}

// node is one entry of the insertion-ordered list.
type node struct {
	key        string
	jobID      string
	prev, next *node
}

func (n *node) reset() {
	n.key, n.jobID = "", ""
	n.prev, n.next = nil, nil
}

// inMemoryIndex keeps entries in a doubly linked list, newest at head.
// When bounded, claiming past maxSize evicts the oldest entry.
type inMemoryIndex struct {
	mu       sync.Mutex
	entries  map[string]*node
	head     *node
	tail     *node
	maxSize  int // <= 0 means unbounded
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryIndex creates an in-memory index.
func NewInMemoryIndex(opts ...Option) Index {
	d := &inMemoryIndex{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.entries = make(map[string]*node)
	d.nodePool = sync.Pool{New: func() interface{} { return &node{} }}
	return d
}

func (d *inMemoryIndex) Claim(_ context.Context, key, jobID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.entries[key]; ok {
		return n.jobID, false
	}
	if d.maxSize > 0 && len(d.entries) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.key, n.jobID = key, jobID
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
	d.entries[key] = n
	d.size.Add(1)
	return jobID, true
}

func (d *inMemoryIndex) Release(_ context.Context, key, jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.entries[key]; ok && n.jobID == jobID {
		d.unlink(n)
	}
}

func (d *inMemoryIndex) Lookup(_ context.Context, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.entries[key]; ok {
		return n.jobID, true
	}
	return "", false
}

// evictOldest must be called with d.mu held.
func (d *inMemoryIndex) evictOldest() {
	if d.tail != nil {
		d.unlink(d.tail)
	}
}

// unlink must be called with d.mu held.
func (d *inMemoryIndex) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.entries, n.key)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// Size returns the current number of entries.
func (d *inMemoryIndex) Size() int64 {
	return d.size.Load()
}
