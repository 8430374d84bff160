package store

import (
	"bytes"
	"slices"
	"sort"
	"sync"
)

// memBackend is a transient in-memory backend for tests, adapted from
// the teacher's storage_mem.go. It snapshots all three buckets on
// BeginTx so readers and writers never observe each other's
// in-progress mutations, mirroring bbolt's MVCC semantics closely
// enough for unit tests that don't exercise true concurrent commit
// ordering.
type memBackend struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets [numBuckets]*memBucket
	closed  bool
	writer  bool
}

func newMemBackend() backend {
	s := &memBackend{}
	for i := range s.buckets {
		s.buckets[i] = &memBucket{}
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memBackend) BeginTx(writable bool) (backendTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, ErrClosed
		}
		s.writer = true
	}

	var snap [numBuckets]*memBucket
	for i, b := range s.buckets {
		snap[i] = b.clone()
	}

	return &memTx{base: s, writable: writable, buckets: snap}, nil
}

func (s *memBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memBackend
	writable bool
	buckets  [numBuckets]*memBucket
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Bucket(b Bucket) backendBucket {
	return memBucketHandle{tx: tx, b: tx.buckets[b]}
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return nil
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return ErrClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	out := &memBucket{items: make([]memKV, len(b.items))}
	for i, kv := range b.items {
		out.items[i] = memKV{key: slices.Clone(kv.key), value: slices.Clone(kv.value)}
	}
	return out
}

func (b *memBucket) find(key []byte) (int, bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (h memBucketHandle) Get(key []byte) []byte {
	i, ok := h.b.find(key)
	if !ok {
		return nil
	}
	return h.b.items[i].value
}

func (h memBucketHandle) Put(key, value []byte) error {
	key = slices.Clone(key)
	value = slices.Clone(value)
	i, ok := h.b.find(key)
	if ok {
		h.b.items[i].value = value
		return nil
	}
	h.b.items = slices.Insert(h.b.items, i, memKV{key: key, value: value})
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	i, ok := h.b.find(key)
	if !ok {
		return nil
	}
	h.b.items = slices.Delete(h.b.items, i, i+1)
	return nil
}

func (h memBucketHandle) KeyCount() int { return len(h.b.items) }

func (h memBucketHandle) Cursor() backendCursor {
	return &memCursor{b: h.b, pos: -1}
}

type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) First() ([]byte, []byte) {
	if len(c.b.items) == 0 {
		return nil, nil
	}
	c.pos = 0
	kv := c.b.items[0]
	return kv.key, kv.value
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	})
	c.pos = i
	if i >= len(items) {
		return nil, nil
	}
	kv := items[i]
	return kv.key, kv.value
}

func (c *memCursor) Next() ([]byte, []byte) {
	c.pos++
	if c.pos < 0 || c.pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}
