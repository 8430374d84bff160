package store

import "bytes"

// CountPrefix returns the number of entries in b whose key starts with
// prefix. Used for the refs-tree "how many keys point at this hash"
// check central to the dedup engine; it walks every matching entry, so
// its cost grows with the count. HasPrefix is the single-seek check.
func CountPrefix(b backendBucket, prefix []byte) int {
	c := b.Cursor()
	n := 0
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		n++
	}
	return n
}

// HasPrefix reports whether any entry in b has the given prefix,
// without counting past the first match — the "last referrer" check
// of spec.md §9 only needs existence, not a count.
func HasPrefix(b backendBucket, prefix []byte) bool {
	c := b.Cursor()
	k, _ := c.Seek(prefix)
	return k != nil && bytes.HasPrefix(k, prefix)
}

// Entry is one key/value pair returned by a range scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// ScanPage returns up to limit entries starting at the offset-th entry
// in ascending key order, the ordered-scan-with-skip-count semantics
// LIST needs (spec.md §4.C.LIST).
func ScanPage(b backendBucket, offset, limit int) []Entry {
	c := b.Cursor()
	k, v := c.First()
	for i := 0; i < offset && k != nil; i++ {
		k, v = c.Next()
	}
	out := make([]Entry, 0, limit)
	for len(out) < limit && k != nil {
		out = append(out, Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		k, v = c.Next()
	}
	return out
}
