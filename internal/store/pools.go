package store

import "sync"

// refKeyPool recycles the hash‖key composite-key buffer that PutTx
// builds for the new ref on every PUT, following the teacher's pools.go
// (keyBytesPool). DELETE and PUT's removal of an old ref build their
// composite keys with hash.Hash.WithKey instead and do not use it.
var refKeyPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 256)
		return &b
	},
}

// GetRefKeyBuf returns a pooled buffer with at least capacity n.
func GetRefKeyBuf(n int) *[]byte {
	p := refKeyPool.Get().(*[]byte)
	if cap(*p) < n {
		*p = make([]byte, 0, n)
	}
	*p = (*p)[:0]
	return p
}

// PutRefKeyBuf returns a buffer obtained from GetRefKeyBuf.
func PutRefKeyBuf(p *[]byte) {
	refKeyPool.Put(p)
}
