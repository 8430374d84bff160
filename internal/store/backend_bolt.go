package store

import "go.etcd.io/bbolt"

// boltBackend is the production backend, adapted from the teacher's
// storage_bolt.go: a thin adapter from our flat 3-bucket model onto
// *bbolt.DB / *bbolt.Tx / *bbolt.Bucket / *bbolt.Cursor.
type boltBackend struct {
	bdb *bbolt.DB
}

func openBolt(path string, opt Options) (backend, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = defaultOpenTimeout
	if opt.CacheCapacityBytes > 0 {
		bopt.InitialMmapSize = int(opt.CacheCapacityBytes)
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, err
	}

	err = bdb.Update(func(btx *bbolt.Tx) error {
		for b := Bucket(0); b < numBuckets; b++ {
			if _, err := btx.CreateBucketIfNotExists([]byte(b.name())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &boltBackend{bdb: bdb}, nil
}

func (s *boltBackend) BeginTx(writable bool) (backendTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTx{btx: btx}, nil
}

func (s *boltBackend) Close() error { return s.bdb.Close() }

type boltTx struct {
	btx *bbolt.Tx
}

func (tx *boltTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltTx) Bucket(b Bucket) backendBucket {
	raw := tx.btx.Bucket([]byte(b.name()))
	if raw == nil {
		return nil
	}
	return boltBucketHandle{b: raw}
}

func (tx *boltTx) Commit() error { return tx.btx.Commit() }

func (tx *boltTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltBucketHandle struct {
	b *bbolt.Bucket
}

func (h boltBucketHandle) Get(key []byte) []byte { return h.b.Get(key) }

func (h boltBucketHandle) Put(key, value []byte) error { return h.b.Put(key, value) }

func (h boltBucketHandle) Delete(key []byte) error { return h.b.Delete(key) }

func (h boltBucketHandle) KeyCount() int { return h.b.Stats().KeyN }

func (h boltBucketHandle) Cursor() backendCursor { return boltCursor{c: h.b.Cursor()} }

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte)        { return c.c.First() }
func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }
func (c boltCursor) Next() ([]byte, []byte)         { return c.c.Next() }
