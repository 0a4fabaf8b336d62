package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

const boltBucketName = "snapshots"

type boltBackend struct {
	bdb *bbolt.DB
}

// OpenBolt opens (creating if needed) a Store persisted in a Bolt file.
func OpenBolt(path string, opt Options) (Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(unsafeBytesFromString(boltBucketName))
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return newStore(&boltBackend{bdb: bdb}, opt), nil
}

func (b *boltBackend) get(name string) ([]byte, error) {
	var result []byte
	err := b.bdb.View(func(btx *bbolt.Tx) error {
		// values are only valid for the life of the transaction
		result = bytes.Clone(b.bucket(btx).Get(unsafeBytesFromString(name)))
		return nil
	})
	return result, mapBoltErr(err)
}

func (b *boltBackend) put(name string, data []byte) error {
	return mapBoltErr(b.bdb.Update(func(btx *bbolt.Tx) error {
		return b.bucket(btx).Put([]byte(name), data)
	}))
}

func (b *boltBackend) delete(name string) (bool, error) {
	var found bool
	err := b.bdb.Update(func(btx *bbolt.Tx) error {
		bkt := b.bucket(btx)
		key := unsafeBytesFromString(name)
		found = bkt.Get(key) != nil
		if !found {
			return nil
		}
		return bkt.Delete(key)
	})
	return found, mapBoltErr(err)
}

func (b *boltBackend) names() ([]string, error) {
	var names []string
	err := b.bdb.View(func(btx *bbolt.Tx) error {
		c := b.bucket(btx).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	return names, mapBoltErr(err)
}

func (b *boltBackend) close() error {
	return b.bdb.Close()
}

func (b *boltBackend) bucket(btx *bbolt.Tx) *bbolt.Bucket {
	bkt := btx.Bucket(unsafeBytesFromString(boltBucketName))
	if bkt == nil {
		panic(fmt.Errorf("snapshot: missing bucket %q", boltBucketName))
	}
	return bkt
}

func mapBoltErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
