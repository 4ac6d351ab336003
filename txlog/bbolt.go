package txlog

import (
	"path/filepath"

	"go.etcd.io/bbolt"
)

var txBucket = []byte("xflat-tx-log")

// BBoltStore is the default Store, grounded on storage/kvrows's bbolt
// backend: a single bucket keyed by big-endian transaction id.
type BBoltStore struct {
	db *bbolt.DB
}

// OpenBBolt opens (creating if necessary) a bbolt-backed transaction log
// under dataDir.
func OpenBBolt(dataDir string) (*BBoltStore, error) {
	db, err := bbolt.Open(filepath.Join(dataDir, "xflat-tx.bbolt"), 0644, nil)
	if err != nil {
		return nil, err
	}
	// The log only needs to survive process crashes, not power loss
	// mid-write, so skip the freelist/fsync cost.
	db.NoFreelistSync = true

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(txBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BBoltStore{db: db}, nil
}

func (s *BBoltStore) Put(rec Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(txBucket).Put(encodeKey(rec.TransactionID), encodeValue(rec))
	})
}

func (s *BBoltStore) Get(id int64) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(txBucket).Get(encodeKey(id))
		if val == nil {
			return ErrNotFound
		}
		rec = decodeValue(encodeKey(id), val)
		return nil
	})
	return rec, err
}

func (s *BBoltStore) Open() ([]Record, error) {
	var open []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(txBucket).ForEach(func(key, val []byte) error {
			rec := decodeValue(key, val)
			if !rec.Reverted && rec.CommitID == -1 {
				open = append(open, rec)
			}
			return nil
		})
	})
	return open, err
}

func (s *BBoltStore) Close() error {
	return s.db.Close()
}
