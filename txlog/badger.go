package txlog

import (
	"os"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"
)

// BadgerStore is an alternative Store for deployments already running
// badger for other embedded storage, grounded on storage/kvrows's badger
// backend.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if necessary) a badger-backed transaction log
// under dataDir.
func OpenBadger(dataDir string, logger *log.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dataDir)
	opts.ValueDir = dataDir
	opts.Logger = logger
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(rec Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(rec.TransactionID), encodeValue(rec))
	})
}

func (s *BadgerStore) Get(id int64) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = decodeValue(encodeKey(id), val)
			return nil
		})
	})
	return rec, err
}

func (s *BadgerStore) Open() ([]Record, error) {
	var open []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				rec := decodeValue(key, val)
				if !rec.Reverted && rec.CommitID == -1 {
					open = append(open, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return open, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
