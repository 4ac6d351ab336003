package txlog

import (
	"os"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

// PebbleStore is an alternative Store backed by cockroachdb/pebble,
// grounded on storage/kvrows's pebble backend.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (creating if necessary) a pebble-backed transaction log
// under dataDir.
func OpenPebble(dataDir string, logger *log.Logger) (*PebbleStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dataDir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Put(rec Record) error {
	return s.db.Set(encodeKey(rec.TransactionID), encodeValue(rec), pebble.NoSync)
}

func (s *PebbleStore) Get(id int64) (Record, error) {
	val, closer, err := s.db.Get(encodeKey(id))
	if err == pebble.ErrNotFound {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeValue(encodeKey(id), val), nil
}

func (s *PebbleStore) Open() ([]Record, error) {
	it := s.db.NewIter(nil)
	defer it.Close()

	var open []Record
	for it.First(); it.Valid(); it.Next() {
		rec := decodeValue(it.Key(), it.Value())
		if !rec.Reverted && rec.CommitID == -1 {
			open = append(open, rec)
		}
	}
	return open, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
