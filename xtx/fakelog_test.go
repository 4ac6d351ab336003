package xtx

import "github.com/xflatdb/xflat/txlog"

// fakeLog is a minimal in-memory txlog.Store for exercising Manager without
// touching disk.
type fakeLog struct {
	records map[int64]txlog.Record
}

func newFakeLog() *fakeLog {
	return &fakeLog{records: make(map[int64]txlog.Record)}
}

func (f *fakeLog) Put(rec txlog.Record) error {
	f.records[rec.TransactionID] = rec
	return nil
}

func (f *fakeLog) Get(id int64) (txlog.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return txlog.Record{}, txlog.ErrNotFound
	}
	return rec, nil
}

func (f *fakeLog) Open() ([]txlog.Record, error) {
	var open []txlog.Record
	for _, rec := range f.records {
		if !rec.Reverted && rec.CommitID == -1 {
			open = append(open, rec)
		}
	}
	return open, nil
}

func (f *fakeLog) Close() error { return nil }

func fakeRecordOpen(txID int64) txlog.Record {
	return txlog.Record{TransactionID: txID, CommitID: -1}
}

func fakeRecordCommitted(txID, commitID int64) txlog.Record {
	return txlog.Record{TransactionID: txID, CommitID: commitID}
}
