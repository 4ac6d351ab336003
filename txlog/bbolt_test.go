package txlog

import "testing"

func TestBBoltStorePutGetOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBBolt(dir)
	if err != nil {
		t.Fatalf("OpenBBolt: %s", err)
	}
	defer s.Close()

	if err := s.Put(Record{TransactionID: 1, CommitID: -1}); err != nil {
		t.Fatalf("Put: %s", err)
	}
	if err := s.Put(Record{TransactionID: 2, CommitID: 5}); err != nil {
		t.Fatalf("Put: %s", err)
	}

	rec, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if rec.CommitID != -1 {
		t.Fatalf("expected open transaction, got commit id %d", rec.CommitID)
	}

	if _, err := s.Get(99); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	open, err := s.Open()
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	if len(open) != 1 || open[0].TransactionID != 1 {
		t.Fatalf("expected exactly transaction 1 still open, got %+v", open)
	}
}

func TestBBoltStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBBolt(dir)
	if err != nil {
		t.Fatalf("OpenBBolt: %s", err)
	}
	if err := s.Put(Record{TransactionID: 7, CommitID: -1}); err != nil {
		t.Fatalf("Put: %s", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	s2, err := OpenBBolt(dir)
	if err != nil {
		t.Fatalf("reopen: %s", err)
	}
	defer s2.Close()

	open, err := s2.Open()
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	if len(open) != 1 || open[0].TransactionID != 7 {
		t.Fatalf("expected crash-recoverable transaction 7, got %+v", open)
	}
}
