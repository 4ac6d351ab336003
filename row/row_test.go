package row

import "testing"

type fakeTx struct {
	id int64
}

func (f fakeTx) ID() int64 { return f.id }

func elem(s string) *Element { return &Element{XML: []byte(s)} }

func TestChooseMostRecentCommittedReadYourOwnWrites(t *testing.T) {
	r := New("a")
	r.Put(&Data{TransactionID: 5, CommitID: Uncommitted, Element: elem("<x>1</x>"), RowID: "a"})

	got := r.ChooseMostRecentCommitted(fakeTx{id: 5}, 1<<62)
	if got == nil || string(got.Element.XML) != "<x>1</x>" {
		t.Fatalf("expected own write visible, got %v", got)
	}
}

func TestChooseMostRecentCommittedIgnoresUncommittedOfOthers(t *testing.T) {
	r := New("a")
	r.Put(&Data{TransactionID: 5, CommitID: Uncommitted, Element: elem("<x>1</x>"), RowID: "a"})

	got := r.ChooseMostRecentCommitted(fakeTx{id: 6}, 1<<62)
	if got != nil {
		t.Fatalf("expected no visible version, got %v", got)
	}

	got = r.ChooseMostRecentCommitted(nil, 1<<62)
	if got != nil {
		t.Fatalf("expected no visible version for auto-commit reader, got %v", got)
	}
}

func TestChooseMostRecentCommittedPicksHighestCommitWithinSnapshot(t *testing.T) {
	r := New("a")
	r.Put(&Data{TransactionID: 1, CommitID: 10, Element: elem("<x>1</x>"), RowID: "a"})
	r.Put(&Data{TransactionID: 2, CommitID: 20, Element: elem("<x>2</x>"), RowID: "a"})
	r.Put(&Data{TransactionID: 3, CommitID: 30, Element: elem("<x>3</x>"), RowID: "a"})

	// A snapshot reader whose transaction started at id 25 must not observe
	// the version committed at 30.
	got := r.ChooseMostRecentCommitted(fakeTx{id: 25}, 1<<62)
	if got == nil || string(got.Element.XML) != "<x>2</x>" {
		t.Fatalf("expected snapshot to see commit 20, got %v", got)
	}

	got = r.ChooseMostRecentCommitted(nil, 1<<62)
	if got == nil || string(got.Element.XML) != "<x>3</x>" {
		t.Fatalf("expected auto-commit reader to see latest commit, got %v", got)
	}
}

func TestChooseMostRecentCommittedTombstoneIsVisible(t *testing.T) {
	r := New("a")
	r.Put(&Data{TransactionID: 1, CommitID: 10, Element: nil, RowID: "a"})

	got := r.ChooseMostRecentCommitted(nil, 1<<62)
	if got == nil || !got.IsTombstone() {
		t.Fatalf("expected a tombstone to be returned, got %v", got)
	}
}

func TestCleanupRemovesSupersededVersions(t *testing.T) {
	r := New("a")
	r.Put(&Data{TransactionID: 1, CommitID: 10, Element: elem("<x>1</x>"), RowID: "a"})
	r.Put(&Data{TransactionID: 2, CommitID: 20, Element: elem("<x>2</x>"), RowID: "a"})

	// No transaction older than 100 is open anywhere: commit 10 is dead.
	done := r.Cleanup(100)
	if done {
		t.Fatalf("row still has a live non-tombstone version")
	}
	if _, ok := r.Version[1]; ok {
		t.Fatalf("expected superseded version to be removed")
	}
	if _, ok := r.Version[2]; !ok {
		t.Fatalf("expected surviving version to remain")
	}
}

func TestCleanupReportsDropWhenOnlyTombstonesRemain(t *testing.T) {
	r := New("a")
	r.Put(&Data{TransactionID: 1, CommitID: 10, Element: nil, RowID: "a"})

	done := r.Cleanup(100)
	if !done {
		t.Fatalf("expected row eligible for physical removal")
	}
}

func TestCleanupKeepsVersionsVisibleToOpenTransactions(t *testing.T) {
	r := New("a")
	r.Put(&Data{TransactionID: 1, CommitID: 10, Element: elem("<x>1</x>"), RowID: "a"})
	r.Put(&Data{TransactionID: 2, CommitID: 20, Element: elem("<x>2</x>"), RowID: "a"})

	// A transaction that started at id 15 could still be relying on commit 10.
	r.Cleanup(15)
	if _, ok := r.Version[1]; !ok {
		t.Fatalf("expected version still reachable by an open transaction to survive")
	}
}
