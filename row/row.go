// Package row implements the MVCC version cell that backs every table row:
// a Row owns one RowData per writing transaction, and chooseMostRecentCommitted
// resolves which version a given reader should observe.
package row

import (
	"math"
	"sync"
)

// Uncommitted marks a RowData whose transaction has not yet committed.
const Uncommitted int64 = -1

// Element is the row's content: the raw inner XML of a <row> version, opaque
// to this package. The XPath query/update compiler (out of scope here) is
// the only component that parses or mutates it; row/engine code only ever
// clones, stores, and serialises it verbatim.
type Element struct {
	XML []byte
}

// Clone returns a deep copy, safe to hand to a reader or mutate in place
// ahead of installing it as a new version.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	cp := make([]byte, len(e.XML))
	copy(cp, e.XML)
	return &Element{XML: cp}
}

// Data is a single version of a row: the state written by one transaction.
// A Data with no Element is a tombstone recording a delete.
type Data struct {
	TransactionID int64
	CommitID      int64
	Element       *Element
	RowID         string
}

// IsTombstone reports whether this version represents a delete.
func (d *Data) IsTombstone() bool {
	return d == nil || d.Element == nil
}

// Reader describes the transaction (if any) a read or write is occurring
// under, enough for chooseMostRecentCommitted to decide visibility.
type Reader interface {
	ID() int64
}

// Row is the MVCC cell for a single rowId: a map from transaction id to the
// version that transaction wrote, protected by its own mutex so that writers
// to different rows never contend.
type Row struct {
	mu      sync.Mutex
	RowID   string
	Version map[int64]*Data
}

// New creates an empty Row for the given id.
func New(rowID string) *Row {
	return &Row{
		RowID:   rowID,
		Version: make(map[int64]*Data, 1),
	}
}

// Put installs a new version, keyed by its TransactionID. At most one Data
// per transaction id may exist at a time. As with ChooseMostRecentCommitted,
// the caller must hold r's lock once r is shared.
func (r *Row) Put(d *Data) {
	r.Version[d.TransactionID] = d
}

// Lock/Unlock expose the row mutex directly so callers that need to read,
// decide, and write under a single critical section (e.g. insert's
// duplicate-key check) can do so without a second lookup.
func (r *Row) Lock()   { r.mu.Lock() }
func (r *Row) Unlock() { r.mu.Unlock() }

// ChooseMostRecentCommitted returns the version that a reader bound to tx
// (nil for an auto-commit reader) should observe, given a visibility cap of
// commitIDCap. The caller must hold r's lock.
//
// 1. Read-your-own-writes: a version written by tx itself always wins.
// 2. Otherwise the highest-commitId version with commitId != -1, commitId <=
//    commitIDCap, and commitId <= tx's transaction id (if tx is bound) wins.
// 3. If nothing qualifies, nil is returned; a tombstone is a valid non-nil
//    result meaning "no row" to callers.
func (r *Row) ChooseMostRecentCommitted(tx Reader, commitIDCap int64) *Data {
	if tx != nil {
		if d, ok := r.Version[tx.ID()]; ok {
			return d
		}
	}

	readerCap := int64(math.MaxInt64)
	if tx != nil {
		readerCap = tx.ID()
	}

	var best *Data
	for _, d := range r.Version {
		if d.CommitID == Uncommitted {
			continue
		}
		if d.CommitID > commitIDCap {
			continue
		}
		if d.CommitID > readerCap {
			continue
		}
		if best == nil || d.CommitID > best.CommitID {
			best = d
		}
	}
	return best
}

// CommittedVersions returns every committed version of the row, in no
// particular order. Used by the table-file serialiser, which must never see
// an uncommitted version.
func (r *Row) CommittedVersions() []*Data {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Data, 0, len(r.Version))
	for _, d := range r.Version {
		if d.CommitID != Uncommitted {
			out = append(out, d)
		}
	}
	return out
}

// Cleanup discards versions that can never be observed again: a version is
// superseded once a strictly newer committed version exists and no live
// transaction could still need to see the older one (approximated here by
// minActiveTx, the lowest transaction id of any transaction currently open
// anywhere in the owning engine — a version committed before every open
// transaction started, and superseded by a later commit, is unreachable).
//
// Cleanup reports true when, after pruning, the Row holds only tombstones or
// nothing at all, signalling to the caller that the Row itself may be
// dropped from the cache under the table write lock.
func (r *Row) Cleanup(minActiveTx int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var committed []*Data
	for _, d := range r.Version {
		if d.CommitID != Uncommitted {
			committed = append(committed, d)
		}
	}

	for _, d := range committed {
		if d.CommitID >= minActiveTx {
			// A transaction that started before or at this commit might
			// still be open and need to see it; never collect it.
			continue
		}
		superseded := false
		for _, other := range committed {
			if other == d {
				continue
			}
			if other.CommitID > d.CommitID && other.CommitID < minActiveTx {
				superseded = true
				break
			}
		}
		if superseded {
			delete(r.Version, d.TransactionID)
		}
	}

	if len(r.Version) == 0 {
		return true
	}
	for _, d := range r.Version {
		if !d.IsTombstone() {
			return false
		}
	}
	return true
}
