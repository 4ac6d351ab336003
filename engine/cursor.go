package engine

import (
	"github.com/xflatdb/xflat/query"
	"github.com/xflatdb/xflat/row"
	"github.com/xflatdb/xflat/xtx"
)

// Cursor lazily iterates an engine's cache under one transaction's snapshot
//. It must be closed so that a pending spin-down can
// observe the open-cursors set drain.
type Cursor struct {
	e      *Engine
	tx     *xtx.Transaction
	q      query.Query
	ids    []string
	idx    int
	closed bool
}

// QueryTable returns a cursor over rows visible to tx and matching q (nil
// matches everything), registered in the engine's open-cursors set so that
// SpinDown waits for it to close.
func (e *Engine) QueryTable(tx *xtx.Transaction, q query.Query) (*Cursor, error) {
	if err := e.waitRunning(); err != nil {
		return nil, err
	}

	e.cursorMu.Lock()
	e.cursors++
	e.cursorMu.Unlock()

	return &Cursor{e: e, tx: tx, q: q, ids: e.snapshotIDs()}, nil
}

// Next advances the cursor, returning the next matching row's id and a
// clone of its visible element. ok is false once the cursor is exhausted.
func (c *Cursor) Next() (id string, element *row.Element, ok bool) {
	if c.closed {
		return "", nil, false
	}
	for c.idx < len(c.ids) {
		id := c.ids[c.idx]
		c.idx++

		r, exists := c.e.getRow(id)
		if !exists {
			continue
		}
		r.Lock()
		d := r.ChooseMostRecentCommitted(readerOf(c.tx), unboundedCap)
		r.Unlock()
		if d == nil || d.IsTombstone() {
			continue
		}
		if c.q != nil && !c.q.Matches(d.Element) {
			continue
		}
		return id, d.Element.Clone(), true
	}
	return "", nil, false
}

// Close releases the cursor's slot in the engine's open-cursors set. Safe to
// call more than once.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true

	c.e.cursorMu.Lock()
	c.e.cursors--
	if c.e.cursors == 0 {
		c.e.cursorCond.Broadcast()
	}
	c.e.cursorMu.Unlock()
}
