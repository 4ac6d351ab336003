// Package engine implements the cached-document engine: the
// per-table MVCC cache of row.Row, its lifecycle state machine, and the
// public operations a table exposes, backed by a durably dumped XML table
// file (package xmlrow).
package engine

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xflatdb/xflat/query"
	"github.com/xflatdb/xflat/row"
	"github.com/xflatdb/xflat/xmlrow"
	"github.com/xflatdb/xflat/xtx"
)

// unboundedCap is used as the commitIDCap argument wherever an operation has
// no extra visibility ceiling of its own beyond whatever the reader's own
// transaction id already imposes.
const unboundedCap = int64(math.MaxInt64)

// maintenanceInterval is how often the background MVCC cleanup pass runs;
// every tenth pass is a full sweep of the cache rather than just the rows
// currently tracked as uncommitted.
const maintenanceInterval = 500 * time.Millisecond

const fullSweepEvery = 10

// dumpCoalesceWindow is the minimum spacing between deferred durable dumps;
// a dump requested sooner is delayed to lastDump+dumpCoalesceWindow instead
// of firing immediately.
const dumpCoalesceWindow = 250 * time.Millisecond

const dumpRetryAttempts = 3
const dumpRetryBackoff = 50 * time.Millisecond
const dumpFailureThreshold = 5

// Engine is one table's cached-document engine.
type Engine struct {
	name     string
	filePath string
	manager  *xtx.Manager

	stateMu sync.Mutex
	state   State
	cond    *sync.Cond

	mu              sync.RWMutex // the table write lock
	cache           map[string]*row.Row
	uncommittedRows map[string]struct{}

	currentlyCommitting int64 // atomic; -1 means no transaction is mid-commit

	cursorMu   sync.Mutex
	cursorCond *sync.Cond
	cursors    int

	dump dumpState

	stopCh chan struct{}
	wg     sync.WaitGroup

	onSpunDown func()

	logger *log.Entry
}

// New constructs an engine for table name, backed by the file at filePath,
// using manager for transaction id allocation and binding. The engine
// starts Uninitialised; call SpinUp before issuing operations.
func New(name, filePath string, manager *xtx.Manager) *Engine {
	e := &Engine{
		name:                 name,
		filePath:             filePath,
		manager:              manager,
		uncommittedRows:      make(map[string]struct{}),
		currentlyCommitting:  -1,
		stopCh:               make(chan struct{}),
		logger:               log.WithField("table", name),
	}
	e.cond = sync.NewCond(&e.stateMu)
	e.cursorCond = sync.NewCond(&e.cursorMu)
	return e
}

// Name identifies the engine to the transaction manager (xtx.BoundEngine).
func (e *Engine) Name() string { return e.name }

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// OnSpunDown registers a callback fired once, after the engine reaches
// SpunDown, whether by graceful SpinDown or ForceSpinDown.
func (e *Engine) OnSpunDown(f func()) {
	e.onSpunDown = f
}

func (e *Engine) transition(from, to State) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	e.cond.Broadcast()
	return true
}

// waitRunning blocks a caller that arrives during SpinningUp until the
// engine reaches Running, and fails it immediately if the engine has spun
// down or never started.
func (e *Engine) waitRunning() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for e.state == SpinningUp {
		e.cond.Wait()
	}
	if e.state != Running {
		return &StateError{Name: e.name, State: e.state}
	}
	return nil
}

// Ready blocks until the engine reaches Running, returning a *StateError if
// it spins down (or never starts) instead. Used by the table metadata
// manager to wait out a concurrent spin-up it lost a race to start.
func (e *Engine) Ready() error {
	return e.waitRunning()
}

// SpinUp transitions the engine from Uninitialised to Running, reading the
// table file if it exists and populating the cache from it. It
// is a no-op if the engine has already started.
func (e *Engine) SpinUp() error {
	if !e.transition(Uninitialised, SpinningUp) {
		return nil
	}

	e.mu.Lock()
	cache, err := e.loadCache()
	if err != nil {
		e.mu.Unlock()
		// A partially populated cache must never be exposed: the engine moves
		// to SpunDown, so waitRunning fails every caller waiting on or
		// arriving after this spin-up instead of serving a broken cache. A
		// fresh Engine must be constructed to retry.
		e.transition(SpinningUp, SpunDown)
		return fmt.Errorf("engine: spin up %s: %w", e.name, err)
	}
	e.cache = cache
	e.uncommittedRows = make(map[string]struct{})
	e.mu.Unlock()

	e.transition(SpinningUp, SpunUp)
	e.transition(SpunUp, Running)
	e.beginOperations()
	return nil
}

func (e *Engine) loadCache() (map[string]*row.Row, error) {
	cache := make(map[string]*row.Row)

	f, err := os.Open(e.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return cache, nil
		}
		return nil, err
	}
	defer f.Close()

	_, rows, err := xmlrow.Decode(f)
	if err != nil {
		return nil, err
	}
	for _, rv := range rows {
		r := row.New(rv.RowID)
		for _, d := range rv.Data {
			r.Put(d)
		}
		cache[rv.RowID] = r
	}
	return cache, nil
}

// beginOperations starts the background maintenance task; only the caller
// whose SpinUp transitioned SpunUp->Running reaches here.
func (e *Engine) beginOperations() {
	e.wg.Add(1)
	go e.maintenanceLoop()
}

// readerOf adapts tx to row.Reader without risking a non-nil interface
// wrapping a nil *xtx.Transaction (which would panic on ID()).
func readerOf(tx *xtx.Transaction) row.Reader {
	if tx == nil {
		return nil
	}
	return tx
}

func (e *Engine) getRow(id string) (*row.Row, bool) {
	e.mu.RLock()
	r, ok := e.cache[id]
	e.mu.RUnlock()
	return r, ok
}

func (e *Engine) getOrCreateRow(id string) *row.Row {
	e.mu.RLock()
	r, ok := e.cache[id]
	e.mu.RUnlock()
	if ok {
		return r
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.cache[id]; ok {
		return r
	}
	r = row.New(id)
	e.cache[id] = r
	return r
}

// afterWrite performs the bookkeeping every mutator shares: mark
// the row as uncommitted-tracked whenever any transaction is open anywhere,
// and schedule a durable dump.
func (e *Engine) afterWrite(id string) error {
	if e.manager.AnyOpenTransactions() {
		e.mu.Lock()
		e.uncommittedRows[id] = struct{}{}
		e.mu.Unlock()
	}
	return e.scheduleDump()
}

// installVersion builds the RowData a mutator installs: tied to tx if
// present (uncommitted until tx commits), or immediately assigned a fresh,
// globally ordered commit id for an auto-commit write.
func (e *Engine) installVersion(tx *xtx.Transaction, rowID string, element *row.Element) *row.Data {
	if tx != nil {
		return &row.Data{TransactionID: tx.ID(), CommitID: row.Uncommitted, Element: element, RowID: rowID}
	}
	commitID := e.manager.TransactionlessCommitID()
	return &row.Data{TransactionID: commitID, CommitID: commitID, Element: element, RowID: rowID}
}

func visibilityCap(tx *xtx.Transaction) int64 {
	if tx == nil {
		return unboundedCap
	}
	return tx.ID()
}

// InsertRow creates id with element. DuplicateKey if a non-tombstone version
// is already visible to tx.
func (e *Engine) InsertRow(tx *xtx.Transaction, id string, element *row.Element) error {
	if err := e.waitRunning(); err != nil {
		return err
	}

	r := e.getOrCreateRow(id)
	r.Lock()
	existing := r.ChooseMostRecentCommitted(readerOf(tx), visibilityCap(tx))
	if existing != nil && !existing.IsTombstone() {
		r.Unlock()
		return duplicateKeyError(id)
	}
	d := e.installVersion(tx, id, element)
	r.Put(d)
	r.Unlock()

	if tx != nil {
		e.manager.Bind(tx, e)
	}
	return e.afterWrite(id)
}

// ReadRow returns a clone of the version visible to tx, or nil if absent.
func (e *Engine) ReadRow(tx *xtx.Transaction, id string) (*row.Element, error) {
	if err := e.waitRunning(); err != nil {
		return nil, err
	}

	r, ok := e.getRow(id)
	if !ok {
		return nil, nil
	}
	r.Lock()
	d := r.ChooseMostRecentCommitted(readerOf(tx), unboundedCap)
	r.Unlock()
	if d == nil || d.IsTombstone() {
		return nil, nil
	}
	return d.Element.Clone(), nil
}

// ReplaceRow installs a new version of id. KeyNotFound if no version is
// visible to tx.
func (e *Engine) ReplaceRow(tx *xtx.Transaction, id string, element *row.Element) error {
	if err := e.waitRunning(); err != nil {
		return err
	}

	r, ok := e.getRow(id)
	if !ok {
		return keyNotFoundError(id)
	}
	r.Lock()
	existing := r.ChooseMostRecentCommitted(readerOf(tx), unboundedCap)
	if existing == nil || existing.IsTombstone() {
		r.Unlock()
		return keyNotFoundError(id)
	}
	d := e.installVersion(tx, id, element)
	r.Put(d)
	r.Unlock()

	if tx != nil {
		e.manager.Bind(tx, e)
	}
	return e.afterWrite(id)
}

// UpdateRow applies upd to a clone of id's visible version and installs the
// result only if upd reports a change; changed reports whether it did.
// KeyNotFound if no version is visible to tx.
func (e *Engine) UpdateRow(tx *xtx.Transaction, id string, upd query.Update) (changed bool, err error) {
	if err := e.waitRunning(); err != nil {
		return false, err
	}

	r, ok := e.getRow(id)
	if !ok {
		return false, keyNotFoundError(id)
	}
	r.Lock()
	existing := r.ChooseMostRecentCommitted(readerOf(tx), unboundedCap)
	if existing == nil || existing.IsTombstone() {
		r.Unlock()
		return false, keyNotFoundError(id)
	}
	clone := existing.Element.Clone()
	changed, err = upd.Apply(clone)
	if err != nil {
		r.Unlock()
		return false, err
	}
	if !changed {
		r.Unlock()
		return false, nil
	}
	d := e.installVersion(tx, id, clone)
	r.Put(d)
	r.Unlock()

	if tx != nil {
		e.manager.Bind(tx, e)
	}
	if err := e.afterWrite(id); err != nil {
		return changed, err
	}
	return changed, nil
}

// UpdateQuery applies upd to every row matching q, returning the count
// actually changed.
func (e *Engine) UpdateQuery(tx *xtx.Transaction, q query.Query, upd query.Update) (int, error) {
	if err := e.waitRunning(); err != nil {
		return 0, err
	}

	count := 0
	for _, id := range e.snapshotIDs() {
		r, ok := e.getRow(id)
		if !ok {
			continue
		}
		r.Lock()
		existing := r.ChooseMostRecentCommitted(readerOf(tx), unboundedCap)
		if existing == nil || existing.IsTombstone() || !q.Matches(existing.Element) {
			r.Unlock()
			continue
		}
		clone := existing.Element.Clone()
		changed, err := upd.Apply(clone)
		if err != nil {
			r.Unlock()
			return count, err
		}
		if !changed {
			r.Unlock()
			continue
		}
		d := e.installVersion(tx, id, clone)
		r.Put(d)
		r.Unlock()

		if tx != nil {
			e.manager.Bind(tx, e)
		}
		if err := e.afterWrite(id); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// UpsertRow inserts id if absent or replaces it otherwise; inserted reports
// which happened.
func (e *Engine) UpsertRow(tx *xtx.Transaction, id string, element *row.Element) (inserted bool, err error) {
	if err := e.waitRunning(); err != nil {
		return false, err
	}

	r := e.getOrCreateRow(id)
	r.Lock()
	existing := r.ChooseMostRecentCommitted(readerOf(tx), visibilityCap(tx))
	inserted = existing == nil || existing.IsTombstone()
	d := e.installVersion(tx, id, element)
	r.Put(d)
	r.Unlock()

	if tx != nil {
		e.manager.Bind(tx, e)
	}
	if err := e.afterWrite(id); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// DeleteRow installs a tombstone for id. KeyNotFound if no version is
// visible to tx.
func (e *Engine) DeleteRow(tx *xtx.Transaction, id string) error {
	if err := e.waitRunning(); err != nil {
		return err
	}

	r, ok := e.getRow(id)
	if !ok {
		return keyNotFoundError(id)
	}
	r.Lock()
	existing := r.ChooseMostRecentCommitted(readerOf(tx), unboundedCap)
	if existing == nil || existing.IsTombstone() {
		r.Unlock()
		return keyNotFoundError(id)
	}
	d := e.installVersion(tx, id, nil)
	r.Put(d)
	r.Unlock()

	if tx != nil {
		e.manager.Bind(tx, e)
	}
	return e.afterWrite(id)
}

// DeleteAll installs tombstones for every row matching q, returning the
// count deleted.
func (e *Engine) DeleteAll(tx *xtx.Transaction, q query.Query) (int, error) {
	if err := e.waitRunning(); err != nil {
		return 0, err
	}

	count := 0
	for _, id := range e.snapshotIDs() {
		r, ok := e.getRow(id)
		if !ok {
			continue
		}
		r.Lock()
		existing := r.ChooseMostRecentCommitted(readerOf(tx), unboundedCap)
		if existing == nil || existing.IsTombstone() || !q.Matches(existing.Element) {
			r.Unlock()
			continue
		}
		d := e.installVersion(tx, id, nil)
		r.Put(d)
		r.Unlock()

		if tx != nil {
			e.manager.Bind(tx, e)
		}
		if err := e.afterWrite(id); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *Engine) snapshotIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.cache))
	for id := range e.cache {
		ids = append(ids, id)
	}
	return ids
}

// Commit implements xtx.BoundEngine: it stamps tx's versions with their
// final commit id, after checking, for a snapshot-isolated tx, that no row
// it touched was committed by someone else after the snapshot began.
func (e *Engine) Commit(tx *xtx.Transaction, durable bool) error {
	if tx == nil {
		return nil
	}

	if !atomic.CompareAndSwapInt64(&e.currentlyCommitting, -1, tx.ID()) {
		if atomic.LoadInt64(&e.currentlyCommitting) != tx.ID() {
			return &xtx.TransactionStateError{EngineName: e.name}
		}
	}
	defer atomic.CompareAndSwapInt64(&e.currentlyCommitting, tx.ID(), -1)

	commitID := tx.CommitID()

	e.mu.RLock()
	touched := make([]*row.Row, 0, len(e.uncommittedRows))
	for id := range e.uncommittedRows {
		if r, ok := e.cache[id]; ok {
			touched = append(touched, r)
		}
	}
	e.mu.RUnlock()

	var toStamp []*row.Row
	for _, r := range touched {
		r.Lock()
		if _, ok := r.Version[tx.ID()]; !ok {
			r.Unlock()
			continue
		}
		if tx.Isolation() == xtx.Snapshot {
			conflict := false
			for otherTx, other := range r.Version {
				if otherTx == tx.ID() {
					continue
				}
				if other.CommitID != row.Uncommitted && other.CommitID > tx.ID() {
					conflict = true
					break
				}
			}
			if conflict {
				r.Unlock()
				return &xtx.WriteConflictError{RowID: r.RowID}
			}
		}
		toStamp = append(toStamp, r)
		r.Unlock()
	}

	for _, r := range toStamp {
		r.Lock()
		if d, ok := r.Version[tx.ID()]; ok {
			d.CommitID = commitID
		}
		r.Unlock()
	}

	if durable {
		return e.dumpCacheNow()
	}
	return nil
}

// Revert implements xtx.BoundEngine: it removes every version txID wrote.
// When isRecovering, the whole cache is scanned (a crash may have left
// uncommittedRows itself unpopulated); otherwise only uncommittedRows.
func (e *Engine) Revert(txID int64, isRecovering bool) error {
	var ids []string
	e.mu.RLock()
	if isRecovering {
		ids = make([]string, 0, len(e.cache))
		for id := range e.cache {
			ids = append(ids, id)
		}
	} else {
		ids = make([]string, 0, len(e.uncommittedRows))
		for id := range e.uncommittedRows {
			ids = append(ids, id)
		}
	}
	e.mu.RUnlock()

	removedDurable := false
	for _, id := range ids {
		r, ok := e.getRow(id)
		if !ok {
			continue
		}
		r.Lock()
		if d, ok := r.Version[txID]; ok {
			if d.CommitID != row.Uncommitted {
				removedDurable = true
			}
			delete(r.Version, txID)
		}
		stillUncommitted := false
		for _, v := range r.Version {
			if v.CommitID == row.Uncommitted {
				stillUncommitted = true
				break
			}
		}
		r.Unlock()

		if !stillUncommitted {
			e.mu.Lock()
			delete(e.uncommittedRows, id)
			e.mu.Unlock()
		}
	}

	if removedDurable {
		return e.dumpCacheNow()
	}
	return nil
}
