package xtx

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xflatdb/xflat/txlog"
)

// BoundEngine is the capability an engine exposes to the transaction
// manager so that a transaction that fails on one engine can be reverted on
// every engine it touched.
type BoundEngine interface {
	Name() string
	Commit(tx *Transaction, durable bool) error
	Revert(txID int64, isRecovering bool) error
}

type binding struct {
	tx       *Transaction
	engines  map[BoundEngine]struct{}
	finished bool
}

// Manager allocates transaction and commit ids and tracks, per transaction,
// which engines it has touched. It is process-wide within a database and is
// passed explicitly into every engine at construction.
type Manager struct {
	mu   sync.Mutex
	log  txlog.Store
	tids map[int64]*binding

	lastAllocated int64 // last transaction or commit id handed out
}

// NewManager creates a Manager backed by store for crash recovery. store may
// be nil, in which case the manager provides no crash recovery (useful for
// tests and for purely in-memory tables).
func NewManager(store txlog.Store) *Manager {
	return &Manager{
		log:  store,
		tids: make(map[int64]*binding),
	}
}

// nextID allocates a fresh, strictly increasing id. Transaction-id
// allocation is time-based (so that a higher id also means "started
// later"), but a bare nanosecond clock is not guaranteed monotonic across
// calls under clock skew or coalesced timer resolution, so we enforce it
// explicitly: max(now, lastAllocated+1).
func (m *Manager) nextID() int64 {
	now := time.Now().UnixNano()
	next := m.lastAllocated + 1
	if now > next {
		next = now
	}
	m.lastAllocated = next
	return next
}

// Begin starts a new transaction with the given isolation level.
func (m *Manager) Begin(isolation Isolation) *Transaction {
	m.mu.Lock()
	id := m.nextID()
	tx := &Transaction{id: id, isolation: isolation, commitID: -1}
	m.tids[id] = &binding{tx: tx, engines: make(map[BoundEngine]struct{})}
	m.mu.Unlock()

	if m.log != nil {
		if err := m.log.Put(txlog.Record{TransactionID: id, CommitID: -1}); err != nil {
			log.WithError(err).WithField("tx", id).Warn("xtx: failed to persist new transaction")
		}
	}
	return tx
}

// TransactionlessCommitID returns a fresh, globally ordered commit id for an
// auto-commit write that has no bound transaction.
func (m *Manager) TransactionlessCommitID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID()
}

// AnyOpenTransactions reports whether any transaction is currently active
// anywhere, regardless of which engines it has touched.
func (m *Manager) AnyOpenTransactions() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.tids {
		if !b.finished {
			return true
		}
	}
	return false
}

// OldestOpenTransaction returns the lowest transaction id among all
// currently active transactions, or math.MaxInt64 if none are open. Engines
// use this as the cleanup pass's visibility floor.
func (m *Manager) OldestOpenTransaction() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldest := int64(math.MaxInt64)
	for id, b := range m.tids {
		if !b.finished && id < oldest {
			oldest = id
		}
	}
	return oldest
}

// IsTransactionCommitted returns the commit id assigned to txID, or -1 if it
// has not committed (including if it is unknown to this manager, which
// indicates a transactionless write rather than an error here).
func (m *Manager) IsTransactionCommitted(txID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.tids[txID]
	if !ok || !b.finished {
		return -1
	}
	return b.tx.commitID
}

// IsTransactionReverted reports whether txID was rolled back rather than
// committed.
func (m *Manager) IsTransactionReverted(txID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.tids[txID]
	if !ok {
		return false
	}
	return b.finished && b.tx.commitID == -1
}

// Bind records that tx has performed an operation against engine, so that a
// later cross-engine commit failure can revert tx everywhere it has
// touched.
func (m *Manager) Bind(tx *Transaction, engine BoundEngine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.tids[tx.id]
	if !ok {
		b = &binding{tx: tx, engines: make(map[BoundEngine]struct{})}
		m.tids[tx.id] = b
	}
	b.engines[engine] = struct{}{}
}

// UnbindEngineExceptFrom removes engine's binding from every transaction
// except those listed in keep. The cached-document engine's background
// maintenance pass calls this once it has determined which open
// transaction ids it still needs to track.
func (m *Manager) UnbindEngineExceptFrom(engine BoundEngine, keep []int64) {
	keepSet := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.tids {
		if _, ok := keepSet[id]; ok {
			continue
		}
		delete(b.engines, engine)
	}
}

// boundEngines returns the engines tx has touched, in no particular order.
func (m *Manager) boundEngines(tx *Transaction) []BoundEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.tids[tx.id]
	if !ok {
		return nil
	}
	engines := make([]BoundEngine, 0, len(b.engines))
	for e := range b.engines {
		engines = append(engines, e)
	}
	return engines
}

// Commit commits tx against every engine it has touched. If any engine
// rejects the commit (most commonly with a WriteConflictError), every
// engine tx was bound to is reverted and the original error is returned.
func (m *Manager) Commit(tx *Transaction, durable bool) error {
	tx.mu.Lock()
	if tx.st != active {
		tx.mu.Unlock()
		return ErrTransactionComplete
	}
	tx.mu.Unlock()

	engines := m.boundEngines(tx)

	m.mu.Lock()
	commitID := m.nextID()
	m.mu.Unlock()

	// The commit id is made visible to engines before every engine has
	// actually agreed to commit, so that each engine's Commit can stamp its
	// own row versions with it; it is rolled back to -1 below if any engine
	// rejects the commit.
	tx.mu.Lock()
	tx.commitID = commitID
	tx.mu.Unlock()

	var failed error
	for _, e := range engines {
		if err := e.Commit(tx, durable); err != nil {
			failed = err
			break
		}
	}

	if failed != nil {
		tx.mu.Lock()
		tx.commitID = -1
		tx.st = reverted
		tx.mu.Unlock()

		// Every engine the transaction touched must end reverted, including
		// the one that rejected the commit: its own
		// uncommitted versions still need to be torn down.
		for _, e := range engines {
			if err := e.Revert(tx.id, false); err != nil {
				log.WithError(err).WithField("engine", e.Name()).
					Warn("xtx: failed to revert engine after cross-engine commit failure")
			}
		}
		m.finish(tx, -1, true)
		return failed
	}

	tx.mu.Lock()
	tx.st = committed
	tx.mu.Unlock()

	m.finish(tx, commitID, false)
	return nil
}

// Revert rolls tx back on every engine it has touched.
func (m *Manager) Revert(tx *Transaction) error {
	tx.mu.Lock()
	if tx.st != active {
		tx.mu.Unlock()
		return ErrTransactionComplete
	}
	tx.st = reverted
	tx.mu.Unlock()

	var firstErr error
	for _, e := range m.boundEngines(tx) {
		if err := e.Revert(tx.id, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.finish(tx, -1, true)
	return firstErr
}

func (m *Manager) finish(tx *Transaction, commitID int64, isRevert bool) {
	m.mu.Lock()
	if b, ok := m.tids[tx.id]; ok {
		b.finished = true
	}
	m.mu.Unlock()

	if m.log != nil {
		rec := txlog.Record{TransactionID: tx.id, CommitID: commitID, Reverted: isRevert}
		if err := m.log.Put(rec); err != nil {
			log.WithError(err).WithField("tx", tx.id).Warn("xtx: failed to persist transaction outcome")
		}
	}
}

// Recover returns the set of transaction ids that the durable log believes
// were never resolved, for replay of Revert(txId, isRecovering=true) against
// every engine at spin-up.
func (m *Manager) Recover() ([]int64, error) {
	if m.log == nil {
		return nil, nil
	}
	recs, err := m.log.Open()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.TransactionID)
	}
	return ids, nil
}
