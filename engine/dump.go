package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xflatdb/xflat/xmlrow"
)

// dumpState tracks the coalesced deferred-dump schedule and the backpressure
// applied once repeated dumps fail.
type dumpState struct {
	mu       sync.Mutex
	lastDump time.Time
	pending  bool
	waitCh   chan struct{}
	failures int
}

// scheduleDump is the entry point every mutator calls. Ordinarily it just
// arms (or leaves armed) the coalesced deferred dump. Once 5 dump failures
// have accumulated, the calling writer is instead made to wait on the
// pending dump (or perform one synchronously) so that the failure surfaces
// to a caller rather than being silently retried forever in the background.
func (e *Engine) scheduleDump() error {
	e.dump.mu.Lock()
	failures := e.dump.failures
	pending := e.dump.pending
	waitCh := e.dump.waitCh
	e.dump.mu.Unlock()

	if failures < dumpFailureThreshold {
		e.deferDump()
		return nil
	}

	if pending {
		<-waitCh
		e.dump.mu.Lock()
		failed := e.dump.failures > 0
		e.dump.mu.Unlock()
		if failed {
			return fmt.Errorf("engine: deferred dump of %s failed", e.name)
		}
		return nil
	}
	return e.dumpCacheNow()
}

// deferDump arms a coalesced dump: if one is already pending, this is a
// no-op; otherwise it schedules dumpCacheNow to run immediately, or at
// lastDump+dumpCoalesceWindow if a dump happened too recently.
func (e *Engine) deferDump() {
	e.dump.mu.Lock()
	if e.dump.pending {
		e.dump.mu.Unlock()
		return
	}
	e.dump.pending = true
	e.dump.waitCh = make(chan struct{})

	delay := time.Until(e.dump.lastDump.Add(dumpCoalesceWindow))
	if delay < 0 {
		delay = 0
	}
	e.dump.mu.Unlock()

	time.AfterFunc(delay, func() {
		if err := e.dumpCacheNow(); err != nil {
			e.logger.WithError(err).Warn("engine: deferred dump failed")
		}
	})
}

// dumpCacheNow performs an immediate durable dump, retrying on a transient
// file-not-found up to dumpRetryAttempts times with dumpRetryBackoff between
// attempts.
func (e *Engine) dumpCacheNow() error {
	e.dump.mu.Lock()
	e.dump.pending = false
	waitCh := e.dump.waitCh
	e.dump.waitCh = nil
	e.dump.mu.Unlock()

	err := e.writeTableFileWithRetry()

	e.dump.mu.Lock()
	if err != nil {
		e.dump.failures++
	} else {
		e.dump.failures = 0
		e.dump.lastDump = time.Now()
	}
	e.dump.mu.Unlock()

	if waitCh != nil {
		close(waitCh)
	}
	return err
}

func (e *Engine) writeTableFileWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < dumpRetryAttempts; attempt++ {
		err := e.writeTableFile()
		if err == nil {
			return nil
		}
		lastErr = err
		if !os.IsNotExist(err) {
			return err
		}
		time.Sleep(dumpRetryBackoff)
	}
	return lastErr
}

// writeTableFile serialises the cache's committed versions to a temp file
// and renames it into place, so that a reader never observes a partially
// written table file. Once spin-down has released the cache it returns a
// *StateError instead of writing an empty table.
func (e *Engine) writeTableFile() error {
	e.mu.RLock()
	if e.cache == nil {
		e.mu.RUnlock()
		return &StateError{Name: e.name, State: e.State()}
	}
	rows := make([]xmlrow.Versions, 0, len(e.cache))
	for id, r := range e.cache {
		rows = append(rows, xmlrow.Versions{RowID: id, Data: r.CommittedVersions()})
	}
	e.mu.RUnlock()

	tmp := e.filePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := xmlrow.Encode(f, e.name, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, e.filePath)
}
