package engine

// SpinDown gracefully shuts the engine down: stop background
// maintenance, run a final full cleanup pass, dump durably, wait for open
// cursors to drain, then mark the engine SpunDown and replace its cache
// with nil. From then on public operations fail with a *StateError, and a
// deferred dump that fires later returns an error instead of writing an
// empty table file. A no-op if the engine is not Running (idempotent
// spin-down).
func (e *Engine) SpinDown() error {
	if !e.transition(Running, SpinningDown) {
		return nil
	}

	close(e.stopCh)
	e.wg.Wait()

	minActive := e.manager.OldestOpenTransaction()
	e.mu.Lock()
	for id, r := range e.cache {
		if r.Cleanup(minActive) {
			delete(e.cache, id)
			delete(e.uncommittedRows, id)
		}
	}
	e.mu.Unlock()

	var dumpErr error
	for attempt := 0; attempt < dumpRetryAttempts; attempt++ {
		if dumpErr = e.dumpCacheNow(); dumpErr == nil {
			break
		}
	}
	if dumpErr != nil {
		e.logger.WithError(dumpErr).Warn("engine: spin-down dump did not succeed")
	}

	e.cursorMu.Lock()
	for e.cursors > 0 {
		e.cursorCond.Wait()
	}
	e.cursorMu.Unlock()

	e.stateMu.Lock()
	e.state = SpunDown
	e.cond.Broadcast()
	e.stateMu.Unlock()

	e.mu.Lock()
	e.cache = nil
	e.mu.Unlock()

	if e.onSpunDown != nil {
		e.onSpunDown()
	}
	return dumpErr
}

// ForceSpinDown jumps directly to SpunDown without running cleanup, a final
// dump, or waiting for cursors; used when a parent sharded engine is tearing
// down aggressively.
func (e *Engine) ForceSpinDown() {
	e.stateMu.Lock()
	if e.state == SpunDown {
		e.stateMu.Unlock()
		return
	}
	e.state = SpunDown
	e.cond.Broadcast()
	e.stateMu.Unlock()

	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}

	e.mu.Lock()
	e.cache = nil
	e.mu.Unlock()

	if e.onSpunDown != nil {
		e.onSpunDown()
	}
}

// HasUncommittedData reports whether this engine currently tracks any row
// as uncommitted, used by the table metadata manager's canSpinDown check.
func (e *Engine) HasUncommittedData() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.uncommittedRows) > 0
}
