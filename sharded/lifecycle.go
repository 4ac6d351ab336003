package sharded

import (
	"time"

	"github.com/xflatdb/xflat/engine"
	"github.com/xflatdb/xflat/metadata"
)

// retirementLoop periodically retires shards that have been idle past their
// inactivity threshold with no uncommitted data.
func (e *Engine) retirementLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(retirementInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.retirePass()
		}
	}
}

func (e *Engine) retirePass() {
	e.mu.Lock()
	retiring := make(map[string]*metadata.Metadata)
	for name, md := range e.openShards {
		if md.CanSpinDown() {
			retiring[name] = md
		}
	}
	for name := range retiring {
		delete(e.openShards, name)
	}
	e.mu.Unlock()

	for name, md := range retiring {
		if _, err := md.SpinDown(false); err != nil {
			e.logger.WithError(err).WithField("shard", name).Warn("sharded: background shard retirement failed")
		}
	}
}

// SpinDown transitions Running -> SpinningDown, spins down every open child,
// and blocks until every child reaches a terminal state, then transitions to
// SpunDown. A no-op if not Running (idempotent spin-down).
func (e *Engine) SpinDown() error {
	if !e.transition(engine.Running, engine.SpinningDown) {
		return nil
	}

	e.mu.Lock()
	for name, md := range e.openShards {
		e.spinningDown[name] = md
		delete(e.openShards, name)
	}
	e.mu.Unlock()

	for {
		e.mu.Lock()
		for name, md := range e.spinningDown {
			still, err := md.SpinDown(false)
			if err != nil {
				e.logger.WithError(err).WithField("shard", name).Warn("sharded: shard spin-down failed")
			}
			if still == nil {
				delete(e.spinningDown, name)
			}
		}
		done := len(e.spinningDown) == 0
		e.mu.Unlock()

		if done {
			break
		}
		time.Sleep(monitorInterval)
	}

	close(e.stopCh)
	e.wg.Wait()

	e.transition(engine.SpinningDown, engine.SpunDown)
	if e.onSpunDown != nil {
		e.onSpunDown()
	}
	return nil
}

// ForceSpinDown jumps directly to SpunDown, force-spinning-down every open
// and spinning-down child without waiting for uncommitted data to clear.
func (e *Engine) ForceSpinDown() {
	e.stateMu.Lock()
	if e.state == engine.SpunDown {
		e.stateMu.Unlock()
		return
	}
	e.state = engine.SpunDown
	e.stateMu.Unlock()

	e.mu.Lock()
	all := make([]*metadata.Metadata, 0, len(e.openShards)+len(e.spinningDown))
	for _, md := range e.openShards {
		all = append(all, md)
	}
	for _, md := range e.spinningDown {
		all = append(all, md)
	}
	e.openShards = make(map[string]*metadata.Metadata)
	e.spinningDown = make(map[string]*metadata.Metadata)
	e.mu.Unlock()

	for _, md := range all {
		md.SpinDown(true)
	}

	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}

	if e.onSpunDown != nil {
		e.onSpunDown()
	}
}

func (e *Engine) transition(from, to engine.State) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	return true
}

// OnSpunDown registers a callback fired once the engine reaches SpunDown.
func (e *Engine) OnSpunDown(f func()) {
	e.onSpunDown = f
}

// State returns the sharded engine's own lifecycle state (distinct from any
// child's).
func (e *Engine) State() engine.State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}
