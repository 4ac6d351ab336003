// Package metadata implements the table metadata manager: one
// instance per logical table, owning spin-up/spin-down of that table's
// engine plus the state that must survive an engine spin-down entirely —
// the id generator's counter, round-tripped through the table's
// engine-metadata element.
package metadata

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xflatdb/xflat/engine"
	"github.com/xflatdb/xflat/idgen"
)

// Config holds the per-table tunables this manager consults.
type Config struct {
	// InactivityShutdown is how long an engine must sit idle, with no
	// uncommitted data, before CanSpinDown reports true.
	InactivityShutdown time.Duration
}

// EngineFactory constructs a fresh, Uninitialised engine for one spin-up of
// a table; callers typically close over a shared *xtx.Manager.
type EngineFactory func(name, filePath string) *engine.Engine

// Metadata owns one table's engine lifecycle and id generator.
type Metadata struct {
	name     string
	filePath string
	config   Config
	factory  EngineFactory
	idGen    idgen.Generator

	metaMu sync.Mutex
	meta   map[string]string // the engine-metadata element's attributes

	activityMu   sync.Mutex
	lastActivity time.Time

	cell atomic.Pointer[engine.Engine]

	logger *log.Entry
}

// New constructs a table's metadata manager. initialMeta is the
// engine-metadata element's attributes as loaded from the parent table
// metadata file (nil for a brand new table); if idGen is a
// idgen.StatefulGenerator, its counter is restored from initialMeta
// immediately, since the counter must keep advancing across spin-downs that
// happen within the same process.
func New(name, filePath string, config Config, factory EngineFactory, idGen idgen.Generator, initialMeta map[string]string) *Metadata {
	m := &Metadata{
		name:         name,
		filePath:     filePath,
		config:       config,
		factory:      factory,
		idGen:        idGen,
		meta:         make(map[string]string, len(initialMeta)),
		lastActivity: time.Now(),
		logger:       log.WithField("table", name),
	}
	for k, v := range initialMeta {
		m.meta[k] = v
	}
	if sg, ok := idGen.(idgen.StatefulGenerator); ok {
		sg.LoadState(func(attr string) (string, bool) {
			v, ok := m.meta[attr]
			return v, ok
		})
	}
	return m
}

// Name returns the table's name.
func (m *Metadata) Name() string { return m.name }

// IDGenerator returns the table's id generator.
func (m *Metadata) IDGenerator() idgen.Generator { return m.idGen }

// ProvideEngine updates lastActivity and returns a running engine for this
// table, spinning one up if absent or spun down.
func (m *Metadata) ProvideEngine() (*engine.Engine, error) {
	m.touch()

	for {
		cur := m.cell.Load()
		if cur != nil && cur.State() != engine.SpunDown {
			if err := cur.Ready(); err == nil {
				return cur, nil
			}
			// cur spun down while we waited; fall through and replace it.
			cur = m.cell.Load()
		}

		candidate := m.factory(m.name, m.filePath)

		if m.cell.CompareAndSwap(cur, candidate) {
			if err := candidate.SpinUp(); err != nil {
				m.cell.CompareAndSwap(candidate, nil)
				return nil, err
			}
			return candidate, nil
		}

		// Lost the race: another caller installed a different engine first.
		// Spin-wait briefly for it to reach Running before retrying from
		// scratch.
		deadline := time.Now().Add(250 * time.Nanosecond)
		for time.Now().Before(deadline) {
			if winner := m.cell.Load(); winner != nil && winner.State() == engine.Running {
				return winner, nil
			}
		}
	}
}

// SpinDown spins this table's engine down. If the engine has uncommitted
// data and !force, it is left running and returned unchanged; otherwise the
// engine cell is cleared and the engine is spun down (ForceSpinDown if the
// graceful path is rejected and force is set). A successful graceful
// spin-down calls saveMetadata so the next spin-up starts from the updated
// id generator state.
func (m *Metadata) SpinDown(force bool) (stillRunning *engine.Engine, err error) {
	cur := m.cell.Load()
	if cur == nil {
		return nil, nil
	}
	if cur.HasUncommittedData() && !force {
		return cur, nil
	}

	m.cell.CompareAndSwap(cur, nil)

	if err := cur.SpinDown(); err != nil {
		if force {
			cur.ForceSpinDown()
			return nil, nil
		}
		return nil, err
	}
	m.saveMetadata()
	return nil, nil
}

// CanSpinDown reports whether this table's engine has been idle longer than
// the configured inactivity threshold and has no uncommitted data — an
// absent engine counts as having no uncommitted data, but the inactivity
// threshold still applies.
func (m *Metadata) CanSpinDown() bool {
	m.activityMu.Lock()
	idle := time.Since(m.lastActivity) >= m.config.InactivityShutdown
	m.activityMu.Unlock()
	if !idle {
		return false
	}

	cur := m.cell.Load()
	if cur == nil {
		return true
	}
	return !cur.HasUncommittedData()
}

func (m *Metadata) touch() {
	m.activityMu.Lock()
	m.lastActivity = time.Now()
	m.activityMu.Unlock()
}

// saveMetadata writes the id generator's persistable state (if any) into
// the in-memory engine-metadata element.
func (m *Metadata) saveMetadata() {
	sg, ok := m.idGen.(idgen.StatefulGenerator)
	if !ok {
		return
	}
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	sg.SaveState(func(attr, value string) {
		m.meta[attr] = value
	})
}

// MetaAttrs returns a copy of the engine-metadata element's current
// attributes, for the parent table-metadata file writer to persist.
func (m *Metadata) MetaAttrs() map[string]string {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	out := make(map[string]string, len(m.meta))
	for k, v := range m.meta {
		out[k] = v
	}
	return out
}
