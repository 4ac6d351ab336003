// Package sharded implements the sharded engine base: routes
// operations to per-interval child engines keyed by a configurable
// shard-property selector, lazily creating child table files and retiring
// idle shards in the background. It composes metadata.Metadata directly
// rather than through an inheritance chain of engine base types.
package sharded

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"

	"github.com/xflatdb/xflat/convert"
	"github.com/xflatdb/xflat/engine"
	"github.com/xflatdb/xflat/interval"
	"github.com/xflatdb/xflat/metadata"
	"github.com/xflatdb/xflat/query"
	"github.com/xflatdb/xflat/row"
	"github.com/xflatdb/xflat/xtx"
)

// retirementInterval is how often the background task checks for shards
// that can spin down.
const retirementInterval = 500 * time.Millisecond

// monitorInterval is how often a parent's own spin-down monitor re-checks
// its children.
const monitorInterval = 10 * time.Millisecond

// MetadataFactory creates (or loads) the metadata.Metadata for one shard,
// named after the interval's canonical name.
type MetadataFactory func(shardName string) *metadata.Metadata

// Engine routes rows across child engines by the interval their
// shard-property selector value falls into.
type Engine struct {
	name      string
	shardDir  string
	selector  string
	convertor convert.Service
	provider  interval.Provider
	factory   MetadataFactory

	shardIndex *btree.BTree

	mu             sync.Mutex // the spin-down sync root
	openShards     map[string]*metadata.Metadata
	knownShards    map[string]struct{}
	spinningDown   map[string]*metadata.Metadata

	state   engine.State
	stateMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	onSpunDown func()
	logger     *log.Entry
}

// shardEntry orders known shards by their interval's lower bound, for a
// directory-style ordered index over shard names.
type shardEntry struct {
	iv       interval.Interval
	name     string
	provider interval.Provider
}

func (s shardEntry) Less(than btree.Item) bool {
	return s.provider.Less(s.iv, than.(shardEntry).iv)
}

// New constructs a sharded engine. knownShardNames lists the shard names
// discovered on disk at spin-up (e.g. by globbing shardDir for *.xml), so
// that known-but-not-yet-open shards are represented in the index before
// anything routes to them.
func New(name, shardDir, selector string, convertor convert.Service, provider interval.Provider, factory MetadataFactory, knownShardNames []string) *Engine {
	e := &Engine{
		name:         name,
		shardDir:     shardDir,
		selector:     selector,
		convertor:    convertor,
		provider:     provider,
		factory:      factory,
		shardIndex:   btree.New(32),
		openShards:   make(map[string]*metadata.Metadata),
		knownShards:  make(map[string]struct{}),
		spinningDown: make(map[string]*metadata.Metadata),
		state:        engine.Running,
		stopCh:       make(chan struct{}),
		logger:       log.WithField("shard-group", name),
	}
	for _, shardName := range knownShardNames {
		if iv, ok := provider.GetIntervalByName(shardName); ok {
			e.knownShards[shardName] = struct{}{}
			e.shardIndex.ReplaceOrInsert(shardEntry{iv: iv, name: shardName, provider: provider})
		}
	}
	e.wg.Add(1)
	go e.retirementLoop()
	return e
}

func (e *Engine) shardPath(shardName string) string {
	return filepath.Join(e.shardDir, shardName+".xml")
}

// routeInterval evaluates the shard-property selector against element and
// asks the interval provider for the interval it falls into. A nil or
// non-convertible value is a routing failure, never a silent default.
func (e *Engine) routeInterval(element *row.Element) (interval.Interval, error) {
	value, err := e.convertor.Convert(element, e.selector)
	if err != nil {
		return interval.Interval{}, &convert.ConversionError{Selector: e.selector, Err: err}
	}
	n, ok := value.(int64)
	if !ok {
		return interval.Interval{}, &convert.ConversionError{Selector: e.selector, Value: value}
	}
	return e.provider.GetInterval(n), nil
}

// getEngine returns the metadata manager for iv's shard, creating it through
// the metadata factory and registering it in openShards if this is the first
// access. The shard's table file is written by its engine's first dump.
func (e *Engine) getEngine(iv interval.Interval) (*metadata.Metadata, error) {
	name := e.provider.GetName(iv)

	e.mu.Lock()
	if md, ok := e.openShards[name]; ok {
		e.mu.Unlock()
		return md, nil
	}
	if e.state == engine.SpunDown {
		e.mu.Unlock()
		return nil, &engine.StateError{Name: e.name, State: e.state}
	}

	md := e.factory(name)
	e.openShards[name] = md
	e.knownShards[name] = struct{}{}
	e.shardIndex.ReplaceOrInsert(shardEntry{iv: iv, name: name, provider: e.provider})
	if e.state == engine.SpinningDown {
		e.spinningDown[name] = md
	}
	e.mu.Unlock()

	return md, nil
}

// withChild resolves iv's child engine and invokes fn, retrying exactly
// once against a freshly resolved child if fn reports that the child spun
// down between lookup and call.
func (e *Engine) withChild(iv interval.Interval, fn func(*engine.Engine) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		md, err := e.getEngine(iv)
		if err != nil {
			return err
		}
		child, err := md.ProvideEngine()
		if err != nil {
			if attempt == 0 {
				continue
			}
			return err
		}
		err = fn(child)
		if _, isStateErr := err.(*engine.StateError); isStateErr && attempt == 0 {
			continue
		}
		return err
	}
	return fmt.Errorf("sharded: child for interval %s unavailable after retry", iv)
}

// InsertRow routes to the child for element's shard-property value.
func (e *Engine) InsertRow(tx *xtx.Transaction, id string, element *row.Element) error {
	iv, err := e.routeInterval(element)
	if err != nil {
		return err
	}
	return e.withChild(iv, func(c *engine.Engine) error { return c.InsertRow(tx, id, element) })
}

// ReadRow must be given the shard-property value directly, since a lookup
// by row id alone cannot determine which shard to search without reading
// every shard (a cost the sharded engine does not hide silently).
func (e *Engine) ReadRow(tx *xtx.Transaction, id string, shardValue int64) (*row.Element, error) {
	iv := e.provider.GetInterval(shardValue)
	var out *row.Element
	err := e.withChild(iv, func(c *engine.Engine) error {
		el, err := c.ReadRow(tx, id)
		out = el
		return err
	})
	return out, err
}

// Query opens a cursor on every known shard and returns them in shard
// order, one per shard, without merging them; shards not yet open (known
// only from the on-disk directory listing) are opened on demand.
func (e *Engine) Query(tx *xtx.Transaction, q query.Query) ([]*engine.Cursor, error) {
	names := e.allShardNames()
	cursors := make([]*engine.Cursor, 0, len(names))
	for _, name := range names {
		iv, ok := e.provider.GetIntervalByName(name)
		if !ok {
			continue
		}
		md, err := e.getEngine(iv)
		if err != nil {
			return nil, err
		}
		child, err := md.ProvideEngine()
		if err != nil {
			return nil, err
		}
		cur, err := child.QueryTable(tx, q)
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, cur)
	}
	return cursors, nil
}

// allShardNames returns every known shard name in interval order, via the
// ordered shard index, so that a full-table query walks shards the same way
// the directory-derived names would sort.
func (e *Engine) allShardNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.knownShards))
	e.shardIndex.Ascend(func(item btree.Item) bool {
		names = append(names, item.(shardEntry).name)
		return true
	})
	return names
}
