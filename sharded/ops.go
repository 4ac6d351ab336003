package sharded

import (
	"github.com/xflatdb/xflat/engine"
	"github.com/xflatdb/xflat/query"
	"github.com/xflatdb/xflat/row"
	"github.com/xflatdb/xflat/xtx"
)

// ReplaceRow routes to the child for element's shard-property value.
func (e *Engine) ReplaceRow(tx *xtx.Transaction, id string, element *row.Element) error {
	iv, err := e.routeInterval(element)
	if err != nil {
		return err
	}
	return e.withChild(iv, func(c *engine.Engine) error { return c.ReplaceRow(tx, id, element) })
}

// UpsertRow routes to the child for element's shard-property value.
func (e *Engine) UpsertRow(tx *xtx.Transaction, id string, element *row.Element) (bool, error) {
	iv, err := e.routeInterval(element)
	if err != nil {
		return false, err
	}
	var inserted bool
	err = e.withChild(iv, func(c *engine.Engine) error {
		var err error
		inserted, err = c.UpsertRow(tx, id, element)
		return err
	})
	return inserted, err
}

// UpdateRow must be given the shard-property value directly, for the same
// reason ReadRow must: locating id's shard without it would require probing
// every shard.
func (e *Engine) UpdateRow(tx *xtx.Transaction, id string, shardValue int64, upd query.Update) (bool, error) {
	iv := e.provider.GetInterval(shardValue)
	var changed bool
	err := e.withChild(iv, func(c *engine.Engine) error {
		var err error
		changed, err = c.UpdateRow(tx, id, upd)
		return err
	})
	return changed, err
}

// DeleteRow must be given the shard-property value directly; see UpdateRow.
func (e *Engine) DeleteRow(tx *xtx.Transaction, id string, shardValue int64) error {
	iv := e.provider.GetInterval(shardValue)
	return e.withChild(iv, func(c *engine.Engine) error { return c.DeleteRow(tx, id) })
}

// UpdateQuery applies upd to every row matching q across every known shard,
// opening shards on demand, and returns the total count changed.
func (e *Engine) UpdateQuery(tx *xtx.Transaction, q query.Query, upd query.Update) (int, error) {
	total := 0
	for _, name := range e.allShardNames() {
		iv, ok := e.provider.GetIntervalByName(name)
		if !ok {
			continue
		}
		var n int
		err := e.withChild(iv, func(c *engine.Engine) error {
			var err error
			n, err = c.UpdateQuery(tx, q, upd)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DeleteAll deletes every row matching q across every known shard, opening
// shards on demand, and returns the total count deleted.
func (e *Engine) DeleteAll(tx *xtx.Transaction, q query.Query) (int, error) {
	total := 0
	for _, name := range e.allShardNames() {
		iv, ok := e.provider.GetIntervalByName(name)
		if !ok {
			continue
		}
		var n int
		err := e.withChild(iv, func(c *engine.Engine) error {
			var err error
			n, err = c.DeleteAll(tx, q)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
