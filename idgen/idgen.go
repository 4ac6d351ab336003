// Package idgen implements the two id-generator strategies a table may
// configure: a stateless UUID generator for string-only ids, and
// a stateful integer generator whose counter survives engine spin-down by
// round-tripping through the table's metadata element.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator mints new row ids and renders/parses them against the string
// form stored on disk.
type Generator interface {
	// Supports reports whether this generator can produce ids of kind.
	Supports(kind Kind) bool
	// Generate mints a fresh id of kind.
	Generate(kind Kind) (interface{}, error)
	// ToString renders id in its canonical string form (e.g. as a row's
	// "id" attribute).
	ToString(id interface{}) string
	// FromString parses s back into an id of kind.
	FromString(s string, kind Kind) (interface{}, error)
}

// Kind enumerates the Go types an id-holding field may declare.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindInt64
	KindFloat64
)

// StatefulGenerator additionally persists its internal counter into a
// table's metadata element, so that ids stay unique across a spin-down and
// later spin-up of the same table.
type StatefulGenerator interface {
	Generator
	SaveState(set func(attr, value string))
	LoadState(get func(attr string) (string, bool))
}

// UUID is the stateless generator: it supports only string ids, each a
// randomly generated UUID (RFC 4122 version 4), and requires no persisted
// state.
type UUID struct{}

func (UUID) Supports(kind Kind) bool { return kind == KindString }

func (UUID) Generate(kind Kind) (interface{}, error) {
	if kind != KindString {
		return nil, fmt.Errorf("idgen: uuid generator does not support kind %v", kind)
	}
	return uuid.NewString(), nil
}

func (UUID) ToString(id interface{}) string {
	s, _ := id.(string)
	return s
}

func (UUID) FromString(s string, kind Kind) (interface{}, error) {
	if kind != KindString {
		return nil, fmt.Errorf("idgen: uuid generator does not support kind %v", kind)
	}
	return s, nil
}

// maxIDAttr is the metadata attribute the integer generator's counter is
// persisted under.
const maxIDAttr = "maxId"

// Integer is the stateful generator: an atomic counter, one per Integer
// value, shared by every id that value mints, supporting int, int64, float64, and string
// representations of the same underlying integer value.
type Integer struct {
	last int64
}

func (g *Integer) Supports(kind Kind) bool {
	switch kind {
	case KindString, KindInt, KindInt64, KindFloat64:
		return true
	default:
		return false
	}
}

func (g *Integer) Generate(kind Kind) (interface{}, error) {
	id := atomic.AddInt64(&g.last, 1)
	switch kind {
	case KindInt:
		return int(id), nil
	case KindInt64:
		return id, nil
	case KindFloat64:
		return float64(id), nil
	case KindString:
		return strconv.FormatInt(id, 10), nil
	default:
		return nil, fmt.Errorf("idgen: integer generator does not support kind %v", kind)
	}
}

func (g *Integer) ToString(id interface{}) string {
	if id == nil {
		return "0"
	}
	switch v := id.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprint(v)
	}
}

func (g *Integer) FromString(s string, kind Kind) (interface{}, error) {
	if kind == KindString {
		return s, nil
	}
	if s == "" {
		s = "0"
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("idgen: invalid integer id %q: %w", s, err)
	}
	switch kind {
	case KindInt:
		return int(n), nil
	case KindInt64:
		return n, nil
	case KindFloat64:
		return float64(n), nil
	default:
		return nil, fmt.Errorf("idgen: integer generator does not support kind %v", kind)
	}
}

// SaveState records the current counter value as the maxId attribute.
func (g *Integer) SaveState(set func(attr, value string)) {
	set(maxIDAttr, strconv.FormatInt(atomic.LoadInt64(&g.last), 10))
}

// LoadState restores the counter from a previously saved maxId attribute,
// leaving it at zero if the attribute is absent or unparsable (a fresh
// table has no prior state to restore).
func (g *Integer) LoadState(get func(attr string) (string, bool)) {
	v, ok := get(maxIDAttr)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return
	}
	atomic.StoreInt64(&g.last, n)
}
