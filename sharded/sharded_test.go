package sharded

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/xflatdb/xflat/engine"
	"github.com/xflatdb/xflat/idgen"
	"github.com/xflatdb/xflat/interval"
	"github.com/xflatdb/xflat/metadata"
	"github.com/xflatdb/xflat/row"
	"github.com/xflatdb/xflat/xtx"
)

// valueAttr is a throwaway stand-in for the real selector-evaluation
// collaborator: it extracts the integer from a v="N" attribute.
var valueAttr = regexp.MustCompile(`v="(-?\d+)"`)

type intConvertor struct{}

func (intConvertor) Convert(element *row.Element, selector string) (interface{}, error) {
	m := valueAttr.FindSubmatch(element.XML)
	if m == nil {
		return nil, os.ErrInvalid
	}
	n, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func newTestSharded(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	mgr := xtx.NewManager(nil)
	provider, err := interval.NewInt64Provider(100, 0)
	if err != nil {
		t.Fatalf("NewInt64Provider: %s", err)
	}

	var sh *Engine
	factory := func(shardName string) *metadata.Metadata {
		path := filepath.Join(dir, shardName+".xml")
		engFactory := func(name, filePath string) *engine.Engine { return engine.New(name, filePath, mgr) }
		return metadata.New(shardName, path, metadata.Config{InactivityShutdown: time.Hour}, engFactory, &idgen.UUID{}, nil)
	}

	sh = New("people", dir, "value", intConvertor{}, provider, factory, nil)
	t.Cleanup(sh.ForceSpinDown)
	return sh, dir
}

func elem(xml string) *row.Element { return &row.Element{XML: []byte(xml)} }

func TestShardedEngineCreatesShardFilesOnDemandByInterval(t *testing.T) {
	sh, dir := newTestSharded(t)

	for i, v := range []int64{5, 105, -95} {
		id := strconv.Itoa(i)
		if err := sh.InsertRow(nil, id, elem(`<x v="`+strconv.FormatInt(v, 10)+`"/>`)); err != nil {
			t.Fatalf("InsertRow(%d): %s", v, err)
		}
	}

	// Force each shard's in-memory cache to disk so the on-demand file
	// creation is actually observable from outside the process.
	for _, name := range sh.allShardNames() {
		iv, _ := sh.provider.GetIntervalByName(name)
		md, err := sh.getEngine(iv)
		if err != nil {
			t.Fatalf("getEngine(%s): %s", name, err)
		}
		e, err := md.ProvideEngine()
		if err != nil {
			t.Fatalf("ProvideEngine(%s): %s", name, err)
		}
		if err := e.SpinDown(); err != nil {
			t.Fatalf("SpinDown(%s): %s", name, err)
		}
	}

	for _, want := range []string{"0.xml", "100.xml", "-100.xml"} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Fatalf("expected shard file %s to exist: %s", want, err)
		}
	}

	// Reading a value from an interval not yet touched creates it on demand.
	if _, err := sh.ReadRow(nil, "missing", 205); err != nil {
		t.Fatalf("ReadRow: %s", err)
	}
	found := false
	for _, name := range sh.allShardNames() {
		if name == "200" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected shard 200 to be registered after reading value 205")
	}
}

func TestShardedEngineReadRowFindsInsertedValue(t *testing.T) {
	sh, _ := newTestSharded(t)

	if err := sh.InsertRow(nil, "a", elem(`<x v="42"/>`)); err != nil {
		t.Fatalf("InsertRow: %s", err)
	}

	got, err := sh.ReadRow(nil, "a", 42)
	if err != nil {
		t.Fatalf("ReadRow: %s", err)
	}
	if got == nil || !bytes.Equal(got.XML, []byte(`<x v="42"/>`)) {
		t.Fatalf("expected to read back the inserted row, got %v", got)
	}
}

func TestShardedEngineRoutingFailureOnNonConvertibleValue(t *testing.T) {
	sh, _ := newTestSharded(t)

	err := sh.InsertRow(nil, "bad", elem(`<x/>`))
	if err == nil {
		t.Fatalf("expected InsertRow to fail routing a row with no v attribute")
	}
}

func TestShardedEngineUpsertAndDeleteRouteToCorrectShard(t *testing.T) {
	sh, _ := newTestSharded(t)

	inserted, err := sh.UpsertRow(nil, "a", elem(`<x v="5"/>`))
	if err != nil || !inserted {
		t.Fatalf("expected first Upsert to insert, got inserted=%v err=%s", inserted, err)
	}

	inserted, err = sh.UpsertRow(nil, "a", elem(`<x v="5"/>`))
	if err != nil || inserted {
		t.Fatalf("expected second Upsert to replace, got inserted=%v err=%s", inserted, err)
	}

	if err := sh.DeleteRow(nil, "a", 5); err != nil {
		t.Fatalf("DeleteRow: %s", err)
	}
	got, err := sh.ReadRow(nil, "a", 5)
	if err != nil {
		t.Fatalf("ReadRow after delete: %s", err)
	}
	if got != nil {
		t.Fatalf("expected row to be gone after delete, got %v", got)
	}
}

func TestShardedEngineSpinDownDrainsAllOpenShards(t *testing.T) {
	sh, _ := newTestSharded(t)

	for i, v := range []int64{5, 105, -95} {
		id := strconv.Itoa(i)
		if err := sh.InsertRow(nil, id, elem(`<x v="`+strconv.FormatInt(v, 10)+`"/>`)); err != nil {
			t.Fatalf("InsertRow: %s", err)
		}
	}

	if err := sh.SpinDown(); err != nil {
		t.Fatalf("SpinDown: %s", err)
	}
	if sh.State() != engine.SpunDown {
		t.Fatalf("expected sharded engine to reach SpunDown, got %s", sh.State())
	}
}
