package xmlrow

import (
	"bytes"
	"testing"

	"github.com/andreyvit/diff"

	"github.com/xflatdb/xflat/row"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rows := []Versions{
		{
			RowID: "a",
			Data: []*row.Data{
				{TransactionID: 1, CommitID: 2, RowID: "a", Element: &row.Element{XML: []byte("<x>1</x>")}},
			},
		},
		{
			RowID: "b",
			Data: []*row.Data{
				{TransactionID: 3, CommitID: 4, RowID: "b", Element: &row.Element{XML: []byte("<y>2</y>")}},
				{TransactionID: 5, CommitID: 6, RowID: "b"}, // tombstone
			},
		},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, "people", rows); err != nil {
		t.Fatalf("Encode: %s", err)
	}

	name, got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if name != "people" {
		t.Fatalf("expected table name %q, got %q", "people", name)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}

	byID := map[string]Versions{}
	for _, rv := range got {
		byID[rv.RowID] = rv
	}

	a := byID["a"]
	if len(a.Data) != 1 || a.Data[0].CommitID != 2 || string(a.Data[0].Element.XML) != "<x>1</x>" {
		t.Fatalf("row a round-tripped wrong: %+v", a)
	}

	b := byID["b"]
	if len(b.Data) != 2 {
		t.Fatalf("expected 2 versions for row b, got %d", len(b.Data))
	}
	var sawTombstone, sawValue bool
	for _, d := range b.Data {
		if d.IsTombstone() {
			sawTombstone = true
		} else if string(d.Element.XML) == "<y>2</y>" {
			sawValue = true
		}
	}
	if !sawTombstone || !sawValue {
		t.Fatalf("row b missing a version after round trip: %+v", b.Data)
	}
}

func TestEncodeOmitsRowsWithOnlyTombstones(t *testing.T) {
	rows := []Versions{
		{RowID: "dead", Data: []*row.Data{{TransactionID: 1, CommitID: 1, RowID: "dead"}}},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, "t", rows); err != nil {
		t.Fatalf("Encode: %s", err)
	}
	_, got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected tombstone-only row to be omitted, got %+v", got)
	}
}

func TestEncodeOmitsUncommittedVersions(t *testing.T) {
	rows := []Versions{
		{RowID: "a", Data: []*row.Data{
			{TransactionID: 1, CommitID: 1, RowID: "a", Element: &row.Element{XML: []byte("<x/>")}},
			{TransactionID: 2, CommitID: row.Uncommitted, RowID: "a", Element: &row.Element{XML: []byte("<x>dirty</x>")}},
		}},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, "t", rows); err != nil {
		t.Fatalf("Encode: %s", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("commit=\"-1\"")) {
		t.Fatalf("uncommitted version leaked into table file:\n%s", buf.String())
	}

	_, got, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if len(got) != 1 || len(got[0].Data) != 1 {
		t.Fatalf("expected only the committed version to survive, got %+v", got)
	}
}

func TestReEncodingADecodedFileIsIdempotent(t *testing.T) {
	rows := []Versions{
		{RowID: "a", Data: []*row.Data{
			{TransactionID: 1, CommitID: 2, RowID: "a", Element: &row.Element{XML: []byte("<x>1</x>")}},
		}},
		{RowID: "b", Data: []*row.Data{
			{TransactionID: 3, CommitID: 4, RowID: "b", Element: &row.Element{XML: []byte("<y>2</y>")}},
		}},
	}

	var first bytes.Buffer
	if err := Encode(&first, "people", rows); err != nil {
		t.Fatalf("Encode: %s", err)
	}

	_, decoded, err := Decode(bytes.NewReader(first.Bytes()))
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}

	var second bytes.Buffer
	if err := Encode(&second, "people", decoded); err != nil {
		t.Fatalf("re-Encode: %s", err)
	}

	if first.String() != second.String() {
		t.Fatalf("re-encoding a decoded table file changed it:\n%s",
			diff.LineDiff(first.String(), second.String()))
	}
}
