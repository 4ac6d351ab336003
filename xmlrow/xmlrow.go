// Package xmlrow implements the on-disk table-file codec: an XML
// document with root <table xmlns="http://xflat" name="..">, one <row id=..>
// per row with at least one committed non-tombstone version, and one child
// per committed version carrying tx/commit attributes — either the stored
// element (cloned verbatim, its own attributes and content untouched) or an
// <xflat:delete/> tombstone sentinel. There is no synthetic wrapper around a
// version: tx/commit are attributes on the element itself.
//
// Everything below a version's own start tag is opaque to this package (see
// row.Element): we round-trip it through encoding/xml's innerxml support
// rather than parsing it, since the XPath compiler that understands row
// content is an out-of-scope collaborator. Only the element's own name and
// attribute list are parsed, because tx/commit must be attached there.
package xmlrow

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/xflatdb/xflat/row"
)

const namespace = "http://xflat"

// Versions groups every committed version of one row under its id, the shape
// the engine's cache wants at spin-up.
type Versions struct {
	RowID string
	Data  []*row.Data
}

type docTable struct {
	XMLName xml.Name `xml:"http://xflat table"`
	Name    string   `xml:"name,attr"`
	Rows    []docRow `xml:"http://xflat row"`
}

type docRow struct {
	ID       string     `xml:"id,attr"`
	Versions []docChild `xml:",any"`
}

// docChild is one committed version written directly on disk: the stored
// element's own tag name and attributes, plus the two bookkeeping attributes
// this package owns, plus the element's untouched inner content. For a
// tombstone, XMLName is the <xflat:delete/> sentinel and Attrs/Inner are
// empty.
type docChild struct {
	XMLName xml.Name
	Tx      string     `xml:"http://xflat tx,attr"`
	Commit  string     `xml:"http://xflat commit,attr"`
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

const deleteLocal = "delete"

// element is the parsed shape of a stored row's content: its own qualified
// name and attributes, and everything nested below its start tag, which this
// package never looks inside.
type element struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

func parseElement(raw []byte) (element, error) {
	var el element
	if err := xml.Unmarshal(raw, &el); err != nil {
		return element{}, fmt.Errorf("xmlrow: parse stored element: %w", err)
	}
	return el, nil
}

func (el element) encode() ([]byte, error) {
	b, err := xml.Marshal(el)
	if err != nil {
		return nil, fmt.Errorf("xmlrow: re-encode stored element: %w", err)
	}
	return b, nil
}

// Encode writes tableName's committed rows as a table file. rows with no
// committed non-tombstone version are omitted entirely, and uncommitted
// versions are skipped (row.Row.CommittedVersions already leaves them out).
func Encode(w io.Writer, tableName string, rows []Versions) error {
	doc := docTable{Name: tableName}
	for _, rv := range rows {
		if !hasCommittedNonTombstone(rv.Data) {
			continue
		}
		dr := docRow{ID: rv.RowID}
		for _, d := range rv.Data {
			if d.CommitID == row.Uncommitted {
				continue
			}
			dc, err := toDocChild(d)
			if err != nil {
				return err
			}
			dr.Versions = append(dr.Versions, dc)
		}
		doc.Rows = append(doc.Rows, dr)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("xmlrow: encode table %q: %w", tableName, err)
	}
	return nil
}

// Decode reads a table file, returning its table name and the committed
// versions of every row it contains, grouped by row id. A version whose
// tx/commit attribute fails to parse as a base-10 int64, it defaults to 0.
func Decode(r io.Reader) (tableName string, rows []Versions, err error) {
	var doc docTable
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("xmlrow: decode table: %w", err)
	}

	rows = make([]Versions, 0, len(doc.Rows))
	for _, dr := range doc.Rows {
		rv := Versions{RowID: dr.ID}
		for _, child := range dr.Versions {
			d, err := fromDocChild(dr.ID, child)
			if err != nil {
				return "", nil, err
			}
			rv.Data = append(rv.Data, d)
		}
		rows = append(rows, rv)
	}
	return doc.Name, rows, nil
}

func hasCommittedNonTombstone(data []*row.Data) bool {
	for _, d := range data {
		if d.CommitID != row.Uncommitted && !d.IsTombstone() {
			return true
		}
	}
	return false
}

func toDocChild(d *row.Data) (docChild, error) {
	c := docChild{
		Tx:     strconv.FormatInt(d.TransactionID, 10),
		Commit: strconv.FormatInt(d.CommitID, 10),
	}
	if d.IsTombstone() {
		c.XMLName = xml.Name{Space: namespace, Local: deleteLocal}
		return c, nil
	}
	el, err := parseElement(d.Element.XML)
	if err != nil {
		return docChild{}, err
	}
	c.XMLName = el.XMLName
	c.Attrs = el.Attrs
	c.Inner = el.Inner
	return c, nil
}

func fromDocChild(rowID string, c docChild) (*row.Data, error) {
	tx, err := strconv.ParseInt(c.Tx, 10, 64)
	if err != nil {
		tx = 0
	}
	commit, err := strconv.ParseInt(c.Commit, 10, 64)
	if err != nil {
		commit = 0
	}

	d := &row.Data{TransactionID: tx, CommitID: commit, RowID: rowID}
	if c.XMLName.Local == deleteLocal && c.XMLName.Space == namespace {
		return d, nil
	}
	attrs := make([]xml.Attr, 0, len(c.Attrs))
	for _, a := range c.Attrs {
		// Namespace declarations the encoder wrote are not part of the
		// stored element.
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		attrs = append(attrs, a)
	}
	raw, err := element{XMLName: c.XMLName, Attrs: attrs, Inner: c.Inner}.encode()
	if err != nil {
		return nil, err
	}
	d.Element = &row.Element{XML: raw}
	return d, nil
}
