// Package query declares the collaborator contracts the cached-document
// engine calls into for row selection and mutation, without implementing
// them: the XPath query/update compiler that understands row.Element's
// content is out of scope here and lives above this module.
package query

import "github.com/xflatdb/xflat/row"

// Query selects a subset of rows, e.g. compiled from an XPath predicate.
type Query interface {
	// Matches reports whether element satisfies the query. element is never
	// nil; callers never invoke Matches for a tombstone.
	Matches(element *row.Element) bool

	// String returns the query's source form.
	String() string
}

// Update mutates a row's element in place, e.g. compiled from an XPath
// update expression.
type Update interface {
	// Apply mutates element and reports whether anything actually changed,
	// so that callers can skip installing a no-op version.
	Apply(element *row.Element) (changed bool, err error)
}
