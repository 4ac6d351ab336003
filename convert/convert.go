// Package convert declares the value-conversion collaborator used by the
// sharded engine to turn a row's shard-property element into the Go value
// its interval.Provider routes on. Implementations live outside
// this module; XFlat's actual XPath-to-Go type coercion is out of scope here.
package convert

import (
	"fmt"

	"github.com/xflatdb/xflat/row"
)

// Service converts the result of evaluating a shard-property selector
// against a row element into a Go value of the shard property's configured
// type (e.g. int64, float64, string).
type Service interface {
	// Convert extracts and converts the shard-property value from element.
	// A nil or non-convertible value is reported as an error, never a silent
	// default.
	Convert(element *row.Element, selector string) (value interface{}, err error)
}

// ConversionError reports that a shard-property selector produced a value
// that could not be converted to the type the routing layer requires.
type ConversionError struct {
	Selector string
	Value    interface{}
	Err      error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("convert: selector %q: %s", e.Selector, e.Err)
	}
	return fmt.Sprintf("convert: selector %q: value %v is not convertible", e.Selector, e.Value)
}

func (e *ConversionError) Unwrap() error { return e.Err }
