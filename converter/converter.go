// Package converter provides the pluggable data converter applied uniformly
// to workflow and activity inputs, outputs, failure details and marker
// bodies. Converters encode a list of values into a single opaque payload
// and must be symmetric for supported values.
package converter

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// ErrDataConversion indicates a value could not be encoded or decoded.
// Conversion errors fail the enclosing task; a decision task on the workflow
// path, the activity on the activity path.
var ErrDataConversion = errors.New("data conversion failed", j.C("ERR_f0342cc89e17ab5d"))

// DataConverter encodes values to bytes and back. Implementations must be
// total on registered types and symmetric: FromData(ToData(x)) == x.
type DataConverter interface {
	// ToData encodes the values into a single payload.
	ToData(values ...any) ([]byte, error)

	// FromData decodes the payload into the value pointers. Fewer pointers
	// than encoded values is allowed; the tail is discarded.
	FromData(data []byte, valuePtrs ...any) error
}

// Default returns the default JSON data converter.
func Default() DataConverter {
	return defaultConverter
}

var defaultConverter = NewJSONConverter()

// EncodedValue is a lazily-decoded value produced by a converter; Get
// decodes it into the provided pointers.
type EncodedValue struct {
	data []byte
	dc   DataConverter
}

// NewEncodedValue returns an EncodedValue wrapping the payload.
func NewEncodedValue(data []byte, dc DataConverter) *EncodedValue {
	if dc == nil {
		dc = Default()
	}
	return &EncodedValue{data: data, dc: dc}
}

// Get decodes the payload into the provided pointers.
func (v *EncodedValue) Get(valuePtrs ...any) error {
	if v == nil || len(v.data) == 0 {
		return errors.Wrap(ErrDataConversion, "no data")
	}
	return v.dc.FromData(v.data, valuePtrs...)
}

// HasData returns true if the value holds a payload.
func (v *EncodedValue) HasData() bool {
	return v != nil && len(v.data) > 0
}
