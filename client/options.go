package client

import (
	"github.com/corverroos/loom/converter"
)

type options struct {
	dc converter.DataConverter
}

type Option func(*options)

// WithDataConverter overrides the default JSON data converter. It must
// match the converter used by the workers.
func WithDataConverter(dc converter.DataConverter) Option {
	return func(o *options) {
		o.dc = dc
	}
}
