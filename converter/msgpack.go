package converter

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/vmihailenco/msgpack/v5"
)

var _ DataConverter = (*msgpackConverter)(nil)

// NewMsgpackConverter returns a converter encoding values with MessagePack.
// It is denser than JSON and preserves more type information, for example
// the distinction between integers and floats.
func NewMsgpackConverter() DataConverter {
	return msgpackConverter{}
}

type msgpackConverter struct{}

func (msgpackConverter) ToData(values ...any) ([]byte, error) {
	raws := make([]msgpack.RawMessage, 0, len(values))
	for i, v := range values {
		b, err := msgpack.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(ErrDataConversion, "marshal msgpack value", j.KV("index", i))
		}
		raws = append(raws, b)
	}

	b, err := msgpack.Marshal(raws)
	if err != nil {
		return nil, errors.Wrap(ErrDataConversion, "marshal msgpack payload")
	}

	return b, nil
}

func (msgpackConverter) FromData(data []byte, valuePtrs ...any) error {
	if len(valuePtrs) == 0 {
		return nil
	}

	var raws []msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &raws); err != nil {
		return errors.Wrap(ErrDataConversion, "unmarshal msgpack payload")
	}

	if len(raws) < len(valuePtrs) {
		return errors.Wrap(ErrDataConversion, "too few encoded values",
			j.MKV{"encoded": len(raws), "expected": len(valuePtrs)})
	}

	for i, ptr := range valuePtrs {
		if err := msgpack.Unmarshal(raws[i], ptr); err != nil {
			return errors.Wrap(ErrDataConversion, "unmarshal msgpack value", j.KV("index", i))
		}
	}

	return nil
}
