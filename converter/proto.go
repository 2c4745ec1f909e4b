package converter

import (
	"encoding/json"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var _ DataConverter = (*protoConverter)(nil)

// NewProtoConverter returns a converter for proto.Message values, encoding
// each as protojson inside the standard payload framing. Non-proto values
// fail with ErrDataConversion.
func NewProtoConverter() DataConverter {
	return protoConverter{}
}

type protoConverter struct{}

func (protoConverter) ToData(values ...any) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(values))
	for i, v := range values {
		msg, ok := v.(proto.Message)
		if !ok {
			return nil, errors.Wrap(ErrDataConversion, "value not a proto message", j.KV("index", i))
		}

		b, err := protojson.Marshal(msg)
		if err != nil {
			return nil, errors.Wrap(ErrDataConversion, "marshal proto value", j.KV("index", i))
		}
		raws = append(raws, b)
	}

	b, err := json.Marshal(raws)
	if err != nil {
		return nil, errors.Wrap(ErrDataConversion, "marshal proto payload")
	}

	return b, nil
}

func (protoConverter) FromData(data []byte, valuePtrs ...any) error {
	if len(valuePtrs) == 0 {
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return errors.Wrap(ErrDataConversion, "unmarshal proto payload")
	}

	if len(raws) < len(valuePtrs) {
		return errors.Wrap(ErrDataConversion, "too few encoded values",
			j.MKV{"encoded": len(raws), "expected": len(valuePtrs)})
	}

	for i, ptr := range valuePtrs {
		msg, ok := ptr.(proto.Message)
		if !ok {
			return errors.Wrap(ErrDataConversion, "value pointer not a proto message", j.KV("index", i))
		}

		if err := protojson.Unmarshal(raws[i], msg); err != nil {
			return errors.Wrap(ErrDataConversion, "unmarshal proto value", j.KV("index", i))
		}
	}

	return nil
}
