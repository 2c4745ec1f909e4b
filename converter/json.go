package converter

import (
	"encoding/json"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var _ DataConverter = (*jsonConverter)(nil)

// NewJSONConverter returns the default converter encoding values as a JSON
// array of raw messages.
func NewJSONConverter() DataConverter {
	return jsonConverter{}
}

type jsonConverter struct{}

func (jsonConverter) ToData(values ...any) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(ErrDataConversion, "marshal json value", j.KV("index", i))
		}
		raws = append(raws, b)
	}

	b, err := json.Marshal(raws)
	if err != nil {
		return nil, errors.Wrap(ErrDataConversion, "marshal json payload")
	}

	return b, nil
}

func (jsonConverter) FromData(data []byte, valuePtrs ...any) error {
	if len(valuePtrs) == 0 {
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return errors.Wrap(ErrDataConversion, "unmarshal json payload")
	}

	if len(raws) < len(valuePtrs) {
		return errors.Wrap(ErrDataConversion, "too few encoded values",
			j.MKV{"encoded": len(raws), "expected": len(valuePtrs)})
	}

	for i, ptr := range valuePtrs {
		if err := json.Unmarshal(raws[i], ptr); err != nil {
			return errors.Wrap(ErrDataConversion, "unmarshal json value", j.KV("index", i))
		}
	}

	return nil
}
