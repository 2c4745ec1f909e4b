package converter_test

import (
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/corverroos/loom/converter"
)

type testStruct struct {
	Name  string
	Count int
	Tags  []string
}

func TestSymmetry(t *testing.T) {
	converters := map[string]converter.DataConverter{
		"json":    converter.NewJSONConverter(),
		"msgpack": converter.NewMsgpackConverter(),
	}

	for name, dc := range converters {
		t.Run(name, func(t *testing.T) {
			in1 := testStruct{Name: "hello", Count: 3, Tags: []string{"a", "b"}}
			in2 := "world"
			in3 := 42

			data, err := dc.ToData(in1, in2, in3)
			jtest.RequireNil(t, err)

			var out1 testStruct
			var out2 string
			var out3 int
			err = dc.FromData(data, &out1, &out2, &out3)
			jtest.RequireNil(t, err)

			require.Equal(t, in1, out1)
			require.Equal(t, in2, out2)
			require.Equal(t, in3, out3)
		})
	}
}

func TestPartialDecode(t *testing.T) {
	dc := converter.Default()

	data, err := dc.ToData("first", "second")
	jtest.RequireNil(t, err)

	var first string
	err = dc.FromData(data, &first)
	jtest.RequireNil(t, err)
	require.Equal(t, "first", first)
}

func TestTooFewValues(t *testing.T) {
	dc := converter.Default()

	data, err := dc.ToData("only")
	jtest.RequireNil(t, err)

	var a, b string
	err = dc.FromData(data, &a, &b)
	jtest.Require(t, converter.ErrDataConversion, err)
}

func TestUnsupportedType(t *testing.T) {
	dc := converter.Default()

	_, err := dc.ToData(func() {})
	jtest.Require(t, converter.ErrDataConversion, err)
}

func TestProtoConverter(t *testing.T) {
	dc := converter.NewProtoConverter()

	in := wrapperspb.String("hello")
	data, err := dc.ToData(in)
	jtest.RequireNil(t, err)

	out := new(wrapperspb.StringValue)
	err = dc.FromData(data, out)
	jtest.RequireNil(t, err)
	require.Equal(t, in.Value, out.Value)

	_, err = dc.ToData("not a proto")
	jtest.Require(t, converter.ErrDataConversion, err)
}

func TestEncodedValue(t *testing.T) {
	dc := converter.Default()

	data, err := dc.ToData(7)
	jtest.RequireNil(t, err)

	var got int
	err = converter.NewEncodedValue(data, dc).Get(&got)
	jtest.RequireNil(t, err)
	require.Equal(t, 7, got)

	err = converter.NewEncodedValue(nil, dc).Get(&got)
	jtest.Require(t, converter.ErrDataConversion, err)
}
