package internal

import (
	"context"
	"reflect"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/corverroos/loom/converter"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// ValidateActivity checks an activity function signature:
// func(context.Context, args...) (result?, error).
func ValidateActivity(fn any) error {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return errors.New("activity not a function", j.KV("type", reflect.TypeOf(fn)))
	}
	if t.NumIn() < 1 || !t.In(0).Implements(ctxType) {
		return errors.New("activity first parameter must be context.Context",
			j.KV("activity", FuncName(fn)))
	}
	if t.NumOut() < 1 || t.NumOut() > 2 || !t.Out(t.NumOut()-1).Implements(errType) {
		return errors.New("activity must return (result?, error)",
			j.KV("activity", FuncName(fn)))
	}
	return nil
}

// InvokeActivity decodes input, calls the activity function and encodes its
// result. The returned error is the activity failure, if any.
func InvokeActivity(ctx context.Context, fn any, dc converter.DataConverter, input []byte) ([]byte, error) {
	t := reflect.TypeOf(fn)

	in := make([]reflect.Value, 0, t.NumIn())
	in = append(in, reflect.ValueOf(ctx))

	if t.NumIn() > 1 {
		ptrs := make([]any, 0, t.NumIn()-1)
		for i := 1; i < t.NumIn(); i++ {
			ptrs = append(ptrs, reflect.New(t.In(i)).Interface())
		}
		if err := dc.FromData(input, ptrs...); err != nil {
			return nil, errors.Wrap(err, "decode activity input", j.KV("activity", FuncName(fn)))
		}
		for _, p := range ptrs {
			in = append(in, reflect.ValueOf(p).Elem())
		}
	}

	out := reflect.ValueOf(fn).Call(in)

	if errv := out[len(out)-1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	if len(out) == 1 {
		return nil, nil
	}

	data, err := dc.ToData(out[0].Interface())
	if err != nil {
		return nil, errors.Wrap(err, "encode activity result", j.KV("activity", FuncName(fn)))
	}
	return data, nil
}
