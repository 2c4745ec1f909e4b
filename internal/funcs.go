// Package internal provides helpers shared by the workflow, worker, client
// and server packages: function naming, task token keys and retry backoff.
package internal

import (
	"reflect"
	"runtime"
	"strings"
)

// FuncName returns the short name of a function value, or the string itself
// if one was passed. Method values have the "-fm" suffix trimmed.
func FuncName(fn any) string {
	if s, ok := fn.(string); ok {
		return s
	}

	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.Index(full, "."); i >= 0 {
		full = full[i+1:]
	}
	return strings.TrimSuffix(full, "-fm")
}
