// Package memory provides in-memory store implementations. They back
// single-process demo deployments and tests; the Postgres package is the
// production counterpart. Semantics (diff-and-bump, idempotent inserts,
// unique keys) match the Postgres implementations exactly.
package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// clone deep-copies src into dst via JSON. Store boundaries always copy
// so callers can't mutate stored state.
func clone(src, dst interface{}) {
	data, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("memory store clone marshal: %v", err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		panic(fmt.Sprintf("memory store clone unmarshal: %v", err))
	}
}

// deepEqual compares two values by their JSON form, which normalizes
// nil-vs-empty slices the same way the Postgres JSONB columns do.
func deepEqual(a, b interface{}) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return reflect.DeepEqual(a, b)
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(aj) == string(bj)
}
