package property

import (
	"reflect"

	"github.com/goccy/go-json"
)

// canonical maps every Go number kind to float64, the one numeric shape
// property values use.
func canonical(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

// conform reshapes a list or map value into the Go type of like, so that
// []any decoded from a snapshot or a script becomes the declared
// []string or [][]float64 again. Values that do not fit are kept as is.
func conform(like, value any) any {
	value = canonical(value)
	if like == nil || value == nil {
		return value
	}
	lt, vt := reflect.TypeOf(like), reflect.TypeOf(value)
	if lt == vt || !composite(lt) || !composite(vt) {
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	out := reflect.New(lt)
	if err := json.Unmarshal(data, out.Interface()); err != nil {
		return value
	}
	return out.Elem().Interface()
}

// equal reports whether two property values are the same. Lists and maps
// of different Go types compare by their JSON encoding.
func equal(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if !composite(reflect.TypeOf(a)) || !composite(reflect.TypeOf(b)) {
		return false
	}
	ea, err := json.Marshal(a)
	if err != nil {
		return false
	}
	eb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ea) == string(eb)
}

func composite(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}
