// Package databag implements the onboarding data bag: a nested JSON-compatible
// document that only ever grows through Merge.
package databag

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Merge folds incoming into existing and returns a new document.
//
// For every key of incoming: nil values are ignored, two sequences are unioned
// in first-seen order, two mappings are merged recursively, and anything else
// replaces the existing value. Keys only present in existing are kept.
// Neither argument is modified.
func Merge(existing, incoming map[string]any) map[string]any {
	out := Clone(existing)
	if out == nil {
		out = make(map[string]any, len(incoming))
	}
	for key, in := range incoming {
		if in == nil {
			continue
		}
		cur, ok := out[key]
		if !ok || cur == nil {
			out[key] = cloneValue(in)
			continue
		}
		out[key] = mergeValue(cur, in)
	}
	return out
}

func mergeValue(cur, in any) any {
	if curSeq, ok := asSlice(cur); ok {
		if inSeq, ok := asSlice(in); ok {
			return union(curSeq, inSeq)
		}
		return cloneValue(in)
	}
	if curMap, ok := asMap(cur); ok {
		if inMap, ok := asMap(in); ok {
			return Merge(curMap, inMap)
		}
	}
	return cloneValue(in)
}

// union appends the items of in that are not already present, preserving the
// order of cur followed by the first occurrence of each new item.
func union(cur, in []any) []any {
	out := make([]any, 0, len(cur)+len(in))
	seen := make(map[string]struct{}, len(cur)+len(in))
	// Existing items are kept verbatim, duplicates included.
	for _, item := range cur {
		seen[identity(item)] = struct{}{}
		out = append(out, cloneValue(item))
	}
	for _, item := range in {
		k := identity(item)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, cloneValue(item))
	}
	return out
}

// identity returns a canonical key used for set membership. encoding/json
// sorts map keys, so structurally equal objects share a key.
func identity(v any) string {
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(b)
}

// normalize widens numeric types so 1 and 1.0 compare equal.
func normalize(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, vv := range m {
			out[k] = normalize(vv)
		}
		return out
	}
	if s, ok := asSlice(v); ok {
		out := make([]any, len(s))
		for i, vv := range s {
			out[i] = normalize(vv)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	}
	return v
}

// Clone deep-copies a document. Typed slices and maps are converted to their
// generic JSON shapes.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := asMap(v); ok {
		return Clone(m)
	}
	if s, ok := asSlice(v); ok {
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

// asSlice reports whether v is a sequence and returns it as []any.
// Byte slices are treated as scalars.
func asSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = m
		}
		return out, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asMap reports whether v is a string-keyed mapping and returns it.
func asMap(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

// AsMap exposes the mapping check used by Merge.
func AsMap(v any) (map[string]any, bool) { return asMap(v) }

// AsSlice exposes the sequence check used by Merge.
func AsSlice(v any) ([]any, bool) { return asSlice(v) }

// Equal reports whether two documents are structurally equal.
func Equal(a, b map[string]any) bool {
	return identity(a) == identity(b)
}

// Section returns the nested mapping stored under key, or nil.
func Section(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	s, _ := asMap(m[key])
	return s
}

// ChangedKeys lists the top-level keys whose values differ between before and
// after, in no particular order.
func ChangedKeys(before, after map[string]any) []string {
	var changed []string
	for k, v := range after {
		old, ok := before[k]
		if !ok || identity(old) != identity(v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed = append(changed, k)
		}
	}
	return changed
}
