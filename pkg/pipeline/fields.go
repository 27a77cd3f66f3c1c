// Package pipeline defines the request-execution pipeline: immutable
// input/output envelopes, the per-request context bag, the three stage
// contracts, and the runner that chains them for a single operation.
package pipeline

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Fields is a string-keyed collection that remembers insertion order.
// Overwriting a key keeps its original position, so repeated writes to
// the same key are deterministic (last write wins, first position kept).
// JSON marshaling emits entries in insertion order.
//
// Fields is not safe for concurrent mutation. Envelopes hand out clones
// so shared instances are never mutated through an accessor.
type Fields struct {
	keys   []string
	values map[string]any
}

// NewFields returns an empty Fields.
func NewFields() *Fields {
	return &Fields{values: make(map[string]any)}
}

// FieldsFromMap builds a Fields from a plain map. Go maps carry no
// order, so keys are inserted sorted to keep the result deterministic.
func FieldsFromMap(m map[string]any) *Fields {
	f := NewFields()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.Set(k, m[k])
	}
	return f
}

// Set stores value under key and returns f for chaining. A key that is
// already present keeps its insertion position.
func (f *Fields) Set(key string, value any) *Fields {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
	return f
}

// SetIfAbsent stores value under key only when the key is not present.
// It reports whether the value was stored.
func (f *Fields) SetIfAbsent(key string, value any) bool {
	if _, ok := f.values[key]; ok {
		return false
	}
	f.Set(key, value)
	return true
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Has reports whether key is present.
func (f *Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Delete removes key and reports whether it was present.
func (f *Fields) Delete(key string) bool {
	if _, ok := f.values[key]; !ok {
		return false
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of entries.
func (f *Fields) Len() int { return len(f.keys) }

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (f *Fields) Range(fn func(key string, value any) bool) {
	for _, k := range f.keys {
		if !fn(k, f.values[k]) {
			return
		}
	}
}

// Clone returns a shallow copy. Entry values are shared; the key order
// and the map structure are independent of the original.
func (f *Fields) Clone() *Fields {
	c := &Fields{
		keys:   make([]string, len(f.keys)),
		values: make(map[string]any, len(f.values)),
	}
	copy(c.keys, f.keys)
	for k, v := range f.values {
		c.values[k] = v
	}
	return c
}

// Map returns the entries as a plain map. Order is lost; use Range or
// Keys when order matters.
func (f *Fields) Map() map[string]any {
	out := make(map[string]any, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// MarshalJSON emits entries as a JSON object in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
