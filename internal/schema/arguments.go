package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Arguments binds parameter names to JSON values and keeps the order in
// which they were set or decoded. The zero value is an empty binding.
//
// Only the top level is ordered: nested objects decode to map[string]any.
type Arguments struct {
	m *orderedmap.OrderedMap[string, any]
}

var errInvalidArguments = errors.New("arguments are not valid JSON")

// NewArguments builds Arguments from alternating key/value pairs.
// A trailing key without a value is ignored.
func NewArguments(kv ...any) Arguments {
	var a Arguments
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		a.Set(key, kv[i+1])
	}
	return a
}

// ParseArguments decodes a JSON object. Empty input yields empty Arguments.
func ParseArguments(raw string) (Arguments, error) {
	var a Arguments
	if strings.TrimSpace(raw) == "" {
		return a, nil
	}
	if !json.Valid([]byte(raw)) {
		return a, errInvalidArguments
	}
	err := a.UnmarshalJSON([]byte(raw))
	return a, err
}

func (a *Arguments) Set(key string, value any) {
	if a.m == nil {
		a.m = orderedmap.New[string, any]()
	}
	a.m.Set(key, value)
}

func (a Arguments) Get(key string) (any, bool) {
	if a.m == nil {
		return nil, false
	}
	return a.m.Get(key)
}

func (a Arguments) Len() int {
	if a.m == nil {
		return 0
	}
	return a.m.Len()
}

// Keys returns parameter names in binding order.
func (a Arguments) Keys() []string {
	keys := make([]string, 0, a.Len())
	a.Each(func(k string, _ any) { keys = append(keys, k) })
	return keys
}

// Each visits every binding in order.
func (a Arguments) Each(fn func(key string, value any)) {
	if a.m == nil {
		return
	}
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Map returns an unordered copy.
func (a Arguments) Map() map[string]any {
	out := make(map[string]any, a.Len())
	a.Each(func(k string, v any) { out[k] = v })
	return out
}

// Clone returns a copy that shares no ordering state with a.
func (a Arguments) Clone() Arguments {
	var out Arguments
	a.Each(func(k string, v any) { out.Set(k, v) })
	return out
}

func (a Arguments) MarshalJSON() ([]byte, error) {
	if a.m == nil {
		return []byte("{}"), nil
	}
	return a.m.MarshalJSON()
}

func (a *Arguments) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		a.m = nil
		return nil
	}
	m := orderedmap.New[string, any]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	a.m = m
	return nil
}

// String renders the arguments as compact JSON.
func (a Arguments) String() string {
	b, err := json.Marshal(a)
	if err != nil {
		return "{}"
	}
	return string(b)
}
