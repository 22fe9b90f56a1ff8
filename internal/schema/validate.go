package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Validate checks args against the descriptor's params. It reports the
// first problem found: a missing required parameter, an undeclared
// parameter when the tool is Strict, or a value whose type does not match.
func (d ToolDescriptor) Validate(args Arguments) error {
	return ValidateArguments(d.Params, args, d.Strict)
}

// ValidateArguments is Validate for a bare parameter list.
func ValidateArguments(params []Param, args Arguments, strict bool) error {
	declared := make(map[string]Param, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	var err error
	args.Each(func(k string, v any) {
		if err != nil {
			return
		}
		p, ok := declared[k]
		if !ok {
			if strict {
				err = fmt.Errorf("unexpected parameter %q", k)
			}
			return
		}
		err = checkValue(k, p, v)
	})
	if err != nil {
		return err
	}

	for _, p := range params {
		if !p.Required {
			continue
		}
		if v, ok := args.Get(p.Name); !ok || v == nil {
			return fmt.Errorf("missing required parameter %q", p.Name)
		}
	}
	return nil
}

func checkValue(path string, p Param, v any) error {
	if v == nil {
		if p.Required {
			return fmt.Errorf("parameter %q must not be null", path)
		}
		return nil
	}

	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return mismatch(path, p.Type, v)
		}
		if len(p.Enum) > 0 && !inEnum(p.Enum, s) {
			return fmt.Errorf("parameter %q must be one of %s", path, enumList(p.Enum))
		}
	case TypeNumber:
		if _, ok := asFloat(v); !ok {
			return mismatch(path, p.Type, v)
		}
	case TypeInteger:
		f, ok := asFloat(v)
		if !ok || f != math.Trunc(f) {
			return mismatch(path, p.Type, v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return mismatch(path, p.Type, v)
		}
	case TypeArray:
		items, ok := v.([]any)
		if !ok {
			return mismatch(path, p.Type, v)
		}
		if p.Items != nil {
			for i, item := range items {
				if item == nil {
					continue
				}
				if err := checkValue(fmt.Sprintf("%s[%d]", path, i), *p.Items, item); err != nil {
					return err
				}
			}
		}
	case TypeObject:
		members, ok := objectMembers(v)
		if !ok {
			return mismatch(path, p.Type, v)
		}
		for _, child := range p.Properties {
			cv, present := members[child.Name]
			if !present {
				if child.Required {
					return fmt.Errorf("missing required parameter %q", path+"."+child.Name)
				}
				continue
			}
			if err := checkValue(path+"."+child.Name, child, cv); err != nil {
				return err
			}
		}
	}
	return nil
}

func objectMembers(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case Arguments:
		return o.Map(), true
	case *Arguments:
		return o.Map(), true
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func inEnum(enum []any, s string) bool {
	for _, e := range enum {
		if es, ok := e.(string); ok && es == s {
			return true
		}
	}
	return false
}

func enumList(enum []any) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		parts[i] = fmt.Sprint(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func mismatch(path string, want ParamType, v any) error {
	return fmt.Errorf("parameter %q must be %s, got %s", path, want, jsonKind(v))
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any, Arguments, *Arguments:
		return "object"
	}
	if _, ok := asFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
