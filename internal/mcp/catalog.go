package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/toolrelay/toolrelay/internal/protocol"
	"github.com/toolrelay/toolrelay/internal/schema"
)

// BuildDescriptors validates a server's tools/list catalog and converts it
// into registry descriptors. Any invalid tool fails the whole catalog.
func BuildDescriptors(server, namespace string, tools []protocol.Tool) ([]schema.ToolDescriptor, error) {
	seen := make(map[string]bool, len(tools))
	out := make([]schema.ToolDescriptor, 0, len(tools))

	for _, t := range tools {
		qualified := schema.QualifiedName(namespace, t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("tool without a name")
		}
		if !schema.ValidToolName(qualified) {
			return nil, fmt.Errorf("tool %q: invalid name", qualified)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tool %q declared twice", t.Name)
		}
		seen[t.Name] = true

		params, raw, err := parseInputSchema(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		out = append(out, schema.ToolDescriptor{
			Name:        qualified,
			LocalName:   t.Name,
			Server:      server,
			Description: t.Description,
			Params:      params,
			Strict:      closedObject(raw),
			InputSchema: raw,
		})
	}
	return out, nil
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func parseInputSchema(raw json.RawMessage) ([]schema.Param, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, emptyObjectSchema, nil
	}

	normalized, err := collapseTypeArrays(trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("input schema: %w", err)
	}
	var root jsonschema.Schema
	if err := json.Unmarshal(normalized, &root); err != nil {
		return nil, nil, fmt.Errorf("input schema: %w", err)
	}
	if root.Type != "" && root.Type != string(schema.TypeObject) {
		return nil, nil, fmt.Errorf("input schema must be an object, got %q", root.Type)
	}
	params, err := objectParams("", &root)
	if err != nil {
		return nil, nil, err
	}
	return params, json.RawMessage(trimmed), nil
}

// closedObject reports whether the root schema sets additionalProperties
// to false.
func closedObject(raw json.RawMessage) bool {
	var probe struct {
		AdditionalProperties json.RawMessage `json:"additionalProperties"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(probe.AdditionalProperties), []byte("false"))
}

func objectParams(prefix string, s *jsonschema.Schema) ([]schema.Param, error) {
	if s.Properties == nil {
		return nil, nil
	}
	params := make([]schema.Param, 0, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		p, err := toParam(prefix+pair.Key, pair.Value)
		if err != nil {
			return nil, err
		}
		p.Name = pair.Key
		p.Required = slices.Contains(s.Required, pair.Key)
		params = append(params, p)
	}
	return params, nil
}

// toParam maps one property schema onto the closed Param variant.
func toParam(path string, s *jsonschema.Schema) (schema.Param, error) {
	if s == nil {
		return schema.Param{}, fmt.Errorf("parameter %q: empty schema", path)
	}
	s = collapseNullable(s)

	kind := s.Type
	if kind == "" {
		kind = inferType(s)
	}
	t, ok := schema.ParseParamType(kind)
	if !ok {
		if kind == "" {
			return schema.Param{}, fmt.Errorf("parameter %q: missing type", path)
		}
		return schema.Param{}, fmt.Errorf("parameter %q: unsupported type %q", path, kind)
	}

	p := schema.Param{Type: t, Description: s.Description, Enum: s.Enum}
	switch t {
	case schema.TypeArray:
		if s.Items != nil {
			item, err := toParam(path+"[]", s.Items)
			if err != nil {
				return schema.Param{}, err
			}
			p.Items = &item
		}
	case schema.TypeObject:
		props, err := objectParams(path+".", s)
		if err != nil {
			return schema.Param{}, err
		}
		p.Properties = props
	}
	return p, nil
}

// collapseNullable turns anyOf/oneOf [X, null] into X, the shape optional
// parameters commonly take.
func collapseNullable(s *jsonschema.Schema) *jsonschema.Schema {
	branches := s.AnyOf
	if len(branches) == 0 {
		branches = s.OneOf
	}
	if len(branches) == 0 {
		return s
	}
	var pick *jsonschema.Schema
	for _, b := range branches {
		if b == nil || b.Type == "null" {
			continue
		}
		if pick != nil {
			return s
		}
		pick = b
	}
	if pick == nil {
		return s
	}
	merged := *pick
	if merged.Description == "" {
		merged.Description = s.Description
	}
	return &merged
}

// collapseTypeArrays rewrites every "type" array into the single string the
// schema decoder accepts, keeping key order. [X, "null"] becomes X; any
// other union becomes "X|Y", which toParam rejects for that parameter.
func collapseTypeArrays(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var buf bytes.Buffer
	if err := copySchemaValue(dec, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func copySchemaValue(dec *json.Decoder, buf *bytes.Buffer) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return writeJSON(buf, tok)
	}

	switch delim {
	case '{':
		buf.WriteByte('{')
		for first := true; dec.More(); first = false {
			if !first {
				buf.WriteByte(',')
			}
			key, err := dec.Token()
			if err != nil {
				return err
			}
			if err := writeJSON(buf, key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if key == "type" {
				err = copyTypeValue(dec, buf)
			} else {
				err = copySchemaValue(dec, buf)
			}
			if err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case '[':
		buf.WriteByte('[')
		for first := true; dec.More(); first = false {
			if !first {
				buf.WriteByte(',')
			}
			if err := copySchemaValue(dec, buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}
	// closing delimiter
	_, err = dec.Token()
	return err
}

// copyTypeValue handles the value of a "type" key. It may also be a
// property schema named "type", so only arrays of strings are rewritten.
func copyTypeValue(dec *json.Decoder, buf *bytes.Buffer) error {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	var types []string
	if err := json.Unmarshal(raw, &types); err != nil {
		out, err := collapseTypeArrays(raw)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	}
	kept := slices.DeleteFunc(types, func(t string) bool { return t == "null" })
	switch len(kept) {
	case 0:
		return writeJSON(buf, "null")
	case 1:
		return writeJSON(buf, kept[0])
	}
	return writeJSON(buf, strings.Join(kept, "|"))
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func inferType(s *jsonschema.Schema) string {
	switch {
	case s.Properties != nil:
		return string(schema.TypeObject)
	case s.Items != nil:
		return string(schema.TypeArray)
	case len(s.Enum) > 0:
		if _, ok := s.Enum[0].(string); ok {
			return string(schema.TypeString)
		}
	}
	return ""
}
