package mcp

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/toolrelay/toolrelay/internal/protocol"
	"github.com/toolrelay/toolrelay/internal/schema"
)

func TestBuildDescriptors_OrderedParams(t *testing.T) {
	tools := []protocol.Tool{{
		Name:        "weather",
		Description: "Forecast",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"city":  {"type": "string", "description": "City name"},
				"days":  {"type": "integer"},
				"units": {"anyOf": [{"type": "string", "enum": ["metric", "imperial"]}, {"type": "null"}]},
				"where": {"type": "object", "properties": {"lat": {"type": "number"}}, "required": ["lat"]},
				"tags":  {"type": "array", "items": {"type": "string"}}
			},
			"required": ["city"],
			"additionalProperties": false
		}`),
	}}

	descs, err := BuildDescriptors("wx", "", tools)
	if err != nil {
		t.Fatalf("BuildDescriptors: %v", err)
	}
	d := descs[0]
	if d.Name != "weather" || d.Server != "wx" || !d.Strict {
		t.Errorf("descriptor = %+v", d)
	}

	var names []string
	for _, p := range d.Params {
		names = append(names, p.Name)
	}
	if got := strings.Join(names, ","); got != "city,days,units,where,tags" {
		t.Errorf("param order = %s", got)
	}
	if !d.Params[0].Required || d.Params[1].Required {
		t.Error("required flags not applied")
	}
	if d.Params[2].Type != schema.TypeString || len(d.Params[2].Enum) != 2 {
		t.Errorf("nullable enum = %+v", d.Params[2])
	}
	if where := d.Params[3]; len(where.Properties) != 1 || !where.Properties[0].Required {
		t.Errorf("nested object = %+v", where)
	}
	if tags := d.Params[4]; tags.Items == nil || tags.Items.Type != schema.TypeString {
		t.Errorf("array items = %+v", tags)
	}
}

func TestBuildDescriptors_NullableTypeArrays(t *testing.T) {
	raw := `{
		"type": "object",
		"properties": {
			"q":    {"type": ["string", "null"], "description": "Query"},
			"n":    {"type": ["null", "integer"]},
			"type": {"type": "string"},
			"tags": {"type": "array", "items": {"type": ["string", "null"]}}
		},
		"required": ["q"]
	}`
	descs, err := BuildDescriptors("s", "", []protocol.Tool{{Name: "search", InputSchema: json.RawMessage(raw)}})
	if err != nil {
		t.Fatalf("BuildDescriptors: %v", err)
	}
	d := descs[0]

	var got []string
	for _, p := range d.Params {
		got = append(got, p.Name+":"+string(p.Type))
	}
	if strings.Join(got, ",") != "q:string,n:integer,type:string,tags:array" {
		t.Errorf("params = %v", got)
	}
	if d.Params[0].Description != "Query" || !d.Params[0].Required {
		t.Errorf("q = %+v", d.Params[0])
	}
	if items := d.Params[3].Items; items == nil || items.Type != schema.TypeString {
		t.Errorf("tags items = %+v", items)
	}
	if !strings.Contains(string(d.InputSchema), `["string", "null"]`) {
		t.Errorf("forwarded schema was rewritten: %s", d.InputSchema)
	}
}

func TestBuildDescriptors_EmptySchema(t *testing.T) {
	descs, err := BuildDescriptors("s", "ns", []protocol.Tool{{Name: "ping"}})
	if err != nil {
		t.Fatalf("BuildDescriptors: %v", err)
	}
	if descs[0].Name != "ns_ping" || descs[0].LocalName != "ping" {
		t.Errorf("names = %s/%s", descs[0].Name, descs[0].LocalName)
	}
	if descs[0].Strict {
		t.Error("schema without additionalProperties should not be strict")
	}
	if string(descs[0].InputSchema) != string(emptyObjectSchema) {
		t.Errorf("schema = %s", descs[0].InputSchema)
	}
}

func TestBuildDescriptors_Rejects(t *testing.T) {
	cases := map[string]struct {
		tools []protocol.Tool
		want  string
	}{
		"no name":        {[]protocol.Tool{{}}, "without a name"},
		"bad name":       {[]protocol.Tool{{Name: "has space"}}, "invalid name"},
		"duplicate":      {[]protocol.Tool{{Name: "a"}, {Name: "a"}}, "declared twice"},
		"non-object":     {[]protocol.Tool{{Name: "a", InputSchema: json.RawMessage(`{"type":"string"}`)}}, "must be an object"},
		"unknown type":   {[]protocol.Tool{{Name: "a", InputSchema: json.RawMessage(`{"properties":{"x":{"type":"date"}}}`)}}, `unsupported type "date"`},
		"missing type":   {[]protocol.Tool{{Name: "a", InputSchema: json.RawMessage(`{"properties":{"x":{}}}`)}}, "missing type"},
		"union type":     {[]protocol.Tool{{Name: "a", InputSchema: json.RawMessage(`{"properties":{"x":{"type":["string","number"]}}}`)}}, `parameter "x": unsupported type "string|number"`},
		"invalid schema": {[]protocol.Tool{{Name: "a", InputSchema: json.RawMessage(`{"properties":7}`)}}, "input schema"},
	}
	for name, tc := range cases {
		_, err := BuildDescriptors("s", "", tc.tools)
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not contain %q", name, err, tc.want)
		}
	}
}
