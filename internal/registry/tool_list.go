package registry

import (
	"encoding/json"

	"github.com/toolrelay/toolrelay/internal/schema"
)

// ToolList is an ordered, read-only set of descriptors, as handed to the
// oracle for one decision.
type ToolList struct {
	tools []schema.ToolDescriptor
	index map[string]int
}

func NewToolList(ts ...schema.ToolDescriptor) *ToolList {
	list := ToolList{tools: ts, index: make(map[string]int, len(ts))}
	for i, t := range ts {
		list.index[t.Name] = i
	}
	return &list
}

// Get returns the descriptor with the given name.
func (l *ToolList) Get(name string) (schema.ToolDescriptor, bool) {
	i, ok := l.index[name]
	if !ok {
		return schema.ToolDescriptor{}, false
	}
	return l.tools[i], true
}

func (l *ToolList) Len() int { return len(l.tools) }

// Descriptors returns the tools in order.
func (l *ToolList) Descriptors() []schema.ToolDescriptor { return l.tools }

// Definitions returns all tool definitions in OpenAI function-calling format.
func (l *ToolList) Definitions() []map[string]any {
	return Definitions(l.tools)
}

// Definitions renders descriptors in OpenAI function-calling format.
func Definitions(tools []schema.ToolDescriptor) []map[string]any {
	list := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		// Raw bytes keep the server's property order on the wire.
		var params any = t.InputSchema
		if len(t.InputSchema) == 0 || !json.Valid(t.InputSchema) {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		list = append(list, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return list
}
