package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/toolrelay/toolrelay/internal/protocol"
)

// InputSchema reflects the JSON Schema of T. Properties keep struct field
// order; fields without omitempty are required.
func InputSchema[T any]() json.RawMessage {
	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true
	r.DoNotReference = true
	r.Anonymous = true

	s := r.Reflect(new(T))
	s.Version = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("toolserver: reflect schema: %v", err))
	}
	return raw
}

// NewTool builds a Tool whose arguments decode into T. A string result is
// returned as text; anything else as structured JSON.
func NewTool[T any](name, description string, fn func(ctx context.Context, in T) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: InputSchema[T](),
		Handler: func(ctx context.Context, args json.RawMessage) (protocol.CallToolResult, error) {
			var in T
			if err := json.Unmarshal(args, &in); err != nil {
				return protocol.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			out, err := fn(ctx, in)
			if err != nil {
				return protocol.CallToolResult{}, err
			}
			if s, ok := out.(string); ok {
				return TextResult(s), nil
			}
			return JSONResult(out)
		},
	}
}
