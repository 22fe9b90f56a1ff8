package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toolrelay/toolrelay/internal/protocol"
)

type pairInput struct {
	A float64 `json:"a" jsonschema:"description=First operand"`
	B float64 `json:"b" jsonschema:"description=Second operand"`
}

type sleepInput struct {
	Ms int `json:"ms" jsonschema:"description=How long to sleep in milliseconds,minimum=0"`
}

// Echo returns its arguments unchanged, key order included.
func Echo() Tool {
	return Tool{
		Name:        "echo",
		Description: "Return the arguments exactly as received",
		InputSchema: json.RawMessage(`{"type":"object","additionalProperties":true}`),
		Handler: func(_ context.Context, args json.RawMessage) (protocol.CallToolResult, error) {
			return JSONResult(args)
		},
	}
}

// Sleep waits for the requested duration or until the call is cancelled.
func Sleep() Tool {
	return NewTool("sleep", "Wait for the given number of milliseconds", func(ctx context.Context, in sleepInput) (any, error) {
		select {
		case <-time.After(time.Duration(in.Ms) * time.Millisecond):
			return fmt.Sprintf("slept %dms", in.Ms), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func Add() Tool {
	return NewTool("add", "Add two numbers", func(_ context.Context, in pairInput) (any, error) {
		return map[string]float64{"result": in.A + in.B}, nil
	})
}

func Multiply() Tool {
	return NewTool("multiply", "Multiply two numbers", func(_ context.Context, in pairInput) (any, error) {
		return map[string]float64{"result": in.A * in.B}, nil
	})
}

// Demo is the built-in server used by a fresh configuration.
func Demo(version string) *Server {
	return New("toolrelay-demo", version, Echo(), Sleep(), Add(), Multiply())
}
