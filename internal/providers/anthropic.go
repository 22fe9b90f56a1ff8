package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/toolrelay/toolrelay/internal/schema"
)

// AnthropicOracle queries the Anthropic Messages API through the official SDK.
type AnthropicOracle struct {
	cfg    Resolved
	client anthropic.Client
}

func NewAnthropicOracle(cfg Resolved) *AnthropicOracle {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
		option.WithRequestTimeout(2 * time.Minute),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	return &AnthropicOracle{cfg: cfg, client: anthropic.NewClient(opts...)}
}

// Decide implements schema.Oracle.
func (p *AnthropicOracle) Decide(ctx context.Context, turns []schema.Turn, tools []schema.ToolDescriptor) (schema.Decision, error) {
	maxTokens := int64(p.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.cfg.Model),
		Messages:    anthropicMessages(turns),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(p.cfg.Temperature),
	}
	if p.cfg.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.cfg.SystemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = anthropicTools(tools)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return schema.Decision{}, fmt.Errorf("anthropic: %w", err)
	}

	var d schema.Decision
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			d.Answer += b.Text
		case anthropic.ToolUseBlock:
			args, err := schema.ParseArguments(string(b.Input))
			if err != nil {
				slog.Warn("failed to parse tool arguments", "tool", b.Name, "err", err)
			}
			d.Calls = append(d.Calls, schema.ProposedCall{Name: b.Name, Arguments: args})
		}
	}

	d.FinishReason = "stop"
	if msg.StopReason == anthropic.StopReasonToolUse {
		d.FinishReason = "tool_calls"
	} else if msg.StopReason != "" && msg.StopReason != anthropic.StopReasonEndTurn {
		d.FinishReason = string(msg.StopReason)
	}
	d.Usage = map[string]int{
		"input_tokens":  int(msg.Usage.InputTokens),
		"output_tokens": int(msg.Usage.OutputTokens),
	}
	return d, nil
}

// anthropicMessages renders the window as Messages API turns. Tool results
// travel in a user message as tool_result blocks keyed by correlation id.
func anthropicMessages(turns []schema.Turn) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, seg := range segments(turns) {
		if seg.turn != nil {
			block := anthropic.NewTextBlock(seg.turn.Text)
			if seg.turn.Kind == schema.TurnAgent {
				out = append(out, anthropic.NewAssistantMessage(block))
			} else {
				out = append(out, anthropic.NewUserMessage(block))
			}
			continue
		}

		uses := make([]anthropic.ContentBlockParamUnion, len(seg.step.invocations))
		for i, req := range seg.step.invocations {
			uses[i] = anthropic.NewToolUseBlock(req.CorrelationID, json.RawMessage(req.Arguments.String()), req.Tool)
		}
		out = append(out, anthropic.NewAssistantMessage(uses...))

		if len(seg.step.observations) == 0 {
			continue
		}
		results := make([]anthropic.ContentBlockParamUnion, len(seg.step.observations))
		for i, res := range seg.step.observations {
			results[i] = anthropic.NewToolResultBlock(res.CorrelationID, res.Text(), !res.OK())
		}
		out = append(out, anthropic.NewUserMessage(results...))
	}
	return out
}

// inputSchema is the part of a JSON Schema the Messages API wants split out.
type inputSchema struct {
	Properties json.RawMessage `json:"properties"`
	Required   []string        `json:"required"`
}

func anthropicTools(tools []schema.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var in inputSchema
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &in)
		}
		// Raw bytes keep the server's property order on the wire.
		var props any = map[string]any{}
		if len(in.Properties) > 0 {
			props = in.Properties
		}
		tool := anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   in.Required,
			},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}
