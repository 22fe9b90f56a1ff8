package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/toolrelay/toolrelay/internal/registry"
	"github.com/toolrelay/toolrelay/internal/schema"
)

// OpenAIOracle makes direct HTTP calls to any OpenAI-compatible chat
// completions endpoint (Groq, OpenAI, OpenRouter, DeepSeek, vLLM).
type OpenAIOracle struct {
	cfg        Resolved
	httpClient *http.Client
}

func NewOpenAIOracle(cfg Resolved) *OpenAIOracle {
	return &OpenAIOracle{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Decide implements schema.Oracle.
func (p *OpenAIOracle) Decide(ctx context.Context, turns []schema.Turn, tools []schema.ToolDescriptor) (schema.Decision, error) {
	maxTokens := p.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":       p.cfg.Model,
		"messages":    openAIMessages(p.cfg.SystemPrompt, turns),
		"max_tokens":  maxTokens,
		"temperature": p.cfg.Temperature,
	}
	if len(tools) > 0 {
		body["tools"] = registry.Definitions(tools)
		body["tool_choice"] = "auto"
	}
	p.applyModelOverrides(body)

	data, err := json.Marshal(body)
	if err != nil {
		return schema.Decision{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.APIBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return schema.Decision{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	for k, v := range p.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return schema.Decision{}, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.Decision{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schema.Decision{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, friendlyHTTPError(resp.StatusCode, raw))
	}

	return parseOpenAIResponse(raw)
}

func (p *OpenAIOracle) applyModelOverrides(body map[string]any) {
	spec := p.cfg.Spec
	if spec == nil {
		spec = FindByModel(p.cfg.Model)
	}
	if spec == nil {
		return
	}
	modelLower := strings.ToLower(p.cfg.Model)
	for _, ov := range spec.ModelOverrides {
		if strings.Contains(modelLower, strings.ToLower(ov.Pattern)) {
			for k, v := range ov.Overrides {
				body[k] = v
			}
			return
		}
	}
}

// openAIRespBody is the subset of the chat completion response we care about.
type openAIRespBody struct {
	Choices []struct {
		Message struct {
			Content   any `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func parseOpenAIResponse(raw []byte) (schema.Decision, error) {
	var body openAIRespBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return schema.Decision{}, fmt.Errorf("parse OpenAI response: %w", err)
	}
	if len(body.Choices) == 0 {
		return schema.Decision{}, fmt.Errorf("empty choices in response")
	}

	choice := body.Choices[0]
	content, _ := choice.Message.Content.(string)

	var calls []schema.ProposedCall
	for _, tc := range choice.Message.ToolCalls {
		args, err := repairJSON(tc.Function.Arguments)
		if err != nil {
			slog.Warn("failed to parse tool arguments", "tool", tc.Function.Name, "err", err)
		}
		calls = append(calls, schema.ProposedCall{Name: tc.Function.Name, Arguments: args})
	}

	finish := choice.FinishReason
	if finish == "" {
		finish = "stop"
	}
	return schema.Decision{
		Answer:       content,
		Calls:        calls,
		FinishReason: finish,
		Usage: map[string]int{
			"input_tokens":  body.Usage.PromptTokens,
			"output_tokens": body.Usage.CompletionTokens,
		},
	}, nil
}

// repairJSON decodes tool arguments, retrying after stripping trailing
// garbage. Some models emit truncated arguments. Key order is kept.
func repairJSON(raw string) (schema.Arguments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return schema.Arguments{}, nil
	}
	if args, err := schema.ParseArguments(raw); err == nil {
		return args, nil
	}

	// Attempt 1: trim trailing non-JSON characters.
	stripped := strings.TrimRight(raw, " \t\n\r}]")
	if !strings.HasSuffix(stripped, "}") {
		stripped += "}"
	}
	if args, err := schema.ParseArguments(stripped); err == nil {
		return args, nil
	}

	// Attempt 2: find the last complete JSON object.
	if i := strings.LastIndex(raw, "}"); i >= 0 {
		if args, err := schema.ParseArguments(raw[:i+1]); err == nil {
			return args, nil
		}
	}
	return schema.Arguments{}, fmt.Errorf("cannot repair JSON: %s", raw)
}

func friendlyHTTPError(code int, body []byte) string {
	switch code {
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusUnauthorized:
		return "invalid API key"
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
