package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/toolrelay/toolrelay/internal/config/tool"
)

func writeConfig(t *testing.T, dir string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	def := DefaultConfig()
	if cfg.Oracle.Model != def.Oracle.Model {
		t.Errorf("expected default model %q, got %q", def.Oracle.Model, cfg.Oracle.Model)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].ID != "demo" {
		t.Errorf("expected the demo server by default, got %+v", cfg.Servers)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"oracle": map[string]any{
			"provider":  "openai",
			"model":     "gpt-4o",
			"maxTokens": 2048,
		},
		"servers": []map[string]any{
			{"id": "weather", "command": "python", "args": []string{"weather.py"}},
			{"id": "calendar", "url": "ws://localhost:9000/rpc"},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Oracle.Model != "gpt-4o" || cfg.Oracle.MaxTokens != 2048 {
		t.Errorf("oracle = %+v", cfg.Oracle)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.Servers))
	}
	if cfg.Servers[0].TransportKind() != tool.TransportStdio {
		t.Errorf("weather transport = %q", cfg.Servers[0].TransportKind())
	}
	if cfg.Servers[1].TransportKind() != tool.TransportWebsocket {
		t.Errorf("calendar transport = %q", cfg.Servers[1].TransportKind())
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
orchestrator:
  stepBudget: 3
servers:
  - id: math
    command: python
    args: [math_server.py]
    namespace: math
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Orchestrator.StepBudget != 3 {
		t.Errorf("stepBudget = %d", cfg.Orchestrator.StepBudget)
	}
	if cfg.Orchestrator.MaxParallel != DefaultConfig().Orchestrator.MaxParallel {
		t.Errorf("maxParallel lost its default: %d", cfg.Orchestrator.MaxParallel)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].Namespace != "math" {
		t.Errorf("servers = %+v", cfg.Servers)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]struct {
		doc  map[string]any
		want string
	}{
		"duplicate id": {
			map[string]any{"servers": []map[string]any{
				{"id": "a", "command": "x"},
				{"id": "a", "command": "y"},
			}},
			`"a" already used`,
		},
		"stdio without command": {
			map[string]any{"servers": []map[string]any{{"id": "a", "transport": "stdio"}}},
			"servers[0].command",
		},
		"websocket without url": {
			map[string]any{"servers": []map[string]any{{"id": "a", "transport": "websocket"}}},
			"servers[0].url",
		},
		"unknown transport": {
			map[string]any{"servers": []map[string]any{{"id": "a", "transport": "http", "command": "x"}}},
			"servers[0].transport",
		},
		"missing id": {
			map[string]any{"servers": []map[string]any{{"command": "x"}}},
			"servers[0].id",
		},
		"zero budget": {
			map[string]any{"orchestrator": map[string]any{"stepBudget": 0}},
			"orchestrator.stepBudget",
		},
		"negative health interval": {
			map[string]any{"orchestrator": map[string]any{"healthIntervalSec": -1}},
			"orchestrator.healthIntervalSec",
		},
		"unknown provider": {
			map[string]any{"oracle": map[string]any{"provider": "nope"}},
			"oracle.provider",
		},
	}
	for name, tc := range cases {
		path := writeConfig(t, t.TempDir(), tc.doc)
		_, err := Load(path)
		if err == nil {
			t.Errorf("%s: expected validation error", name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", name, err, tc.want)
		}
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		path := filepath.Join(t.TempDir(), name)

		original := DefaultConfig()
		original.Oracle.Model = "llama-3.3-70b-versatile"
		original.Orchestrator.StepBudget = 7

		if err := Save(&original, path); err != nil {
			t.Fatalf("%s: Save failed: %v", name, err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("%s: Load failed: %v", name, err)
		}
		if loaded.Oracle.Model != original.Oracle.Model {
			t.Errorf("%s: model mismatch: got %q, want %q", name, loaded.Oracle.Model, original.Oracle.Model)
		}
		if loaded.Orchestrator.StepBudget != 7 {
			t.Errorf("%s: stepBudget mismatch: got %d", name, loaded.Orchestrator.StepBudget)
		}
	}
}

func TestSave_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected permissions 0600, got %04o", perm)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dir", "config.json")

	cfg := DefaultConfig()
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestEnabledServers_SkipsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []tool.ServerConfig{
		{ID: "a", Command: "x"},
		{ID: "b", Command: "y", Disabled: true},
		{ID: "c", Command: "z"},
	}
	got := cfg.EnabledServers()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("EnabledServers = %+v", got)
	}
}
