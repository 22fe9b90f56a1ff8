package providers

import "strings"

// ModelOverride applies extra parameters for a specific model pattern.
type ModelOverride struct {
	Pattern   string         // case-insensitive substring to match in model name
	Overrides map[string]any // parameters to merge into the request body
}

// ProviderSpec is the metadata record for one oracle backend.
type ProviderSpec struct {
	Name        string   // config value, e.g. "groq"
	Keywords    []string // model-name keywords for matching (lowercase)
	EnvKey      string   // env var consulted when oracle.apiKey is empty
	DisplayName string   // shown in `toolrelay status`

	// ModelPrefix is stripped from configured model names ("groq/llama-3.1-8b-instant").
	ModelPrefix string

	IsGateway           bool   // routes any model (OpenRouter)
	IsLocal             bool   // local deployment (vLLM); no key required
	DetectByKeyPrefix   string // match api_key prefix to identify gateway
	DetectByBaseKeyword string // match substring in api_base URL
	DefaultAPIBase      string // fallback base URL when none is configured

	// Anthropic speaks the Messages API instead of chat completions.
	IsAnthropic bool

	ModelOverrides []ModelOverride
}

// Label returns the display name, defaulting to Title-cased Name.
func (s ProviderSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return strings.ToTitle(s.Name[:1]) + s.Name[1:]
}

// KeyRequired reports whether the backend refuses anonymous requests.
func (s ProviderSpec) KeyRequired() bool {
	return !s.IsLocal && s.Name != "custom"
}

// Specs is the provider registry. Order = match priority.
var Specs = []ProviderSpec{
	{
		Name:           "groq",
		Keywords:       []string{"groq"},
		EnvKey:         "GROQ_API_KEY",
		DisplayName:    "Groq",
		ModelPrefix:    "groq",
		DefaultAPIBase: "https://api.groq.com/openai/v1",
	},
	{
		Name:        "custom",
		DisplayName: "Custom",
	},
	{
		Name:                "openrouter",
		Keywords:            []string{"openrouter"},
		EnvKey:              "OPENROUTER_API_KEY",
		DisplayName:         "OpenRouter",
		ModelPrefix:         "openrouter",
		IsGateway:           true,
		DetectByKeyPrefix:   "sk-or-",
		DetectByBaseKeyword: "openrouter",
		DefaultAPIBase:      "https://openrouter.ai/api/v1",
	},
	{
		Name:           "anthropic",
		Keywords:       []string{"anthropic", "claude"},
		EnvKey:         "ANTHROPIC_API_KEY",
		DisplayName:    "Anthropic",
		ModelPrefix:    "anthropic",
		DefaultAPIBase: "https://api.anthropic.com",
		IsAnthropic:    true,
	},
	{
		Name:           "openai",
		Keywords:       []string{"openai", "gpt"},
		EnvKey:         "OPENAI_API_KEY",
		DisplayName:    "OpenAI",
		DefaultAPIBase: "https://api.openai.com/v1",
		ModelOverrides: []ModelOverride{
			{Pattern: "gpt-5", Overrides: map[string]any{"temperature": 1.0}},
		},
	},
	{
		Name:           "deepseek",
		Keywords:       []string{"deepseek"},
		EnvKey:         "DEEPSEEK_API_KEY",
		DisplayName:    "DeepSeek",
		ModelPrefix:    "deepseek",
		DefaultAPIBase: "https://api.deepseek.com/v1",
	},
	{
		Name:           "vllm",
		Keywords:       []string{"vllm"},
		EnvKey:         "HOSTED_VLLM_API_KEY",
		DisplayName:    "vLLM/Local",
		ModelPrefix:    "hosted_vllm",
		IsLocal:        true,
		DefaultAPIBase: "http://localhost:8000/v1",
	},
}

// FindByModel matches a standard provider by model-name keyword (case-insensitive).
// Skips gateways and local providers; those are matched by api_key/api_base.
func FindByModel(model string) *ProviderSpec {
	modelLower := strings.ToLower(model)
	modelPrefix, _, _ := strings.Cut(modelLower, "/")

	var std []int
	for i := range Specs {
		if !Specs[i].IsGateway && !Specs[i].IsLocal {
			std = append(std, i)
		}
	}

	// Prefer explicit provider prefix.
	for _, i := range std {
		if modelPrefix != "" && modelPrefix == Specs[i].Name {
			return &Specs[i]
		}
	}
	for _, i := range std {
		for _, kw := range Specs[i].Keywords {
			if strings.Contains(modelLower, kw) {
				return &Specs[i]
			}
		}
	}
	return nil
}

// FindGateway detects the gateway or local provider.
// Priority: (1) explicit provider name, (2) api_key prefix, (3) api_base keyword.
func FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	if providerName != "" {
		if s := FindByName(providerName); s != nil && (s.IsGateway || s.IsLocal) {
			return s
		}
	}
	for i := range Specs {
		spec := &Specs[i]
		if spec.DetectByKeyPrefix != "" && strings.HasPrefix(apiKey, spec.DetectByKeyPrefix) {
			return spec
		}
		if spec.DetectByBaseKeyword != "" && strings.Contains(apiBase, spec.DetectByBaseKeyword) {
			return spec
		}
	}
	return nil
}

// FindByName returns the ProviderSpec whose Name equals name.
func FindByName(name string) *ProviderSpec {
	for i := range Specs {
		if Specs[i].Name == name {
			return &Specs[i]
		}
	}
	return nil
}
