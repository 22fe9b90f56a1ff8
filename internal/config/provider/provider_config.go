package provider

const (
	ProviderGroq       = "groq"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderDeepSeek   = "deepseek"
	ProviderVLLM       = "vllm"
	ProviderCustom     = "custom"
	ProviderAnthropic  = "anthropic"
)

// OracleConfig selects and configures the decision oracle.
type OracleConfig struct {
	Provider     string            `json:"provider" yaml:"provider" validate:"required,oneof=groq openai openrouter deepseek vllm custom anthropic"`
	Model        string            `json:"model" yaml:"model" validate:"required"`
	APIKey       string            `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIBase      string            `json:"apiBase,omitempty" yaml:"apiBase,omitempty" validate:"omitempty,url"`
	MaxTokens    int               `json:"maxTokens" yaml:"maxTokens" validate:"min=1"`
	Temperature  float64           `json:"temperature" yaml:"temperature" validate:"min=0,max=2"`
	SystemPrompt string            `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty" yaml:"extraHeaders,omitempty"`
}

func DefaultOracleConfig() OracleConfig {
	return OracleConfig{
		Provider:    ProviderGroq,
		Model:       "llama-3.1-8b-instant",
		MaxTokens:   4096,
		Temperature: 0,
	}
}
