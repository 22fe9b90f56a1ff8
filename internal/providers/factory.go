// Package providers adapts LLM backends to the schema.Oracle contract.
package providers

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/toolrelay/toolrelay/internal/config/provider"
	"github.com/toolrelay/toolrelay/internal/schema"
)

// ErrMissingAPIKey is returned by New when a hosted backend has no key.
var ErrMissingAPIKey = errors.New("providers: missing API key")

// Resolved is an OracleConfig with the registry defaults applied.
type Resolved struct {
	provider.OracleConfig
	Spec    *ProviderSpec
	Gateway *ProviderSpec
}

// Resolve fills in the API base, key and model prefix handling for cfg.
func Resolve(cfg provider.OracleConfig) Resolved {
	r := Resolved{OracleConfig: cfg}
	r.Gateway = FindGateway(cfg.Provider, cfg.APIKey, cfg.APIBase)
	if r.Gateway == nil {
		r.Spec = FindByName(cfg.Provider)
		if r.Spec == nil {
			r.Spec = FindByModel(cfg.Model)
		}
	}
	active := r.active()

	if r.APIKey == "" && active != nil && active.EnvKey != "" {
		r.APIKey = os.Getenv(active.EnvKey)
	}
	if r.APIBase == "" {
		if active != nil && active.DefaultAPIBase != "" {
			r.APIBase = active.DefaultAPIBase
		} else {
			r.APIBase = "https://api.openai.com/v1"
		}
	}
	r.APIBase = strings.TrimRight(r.APIBase, "/")
	r.Model = r.resolveModel(cfg.Model)
	return r
}

func (r Resolved) active() *ProviderSpec {
	if r.Gateway != nil {
		return r.Gateway
	}
	return r.Spec
}

// Label names the backend for status output.
func (r Resolved) Label() string {
	if s := r.active(); s != nil {
		return s.Label()
	}
	return r.Provider
}

// resolveModel strips routing prefixes so the API receives the model name
// it expects. Gateways keep "vendor/model" because they route on it.
func (r Resolved) resolveModel(model string) string {
	var prefixes []string
	if r.Gateway != nil {
		prefixes = []string{r.Gateway.ModelPrefix}
	} else if r.Spec != nil {
		prefixes = []string{r.Spec.ModelPrefix, r.Spec.Name}
	}
	for _, pfx := range prefixes {
		if pfx == "" {
			continue
		}
		full := pfx + "/"
		if strings.HasPrefix(strings.ToLower(model), full) {
			return model[len(full):]
		}
	}
	return model
}

// New creates the oracle selected by cfg: the Anthropic Messages API for
// anthropic, an OpenAI-compatible chat completions client for the rest.
func New(cfg provider.OracleConfig) (schema.Oracle, error) {
	r := Resolve(cfg)
	if r.APIKey == "" {
		if s := r.active(); s == nil || s.KeyRequired() {
			env := ""
			if s != nil && s.EnvKey != "" {
				env = " or " + s.EnvKey
			}
			return nil, fmt.Errorf("%w for %s: set oracle.apiKey%s", ErrMissingAPIKey, r.Label(), env)
		}
	}
	if r.Spec != nil && r.Spec.IsAnthropic {
		return NewAnthropicOracle(r), nil
	}
	return NewOpenAIOracle(r), nil
}
