package llm

import (
	"fmt"

	"forge/pkg/config"
)

// NewClientFromConfig builds a retry-wrapped provider client for the
// configured provider.
func NewClientFromConfig(cfg *config.Config) (Client, error) {
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}
	model := cfg.ActiveModel()

	var raw Client
	switch cfg.Provider {
	case config.ProviderAnthropic:
		raw = NewClaudeClient(key, model.Name)
	case config.ProviderOpenAI:
		raw = NewOpenAIClient(key, model.Name)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	return NewRetryableClient(raw, DefaultRetryConfig), nil
}
