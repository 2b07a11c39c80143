package llm

import (
	"fmt"
	"strings"

	"github.com/LuisMada/SentiScan/internal/model"
)

// NewProvider picks a backend by config.Provider. An empty name means openai.
func NewProvider(config Config) (Provider, error) {
	switch name := strings.ToLower(strings.TrimSpace(config.Provider)); name {
	case "", "openai":
		return NewOpenAIProvider(config)
	case "anthropic", "claude":
		return NewAnthropicProvider(config)
	case "ollama":
		return NewOllamaProvider(config)
	default:
		return nil, fmt.Errorf("%w: topics.provider %q is not one of openai, anthropic, ollama", model.ErrConfig, config.Provider)
	}
}
