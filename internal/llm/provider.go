// Package llm provides chat completion backends behind one interface. The
// topic classifier uses it so the model vendor is a configuration choice.
package llm

import (
	"context"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one prompt and returns the model's reply
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is a single-turn prompt
type CompletionRequest struct {
	// System is an optional system instruction
	System string

	// Prompt is the user message
	Prompt string

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	// Temperature overrides the configured temperature when positive
	Temperature float32
}

// CompletionResponse is the model's reply
type CompletionResponse struct {
	// Text is the reply with surrounding whitespace removed
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	Timeout     time.Duration
	MaxTokens   int
	Temperature float32

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Timeout:     30 * time.Second,
		MaxTokens:   100,
		Temperature: 0.2,
	}
}

// ConfigFromModel builds a provider config from the topics and HTTP sections
func ConfigFromModel(topics model.TopicsConfig, httpCfg model.HTTPConfig) Config {
	return Config{
		Provider:    topics.Provider,
		Model:       topics.Model,
		APIKey:      topics.APIKey,
		BaseURL:     topics.BaseURL,
		Timeout:     httpCfg.Timeout,
		MaxTokens:   topics.MaxTokens,
		Temperature: topics.Temperature,
		HTTPProxy:   httpCfg.HTTPProxy,
		HTTPSProxy:  httpCfg.HTTPSProxy,
	}
}

// resolve fills request fields from the provider config
func (c Config) resolve(req CompletionRequest, defaultModel string) CompletionRequest {
	if req.Model == "" {
		req.Model = c.Model
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.MaxTokens
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 100
	}
	if req.Temperature <= 0 {
		req.Temperature = c.Temperature
	}
	return req
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}
