package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/util"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider runs prompts against a local Ollama server
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	config     Config
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// NewOllamaProvider needs no key. Local models get a longer default timeout.
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaURL
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}

	return &OllamaProvider{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		httpClient: util.NewHTTPClient(model.HTTPConfig{
			Timeout:    config.Timeout,
			HTTPProxy:  config.HTTPProxy,
			HTTPSProxy: config.HTTPSProxy,
		}),
		config: config,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsAvailable reports whether the server answers its model listing
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.call(ctx, http.MethodGet, "/api/tags", nil)
	return err == nil
}

// Complete asks for a single non-streamed generation
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	req = p.config.resolve(req, "")
	if req.Model == "" {
		return nil, fmt.Errorf("%w: topics.model must name a local ollama model", model.ErrConfig)
	}

	payload, err := json.Marshal(ollamaRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	body, err := p.call(ctx, http.MethodPost, "/api/generate", payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	text := strings.TrimSpace(resp.Response)
	used := resp.PromptEvalCount + resp.EvalCount
	if used == 0 {
		// some models omit eval counts; approximate at four bytes a token
		used = (len(req.Prompt) + len(text)) / 4
	}
	return &CompletionResponse{Text: text, Model: resp.Model, TokensUsed: used}, nil
}

func (p *OllamaProvider) call(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		msg := truncate(string(body), 512)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &model.HTTPStatusError{Service: "ollama", StatusCode: httpResp.StatusCode, Body: msg}
	}
	return body, nil
}
