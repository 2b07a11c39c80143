package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/resilience"
)

// HFConfig configures the Hugging Face Inference API client
type HFConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// HFSentiment classifies sentiment with a text-classification model served
// by the Hugging Face Inference API
type HFSentiment struct {
	cfg        HFConfig
	httpClient *http.Client
	exec       *resilience.Executor
}

type hfLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type hfError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

// older checkpoints of the cardiffnlp models report generic label ids
var hfLabelAliases = map[string]string{
	"label_0": "negative",
	"label_1": "neutral",
	"label_2": "positive",
}

// NewHFSentiment creates the client. exec may be nil.
func NewHFSentiment(cfg HFConfig, httpClient *http.Client, exec *resilience.Executor) *HFSentiment {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-inference.huggingface.co"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &HFSentiment{cfg: cfg, httpClient: httpClient, exec: exec}
}

// Model returns the model id, used in cache keys
func (h *HFSentiment) Model() string {
	return h.cfg.Model
}

// Classify returns the highest scoring non-neutral label, capitalised.
// An all-neutral prediction counts as "Positive".
func (h *HFSentiment) Classify(ctx context.Context, text string) (string, error) {
	labels, err := resilience.Call(ctx, h.exec, "sentiment", func(ctx context.Context) ([]hfLabel, error) {
		return h.infer(ctx, text)
	})
	if err != nil {
		return "", fmt.Errorf("%w: sentiment: %w", model.ErrClassification, err)
	}
	return pickSentiment(labels), nil
}

func (h *HFSentiment) infer(ctx context.Context, text string) ([]hfLabel, error) {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s", h.cfg.BaseURL, h.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		var apiErr hfError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &model.HTTPStatusError{Service: "huggingface", StatusCode: resp.StatusCode, Body: msg}
	}

	return parseHFResponse(respBody)
}

// parseHFResponse accepts [[{label, score}]], [{label, score}] and {"error": ...}
func parseHFResponse(data []byte) ([]hfLabel, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	if data[0] == '{' {
		var apiErr hfError
		if err := json.Unmarshal(data, &apiErr); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		if apiErr.Error != "" {
			return nil, fmt.Errorf("huggingface: %s", apiErr.Error)
		}
		return nil, fmt.Errorf("unexpected response object")
	}

	var nested [][]hfLabel
	if err := json.Unmarshal(data, &nested); err == nil {
		if len(nested) == 0 {
			return nil, fmt.Errorf("empty prediction list")
		}
		return nested[0], nil
	}

	var flat []hfLabel
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("empty prediction list")
	}
	return flat, nil
}

func pickSentiment(labels []hfLabel) string {
	sorted := append([]hfLabel(nil), labels...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	for _, l := range sorted {
		name := strings.ToLower(strings.TrimSpace(l.Label))
		if alias, ok := hfLabelAliases[name]; ok {
			name = alias
		}
		if name == "neutral" || name == "" {
			continue
		}
		return capitalize(name)
	}
	return model.SentimentPositive
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
