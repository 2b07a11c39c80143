package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/LuisMada/SentiScan/internal/llm"
	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/resilience"
)

const topicSystemPrompt = "You are a classification assistant that assigns customer reviews to predefined categories."

// LLMTopics classifies topics by prompting a language model with the
// category list
type LLMTopics struct {
	provider   llm.Provider
	categories []string
	exec       *resilience.Executor
	model      string
}

// NewLLMTopics creates a topic classifier. An empty category list uses
// model.DefaultCategories.
func NewLLMTopics(provider llm.Provider, categories []string, modelName string, exec *resilience.Executor) *LLMTopics {
	if len(categories) == 0 {
		categories = model.DefaultCategories
	}
	return &LLMTopics{
		provider:   provider,
		categories: append([]string(nil), categories...),
		exec:       exec,
		model:      modelName,
	}
}

// Model identifies the backing model, used in cache keys
func (t *LLMTopics) Model() string {
	return t.provider.Name() + "/" + t.model
}

// Classify asks the model for all matching categories. A reply with no
// known category yields ["Generic"].
func (t *LLMTopics) Classify(ctx context.Context, text string) ([]string, error) {
	req := llm.CompletionRequest{
		System: topicSystemPrompt,
		Prompt: BuildTopicPrompt(t.categories, text),
		Model:  t.model,
	}
	resp, err := resilience.Call(ctx, t.exec, "topics", func(ctx context.Context) (*llm.CompletionResponse, error) {
		return t.provider.Complete(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: topics: %w", model.ErrClassification, err)
	}
	return ParseTopics(resp.Text, t.categories), nil
}

// BuildTopicPrompt asks for every relevant category as a comma-separated list
func BuildTopicPrompt(categories []string, text string) string {
	var b strings.Builder
	b.WriteString("Assign all relevant categories from the list below to the customer review.\n\n")
	b.WriteString("Categories:\n")
	b.WriteString(strings.Join(categories, ", "))
	b.WriteString("\n\nReview:\n\"")
	b.WriteString(text)
	b.WriteString("\"\n\n")
	b.WriteString("Reply with the matching categories only, as a comma-separated list ")
	b.WriteString("(for example: Payment, App Performance). Do not add any other text.")
	return b.String()
}

// ParseTopics splits a model reply on commas, trims whitespace and quotes,
// keeps known categories in their canonical spelling and drops duplicates.
// Matching ignores case.
func ParseTopics(reply string, categories []string) []string {
	canonical := make(map[string]string, len(categories))
	for _, c := range categories {
		canonical[strings.ToLower(c)] = c
	}

	var topics []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(reply, ",") {
		part = strings.Trim(strings.TrimSpace(part), "\"'`.*")
		part = strings.TrimSpace(part)
		name, ok := canonical[strings.ToLower(part)]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		topics = append(topics, name)
	}

	if len(topics) == 0 {
		return []string{model.TopicGeneric}
	}
	return topics
}
