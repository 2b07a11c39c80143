package classify

import (
	"context"
	"time"

	"github.com/LuisMada/SentiScan/internal/cache"
)

// CachedSentiment memoizes a sentiment classifier by model and text.
// Failures are not cached.
type CachedSentiment struct {
	inner SentimentClassifier
	cache cache.Cache
	model string
	ttl   time.Duration
}

// NewCachedSentiment wraps inner
func NewCachedSentiment(inner SentimentClassifier, c cache.Cache, modelName string, ttl time.Duration) *CachedSentiment {
	return &CachedSentiment{inner: inner, cache: c, model: modelName, ttl: ttl}
}

// Classify returns the cached label or asks inner
func (c *CachedSentiment) Classify(ctx context.Context, text string) (string, error) {
	key := cache.Key("sentiment", c.model, text)
	if data, ok := c.cache.Get(key); ok && len(data) > 0 {
		return string(data), nil
	}

	label, err := c.inner.Classify(ctx, text)
	if err != nil {
		return "", err
	}
	_ = c.cache.Set(key, []byte(label), c.ttl)
	return label, nil
}

// CachedTopics memoizes a topic classifier by model, category list and text
type CachedTopics struct {
	inner      TopicClassifier
	cache      cache.Cache
	model      string
	categories string
	ttl        time.Duration
}

// NewCachedTopics wraps inner. The category list is part of the key so
// changing it invalidates earlier answers.
func NewCachedTopics(inner TopicClassifier, c cache.Cache, modelName string, categories []string, ttl time.Duration) *CachedTopics {
	return &CachedTopics{
		inner:      inner,
		cache:      c,
		model:      modelName,
		categories: cache.Key(categories...),
		ttl:        ttl,
	}
}

// Classify returns the cached topics or asks inner
func (c *CachedTopics) Classify(ctx context.Context, text string) ([]string, error) {
	key := cache.Key("topics", c.model, c.categories, text)
	var topics []string
	if cache.GetJSON(c.cache, key, &topics) && len(topics) > 0 {
		return topics, nil
	}

	topics, err := c.inner.Classify(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = cache.SetJSON(c.cache, key, topics, c.ttl)
	return topics, nil
}
