// Package classify labels review text with a sentiment and a set of topics.
package classify

import (
	"context"
)

// SentimentClassifier returns "Positive" or "Negative" for a review text
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// TopicClassifier returns the categories a review text is about
type TopicClassifier interface {
	Classify(ctx context.Context, text string) ([]string, error)
}
