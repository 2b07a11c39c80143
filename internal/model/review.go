package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Review is a single app-store review as returned by the review source.
// Timestamps are UTC with timezone-naive semantics.
type Review struct {
	Author string    `json:"author"`
	Rating int       `json:"rating"`
	At     time.Time `json:"at"`
	Text   string    `json:"text"`
}

// Key returns a stable identity for the review. The source does not expose
// review IDs, so identity is derived from (timestamp, author, text).
func (r Review) Key() string {
	h := sha256.New()
	h.Write([]byte(r.At.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(r.Author))
	h.Write([]byte{0})
	h.Write([]byte(r.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// Sentiment labels
const (
	SentimentPositive = "Positive"
	SentimentNegative = "Negative"
	SentimentUnknown  = "Unknown"
)

// TopicGeneric is the catch-all category used when no listed topic applies
const TopicGeneric = "Generic"

// DefaultCategories is the fixed topic list reviews are classified against
var DefaultCategories = []string{
	"Map/ Location",
	"Payment",
	"Rider Performance",
	"Sanitary",
	"Booking Experience",
	"Promo Code",
	"Pricing",
	"Customer Service",
	"Management",
	"App Performance",
	TopicGeneric,
}

// ProcessedReview is a review extended with its classifications.
type ProcessedReview struct {
	Review
	Sentiment string   `json:"sentiment"`
	Topics    []string `json:"topics"`
}

// TopicsString renders topics the way they are stored in CSV and on the sheet.
func (p ProcessedReview) TopicsString() string {
	return JoinTopics(p.Topics)
}

// JoinTopics joins topic labels with ", ".
func JoinTopics(topics []string) string {
	return strings.Join(topics, ", ")
}

// SplitTopics is the inverse of JoinTopics. Blank input yields nil.
func SplitTopics(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Project splits topics into positive and negative columns gated on sentiment.
// Sentiments that are neither positive nor negative project to two blanks.
func Project(sentiment, topics string) (positive, negative string) {
	switch {
	case strings.Contains(sentiment, SentimentPositive):
		return topics, ""
	case strings.Contains(sentiment, SentimentNegative):
		return "", topics
	default:
		return "", ""
	}
}
