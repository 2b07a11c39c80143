// Package source fetches app store reviews, one page at a time.
package source

import (
	"context"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
)

// PageRequest asks for one page of reviews, newest first
type PageRequest struct {
	AppID    string
	Country  string
	Language string
	Count    int
	Token    string // continuation token from the previous page, empty for the first
}

// Page is one page of reviews in the order the store returned them
type Page struct {
	Reviews   []model.Review
	NextToken string // empty when there are no more pages
}

// ReviewSource is the port the scraper pages through
type ReviewSource interface {
	Page(ctx context.Context, req PageRequest) (*Page, error)
}

// Preflighter is implemented by sources that must be checked before a run.
// The returned delay is the minimum spacing the source asks for between pages.
type Preflighter interface {
	Preflight(ctx context.Context, appID string) (time.Duration, error)
}
