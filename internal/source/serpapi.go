package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/LuisMada/SentiScan/internal/util"
)

const (
	serpEngine = "google_play_product"
	// sort_by=2 is "newest" for the google_play_product engine
	serpSortNewest = "2"
	// the API rejects num above this
	serpMaxCount = 199
	maxErrorBody = 512
	maxBody      = 8 << 20
)

// SerpAPIConfig configures the SerpApi Google Play adapter
type SerpAPIConfig struct {
	BaseURL   string
	APIKey    string
	UserAgent string
}

// SerpAPI reads Google Play reviews through SerpApi's google_play_product engine
type SerpAPI struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	robots     *util.RobotsChecker
}

type serpResponse struct {
	Error      string       `json:"error,omitempty"`
	Reviews    []serpReview `json:"reviews"`
	Pagination struct {
		Next          string `json:"next"`
		NextPageToken string `json:"next_page_token"`
	} `json:"serpapi_pagination"`
}

type serpReview struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Rating  float64 `json:"rating"`
	Snippet string  `json:"snippet"`
	Date    string  `json:"date"`
	ISODate string  `json:"iso_date"`
}

// NewSerpAPI creates the adapter. A nil client falls back to http.DefaultClient.
func NewSerpAPI(cfg SerpAPIConfig, httpClient *http.Client) *SerpAPI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://serpapi.com"
	}
	return &SerpAPI{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		httpClient: httpClient,
	}
}

// WithRobots enables the robots.txt check in Preflight
func (s *SerpAPI) WithRobots(checker *util.RobotsChecker) *SerpAPI {
	s.robots = checker
	return s
}

// Preflight checks robots.txt for the search endpoint when enabled
func (s *SerpAPI) Preflight(ctx context.Context, appID string) (time.Duration, error) {
	if s.robots == nil {
		return 0, nil
	}
	return s.robots.Check(ctx, s.searchURL(PageRequest{AppID: appID}, false))
}

// Page fetches one page of reviews, newest first
func (s *SerpAPI) Page(ctx context.Context, pr PageRequest) (*Page, error) {
	if pr.AppID == "" {
		return nil, fmt.Errorf("app id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.searchURL(pr, true), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request reviews: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &model.HTTPStatusError{
			Service:    "serpapi",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var parsed serpResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}

	if parsed.Error != "" {
		// an exhausted listing is reported as an error with a 200
		if strings.Contains(parsed.Error, "hasn't returned any results") {
			return &Page{}, nil
		}
		return nil, fmt.Errorf("serpapi: %s", parsed.Error)
	}

	page := &Page{
		Reviews:   make([]model.Review, 0, len(parsed.Reviews)),
		NextToken: parsed.Pagination.NextPageToken,
	}
	for _, r := range parsed.Reviews {
		review, err := r.toReview()
		if err != nil {
			return nil, fmt.Errorf("review %s: %w", r.ID, err)
		}
		page.Reviews = append(page.Reviews, review)
	}
	return page, nil
}

func (s *SerpAPI) searchURL(pr PageRequest, withKey bool) string {
	q := url.Values{}
	q.Set("engine", serpEngine)
	q.Set("store", "apps")
	q.Set("product_id", pr.AppID)
	q.Set("all_reviews", "true")
	q.Set("sort_by", serpSortNewest)
	if pr.Count > 0 {
		count := pr.Count
		if count > serpMaxCount {
			count = serpMaxCount
		}
		q.Set("num", strconv.Itoa(count))
	}
	if pr.Country != "" {
		q.Set("gl", pr.Country)
	}
	if pr.Language != "" {
		q.Set("hl", pr.Language)
	}
	if pr.Token != "" {
		q.Set("next_page_token", pr.Token)
	}
	if withKey && s.apiKey != "" {
		q.Set("api_key", s.apiKey)
	}
	return s.baseURL + "/search.json?" + q.Encode()
}

func (r serpReview) toReview() (model.Review, error) {
	at, err := model.ParseTimestamp(r.ISODate)
	if err != nil {
		return model.Review{}, fmt.Errorf("parse iso_date %q: %w", r.ISODate, err)
	}
	return model.Review{
		Author: CleanText(r.Title),
		Rating: int(r.Rating),
		At:     at,
		Text:   CleanText(r.Snippet),
	}, nil
}
