package model

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the process-wide configuration. It is built once at startup and
// never mutated afterwards.
type Config struct {
	App        AppConfig        `mapstructure:"app" yaml:"app"`
	Scrape     ScrapeConfig     `mapstructure:"scrape" yaml:"scrape"`
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	Sentiment  SentimentConfig  `mapstructure:"sentiment" yaml:"sentiment"`
	Topics     TopicsConfig     `mapstructure:"topics" yaml:"topics"`
	Enrich     EnrichConfig     `mapstructure:"enrich" yaml:"enrich"`
	Publish    PublishConfig    `mapstructure:"publish" yaml:"publish"`
	Paths      PathsConfig      `mapstructure:"paths" yaml:"paths"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Resilience ResilienceConfig `mapstructure:"resilience" yaml:"resilience"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" yaml:"schedule"`
}

// AppConfig identifies the app whose reviews are scraped
type AppConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	ID       string `mapstructure:"id" yaml:"id"`
	Country  string `mapstructure:"country" yaml:"country"`
	Language string `mapstructure:"language" yaml:"language"`
}

// ScrapeConfig controls the incremental fetch window and pagination
type ScrapeConfig struct {
	TimeToScrape int           `mapstructure:"time_to_scrape" yaml:"time_to_scrape"` // hours
	DateRange    []string      `mapstructure:"date_range" yaml:"date_range,omitempty"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	PageDelay    time.Duration `mapstructure:"page_delay" yaml:"page_delay"`
	MaxPages     int           `mapstructure:"max_pages" yaml:"max_pages"`
}

// SourceConfig points at the review API
type SourceConfig struct {
	BaseURL       string `mapstructure:"base_url" yaml:"base_url"`
	APIKey        string `mapstructure:"api_key" yaml:"api_key"`
	RespectRobots bool   `mapstructure:"respect_robots" yaml:"respect_robots"`
}

// SentimentConfig configures the sentiment inference API
type SentimentConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// TopicsConfig configures the language model used for topic classification
type TopicsConfig struct {
	Provider    string   `mapstructure:"provider" yaml:"provider"` // openai, anthropic, ollama
	Model       string   `mapstructure:"model" yaml:"model"`
	APIKey      string   `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string   `mapstructure:"base_url" yaml:"base_url"`
	Temperature float32  `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens" yaml:"max_tokens"`
	Categories  []string `mapstructure:"categories" yaml:"categories"`
}

// EnrichConfig controls how processed output is written.
// With Merge off, every raw file processed on a day overwrites that day's
// processed file.
type EnrichConfig struct {
	Merge       bool `mapstructure:"merge" yaml:"merge"`
	Concurrency int  `mapstructure:"concurrency" yaml:"concurrency"`
}

// PublishConfig selects the publish target
type PublishConfig struct {
	Target          string `mapstructure:"target" yaml:"target"` // sheets, xlsx
	SpreadsheetID   string `mapstructure:"spreadsheet_id" yaml:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name" yaml:"sheet_name"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	XLSXPath        string `mapstructure:"xlsx_path" yaml:"xlsx_path,omitempty"`
}

// PathsConfig roots the on-disk layout
type PathsConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// HTTPConfig is shared by every outbound HTTP client
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent  string        `mapstructure:"user_agent" yaml:"user_agent"`
	HTTPProxy  string        `mapstructure:"http_proxy" yaml:"http_proxy,omitempty"`
	HTTPSProxy string        `mapstructure:"https_proxy" yaml:"https_proxy,omitempty"`
}

// CacheConfig controls the classification cache
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ResilienceConfig is the retry and circuit breaker policy around external calls
type ResilienceConfig struct {
	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryInitialBackoff time.Duration `mapstructure:"retry_initial_backoff" yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `mapstructure:"retry_max_backoff" yaml:"retry_max_backoff"`
	BreakerEnabled      bool          `mapstructure:"breaker_enabled" yaml:"breaker_enabled"`
	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests" yaml:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio" yaml:"breaker_failure_ratio"`
	BreakerOpenTimeout  time.Duration `mapstructure:"breaker_open_timeout" yaml:"breaker_open_timeout"`
}

// MetricsConfig controls run metrics export
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// ScheduleConfig is used by the built-in scheduler
type ScheduleConfig struct {
	Cron string `mapstructure:"cron" yaml:"cron"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		App: AppConfig{
			Country: "ph",
		},
		Scrape: ScrapeConfig{
			TimeToScrape: 24,
			BatchSize:    400,
			PageDelay:    2 * time.Second,
		},
		Source: SourceConfig{
			BaseURL: "https://serpapi.com",
		},
		Sentiment: SentimentConfig{
			BaseURL: "https://api-inference.huggingface.co",
			Model:   "cardiffnlp/twitter-roberta-base-sentiment-latest",
		},
		Topics: TopicsConfig{
			Provider:    "openai",
			Model:       "gpt-4-turbo",
			Temperature: 0.2,
			MaxTokens:   100,
			Categories:  append([]string(nil), DefaultCategories...),
		},
		Enrich: EnrichConfig{
			Concurrency: 1,
		},
		Publish: PublishConfig{
			Target:          "sheets",
			CredentialsFile: "service_account.json",
		},
		Paths: PathsConfig{
			BaseDir: ".",
			DataDir: "data",
		},
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "SentiScan/0.1 (+https://github.com/LuisMada/SentiScan)",
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".sentiscan-cache",
			TTL:     7 * 24 * time.Hour,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:    3,
			RetryInitialBackoff: 500 * time.Millisecond,
			RetryMaxBackoff:     5 * time.Second,
			BreakerEnabled:      true,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.5,
			BreakerOpenTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Schedule: ScheduleConfig{
			Cron: "0 */6 * * *",
		},
	}
}

// SheetName returns the configured tab name, defaulting to "<app> Reviews"
func (c Config) SheetName() string {
	if c.Publish.SheetName != "" {
		return c.Publish.SheetName
	}
	return c.App.Name + " Reviews"
}

// Validate checks the fields every stage depends on
func (c Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("%w: app.name is required", ErrConfig)
	}
	if c.App.ID == "" {
		return fmt.Errorf("%w: app.id is required", ErrConfig)
	}
	if c.Scrape.BatchSize <= 0 {
		return fmt.Errorf("%w: scrape.batch_size must be positive", ErrConfig)
	}
	if c.Scrape.TimeToScrape <= 0 {
		return fmt.Errorf("%w: scrape.time_to_scrape must be positive", ErrConfig)
	}
	return nil
}

// DataPath is paths.data_dir resolved against paths.base_dir
func (c Config) DataPath() string {
	if filepath.IsAbs(c.Paths.DataDir) {
		return c.Paths.DataDir
	}
	return filepath.Join(c.Paths.BaseDir, c.Paths.DataDir)
}

// CredentialsPath locates publish.credentials_file. A bare file name lives
// in the data dir; other relative paths are taken from paths.base_dir.
func (c Config) CredentialsPath() string {
	f := c.Publish.CredentialsFile
	switch {
	case f == "" || filepath.IsAbs(f):
		return f
	case filepath.Base(f) == f:
		return filepath.Join(c.DataPath(), f)
	default:
		return filepath.Join(c.Paths.BaseDir, f)
	}
}

// Redacted returns a copy with secrets masked, for display
func (c Config) Redacted() Config {
	out := c
	out.Source.APIKey = redact(c.Source.APIKey)
	out.Sentiment.APIKey = redact(c.Sentiment.APIKey)
	out.Topics.APIKey = redact(c.Topics.APIKey)
	out.Topics.Categories = append([]string(nil), c.Topics.Categories...)
	out.Scrape.DateRange = append([]string(nil), c.Scrape.DateRange...)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
