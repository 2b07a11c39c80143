// Package config builds the process configuration from defaults, a config
// file, SENTISCAN_* environment variables and flags, in increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SENTISCAN_APP_NAME
const EnvPrefix = "SENTISCAN"

// legacyKeys maps the flat keys of the original config.json to their
// nested equivalents. A nested key always wins over its legacy form.
var legacyKeys = map[string]string{
	"app_name":       "app.name",
	"app_id":         "app.id",
	"time_to_scrape": "scrape.time_to_scrape",
	"date_range":     "scrape.date_range",
	"openai_api_key": "topics.api_key",
	"hf_api_key":     "sentiment.api_key",
	"hf_model":       "sentiment.model",
}

// keys omitted from the marshalled defaults that still need to be known to
// viper so environment overrides reach them
var optionalKeys = []string{
	"scrape.date_range",
	"publish.xlsx_path",
	"http.http_proxy",
	"http.https_proxy",
	"metrics.textfile",
}

// SearchPaths lists the config files tried when none is given, in order
func SearchPaths() []string {
	paths := []string{"config.yaml", "config.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".sentiscan", "config.yaml"))
	}
	return paths
}

// Setup registers defaults and environment bindings on v and reads the
// config file. An explicit file must exist; otherwise the first existing
// search path is used, and having none is fine. It returns the file used.
func Setup(v *viper.Viper, configFile string) (string, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v); err != nil {
		return "", err
	}

	path := configFile
	if path == "" {
		path = findFile(SearchPaths())
	}
	if path == "" {
		return "", nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return path, fmt.Errorf("%w: read %s: %w", model.ErrConfig, path, err)
	}
	return path, nil
}

// Load resolves the effective configuration from a viper instance prepared
// by Setup. It does not validate; stage commands call Config.Validate.
func Load(v *viper.Viper) (model.Config, error) {
	applyLegacy(v)

	cfg := model.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("%w: %w", model.ErrConfig, err)
	}
	applyEnvFallbacks(&cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	flatten("", tree, v.SetDefault)
	for _, key := range optionalKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func flatten(prefix string, tree map[string]any, set func(string, any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

func applyLegacy(v *viper.Viper) {
	for legacy, key := range legacyKeys {
		if !v.InConfig(legacy) || v.InConfig(key) || envSet(key) {
			continue
		}
		if val := v.Get(legacy); val != nil {
			v.Set(key, val)
		}
	}
}

func envSet(key string) bool {
	name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	_, ok := os.LookupEnv(name)
	return ok
}

// applyEnvFallbacks fills secrets from the conventional provider variables
// when nothing more specific was configured
func applyEnvFallbacks(cfg *model.Config) {
	if cfg.Topics.APIKey == "" {
		switch strings.ToLower(cfg.Topics.Provider) {
		case "anthropic", "claude":
			cfg.Topics.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "ollama":
		default:
			cfg.Topics.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Topics.BaseURL == "" && strings.EqualFold(cfg.Topics.Provider, "ollama") {
		cfg.Topics.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if cfg.Sentiment.APIKey == "" {
		cfg.Sentiment.APIKey = os.Getenv("HF_API_KEY")
	}
	if cfg.Source.APIKey == "" {
		cfg.Source.APIKey = os.Getenv("SERPAPI_API_KEY")
	}
}

func findFile(candidates []string) string {
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
