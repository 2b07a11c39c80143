package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/LuisMada/SentiScan/internal/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage SentiScan configuration",
	Long: `Inspect or create SentiScan configuration.

Flags win over SENTISCAN_* environment variables, which win over the config
file (./config.yaml, ./config.json or ~/.sentiscan/config.yaml), which wins
over defaults. OPENAI_API_KEY, HF_API_KEY and SERPAPI_API_KEY fill keys left
empty everywhere else.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Display the configuration after merging defaults, config file, environment and flags. Secrets are masked.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, used, err := loadConfig()
		if err != nil {
			return err
		}

		if used != "" {
			stderr("Configuration file: %s\n\n", used)
		} else {
			stderr("No configuration file found (using defaults and environment)\n\n")
		}
		if err := cfg.Validate(); err != nil {
			stderr("Warning: %v\n\n", err)
		}

		yamlData, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(yamlData)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a documented default config.yaml",
	Long:  `Create a default configuration file (./config.yaml unless --path is given) with all available options.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := createConfigFile(initPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Set app.name and app.id, then run:\n  sentiscan config show --config %s\n", initPath, initPath)
		return nil
	},
}

// createConfigFile refuses to overwrite an existing file
func createConfigFile(path string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s already exists; remove it first or pick another --path", path)
	}
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return writeDefaultConfig(f)
}

func init() {
	configInitCmd.Flags().StringVar(&initPath, "path", "config.yaml", "where to write the file")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

const configHeader = `# SentiScan configuration
#
# Precedence: flags, then SENTISCAN_<SECTION>_<KEY> environment variables
# (e.g. SENTISCAN_APP_ID), then this file, then built-in defaults.
#
# scrape.time_to_scrape is the first-run lookback in hours.
# scrape.date_range takes [start] or [start, end]; an end given as a
# date covers that whole day. It never moves the watermark back.

`

const configFooter = `
# Keys are best kept in the environment:
#   SERPAPI_API_KEY    review source
#   HF_API_KEY         sentiment model
#   OPENAI_API_KEY     topics.provider: openai
#   ANTHROPIC_API_KEY  topics.provider: anthropic
#   OLLAMA_BASE_URL    topics.provider: ollama
`

// writeDefaultConfig writes the defaults as YAML between explanatory comments
func writeDefaultConfig(w io.Writer) error {
	cfg := model.DefaultConfig()
	cfg.App.Name = "MyApp"
	cfg.App.ID = "com.example.myapp"

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	for _, part := range [][]byte{[]byte(configHeader), body, []byte(configFooter)} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}
	return nil
}
