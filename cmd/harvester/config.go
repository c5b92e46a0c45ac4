package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"harvester/pkg/auth"
	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage harvester configuration files.

Configuration is layered, later layers winning:
  - Default values
  - Configuration file
  - .env files
  - Environment variables (HARVESTER_*)
  - Command line flags`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is written to --config, or to ~/.config/harvester/config.yaml.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the effective configuration and report problems that would stop a
run: missing targets on enabled sources, unusable export directory, missing
credentials and out-of-range values.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# Harvester configuration
#
# Any value can be overridden with HARVESTER_* environment variables, for
# example HARVESTER_EXPORT_DIR or HARVESTER_REDDIT_TARGETS=pics:100,aww

all:
  # Each run creates <export_directory>/<directory_prefix><YYYYMMDDHHMMSS>
  export_directory: "~/Desktop"
  directory_prefix: "harvest"
  # Look-back window. 0 means "days since last_scrape_date", or 7 on the first run
  window_days: 0

reddit:
  enabled: false
  # Bare names, or {name, min_score} for a per-subreddit score threshold
  targets:
    - pics
    - {name: earthporn, min_score: 500}
  requests_per_minute: 30
  # Stored account to use (harvester auth login reddit <name>); empty uses the newest
  account: ""

tigsource:
  enabled: false
  # Topic ids from index.php?topic=<id>
  targets:
    - "50"
  base_url: "https://forums.tigsource.com"

tumblr:
  enabled: false
  targets:
    - staff

bluesky:
  enabled: false
  targets:
    - bsky.app
  include_pins: true

instagram:
  enabled: false
  targets:
    - nasa
  # Needs session cookies: harvester auth login instagram <name>
  requests_per_minute: 20

download:
  concurrency: 4
  request_timeout: 30s
  # Bytes; 0 means no limit
  max_file_size: 0
  sidecars: true
  # Pace media downloads; 0 means unpaced
  requests_per_minute: 0

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s

logging:
  level: info
  file: ""

notifications:
  enabled: false
  on_complete: true
  on_error: true
  # terminal, desktop or none
  notification_type: terminal
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Enable sources and list their targets")
	fmt.Fprintln(out, "2. Store credentials with 'harvester auth login reddit|instagram <name>'")
	fmt.Fprintln(out, "3. Check the result with 'harvester config validate'")
	fmt.Fprintln(out, "4. Start harvesting with 'harvester run'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))

	fmt.Fprintln(out, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(out, "1. Command line flags")
	fmt.Fprintln(out, "2. Environment variables (HARVESTER_*) and .env files")
	if path := config.FindConfigFile(); configFile != "" || path != "" {
		if configFile != "" {
			path = configFile
		}
		fmt.Fprintf(out, "3. Configuration file: %s\n", path)
	} else {
		fmt.Fprintln(out, "3. Configuration file: (none found)")
	}
	fmt.Fprintln(out, "4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	var problems, warnings []string

	if dir := cfg.ExpandedExportDirectory(); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create export directory: %v", err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	creds := credentialStore(logger.GetLogger())
	var enabled []string
	for _, name := range config.SourceNames {
		sc, _ := cfg.Source(name)
		if !sc.Enabled {
			continue
		}
		enabled = append(enabled, name)

		if _, ok := auth.Fields(name); !ok {
			continue
		}
		if creds == nil {
			warnings = append(warnings, fmt.Sprintf("%s: credential store unavailable", name))
			continue
		}
		_, err := creds.Secrets(name, sc.Account)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrCredentialsNotFound) && sc.Account == "":
			warnings = append(warnings, fmt.Sprintf("%s: no stored credentials, requests will be anonymous", name))
		default:
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(enabled) == 0 {
		warnings = append(warnings, "no source is enabled")
	}

	out := cmd.OutOrStdout()
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}
	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("%d configuration problems", len(problems))
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  Export directory: %s\n", cfg.ExpandedExportDirectory())
	fmt.Fprintf(out, "  Enabled sources: %s\n", strings.Join(enabled, ", "))
	fmt.Fprintf(out, "  Concurrent downloads: %d\n", cfg.Download.Concurrency)
	fmt.Fprintf(out, "  Max retries: %d\n", cfg.Retry.MaxAttempts)
	fmt.Fprintf(out, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}
