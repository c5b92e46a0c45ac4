package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	herrors "harvester/pkg/errors"
	"harvester/pkg/models"
)

// Source names, in the order a run visits them.
const (
	SourceReddit    = "reddit"
	SourceForum     = "tigsource"
	SourceTumblr    = "tumblr"
	SourceBluesky   = "bluesky"
	SourceInstagram = "instagram"
)

// SourceNames lists every configurable source in run order.
var SourceNames = []string{SourceReddit, SourceForum, SourceTumblr, SourceBluesky, SourceInstagram}

// DefaultWindowDays applies when neither window_days nor last_scrape_date is set.
const DefaultWindowDays = 7

const envPrefix = "HARVESTER_"

// Config holds all configuration options for the harvester
type Config struct {
	// Run-wide settings shared by every source
	Harvest HarvestConfig `yaml:"all" json:"all"`

	Reddit    SourceConfig `yaml:"reddit" json:"reddit"`
	Forum     SourceConfig `yaml:"tigsource" json:"tigsource"`
	Tumblr    SourceConfig `yaml:"tumblr" json:"tumblr"`
	Bluesky   SourceConfig `yaml:"bluesky" json:"bluesky"`
	Instagram SourceConfig `yaml:"instagram" json:"instagram"`

	Download      DownloadConfig     `yaml:"download" json:"download"`
	Retry         RetryConfig        `yaml:"retry" json:"retry"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
}

// HarvestConfig holds the export location and the look-back window
type HarvestConfig struct {
	ExportDirectory string    `yaml:"export_directory" json:"export_directory"`
	DirectoryPrefix string    `yaml:"directory_prefix" json:"directory_prefix"`
	WindowDays      int       `yaml:"window_days" json:"window_days"`
	LastScrapeDate  time.Time `yaml:"last_scrape_date,omitempty" json:"last_scrape_date,omitempty"`
}

// SourceConfig is the per-source section. MinScore is the default threshold for
// targets that don't set their own; only score-gated sources read it.
type SourceConfig struct {
	Enabled           bool           `yaml:"enabled" json:"enabled"`
	Targets           []TargetConfig `yaml:"targets" json:"targets"`
	MinScore          int            `yaml:"min_score,omitempty" json:"min_score,omitempty"`
	BaseURL           string         `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	UserAgent         string         `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	RequestsPerMinute int            `yaml:"requests_per_minute" json:"requests_per_minute"`
	Account           string         `yaml:"account,omitempty" json:"account,omitempty"`
	IncludePins       bool           `yaml:"include_pins,omitempty" json:"include_pins,omitempty"`
}

// TargetConfig is one configured target. In YAML it is either a bare name or a
// mapping with name and min_score.
type TargetConfig struct {
	Name     string `yaml:"name" json:"name"`
	MinScore int    `yaml:"min_score,omitempty" json:"min_score,omitempty"`
}

// UnmarshalYAML accepts both `- pics` and `- {name: pics, min_score: 100}`.
func (t *TargetConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Name = strings.TrimSpace(node.Value)
		t.MinScore = 0
		return nil
	}

	type plain TargetConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = TargetConfig(p)
	t.Name = strings.TrimSpace(t.Name)
	return nil
}

// MarshalYAML writes targets without a threshold back as bare names.
func (t TargetConfig) MarshalYAML() (interface{}, error) {
	if t.MinScore == 0 {
		return t.Name, nil
	}
	type plain TargetConfig
	return plain(t), nil
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Concurrency       int           `yaml:"concurrency" json:"concurrency"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxFileSize       int64         `yaml:"max_file_size" json:"max_file_size"`
	Sidecars          bool          `yaml:"sidecars" json:"sidecars"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// RetryConfig controls retries of page requests
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	OnComplete       bool   `yaml:"on_complete" json:"on_complete"`
	OnError          bool   `yaml:"on_error" json:"on_error"`
	NotificationType string `yaml:"notification_type" json:"notification_type"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Harvest: HarvestConfig{
			ExportDirectory: defaultExportDirectory(),
			DirectoryPrefix: "harvest",
		},
		Reddit: SourceConfig{
			UserAgent:         "harvester/1.0",
			RequestsPerMinute: 30,
		},
		Forum: SourceConfig{
			BaseURL:           "https://forums.tigsource.com",
			RequestsPerMinute: 30,
		},
		Tumblr: SourceConfig{
			RequestsPerMinute: 30,
		},
		Bluesky: SourceConfig{
			BaseURL:           "https://public.api.bsky.app",
			RequestsPerMinute: 60,
			IncludePins:       true,
		},
		Instagram: SourceConfig{
			BaseURL:           "https://www.instagram.com",
			RequestsPerMinute: 20,
		},
		Download: DownloadConfig{
			Concurrency:    4,
			RequestTimeout: 30 * time.Second,
			MaxFileSize:    0, // 0 means no limit
			Sidecars:       true,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Notifications: NotificationConfig{
			Enabled:          false,
			OnComplete:       true,
			OnError:          true,
			NotificationType: "terminal",
		},
	}
}

func defaultExportDirectory() string {
	home, err := os.UserHomeDir()
	if err == nil {
		desktop := filepath.Join(home, "Desktop")
		if info, err := os.Stat(desktop); err == nil && info.IsDir() {
			return desktop
		}
	}
	return "./harvests"
}

// Source returns the section for a source name.
func (c *Config) Source(name string) (*SourceConfig, bool) {
	switch name {
	case SourceReddit:
		return &c.Reddit, true
	case SourceForum:
		return &c.Forum, true
	case SourceTumblr:
		return &c.Tumblr, true
	case SourceBluesky:
		return &c.Bluesky, true
	case SourceInstagram:
		return &c.Instagram, true
	default:
		return nil, false
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv(envPrefix + "EXPORT_DIR"); v != "" {
		c.Harvest.ExportDirectory = v
	}
	if v := os.Getenv(envPrefix + "DIRECTORY_PREFIX"); v != "" {
		c.Harvest.DirectoryPrefix = v
	}
	if err := envInt(envPrefix+"WINDOW_DAYS", &c.Harvest.WindowDays); err != nil {
		errs = append(errs, err)
	}
	if err := envInt(envPrefix+"CONCURRENCY", &c.Download.Concurrency); err != nil {
		errs = append(errs, err)
	}
	if v := os.Getenv(envPrefix + "REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUEST_TIMEOUT: %w", envPrefix, err))
		} else {
			c.Download.RequestTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv(envPrefix + "NOTIFICATIONS_ENABLED"); v != "" {
		c.Notifications.Enabled = strings.EqualFold(v, "true")
	}

	// Per-source switches: HARVESTER_REDDIT_ENABLED, HARVESTER_REDDIT_TARGETS=pics,aww
	for _, name := range SourceNames {
		sc, _ := c.Source(name)
		key := envPrefix + strings.ToUpper(name)
		if v := os.Getenv(key + "_ENABLED"); v != "" {
			sc.Enabled = strings.EqualFold(v, "true")
		}
		if v := os.Getenv(key + "_TARGETS"); v != "" {
			sc.Targets = parseTargetList(v)
		}
		if v := os.Getenv(key + "_ACCOUNT"); v != "" {
			sc.Account = v
		}
	}

	return errors.Join(errs...)
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// parseTargetList parses "pics:100,aww" into targets.
func parseTargetList(v string) []TargetConfig {
	var targets []TargetConfig
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, score, found := strings.Cut(part, ":")
		t := TargetConfig{Name: strings.TrimSpace(name)}
		if found {
			if n, err := strconv.Atoi(strings.TrimSpace(score)); err == nil {
				t.MinScore = n
			}
		}
		targets = append(targets, t)
	}
	return targets
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// FindConfigFile searches the standard locations and returns the first that exists.
func FindConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".harvester.yaml",
		".harvester.yml",
		filepath.Join(home, ".config", "harvester", "config.yaml"),
		filepath.Join(home, ".config", "harvester", "config.yml"),
		filepath.Join(home, ".harvester.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// DefaultConfigPath is where `config init` writes when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "harvester", "config.yaml")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Harvest.ExportDirectory) == "" {
		errs = append(errs, errors.New("export directory is required"))
	}
	if strings.ContainsAny(c.Harvest.DirectoryPrefix, `/\`) {
		errs = append(errs, errors.New("directory prefix must not contain path separators"))
	}
	if c.Harvest.WindowDays < 0 {
		errs = append(errs, errors.New("window days cannot be negative"))
	}

	for _, name := range SourceNames {
		sc, _ := c.Source(name)
		if sc.RequestsPerMinute < 0 {
			errs = append(errs, fmt.Errorf("%s: requests per minute cannot be negative", name))
		}
		if !sc.Enabled {
			continue
		}
		if len(sc.Targets) == 0 {
			errs = append(errs, fmt.Errorf("%s: enabled but no targets configured", name))
		}
		for i, t := range sc.Targets {
			if t.Name == "" {
				errs = append(errs, fmt.Errorf("%s: target %d has no name", name, i))
			}
		}
	}

	if c.Download.Concurrency <= 0 {
		errs = append(errs, errors.New("download concurrency must be positive"))
	}
	if c.Download.Concurrency > 16 {
		errs = append(errs, errors.New("download concurrency should not exceed 16"))
	}
	if c.Download.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Download.MaxFileSize < 0 {
		errs = append(errs, errors.New("max file size cannot be negative"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, fmt.Errorf("invalid notification type %q", c.Notifications.NotificationType))
	}

	if len(errs) > 0 {
		return herrors.Configuration(errors.Join(errs...), "invalid configuration")
	}
	return nil
}

// Save writes the configuration as YAML, replacing path atomically.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temporary config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["export"].(string); ok && v != "" {
		c.Harvest.ExportDirectory = v
	}
	if v, ok := flags["prefix"].(string); ok && v != "" {
		c.Harvest.DirectoryPrefix = v
	}
	if v, ok := flags["days"].(int); ok && v > 0 {
		c.Harvest.WindowDays = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Download.Concurrency = v
	}
	if v, ok := flags["timeout"].(time.Duration); ok && v > 0 {
		c.Download.RequestTimeout = v
	}
	if v, ok := flags["no-sidecars"].(bool); ok && v {
		c.Download.Sidecars = false
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = v
	}
}

// ExpandedExportDirectory resolves a leading ~ in the export directory.
func (c *Config) ExpandedExportDirectory() string {
	dir := c.Harvest.ExportDirectory
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}

// WindowDays resolves the look-back window for a run starting at now: the explicit
// window_days if set, else whole days since last_scrape_date rounded up, else the default.
func (c *Config) WindowDays(now time.Time) int {
	if c.Harvest.WindowDays > 0 {
		return c.Harvest.WindowDays
	}
	if c.Harvest.LastScrapeDate.IsZero() {
		return DefaultWindowDays
	}

	elapsed := now.UTC().Sub(c.Harvest.LastScrapeDate.UTC())
	days := int(math.Ceil(elapsed.Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}

// HarvestRequests builds one request per source in run order. A non-empty only list
// restricts which sources are enabled for this run; windowOverride > 0 replaces the
// configured window.
func (c *Config) HarvestRequests(now time.Time, windowOverride int, only ...string) []models.HarvestRequest {
	window := windowOverride
	if window <= 0 {
		window = c.WindowDays(now)
	}

	selected := make(map[string]bool, len(only))
	for _, name := range only {
		selected[strings.ToLower(name)] = true
	}

	requests := make([]models.HarvestRequest, 0, len(SourceNames))
	for _, name := range SourceNames {
		sc, _ := c.Source(name)

		enabled := sc.Enabled
		if len(selected) > 0 && !selected[name] {
			enabled = false
		}

		targets := make([]models.Target, 0, len(sc.Targets))
		for _, t := range sc.Targets {
			minScore := t.MinScore
			if minScore == 0 {
				minScore = sc.MinScore
			}
			targets = append(targets, models.Target{Name: t.Name, MinScore: minScore})
		}

		requests = append(requests, models.HarvestRequest{
			SourceName: name,
			Enabled:    enabled,
			Targets:    targets,
			WindowDays: window,
		})
	}
	return requests
}

// CoversConfiguredRun reports whether requests, built for a run starting at
// now, harvest every enabled source at least as far back as the configured
// window. Only such a run may move last_scrape_date: a run narrowed to some
// sources or to a shorter --days window would otherwise hide the gap from
// the next run.
func (c *Config) CoversConfiguredRun(now time.Time, requests []models.HarvestRequest) bool {
	window := c.WindowDays(now)

	ran := make(map[string]bool, len(requests))
	for _, r := range requests {
		if !r.Enabled {
			continue
		}
		if r.WindowDays < window {
			return false
		}
		ran[r.SourceName] = true
	}

	for _, name := range SourceNames {
		if sc, _ := c.Source(name); sc.Enabled && !ran[name] {
			return false
		}
	}
	return true
}

// RecordRun stores the completion time of a successful run for the next window.
func (c *Config) RecordRun(completedAt time.Time) {
	c.Harvest.LastScrapeDate = completedAt.UTC().Truncate(time.Second)
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".harvester.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, herrors.Configuration(err, "failed to load config file")
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, herrors.Configuration(err, "failed to load environment variables")
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
