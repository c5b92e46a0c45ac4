package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	herrors "harvester/pkg/errors"
	"harvester/pkg/models"
)

func TestWindowDays(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		explicit int
		last     time.Time
		want     int
	}{
		{"explicit window wins", 3, now.Add(-240 * time.Hour), 3},
		{"no history falls back to default", 0, time.Time{}, DefaultWindowDays},
		{"exact days since last run", 0, now.Add(-48 * time.Hour), 2},
		{"partial day rounds up", 0, now.Add(-49 * time.Hour), 3},
		{"last run moments ago", 0, now.Add(-time.Minute), 1},
		{"clock skew never yields zero", 0, now.Add(time.Hour), 1},
		{"other timezone", 0, time.Date(2024, 3, 9, 7, 0, 0, 0, time.FixedZone("EST", -5*3600)), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Harvest.WindowDays = tt.explicit
			cfg.Harvest.LastScrapeDate = tt.last
			assert.Equal(t, tt.want, cfg.WindowDays(now))
		})
	}
}

func TestHarvestRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Harvest.WindowDays = 7
	cfg.Reddit.Enabled = true
	cfg.Reddit.MinScore = 50
	cfg.Reddit.Targets = []TargetConfig{{Name: "pics"}, {Name: "earthporn", MinScore: 500}}
	cfg.Tumblr.Enabled = true
	cfg.Tumblr.Targets = []TargetConfig{{Name: "staff"}}

	requests := cfg.HarvestRequests(time.Now(), 0)

	require.Len(t, requests, len(SourceNames))
	for i, name := range SourceNames {
		assert.Equal(t, name, requests[i].SourceName, "requests follow run order")
		assert.Equal(t, 7, requests[i].WindowDays)
	}

	assert.True(t, requests[0].Enabled)
	assert.Equal(t, []models.Target{{Name: "pics", MinScore: 50}, {Name: "earthporn", MinScore: 500}}, requests[0].Targets)
	assert.False(t, requests[1].Enabled)
	assert.True(t, requests[2].Enabled)

	only := cfg.HarvestRequests(time.Now(), 2, "tumblr")
	assert.False(t, only[0].Enabled, "reddit filtered out")
	assert.True(t, only[2].Enabled)
	assert.Equal(t, 2, only[2].WindowDays)
}

func TestCoversConfiguredRun(t *testing.T) {
	day := 24 * time.Hour
	lastRun := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := lastRun.Add(10 * day)

	cfg := DefaultConfig()
	cfg.Harvest.LastScrapeDate = lastRun
	cfg.Reddit.Enabled = true
	cfg.Reddit.Targets = []TargetConfig{{Name: "pics"}}
	cfg.Tumblr.Enabled = true
	cfg.Tumblr.Targets = []TargetConfig{{Name: "staff"}}

	tests := []struct {
		name     string
		override int
		only     []string
		want     bool
	}{
		{"full run", 0, nil, true},
		{"all enabled sources named", 0, []string{"reddit", "tumblr"}, true},
		{"longer window still covers", 30, nil, true},
		{"one source left out", 0, []string{"reddit"}, false},
		{"shorter window", 1, nil, false},
		{"one source with shorter window", 1, []string{"reddit"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := cfg.HarvestRequests(now, tt.override, tt.only...)
			assert.Equal(t, tt.want, cfg.CoversConfiguredRun(now, requests))
		})
	}
}

func TestPartialRunKeepsNextWindow(t *testing.T) {
	day := 24 * time.Hour
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cfg := DefaultConfig()
	cfg.Harvest.LastScrapeDate = start
	cfg.Reddit.Enabled = true
	cfg.Reddit.Targets = []TargetConfig{{Name: "pics"}}
	cfg.Tumblr.Enabled = true
	cfg.Tumblr.Targets = []TargetConfig{{Name: "staff"}}

	// reddit alone with --days 1 on day 10 must not move the window
	day10 := start.Add(10 * day)
	if requests := cfg.HarvestRequests(day10, 1, "reddit"); cfg.CoversConfiguredRun(day10, requests) {
		cfg.RecordRun(day10)
	}

	day11 := start.Add(11 * day)
	requests := cfg.HarvestRequests(day11, 0)
	assert.Equal(t, 11, requests[2].WindowDays, "tumblr still reaches back to the last full run")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Harvest.ExportDirectory = "/tmp"
	require.NoError(t, cfg.Validate())

	cfg.Harvest.ExportDirectory = ""
	cfg.Harvest.DirectoryPrefix = "a/b"
	cfg.Reddit.Enabled = true
	cfg.Download.Concurrency = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, herrors.KindConfiguration, herrors.KindOf(err))
	assert.True(t, herrors.IsFatal(err))
	for _, fragment := range []string{
		"export directory is required",
		"path separators",
		"reddit: enabled but no targets",
		"concurrency must be positive",
		"invalid log level",
	} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestTargetYAMLRoundTrip(t *testing.T) {
	in := SourceConfig{
		Enabled: true,
		Targets: []TargetConfig{{Name: "pics"}, {Name: "aww", MinScore: 10}},
	}

	data, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- pics\n")
	assert.Contains(t, string(data), "min_score: 10")

	var out SourceConfig
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, in.Targets, out.Targets)
}

func TestSaveAndRecordRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Harvest.ExportDirectory = "/tmp/out"
	completed := time.Date(2024, 3, 10, 12, 30, 45, 999, time.FixedZone("CET", 3600))
	cfg.RecordRun(completed)
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.True(t, loaded.Harvest.LastScrapeDate.Equal(time.Date(2024, 3, 10, 11, 30, 45, 0, time.UTC)))
	assert.Equal(t, "/tmp/out", loaded.Harvest.ExportDirectory)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestLoadAppliesPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("all:\n  export_directory: /from/file\n  window_days: 4\n"), 0644))

	t.Setenv("HARVESTER_WINDOW_DAYS", "5")

	cfg, err := Load(path, map[string]interface{}{"export": "/from/flag"})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Harvest.ExportDirectory)
	assert.Equal(t, 5, cfg.Harvest.WindowDays)

	_, err = Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Equal(t, herrors.KindConfiguration, herrors.KindOf(err))
}
