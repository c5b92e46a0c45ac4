package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/config"
	"harvester/pkg/models"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && l == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.expected)
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel)

	l.WithField("source", "reddit").
		WithError(errors.New("boom")).
		InfoWithFields("target harvested", map[string]interface{}{
			"items":    3,
			"duration": 2 * time.Second,
		})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "info", e["level"])
	assert.Equal(t, "target harvested", e["message"])
	assert.Equal(t, "harvester", e["app"])
	assert.Equal(t, "reddit", e["source"])
	assert.Equal(t, "boom", e["error"])
	assert.EqualValues(t, 3, e["items"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.WarnLevel)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown")

	assert.Len(t, decodeLines(t, &buf), 2)
}

func TestDerivedLoggersDoNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, zerolog.InfoLevel)

	base.WithField("target", "pics").Info("child")
	base.Info("parent")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "pics", entries[0]["target"])
	_, leaked := entries[1]["target"]
	assert.False(t, leaked)
}

func TestGetLoggerDefaultsAndInitialize(t *testing.T) {
	require.NotNil(t, GetLogger())

	require.NoError(t, Initialize(&config.LoggingConfig{Level: "error"}))
	assert.NotNil(t, GetLogger())

	assert.Error(t, Initialize(&config.LoggingConfig{Level: "nope"}))
}

func TestTestLoggerCapturesDerivedMessages(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("source", "bluesky").WithError(errors.New("timeout"))

	child.Warn("page failed")
	tl.Info("run started")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "bluesky", msgs[0].Fields["source"])
	assert.EqualError(t, msgs[0].Error, "timeout")
	assert.Empty(t, msgs[1].Fields)
	assert.True(t, tl.HasMessage("run started"))
	assert.False(t, tl.HasError())

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestLogDownload(t *testing.T) {
	tl := NewTestLogger()
	item := models.ContentItem{ID: "abc", MediaURL: "https://example.com/a.jpg"}

	LogDownload(tl, "reddit", models.DownloadOutcome{Item: item, Target: "pics", StoredFilename: "a.jpg", Bytes: 10})
	LogDownload(tl, "reddit", models.DownloadOutcome{Item: item, Target: "pics", Err: errors.New("404")})
	LogDownload(tl, "reddit", models.DownloadOutcome{Item: item, Target: "pics", StoredFilename: "a.jpg", SidecarErr: errors.New("disk full")})

	assert.True(t, tl.HasMessage("download completed"))
	warns := tl.GetMessagesByLevel("WARN")
	require.Len(t, warns, 2)
	assert.Equal(t, "download failed", warns[0].Message)
	assert.Equal(t, "sidecar write failed", warns[1].Message)
	assert.Equal(t, "a.jpg", warns[1].Fields["file"])
}

func TestLogSourceSummarySkipped(t *testing.T) {
	tl := NewTestLogger()
	LogSourceSummary(tl, models.SourceResult{Name: "tumblr", Skipped: true}, 0)
	LogSourceSummary(tl, models.SourceResult{Name: "reddit"}, time.Second)

	assert.True(t, tl.HasMessage("source skipped"))
	infos := tl.GetMessagesByLevel("INFO")
	require.Len(t, infos, 1)
	assert.Equal(t, "reddit", infos[0].Fields["source"])
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithField("k", "v").WithError(errors.New("x")).ErrorWithFields("ignored", nil)
}
