package logger

import (
	"time"

	"harvester/pkg/models"
)

// LogPageFetch records one adapter page request.
func LogPageFetch(l Logger, source, target, cursor string, items int, duration time.Duration) {
	l.DebugWithFields("page fetched", map[string]interface{}{
		"source":   source,
		"target":   target,
		"cursor":   cursor,
		"items":    items,
		"duration": duration,
	})
}

// LogDownload records the outcome of one item download.
func LogDownload(l Logger, source string, outcome models.DownloadOutcome) {
	fields := map[string]interface{}{
		"source": source,
		"target": outcome.Target,
		"item":   outcome.Item.ID,
		"url":    outcome.Item.MediaURL,
	}

	switch {
	case outcome.Err != nil:
		l.WithError(outcome.Err).WarnWithFields("download failed", fields)
	case outcome.SidecarErr != nil:
		fields["file"] = outcome.StoredFilename
		l.WithError(outcome.SidecarErr).WarnWithFields("sidecar write failed", fields)
	default:
		fields["file"] = outcome.StoredFilename
		fields["bytes"] = outcome.Bytes
		l.DebugWithFields("download completed", fields)
	}
}

// LogSourceSummary records the totals for one source once its downloads finish.
func LogSourceSummary(l Logger, result models.SourceResult, duration time.Duration) {
	if result.Skipped {
		l.DebugWithFields("source skipped", map[string]interface{}{
			"source": result.Name,
			"reason": "disabled",
		})
		return
	}

	l.InfoWithFields("source harvested", map[string]interface{}{
		"source":     result.Name,
		"targets":    len(result.Targets),
		"items":      len(result.Outcomes),
		"downloaded": result.Downloaded(),
		"failed":     result.Failed(),
		"duration":   duration,
	})
}

// LogRunSummary records the final totals of a run.
func LogRunSummary(l Logger, result *models.RunResult) {
	l.InfoWithFields("harvest finished", map[string]interface{}{
		"run_id":     result.RunID,
		"directory":  result.ExportDirectory,
		"downloaded": result.Downloaded(),
		"failed":     result.Failed(),
		"duration":   result.CompletedAt.Sub(result.StartedAt),
	})
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string)                                   {}
func (nopLogger) Info(string)                                    {}
func (nopLogger) Warn(string)                                    {}
func (nopLogger) Error(string)                                   {}
func (n nopLogger) WithField(string, interface{}) Logger         { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger     { return n }
func (n nopLogger) WithError(error) Logger                       { return n }
func (nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (nopLogger) ErrorWithFields(string, map[string]interface{}) {}
