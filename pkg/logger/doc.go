// Package logger provides the structured logging interface used across the harvester.
//
// It wraps zerolog behind a small Logger interface so packages can accept a
// logger without importing zerolog, and so tests can substitute TestLogger or
// the no-op logger.
//
// Basic Usage:
//
//	cfg := &config.LoggingConfig{
//	    Level: "info",
//	    File:  "/var/log/harvester.log",
//	}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//
//	log := logger.GetLogger().WithField("source", "reddit")
//	log.InfoWithFields("target harvested", map[string]interface{}{
//	    "target": "pics",
//	    "items":  12,
//	})
//
// The helpers LogPageFetch, LogDownload, LogSourceSummary and LogRunSummary
// keep the field names of recurring harvest events consistent.
//
// Console output is colorized; when File is set every event is also appended
// to that file as JSON.
package logger
