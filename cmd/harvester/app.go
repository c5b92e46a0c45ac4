package main

import (
	"errors"
	"fmt"
	"io"

	"harvester/pkg/auth"
	"harvester/pkg/config"
	herrors "harvester/pkg/errors"
	"harvester/pkg/harvest"
	"harvester/pkg/httpclient"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/ratelimit"
	"harvester/pkg/retry"
	"harvester/pkg/sources"
	"harvester/pkg/sources/bluesky"
	"harvester/pkg/sources/forum"
	"harvester/pkg/sources/instagram"
	"harvester/pkg/sources/reddit"
	"harvester/pkg/sources/tumblr"
	"harvester/pkg/ui"
)

func newRegistry() *sources.Registry {
	r := sources.NewRegistry()
	r.Register(reddit.Name, reddit.New)
	r.Register(forum.Name, forum.New)
	r.Register(tumblr.Name, tumblr.New)
	r.Register(bluesky.Name, bluesky.New)
	r.Register(instagram.Name, instagram.New)
	return r
}

// secretStore is the part of auth.Manager adapters need
type secretStore interface {
	Secrets(source, name string) (map[string]string, error)
}

// buildAdapters creates an adapter for every enabled request. Sources that
// take credentials get the configured account, or the newest stored one.
func buildAdapters(cfg *config.Config, registry *sources.Registry, creds secretStore, requests []models.HarvestRequest, log logger.Logger) (map[string]sources.Adapter, error) {
	adapters := make(map[string]sources.Adapter)
	retryCfg := retry.FromConfig(cfg.Retry, log)

	for _, req := range requests {
		if !req.Enabled {
			continue
		}
		sc, ok := cfg.Source(req.SourceName)
		if !ok {
			return nil, herrors.Configuration(nil, "unknown source %q", req.SourceName)
		}

		secrets, err := sourceSecrets(creds, req.SourceName, sc.Account)
		if err != nil {
			return nil, err
		}

		adapter, err := registry.New(req.SourceName, sources.Deps{
			Config:  *sc,
			Timeout: cfg.Download.RequestTimeout,
			Retry:   retryCfg,
			Logger:  log.WithField("source", req.SourceName),
			Secrets: secrets,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.SourceName, err)
		}
		adapters[req.SourceName] = adapter
	}
	return adapters, nil
}

func sourceSecrets(creds secretStore, source, account string) (map[string]string, error) {
	if _, ok := auth.Fields(source); !ok || creds == nil {
		return nil, nil
	}

	secrets, err := creds.Secrets(source, account)
	switch {
	case err == nil:
		return secrets, nil
	case errors.Is(err, auth.ErrCredentialsNotFound) && account == "":
		return nil, nil
	default:
		return nil, herrors.Configuration(err, "%s: credentials for account %q unavailable", source, account)
	}
}

// newOrchestrator wires the download side: the shared media client, the
// download limiter and the console reporter.
func newOrchestrator(cfg *config.Config, adapters map[string]sources.Adapter, reporter harvest.ProgressReporter, log logger.Logger) *harvest.Orchestrator {
	fetcher := httpclient.New(cfg.Download.RequestTimeout, httpclient.WithLogger(log))

	return harvest.New(adapters, fetcher,
		harvest.WithReporter(reporter),
		harvest.WithLogger(log),
		harvest.WithConcurrency(cfg.Download.Concurrency),
		harvest.WithMaxFileSize(cfg.Download.MaxFileSize),
		harvest.WithSidecars(cfg.Download.Sidecars),
		harvest.WithDownloadLimiter(ratelimit.PerMinute(cfg.Download.RequestsPerMinute)),
	)
}

func newReporter(out io.Writer) *ui.ConsoleReporter {
	return ui.NewConsoleReporter(out, quiet)
}

func params(cfg *config.Config, requests []models.HarvestRequest) harvest.Params {
	return harvest.Params{
		ExportRoot: cfg.ExpandedExportDirectory(),
		Prefix:     cfg.Harvest.DirectoryPrefix,
		Requests:   requests,
	}
}
