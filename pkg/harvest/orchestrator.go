package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"harvester/internal/downloader"
	"harvester/pkg/cutoff"
	herrors "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/metadata"
	"harvester/pkg/models"
	"harvester/pkg/ratelimit"
	"harvester/pkg/sources"
	"harvester/pkg/storage"
)

// State is the lifecycle position of an Orchestrator's current run.
type State int32

const (
	StateConfigured State = iota
	StateDirectoryReady
	StateHarvestingSource
	StateFinalized
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "CONFIGURED"
	case StateDirectoryReady:
		return "DIRECTORY_READY"
	case StateHarvestingSource:
		return "HARVESTING_SOURCE"
	case StateFinalized:
		return "FINALIZED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Params are the inputs of one run.
type Params struct {
	ExportRoot string
	Prefix     string
	Requests   []models.HarvestRequest
}

// Orchestrator drives runs across sources. It holds no per-run state other
// than State, so one Orchestrator can serve consecutive runs.
type Orchestrator struct {
	adapters        map[string]sources.Adapter
	fetcher         storage.Fetcher
	reporter        ProgressReporter
	logger          logger.Logger
	concurrency     int
	maxFileSize     int64
	sidecars        bool
	downloadLimiter ratelimit.Limiter
	now             func() time.Time

	state atomic.Int32
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithReporter sets the progress reporter
func WithReporter(r ProgressReporter) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConcurrency sets the number of parallel downloads per source
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = n
	}
}

// WithMaxFileSize caps the size of one download; zero means unlimited
func WithMaxFileSize(n int64) Option {
	return func(o *Orchestrator) {
		o.maxFileSize = n
	}
}

// WithSidecars toggles metadata sidecars
func WithSidecars(enabled bool) Option {
	return func(o *Orchestrator) {
		o.sidecars = enabled
	}
}

// WithDownloadLimiter paces media downloads
func WithDownloadLimiter(l ratelimit.Limiter) Option {
	return func(o *Orchestrator) {
		o.downloadLimiter = l
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator over the given adapters, keyed by source name.
// fetcher retrieves media bodies.
func New(adapters map[string]sources.Adapter, fetcher storage.Fetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters:    adapters,
		fetcher:     fetcher,
		reporter:    NopReporter{},
		logger:      logger.NewNopLogger(),
		concurrency: 4,
		sidecars:    true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the state of the current or most recent run
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.logger.DebugWithFields("run state changed", map[string]interface{}{
		"state": s.String(),
	})
}

// Run executes one harvest. Fatal errors (configuration, directory conflict)
// and cancellation end the run ABORTED; the returned RunResult is never nil and
// holds whatever completed before that. Source, target and item failures are
// recorded in the result and reported, and never returned.
func (o *Orchestrator) Run(ctx context.Context, p Params) (*models.RunResult, error) {
	o.setState(StateConfigured)

	startedAt := o.now()
	result := &models.RunResult{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
	}
	log := o.logger.WithField("run_id", result.RunID)

	if err := o.validate(p); err != nil {
		return o.abort(result, "", err)
	}
	if err := ctx.Err(); err != nil {
		return o.abort(result, "", herrors.Cancelled(err))
	}

	dir, err := storage.CreateExportDirectory(p.ExportRoot, p.Prefix, startedAt)
	if err != nil {
		return o.abort(result, "", err)
	}
	result.ExportDirectory = dir
	o.setState(StateDirectoryReady)

	log.InfoWithFields("harvest started", map[string]interface{}{
		"directory": dir,
		"sources":   len(p.Requests),
	})

	manager := storage.NewManager(dir, o.fetcher, storage.WithMaxFileSize(o.maxFileSize))

	for _, req := range p.Requests {
		if ctx.Err() != nil {
			break
		}

		if !req.Enabled {
			log.WithError(herrors.SourceDisabled(req.SourceName)).Debug("skipping source")
			result.Sources = append(result.Sources, models.SourceResult{Name: req.SourceName, Skipped: true})
			continue
		}

		o.setState(StateHarvestingSource)
		start := time.Now()
		sr := o.harvestSource(ctx, manager, req, startedAt, log)
		result.Sources = append(result.Sources, sr)
		logger.LogSourceSummary(log, sr, time.Since(start))
	}

	if err := ctx.Err(); err != nil {
		return o.abort(result, dir, herrors.Cancelled(err))
	}

	result.CompletedAt = o.now()
	o.setState(StateFinalized)
	logger.LogRunSummary(log, result)
	return result, nil
}

func (o *Orchestrator) abort(result *models.RunResult, dir string, err error) (*models.RunResult, error) {
	result.CompletedAt = o.now()
	o.setState(StateAborted)
	o.reporter.OnError("", "", herrors.KindOf(err), err.Error())
	o.logger.WithError(err).ErrorWithFields("harvest aborted", map[string]interface{}{
		"run_id":    result.RunID,
		"directory": dir,
	})
	return result, err
}

func (o *Orchestrator) validate(p Params) error {
	var errs []error
	if p.ExportRoot == "" {
		errs = append(errs, errors.New("export directory is not set"))
	}
	for _, req := range p.Requests {
		if !req.Enabled {
			continue
		}
		if _, ok := o.adapters[req.SourceName]; !ok {
			errs = append(errs, fmt.Errorf("%s: no adapter available", req.SourceName))
		}
		if req.WindowDays < 0 {
			errs = append(errs, fmt.Errorf("%s: window_days must not be negative", req.SourceName))
		}
	}
	if len(errs) > 0 {
		return herrors.Configuration(errors.Join(errs...), "invalid harvest request")
	}
	return nil
}

type pending struct {
	target string
	item   models.ContentItem
}

// harvestSource paginates every target in order, then downloads what was
// collected. Nothing that goes wrong in here escapes as an error.
func (o *Orchestrator) harvestSource(ctx context.Context, manager *storage.Manager, req models.HarvestRequest, runStart time.Time, log logger.Logger) models.SourceResult {
	name := req.SourceName
	sr := models.SourceResult{Name: name}
	adapter := o.adapters[name]
	policy := cutoff.New(runStart, req.WindowDays)
	log = log.WithField("source", name)

	o.phase(name, PhaseScan)
	var items []pending
	for _, target := range req.Targets {
		if ctx.Err() != nil {
			break
		}

		tr := models.TargetResult{Target: target}
		for item, err := range adapter.Fetch(ctx, target, policy) {
			if err != nil {
				tr.Err = herrors.Scope(err, name, target.Name, "")
				break
			}
			items = append(items, pending{target: target.Name, item: item})
			tr.Collected++
			o.reporter.OnProgress(name, len(items), 0)

			if ctx.Err() != nil {
				break
			}
		}

		if tr.Err != nil && herrors.KindOf(tr.Err) != herrors.KindCancelled {
			log.WithError(tr.Err).WarnWithFields("target failed", map[string]interface{}{
				"target":    target.Name,
				"collected": tr.Collected,
			})
			o.reporter.OnError(name, target.Name, herrors.KindOf(tr.Err), tr.Err.Error())
		}
		sr.Targets = append(sr.Targets, tr)
	}

	sr.Outcomes = o.download(ctx, manager, name, items, log)
	o.phase(name, PhaseDone)
	return sr
}

// download reserves names in yield order, runs the downloads on the worker
// pool and returns the outcomes in that same order.
func (o *Orchestrator) download(ctx context.Context, manager *storage.Manager, source string, items []pending, log logger.Logger) []models.DownloadOutcome {
	outcomes := make([]models.DownloadOutcome, len(items))
	if len(items) == 0 {
		return outcomes
	}
	o.phase(source, PhaseDownload)

	var (
		jobs  []downloader.Job
		owner []int
	)
	for i, p := range items {
		outcomes[i] = models.DownloadOutcome{Item: p.item, Target: p.target}

		r, err := manager.Reserve(p.item.MediaURL, p.item.Filename, o.sidecars)
		if err != nil {
			outcomes[i].Err = err
			continue
		}

		job := downloader.Job{
			Index:       len(jobs),
			Source:      source,
			Target:      p.target,
			Item:        p.item,
			Reservation: r,
		}
		if o.sidecars {
			job.Sidecar = metadata.FromItem(p.item)
		}
		jobs = append(jobs, job)
		owner = append(owner, i)
	}

	total := len(items)
	pool := downloader.NewWorkerPool(ctx, o.concurrency, manager, o.downloadLimiter, log)
	results, unsent := downloader.Collect(pool, jobs, func(done int, _ downloader.Result) {
		o.reporter.OnProgress(source, done, total)
	})

	sent := len(jobs) - len(unsent)
	for j, r := range results[:sent] {
		out := &outcomes[owner[j]]
		out.StoredFilename = r.Outcome.Filename
		out.SidecarFilename = r.Outcome.SidecarFilename
		out.Bytes = r.Outcome.Bytes
		out.Err = r.Outcome.Err
		out.SidecarErr = r.Outcome.SidecarErr
	}
	for _, job := range unsent {
		outcomes[owner[job.Index]].Err = herrors.Cancelled(ctx.Err())
	}

	for i := range outcomes {
		out := &outcomes[i]
		out.Err = herrors.Scope(out.Err, source, out.Target, out.Item.ID)
		out.SidecarErr = herrors.Scope(out.SidecarErr, source, out.Target, out.Item.ID)

		logger.LogDownload(log, source, *out)
		for _, err := range []error{out.Err, out.SidecarErr} {
			if err != nil && herrors.KindOf(err) != herrors.KindCancelled {
				o.reporter.OnError(source, out.Target, herrors.KindOf(err), err.Error())
			}
		}
	}
	return outcomes
}

func (o *Orchestrator) phase(source string, p Phase) {
	if pr, ok := o.reporter.(PhaseReporter); ok {
		pr.OnPhase(source, p)
	}
}
