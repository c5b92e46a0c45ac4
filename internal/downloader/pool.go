package downloader

import (
	"context"
	"errors"
	"sync"
	"time"

	"harvester/pkg/logger"
	"harvester/pkg/metadata"
	"harvester/pkg/models"
	"harvester/pkg/ratelimit"
	"harvester/pkg/storage"
)

// ErrPoolStopped is returned by Submit once the pool's context is done.
var ErrPoolStopped = errors.New("worker pool is shutting down")

// Job is one reserved download. Index is the item's position in the order the
// adapter yielded it, so results can be put back in that order.
type Job struct {
	Index       int
	Source      string
	Target      string
	Item        models.ContentItem
	Reservation storage.Reservation
	Sidecar     *metadata.Sidecar
}

// Result is the outcome of a Job
type Result struct {
	Job      Job
	Outcome  storage.Result
	Duration time.Duration
}

// Committer writes a reserved download; storage.Manager implements it.
type Committer interface {
	Commit(ctx context.Context, r storage.Reservation, url string, sidecar *metadata.Sidecar) storage.Result
}

// WorkerPool runs downloads on a fixed number of goroutines.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	committer   Committer
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a pool. Cancelling ctx makes Submit fail; jobs already
// queued still produce a Result, normally a cancelled one.
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	committer Committer,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		committer:   committer,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for queued jobs to finish and closes Results.
// Results must be drained concurrently or Stop blocks.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.logger.Debug("worker pool stopped")
}

// Submit queues a job, blocking while the queue is full.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case <-wp.ctx.Done():
		return ErrPoolStopped
	default:
	}

	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return ErrPoolStopped
	}
}

// Results returns the result channel for consuming download results
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		wp.resultQueue <- wp.processJob(job, id)
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()

	if !wp.rateLimiter.Allow() {
		wp.logger.DebugWithFields("worker waiting for rate limit", map[string]interface{}{
			"worker_id": workerID,
			"item":      job.Item.ID,
		})
		if err := wp.rateLimiter.Wait(wp.ctx); err != nil {
			// Commit sees the same cancelled context and reports it
			wp.logger.DebugWithFields("rate limit wait interrupted", map[string]interface{}{
				"worker_id": workerID,
			})
		}
	}

	outcome := wp.committer.Commit(wp.ctx, job.Reservation, job.Item.MediaURL, job.Sidecar)
	result := Result{Job: job, Outcome: outcome, Duration: time.Since(start)}

	wp.logger.DebugWithFields("worker finished job", map[string]interface{}{
		"worker_id": workerID,
		"item":      job.Item.ID,
		"file":      outcome.Filename,
		"bytes":     outcome.Bytes,
		"failed":    outcome.Err != nil,
		"duration":  result.Duration,
	})
	return result
}

// QueueSize returns the number of jobs waiting for a worker
func (wp *WorkerPool) QueueSize() int {
	return len(wp.jobQueue)
}

// Workers returns the number of workers
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

// Collect is the common way to drive the pool: it starts the workers, submits
// jobs in order, and returns the results indexed by Job.Index, which must be
// the job's position in jobs. onResult, if set, sees each result as it
// arrives on a single goroutine. Jobs that could not be submitted because ctx
// ended are returned second; their slots in the results stay zero.
func Collect(wp *WorkerPool, jobs []Job, onResult func(done int, r Result)) ([]Result, []Job) {
	results := make([]Result, len(jobs))
	done := make(chan struct{})

	wp.Start()
	go func() {
		defer close(done)
		n := 0
		for r := range wp.Results() {
			if r.Job.Index >= 0 && r.Job.Index < len(results) {
				results[r.Job.Index] = r
			}
			n++
			if onResult != nil {
				onResult(n, r)
			}
		}
	}()

	var unsent []Job
	for i, job := range jobs {
		if err := wp.Submit(job); err != nil {
			unsent = jobs[i:]
			break
		}
	}

	wp.Stop()
	<-done
	return results, unsent
}
