package harvest

import (
	"context"
	"errors"
	"sync/atomic"

	herrors "harvester/pkg/errors"
	"harvester/pkg/models"
)

// ErrBusy is returned by Submit when a request is already waiting.
var ErrBusy = errors.New("a harvest request is already queued")

// Runner executes one run; *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, p Params) (*models.RunResult, error)
}

// Response is what a submitted request eventually produces.
type Response struct {
	Result *models.RunResult
	Err    error
}

type command struct {
	params Params
	reply  chan Response
}

// Worker executes harvest requests one at a time. Requests arrive through a
// single-slot channel: one request may wait while another runs, and further
// submissions are rejected with ErrBusy until the slot frees up.
type Worker struct {
	runner   Runner
	commands chan command
	running  atomic.Bool
}

// NewWorker creates a worker around runner
func NewWorker(runner Runner) *Worker {
	return &Worker{
		runner:   runner,
		commands: make(chan command, 1),
	}
}

// Submit queues a run. The returned channel receives exactly one Response.
func (w *Worker) Submit(p Params) (<-chan Response, error) {
	cmd := command{params: p, reply: make(chan Response, 1)}
	select {
	case w.commands <- cmd:
		return cmd.reply, nil
	default:
		return nil, ErrBusy
	}
}

// Busy reports whether a run is in progress
func (w *Worker) Busy() bool {
	return w.running.Load()
}

// Run serves requests until ctx is done. A request still waiting at that
// point is answered with a cancelled error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			select {
			case cmd := <-w.commands:
				cmd.reply <- Response{Err: herrors.Cancelled(ctx.Err())}
			default:
			}
			return ctx.Err()
		case cmd := <-w.commands:
			w.running.Store(true)
			result, err := w.runner.Run(ctx, cmd.params)
			w.running.Store(false)
			cmd.reply <- Response{Result: result, Err: err}
		}
	}
}
