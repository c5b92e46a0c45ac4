package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"harvester/pkg/config"
	"harvester/pkg/harvest"
	"harvester/pkg/logger"
	"harvester/pkg/ui"
)

var daemonEvery time.Duration

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon [source...]",
	Short: "Harvest on a fixed schedule",
	Long: `Run a harvest immediately and then once per --every interval until
interrupted. Runs never overlap: a tick that arrives while a run is active
queues at most one follow-up run, further ticks are skipped.

SIGINT or SIGTERM cancels the active run cooperatively; its partial result is
reported and the daemon exits.`,
	Example: `  # Harvest every six hours
  harvester daemon --every 6h`,
	ValidArgs: config.SourceNames,
	Args:      cobra.OnlyValidArgs,
	RunE:      runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	addRunFlags(daemonCmd)
	daemonCmd.Flags().DurationVar(&daemonEvery, "every", 6*time.Hour, "interval between runs")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if daemonEvery < time.Minute {
		return errors.New("--every must be at least 1m")
	}

	cfg, err := loadConfig(runFlags())
	if err != nil {
		return err
	}
	log := logger.GetLogger().WithField("mode", "daemon")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	reporter := newReporter(out)
	notifier := ui.NewNotifier(cfg.Notifications, out)

	// Adapters are built for the configured sources once; every run shares them.
	requests := cfg.HarvestRequests(time.Now(), windowDays, args...)
	adapters, err := buildAdapters(cfg, newRegistry(), credentialStore(log), requests, log)
	if err != nil {
		return err
	}
	worker := harvest.NewWorker(newOrchestrator(cfg, adapters, reporter, log))

	var cfgMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	workerDone := make(chan struct{})
	g.Go(func() error {
		defer close(workerDone)
		if err := worker.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	submit := func() {
		cfgMu.Lock()
		now := time.Now()
		requests := cfg.HarvestRequests(now, windowDays, args...)
		full := cfg.CoversConfiguredRun(now, requests)
		p := params(cfg, requests)
		cfgMu.Unlock()

		reply, err := worker.Submit(p)
		if errors.Is(err, harvest.ErrBusy) {
			log.Warn("Previous run still active and one already queued, skipping tick")
			return
		}

		g.Go(func() error {
			var resp harvest.Response
			select {
			case resp = <-reply:
			case <-workerDone:
				// submitted after the worker stopped serving
				select {
				case resp = <-reply:
				default:
					return nil
				}
			}
			reporter.Finish()
			ui.PrintSummary(out, resp.Result, resp.Err)
			notifier.NotifyRun(resp.Result, resp.Err)
			if resp.Err != nil {
				log.WithError(resp.Err).Warn("Run did not complete")
				return nil
			}
			if !full {
				return nil
			}

			cfgMu.Lock()
			defer cfgMu.Unlock()
			if err := recordRun(cfg, resp.Result.CompletedAt, log); err != nil {
				log.WithError(err).Error("Continuing without recorded run")
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(daemonEvery)
		defer ticker.Stop()

		submit()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				submit()
			}
		}
	})

	log.WithField("every", daemonEvery.String()).Info("Daemon started")
	err = g.Wait()
	log.Info("Daemon stopped")
	return err
}
