package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"harvester/pkg/auth"
	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/ui"
)

var (
	exportDir   string
	windowDays  int
	dirPrefix   string
	concurrency int
	noSidecars  bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [source...]",
	Short: "Harvest every enabled source once",
	Long: `Harvest every enabled source once into a new export directory.

Naming sources restricts the run to them; they must still be enabled in the
configuration. When a run succeeds for every enabled source with at least the
configured window, its completion time is written back to the config file as
last_scrape_date, so the next run picks up where this one ended.`,
	Example: `  # Harvest all enabled sources
  harvester run

  # Only reddit and bluesky, looking back 3 days
  harvester run reddit bluesky --days 3

  # Export somewhere else without sidecars
  harvester run -e /mnt/media --no-sidecars`,
	ValidArgs: config.SourceNames,
	Args:      cobra.OnlyValidArgs,
	RunE:      runHarvest,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&exportDir, "export", "e", "", "root directory for export directories")
	cmd.Flags().IntVarP(&windowDays, "days", "d", 0, "look-back window in days (overrides the configured window)")
	cmd.Flags().StringVar(&dirPrefix, "prefix", "", "export directory name prefix")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent downloads")
	cmd.Flags().BoolVar(&noSidecars, "no-sidecars", false, "do not write JSON sidecar files")
}

func runFlags() map[string]interface{} {
	return map[string]interface{}{
		"export":      exportDir,
		"prefix":      dirPrefix,
		"concurrency": concurrency,
		"no-sidecars": noSidecars,
	}
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runFlags())
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if !quiet {
		ui.PrintLogo()
	}

	start := time.Now()
	requests := cfg.HarvestRequests(start, windowDays, args...)
	if !quiet {
		var enabled []string
		for _, r := range requests {
			if r.Enabled {
				enabled = append(enabled, r.SourceName)
			}
		}
		ui.PrintInfo("Sources", strings.Join(enabled, ", "))
		if len(requests) > 0 {
			ui.PrintInfo("Window", pluralDays(requests[0].WindowDays))
		}
	}

	adapters, err := buildAdapters(cfg, newRegistry(), credentialStore(log), requests, log)
	if err != nil {
		return err
	}

	reporter := newReporter(out)
	orch := newOrchestrator(cfg, adapters, reporter, log)

	result, runErr := orch.Run(ctx, params(cfg, requests))
	reporter.Finish()

	ui.PrintSummary(out, result, runErr)
	ui.NewNotifier(cfg.Notifications, out).NotifyRun(result, runErr)

	if runErr != nil {
		return runErr
	}
	if !cfg.CoversConfiguredRun(start, requests) {
		log.Info("Run was narrowed by source or window, last scrape date left unchanged")
		return nil
	}
	return recordRun(cfg, result.CompletedAt, log)
}

// recordRun persists the completion time for the next window. Only the file
// layer is rewritten so flag and environment overrides stay out of it.
func recordRun(cfg *config.Config, completedAt time.Time, log logger.Logger) error {
	cfg.RecordRun(completedAt)

	path := configPath()
	fileCfg := config.DefaultConfig()
	if err := fileCfg.LoadFromFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	fileCfg.RecordRun(completedAt)

	if err := fileCfg.Save(path); err != nil {
		log.WithError(err).WithField("path", path).Error("Failed to record last scrape date")
		return err
	}
	log.WithField("path", path).Debug("Recorded last scrape date")
	return nil
}

// credentialStore opens the credential manager, tolerating an unusable one
// so sources without credentials still run.
func credentialStore(log logger.Logger) secretStore {
	m, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Credential store unavailable")
		return nil
	}
	return m
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
