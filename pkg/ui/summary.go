package ui

import (
	"fmt"
	"io"
	"strings"

	"harvester/pkg/models"
)

const maxListedErrors = 10

// PrintSummary writes the per-source table of a finished or aborted run.
func PrintSummary(w io.Writer, result *models.RunResult, runErr error) {
	if result == nil {
		if runErr != nil {
			fmt.Fprintln(w, Red("✗ "+runErr.Error()))
		}
		return
	}

	var b strings.Builder
	title := "HARVEST COMPLETE"
	if runErr != nil {
		title = "HARVEST ABORTED"
	}
	fmt.Fprintln(&b, render(titleStyle, title))
	fmt.Fprintln(&b)

	if result.ExportDirectory != "" {
		fmt.Fprintf(&b, "%s %s\n", render(labelStyle, "Directory:"), result.ExportDirectory)
	}
	if !result.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "%s %s\n", render(labelStyle, "Duration: "), FormatDuration(result.CompletedAt.Sub(result.StartedAt)))
	}
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "%-12s %8s %10s %8s\n", "SOURCE", "FOUND", "DOWNLOADED", "FAILED")
	var found int
	for _, s := range result.Sources {
		if s.Skipped {
			fmt.Fprintf(&b, "%-12s %s\n", s.Name, Dim("disabled"))
			continue
		}
		collected := 0
		for _, t := range s.Targets {
			collected += t.Collected
		}
		found += collected

		failed := fmt.Sprintf("%8d", s.Failed())
		if s.Failed() > 0 {
			failed = Red(failed)
		}
		fmt.Fprintf(&b, "%-12s %8d %10d %s\n", s.Name, collected, s.Downloaded(), failed)
	}
	fmt.Fprintf(&b, "%-12s %8d %10d %8d", "total", found, result.Downloaded(), result.Failed())

	errs := collectErrors(result)
	if runErr != nil {
		errs = append([]error{runErr}, errs...)
	}
	if len(errs) > 0 {
		fmt.Fprintf(&b, "\n\n%s\n", Red("Errors:"))
		for i, err := range errs {
			if i == maxListedErrors {
				fmt.Fprintf(&b, "  %s\n", Dim(fmt.Sprintf("... and %d more", len(errs)-maxListedErrors)))
				break
			}
			fmt.Fprintf(&b, "  • %s\n", err)
		}
	}

	out := strings.TrimRight(b.String(), "\n")
	if colorEnabled.Load() {
		out = panelStyle.Render(out)
	}
	fmt.Fprintln(w, out)
}

func collectErrors(result *models.RunResult) []error {
	var errs []error
	for _, s := range result.Sources {
		errs = append(errs, s.Errors()...)
	}
	return errs
}
