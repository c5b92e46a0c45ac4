package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	herrors "harvester/pkg/errors"
	"harvester/pkg/harvest"
)

// ConsoleReporter renders run progress as one rewritten line per source.
// It implements harvest.ProgressReporter and harvest.PhaseReporter.
type ConsoleReporter struct {
	mu       sync.Mutex
	out      io.Writer
	quiet    bool
	now      func() time.Time
	current  *sourceProgress
	lineOpen bool
	errors   int
}

type sourceProgress struct {
	name    string
	found   int
	done    int
	total   int
	started time.Time
}

// NewConsoleReporter writes to out. In quiet mode only errors are shown.
func NewConsoleReporter(out io.Writer, quiet bool) *ConsoleReporter {
	return &ConsoleReporter{out: out, quiet: quiet, now: time.Now}
}

// OnPhase opens and closes the per-source line
func (r *ConsoleReporter) OnPhase(source string, phase harvest.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch phase {
	case harvest.PhaseScan:
		r.current = &sourceProgress{name: source, started: r.now()}
		if !r.quiet {
			r.printLine(fmt.Sprintf("%s %s scanning...", Magenta("→"), Cyan(source)))
		}
	case harvest.PhaseDownload:
		p := r.progress(source)
		p.started = r.now()
		if !r.quiet {
			r.printLine(fmt.Sprintf("%s %s %d items found", Magenta("→"), Cyan(source), p.found))
			r.endLine()
		}
	case harvest.PhaseDone:
		p := r.progress(source)
		if !r.quiet {
			r.printLine(fmt.Sprintf("%s %s %d/%d downloaded in %s",
				Green("✓"), Cyan(source), p.done, p.found, FormatDuration(r.now().Sub(p.started))))
			r.endLine()
		}
		r.current = nil
	}
}

// OnProgress updates the line of the active source
func (r *ConsoleReporter) OnProgress(source string, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.progress(source)
	if total == 0 {
		p.found = current
		if !r.quiet {
			r.printLine(fmt.Sprintf("%s %s scanning... %d items", Magenta("→"), Cyan(source), current))
		}
		return
	}

	p.done, p.total = current, total
	if r.quiet {
		return
	}

	elapsed := r.now().Sub(p.started)
	line := fmt.Sprintf("  %s [%s] %d/%d • %s",
		Cyan(source), Bar(current, total), current, total, ETA(current, total, elapsed))
	if r.errors > 0 {
		line += " • " + Red(fmt.Sprintf("%d errors", r.errors))
	}
	r.printLine(line)
}

// OnError prints the failure on its own line
func (r *ConsoleReporter) OnError(source, target string, kind herrors.Kind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors++
	r.endLine()

	where := source
	if target != "" {
		where += "/" + target
	}
	if where == "" {
		where = "run"
	}
	fmt.Fprintf(r.out, "%s %s [%s] %s\n", Red("✗"), where, kind, detail)
}

// Errors returns how many errors have been reported
func (r *ConsoleReporter) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// Finish terminates any open progress line
func (r *ConsoleReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
}

func (r *ConsoleReporter) progress(source string) *sourceProgress {
	if r.current == nil || r.current.name != source {
		r.current = &sourceProgress{name: source, started: r.now()}
	}
	return r.current
}

func (r *ConsoleReporter) printLine(line string) {
	if r.lineOpen {
		fmt.Fprintf(r.out, "\r%s\r", strings.Repeat(" ", 100))
	}
	fmt.Fprint(r.out, line)
	r.lineOpen = true
}

func (r *ConsoleReporter) endLine() {
	if r.lineOpen {
		fmt.Fprintln(r.out)
		r.lineOpen = false
	}
}
