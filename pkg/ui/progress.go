package ui

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
	barWidth      = 20
)

// Bar renders done out of total as a fixed-width bar
func Bar(done, total int) string {
	if total <= 0 {
		return strings.Repeat(ProgressEmpty, barWidth)
	}
	if done > total {
		done = total
	}
	progress := float64(done) / float64(total)
	filled := int(progress * float64(barWidth))

	return render(progressStyle(progress*100), strings.Repeat(ProgressBar, filled)) +
		render(progressEmptyStyle, strings.Repeat(ProgressEmpty, barWidth-filled))
}

// ETA estimates the time left from progress so far
func ETA(done, total int, elapsed time.Duration) string {
	if done == 0 || elapsed <= 0 {
		return "calculating..."
	}
	rate := float64(done) / elapsed.Seconds()
	remaining := float64(total-done) / rate
	return FormatDuration(time.Duration(remaining * float64(time.Second)))
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// FormatBytes formats bytes in a human-readable way
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
