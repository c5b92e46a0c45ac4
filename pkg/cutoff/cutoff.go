// Package cutoff decides, item by item, whether a target's newest-first
// sequence keeps going.
//
// The lower bound is inclusive: an item stamped exactly at the cutoff is
// harvested, one a nanosecond older is not. The very first raw post of a
// target may be older than the cutoff without ending the sequence, because
// platforms pin or sticky old entries above the chronological feed. Every item
// of that post is skipped; any later out-of-window item stops pagination.
package cutoff

import (
	"time"

	"harvester/pkg/models"
)

// Decision is the outcome of checking one item against a Policy.
type Decision int

const (
	// Emit hands the item on for download.
	Emit Decision = iota
	// Skip drops the item and continues with the next one.
	Skip
	// Stop drops the item and ends the target's sequence.
	Stop
)

func (d Decision) String() string {
	switch d {
	case Emit:
		return "emit"
	case Skip:
		return "skip"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Policy is the shared stopping rule for one target.
type Policy struct {
	Cutoff time.Time
	// MinScore gates popularity-ranked sources; zero admits everything.
	MinScore int
}

// New returns the policy for a run that started at runStart looking back windowDays.
func New(runStart time.Time, windowDays int) Policy {
	return Policy{Cutoff: Compute(runStart, windowDays)}
}

// Compute returns runStart minus windowDays whole days, in UTC.
func Compute(runStart time.Time, windowDays int) time.Time {
	return runStart.UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)
}

// ForTarget returns a copy of p carrying the target's score threshold.
func (p Policy) ForTarget(target models.Target) Policy {
	p.MinScore = target.MinScore
	return p
}

// InWindow reports whether ts is at or after the cutoff.
func (p Policy) InWindow(ts time.Time) bool {
	return !ts.Before(p.Cutoff)
}

// Admit classifies the raw item at the given zero-based position of a
// target's sequence. Positions count every post the source returned,
// including skipped ones; all items of one post share its position.
func (p Policy) Admit(position int, item models.ContentItem) Decision {
	// undated items cannot be placed against the cutoff
	if item.Timestamp.IsZero() {
		return Skip
	}
	if !p.InWindow(item.Timestamp) {
		if position == 0 {
			return Skip
		}
		return Stop
	}
	if p.MinScore > 0 && item.Score < p.MinScore {
		return Skip
	}
	if item.MediaURL == "" {
		return Skip
	}
	return Emit
}
