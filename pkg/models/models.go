package models

import "time"

// Target identifies one harvest unit within a source: a subreddit, forum topic,
// blog, or user handle. MinScore only matters to score-gated sources.
type Target struct {
	Name     string `yaml:"name" json:"name"`
	MinScore int    `yaml:"min_score,omitempty" json:"min_score,omitempty"`
}

func (t Target) String() string {
	return t.Name
}

// ContentItem is one piece of remote media produced by a source adapter.
// Timestamp is the authoritative ordering key.
type ContentItem struct {
	ID        string
	Author    string
	Timestamp time.Time
	OriginURL string
	MediaURL  string
	Caption   string
	Permalink string

	// PostID groups items cut from the same post, such as the images of a
	// gallery. Empty means the item is a post of its own.
	PostID string

	// Score is the popularity figure used by score-gated sources.
	Score int

	// Filename is the preferred base filename; empty means derive it from MediaURL.
	Filename string
}

// HarvestRequest is the per-source slice of configuration for a single run.
type HarvestRequest struct {
	SourceName string
	Enabled    bool
	Targets    []Target
	WindowDays int
}

// DownloadOutcome is the terminal result for one item.
type DownloadOutcome struct {
	Item            ContentItem
	Target          string
	StoredFilename  string
	SidecarFilename string
	Bytes           int64
	Err             error
	SidecarErr      error
}

// Succeeded reports whether the media file was written.
func (o DownloadOutcome) Succeeded() bool {
	return o.Err == nil && o.StoredFilename != ""
}

// TargetResult records how pagination of one target ended.
type TargetResult struct {
	Target    Target
	Collected int
	Err       error
}

// SourceResult aggregates everything that happened to one source during a run.
type SourceResult struct {
	Name     string
	Skipped  bool
	Targets  []TargetResult
	Outcomes []DownloadOutcome
}

// Downloaded counts outcomes whose media file was written.
func (s SourceResult) Downloaded() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Failed counts failed downloads plus targets whose pagination ended in error.
func (s SourceResult) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	for _, t := range s.Targets {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Errors returns every error recorded for the source, targets first.
func (s SourceResult) Errors() []error {
	var errs []error
	for _, t := range s.Targets {
		if t.Err != nil {
			errs = append(errs, t.Err)
		}
	}
	for _, o := range s.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
		if o.SidecarErr != nil {
			errs = append(errs, o.SidecarErr)
		}
	}
	return errs
}

// RunResult is the aggregate a finished (or aborted) run hands back to its caller.
type RunResult struct {
	RunID           string
	ExportDirectory string
	StartedAt       time.Time
	CompletedAt     time.Time
	Sources         []SourceResult
}

// Source returns the result for the named source, if it took part in the run.
func (r *RunResult) Source(name string) (SourceResult, bool) {
	for _, s := range r.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceResult{}, false
}

// Downloaded totals successful downloads across sources.
func (r *RunResult) Downloaded() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Downloaded()
	}
	return n
}

// Failed totals failures across sources.
func (r *RunResult) Failed() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Failed()
	}
	return n
}
