package harvest

import herrors "harvester/pkg/errors"

// ProgressReporter receives progress and error events from a run. Calls are
// made from one goroutine at a time; return values are not consumed.
type ProgressReporter interface {
	// OnProgress reports current of total units done for a source. During the
	// scan phase total is zero because the item count is not known yet.
	OnProgress(source string, current, total int)
	OnError(source, target string, kind herrors.Kind, detail string)
}

// Phase is the stage a source is in
type Phase string

const (
	PhaseScan     Phase = "scan"
	PhaseDownload Phase = "download"
	PhaseDone     Phase = "done"
)

// PhaseReporter is implemented by reporters that want phase changes as well.
type PhaseReporter interface {
	OnPhase(source string, phase Phase)
}

// NopReporter discards every event
type NopReporter struct{}

func (NopReporter) OnProgress(string, int, int)                  {}
func (NopReporter) OnError(string, string, herrors.Kind, string) {}
func (NopReporter) OnPhase(string, Phase)                        {}
