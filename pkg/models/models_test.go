package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceResultCounters(t *testing.T) {
	boom := errors.New("boom")
	src := SourceResult{
		Name: "reddit",
		Targets: []TargetResult{
			{Target: Target{Name: "pics"}, Collected: 3},
			{Target: Target{Name: "aww"}, Collected: 1, Err: boom},
		},
		Outcomes: []DownloadOutcome{
			{StoredFilename: "a.jpg"},
			{StoredFilename: "b.jpg", SidecarErr: boom},
			{Err: boom},
		},
	}

	assert.Equal(t, 2, src.Downloaded())
	assert.Equal(t, 2, src.Failed())
	assert.Len(t, src.Errors(), 3)
}

func TestRunResultLookup(t *testing.T) {
	run := &RunResult{Sources: []SourceResult{
		{Name: "a", Outcomes: []DownloadOutcome{{StoredFilename: "1"}}},
		{Name: "b", Skipped: true},
	}}

	b, ok := run.Source("b")
	assert.True(t, ok)
	assert.True(t, b.Skipped)

	_, ok = run.Source("missing")
	assert.False(t, ok)

	assert.Equal(t, 1, run.Downloaded())
	assert.Equal(t, 0, run.Failed())
}
