package cutoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"harvester/pkg/models"
)

var runStart = time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC)

func item(ts time.Time, score int) models.ContentItem {
	return models.ContentItem{ID: "x", Timestamp: ts, Score: score, MediaURL: "https://example.com/x.jpg"}
}

func TestComputeNormalisesToUTC(t *testing.T) {
	local := runStart.In(time.FixedZone("PST", -8*3600))
	assert.Equal(t, time.Date(2024, 5, 13, 15, 0, 0, 0, time.UTC), Compute(local, 7))
	assert.Equal(t, time.UTC, Compute(local, 7).Location())
}

func TestBoundaryIsInclusive(t *testing.T) {
	p := New(runStart, 7)
	boundary := runStart.Add(-7 * 24 * time.Hour)

	assert.Equal(t, Emit, p.Admit(1, item(boundary, 0)))
	assert.Equal(t, Stop, p.Admit(1, item(boundary.Add(-time.Second), 0)))
}

func TestPinnedFirstItem(t *testing.T) {
	p := New(runStart, 7)
	old := item(runStart.Add(-30*24*time.Hour), 0)

	assert.Equal(t, Skip, p.Admit(0, old), "first old item tolerated")
	assert.Equal(t, Stop, p.Admit(1, old), "second old item terminates")
}

func TestScoreGate(t *testing.T) {
	p := New(runStart, 7).ForTarget(models.Target{Name: "pics", MinScore: 100})
	recent := runStart.Add(-time.Hour)

	assert.Equal(t, Emit, p.Admit(3, item(recent, 100)), "equal to threshold")
	assert.Equal(t, Skip, p.Admit(3, item(recent, 99)), "below threshold skips")
	assert.Equal(t, Stop, p.Admit(3, item(runStart.Add(-8*24*time.Hour), 1000)), "cutoff beats score")
}

func TestItemsWithoutMediaAreSkipped(t *testing.T) {
	p := New(runStart, 7)
	it := item(runStart, 0)
	it.MediaURL = ""
	assert.Equal(t, Skip, p.Admit(2, it))
}

func TestUndatedItemsAreSkipped(t *testing.T) {
	p := New(runStart, 7)
	assert.Equal(t, Skip, p.Admit(0, item(time.Time{}, 0)))
	assert.Equal(t, Skip, p.Admit(5, item(time.Time{}, 0)), "undated items neither emit nor stop")
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "emit", Emit.String())
	assert.Equal(t, "skip", Skip.String())
	assert.Equal(t, "stop", Stop.String())
}
