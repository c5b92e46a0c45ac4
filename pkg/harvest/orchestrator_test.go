package harvest

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/cutoff"
	herrors "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/sources"
	"harvester/pkg/storage"
)

var runStart = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// fakeAdapter serves fixed items through the shared paginator, one page per
// target. failAfter makes a target yield that many items and then a
// transport error.
type fakeAdapter struct {
	name      string
	items     map[string][]models.ContentItem
	failAfter map[string]int
	onItem    func(n int)
	calls     int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context, target models.Target, policy cutoff.Policy) iter.Seq2[models.ContentItem, error] {
	atomic.AddInt32(&f.calls, 1)
	items := f.items[target.Name]

	if n, ok := f.failAfter[target.Name]; ok {
		return func(yield func(models.ContentItem, error) bool) {
			for _, item := range items[:n] {
				if !yield(item, nil) {
					return
				}
			}
			yield(models.ContentItem{}, herrors.TransportStatus(503, "https://"+f.name+"/page2"))
		}
	}

	seq := sources.Paginator{
		Source: f.name,
		Target: target,
		Policy: policy.ForTarget(target),
		Fetch: func(ctx context.Context, cursor string) (sources.Page, error) {
			return sources.Page{Items: items}, nil
		},
	}.Seq(ctx)

	return func(yield func(models.ContentItem, error) bool) {
		n := 0
		for item, err := range seq {
			n++
			if f.onItem != nil {
				f.onItem(n)
			}
			if !yield(item, err) {
				return
			}
		}
	}
}

// memFetcher serves "body of <url>" for every URL except those in fail
type memFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (m *memFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.calls = append(m.calls, url)
	m.mu.Unlock()
	if m.fail[url] {
		return nil, herrors.TransportStatus(404, url)
	}
	return io.NopCloser(strings.NewReader("body of " + url)), nil
}

func (m *memFetcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type reportedError struct {
	source, target string
	kind           herrors.Kind
}

type recordingReporter struct {
	mu       sync.Mutex
	errors   []reportedError
	phases   []string
	progress map[string]int
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{progress: make(map[string]int)}
}

func (r *recordingReporter) OnProgress(source string, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[source]++
}

func (r *recordingReporter) OnError(source, target string, kind herrors.Kind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, reportedError{source, target, kind})
}

func (r *recordingReporter) OnPhase(source string, phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, source+":"+string(phase))
}

// daily returns n items, the first one `offset` days before runStart and each
// following one a day older.
func daily(prefix string, n, offset int) []models.ContentItem {
	items := make([]models.ContentItem, n)
	for i := range items {
		id := fmt.Sprintf("%s%d", prefix, i)
		items[i] = models.ContentItem{
			ID:        id,
			Author:    "author",
			Timestamp: runStart.Add(-time.Duration(i+offset) * day),
			OriginURL: "https://example.com/post/" + id,
			MediaURL:  "https://cdn.example.com/" + id + ".jpg",
			Caption:   "caption " + id,
		}
	}
	return items
}

func request(name string, window int, targets ...string) models.HarvestRequest {
	req := models.HarvestRequest{SourceName: name, Enabled: true, WindowDays: window}
	for _, t := range targets {
		req.Targets = append(req.Targets, models.Target{Name: t})
	}
	return req
}

func newOrchestrator(adapters map[string]sources.Adapter, fetcher storage.Fetcher, opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(func() time.Time { return runStart })}, opts...)
	return New(adapters, fetcher, opts...)
}

func TestRunWindowing(t *testing.T) {
	adapter := &fakeAdapter{name: "a", items: map[string][]models.ContentItem{
		"t": daily("item", 10, 1),
	}}
	fetcher := &memFetcher{}
	o := newOrchestrator(map[string]sources.Adapter{"a": adapter}, fetcher, WithSidecars(false))

	result, err := o.Run(context.Background(), Params{
		ExportRoot: t.TempDir(),
		Prefix:     "harvest",
		Requests:   []models.HarvestRequest{request("a", 7, "t")},
	})
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, o.State())

	src, ok := result.Source("a")
	require.True(t, ok)
	assert.Equal(t, 7, src.Downloaded())
	assert.Equal(t, 7, src.Targets[0].Collected)
	assert.Equal(t, "item6", src.Outcomes[6].Item.ID, "boundary item at the cutoff is included")
	assert.Equal(t, 7, fetcher.count())
	assert.Equal(t, runStart, result.CompletedAt)
	assert.NotEmpty(t, result.RunID)

	entries, err := os.ReadDir(result.ExportDirectory)
	require.NoError(t, err)
	assert.Len(t, entries, 7)
	assert.Equal(t, "harvest20240310120000", filepath.Base(result.ExportDirectory))
}

func TestRunOrderingAndCollisions(t *testing.T) {
	items := daily("p", 3, 0)
	for i := range items {
		items[i].Filename = "photo.jpg"
	}
	adapter := &fakeAdapter{name: "a", items: map[string][]models.ContentItem{"t": items}}
	o := newOrchestrator(map[string]sources.Adapter{"a": adapter}, &memFetcher{}, WithConcurrency(3))

	result, err := o.Run(context.Background(), Params{
		ExportRoot: t.TempDir(),
		Requests:   []models.HarvestRequest{request("a", 7, "t")},
	})
	require.NoError(t, err)

	src, _ := result.Source("a")
	require.Len(t, src.Outcomes, 3)
	for i, want := range []string{"photo.jpg", "photo1.jpg", "photo2.jpg"} {
		out := src.Outcomes[i]
		assert.Equal(t, items[i].ID, out.Item.ID)
		assert.Equal(t, want, out.StoredFilename)
		assert.Equal(t, strings.TrimSuffix(want, ".jpg")+".json", out.SidecarFilename)

		data, err := os.ReadFile(filepath.Join(result.ExportDirectory, want))
		require.NoError(t, err)
		assert.Equal(t, "body of "+items[i].MediaURL, string(data))
	}
	for i := 1; i < len(src.Outcomes); i++ {
		assert.False(t, src.Outcomes[i].Item.Timestamp.After(src.Outcomes[i-1].Item.Timestamp))
	}
}

func TestRunIsolatesSourceFailures(t *testing.T) {
	a := &fakeAdapter{name: "A", items: map[string][]models.ContentItem{"t": daily("a", 2, 0)}}
	b := &fakeAdapter{
		name:      "B",
		items:     map[string][]models.ContentItem{"t": daily("b", 5, 0)},
		failAfter: map[string]int{"t": 3},
	}
	c := &fakeAdapter{name: "C", items: map[string][]models.ContentItem{"t": daily("c", 4, 0)}}

	reporter := newRecordingReporter()
	o := newOrchestrator(map[string]sources.Adapter{"A": a, "B": b, "C": c}, &memFetcher{}, WithReporter(reporter))

	result, err := o.Run(context.Background(), Params{
		ExportRoot: t.TempDir(),
		Requests: []models.HarvestRequest{
			request("A", 7, "t"),
			request("B", 7, "t"),
			request("C", 7, "t"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, o.State())

	srcA, _ := result.Source("A")
	srcB, _ := result.Source("B")
	srcC, _ := result.Source("C")
	assert.Equal(t, 2, srcA.Downloaded())
	assert.Equal(t, 0, srcA.Failed())
	assert.Equal(t, 4, srcC.Downloaded())
	assert.Equal(t, 0, srcC.Failed())

	assert.Equal(t, 3, srcB.Downloaded())
	assert.Equal(t, 1, srcB.Failed())
	require.Len(t, srcB.Errors(), 1)
	targetErr := srcB.Targets[0].Err
	assert.Equal(t, herrors.KindTransport, herrors.KindOf(targetErr))
	var herr *herrors.Error
	require.ErrorAs(t, targetErr, &herr)
	assert.Equal(t, "B", herr.Source)
	assert.Equal(t, "t", herr.Target)

	assert.Equal(t, []reportedError{{"B", "t", herrors.KindTransport}}, reporter.errors)
	assert.Equal(t, 9, result.Downloaded())
}

func TestRunDirectoryConflictMakesNoRequests(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "harvest20240310120000")
	require.NoError(t, os.Mkdir(existing, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "old.jpg"), []byte("x"), 0644))

	adapter := &fakeAdapter{name: "a", items: map[string][]models.ContentItem{"t": daily("x", 3, 0)}}
	fetcher := &memFetcher{}
	reporter := newRecordingReporter()
	o := newOrchestrator(map[string]sources.Adapter{"a": adapter}, fetcher, WithReporter(reporter))

	result, err := o.Run(context.Background(), Params{
		ExportRoot: root,
		Prefix:     "harvest",
		Requests:   []models.HarvestRequest{request("a", 7, "t")},
	})
	require.Error(t, err)
	assert.Equal(t, herrors.KindDirectoryConflict, herrors.KindOf(err))
	assert.Equal(t, StateAborted, o.State())
	require.NotNil(t, result)
	assert.Empty(t, result.Sources)

	assert.Equal(t, int32(0), atomic.LoadInt32(&adapter.calls))
	assert.Equal(t, 0, fetcher.count())
	assert.Equal(t, []reportedError{{"", "", herrors.KindDirectoryConflict}}, reporter.errors)
}

func TestRunSkipsDisabledSources(t *testing.T) {
	enabled := &fakeAdapter{name: "on", items: map[string][]models.ContentItem{"t": daily("x", 1, 0)}}
	disabled := &fakeAdapter{name: "off", items: map[string][]models.ContentItem{"t": daily("y", 1, 0)}}
	reporter := newRecordingReporter()
	o := newOrchestrator(map[string]sources.Adapter{"on": enabled, "off": disabled}, &memFetcher{}, WithReporter(reporter))

	off := request("off", 7, "t")
	off.Enabled = false
	// a disabled source needs no adapter either
	missing := request("missing", 7, "t")
	missing.Enabled = false

	result, err := o.Run(context.Background(), Params{
		ExportRoot: t.TempDir(),
		Requests:   []models.HarvestRequest{off, request("on", 7, "t"), missing},
	})
	require.NoError(t, err)

	src, _ := result.Source("off")
	assert.True(t, src.Skipped)
	assert.Equal(t, 0, src.Failed())
	assert.Equal(t, int32(0), atomic.LoadInt32(&disabled.calls))
	assert.Empty(t, reporter.errors)
	assert.Equal(t, 1, result.Downloaded())
	assert.NotContains(t, reporter.phases, "off:scan")
	assert.Contains(t, reporter.phases, "on:scan")
	assert.Contains(t, reporter.phases, "on:download")
}

func TestRunConfigurationErrorBeforeDirectory(t *testing.T) {
	root := t.TempDir()
	o := newOrchestrator(map[string]sources.Adapter{}, &memFetcher{})

	bad := request("nowhere", -1, "t")
	_, err := o.Run(context.Background(), Params{
		ExportRoot: root,
		Requests:   []models.HarvestRequest{bad},
	})
	require.Error(t, err)
	assert.Equal(t, herrors.KindConfiguration, herrors.KindOf(err))
	assert.True(t, herrors.IsFatal(err))
	assert.Contains(t, err.Error(), "no adapter available")
	assert.Contains(t, err.Error(), "window_days")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no export directory is created")

	_, err = o.Run(context.Background(), Params{})
	assert.Equal(t, herrors.KindConfiguration, herrors.KindOf(err))
}

func TestRunDownloadFailureIsScopedToItem(t *testing.T) {
	items := daily("d", 3, 0)
	adapter := &fakeAdapter{name: "a", items: map[string][]models.ContentItem{"t": items}}
	fetcher := &memFetcher{fail: map[string]bool{items[1].MediaURL: true}}
	reporter := newRecordingReporter()
	log := logger.NewTestLogger()
	o := newOrchestrator(map[string]sources.Adapter{"a": adapter}, fetcher, WithReporter(reporter), WithLogger(log))

	result, err := o.Run(context.Background(), Params{
		ExportRoot: t.TempDir(),
		Requests:   []models.HarvestRequest{request("a", 7, "t")},
	})
	require.NoError(t, err)

	src, _ := result.Source("a")
	assert.Equal(t, 2, src.Downloaded())
	assert.Equal(t, 1, src.Failed())

	failed := src.Outcomes[1]
	require.Error(t, failed.Err)
	assert.Empty(t, failed.StoredFilename)
	var herr *herrors.Error
	require.ErrorAs(t, failed.Err, &herr)
	assert.Equal(t, "d1", herr.Item)
	assert.Equal(t, 404, herr.Code)

	assert.Equal(t, []reportedError{{"a", "t", herrors.KindTransport}}, reporter.errors)
	assert.True(t, log.HasMessage("download failed"))
	assert.True(t, log.HasMessage("harvest finished"))
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &fakeAdapter{
		name:   "first",
		items:  map[string][]models.ContentItem{"t": daily("f", 5, 0), "u": daily("g", 5, 0)},
		onItem: func(n int) {
			if n == 2 {
				cancel()
			}
		},
	}
	second := &fakeAdapter{name: "second", items: map[string][]models.ContentItem{"t": daily("s", 2, 0)}}
	fetcher := &memFetcher{}
	reporter := newRecordingReporter()
	o := newOrchestrator(map[string]sources.Adapter{"first": first, "second": second}, fetcher, WithReporter(reporter))

	result, err := o.Run(ctx, Params{
		ExportRoot: t.TempDir(),
		Requests: []models.HarvestRequest{
			request("first", 7, "t", "u"),
			request("second", 7, "t"),
		},
	})
	require.Error(t, err)
	assert.Equal(t, herrors.KindCancelled, herrors.KindOf(err))
	assert.Equal(t, StateAborted, o.State())

	require.NotNil(t, result)
	require.Len(t, result.Sources, 1, "no source starts after cancellation")
	src := result.Sources[0]
	require.Len(t, src.Targets, 1, "no target starts after cancellation")
	assert.Equal(t, 2, src.Targets[0].Collected)
	for _, out := range src.Outcomes {
		assert.Equal(t, herrors.KindCancelled, herrors.KindOf(out.Err))
	}
	assert.Equal(t, 0, fetcher.count())
	assert.Equal(t, int32(0), atomic.LoadInt32(&second.calls))
	assert.Equal(t, []reportedError{{"", "", herrors.KindCancelled}}, reporter.errors)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CONFIGURED", StateConfigured.String())
	assert.Equal(t, "DIRECTORY_READY", StateDirectoryReady.String())
	assert.Equal(t, "HARVESTING_SOURCE", StateHarvestingSource.String())
	assert.Equal(t, "FINALIZED", StateFinalized.String())
	assert.Equal(t, "ABORTED", StateAborted.String())
}
