package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "harvester/pkg/errors"
	"harvester/pkg/metadata"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls []string
	body  string
	err   error
}

func (f *stubFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCreateExportDirectory(t *testing.T) {
	at := time.Date(2024, 3, 10, 9, 5, 7, 0, time.UTC)

	t.Run("creates timestamped directory", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "exports")
		dir, err := CreateExportDirectory(root, "harvest", at)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "harvest20240310090507"), dir)
		assert.DirExists(t, dir)
	})

	t.Run("adopts empty directory", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, "harvest20240310090507"), 0755))
		_, err := CreateExportDirectory(root, "harvest", at)
		assert.NoError(t, err)
	})

	t.Run("rejects non-empty directory", func(t *testing.T) {
		root := t.TempDir()
		existing := filepath.Join(root, "harvest20240310090507")
		require.NoError(t, os.Mkdir(existing, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(existing, "photo.jpg"), []byte("x"), 0644))

		_, err := CreateExportDirectory(root, "harvest", at)
		require.Error(t, err)
		assert.Equal(t, herrors.KindDirectoryConflict, herrors.KindOf(err))
		assert.True(t, herrors.IsFatal(err))
	})

	t.Run("rejects file at path", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "harvest20240310090507"), nil, 0644))
		_, err := CreateExportDirectory(root, "harvest", at)
		assert.Equal(t, herrors.KindDirectoryConflict, herrors.KindOf(err))
	})

	t.Run("requires root", func(t *testing.T) {
		_, err := CreateExportDirectory("", "harvest", at)
		assert.Equal(t, herrors.KindConfiguration, herrors.KindOf(err))
	})
}

func TestStoreCollisions(t *testing.T) {
	dir := t.TempDir()
	fetcher := &stubFetcher{body: "image bytes"}
	m := NewManager(dir, fetcher)
	ctx := context.Background()

	for _, want := range []string{"photo.jpg", "photo1.jpg", "photo2.jpg"} {
		res := m.Store(ctx, "https://example.com/a/photo.jpg?size=large", "", nil)
		require.NoError(t, res.Err)
		assert.Equal(t, want, res.Filename)
		assert.Equal(t, int64(len("image bytes")), res.Bytes)
	}

	assert.ElementsMatch(t, []string{"photo.jpg", "photo1.jpg", "photo2.jpg"}, listDir(t, dir))
	data, err := os.ReadFile(filepath.Join(dir, "photo1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "image bytes", string(data))
}

func TestReserveSkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("old"), 0644))
	m := NewManager(dir, &stubFetcher{})

	r, err := m.Reserve("https://example.com/photo.jpg", "", false)
	require.NoError(t, err)
	assert.Equal(t, "photo1.jpg", r.Filename)
	assert.Empty(t, r.Sidecar)

	r, err = m.Reserve("https://example.com/photo.jpg", "", false)
	require.NoError(t, err)
	assert.Equal(t, "photo2.jpg", r.Filename, "reserved names count as taken")
}

func TestReserveRequiresFreeSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.json"), []byte("{}"), 0644))
	m := NewManager(dir, &stubFetcher{})

	r, err := m.Reserve("https://example.com/photo.jpg", "", true)
	require.NoError(t, err)
	assert.Equal(t, Reservation{Filename: "photo1.jpg", Sidecar: "photo1.json"}, r)

	r, err = m.Reserve("", "photo.jpg", false)
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", r.Filename, "without a sidecar the media name alone decides")
}

func TestStoreWritesSidecar(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, &stubFetcher{body: "data"})

	sidecar := &metadata.Sidecar{Author: "someone", Source: "https://example.com/post/1", Text: "hello"}
	res := m.Store(context.Background(), "https://cdn.example.com/x/y.png", "post1.png", sidecar)
	require.NoError(t, res.Err)
	require.NoError(t, res.SidecarErr)
	assert.Equal(t, "post1.png", res.Filename)
	assert.Equal(t, "post1.json", res.SidecarFilename)

	loaded, err := metadata.Load(filepath.Join(dir, "post1.png"))
	require.NoError(t, err)
	assert.Equal(t, "post1.png", loaded.Ref)
	assert.Equal(t, sidecar.Source, loaded.Source)
	assert.Equal(t, sidecar.Text, loaded.Text)
	assert.Empty(t, sidecar.Ref, "the caller's sidecar is not modified")
}

func TestSidecarRefIsStoredFilename(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, &stubFetcher{body: "data"})
	ctx := context.Background()

	for _, want := range []string{"photo.jpg", "photo1.jpg"} {
		res := m.Store(ctx, "https://example.com/photo.jpg", "", &metadata.Sidecar{Source: "https://site/post/1"})
		require.NoError(t, res.Err)
		require.NoError(t, res.SidecarErr)
		assert.Equal(t, want, res.Filename)

		loaded, err := metadata.Load(filepath.Join(dir, res.Filename))
		require.NoError(t, err)
		assert.Equal(t, want, loaded.Ref)
	}
}

func TestSidecarFailureKeepsMedia(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, &stubFetcher{body: "data"})

	r, err := m.Reserve("https://example.com/photo.jpg", "", true)
	require.NoError(t, err)
	// something else claims the sidecar path between reservation and commit
	require.NoError(t, os.Mkdir(filepath.Join(dir, r.Sidecar), 0755))

	res := m.Commit(context.Background(), r, "https://example.com/photo.jpg", &metadata.Sidecar{})
	require.NoError(t, res.Err)
	assert.Equal(t, "photo.jpg", res.Filename)
	require.Error(t, res.SidecarErr)
	assert.Equal(t, herrors.KindFilesystem, herrors.KindOf(res.SidecarErr))
	assert.FileExists(t, filepath.Join(dir, "photo.jpg"))
}

func TestFetchFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	fetcher := &stubFetcher{err: herrors.TransportStatus(404, "https://example.com/gone.jpg")}
	m := NewManager(dir, fetcher)

	res := m.Store(context.Background(), "https://example.com/gone.jpg", "", &metadata.Sidecar{})
	require.Error(t, res.Err)
	assert.Equal(t, herrors.KindTransport, herrors.KindOf(res.Err))
	assert.Empty(t, res.Filename)
	assert.Empty(t, listDir(t, dir))

	fetcher.err = nil
	res = m.Store(context.Background(), "https://example.com/gone.jpg", "", nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "gone.jpg", res.Filename, "failed reservation is released")
}

func TestMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, &stubFetcher{body: strings.Repeat("x", 11)}, WithMaxFileSize(10))

	res := m.Store(context.Background(), "https://example.com/big.bin", "", nil)
	require.Error(t, res.Err)
	assert.Equal(t, herrors.KindFilesystem, herrors.KindOf(res.Err))
	assert.Empty(t, listDir(t, dir), "no partial or temporary file remains")

	m = NewManager(dir, &stubFetcher{body: strings.Repeat("x", 10)}, WithMaxFileSize(10))
	res = m.Store(context.Background(), "https://example.com/big.bin", "", nil)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(10), res.Bytes)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

type readerFetcher struct{ r io.Reader }

func (f readerFetcher) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(f.r), nil
}

func TestBodyReadFailure(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, readerFetcher{r: io.MultiReader(strings.NewReader("partial"), failingReader{})})

	res := m.Store(context.Background(), "https://example.com/photo.jpg", "", nil)
	require.Error(t, res.Err)
	assert.Equal(t, herrors.KindTransport, herrors.KindOf(res.Err))
	assert.Empty(t, listDir(t, dir))
}

func TestStoreCancelled(t *testing.T) {
	fetcher := &stubFetcher{body: "data"}
	m := NewManager(t.TempDir(), fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := m.Store(ctx, "https://example.com/photo.jpg", "", nil)
	assert.Equal(t, herrors.KindCancelled, herrors.KindOf(res.Err))
	assert.Empty(t, fetcher.calls)
}

func TestConcurrentStoresGetDistinctNames(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, &stubFetcher{body: "data"})

	const n = 20
	var wg sync.WaitGroup
	names := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := m.Store(context.Background(), "https://example.com/photo.jpg", "", &metadata.Sidecar{})
			assert.NoError(t, res.Err)
			names[i] = res.Filename
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, name := range names {
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
	assert.Len(t, listDir(t, dir), 2*n)
	assert.True(t, seen["photo.jpg"])
	assert.True(t, seen[fmt.Sprintf("photo%d.jpg", n-1)])
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://example.com/a/photo.jpg", "photo.jpg"},
		{"https://example.com/a/photo.jpg?w=100#frag", "photo.jpg"},
		{"https://example.com/a/my%20photo.jpg", "my photo.jpg"},
		{"https://example.com/a/evil%2F..%2Fpasswd", "evil_.._passwd"},
		{"https://example.com/", "download"},
		{"https://example.com", "download"},
		{"", "download"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, FilenameFromURL(tt.url))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c.jpg", SanitizeFilename("a/b\\c.jpg"))
	assert.Equal(t, "hidden", SanitizeFilename(".hidden"))
	assert.Equal(t, "download", SanitizeFilename(".."))
	assert.Equal(t, "what_.png", SanitizeFilename("what?.png"))
	assert.Equal(t, "tab_name", SanitizeFilename("tab\tname"))

	long := strings.Repeat("a", 300) + ".jpg"
	got := SanitizeFilename(long)
	assert.Len(t, got, 200)
	assert.True(t, strings.HasSuffix(got, ".jpg"))
}
