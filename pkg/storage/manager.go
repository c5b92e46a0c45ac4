package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	herrors "harvester/pkg/errors"
	"harvester/pkg/metadata"
)

// DirectoryTimeFormat is the YYYYMMDDHHMMSS suffix of export directory names.
const DirectoryTimeFormat = "20060102150405"

// fallbackName is used when a URL yields no usable filename.
const fallbackName = "download"

// maxCandidates bounds the collision counter.
const maxCandidates = 100000

// CreateExportDirectory creates <root>/<prefix><YYYYMMDDHHMMSS> for a run
// starting at the given time. An existing empty directory is adopted; anything
// else already at that path is a directory conflict.
func CreateExportDirectory(root, prefix string, at time.Time) (string, error) {
	if root == "" {
		return "", herrors.Configuration(nil, "export directory is not set")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", herrors.Filesystem(err, root)
	}

	dir := filepath.Join(root, prefix+at.Format(DirectoryTimeFormat))

	err := os.Mkdir(dir, 0755)
	if err == nil {
		return dir, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return "", herrors.Filesystem(err, dir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", herrors.Filesystem(err, dir)
	}
	if !info.IsDir() {
		return "", herrors.DirectoryConflict(dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", herrors.Filesystem(err, dir)
	}
	if len(entries) > 0 {
		return "", herrors.DirectoryConflict(dir)
	}
	return dir, nil
}

// Fetcher opens the body of a remote file
type Fetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Option configures a Manager
type Option func(*Manager)

// WithMaxFileSize rejects bodies larger than n bytes; zero means no limit.
func WithMaxFileSize(n int64) Option {
	return func(m *Manager) {
		m.maxFileSize = n
	}
}

// Reservation is a filename pair handed out by Reserve. Sidecar is empty when
// no sidecar was requested.
type Reservation struct {
	Filename string
	Sidecar  string
}

// Result describes what one Commit wrote.
type Result struct {
	Filename        string
	SidecarFilename string
	Bytes           int64
	Err             error
	SidecarErr      error
}

// Manager places downloads into one export directory.
type Manager struct {
	dir         string
	fetcher     Fetcher
	maxFileSize int64

	mu       sync.Mutex
	reserved map[string]bool
}

// NewManager creates a manager writing into dir, which must already exist.
func NewManager(dir string, fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		dir:      dir,
		fetcher:  fetcher,
		reserved: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the export directory
func (m *Manager) Dir() string {
	return m.dir
}

// Reserve picks a collision-free name for a download of rawURL. base overrides
// the name derived from the URL. With withSidecar the sidecar name must be free
// as well.
func (m *Manager) Reserve(rawURL, base string, withSidecar bool) (Reservation, error) {
	name := SanitizeFilename(base)
	if base == "" {
		name = FilenameFromURL(rawURL)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	m.mu.Lock()
	defer m.mu.Unlock()

	for n := 0; n < maxCandidates; n++ {
		candidate := name
		if n > 0 {
			candidate = stem + strconv.Itoa(n) + ext
		}
		if !m.free(candidate) {
			continue
		}

		r := Reservation{Filename: candidate}
		if withSidecar {
			r.Sidecar = metadata.SidecarName(candidate)
			if !m.free(r.Sidecar) {
				continue
			}
			m.reserved[r.Sidecar] = true
		}
		m.reserved[candidate] = true
		return r, nil
	}

	return Reservation{}, herrors.Filesystem(fmt.Errorf("no free filename after %d attempts", maxCandidates), filepath.Join(m.dir, name))
}

// free must be called with mu held
func (m *Manager) free(name string) bool {
	if m.reserved[name] {
		return false
	}
	_, err := os.Lstat(filepath.Join(m.dir, name))
	return errors.Is(err, fs.ErrNotExist)
}

func (m *Manager) release(r Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, r.Filename)
	if r.Sidecar != "" {
		delete(m.reserved, r.Sidecar)
	}
}

// Commit downloads rawURL into the reserved name and writes the sidecar if one
// was reserved and given. A failed download releases the reservation.
func (m *Manager) Commit(ctx context.Context, r Reservation, rawURL string, sidecar *metadata.Sidecar) Result {
	n, err := m.download(ctx, r.Filename, rawURL)
	if err != nil {
		m.release(r)
		return Result{Err: err}
	}

	result := Result{Filename: r.Filename, Bytes: n}
	if sidecar == nil || r.Sidecar == "" {
		return result
	}

	// ref names the file as stored, after collision handling
	doc := *sidecar
	doc.Ref = r.Filename

	mediaPath := filepath.Join(m.dir, r.Filename)
	if _, err := doc.Save(mediaPath); err != nil {
		result.SidecarErr = herrors.Filesystem(err, filepath.Join(m.dir, r.Sidecar))
		return result
	}
	result.SidecarFilename = r.Sidecar
	return result
}

// Store reserves a name and commits the download in one step.
func (m *Manager) Store(ctx context.Context, rawURL, base string, sidecar *metadata.Sidecar) Result {
	r, err := m.Reserve(rawURL, base, sidecar != nil)
	if err != nil {
		return Result{Err: err}
	}
	return m.Commit(ctx, r, rawURL, sidecar)
}

func (m *Manager) download(ctx context.Context, name, rawURL string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, herrors.Cancelled(err)
	}

	body, err := m.fetcher.Open(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	final := filepath.Join(m.dir, name)
	tmp, err := os.CreateTemp(m.dir, "."+name+"-*.part")
	if err != nil {
		return 0, herrors.Filesystem(err, final)
	}
	defer os.Remove(tmp.Name())

	var src io.Reader = body
	if m.maxFileSize > 0 {
		src = io.LimitReader(body, m.maxFileSize+1)
	}

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		var pathErr *fs.PathError
		switch {
		case ctx.Err() != nil:
			return 0, herrors.Cancelled(ctx.Err())
		case errors.As(err, &pathErr):
			return 0, herrors.Filesystem(err, final)
		default:
			return 0, herrors.Transport(err, "failed to read %s", rawURL)
		}
	}
	if m.maxFileSize > 0 && n > m.maxFileSize {
		tmp.Close()
		return 0, herrors.Filesystem(fmt.Errorf("file exceeds max size of %d bytes", m.maxFileSize), final)
	}

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return 0, herrors.Filesystem(err, final)
	}
	if err := tmp.Close(); err != nil {
		return 0, herrors.Filesystem(err, final)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return 0, herrors.Filesystem(err, final)
	}
	return n, nil
}

// FilenameFromURL derives a safe filename from the last path segment of rawURL.
func FilenameFromURL(rawURL string) string {
	var name string
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.EscapedPath())
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	if name == "/" || name == "." {
		name = ""
	}
	return SanitizeFilename(name)
}

// SanitizeFilename replaces path separators, control and reserved characters,
// and strips leading dots so the name stays a visible file inside the export
// directory.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/', r == '\\', unicode.IsControl(r):
			return '_'
		case strings.ContainsRune(`:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)

	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	if name == "" {
		return fallbackName
	}

	const maxLen = 200
	if len(name) > maxLen {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = truncateUTF8(strings.TrimSuffix(name, ext), maxLen-len(ext)) + ext
	}
	return name
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
