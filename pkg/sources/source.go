package sources

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"harvester/pkg/config"
	"harvester/pkg/cutoff"
	"harvester/pkg/httpclient"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/ratelimit"
	"harvester/pkg/retry"
)

// Adapter produces the content items of one target, newest first.
//
// The returned sequence is lazy: nothing is requested until it is ranged
// over, and breaking out of the loop stops pagination. A failure is yielded
// once as a non-nil error and ends the sequence; items yielded before it
// remain valid.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, target models.Target, policy cutoff.Policy) iter.Seq2[models.ContentItem, error]
}

// Deps carries everything an adapter factory may need.
type Deps struct {
	Config  config.SourceConfig
	Timeout time.Duration
	Retry   *retry.Config
	Logger  logger.Logger
	// Secrets holds stored credentials for the configured account, if any.
	Secrets map[string]string
	// Limiter replaces the per-minute limiter built from Config when set.
	Limiter ratelimit.Limiter
	// Transport overrides the network layer when set.
	Transport http.RoundTripper
}

// NewClient builds the paced HTTP client an adapter uses for its pages.
func (d Deps) NewClient() *httpclient.Client {
	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.PerMinute(d.Config.RequestsPerMinute)
	}
	opts := []httpclient.Option{
		httpclient.WithLimiter(limiter),
		httpclient.WithRetry(d.Retry),
		httpclient.WithLogger(d.Logger),
		httpclient.WithUserAgent(d.Config.UserAgent),
	}
	if d.Transport != nil {
		opts = append(opts, httpclient.WithTransport(d.Transport))
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return httpclient.New(timeout, opts...)
}

// Log returns the adapter logger, never nil.
func (d Deps) Log() logger.Logger {
	if d.Logger == nil {
		return logger.NewNopLogger()
	}
	return d.Logger
}

// Factory builds an adapter
type Factory func(Deps) (Adapter, error)

// Registry maps source names to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the adapter registered under name.
func (r *Registry) New(name string, deps Deps) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", name)
	}
	return f(deps)
}

// Names lists registered sources in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extension returns the lower-cased file extension of a media URL's path,
// ignoring query strings and fragments.
func Extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(path.Ext(rawURL))
	}
	return strings.ToLower(path.Ext(u.Path))
}

// BaseName returns the last path segment of a media URL.
func BaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}
