// Package reddit harvests image and video links from subreddit "new" listings.
package reddit

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"strings"

	"github.com/loganintech/go-reddit/v2/reddit"

	"harvester/pkg/cutoff"
	herrors "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/retry"
	"harvester/pkg/sources"
)

// Name is the configuration key of this source.
const Name = "reddit"

const (
	pageSize    = 25
	siteURL     = "https://www.reddit.com"
	gfycatMedia = "https://zippy.gfycat.com/"
)

// Adapter pages through /r/<sub>/new with the listing "after" cursor.
type Adapter struct {
	client *reddit.Client
	retry  *retry.Config
	logger logger.Logger
}

// New builds the adapter. Stored credentials (client_id, client_secret,
// username, password) switch it from the read-only client to OAuth.
func New(deps sources.Deps) (sources.Adapter, error) {
	// go-reddit installs its own transports on the client it is given
	httpClient := *deps.NewClient().HTTPClient()

	opts := []reddit.Opt{reddit.WithHTTPClient(&httpClient)}
	if ua := deps.Config.UserAgent; ua != "" {
		opts = append(opts, reddit.WithUserAgent(ua))
	}
	if base := deps.Config.BaseURL; base != "" {
		opts = append(opts, reddit.WithBaseURL(base))
	}

	var (
		client *reddit.Client
		err    error
	)
	if id := deps.Secrets["client_id"]; id != "" {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       id,
			Secret:   deps.Secrets["client_secret"],
			Username: deps.Secrets["username"],
			Password: deps.Secrets["password"],
		}, opts...)
	} else {
		client, err = reddit.NewReadonlyClient(opts...)
	}
	if err != nil {
		return nil, herrors.Configuration(err, "failed to create reddit client")
	}

	r := deps.Retry
	if r == nil {
		r = retry.DefaultConfig()
	}
	return &Adapter{client: client, retry: r, logger: deps.Log()}, nil
}

// Name returns the source name
func (a *Adapter) Name() string { return Name }

// Fetch lists the subreddit newest first
func (a *Adapter) Fetch(ctx context.Context, target models.Target, policy cutoff.Policy) iter.Seq2[models.ContentItem, error] {
	sub := strings.TrimPrefix(strings.TrimSpace(target.Name), "r/")

	return sources.Paginator{
		Source: Name,
		Target: target,
		Policy: policy.ForTarget(target),
		Fetch: func(ctx context.Context, after string) (sources.Page, error) {
			return retry.DoWithResult(ctx, func(ctx context.Context) (sources.Page, error) {
				return a.page(ctx, sub, after)
			}, a.retry)
		},
		Logger: a.logger,
	}.Seq(ctx)
}

func (a *Adapter) page(ctx context.Context, sub, after string) (sources.Page, error) {
	posts, resp, err := a.client.Subreddit.NewPosts(ctx, sub, &reddit.ListOptions{
		Limit: pageSize,
		After: after,
	})
	if err != nil {
		return sources.Page{}, classify(ctx, err)
	}

	page := sources.Page{Items: make([]models.ContentItem, 0, len(posts))}
	for _, p := range posts {
		page.Items = append(page.Items, toItem(p))
	}
	if resp != nil {
		page.Next = resp.After
	}
	return page, nil
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return herrors.Cancelled(ctxErr)
	}
	var apiErr *reddit.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		where := "reddit"
		if apiErr.Response.Request != nil {
			where = apiErr.Response.Request.URL.String()
		}
		e := herrors.TransportStatus(apiErr.Response.StatusCode, where)
		e.Err = err
		return e
	}
	return herrors.Transport(err, "reddit listing request failed")
}

func toItem(p *reddit.Post) models.ContentItem {
	item := models.ContentItem{
		ID:        p.ID,
		Author:    p.Author,
		OriginURL: p.URL,
		Caption:   p.Title,
		Permalink: permalink(p.Permalink),
		Score:     p.Score,
	}
	if p.Created != nil {
		item.Timestamp = p.Created.Time.UTC()
	}
	if p.IsSelfPost {
		return item
	}

	item.MediaURL = RewriteMediaURL(p.URL)
	if ext := sources.Extension(item.MediaURL); ext != "" {
		item.Filename = p.ID + ext
	}
	return item
}

func permalink(p string) string {
	if strings.HasPrefix(p, "/") {
		return siteURL + p
	}
	return p
}

// RewriteMediaURL turns page links into directly downloadable media:
// gfycat pages become their webm file and .gifv becomes .mp4.
func RewriteMediaURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host == "gfycat.com" {
		name := strings.Trim(u.Path, "/")
		if name != "" && !strings.Contains(name, "/") {
			return gfycatMedia + name + ".webm"
		}
	}

	if strings.HasSuffix(strings.ToLower(u.Path), ".gifv") {
		u.Path = u.Path[:len(u.Path)-len(".gifv")] + ".mp4"
		return u.String()
	}
	return raw
}
