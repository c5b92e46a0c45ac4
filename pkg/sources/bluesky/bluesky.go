// Package bluesky harvests images from an account's author feed through the
// public AT Protocol AppView.
package bluesky

import (
	"context"
	"iter"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"harvester/pkg/cutoff"
	"harvester/pkg/httpclient"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/sources"
)

// Name is the configuration key of this source.
const Name = "bluesky"

const (
	pageSize   = 50
	feedMethod = "/xrpc/app.bsky.feed.getAuthorFeed"
	profileURL = "https://bsky.app/profile/"

	reasonRepost   = "app.bsky.feed.defs#reasonRepost"
	embedImages    = "app.bsky.embed.images#view"
	embedWithMedia = "app.bsky.embed.recordWithMedia#view"
)

type feedResponse struct {
	Cursor string     `json:"cursor"`
	Feed   []feedItem `json:"feed"`
}

type feedItem struct {
	Post   feedPost `json:"post"`
	Reason *struct {
		Type string `json:"$type"`
	} `json:"reason,omitempty"`
}

type feedPost struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	} `json:"author"`
	Record struct {
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"createdAt"`
	} `json:"record"`
	Embed     *embed    `json:"embed,omitempty"`
	IndexedAt time.Time `json:"indexedAt"`
	LikeCount int       `json:"likeCount"`
}

type embed struct {
	Type   string       `json:"$type"`
	Images []embedImage `json:"images"`
	Media  *embed       `json:"media,omitempty"`
}

type embedImage struct {
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt"`
}

// Adapter reads author feeds
type Adapter struct {
	client      *httpclient.Client
	baseURL     string
	includePins bool
	logger      logger.Logger
}

// New builds the adapter
func New(deps sources.Deps) (sources.Adapter, error) {
	base := strings.TrimRight(deps.Config.BaseURL, "/")
	if base == "" {
		base = "https://public.api.bsky.app"
	}
	client := deps.NewClient()
	client.SetHeader("Accept", "application/json")

	return &Adapter{
		client:      client,
		baseURL:     base,
		includePins: deps.Config.IncludePins,
		logger:      deps.Log(),
	}, nil
}

// Name returns the source name
func (a *Adapter) Name() string { return Name }

// Fetch pages through the author feed of the handle in target.Name.
func (a *Adapter) Fetch(ctx context.Context, target models.Target, policy cutoff.Policy) iter.Seq2[models.ContentItem, error] {
	actor := strings.TrimPrefix(strings.TrimSpace(target.Name), "@")

	return sources.Paginator{
		Source: Name,
		Target: target,
		Policy: policy,
		Fetch: func(ctx context.Context, cursor string) (sources.Page, error) {
			return a.page(ctx, actor, cursor)
		},
		Logger: a.logger,
	}.Seq(ctx)
}

func (a *Adapter) feedURL(actor, cursor string) string {
	q := url.Values{}
	q.Set("actor", actor)
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("includePins", strconv.FormatBool(a.includePins))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return a.baseURL + feedMethod + "?" + q.Encode()
}

func (a *Adapter) page(ctx context.Context, actor, cursor string) (sources.Page, error) {
	var resp feedResponse
	if err := a.client.GetJSON(ctx, a.feedURL(actor, cursor), &resp); err != nil {
		return sources.Page{}, err
	}

	page := sources.Page{Next: resp.Cursor}
	for _, fi := range resp.Feed {
		// reposts carry someone else's timestamps and would end the walk early
		if fi.Reason != nil && fi.Reason.Type == reasonRepost {
			continue
		}
		page.Items = append(page.Items, fi.Post.items()...)
	}
	return page, nil
}

// items returns one item per attached image, or a single media-less item so
// the post still counts toward the pinned-item position.
func (p feedPost) items() []models.ContentItem {
	rkey := path.Base(p.URI)
	link := profileURL + p.Author.Handle + "/post/" + rkey

	ts := p.Record.CreatedAt
	if ts.IsZero() {
		ts = p.IndexedAt
	}

	base := models.ContentItem{
		ID:        rkey,
		PostID:    rkey,
		Author:    p.Author.Handle,
		Timestamp: ts.UTC(),
		OriginURL: link,
		Permalink: link,
		Caption:   p.Record.Text,
		Score:     p.LikeCount,
	}

	images := p.images()
	if len(images) == 0 {
		return []models.ContentItem{base}
	}

	out := make([]models.ContentItem, 0, len(images))
	for i, img := range images {
		item := base
		item.ID = rkey + "-" + strconv.Itoa(i)
		item.MediaURL = img.Fullsize
		item.Filename = blobFilename(img.Fullsize)
		out = append(out, item)
	}
	return out
}

func (p feedPost) images() []embedImage {
	if p.Embed == nil {
		return nil
	}
	switch p.Embed.Type {
	case embedImages:
		return p.Embed.Images
	case embedWithMedia:
		if p.Embed.Media != nil && p.Embed.Media.Type == embedImages {
			return p.Embed.Media.Images
		}
	}
	return nil
}

// blobFilename turns ".../plain/<did>/<cid>@jpeg" into "<cid>.jpeg".
func blobFilename(fullsize string) string {
	name := sources.BaseName(fullsize)
	if name == "" {
		return ""
	}
	if cid, format, ok := strings.Cut(name, "@"); ok && cid != "" && format != "" {
		return cid + "." + format
	}
	return name
}
