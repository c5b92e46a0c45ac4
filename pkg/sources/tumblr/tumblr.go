// Package tumblr harvests photo posts through the Tumblr v1 read API.
package tumblr

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"harvester/pkg/cutoff"
	"harvester/pkg/httpclient"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/sources"
)

// Name is the configuration key of this source.
const Name = "tumblr"

const pageSize = 25

// readResponse mirrors /api/read
type readResponse struct {
	Tumblelog struct {
		Name string `xml:"name,attr"`
	} `xml:"tumblelog"`
	Posts struct {
		Start int    `xml:"start,attr"`
		Total int    `xml:"total,attr"`
		Items []post `xml:"post"`
	} `xml:"posts"`
}

type post struct {
	ID            string     `xml:"id,attr"`
	URL           string     `xml:"url,attr"`
	Type          string     `xml:"type,attr"`
	DateGMT       string     `xml:"date-gmt,attr"`
	UnixTimestamp int64      `xml:"unix-timestamp,attr"`
	Caption       string     `xml:"photo-caption"`
	PhotoURLs     []photoURL `xml:"photo-url"`
}

type photoURL struct {
	MaxWidth int    `xml:"max-width,attr"`
	URL      string `xml:",chardata"`
}

// Adapter reads a blog's photo posts
type Adapter struct {
	client  *httpclient.Client
	baseURL string
	logger  logger.Logger
}

// New builds the adapter. BaseURL, when set, replaces https://<blog>.tumblr.com
// and the blog name is passed as a "blog" query parameter instead.
func New(deps sources.Deps) (sources.Adapter, error) {
	return &Adapter{
		client:  deps.NewClient(),
		baseURL: strings.TrimRight(deps.Config.BaseURL, "/"),
		logger:  deps.Log(),
	}, nil
}

// Name returns the source name
func (a *Adapter) Name() string { return Name }

// Fetch pages through the blog's photo posts newest first
func (a *Adapter) Fetch(ctx context.Context, target models.Target, policy cutoff.Policy) iter.Seq2[models.ContentItem, error] {
	blog := strings.TrimSpace(target.Name)

	return sources.Paginator{
		Source: Name,
		Target: target,
		Policy: policy,
		Start:  "0",
		Fetch: func(ctx context.Context, cursor string) (sources.Page, error) {
			start, _ := strconv.Atoi(cursor)
			return a.page(ctx, blog, start)
		},
		Logger: a.logger,
	}.Seq(ctx)
}

func (a *Adapter) readURL(blog string, start int) string {
	q := url.Values{}
	q.Set("type", "photo")
	q.Set("num", strconv.Itoa(pageSize))
	q.Set("start", strconv.Itoa(start))

	if a.baseURL != "" {
		q.Set("blog", blog)
		return a.baseURL + "/api/read?" + q.Encode()
	}
	return fmt.Sprintf("https://%s.tumblr.com/api/read?%s", url.PathEscape(blog), q.Encode())
}

func (a *Adapter) page(ctx context.Context, blog string, start int) (sources.Page, error) {
	var resp readResponse
	if err := a.client.GetXML(ctx, a.readURL(blog, start), &resp); err != nil {
		return sources.Page{}, err
	}

	author := resp.Tumblelog.Name
	if author == "" {
		author = blog
	}

	page := sources.Page{Items: make([]models.ContentItem, 0, len(resp.Posts.Items))}
	for _, p := range resp.Posts.Items {
		page.Items = append(page.Items, p.toItem(author))
	}

	next := start + len(resp.Posts.Items)
	if len(resp.Posts.Items) > 0 && next < resp.Posts.Total {
		page.Next = strconv.Itoa(next)
	}
	return page, nil
}

func (p post) toItem(author string) models.ContentItem {
	item := models.ContentItem{
		ID:        p.ID,
		Author:    author,
		Timestamp: p.timestamp(),
		OriginURL: p.URL,
		Permalink: p.URL,
		Caption:   captionText(p.Caption),
	}

	if media := p.widestPhoto(); media != "" {
		item.MediaURL = media
		item.Filename = p.ID + sources.Extension(media)
	}
	return item
}

func (p post) timestamp() time.Time {
	if p.UnixTimestamp > 0 {
		return time.Unix(p.UnixTimestamp, 0).UTC()
	}
	ts, err := time.Parse("2006-01-02 15:04:05 MST", p.DateGMT)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func (p post) widestPhoto() string {
	best, width := "", -1
	for _, u := range p.PhotoURLs {
		if strings.TrimSpace(u.URL) != "" && u.MaxWidth > width {
			best, width = strings.TrimSpace(u.URL), u.MaxWidth
		}
	}
	return best
}

// captionText strips the HTML Tumblr stores in captions
func captionText(caption string) string {
	if strings.TrimSpace(caption) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(caption))
	if err != nil {
		return strings.TrimSpace(caption)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
