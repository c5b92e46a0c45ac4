// Package forum harvests images posted in SMF forum threads such as TIGSource
// devlogs.
//
// A thread is read from its last page backward. SMF clamps an oversized
// offset to the last page, so the first request asks for offset 65536 and
// every later request steps back one page from the smallest reply number
// seen. Pages overlap near the start of the thread; replies already emitted
// are dropped.
package forum

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"harvester/pkg/cutoff"
	herrors "harvester/pkg/errors"
	"harvester/pkg/httpclient"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/sources"
)

// Name is the configuration key of this source.
const Name = "tigsource"

const (
	lastPageOffset = 1 << 16
	postsPerPage   = 20
)

var (
	replyPattern = regexp.MustCompile(`Reply #(\d+) on:`)
	datePattern  = regexp.MustCompile(`([A-Z][a-z]{2,8} \d{1,2}, \d{4})(?:, (\d{1,2}:\d{2}:\d{2} [AP]M))?`)
	todayPattern = regexp.MustCompile(`Today\s*at\s*(\d{1,2}:\d{2}:\d{2} [AP]M)`)
)

// Adapter reads forum topics
type Adapter struct {
	client *httpclient.Client
	base   *url.URL
	logger logger.Logger
	now    func() time.Time
}

// New builds the adapter against the configured forum base URL.
func New(deps sources.Deps) (sources.Adapter, error) {
	raw := deps.Config.BaseURL
	if raw == "" {
		raw = "https://forums.tigsource.com"
	}
	base, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil {
		return nil, herrors.Configuration(err, "invalid forum base URL %q", raw)
	}

	return &Adapter{
		client: deps.NewClient(),
		base:   base,
		logger: deps.Log(),
		now:    time.Now,
	}, nil
}

// Name returns the source name
func (a *Adapter) Name() string { return Name }

// Fetch walks the topic named by target from its newest reply backward.
func (a *Adapter) Fetch(ctx context.Context, target models.Target, policy cutoff.Policy) iter.Seq2[models.ContentItem, error] {
	topic := strings.TrimSpace(target.Name)
	seen := make(map[int]bool)

	return sources.Paginator{
		Source: Name,
		Target: target,
		Policy: policy,
		Start:  strconv.Itoa(lastPageOffset),
		Fetch: func(ctx context.Context, cursor string) (sources.Page, error) {
			return a.page(ctx, topic, cursor, seen)
		},
		Logger: a.logger,
	}.Seq(ctx)
}

// post is one reply on a topic page
type post struct {
	reply     int
	author    string
	timestamp time.Time
	permalink string
	text      string
	images    []string
}

func (a *Adapter) topicURL(topic, offset string) string {
	ref := &url.URL{Path: "index.php", RawQuery: "topic=" + topic + "." + offset}
	return a.base.ResolveReference(ref).String()
}

func (a *Adapter) page(ctx context.Context, topic, offset string, seen map[int]bool) (sources.Page, error) {
	pageURL := a.topicURL(topic, offset)
	body, err := a.client.Fetch(ctx, pageURL)
	if err != nil {
		return sources.Page{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return sources.Page{}, herrors.Transport(err, "failed to parse %s", pageURL)
	}

	posts := a.parsePosts(doc)
	if len(posts) == 0 {
		return sources.Page{}, nil
	}

	minReply := posts[0].reply
	var page sources.Page
	for i := len(posts) - 1; i >= 0; i-- {
		p := posts[i]
		if p.reply < minReply {
			minReply = p.reply
		}
		if seen[p.reply] {
			continue
		}
		seen[p.reply] = true

		page.Items = append(page.Items, p.items(topic)...)
	}

	if minReply > 0 {
		page.Next = strconv.Itoa(max(minReply-postsPerPage, 0))
	}
	return page, nil
}

// items returns one item per image. A reply without images still yields a
// media-less item so the cutoff sees its date.
func (p post) items(topic string) []models.ContentItem {
	base := models.ContentItem{
		ID:        fmt.Sprintf("%s-%d", topic, p.reply),
		PostID:    fmt.Sprintf("%s-%d", topic, p.reply),
		Author:    p.author,
		Timestamp: p.timestamp,
		Caption:   p.text,
		Permalink: p.permalink,
	}
	if len(p.images) == 0 {
		return []models.ContentItem{base}
	}

	out := make([]models.ContentItem, 0, len(p.images))
	for n, img := range p.images {
		item := base
		item.ID = fmt.Sprintf("%s-%d", base.PostID, n)
		item.OriginURL = img
		item.MediaURL = img
		out = append(out, item)
	}
	return out
}

// parsePosts returns the replies on a page in document order.
func (a *Adapter) parsePosts(doc *goquery.Document) []post {
	var posts []post
	doc.Find("div.post").Each(func(_ int, sel *goquery.Selection) {
		container := sel.Parent()
		header := container.Find("div.smalltext").First().Text()

		ts, ok := a.parseDate(header)
		if !ok {
			return
		}

		p := post{
			reply:     parseReply(header),
			timestamp: ts,
			author:    strings.TrimSpace(sel.Closest("tr").Find(`a[title^="View the profile"]`).First().Text()),
			text:      strings.TrimSpace(sel.Text()),
		}
		if href, ok := container.Find(`div[id^="subject_"] a`).First().Attr("href"); ok {
			p.permalink = a.resolve(href)
		}

		sel.Find("img").Each(func(_ int, img *goquery.Selection) {
			src, ok := img.Attr("src")
			if !ok || src == "" || strings.Contains(src, "/Smileys/") {
				return
			}
			p.images = append(p.images, a.resolve(src))
		})
		posts = append(posts, p)
	})
	return posts
}

// resolve makes relative and protocol-relative links absolute.
func (a *Adapter) resolve(ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	resolved := a.base.ResolveReference(u)
	if strings.HasPrefix(ref, "//") && a.base.Scheme == "http" {
		resolved.Scheme = "https"
	}
	return resolved.String()
}

func parseReply(header string) int {
	m := replyPattern.FindStringSubmatch(header)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// parseDate reads "March 10, 2024, 08:15:33 PM", "March 10, 2024" or
// "Today at 08:15:33 PM". Forum times are taken as UTC.
func (a *Adapter) parseDate(header string) (time.Time, bool) {
	if m := todayPattern.FindStringSubmatch(header); m != nil {
		clock, err := time.Parse("3:04:05 PM", m[1])
		if err != nil {
			return time.Time{}, false
		}
		y, mo, d := a.now().UTC().Date()
		return time.Date(y, mo, d, clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC), true
	}

	m := datePattern.FindStringSubmatch(header)
	if m == nil {
		return time.Time{}, false
	}
	if m[2] != "" {
		ts, err := time.Parse("January 2, 2006 3:04:05 PM", m[1]+" "+m[2])
		return ts, err == nil
	}
	ts, err := time.Parse("January 2, 2006", m[1])
	return ts, err == nil
}
