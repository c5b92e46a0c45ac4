package bluesky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/config"
	"harvester/pkg/cutoff"
	"harvester/pkg/models"
	"harvester/pkg/sources"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func entry(rkey string, age time.Duration, reason string, images ...string) map[string]interface{} {
	post := map[string]interface{}{
		"uri":       "at://did:plc:abc/app.bsky.feed.post/" + rkey,
		"cid":       "cid-" + rkey,
		"author":    map[string]interface{}{"did": "did:plc:abc", "handle": "alice.bsky.social"},
		"record":    map[string]interface{}{"$type": "app.bsky.feed.post", "text": "post " + rkey, "createdAt": now.Add(-age).Format(time.RFC3339)},
		"indexedAt": now.Add(-age).Format(time.RFC3339),
		"likeCount": 3,
	}
	if len(images) > 0 {
		var imgs []map[string]interface{}
		for _, u := range images {
			imgs = append(imgs, map[string]interface{}{"fullsize": u, "alt": ""})
		}
		post["embed"] = map[string]interface{}{"$type": embedImages, "images": imgs}
	}

	e := map[string]interface{}{"post": post}
	if reason != "" {
		e["reason"] = map[string]interface{}{"$type": reason}
	}
	return e
}

func TestFetchAuthorFeed(t *testing.T) {
	day := 24 * time.Hour
	var cursors []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, feedMethod, r.URL.Path)
		assert.Equal(t, "alice.bsky.social", r.URL.Query().Get("actor"))
		assert.Equal(t, "true", r.URL.Query().Get("includePins"))
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)

		var body map[string]interface{}
		switch cursor {
		case "":
			body = map[string]interface{}{
				"cursor": "c1",
				"feed": []interface{}{
					entry("pinned", 90*day, "app.bsky.feed.defs#reasonPin", "https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/bafpin@jpeg"),
					entry("two", time.Hour, "",
						"https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/bafone@jpeg",
						"https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/baftwo@png"),
					entry("boost", 400*day, reasonRepost, "https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:zzz/bafold@jpeg"),
					entry("text", 2*day, ""),
				},
			}
		case "c1":
			body = map[string]interface{}{
				"cursor": "c2",
				"feed": []interface{}{
					entry("three", 3*day, "", "https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/bafthree@jpeg"),
					entry("stale", 8*day, "", "https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/bafstale@jpeg"),
				},
			}
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	a, err := New(sources.Deps{Config: config.SourceConfig{BaseURL: server.URL, IncludePins: true}})
	require.NoError(t, err)

	var items []models.ContentItem
	for item, err := range a.Fetch(context.Background(), models.Target{Name: "@alice.bsky.social"}, cutoff.New(now, 7)) {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 3)
	assert.Equal(t, "two-0", items[0].ID)
	assert.Equal(t, "bafone.jpeg", items[0].Filename)
	assert.Equal(t, "baftwo.png", items[1].Filename)
	assert.Equal(t, "https://bsky.app/profile/alice.bsky.social/post/two", items[0].Permalink)
	assert.Equal(t, "post two", items[0].Caption)
	assert.Equal(t, "alice.bsky.social", items[0].Author)
	assert.Equal(t, "three-0", items[2].ID)
	assert.Equal(t, []string{"", "c1"}, cursors)
}

func TestRecordWithMediaImages(t *testing.T) {
	p := feedPost{
		URI: "at://did:plc:abc/app.bsky.feed.post/q1",
		Embed: &embed{
			Type: embedWithMedia,
			Media: &embed{
				Type:   embedImages,
				Images: []embedImage{{Fullsize: "https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/bafq@jpeg"}},
			},
		},
	}
	items := p.items()
	require.Len(t, items, 1)
	assert.Equal(t, "bafq.jpeg", items[0].Filename)
}

func TestBlobFilename(t *testing.T) {
	assert.Equal(t, "bafx.webp", blobFilename("https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/bafx@webp"))
	assert.Equal(t, "plain.jpg", blobFilename("https://example.com/plain.jpg"))
	assert.Equal(t, "", blobFilename("https://example.com/"))
}

func TestPinnedPostWithSeveralImages(t *testing.T) {
	day := 24 * time.Hour
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"feed": []interface{}{
				entry("pinned", 90*day, "app.bsky.feed.defs#reasonPin",
					"https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/bafpin1@jpeg",
					"https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/bafpin2@jpeg"),
				entry("fresh", time.Hour, "", "https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:abc/baffresh@jpeg"),
			},
		})
	}))
	defer server.Close()

	a, err := New(sources.Deps{Config: config.SourceConfig{BaseURL: server.URL, IncludePins: true}})
	require.NoError(t, err)

	var items []models.ContentItem
	for item, err := range a.Fetch(context.Background(), models.Target{Name: "alice.bsky.social"}, cutoff.New(now, 7)) {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 1)
	assert.Equal(t, "baffresh.jpeg", items[0].Filename)
	assert.Equal(t, "fresh", items[0].PostID)
}
