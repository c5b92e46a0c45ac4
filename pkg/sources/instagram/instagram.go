// Package instagram harvests photos from public Instagram profiles through the
// web profile endpoint and the GraphQL timeline query.
//
// The profile request yields the numeric user id together with the first page
// of media; later pages are requested with the previous page's end_cursor.
// Videos are skipped. Carousel posts contribute one item per photo.
//
// Anonymous access is heavily throttled. Storing session cookies with
// `harvester auth login instagram` (sessionid, csrftoken) lifts most limits.
package instagram

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"harvester/pkg/cutoff"
	herrors "harvester/pkg/errors"
	"harvester/pkg/httpclient"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/ratelimit"
	"harvester/pkg/sources"
)

// Name is the configuration key of this source.
const Name = "instagram"

// hourlyQuota caps requests per hour on top of the per-minute pacing
const hourlyQuota = 200

// Adapter reads profile timelines
type Adapter struct {
	client    *httpclient.Client
	endpoints Endpoints
	logger    logger.Logger
}

// New builds the adapter
func New(deps sources.Deps) (sources.Adapter, error) {
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Chain{
			ratelimit.PerMinute(deps.Config.RequestsPerMinute),
			ratelimit.NewSlidingWindow(hourlyQuota, time.Hour),
		}
	}
	client := deps.NewClient()

	client.SetHeaders(map[string]string{
		"X-IG-App-ID":      WebAppID,
		"X-Requested-With": "XMLHttpRequest",
		"Accept":           "application/json",
	})
	if cookie := sessionCookie(deps.Secrets); cookie != "" {
		client.SetHeader("Cookie", cookie)
		if csrf := deps.Secrets["csrftoken"]; csrf != "" {
			client.SetHeader("X-CSRFToken", csrf)
		}
	}

	return &Adapter{
		client:    client,
		endpoints: Endpoints{BaseURL: deps.Config.BaseURL},
		logger:    deps.Log(),
	}, nil
}

func sessionCookie(secrets map[string]string) string {
	var parts []string
	for _, name := range []string{"sessionid", "csrftoken", "ds_user_id"} {
		if v := secrets[name]; v != "" {
			parts = append(parts, name+"="+v)
		}
	}
	return strings.Join(parts, "; ")
}

// Name returns the source name
func (a *Adapter) Name() string { return Name }

// Fetch walks the profile's timeline newest first
func (a *Adapter) Fetch(ctx context.Context, target models.Target, policy cutoff.Policy) iter.Seq2[models.ContentItem, error] {
	username := SanitizeUsername(target.Name)
	if !IsValidUsername(username) {
		return func(yield func(models.ContentItem, error) bool) {
			err := herrors.Configuration(nil, "invalid instagram username %q", target.Name)
			yield(models.ContentItem{}, herrors.Scope(err, Name, target.Name, ""))
		}
	}

	var userID string
	return sources.Paginator{
		Source: Name,
		Target: target,
		Policy: policy,
		Fetch: func(ctx context.Context, cursor string) (sources.Page, error) {
			if cursor == "" {
				profile, err := a.fetchProfile(ctx, username)
				if err != nil {
					return sources.Page{}, err
				}
				userID = profile.Data.User.ID
				return toPage(profile.Data.User.EdgeOwnerToTimelineMedia, username), nil
			}

			var media MediaResponse
			if err := a.client.GetJSON(ctx, a.endpoints.MediaURL(userID, cursor, DefaultMediaLimit), &media); err != nil {
				return sources.Page{}, err
			}
			return toPage(media.Data.User.EdgeOwnerToTimelineMedia, username), nil
		},
		Logger: a.logger,
	}.Seq(ctx)
}

func (a *Adapter) fetchProfile(ctx context.Context, username string) (*ProfileResponse, error) {
	u := a.endpoints.ProfileURL(username)

	var profile ProfileResponse
	if err := a.client.GetJSON(ctx, u, &profile); err != nil {
		return nil, err
	}
	if profile.RequiresToLogin {
		a.logger.WarnWithFields("authentication required for profile", map[string]interface{}{
			"username": username,
		})
		e := herrors.TransportStatus(http.StatusUnauthorized, u)
		e.Message = "instagram requires a login to view this profile"
		return nil, e
	}
	if profile.Data.User.ID == "" {
		e := herrors.TransportStatus(http.StatusNotFound, u)
		e.Message = "profile not found"
		return nil, e
	}
	return &profile, nil
}

func toPage(media MediaPage, username string) sources.Page {
	var page sources.Page
	for _, edge := range media.Edges {
		page.Items = append(page.Items, nodeItems(edge.Node, username)...)
	}
	if media.PageInfo.HasNextPage {
		page.Next = media.PageInfo.EndCursor
	}
	return page
}

// nodeItems expands one timeline node. Videos yield a media-less item so they
// still occupy their position in the sequence.
func nodeItems(n Node, username string) []models.ContentItem {
	author := n.Owner.Username
	if author == "" {
		author = username
	}
	base := models.ContentItem{
		ID:        n.Shortcode,
		PostID:    n.Shortcode,
		Author:    author,
		Timestamp: n.TakenAt(),
		OriginURL: PostURL(n.Shortcode),
		Permalink: PostURL(n.Shortcode),
		Caption:   n.Caption(),
		Score:     n.EdgeLikedBy.Count,
	}

	if n.EdgeSidecarToChildren == nil || len(n.EdgeSidecarToChildren.Edges) == 0 {
		if !n.IsVideo {
			base.MediaURL = n.DisplayURL
			base.Filename = n.Shortcode + ".jpg"
		}
		return []models.ContentItem{base}
	}

	var items []models.ContentItem
	for i, child := range n.EdgeSidecarToChildren.Edges {
		item := base
		item.ID = fmt.Sprintf("%s-%d", n.Shortcode, i+1)
		if !child.Node.IsVideo {
			item.MediaURL = child.Node.DisplayURL
			item.Filename = fmt.Sprintf("%s_%d.jpg", n.Shortcode, i+1)
		}
		items = append(items, item)
	}
	return items
}
