package instagram

import "time"

// ProfileResponse is returned by the web profile endpoint
type ProfileResponse struct {
	RequiresToLogin bool   `json:"requires_to_login"`
	Data            Data   `json:"data"`
	Status          string `json:"status"`
}

// MediaResponse is returned by the GraphQL timeline query
type MediaResponse struct {
	Data   Data   `json:"data"`
	Status string `json:"status"`
}

// Data wraps the user information in the response
type Data struct {
	User User `json:"user"`
}

// User represents an Instagram user profile
type User struct {
	ID                       string    `json:"id"`
	Username                 string    `json:"username"`
	EdgeOwnerToTimelineMedia MediaPage `json:"edge_owner_to_timeline_media"`
}

// MediaPage is one page of a user's timeline
type MediaPage struct {
	Count    int      `json:"count"`
	PageInfo PageInfo `json:"page_info"`
	Edges    []Edge   `json:"edges"`
}

// PageInfo contains pagination information
type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

// Edge wraps a single media node
type Edge struct {
	Node Node `json:"node"`
}

// Node represents a single media item (photo, video or carousel)
type Node struct {
	ID               string `json:"id"`
	Typename         string `json:"__typename"`
	Shortcode        string `json:"shortcode"`
	DisplayURL       string `json:"display_url"`
	IsVideo          bool   `json:"is_video"`
	TakenAtTimestamp int64  `json:"taken_at_timestamp"`
	Owner            struct {
		Username string `json:"username"`
	} `json:"owner"`
	EdgeMediaToCaption struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	EdgeLikedBy struct {
		Count int `json:"count"`
	} `json:"edge_liked_by"`
	EdgeSidecarToChildren *struct {
		Edges []Edge `json:"edges"`
	} `json:"edge_sidecar_to_children,omitempty"`
}

// TakenAt returns the post time in UTC
func (n Node) TakenAt() time.Time {
	return time.Unix(n.TakenAtTimestamp, 0).UTC()
}

// Caption returns the first caption edge, if any
func (n Node) Caption() string {
	if len(n.EdgeMediaToCaption.Edges) == 0 {
		return ""
	}
	return n.EdgeMediaToCaption.Edges[0].Node.Text
}
