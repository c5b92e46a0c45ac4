package instagram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the web origin used when no base_url is configured
	DefaultBaseURL = "https://www.instagram.com"

	// ProfileEndpoint returns the user id and the first page of media
	ProfileEndpoint = "/api/v1/users/web_profile_info/"

	// MediaEndpoint serves later pages of a user's timeline
	MediaEndpoint = "/graphql/query/"

	// MediaQueryHash selects the timeline media query
	MediaQueryHash = "e769aa130647d2354c40ea6a439bfc08"

	// WebAppID is sent as X-IG-App-ID; the profile endpoint rejects requests without it
	WebAppID = "936619743392459"

	// DefaultMediaLimit is the default number of media items to fetch per request
	DefaultMediaLimit = 12

	// MaxMediaLimit is the maximum number of media items that can be fetched per request
	MaxMediaLimit = 50
)

// Endpoints builds request URLs against one origin.
type Endpoints struct {
	BaseURL string
}

// ProfileURL constructs the URL for fetching a user's profile
func (e Endpoints) ProfileURL(username string) string {
	params := url.Values{}
	params.Set("username", username)
	return fmt.Sprintf("%s%s?%s", e.base(), ProfileEndpoint, params.Encode())
}

// MediaURL constructs the URL for one page of a user's media
func (e Endpoints) MediaURL(userID, after string, limit int) string {
	if limit <= 0 {
		limit = DefaultMediaLimit
	} else if limit > MaxMediaLimit {
		limit = MaxMediaLimit
	}

	variables, _ := json.Marshal(struct {
		ID    string `json:"id"`
		First int    `json:"first"`
		After string `json:"after,omitempty"`
	}{userID, limit, after})

	params := url.Values{}
	params.Set("query_hash", MediaQueryHash)
	params.Set("variables", string(variables))
	return fmt.Sprintf("%s%s?%s", e.base(), MediaEndpoint, params.Encode())
}

// PostURL constructs the public URL of a post
func PostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", DefaultBaseURL, shortcode)
}

func (e Endpoints) base() string {
	if e.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(e.BaseURL, "/")
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}
	return true
}

// SanitizeUsername strips a leading @ and trailing slashes or spaces
func SanitizeUsername(username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	return strings.TrimRight(username, "/ ")
}
