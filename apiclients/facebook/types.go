package facebook

import (
	"encoding/json"
	"fmt"
)

// Post is a single entry in a page feed listing.
type Post struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	CreatedTime string `json:"created_time"`
}

// FeedResponse is the envelope returned by the /{page-id}/posts endpoint.
type FeedResponse struct {
	Data   []Post `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// SummaryCount holds an aggregate count, as returned for reactions and
// comments when requested with `.summary(true)`.
type SummaryCount struct {
	Summary struct {
		TotalCount int `json:"total_count"`
	} `json:"summary"`
}

// Shares holds the share count of a post.
type Shares struct {
	Count int `json:"count"`
}

// Media is the media element of an attachment.
type Media struct {
	Image struct {
		Src string `json:"src"`
	} `json:"image"`
	Source string `json:"source"`
}

// Attachment is a single attachment of a post.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Media     Media  `json:"media"`
	URL       string `json:"url"`
}

// PostDetail is the enrichment detail for a single post. All fields are
// optional on the wire; the zero value is a valid "no detail" result.
type PostDetail struct {
	ID          string `json:"id"`
	Attachments struct {
		Data []Attachment `json:"data"`
	} `json:"attachments"`
	PermalinkURL string       `json:"permalink_url"`
	Reactions    SummaryCount `json:"reactions"`
	Comments     SummaryCount `json:"comments"`
	Shares       Shares       `json:"shares"`
}

// FlexValue is a Graph insights metric value which may be either a scalar
// number or a breakdown map (for example post_clicks_by_type or
// page_fans_gender_age). Absent or null values decode to the zero value.
type FlexValue struct {
	Number    float64
	Breakdown map[string]float64
}

// UnmarshalJSON decodes either a JSON number or an object of numbers.
func (f *FlexValue) UnmarshalJSON(data []byte) error {
	*f = FlexValue{}
	if string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, &f.Number); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, &f.Breakdown); err == nil {
		return nil
	}
	return fmt.Errorf("unexpected insight value %s", string(data))
}

// Int returns the scalar value as an int.
func (f FlexValue) Int() int {
	return int(f.Number)
}

// Lookup returns the first breakdown value found under the provided keys.
// The Graph API is inconsistent about key spellings (for example both
// "photo_view" and "photo view" occur), so several keys may be tried.
func (f FlexValue) Lookup(keys ...string) int {
	for _, k := range keys {
		if v, ok := f.Breakdown[k]; ok {
			return int(v)
		}
	}
	return 0
}

// MetricValue is a single dated value of an insights metric.
type MetricValue struct {
	Value   FlexValue `json:"value"`
	EndTime string    `json:"end_time"`
}

// Metric is a named insights metric with its values.
type Metric struct {
	Name        string        `json:"name"`
	Period      string        `json:"period"`
	Values      []MetricValue `json:"values"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	ID          string        `json:"id"`
}

// InsightsResponse is the envelope returned by the /insights endpoints.
type InsightsResponse struct {
	Data []Metric `json:"data"`
}

// PageProfile holds the profile fields of a page, including the
// page-specific access token when the calling token is permitted to read
// it.
type PageProfile struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Username           string `json:"username"`
	AccessToken        string `json:"access_token"`
	FollowersCount     int    `json:"followers_count"`
	FanCount           int    `json:"fan_count"`
	Category           string `json:"category"`
	VerificationStatus string `json:"verification_status"`
}

// TokenOwner identifies the principal behind an access token, as returned
// by the /me endpoint.
type TokenOwner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIError is a structured Graph API error response. It is returned for
// any non-2xx upstream response so callers can surface the upstream
// message.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
}

// Error fulfils the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("graph api error (status %d): %s", e.StatusCode, e.Message)
}

// graphErrorEnvelope is the wire shape of a Graph API error.
type graphErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}
