package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-querystring/query"
)

// DefaultAPIVersion sets out the currently supported Graph API version
// used for this client.
const DefaultAPIVersion = "v21.0"

// feedFields are the fields requested for each post in a feed listing.
const feedFields = "id,message,created_time"

// detailFields are the fields requested for the best-effort per-post
// detail call.
const detailFields = "attachments,permalink_url,reactions.summary(true),comments.summary(true),shares"

// postMetrics is the fixed per-post insights metric set.
const postMetrics = "post_impressions,post_impressions_unique,post_engaged_users," +
	"post_clicks,post_clicks_by_type,post_reactions_by_type_total," +
	"post_negative_feedback,post_video_views"

// profileFields are the fields requested for a page profile.
const profileFields = "id,name,username,access_token,followers_count,fan_count,category,verification_status"

// Client is a wrapper for making calls to the Facebook Graph API. Access
// tokens are supplied per call since the credential in use may differ per
// page.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
	log        *slog.Logger
}

// NewClient returns a Graph API client for the given base URL and version.
// An empty version selects DefaultAPIVersion.
func NewClient(baseURL, apiVersion string, logger *slog.Logger) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiVersion: apiVersion,
		log:        logger,
	}
}

// feedOptions are the query parameters for a feed listing.
type feedOptions struct {
	Fields      string `url:"fields"`
	Limit       int    `url:"limit"`
	AccessToken string `url:"access_token"`
}

// fieldOptions are the query parameters for a plain fields request.
type fieldOptions struct {
	Fields      string `url:"fields"`
	AccessToken string `url:"access_token"`
}

// insightOptions are the query parameters for an insights request. Since
// and Until are unix timestamps; zero values are omitted.
type insightOptions struct {
	Metric      string `url:"metric"`
	Period      string `url:"period,omitempty"`
	Since       string `url:"since,omitempty"`
	Until       string `url:"until,omitempty"`
	AccessToken string `url:"access_token"`
}

// GetFeed fetches up to limit recent posts from the page feed. A non-2xx
// upstream response is returned as an *APIError carrying the upstream
// message; the caller treats this as fatal.
func (c *Client) GetFeed(ctx context.Context, pageID, token string, limit int) ([]Post, error) {
	opts := feedOptions{
		Fields:      feedFields,
		Limit:       limit,
		AccessToken: token,
	}
	var response FeedResponse
	if err := c.get(ctx, fmt.Sprintf("%s/posts", pageID), opts, &response); err != nil {
		return nil, fmt.Errorf("feed fetch for page %s: %w", pageID, err)
	}
	c.log.Debug("feed fetched", "page", pageID, "posts", len(response.Data))
	return response.Data, nil
}

// GetPostDetail fetches attachment, permalink and engagement summary
// detail for a single post. Failures here are expected to be swallowed by
// the caller.
func (c *Client) GetPostDetail(ctx context.Context, postID, token string) (*PostDetail, error) {
	opts := fieldOptions{
		Fields:      detailFields,
		AccessToken: token,
	}
	var detail PostDetail
	if err := c.get(ctx, postID, opts, &detail); err != nil {
		return nil, fmt.Errorf("detail fetch for post %s: %w", postID, err)
	}
	return &detail, nil
}

// GetPostInsights fetches the fixed per-post metric set. The insights
// endpoint commonly 400s for very recent posts; the caller treats any
// error as "not yet available".
func (c *Client) GetPostInsights(ctx context.Context, postID, token string) ([]Metric, error) {
	opts := insightOptions{
		Metric:      postMetrics,
		AccessToken: token,
	}
	var response InsightsResponse
	if err := c.get(ctx, fmt.Sprintf("%s/insights", postID), opts, &response); err != nil {
		return nil, fmt.Errorf("insights fetch for post %s: %w", postID, err)
	}
	return response.Data, nil
}

// GetPageInsights fetches the named page metrics with period=day over the
// [since, until] window.
func (c *Client) GetPageInsights(ctx context.Context, pageID, token, metrics string, since, until time.Time) ([]Metric, error) {
	opts := insightOptions{
		Metric:      metrics,
		Period:      "day",
		Since:       fmt.Sprintf("%d", since.Unix()),
		Until:       fmt.Sprintf("%d", until.Unix()),
		AccessToken: token,
	}
	var response InsightsResponse
	if err := c.get(ctx, fmt.Sprintf("%s/insights", pageID), opts, &response); err != nil {
		return nil, fmt.Errorf("page insights fetch for page %s: %w", pageID, err)
	}
	return response.Data, nil
}

// GetPageLifetimeInsights fetches the named lifetime metrics, used for
// the audience demographic breakdowns.
func (c *Client) GetPageLifetimeInsights(ctx context.Context, pageID, token, metrics string) ([]Metric, error) {
	opts := insightOptions{
		Metric:      metrics,
		Period:      "lifetime",
		AccessToken: token,
	}
	var response InsightsResponse
	if err := c.get(ctx, fmt.Sprintf("%s/insights", pageID), opts, &response); err != nil {
		return nil, fmt.Errorf("demographics fetch for page %s: %w", pageID, err)
	}
	return response.Data, nil
}

// GetPageProfile fetches the profile fields for a page, including its
// page access token where permitted.
func (c *Client) GetPageProfile(ctx context.Context, pageID, token string) (*PageProfile, error) {
	opts := fieldOptions{
		Fields:      profileFields,
		AccessToken: token,
	}
	var profile PageProfile
	if err := c.get(ctx, pageID, opts, &profile); err != nil {
		return nil, fmt.Errorf("profile fetch for page %s: %w", pageID, err)
	}
	return &profile, nil
}

// GetTokenOwner resolves the principal behind an access token via /me.
func (c *Client) GetTokenOwner(ctx context.Context, token string) (*TokenOwner, error) {
	opts := fieldOptions{
		Fields:      "id,name",
		AccessToken: token,
	}
	var owner TokenOwner
	if err := c.get(ctx, "me", opts, &owner); err != nil {
		return nil, fmt.Errorf("token owner fetch: %w", err)
	}
	return &owner, nil
}

// get is a helper to perform a GET request against a versioned Graph API
// path, encoding opts as query parameters and decoding the JSON response
// into v.
func (c *Client) get(ctx context.Context, path string, opts any, v any) error {
	values, err := query.Values(opts)
	if err != nil {
		return fmt.Errorf("could not encode query values: %w", err)
	}
	requestURL := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, c.apiVersion, path, values.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, v)
}

// do executes an HTTP request and decodes the JSON response. Non-2xx
// responses are decoded into an *APIError so that the upstream error
// message can be attached to reports.
func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope graphErrorEnvelope
		if err := json.Unmarshal(body, &envelope); err == nil {
			apiErr.Message = envelope.Error.Message
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}

	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// AsAPIError unwraps an *APIError from err, returning nil if none is
// found.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
