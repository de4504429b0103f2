// Package sync implements the page synchronization jobs: posts with their
// daily metrics snapshots, daily page insights with audience demographics,
// and account profiles. Each job resolves an access credential, pulls from
// the Graph API and upserts into the local store keyed by natural
// identifiers, so re-running a job is idempotent.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"metasync/apiclients/facebook"
	"metasync/db"
)

// Settings keys for the token credential tiers below the page-specific
// token.
const (
	SettingSystemToken = "meta_system_user_token"
	SettingOAuthToken  = "meta_oauth_user_token"
)

// defaultFeedLimit is the feed page size used when the caller provides
// none.
const defaultFeedLimit = 25

// Store sets out the database operations a Job needs, fulfilled by *db.DB.
type Store interface {
	AccountGet(ctx context.Context, pageID string) (db.AccountRecord, error)
	AccountUpsert(ctx context.Context, account db.AccountRecord) error
	AccountSummaryUpdate(ctx context.Context, summary db.AccountSummary) error
	SettingGet(ctx context.Context, key string) (string, error)
	SettingUpsert(ctx context.Context, key, value, description string) error
	PageLinkGet(ctx context.Context, pageID string) (string, error)
	ProjectClientGet(ctx context.Context, projectReference string) (*string, error)
	PostUpsert(ctx context.Context, post db.PostRecord) error
	PostMetricsUpsert(ctx context.Context, metrics db.PostMetricsRecord) error
	PageInsightsUpsert(ctx context.Context, rec db.PageInsightsRecord) error
	DemographicsUpsert(ctx context.Context, rec db.DemographicsRecord) error
	NetGrowthSince(ctx context.Context, pageID string, since time.Time) (int, error)
}

// Job runs synchronization runs against one database and one Graph API
// client. The now func is replaceable for testing date-sensitive
// behaviour.
type Job struct {
	db    Store
	graph *facebook.Client
	log   *slog.Logger
	now   func() time.Time
}

// NewJob returns a Job ready for use.
func NewJob(database Store, graph *facebook.Client, logger *slog.Logger) *Job {
	return &Job{
		db:    database,
		graph: graph,
		log:   logger,
		now:   time.Now,
	}
}

// Result is the JSON summary of a synchronization run.
type Result struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	Posts       []db.PostRecord `json:"posts"`
	FailedPosts []string        `json:"failedPosts"`
	Total       int             `json:"total"`
}

// resolveToken tries the credential tiers in order: the page-specific
// stored token, the system-wide token, then the OAuth-derived user token.
// The returned tier is for logging. Absence of all three is a
// configuration error reported as a 400 FatalError, not retried.
func (j *Job) resolveToken(ctx context.Context, pageID string) (token, tier string, err error) {

	account, err := j.db.AccountGet(ctx, pageID)
	switch {
	case err == nil:
		if account.AccessToken != "" {
			return account.AccessToken, "page", nil
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return "", "", fmt.Errorf("account token lookup error: %w", err)
	}

	for _, tierSetting := range []struct {
		key  string
		tier string
	}{
		{SettingSystemToken, "system"},
		{SettingOAuthToken, "oauth"},
	} {
		value, err := j.db.SettingGet(ctx, tierSetting.key)
		switch {
		case err == nil:
			if value != "" {
				return value, tierSetting.tier, nil
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return "", "", fmt.Errorf("setting token lookup error: %w", err)
		}
	}

	return "", "", badRequest(
		"no access token",
		fmt.Sprintf("no access token available for page %s", pageID),
		nil,
	)
}

// resolveUserToken resolves a token from the system and OAuth tiers only,
// for operations which act across pages rather than on behalf of one.
func (j *Job) resolveUserToken(ctx context.Context) (token, tier string, err error) {

	for _, tierSetting := range []struct {
		key  string
		tier string
	}{
		{SettingSystemToken, "system"},
		{SettingOAuthToken, "oauth"},
	} {
		value, err := j.db.SettingGet(ctx, tierSetting.key)
		switch {
		case err == nil:
			if value != "" {
				return value, tierSetting.tier, nil
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return "", "", fmt.Errorf("setting token lookup error: %w", err)
		}
	}
	return "", "", badRequest("no access token", "no system or oauth access token available", nil)
}

// resolveAttribution resolves the marketing reference linked to a page and
// its client number via the page_links -> projects chain. Attribution is
// best-effort: lookup failures log and return nil values.
func (j *Job) resolveAttribution(ctx context.Context, pageID string) (marketingReference, clientNumber *string) {

	reference, err := j.db.PageLinkGet(ctx, pageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		j.log.Warn("page link lookup failed", "page", pageID, "error", err)
		return nil, nil
	}

	client, err := j.db.ProjectClientGet(ctx, reference)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &reference, nil
	case err != nil:
		j.log.Warn("project client lookup failed", "project", reference, "error", err)
		return &reference, nil
	}
	return &reference, client
}

// SyncPosts fetches up to limit recent posts for a page, enriches each with
// best-effort detail and insights calls and upserts the post and, when
// insights are available, a dated metrics snapshot. One bad post never
// aborts the batch: its id is recorded in FailedPosts and the run continues.
func (j *Job) SyncPosts(ctx context.Context, pageID string, limit int) (*Result, error) {

	if pageID == "" {
		return nil, badRequest("pageId is required", "", nil)
	}
	if limit <= 0 {
		limit = defaultFeedLimit
	}

	token, tier, err := j.resolveToken(ctx, pageID)
	if err != nil {
		return nil, err
	}
	j.log.Info("access token resolved", "page", pageID, "tier", tier)

	// The feed fetch is the one fatal outbound call: without a post list
	// there is nothing to process.
	feed, err := j.graph.GetFeed(ctx, pageID, token, limit)
	if err != nil {
		details := err.Error()
		if apiErr := facebook.AsAPIError(err); apiErr != nil {
			details = apiErr.Message
		}
		return nil, badRequest("failed to fetch posts", details, err)
	}

	marketingReference, clientNumber := j.resolveAttribution(ctx, pageID)
	today := j.now().UTC().Format("2006-01-02")

	synced := []db.PostRecord{}
	failed := []string{}

	for _, post := range feed {

		// Best-effort detail fetch; zero values on failure.
		detail, err := j.graph.GetPostDetail(ctx, post.ID, token)
		if err != nil {
			j.log.Warn("post detail unavailable", "post", post.ID, "error", err)
			detail = &facebook.PostDetail{}
		}
		postType, fullPicture := deriveAttachment(detail)

		record := db.PostRecord{
			PostID:             post.ID,
			PageID:             pageID,
			Date:               normalizeCreatedTime(post.CreatedTime),
			Message:            post.Message,
			PostType:           postType,
			FullPicture:        fullPicture,
			PermalinkURL:       detail.PermalinkURL,
			LikesCount:         detail.Reactions.Summary.TotalCount,
			CommentsCount:      detail.Comments.Summary.TotalCount,
			SharesCount:        detail.Shares.Count,
			MarketingReference: marketingReference,
			ClientNumber:       clientNumber,
		}
		if err := j.db.PostUpsert(ctx, record); err != nil {
			j.log.Warn("post upsert failed", "post", post.ID, "error", err)
			failed = append(failed, post.ID)
			continue
		}

		// Best-effort insights fetch; the endpoint commonly 400s for very
		// recent posts, so a failure is logged and no snapshot is written
		// for the day. The post itself still counts as synced.
		insights, err := j.graph.GetPostInsights(ctx, post.ID, token)
		if err != nil {
			j.log.Warn("post insights unavailable", "post", post.ID, "error", err)
			synced = append(synced, record)
			continue
		}
		metrics := db.PostMetricsRecord{
			PostID:             post.ID,
			PageID:             pageID,
			Date:               today,
			Reactions:          detail.Reactions.Summary.TotalCount,
			Comments:           detail.Comments.Summary.TotalCount,
			Shares:             detail.Shares.Count,
			MarketingReference: marketingReference,
			ClientNumber:       clientNumber,
		}
		applyPostMetrics(&metrics, insights)
		if err := j.db.PostMetricsUpsert(ctx, metrics); err != nil {
			j.log.Warn("post metrics upsert failed", "post", post.ID, "error", err)
			failed = append(failed, post.ID)
			continue
		}

		synced = append(synced, record)
	}

	result := &Result{
		Success:     true,
		Message:     fmt.Sprintf("Synced %d posts, %d failed", len(synced), len(failed)),
		Posts:       synced,
		FailedPosts: failed,
		Total:       len(feed),
	}
	j.log.Info("post sync complete", "page", pageID, "synced", len(synced), "failed", len(failed))
	return result, nil
}

// SaveOAuthToken persists an OAuth-derived user token as the third
// credential tier.
func (j *Job) SaveOAuthToken(ctx context.Context, token string) error {
	return j.db.SettingUpsert(ctx, SettingOAuthToken, token, "facebook oauth user token")
}

// TokenCheck resolves the credential tiers for a page (or the user tiers
// when pageID is empty) and calls the token introspection endpoint to
// report which principal the token belongs to.
func (j *Job) TokenCheck(ctx context.Context, pageID string) (tier string, owner *facebook.TokenOwner, err error) {

	var token string
	if pageID != "" {
		token, tier, err = j.resolveToken(ctx, pageID)
	} else {
		token, tier, err = j.resolveUserToken(ctx)
	}
	if err != nil {
		return "", nil, err
	}

	owner, err = j.graph.GetTokenOwner(ctx, token)
	if err != nil {
		details := err.Error()
		if apiErr := facebook.AsAPIError(err); apiErr != nil {
			details = apiErr.Message
		}
		return tier, nil, badRequest("token check failed", details, err)
	}
	return tier, owner, nil
}

// normalizeCreatedTime converts a Graph API created_time (typically
// "2006-01-02T15:04:05+0000") to RFC3339 in UTC so that stored dates are
// uniform and sqlite date functions can read them. Unparseable values are
// stored as received.
func normalizeCreatedTime(createdTime string) string {
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, createdTime); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return createdTime
}
