package db

// posts.go deals with page post rows and their daily metrics snapshots.

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostRecord is the stored representation of a page post.
type PostRecord struct {
	PostID             string  `db:"post_id" json:"postId"`
	PageID             string  `db:"page_id" json:"pageId"`
	Date               string  `db:"date" json:"date"`
	Message            string  `db:"message" json:"message"`
	PostType           string  `db:"post_type" json:"postType"`
	StatusType         string  `db:"status_type" json:"statusType"`
	FullPicture        string  `db:"full_picture" json:"fullPicture"`
	PermalinkURL       string  `db:"permalink_url" json:"permalinkUrl"`
	LikesCount         int     `db:"likes_count" json:"likesCount"`
	CommentsCount      int     `db:"comments_count" json:"commentsCount"`
	SharesCount        int     `db:"shares_count" json:"sharesCount"`
	MarketingReference *string `db:"marketing_reference" json:"marketingReference"`
	ClientNumber       *string `db:"client_number" json:"clientNumber"`
}

// PostListing is the concrete type of each row returned by PostsGet.
type PostListing struct {
	PostRecord
	RowCount int `db:"row_count" json:"-"`
}

// postAttribution is the probe type used to preserve attribution fields
// already written to a row.
type postAttribution struct {
	PostID             string  `db:"post_id"`
	MarketingReference *string `db:"marketing_reference"`
	ClientNumber       *string `db:"client_number"`
}

// ReactionCount stores a per-reaction count as a JSON object so the column
// remains directly queryable with sqlite's json functions.
type ReactionCount struct {
	Count int `json:"count"`
}

// Value implements driver.Valuer.
func (r ReactionCount) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	return string(b), err
}

// Scan implements sql.Scanner.
func (r *ReactionCount) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), r)
	case []byte:
		return json.Unmarshal(v, r)
	case nil:
		*r = ReactionCount{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ReactionCount", src)
	}
}

// PostMetricsRecord is the stored representation of a per-post metrics
// snapshot, keyed by (post_id, date).
type PostMetricsRecord struct {
	PostID             string        `db:"post_id" json:"postId"`
	PageID             string        `db:"page_id" json:"pageId"`
	Date               string        `db:"date" json:"date"`
	Impressions        int           `db:"impressions" json:"impressions"`
	Reach              int           `db:"reach" json:"reach"`
	Engagement         int           `db:"engagement" json:"engagement"`
	EngagedUsers       int           `db:"engaged_users" json:"engagedUsers"`
	Reactions          int           `db:"reactions" json:"reactions"`
	Comments           int           `db:"comments" json:"comments"`
	Shares             int           `db:"shares" json:"shares"`
	VideoViews         int           `db:"video_views" json:"videoViews"`
	LinkClicks         int           `db:"link_clicks" json:"linkClicks"`
	PhotoClicks        int           `db:"photo_clicks" json:"photoClicks"`
	NegativeFeedback   int           `db:"negative_feedback" json:"negativeFeedback"`
	ReactionLove       ReactionCount `db:"reaction_love" json:"reactionLove"`
	ReactionHaha       ReactionCount `db:"reaction_haha" json:"reactionHaha"`
	ReactionWow        ReactionCount `db:"reaction_wow" json:"reactionWow"`
	ReactionSad        ReactionCount `db:"reaction_sad" json:"reactionSad"`
	ReactionAngry      ReactionCount `db:"reaction_angry" json:"reactionAngry"`
	MarketingReference *string       `db:"marketing_reference" json:"marketingReference"`
	ClientNumber       *string       `db:"client_number" json:"clientNumber"`
}

// PostUpsert upserts a post row keyed by post_id. Attribution fields
// (marketing_reference and client_number) are first-write-wins: values
// already stored on the row are kept in preference to the incoming values.
func (db *DB) PostUpsert(ctx context.Context, post PostRecord) error {

	// Probe any existing row for attribution fields already written.
	stmt := db.postGetStmt
	namedArgs := map[string]any{
		"PostID": post.PostID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("post probe verify arguments error: %v", err)
	}
	var existing postAttribution
	err := stmt.GetContext(ctx, &existing, namedArgs)
	switch {
	case err == nil:
		if existing.MarketingReference != nil {
			post.MarketingReference = existing.MarketingReference
		}
		if existing.ClientNumber != nil {
			post.ClientNumber = existing.ClientNumber
		}
	case errors.Is(err, sql.ErrNoRows):
		// First write for this post.
	default:
		return fmt.Errorf("post probe error for %s: %w", post.PostID, err)
	}

	stmt = db.postUpsertStmt
	namedArgs = map[string]any{
		"PostID":             post.PostID,
		"PageID":             post.PageID,
		"Date":               post.Date,
		"Message":            post.Message,
		"PostType":           post.PostType,
		"StatusType":         post.StatusType,
		"FullPicture":        post.FullPicture,
		"PermalinkURL":       post.PermalinkURL,
		"LikesCount":         post.LikesCount,
		"CommentsCount":      post.CommentsCount,
		"SharesCount":        post.SharesCount,
		"MarketingReference": post.MarketingReference,
		"ClientNumber":       post.ClientNumber,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("post upsert verify arguments error: %v", err)
	}
	_, err = stmt.ExecContext(ctx, namedArgs)
	if err != nil {
		db.logQuery("post upsert", stmt, namedArgs, err)
		return fmt.Errorf("failed to upsert post %s: %w", post.PostID, err)
	}
	return nil
}

// PostGet retrieves a single post row by post id.
func (db *DB) PostGet(ctx context.Context, postID string) (PostRecord, error) {

	stmt := db.postRowStmt
	namedArgs := map[string]any{
		"PostID": postID,
	}
	var post PostRecord
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return post, fmt.Errorf("post get verify arguments error: %v", err)
	}
	err := stmt.GetContext(ctx, &post, namedArgs)
	db.logQuery("post get", stmt, namedArgs, err)
	if err != nil {
		return post, err
	}
	return post, nil
}

// PostsGet lists stored posts for a page within a date window, most recent
// first. It isn't necessary to run this query in a transaction.
func (db *DB) PostsGet(ctx context.Context, pageID string, dateFrom, dateTo time.Time, limit, offset int) ([]PostListing, error) {

	stmt := db.postsGetStmt

	// namedArgs uses sqlx's named query capability.
	namedArgs := map[string]any{
		"PageID":     pageID,
		"DateFrom":   dateFrom.Format("2006-01-02"),
		"DateTo":     dateTo.Format("2006-01-02"),
		"HereLimit":  limit,
		"HereOffset": offset,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("posts verify args error: %v", err)
	}

	// Scan results into the provided slice.
	var posts []PostListing
	err := stmt.SelectContext(ctx, &posts, namedArgs)
	db.logQuery("posts", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("posts select error: %v", err)
	}

	// Return early if no rows were returned.
	if len(posts) == 0 {
		return nil, sql.ErrNoRows
	}
	return posts, nil
}

// PostMetricsUpsert upserts a per-post metrics snapshot keyed by
// (post_id, date). Attribution fields follow the same first-write-wins rule
// as PostUpsert, scoped to the snapshot row.
func (db *DB) PostMetricsUpsert(ctx context.Context, metrics PostMetricsRecord) error {

	// Probe any existing snapshot for attribution fields already written.
	stmt := db.postMetricsGetStmt
	namedArgs := map[string]any{
		"PostID": metrics.PostID,
		"Date":   metrics.Date,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("post metrics probe verify arguments error: %v", err)
	}
	var existing postAttribution
	err := stmt.GetContext(ctx, &existing, namedArgs)
	switch {
	case err == nil:
		if existing.MarketingReference != nil {
			metrics.MarketingReference = existing.MarketingReference
		}
		if existing.ClientNumber != nil {
			metrics.ClientNumber = existing.ClientNumber
		}
	case errors.Is(err, sql.ErrNoRows):
		// First snapshot for this post and date.
	default:
		return fmt.Errorf("post metrics probe error for %s: %w", metrics.PostID, err)
	}

	stmt = db.postMetricsUpsertStmt
	namedArgs = map[string]any{
		"PostID":             metrics.PostID,
		"PageID":             metrics.PageID,
		"Date":               metrics.Date,
		"Impressions":        metrics.Impressions,
		"Reach":              metrics.Reach,
		"Engagement":         metrics.Engagement,
		"EngagedUsers":       metrics.EngagedUsers,
		"Reactions":          metrics.Reactions,
		"Comments":           metrics.Comments,
		"Shares":             metrics.Shares,
		"VideoViews":         metrics.VideoViews,
		"LinkClicks":         metrics.LinkClicks,
		"PhotoClicks":        metrics.PhotoClicks,
		"NegativeFeedback":   metrics.NegativeFeedback,
		"ReactionLove":       metrics.ReactionLove,
		"ReactionHaha":       metrics.ReactionHaha,
		"ReactionWow":        metrics.ReactionWow,
		"ReactionSad":        metrics.ReactionSad,
		"ReactionAngry":      metrics.ReactionAngry,
		"MarketingReference": metrics.MarketingReference,
		"ClientNumber":       metrics.ClientNumber,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("post metrics upsert verify arguments error: %v", err)
	}
	_, err = stmt.ExecContext(ctx, namedArgs)
	if err != nil {
		db.logQuery("post metrics upsert", stmt, namedArgs, err)
		return fmt.Errorf("failed to upsert metrics for post %s: %w", metrics.PostID, err)
	}
	return nil
}

// PostMetricsRows retrieves all metrics snapshots for a post, most recent
// date first.
func (db *DB) PostMetricsRows(ctx context.Context, postID string) ([]PostMetricsRecord, error) {

	stmt := db.postMetricsRowsStmt
	namedArgs := map[string]any{
		"PostID": postID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("post metrics rows verify arguments error: %v", err)
	}

	var rows []PostMetricsRecord
	err := stmt.SelectContext(ctx, &rows, namedArgs)
	db.logQuery("post metrics rows", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("post metrics select error: %v", err)
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows, nil
}
