package db

// accounts.go deals with account profile rows, application settings, page
// links and project lookups.

import (
	"context"
	"fmt"
)

// AccountRecord is the stored representation of a page account profile. The
// summary columns (TotalPageLikes, EngagementRate, NetGrowth7d) are
// maintained by AccountSummaryUpdate rather than AccountUpsert.
type AccountRecord struct {
	PageID             string  `db:"page_id" json:"pageId"`
	Name               string  `db:"name" json:"name"`
	Username           string  `db:"username" json:"username"`
	AccessToken        string  `db:"access_token" json:"-"`
	FollowersCount     int     `db:"followers_count" json:"followersCount"`
	FanCount           int     `db:"fan_count" json:"fanCount"`
	Category           string  `db:"category" json:"category"`
	VerificationStatus string  `db:"verification_status" json:"verificationStatus"`
	ClientNumber       *string `db:"client_number" json:"clientNumber"`
	TotalPageLikes     int     `db:"total_page_likes" json:"totalPageLikes"`
	EngagementRate     float64 `db:"engagement_rate" json:"engagementRate"`
	NetGrowth7d        int     `db:"net_growth_7d" json:"netGrowth7d"`
	UpdatedAt          string  `db:"updated_at" json:"updatedAt"`
}

// AccountSummary holds the denormalised summary figures written to an
// account row after a page insights sync.
type AccountSummary struct {
	PageID         string
	FanCount       int
	TotalPageLikes int
	EngagementRate float64
	NetGrowth7d    int
	UpdatedAt      string
}

// Setting is a single settings row.
type Setting struct {
	Key         string `db:"key"`
	Value       string `db:"value"`
	Description string `db:"description"`
}

// pageLink is the probe type for page_link_get.sql.
type pageLink struct {
	PageID             string `db:"page_id"`
	MarketingReference string `db:"marketing_reference"`
}

// projectClient is the probe type for project_client_get.sql.
type projectClient struct {
	ProjectReference string  `db:"project_reference"`
	ClientNumber     *string `db:"client_number"`
}

// AccountGet retrieves an account row by page id. sql.ErrNoRows is returned
// unwrapped when no account exists.
func (db *DB) AccountGet(ctx context.Context, pageID string) (AccountRecord, error) {

	stmt := db.accountGetStmt
	namedArgs := map[string]any{
		"PageID": pageID,
	}
	var account AccountRecord
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return account, fmt.Errorf("account get verify arguments error: %v", err)
	}
	err := stmt.GetContext(ctx, &account, namedArgs)
	db.logQuery("account get", stmt, namedArgs, err)
	if err != nil {
		return account, err
	}
	return account, nil
}

// AccountUpsert upserts an account profile row keyed by page id, leaving the
// summary columns untouched.
func (db *DB) AccountUpsert(ctx context.Context, account AccountRecord) error {

	stmt := db.accountUpsertStmt
	namedArgs := map[string]any{
		"PageID":             account.PageID,
		"Name":               account.Name,
		"Username":           account.Username,
		"AccessToken":        account.AccessToken,
		"FollowersCount":     account.FollowersCount,
		"FanCount":           account.FanCount,
		"Category":           account.Category,
		"VerificationStatus": account.VerificationStatus,
		"ClientNumber":       account.ClientNumber,
		"UpdatedAt":          account.UpdatedAt,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("account upsert verify arguments error: %v", err)
	}
	_, err := stmt.ExecContext(ctx, namedArgs)
	if err != nil {
		db.logQuery("account upsert", stmt, namedArgs, err)
		return fmt.Errorf("failed to upsert account %s: %w", account.PageID, err)
	}
	return nil
}

// AccountSummaryUpdate writes the denormalised summary columns for a page,
// creating the account row if none exists.
func (db *DB) AccountSummaryUpdate(ctx context.Context, summary AccountSummary) error {

	stmt := db.accountSummaryUpdateStmt
	namedArgs := map[string]any{
		"PageID":         summary.PageID,
		"FanCount":       summary.FanCount,
		"TotalPageLikes": summary.TotalPageLikes,
		"EngagementRate": summary.EngagementRate,
		"NetGrowth7d":    summary.NetGrowth7d,
		"UpdatedAt":      summary.UpdatedAt,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("account summary verify arguments error: %v", err)
	}
	_, err := stmt.ExecContext(ctx, namedArgs)
	if err != nil {
		db.logQuery("account summary update", stmt, namedArgs, err)
		return fmt.Errorf("failed to update account summary for %s: %w", summary.PageID, err)
	}
	return nil
}

// SettingGet retrieves a settings value by key. sql.ErrNoRows is returned
// unwrapped when the key is absent, which callers use to fall through the
// credential tiers.
func (db *DB) SettingGet(ctx context.Context, key string) (string, error) {

	stmt := db.settingGetStmt
	namedArgs := map[string]any{
		"Key": key,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return "", fmt.Errorf("setting get verify arguments error: %v", err)
	}
	var setting Setting
	err := stmt.GetContext(ctx, &setting, namedArgs)
	db.logQuery("setting get", stmt, namedArgs, err)
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// SettingUpsert upserts a settings row.
func (db *DB) SettingUpsert(ctx context.Context, key, value, description string) error {

	stmt := db.settingUpsertStmt
	namedArgs := map[string]any{
		"Key":         key,
		"Value":       value,
		"Description": description,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("setting upsert verify arguments error: %v", err)
	}
	_, err := stmt.ExecContext(ctx, namedArgs)
	if err != nil {
		db.logQuery("setting upsert", stmt, namedArgs, err)
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	return nil
}

// PageLinkGet retrieves the marketing reference linked to a page.
// sql.ErrNoRows is returned unwrapped when the page is unlinked.
func (db *DB) PageLinkGet(ctx context.Context, pageID string) (string, error) {

	stmt := db.pageLinkGetStmt
	namedArgs := map[string]any{
		"PageID": pageID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return "", fmt.Errorf("page link verify arguments error: %v", err)
	}
	var link pageLink
	err := stmt.GetContext(ctx, &link, namedArgs)
	db.logQuery("page link get", stmt, namedArgs, err)
	if err != nil {
		return "", err
	}
	return link.MarketingReference, nil
}

// ProjectClientGet retrieves the client number for a marketing project
// reference. The client number may be null on the project row, in which case
// a nil pointer is returned with no error. sql.ErrNoRows is returned
// unwrapped when no project exists.
func (db *DB) ProjectClientGet(ctx context.Context, projectReference string) (*string, error) {

	stmt := db.projectClientGetStmt
	namedArgs := map[string]any{
		"ProjectReference": projectReference,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("project client verify arguments error: %v", err)
	}
	var project projectClient
	err := stmt.GetContext(ctx, &project, namedArgs)
	db.logQuery("project client get", stmt, namedArgs, err)
	if err != nil {
		return nil, err
	}
	return project.ClientNumber, nil
}
