package db

// insights.go deals with daily page insights and audience demographics rows.

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PageInsightsRecord is the stored representation of one page's insights for
// one calendar day.
type PageInsightsRecord struct {
	PageID                 string  `db:"page_id" json:"pageId"`
	Date                   string  `db:"date" json:"date"`
	PageFans               int     `db:"page_fans" json:"pageFans"`
	PageFanAdds            int     `db:"page_fan_adds" json:"pageFanAdds"`
	PageFanRemoves         int     `db:"page_fan_removes" json:"pageFanRemoves"`
	PageImpressions        int     `db:"page_impressions" json:"pageImpressions"`
	PageImpressionsUnique  int     `db:"page_impressions_unique" json:"pageImpressionsUnique"`
	PageImpressionsOrganic int     `db:"page_impressions_organic" json:"pageImpressionsOrganic"`
	PageImpressionsPaid    int     `db:"page_impressions_paid" json:"pageImpressionsPaid"`
	PagePostEngagements    int     `db:"page_post_engagements" json:"pagePostEngagements"`
	PageEngagedUsers       int     `db:"page_engaged_users" json:"pageEngagedUsers"`
	NetGrowth              int     `db:"net_growth" json:"netGrowth"`
	EngagementRate         float64 `db:"engagement_rate" json:"engagementRate"`
	MarketingReference     *string `db:"marketing_reference" json:"marketingReference"`
	ClientNumber           *string `db:"client_number" json:"clientNumber"`
	UpdatedAt              string  `db:"updated_at" json:"updatedAt"`
}

// PageInsightsListing is the concrete type of each row returned by
// PageInsightsGet.
type PageInsightsListing struct {
	PageInsightsRecord
	RowCount int `db:"row_count" json:"-"`
}

// Breakdown stores a demographics breakdown (for example 25-34 male, or a
// country code) to count mapping as a JSON object column.
type Breakdown map[string]int

// Value implements driver.Valuer.
func (b Breakdown) Value() (driver.Value, error) {
	if b == nil {
		return "{}", nil
	}
	j, err := json.Marshal(b)
	return string(j), err
}

// Scan implements sql.Scanner.
func (b *Breakdown) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), b)
	case []byte:
		return json.Unmarshal(v, b)
	case nil:
		*b = Breakdown{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Breakdown", src)
	}
}

// DemographicsRecord is the stored representation of one page's audience
// demographics for one calendar day.
type DemographicsRecord struct {
	PageID             string    `db:"page_id" json:"pageId"`
	Date               string    `db:"date" json:"date"`
	AgeGenderBreakdown Breakdown `db:"age_gender_breakdown" json:"ageGenderBreakdown"`
	CountryBreakdown   Breakdown `db:"country_breakdown" json:"countryBreakdown"`
	CityBreakdown      Breakdown `db:"city_breakdown" json:"cityBreakdown"`
	MarketingReference *string   `db:"marketing_reference" json:"marketingReference"`
	ClientNumber       *string   `db:"client_number" json:"clientNumber"`
	UpdatedAt          string    `db:"updated_at" json:"updatedAt"`
}

// PageInsightsUpsert upserts a daily page insights row keyed by
// (page_id, date).
func (db *DB) PageInsightsUpsert(ctx context.Context, rec PageInsightsRecord) error {

	stmt := db.pageInsightsUpsertStmt
	namedArgs := map[string]any{
		"PageID":                 rec.PageID,
		"Date":                   rec.Date,
		"PageFans":               rec.PageFans,
		"PageFanAdds":            rec.PageFanAdds,
		"PageFanRemoves":         rec.PageFanRemoves,
		"PageImpressions":        rec.PageImpressions,
		"PageImpressionsUnique":  rec.PageImpressionsUnique,
		"PageImpressionsOrganic": rec.PageImpressionsOrganic,
		"PageImpressionsPaid":    rec.PageImpressionsPaid,
		"PagePostEngagements":    rec.PagePostEngagements,
		"PageEngagedUsers":       rec.PageEngagedUsers,
		"NetGrowth":              rec.NetGrowth,
		"EngagementRate":         rec.EngagementRate,
		"MarketingReference":     rec.MarketingReference,
		"ClientNumber":           rec.ClientNumber,
		"UpdatedAt":              rec.UpdatedAt,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("page insights upsert verify arguments error: %v", err)
	}
	_, err := stmt.ExecContext(ctx, namedArgs)
	if err != nil {
		db.logQuery("page insights upsert", stmt, namedArgs, err)
		return fmt.Errorf("failed to upsert page insights for %s on %s: %w", rec.PageID, rec.Date, err)
	}
	return nil
}

// PageInsightsGet lists daily page insights rows for a page within a date
// window, most recent first.
func (db *DB) PageInsightsGet(ctx context.Context, pageID string, dateFrom, dateTo time.Time, limit, offset int) ([]PageInsightsListing, error) {

	stmt := db.pageInsightsGetStmt

	// namedArgs uses sqlx's named query capability.
	namedArgs := map[string]any{
		"PageID":     pageID,
		"DateFrom":   dateFrom.Format("2006-01-02"),
		"DateTo":     dateTo.Format("2006-01-02"),
		"HereLimit":  limit,
		"HereOffset": offset,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("page insights verify args error: %v", err)
	}

	var insights []PageInsightsListing
	err := stmt.SelectContext(ctx, &insights, namedArgs)
	db.logQuery("page insights", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("page insights select error: %v", err)
	}
	if len(insights) == 0 {
		return nil, sql.ErrNoRows
	}
	return insights, nil
}

// NetGrowthSince sums net fan growth for a page over the insights rows on or
// after the given date.
func (db *DB) NetGrowthSince(ctx context.Context, pageID string, since time.Time) (int, error) {

	stmt := db.netGrowthSinceStmt
	namedArgs := map[string]any{
		"PageID": pageID,
		"Since":  since.Format("2006-01-02"),
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return 0, fmt.Errorf("net growth verify arguments error: %v", err)
	}

	var netGrowth int
	err := stmt.GetContext(ctx, &netGrowth, namedArgs)
	db.logQuery("net growth since", stmt, namedArgs, err)
	if err != nil {
		return 0, fmt.Errorf("net growth select error: %v", err)
	}
	return netGrowth, nil
}

// DemographicsUpsert upserts a daily audience demographics row keyed by
// (page_id, date).
func (db *DB) DemographicsUpsert(ctx context.Context, rec DemographicsRecord) error {

	stmt := db.demographicsUpsertStmt
	namedArgs := map[string]any{
		"PageID":             rec.PageID,
		"Date":               rec.Date,
		"AgeGenderBreakdown": rec.AgeGenderBreakdown,
		"CountryBreakdown":   rec.CountryBreakdown,
		"CityBreakdown":      rec.CityBreakdown,
		"MarketingReference": rec.MarketingReference,
		"ClientNumber":       rec.ClientNumber,
		"UpdatedAt":          rec.UpdatedAt,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("demographics upsert verify arguments error: %v", err)
	}
	_, err := stmt.ExecContext(ctx, namedArgs)
	if err != nil {
		db.logQuery("demographics upsert", stmt, namedArgs, err)
		return fmt.Errorf("failed to upsert demographics for %s on %s: %w", rec.PageID, rec.Date, err)
	}
	return nil
}
