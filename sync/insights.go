package sync

// insights.go runs the daily page insights and demographics sync, with the
// follow-on account summary recompute.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"metasync/apiclients/facebook"
	"metasync/db"
)

// pageMetricNames is the fixed daily page metric set.
const pageMetricNames = "page_fans,page_fan_adds,page_fan_removes," +
	"page_impressions,page_impressions_unique,page_impressions_organic," +
	"page_impressions_paid,page_post_engagements,page_engaged_users"

// demographicMetricNames are the lifetime audience breakdown metrics.
const demographicMetricNames = "page_fans_gender_age,page_fans_country,page_fans_city"

// breakdownFromFlex converts a breakdown metric value to the stored
// Breakdown shape.
func breakdownFromFlex(v facebook.FlexValue) db.Breakdown {
	breakdown := db.Breakdown{}
	for key, count := range v.Breakdown {
		breakdown[key] = int(count)
	}
	return breakdown
}

// SyncPageInsights fetches yesterday's page-level insights and the lifetime
// audience demographics for a page, upserting both keyed by (page id,
// yesterday), then recomputes the account summary's trailing seven day net
// growth. The outbound insight calls are best-effort: failures log and the
// run still reports success, per the same policy the post sync applies to
// enrichment calls.
func (j *Job) SyncPageInsights(ctx context.Context, pageID string) (*Result, error) {

	if pageID == "" {
		return nil, badRequest("pageId is required", "", nil)
	}

	token, tier, err := j.resolveToken(ctx, pageID)
	if err != nil {
		return nil, err
	}
	j.log.Info("access token resolved", "page", pageID, "tier", tier)

	now := j.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	updatedAt := now.Format(time.RFC3339)
	marketingReference, clientNumber := j.resolveAttribution(ctx, pageID)

	var messages []string

	// Daily page insights for yesterday.
	record := db.PageInsightsRecord{
		PageID:             pageID,
		Date:               yesterday.Format("2006-01-02"),
		MarketingReference: marketingReference,
		ClientNumber:       clientNumber,
		UpdatedAt:          updatedAt,
	}
	insightsOK := false
	metrics, err := j.graph.GetPageInsights(ctx, pageID, token, pageMetricNames, yesterday, today)
	if err != nil {
		j.log.Warn("page insights unavailable", "page", pageID, "error", err)
		messages = append(messages, "page insights unavailable")
	} else {
		applyPageMetrics(&record, metrics)
		record.NetGrowth = record.PageFanAdds - record.PageFanRemoves
		record.EngagementRate = engagementRate(record.PageEngagedUsers, record.PageImpressionsUnique)
		if err := j.db.PageInsightsUpsert(ctx, record); err != nil {
			j.log.Warn("page insights upsert failed", "page", pageID, "error", err)
			messages = append(messages, "page insights upsert failed")
		} else {
			insightsOK = true
			messages = append(messages, fmt.Sprintf("page insights synced for %s", record.Date))
		}
	}

	// Lifetime audience demographics.
	demographics, err := j.graph.GetPageLifetimeInsights(ctx, pageID, token, demographicMetricNames)
	if err != nil {
		j.log.Warn("demographics unavailable", "page", pageID, "error", err)
		messages = append(messages, "demographics unavailable")
	} else {
		demographicRecord := db.DemographicsRecord{
			PageID:             pageID,
			Date:               yesterday.Format("2006-01-02"),
			AgeGenderBreakdown: db.Breakdown{},
			CountryBreakdown:   db.Breakdown{},
			CityBreakdown:      db.Breakdown{},
			MarketingReference: marketingReference,
			ClientNumber:       clientNumber,
			UpdatedAt:          updatedAt,
		}
		for _, metric := range demographics {
			if len(metric.Values) == 0 {
				continue
			}
			breakdown := breakdownFromFlex(metric.Values[0].Value)
			switch metric.Name {
			case "page_fans_gender_age":
				demographicRecord.AgeGenderBreakdown = breakdown
			case "page_fans_country":
				demographicRecord.CountryBreakdown = breakdown
			case "page_fans_city":
				demographicRecord.CityBreakdown = breakdown
			}
		}
		if err := j.db.DemographicsUpsert(ctx, demographicRecord); err != nil {
			j.log.Warn("demographics upsert failed", "page", pageID, "error", err)
			messages = append(messages, "demographics upsert failed")
		} else {
			messages = append(messages, "demographics synced")
		}
	}

	// Account summary follow-on: trailing seven day net growth plus the
	// latest totals. Only meaningful when today's insights row landed.
	if insightsOK {
		netGrowth7d, err := j.db.NetGrowthSince(ctx, pageID, today.AddDate(0, 0, -7))
		if err != nil {
			j.log.Warn("net growth recompute failed", "page", pageID, "error", err)
		} else {
			summary := db.AccountSummary{
				PageID:         pageID,
				FanCount:       record.PageFans,
				TotalPageLikes: record.PageFans,
				EngagementRate: record.EngagementRate,
				NetGrowth7d:    netGrowth7d,
				UpdatedAt:      updatedAt,
			}
			if err := j.db.AccountSummaryUpdate(ctx, summary); err != nil {
				j.log.Warn("account summary update failed", "page", pageID, "error", err)
			} else {
				messages = append(messages, "account summary updated")
			}
		}
	}

	result := &Result{
		Success: true,
		Message: strings.Join(messages, "; "),
	}
	j.log.Info("page insights sync complete", "page", pageID, "message", result.Message)
	return result, nil
}
