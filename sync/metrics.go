package sync

// metrics.go maps named Graph insights metrics onto the stored record
// shapes via typed setter tables.

import (
	"math"

	"metasync/apiclients/facebook"
	"metasync/db"
)

// postMetricSetters maps per-post insight metric names to setters on the
// metrics record. The clicks and reactions metrics are breakdown maps
// requiring key-by-key extraction; the Graph API is inconsistent about key
// spellings, so both are checked.
var postMetricSetters = map[string]func(*db.PostMetricsRecord, facebook.FlexValue){
	"post_impressions": func(r *db.PostMetricsRecord, v facebook.FlexValue) {
		r.Impressions = v.Int()
	},
	"post_impressions_unique": func(r *db.PostMetricsRecord, v facebook.FlexValue) {
		r.Reach = v.Int()
	},
	// Engaged users doubles as the stored engagement figure.
	"post_engaged_users": func(r *db.PostMetricsRecord, v facebook.FlexValue) {
		r.EngagedUsers = v.Int()
		r.Engagement = v.Int()
	},
	// The scalar clicks total stands in for link clicks until the by-type
	// breakdown refines it.
	"post_clicks": func(r *db.PostMetricsRecord, v facebook.FlexValue) {
		r.LinkClicks = v.Int()
	},
	"post_clicks_by_type": func(r *db.PostMetricsRecord, v facebook.FlexValue) {
		r.LinkClicks = v.Lookup("link_clicks", "link clicks")
		r.PhotoClicks = v.Lookup("photo_view", "photo view")
	},
	"post_reactions_by_type_total": func(r *db.PostMetricsRecord, v facebook.FlexValue) {
		r.ReactionLove = db.ReactionCount{Count: v.Lookup("love")}
		r.ReactionHaha = db.ReactionCount{Count: v.Lookup("haha")}
		r.ReactionWow = db.ReactionCount{Count: v.Lookup("wow")}
		r.ReactionSad = db.ReactionCount{Count: v.Lookup("sorry", "sad")}
		r.ReactionAngry = db.ReactionCount{Count: v.Lookup("anger", "angry")}
	},
	"post_negative_feedback": func(r *db.PostMetricsRecord, v facebook.FlexValue) {
		r.NegativeFeedback = v.Int()
	},
	"post_video_views": func(r *db.PostMetricsRecord, v facebook.FlexValue) {
		r.VideoViews = v.Int()
	},
}

// applyPostMetrics applies the first value of each named metric to the
// record. Unknown metric names are ignored.
func applyPostMetrics(record *db.PostMetricsRecord, metrics []facebook.Metric) {
	for _, metric := range metrics {
		setter, ok := postMetricSetters[metric.Name]
		if !ok || len(metric.Values) == 0 {
			continue
		}
		setter(record, metric.Values[0].Value)
	}
}

// pageMetricSetters maps daily page insight metric names to setters on the
// page insights record.
var pageMetricSetters = map[string]func(*db.PageInsightsRecord, facebook.FlexValue){
	"page_fans": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PageFans = v.Int()
	},
	"page_fan_adds": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PageFanAdds = v.Int()
	},
	"page_fan_removes": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PageFanRemoves = v.Int()
	},
	"page_impressions": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PageImpressions = v.Int()
	},
	"page_impressions_unique": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PageImpressionsUnique = v.Int()
	},
	"page_impressions_organic": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PageImpressionsOrganic = v.Int()
	},
	"page_impressions_paid": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PageImpressionsPaid = v.Int()
	},
	"page_post_engagements": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PagePostEngagements = v.Int()
	},
	"page_engaged_users": func(r *db.PageInsightsRecord, v facebook.FlexValue) {
		r.PageEngagedUsers = v.Int()
	},
}

// applyPageMetrics applies the first value of each named metric to the
// record.
func applyPageMetrics(record *db.PageInsightsRecord, metrics []facebook.Metric) {
	for _, metric := range metrics {
		setter, ok := pageMetricSetters[metric.Name]
		if !ok || len(metric.Values) == 0 {
			continue
		}
		setter(record, metric.Values[0].Value)
	}
}

// deriveAttachment derives the post type and picture URL from the first
// attachment, preferring an embedded image's src and falling back to the
// media source for photo attachments.
func deriveAttachment(detail *facebook.PostDetail) (postType, fullPicture string) {
	if len(detail.Attachments.Data) == 0 {
		return "", ""
	}
	attachment := detail.Attachments.Data[0]
	postType = attachment.Type
	if postType == "" {
		postType = attachment.MediaType
	}
	fullPicture = attachment.Media.Image.Src
	if fullPicture == "" && (attachment.Type == "photo" || attachment.MediaType == "photo") {
		fullPicture = attachment.Media.Source
	}
	return postType, fullPicture
}

// round2 rounds to two decimal places.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// engagementRate computes engaged users as a percentage of unique
// impressions, returning 0 rather than NaN or Inf when the denominator is
// zero.
func engagementRate(engagedUsers, impressionsUnique int) float64 {
	if impressionsUnique == 0 {
		return 0
	}
	return round2(float64(engagedUsers) / float64(impressionsUnique) * 100)
}
