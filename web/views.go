package web

/* view types for the listing endpoints */

import (
	"metasync/db"
)

// viewPost is a view version of the db.PostListing type, with non-pointer
// attribution fields and without the query row count.
type viewPost struct {
	PostID             string `json:"postId"`
	PageID             string `json:"pageId"`
	Date               string `json:"date"`
	Message            string `json:"message"`
	PostType           string `json:"postType"`
	StatusType         string `json:"statusType"`
	FullPicture        string `json:"fullPicture"`
	PermalinkURL       string `json:"permalinkUrl"`
	LikesCount         int    `json:"likesCount"`
	CommentsCount      int    `json:"commentsCount"`
	SharesCount        int    `json:"sharesCount"`
	MarketingReference string `json:"marketingReference"`
	ClientNumber       string `json:"clientNumber"`
}

// newViewPosts maps db.PostListing records to a slice of viewPost.
func newViewPosts(posts []db.PostListing) []viewPost {
	pv := make([]viewPost, len(posts))
	for i, p := range posts {
		pv[i].PostID = p.PostID
		pv[i].PageID = p.PageID
		pv[i].Date = p.Date
		pv[i].Message = p.Message
		pv[i].PostType = p.PostType
		pv[i].StatusType = p.StatusType
		pv[i].FullPicture = p.FullPicture
		pv[i].PermalinkURL = p.PermalinkURL
		pv[i].LikesCount = p.LikesCount
		pv[i].CommentsCount = p.CommentsCount
		pv[i].SharesCount = p.SharesCount
		// de-pointer
		if p.MarketingReference != nil {
			pv[i].MarketingReference = *p.MarketingReference
		}
		if p.ClientNumber != nil {
			pv[i].ClientNumber = *p.ClientNumber
		}
	}
	return pv
}

// viewPageInsight is a view version of the db.PageInsightsListing type,
// with non-pointer attribution fields and without the query row count.
type viewPageInsight struct {
	PageID                 string  `json:"pageId"`
	Date                   string  `json:"date"`
	PageFans               int     `json:"pageFans"`
	PageFanAdds            int     `json:"pageFanAdds"`
	PageFanRemoves         int     `json:"pageFanRemoves"`
	PageImpressions        int     `json:"pageImpressions"`
	PageImpressionsUnique  int     `json:"pageImpressionsUnique"`
	PageImpressionsOrganic int     `json:"pageImpressionsOrganic"`
	PageImpressionsPaid    int     `json:"pageImpressionsPaid"`
	PagePostEngagements    int     `json:"pagePostEngagements"`
	PageEngagedUsers       int     `json:"pageEngagedUsers"`
	NetGrowth              int     `json:"netGrowth"`
	EngagementRate         float64 `json:"engagementRate"`
	MarketingReference     string  `json:"marketingReference"`
	ClientNumber           string  `json:"clientNumber"`
	UpdatedAt              string  `json:"updatedAt"`
}

// newViewPageInsights maps db.PageInsightsListing records to a slice of
// viewPageInsight.
func newViewPageInsights(insights []db.PageInsightsListing) []viewPageInsight {
	iv := make([]viewPageInsight, len(insights))
	for i, rec := range insights {
		iv[i].PageID = rec.PageID
		iv[i].Date = rec.Date
		iv[i].PageFans = rec.PageFans
		iv[i].PageFanAdds = rec.PageFanAdds
		iv[i].PageFanRemoves = rec.PageFanRemoves
		iv[i].PageImpressions = rec.PageImpressions
		iv[i].PageImpressionsUnique = rec.PageImpressionsUnique
		iv[i].PageImpressionsOrganic = rec.PageImpressionsOrganic
		iv[i].PageImpressionsPaid = rec.PageImpressionsPaid
		iv[i].PagePostEngagements = rec.PagePostEngagements
		iv[i].PageEngagedUsers = rec.PageEngagedUsers
		iv[i].NetGrowth = rec.NetGrowth
		iv[i].EngagementRate = rec.EngagementRate
		iv[i].UpdatedAt = rec.UpdatedAt
		// de-pointer
		if rec.MarketingReference != nil {
			iv[i].MarketingReference = *rec.MarketingReference
		}
		if rec.ClientNumber != nil {
			iv[i].ClientNumber = *rec.ClientNumber
		}
	}
	return iv
}
