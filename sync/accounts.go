package sync

// accounts.go syncs page account profiles, which also populates the
// page-specific token credential tier.

import (
	"context"
	"fmt"
	"time"

	"metasync/db"
)

// SyncAccounts fetches the profile for each page and upserts its account
// row, storing the page access token where the calling token is permitted
// to read it. An explicit clientNumber applies to every page; when nil the
// page link chain is consulted per page. Individual page failures are
// collected rather than aborting the run.
func (j *Job) SyncAccounts(ctx context.Context, pageIDs []string, clientNumber *string) (*Result, error) {

	if len(pageIDs) == 0 {
		return nil, badRequest("pageIds are required", "", nil)
	}

	token, tier, err := j.resolveUserToken(ctx)
	if err != nil {
		return nil, err
	}
	j.log.Info("access token resolved", "tier", tier)

	updatedAt := j.now().UTC().Format(time.RFC3339)
	synced := 0
	failed := []string{}

	for _, pageID := range pageIDs {
		profile, err := j.graph.GetPageProfile(ctx, pageID, token)
		if err != nil {
			j.log.Warn("page profile unavailable", "page", pageID, "error", err)
			failed = append(failed, pageID)
			continue
		}

		pageClientNumber := clientNumber
		if pageClientNumber == nil {
			_, pageClientNumber = j.resolveAttribution(ctx, pageID)
		}

		account := db.AccountRecord{
			PageID:             profile.ID,
			Name:               profile.Name,
			Username:           profile.Username,
			AccessToken:        profile.AccessToken,
			FollowersCount:     profile.FollowersCount,
			FanCount:           profile.FanCount,
			Category:           profile.Category,
			VerificationStatus: profile.VerificationStatus,
			ClientNumber:       pageClientNumber,
			UpdatedAt:          updatedAt,
		}
		if err := j.db.AccountUpsert(ctx, account); err != nil {
			j.log.Warn("account upsert failed", "page", pageID, "error", err)
			failed = append(failed, pageID)
			continue
		}
		synced++
	}

	result := &Result{
		Success:     true,
		Message:     fmt.Sprintf("Synced %d accounts, %d failed", synced, len(failed)),
		FailedPosts: failed,
		Total:       len(pageIDs),
	}
	j.log.Info("account sync complete", "synced", synced, "failed", len(failed))
	return result, nil
}
