package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"metasync/apiclients/facebook"
	"metasync/db"

	"github.com/google/go-cmp/cmp"
)

func ptrStr(s string) *string { return &s }

// testNow is the fixed clock for all job tests: runs happen on 2026-08-28,
// so "yesterday" is 2026-08-27.
var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

// setupJob builds a Job against a fresh named in-memory database and an
// httptest Graph API stub.
func setupJob(t *testing.T, handler http.Handler) (*Job, *db.DB) {
	t.Helper()

	sqlDir, err := db.SQLMount()
	if err != nil {
		t.Fatalf("sql mount error: %v", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	database, err := db.NewConnection(dsn, sqlDir, nil)
	if err != nil {
		t.Fatalf("in-memory test database opening error: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := facebook.NewClient(server.URL, "v21.0", logger)

	job := NewJob(database, client, logger)
	job.now = func() time.Time { return testNow }
	return job, database
}

func TestSyncPostsNoCredential(t *testing.T) {

	// No account row and no settings: the run must fail before any
	// outbound call is made.
	calls := 0
	job, _ := setupJob(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	_, err := job.SyncPosts(context.Background(), "nc_page", 0)
	fatal := AsFatal(err)
	if fatal == nil {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if fatal.Status != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", fatal.Status)
	}
	if fatal.Message != "no access token" {
		t.Errorf("got message %q, want no access token", fatal.Message)
	}
	if calls != 0 {
		t.Errorf("expected no outbound calls, got %d", calls)
	}
}

func TestSyncPostsMissingPageID(t *testing.T) {

	job, _ := setupJob(t, http.NewServeMux())

	_, err := job.SyncPosts(context.Background(), "", 0)
	fatal := AsFatal(err)
	if fatal == nil || fatal.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 FatalError, got %v", err)
	}
}

func TestSyncPostsFeedError(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/fe_page/posts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190}}`)
	})
	job, database := setupJob(t, mux)

	ctx := context.Background()
	err := database.SettingUpsert(ctx, SettingSystemToken, "sys-tok", "")
	if err != nil {
		t.Fatalf("unexpected setting upsert error: %v", err)
	}

	_, err = job.SyncPosts(ctx, "fe_page", 0)
	fatal := AsFatal(err)
	if fatal == nil {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if fatal.Message != "failed to fetch posts" {
		t.Errorf("got message %q, want failed to fetch posts", fatal.Message)
	}
	if fatal.Details != "Invalid OAuth access token." {
		t.Errorf("upstream message not attached, got %q", fatal.Details)
	}
}

// graphPostsHandler serves a two post feed with full detail and insights
// for the first post and failing detail/insights for the second.
func graphPostsHandler(t *testing.T, pageID string, wantToken string) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/v21.0/%s/posts", pageID), func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("access_token"); got != wantToken {
			t.Errorf("got feed access token %q, want %q", got, wantToken)
		}
		fmt.Fprintf(w, `{"data":[
			{"id":"%[1]s_p1","message":"first","created_time":"2026-08-25T09:15:00+0000"},
			{"id":"%[1]s_p2","message":"second","created_time":"2026-08-26T10:00:00+0000"}]}`, pageID)
	})
	mux.HandleFunc(fmt.Sprintf("/v21.0/%s_p1", pageID), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"id":"%s_p1",
			"attachments":{"data":[{"type":"photo","media_type":"photo","media":{"image":{"src":"https://img.example.com/p1.jpg"}}}]},
			"permalink_url":"https://facebook.com/p1",
			"reactions":{"summary":{"total_count":42}},
			"comments":{"summary":{"total_count":7}},
			"shares":{"count":3}}`, pageID)
	})
	mux.HandleFunc(fmt.Sprintf("/v21.0/%s_p1/insights", pageID), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"name":"post_impressions","values":[{"value":100}]},
			{"name":"post_impressions_unique","values":[{"value":80}]},
			{"name":"post_engaged_users","values":[{"value":30}]},
			{"name":"post_clicks","values":[{"value":25}]},
			{"name":"post_clicks_by_type","values":[{"value":{"link clicks":10,"photo view":5}}]},
			{"name":"post_reactions_by_type_total","values":[{"value":{"like":20,"love":8,"sorry":2,"anger":2}}]},
			{"name":"post_negative_feedback","values":[{"value":1}]},
			{"name":"post_video_views","values":[{"value":0}]}]}`)
	})
	// The second post's enrichment calls fail; the post must still land
	// with zero values.
	mux.HandleFunc(fmt.Sprintf("/v21.0/%s_p2", pageID), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc(fmt.Sprintf("/v21.0/%s_p2/insights", pageID), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"no insights yet","type":"GraphMethodException","code":100}}`)
	})
	return mux
}

func TestSyncPostsEndToEnd(t *testing.T) {

	job, database := setupJob(t, graphPostsHandler(t, "e2e", "page-tok"))
	ctx := context.Background()

	// The page tier token takes priority; also link the page to a
	// marketing project with a client number.
	err := database.AccountUpsert(ctx, db.AccountRecord{PageID: "e2e", AccessToken: "page-tok"})
	if err != nil {
		t.Fatalf("unexpected account upsert error: %v", err)
	}
	_, err = database.ExecContext(ctx, `INSERT INTO page_links (page_id, marketing_reference) VALUES ('e2e', 'MRK-001')`)
	if err != nil {
		t.Fatalf("unexpected page link insert error: %v", err)
	}
	_, err = database.ExecContext(ctx, `INSERT INTO projects (project_reference, client_number) VALUES ('MRK-001', 'C-9')`)
	if err != nil {
		t.Fatalf("unexpected project insert error: %v", err)
	}

	result, err := job.SyncPosts(ctx, "e2e", 0)
	if err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}

	if !result.Success {
		t.Error("expected success")
	}
	if got, want := result.Total, 2; got != want {
		t.Errorf("got total %d, want %d", got, want)
	}
	if got, want := len(result.Posts), 2; got != want {
		t.Fatalf("got %d synced posts, want %d", got, want)
	}
	if got, want := len(result.FailedPosts), 0; got != want {
		t.Errorf("got %d failed posts, want %d", got, want)
	}

	// The first post carries full detail.
	p1 := result.Posts[0]
	want := db.PostRecord{
		PostID:             "e2e_p1",
		PageID:             "e2e",
		Date:               "2026-08-25T09:15:00Z",
		Message:            "first",
		PostType:           "photo",
		FullPicture:        "https://img.example.com/p1.jpg",
		PermalinkURL:       "https://facebook.com/p1",
		LikesCount:         42,
		CommentsCount:      7,
		SharesCount:        3,
		MarketingReference: ptrStr("MRK-001"),
		ClientNumber:       ptrStr("C-9"),
	}
	if diff := cmp.Diff(want, p1); diff != "" {
		t.Errorf("post mismatch (-want +got):\n%s", diff)
	}

	// The second post degraded to zero enrichment values.
	p2 := result.Posts[1]
	if p2.PostType != "" || p2.FullPicture != "" || p2.LikesCount != 0 {
		t.Errorf("expected zero enrichment values, got %+v", p2)
	}

	// The first post's metrics snapshot is keyed by today's date and
	// carries the breakdown extractions, including the space-separated
	// key spellings.
	rows, err := database.PostMetricsRows(ctx, "e2e_p1")
	if err != nil {
		t.Fatalf("unexpected metrics rows error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d metrics rows, want 1", len(rows))
	}
	metrics := rows[0]
	if got, want := metrics.Date, "2026-08-28"; got != want {
		t.Errorf("got metrics date %s, want %s", got, want)
	}
	if metrics.Impressions != 100 || metrics.Reach != 80 || metrics.EngagedUsers != 30 || metrics.Engagement != 30 {
		t.Errorf("scalar metrics not applied: %+v", metrics)
	}
	// The by-type breakdown refines the scalar clicks fallback of 25.
	if metrics.LinkClicks != 10 || metrics.PhotoClicks != 5 {
		t.Errorf("clicks by type not extracted: %+v", metrics)
	}
	// The reactions total comes from the post detail's summary count, not
	// from summing the by-type breakdown (which adds to 32 here).
	if metrics.Reactions != 42 {
		t.Errorf("got reactions total %d, want 42", metrics.Reactions)
	}
	if metrics.ReactionLove.Count != 8 || metrics.ReactionSad.Count != 2 || metrics.ReactionAngry.Count != 2 {
		t.Errorf("reaction breakdowns not extracted: %+v", metrics)
	}
	if metrics.Comments != 7 || metrics.Shares != 3 {
		t.Errorf("detail counts not carried to metrics: %+v", metrics)
	}

	// The second post's insights call failed, so no snapshot is written
	// for it even though the post itself synced.
	rows, err = database.PostMetricsRows(ctx, "e2e_p2")
	if err != nil {
		t.Fatalf("unexpected metrics rows error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no snapshot for a failed insights fetch, got %+v", rows)
	}
}

// failingStore wraps a Store to simulate a store write failure for one
// post.
type failingStore struct {
	Store
	failPostID string
}

func (f *failingStore) PostUpsert(ctx context.Context, post db.PostRecord) error {
	if post.PostID == f.failPostID {
		return errors.New("simulated store failure")
	}
	return f.Store.PostUpsert(ctx, post)
}

func TestSyncPostsPartialFailure(t *testing.T) {

	job, database := setupJob(t, graphPostsHandler(t, "pf", "page-tok"))
	ctx := context.Background()

	err := database.AccountUpsert(ctx, db.AccountRecord{PageID: "pf", AccessToken: "page-tok"})
	if err != nil {
		t.Fatalf("unexpected account upsert error: %v", err)
	}
	job.db = &failingStore{Store: database, failPostID: "pf_p2"}

	result, err := job.SyncPosts(ctx, "pf", 0)
	if err != nil {
		t.Fatalf("one bad post must not abort the batch: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if got, want := result.Total, 2; got != want {
		t.Errorf("got total %d, want %d", got, want)
	}
	if len(result.Posts) != 1 || result.Posts[0].PostID != "pf_p1" {
		t.Errorf("expected only pf_p1 synced, got %+v", result.Posts)
	}
	if diff := cmp.Diff([]string{"pf_p2"}, result.FailedPosts); diff != "" {
		t.Errorf("failed posts mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncPageInsights(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/pi_page/insights", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("period") {
		case "day":
			// The [since, until] window must cover yesterday only.
			since := r.URL.Query().Get("since")
			until := r.URL.Query().Get("until")
			wantSince := fmt.Sprintf("%d", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC).Unix())
			wantUntil := fmt.Sprintf("%d", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC).Unix())
			if since != wantSince || until != wantUntil {
				t.Errorf("got window [%s, %s], want [%s, %s]", since, until, wantSince, wantUntil)
			}
			fmt.Fprint(w, `{"data":[
				{"name":"page_fans","values":[{"value":5400}]},
				{"name":"page_fan_adds","values":[{"value":25}]},
				{"name":"page_fan_removes","values":[{"value":40}]},
				{"name":"page_impressions","values":[{"value":9000}]},
				{"name":"page_impressions_unique","values":[{"value":6000}]},
				{"name":"page_impressions_organic","values":[{"value":4200}]},
				{"name":"page_impressions_paid","values":[{"value":1800}]},
				{"name":"page_post_engagements","values":[{"value":480}]},
				{"name":"page_engaged_users","values":[{"value":450}]}]}`)
		case "lifetime":
			fmt.Fprint(w, `{"data":[
				{"name":"page_fans_gender_age","values":[{"value":{"F.25-34":120,"M.25-34":80}}]},
				{"name":"page_fans_country","values":[{"value":{"GB":150,"IE":50}}]},
				{"name":"page_fans_city","values":[{"value":{"London, England":90}}]}]}`)
		default:
			t.Errorf("unexpected period %q", r.URL.Query().Get("period"))
		}
	})
	job, database := setupJob(t, mux)
	ctx := context.Background()

	err := database.SettingUpsert(ctx, SettingSystemToken, "sys-tok", "")
	if err != nil {
		t.Fatalf("unexpected setting upsert error: %v", err)
	}

	// A prior insights row inside the trailing seven day window and one
	// outside it.
	for _, prior := range []db.PageInsightsRecord{
		{PageID: "pi_page", Date: "2026-08-23", NetGrowth: 10},
		{PageID: "pi_page", Date: "2026-08-19", NetGrowth: 99},
	} {
		if err := database.PageInsightsUpsert(ctx, prior); err != nil {
			t.Fatalf("unexpected insights upsert error: %v", err)
		}
	}

	result, err := job.SyncPageInsights(ctx, "pi_page")
	if err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}

	dateFrom := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	rows, err := database.PageInsightsGet(ctx, "pi_page", dateFrom, dateFrom, 10, 0)
	if err != nil {
		t.Fatalf("unexpected insights get error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d insights rows, want 1", len(rows))
	}
	row := rows[0]
	if row.PageFans != 5400 || row.PageImpressions != 9000 || row.PageImpressionsUnique != 6000 {
		t.Errorf("metrics not applied: %+v", row)
	}
	if got, want := row.NetGrowth, -15; got != want {
		t.Errorf("got net growth %d, want %d", got, want)
	}
	if got, want := row.EngagementRate, 7.5; got != want {
		t.Errorf("got engagement rate %v, want %v", got, want)
	}

	// The account summary follow-on sums the seven day window only:
	// 10 + (-15), excluding the 2026-08-19 row.
	account, err := database.AccountGet(ctx, "pi_page")
	if err != nil {
		t.Fatalf("unexpected account get error: %v", err)
	}
	if got, want := account.NetGrowth7d, -5; got != want {
		t.Errorf("got 7d net growth %d, want %d", got, want)
	}
	if account.FanCount != 5400 || account.EngagementRate != 7.5 {
		t.Errorf("summary totals not written: %+v", account)
	}

	// The demographics row landed keyed by yesterday.
	var breakdown db.Breakdown
	err = database.QueryRowxContext(
		ctx,
		"SELECT age_gender_breakdown FROM page_demographics WHERE page_id = 'pi_page' AND date = '2026-08-27'",
	).Scan(&breakdown)
	if err != nil {
		t.Fatalf("unexpected demographics scan error: %v", err)
	}
	if diff := cmp.Diff(db.Breakdown{"F.25-34": 120, "M.25-34": 80}, breakdown); diff != "" {
		t.Errorf("breakdown mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncPageInsightsBestEffort(t *testing.T) {

	// Both insight endpoints fail; the run must still succeed with no
	// rows written.
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/be_page/insights", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"metrics unavailable","code":100}}`)
	})
	job, database := setupJob(t, mux)
	ctx := context.Background()

	err := database.SettingUpsert(ctx, SettingOAuthToken, "oauth-tok", "")
	if err != nil {
		t.Fatalf("unexpected setting upsert error: %v", err)
	}

	result, err := job.SyncPageInsights(ctx, "be_page")
	if err != nil {
		t.Fatalf("best-effort steps must not fail the job: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if !strings.Contains(result.Message, "unavailable") {
		t.Errorf("expected degraded message, got %q", result.Message)
	}
}

func TestSyncAccounts(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/acc_page", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("access_token"); got != "sys-tok" {
			t.Errorf("got profile access token %q, want sys-tok", got)
		}
		fmt.Fprint(w, `{
			"id":"acc_page","name":"Example Page","username":"example",
			"access_token":"page-specific-tok","followers_count":1200,
			"fan_count":1100,"category":"Business",
			"verification_status":"blue_verified"}`)
	})
	mux.HandleFunc("/v21.0/acc_missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"unknown page","code":803}}`)
	})
	job, database := setupJob(t, mux)
	ctx := context.Background()

	err := database.SettingUpsert(ctx, SettingSystemToken, "sys-tok", "")
	if err != nil {
		t.Fatalf("unexpected setting upsert error: %v", err)
	}

	result, err := job.SyncAccounts(ctx, []string{"acc_page", "acc_missing"}, ptrStr("C-1"))
	if err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	if got, want := result.Total, 2; got != want {
		t.Errorf("got total %d, want %d", got, want)
	}
	if diff := cmp.Diff([]string{"acc_missing"}, result.FailedPosts); diff != "" {
		t.Errorf("failed pages mismatch (-want +got):\n%s", diff)
	}

	account, err := database.AccountGet(ctx, "acc_page")
	if err != nil {
		t.Fatalf("unexpected account get error: %v", err)
	}
	if account.Name != "Example Page" || account.AccessToken != "page-specific-tok" {
		t.Errorf("profile not stored: %+v", account)
	}
	if account.ClientNumber == nil || *account.ClientNumber != "C-1" {
		t.Errorf("explicit client number not applied: %v", account.ClientNumber)
	}

	// The stored page token now serves as the page credential tier.
	token, tier, err := job.resolveToken(ctx, "acc_page")
	if err != nil {
		t.Fatalf("unexpected token resolution error: %v", err)
	}
	if token != "page-specific-tok" || tier != "page" {
		t.Errorf("got token %q tier %q, want page-specific-tok/page", token, tier)
	}
}

func TestTokenCheck(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/me", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"9001","name":"System User"}`)
	})
	job, database := setupJob(t, mux)
	ctx := context.Background()

	_, _, err := job.TokenCheck(ctx, "")
	if AsFatal(err) == nil {
		t.Fatalf("expected FatalError with no tokens, got %v", err)
	}

	err = database.SettingUpsert(ctx, SettingOAuthToken, "oauth-tok", "")
	if err != nil {
		t.Fatalf("unexpected setting upsert error: %v", err)
	}
	tier, owner, err := job.TokenCheck(ctx, "")
	if err != nil {
		t.Fatalf("unexpected token check error: %v", err)
	}
	if tier != "oauth" {
		t.Errorf("got tier %q, want oauth", tier)
	}
	if owner == nil || owner.Name != "System User" {
		t.Errorf("owner not resolved: %+v", owner)
	}
}
