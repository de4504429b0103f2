package facebook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setup creates a test environment for running API client tests. It
// returns a request multiplexer for registering handlers, the API Client
// configured to use the test server, and a teardown function to close the
// server.
func setup(t *testing.T) (mux *http.ServeMux, client *Client, teardown func()) {
	t.Helper()
	mux = http.NewServeMux()
	server := httptest.NewServer(mux)
	client = &Client{
		httpClient: server.Client(),
		baseURL:    server.URL,
		apiVersion: DefaultAPIVersion,
		log: slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelDebug},
		)),
	}
	teardown = func() {
		server.Close()
	}
	return mux, client, teardown
}

// serveFile registers a handler on mux serving the named testdata file for
// the given path, recording the received query values.
func serveFile(t *testing.T, mux *http.ServeMux, path, jsonFile string, gotQuery *map[string]string) {
	t.Helper()
	content, err := os.ReadFile(filepath.Join("testdata", jsonFile))
	if err != nil {
		t.Fatalf("failed to read json file %s: %v", jsonFile, err)
	}
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected method GET, got %s", r.Method)
		}
		if gotQuery != nil {
			q := map[string]string{}
			for k := range r.URL.Query() {
				q[k] = r.URL.Query().Get(k)
			}
			*gotQuery = q
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	})
}

func TestGetFeed(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	var gotQuery map[string]string
	serveFile(t, mux, "/"+DefaultAPIVersion+"/123/posts", "feed_response.json", &gotQuery)

	posts, err := client.GetFeed(context.Background(), "123", "token-abc", 25)
	if err != nil {
		t.Fatalf("GetFeed returned an unexpected error: %v", err)
	}

	if got, want := len(posts), 3; got != want {
		t.Fatalf("expected %d posts, got %d", want, got)
	}
	if got, want := posts[0].ID, "123_1001"; got != want {
		t.Errorf("got post id %s want %s", got, want)
	}
	// The third post has no message field; an empty string is expected.
	if got, want := posts[2].Message, ""; got != want {
		t.Errorf("got message %q want %q", got, want)
	}

	if got, want := gotQuery["limit"], "25"; got != want {
		t.Errorf("got limit %q want %q", got, want)
	}
	if got, want := gotQuery["fields"], feedFields; got != want {
		t.Errorf("got fields %q want %q", got, want)
	}
	if got, want := gotQuery["access_token"], "token-abc"; got != want {
		t.Errorf("got access_token %q want %q", got, want)
	}
}

func TestGetFeedError(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	content, err := os.ReadFile(filepath.Join("testdata", "error_response.json"))
	if err != nil {
		t.Fatal(err)
	}
	mux.HandleFunc("/"+DefaultAPIVersion+"/123/posts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write(content)
	})

	_, err = client.GetFeed(context.Background(), "123", "bad-token", 25)
	if err == nil {
		t.Fatal("expected an error, but got nil")
	}

	apiErr := AsAPIError(err)
	if apiErr == nil {
		t.Fatalf("expected an *APIError in chain, got %v", err)
	}
	if got, want := apiErr.Message, "Invalid OAuth access token."; got != want {
		t.Errorf("got upstream message %q want %q", got, want)
	}
	if got, want := apiErr.Code, 190; got != want {
		t.Errorf("got upstream code %d want %d", got, want)
	}
}

func TestGetPostDetail(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	serveFile(t, mux, "/"+DefaultAPIVersion+"/123_1001", "post_detail.json", nil)

	detail, err := client.GetPostDetail(context.Background(), "123_1001", "token-abc")
	if err != nil {
		t.Fatalf("GetPostDetail returned an unexpected error: %v", err)
	}

	if got, want := detail.PermalinkURL, "https://www.facebook.com/123/posts/1001"; got != want {
		t.Errorf("got permalink %q want %q", got, want)
	}
	if got, want := detail.Reactions.Summary.TotalCount, 42; got != want {
		t.Errorf("got reactions %d want %d", got, want)
	}
	if got, want := detail.Shares.Count, 3; got != want {
		t.Errorf("got shares %d want %d", got, want)
	}
	if got, want := len(detail.Attachments.Data), 1; got != want {
		t.Fatalf("got %d attachments want %d", got, want)
	}
	if got, want := detail.Attachments.Data[0].Media.Image.Src, "https://scontent.example/p1-image.jpg"; got != want {
		t.Errorf("got image src %q want %q", got, want)
	}
}

func TestGetPostInsights(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	serveFile(t, mux, "/"+DefaultAPIVersion+"/123_1001/insights", "post_insights.json", nil)

	metrics, err := client.GetPostInsights(context.Background(), "123_1001", "token-abc")
	if err != nil {
		t.Fatalf("GetPostInsights returned an unexpected error: %v", err)
	}
	if got, want := len(metrics), 8; got != want {
		t.Fatalf("expected %d metrics, got %d", want, got)
	}

	byName := map[string]Metric{}
	for _, m := range metrics {
		byName[m.Name] = m
	}

	// Scalar value.
	if got, want := byName["post_impressions"].Values[0].Value.Int(), 1500; got != want {
		t.Errorf("got impressions %d want %d", got, want)
	}

	// Breakdown value with the space-separated key spelling.
	clicks := byName["post_clicks_by_type"].Values[0].Value
	if got, want := clicks.Lookup("link_clicks", "link clicks"), 60; got != want {
		t.Errorf("got link clicks %d want %d", got, want)
	}
	if got, want := clicks.Lookup("photo_view", "photo view"), 30; got != want {
		t.Errorf("got photo views %d want %d", got, want)
	}
	if got, want := clicks.Lookup("video_view", "video view"), 0; got != want {
		t.Errorf("got video views %d want %d", got, want)
	}
}

func TestGetPageInsights(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	var gotQuery map[string]string
	serveFile(t, mux, "/"+DefaultAPIVersion+"/123/insights", "page_insights.json", &gotQuery)

	since := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	metrics, err := client.GetPageInsights(context.Background(), "123", "token-abc", "page_fans,page_fan_adds", since, until)
	if err != nil {
		t.Fatalf("GetPageInsights returned an unexpected error: %v", err)
	}
	if got, want := len(metrics), 9; got != want {
		t.Fatalf("expected %d metrics, got %d", want, got)
	}

	if got, want := gotQuery["period"], "day"; got != want {
		t.Errorf("got period %q want %q", got, want)
	}
	if gotQuery["since"] == "" || gotQuery["until"] == "" {
		t.Errorf("expected since and until to be set, got %v", gotQuery)
	}
}

func TestGetPageLifetimeInsights(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	var gotQuery map[string]string
	serveFile(t, mux, "/"+DefaultAPIVersion+"/123/insights", "demographics.json", &gotQuery)

	metrics, err := client.GetPageLifetimeInsights(context.Background(), "123", "token-abc", "page_fans_gender_age,page_fans_country,page_fans_city")
	if err != nil {
		t.Fatalf("GetPageLifetimeInsights returned an unexpected error: %v", err)
	}
	if got, want := len(metrics), 3; got != want {
		t.Fatalf("expected %d metrics, got %d", want, got)
	}
	if got, want := gotQuery["period"], "lifetime"; got != want {
		t.Errorf("got period %q want %q", got, want)
	}

	ageGender := metrics[0].Values[0].Value.Breakdown
	if got, want := ageGender["F.25-34"], 820.0; got != want {
		t.Errorf("got %f want %f", got, want)
	}
}

func TestGetPageProfile(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/"+DefaultAPIVersion+"/123", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Query().Get("fields"), "access_token") {
			t.Errorf("expected access_token in fields, got %q", r.URL.Query().Get("fields"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"123","name":"Example Page","username":"example","access_token":"page-token","followers_count":5500,"fan_count":5400,"category":"Business","verification_status":"not_verified"}`))
	})

	profile, err := client.GetPageProfile(context.Background(), "123", "token-abc")
	if err != nil {
		t.Fatalf("GetPageProfile returned an unexpected error: %v", err)
	}
	if got, want := profile.AccessToken, "page-token"; got != want {
		t.Errorf("got page token %q want %q", got, want)
	}
	if got, want := profile.FanCount, 5400; got != want {
		t.Errorf("got fan count %d want %d", got, want)
	}
}

func TestFlexValueDecode(t *testing.T) {

	var mv MetricValue
	if err := unmarshal(`{"value": 12, "end_time": "2026-08-28T07:00:00+0000"}`, &mv); err != nil {
		t.Fatal(err)
	}
	if got, want := mv.Value.Int(), 12; got != want {
		t.Errorf("got %d want %d", got, want)
	}

	if err := unmarshal(`{"value": {"love": 3}}`, &mv); err != nil {
		t.Fatal(err)
	}
	if got, want := mv.Value.Lookup("love"), 3; got != want {
		t.Errorf("got %d want %d", got, want)
	}

	if err := unmarshal(`{"value": null}`, &mv); err != nil {
		t.Fatal(err)
	}
	if got, want := mv.Value.Int(), 0; got != want {
		t.Errorf("got %d want %d", got, want)
	}

	if err := unmarshal(`{"value": "nonsense"}`, &mv); err == nil {
		t.Error("expected an error for a string value")
	}
}

// unmarshal is a test helper wrapping json.Unmarshal for strings.
func unmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
