package web

// This file describes the JSON web server for this project.
//
// Note that modules called by this server should provide self-describing errors since
// these are sent directly to an internal server error func:
//
//	web.ServerError(w, r, err)
//
// This web server also sets out each endpoint handler as a HandlerFunc. This allows for
// the router to provide arguments to the handler, as discussed in Mat Ryer's post at
//
//	https://grafana.com/blog/how-i-write-http-services-in-go-after-13-years/
//
// The sync endpoints distinguish two failure classes: a *sync.FatalError is
// returned to the caller with its status and an {error, details} body, while
// any other error is logged and reported as a plain 500 {error} body.
//
// Helper functions, such as `ServerError` and `clientError` are at the end of the file.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"metasync/apiclients/facebook"
	"metasync/config"
	"metasync/db"
	"metasync/internal/token"
	"metasync/sync"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// pageLen is the number of items to return in a page of listing results.
const pageLen = 50

// JobRunner sets out the sync operations the server triggers, fulfilled by
// *sync.Job.
type JobRunner interface {
	SyncPosts(ctx context.Context, pageID string, limit int) (*sync.Result, error)
	SyncPageInsights(ctx context.Context, pageID string) (*sync.Result, error)
	SyncAccounts(ctx context.Context, pageIDs []string, clientNumber *string) (*sync.Result, error)
	TokenCheck(ctx context.Context, pageID string) (string, *facebook.TokenOwner, error)
	SaveOAuthToken(ctx context.Context, token string) error
}

// Lister sets out the listing queries used by the admin endpoints,
// fulfilled by *db.DB.
type Lister interface {
	PostsGet(ctx context.Context, pageID string, dateFrom, dateTo time.Time, limit, offset int) ([]db.PostListing, error)
	PageInsightsGet(ctx context.Context, pageID string, dateFrom, dateTo time.Time, limit, offset int) ([]db.PageInsightsListing, error)
}

// WebApp is the configuration object for the web server.
type WebApp struct {
	log      *slog.Logger
	cfg      *config.Config
	db       Lister
	job      JobRunner
	sessions *scs.SessionManager
	server   *http.Server
}

// New initialises a WebApp.
func New(
	logger *slog.Logger,
	cfg *config.Config,
	lister Lister,
	job JobRunner,
) (*WebApp, error) {
	if logger == nil {
		return nil, errors.New("nil logger provided to web.New")
	}
	if cfg == nil {
		return nil, errors.New("nil config provided to web.New")
	}
	if lister == nil || job == nil {
		return nil, errors.New("nil db or job provided to web.New")
	}

	// Session manager holding the OAuth state and verifier during the
	// facebook login flow.
	sessions := scs.New()
	sessions.Lifetime = 1 * time.Hour

	server := &http.Server{
		Addr:              cfg.Web.ListenAddress,
		ReadHeaderTimeout: time.Duration(30 * time.Second),
		WriteTimeout:      time.Duration(30 * time.Second),
		MaxHeaderBytes:    1 << 19, // 100k ish
	}

	webApp := &WebApp{
		log:      logger,
		cfg:      cfg,
		db:       lister,
		job:      job,
		sessions: sessions,
		server:   server,
	}
	return webApp, nil
}

// StartServer starts a WebApp.
func (web *WebApp) StartServer() error {
	routes, err := web.routes()
	if err != nil {
		return err
	}
	web.server.Handler = routes
	web.log.Info("starting server", "address", web.cfg.Web.ListenAddress)
	return web.server.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (web *WebApp) Shutdown(ctx context.Context) error {
	return web.server.Shutdown(ctx)
}

// routes connects all of the endpoints and provides middleware.
func (web *WebApp) routes() (http.Handler, error) {

	r := mux.NewRouter()

	// Sync trigger endpoints.
	r.Handle(
		"/sync/posts",
		web.handleSyncPosts(),
	).Methods("POST")
	r.Handle(
		"/sync/page-insights",
		web.handleSyncPageInsights(),
	).Methods("POST")
	r.Handle(
		"/sync/accounts",
		web.handleSyncAccounts(),
	).Methods("POST")

	// Listing endpoints.
	r.Handle(
		"/posts",
		web.handlePosts(),
	).Methods("GET")
	r.Handle(
		"/page-insights",
		web.handlePageInsights(),
	).Methods("GET")

	// Token health.
	r.Handle(
		"/token/check",
		web.handleTokenCheck(),
	).Methods("GET")

	// The facebook OAuth login flow, when app credentials are configured.
	// These endpoints are exempt from the service key check since they are
	// driven by a browser redirect dance.
	if web.cfg.OAuthEnabled() {
		twc, err := token.NewTokenWebClient(
			web.cfg.Facebook.OAuth2Config,
			web.sessions,
			web,
			web.job,
			"/facebook/done",
		)
		if err != nil {
			return nil, fmt.Errorf("token web client error: %w", err)
		}
		r.Handle("/facebook/login", twc.InitiateWebLogin()).Methods("GET")
		r.Handle("/facebook/callback", twc.WebLoginCallBack()).Methods("GET")
		r.Handle("/facebook/done", web.handleFacebookDone()).Methods("GET")
	}

	// Middleware, outermost first: request logging, CORS (which also
	// terminates OPTIONS preflights), service key auth, panic recovery,
	// then sessions for the OAuth flow.
	var h http.Handler = web.sessions.LoadAndSave(r)
	h = web.recoverPanic(h)
	h = web.serviceKeyAuth(h)
	h = web.corsHeaders(h)
	h = handlers.LoggingHandler(os.Stdout, h)
	return h, nil
}

// corsHeaders sets permissive CORS headers on every response and answers
// OPTIONS preflight requests directly.
func (web *WebApp) corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-Info, Apikey")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serviceKeyAuth requires the configured service key in either the Apikey
// header or as an Authorization bearer token. The facebook OAuth endpoints
// are exempt.
func (web *WebApp) serviceKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/facebook/") {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("Apikey")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if key == "" || key != web.cfg.ServiceKey {
			web.clientError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic turns a handler panic into a 500 response rather than a
// dropped connection.
func (web *WebApp) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				w.Header().Set("Connection", "close")
				web.ServerError(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// syncPostsRequest is the JSON body for the /sync/posts endpoint.
type syncPostsRequest struct {
	PageID string `json:"pageId"`
	Limit  int    `json:"limit"`
}

// handleSyncPosts triggers a post synchronization run for one page.
func (web *WebApp) handleSyncPosts() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req syncPostsRequest
		if err := decodeJSONBody(r, &req); err != nil {
			web.clientError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		result, err := web.job.SyncPosts(r.Context(), req.PageID, req.Limit)
		if err != nil {
			web.jobError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, result)
	})
}

// syncPageInsightsRequest is the JSON body for the /sync/page-insights
// endpoint.
type syncPageInsightsRequest struct {
	PageID string `json:"pageId"`
}

// handleSyncPageInsights triggers a page insights and demographics
// synchronization run for one page.
func (web *WebApp) handleSyncPageInsights() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req syncPageInsightsRequest
		if err := decodeJSONBody(r, &req); err != nil {
			web.clientError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		result, err := web.job.SyncPageInsights(r.Context(), req.PageID)
		if err != nil {
			web.jobError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, result)
	})
}

// syncAccountsRequest is the JSON body for the /sync/accounts endpoint. An
// empty pageIds list falls back to the configured pages.
type syncAccountsRequest struct {
	PageIDs      []string `json:"pageIds"`
	ClientNumber *string  `json:"clientNumber"`
}

// handleSyncAccounts triggers an account profile synchronization run.
func (web *WebApp) handleSyncAccounts() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req syncAccountsRequest
		if err := decodeJSONBody(r, &req); err != nil {
			web.clientError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		pageIDs := req.PageIDs
		if len(pageIDs) == 0 {
			pageIDs = web.cfg.PageIDs
		}
		result, err := web.job.SyncAccounts(r.Context(), pageIDs, req.ClientNumber)
		if err != nil {
			web.jobError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, result)
	})
}

// listingResponse is the envelope for the admin listing endpoints. Next and
// Previous carry relative query strings for the adjacent pages, omitted at
// either end of the result set.
type listingResponse struct {
	Data     any    `json:"data"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	Pages    int    `json:"pages"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// handlePosts serves the /posts listing of stored posts.
func (web *WebApp) handlePosts() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		form := NewSearchPostsForm()
		if err := DecodeURLParams(r, form); err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}

		validator := NewValidator()
		form.Validate(validator)
		if !validator.Valid() {
			web.validationError(w, validator)
			return
		}

		posts, err := web.db.PostsGet(
			ctx,
			form.PageID,
			form.DateFrom,
			form.DateTo,
			pageLen,
			form.Offset(),
		)
		if err != nil && err != sql.ErrNoRows {
			web.ServerError(w, r, err)
			return
		}

		// Each row carries the search query row count as a field.
		var recordsNo int
		if len(posts) > 0 {
			recordsNo = posts[0].RowCount
		}
		pagination, err := NewPagination(pageLen, recordsNo, form.Page, r.URL.Query())
		if err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}

		web.writeJSON(w, http.StatusOK, listingResponse{
			Data:     newViewPosts(posts),
			Total:    recordsNo,
			Page:     pagination.PageNo,
			Pages:    pagination.Pages,
			Next:     pagination.NextURL(),
			Previous: pagination.PreviousURL(),
		})
	})
}

// handlePageInsights serves the /page-insights listing of stored daily page
// insights.
func (web *WebApp) handlePageInsights() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		form := NewSearchInsightsForm()
		if err := DecodeURLParams(r, form); err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}

		validator := NewValidator()
		form.Validate(validator)
		if !validator.Valid() {
			web.validationError(w, validator)
			return
		}

		insights, err := web.db.PageInsightsGet(
			ctx,
			form.PageID,
			form.DateFrom,
			form.DateTo,
			pageLen,
			form.Offset(),
		)
		if err != nil && err != sql.ErrNoRows {
			web.ServerError(w, r, err)
			return
		}

		var recordsNo int
		if len(insights) > 0 {
			recordsNo = insights[0].RowCount
		}
		pagination, err := NewPagination(pageLen, recordsNo, form.Page, r.URL.Query())
		if err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}

		web.writeJSON(w, http.StatusOK, listingResponse{
			Data:     newViewPageInsights(insights),
			Total:    recordsNo,
			Page:     pagination.PageNo,
			Pages:    pagination.Pages,
			Next:     pagination.NextURL(),
			Previous: pagination.PreviousURL(),
		})
	})
}

// tokenCheckResponse reports the resolved credential tier and token owner.
type tokenCheckResponse struct {
	Valid bool                 `json:"valid"`
	Tier  string               `json:"tier"`
	Owner *facebook.TokenOwner `json:"owner"`
}

// handleTokenCheck serves /token/check, resolving the credential tiers and
// verifying the winning token against the Graph API.
func (web *WebApp) handleTokenCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageID := r.URL.Query().Get("pageId")
		tier, owner, err := web.job.TokenCheck(r.Context(), pageID)
		if err != nil {
			web.jobError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, tokenCheckResponse{
			Valid: true,
			Tier:  tier,
			Owner: owner,
		})
	})
}

// handleFacebookDone is the landing endpoint after a completed OAuth login.
func (web *WebApp) handleFacebookDone() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		web.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "facebook login complete",
		})
	})
}

/* -------------------------------------------------------------------------- */
// Helpers
/* -------------------------------------------------------------------------- */

// decodeJSONBody decodes a request's JSON body into dst, rejecting unknown
// fields.
func decodeJSONBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeJSON writes v as a JSON response with the given status.
func (web *WebApp) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		web.log.Error("response encoding error", "error", err)
	}
}

// jobError reports a sync job error. A *sync.FatalError is relayed with its
// status and details; anything else is an internal server error.
func (web *WebApp) jobError(w http.ResponseWriter, r *http.Request, err error) {
	if fatal := sync.AsFatal(err); fatal != nil {
		web.writeJSON(w, fatal.Status, errorResponse{
			Error:   fatal.Message,
			Details: fatal.Details,
		})
		return
	}
	web.ServerError(w, r, err)
}

// validationError reports form validation failures as a 400 with the field
// errors joined into the details.
func (web *WebApp) validationError(w http.ResponseWriter, v *Validator) {
	details := make([]string, 0, len(v.Errors))
	for field, message := range v.Errors {
		details = append(details, fmt.Sprintf("%s: %s", field, message))
	}
	web.writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   "invalid query parameters",
		Details: strings.Join(details, "; "),
	})
}

// ServerError logs and returns an internal server error. The error should
// contain the information needed for logging.
func (web *WebApp) ServerError(w http.ResponseWriter, r *http.Request, errs ...error) {
	err := errors.Join(errs...)
	web.log.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	web.writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error: "internal server error",
	})
}

// clientError returns a client error.
func (web *WebApp) clientError(w http.ResponseWriter, message string, status int) {
	if message == "" {
		message = http.StatusText(status)
	}
	web.writeJSON(w, status, errorResponse{Error: message})
}
