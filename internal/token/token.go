// Package token provides the OAuth2 web login flow which obtains a Facebook
// user token, the third credential tier of the sync jobs. The obtained
// access token is handed to a Saver for persistence (the settings store)
// rather than being held only in the web session.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ValueStorer is an interface for storing values. Typically this will be
// implemented by a session store such as `github.com/alexedwards/scs/v2`.
type ValueStorer interface {
	Put(ctx context.Context, key string, val any)
	Remove(ctx context.Context, key string)
	GetString(ctx context.Context, key string) string
}

// WebServerError is an interface for raising web server errors.
type WebServerError interface {
	ServerError(w http.ResponseWriter, r *http.Request, errs ...error)
}

// Saver persists an access token obtained from a completed login flow.
type Saver interface {
	SaveOAuthToken(ctx context.Context, token string) error
}

// TokenWebClient provides the OAuth2 web handlers acting as a client to the
// Facebook login dialog, with PKCE and state protection.
type TokenWebClient struct {
	oauthCfg  *oauth2.Config
	vs        ValueStorer
	errLogger WebServerError
	saver     Saver
	redirURL  string
}

// NewTokenWebClient creates a new TokenWebClient.
func NewTokenWebClient(
	oauthCfg *oauth2.Config,
	vs ValueStorer,
	errLogger WebServerError,
	saver Saver,
	redirURL string, // eg "/token/check"
) (*TokenWebClient, error) {
	if oauthCfg == nil {
		return nil, errors.New("nil oauthCfg provided to NewTokenWebClient")
	}
	if vs == nil {
		return nil, errors.New("nil ValueStorer (session) provided to NewTokenWebClient")
	}
	if errLogger == nil {
		return nil, errors.New("nil WebServerError provided to NewTokenWebClient")
	}
	if saver == nil {
		return nil, errors.New("nil Saver provided to NewTokenWebClient")
	}
	if redirURL == "" {
		return nil, errors.New("empty redirection URL provided")
	}
	return &TokenWebClient{
		oauthCfg:  oauthCfg,
		vs:        vs,
		errLogger: errLogger,
		saver:     saver,
		redirURL:  redirURL,
	}, nil
}

func (twc *TokenWebClient) stateKey() string {
	return "facebook-state"
}

func (twc *TokenWebClient) verifierKey() string {
	return "facebook-verifier"
}

// InitiateWebLogin is an http.Handler redirecting to the Facebook login
// dialog with freshly generated state and PKCE verifier values held in the
// session.
func (twc *TokenWebClient) InitiateWebLogin() http.Handler {

	if twc == nil {
		panic("TokenWebClient nil at InitiateWebLogin")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Generate random state.
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			twc.errLogger.ServerError(w, r, errors.New("failed to generate state"))
			return
		}
		state := base64.URLEncoding.EncodeToString(b)
		twc.vs.Put(ctx, twc.stateKey(), state) // Save state to session

		// Generate verifier.
		verifier := oauth2.GenerateVerifier()
		twc.vs.Put(ctx, twc.verifierKey(), verifier) // Save verifier to session

		authURL := twc.oauthCfg.AuthCodeURL(
			state,
			oauth2.AccessTypeOffline,
			oauth2.S256ChallengeOption(verifier),
		)
		http.Redirect(w, r, authURL, http.StatusSeeOther)
	})
}

// WebLoginCallBack is an http.Handler for receiving the login dialog
// callback. On a successful code exchange the obtained access token is
// persisted through the Saver.
func (twc *TokenWebClient) WebLoginCallBack() http.Handler {

	if twc == nil {
		panic("TokenWebClient nil at WebLoginCallBack")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Retrieve the state (CSRF protection) from the session and then check it
		// matches the state returned by the platform in the incoming url.
		state := twc.vs.GetString(ctx, twc.stateKey())
		if state == "" {
			twc.errLogger.ServerError(w, r, errors.New("missing 'state' in session"))
			return
		}
		twc.vs.Remove(ctx, twc.stateKey()) // Remove state from session.

		queryState := r.URL.Query().Get("state")
		if queryState == "" || queryState != state {
			twc.errLogger.ServerError(w, r, errors.New("missing oauth 'state' in platform response"))
			return
		}

		// Retrieve the PKCE verifier from the session.
		verifier := twc.vs.GetString(ctx, twc.verifierKey())
		if verifier == "" {
			twc.errLogger.ServerError(w, r, errors.New("missing pkce 'verifier' in session"))
			return
		}
		twc.vs.Remove(ctx, twc.verifierKey()) // Remove verifier from session.

		// Extract the authorization code from the platform's response.
		code := r.URL.Query().Get("code")
		if code == "" {
			twc.errLogger.ServerError(w, r, errors.New("missing 'code' in platform response"))
			return
		}

		// Exchange code for token using verifier.
		tok, err := twc.oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			twc.errLogger.ServerError(w, r, fmt.Errorf("token exchange failed: %w", err))
			return
		}
		if tok == nil || tok.AccessToken == "" {
			twc.errLogger.ServerError(w, r, errors.New("empty token received from exchange"))
			return
		}

		// Persist the user token as a credential tier.
		if err := twc.saver.SaveOAuthToken(ctx, tok.AccessToken); err != nil {
			twc.errLogger.ServerError(w, r, fmt.Errorf("token save failed: %w", err))
			return
		}

		// Success. Redirect to a landing page.
		http.Redirect(w, r, twc.redirURL, http.StatusSeeOther)
	})
}
