package oauthflow

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// OAuth2 drives the Authorization Code Grant for one provider
// registration: it issues the login redirect, runs the callback state
// machine, and exposes token refresh. It holds no mutable state after New,
// so a single instance serves any number of concurrent requests.
type OAuth2 struct {
	adapter     Adapter
	callback    Callback
	config      Config
	states      StateStore
	loginScopes []string
	loginPath   string
	cookieName  string
	logger      *slog.Logger
}

// Option configures an engine at construction time.
type Option func(*OAuth2)

// WithLoginScopes sets the scopes requested by LoginHandler and Mount's
// login route. Redirect callers pass scopes explicitly and are unaffected.
func WithLoginScopes(scopes ...string) Option {
	return func(o *OAuth2) { o.loginScopes = scopes }
}

// WithStateStore replaces the default in-memory state store. The store
// carries its own cookie name; WithCookieName does not apply to it.
func WithStateStore(store StateStore) Option {
	return func(o *OAuth2) { o.states = store }
}

// WithCookieName names the default state store's cookie. Two engines in
// one process must use distinct names, or concurrent logins through them
// would overwrite each other's state.
func WithCookieName(name string) Option {
	return func(o *OAuth2) { o.cookieName = name }
}

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *OAuth2) { o.logger = logger }
}

// WithLoginPath makes Mount register a login route at path in addition to
// the callback route.
func WithLoginPath(path string) Option {
	return func(o *OAuth2) { o.loginPath = path }
}

// New builds an engine from an adapter, an application callback, and a
// resolved configuration. It fails with a *ConfigError naming every
// missing configuration field.
func New(adapter Adapter, callback Callback, cfg Config, opts ...Option) (*OAuth2, error) {
	if adapter == nil {
		return nil, fmt.Errorf("oauthflow: adapter is required")
	}
	if callback == nil {
		return nil, fmt.Errorf("oauthflow: callback is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &OAuth2{
		adapter:  adapter,
		callback: callback,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.states == nil {
		store := NewMemoryStateStore()
		store.Name = o.cookieName
		o.states = store
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Config returns the engine's resolved configuration.
func (o *OAuth2) Config() Config { return o.config }

// Redirect starts a login: it asks the adapter for the authorization URI
// and its state token, binds the state to this user agent, and answers
// with a redirect to the provider. Adapter and store failures propagate to
// the caller with nothing written, so the host can pick its own error
// handling for the login route.
func (o *OAuth2) Redirect(w http.ResponseWriter, r *http.Request, scopes []string) error {
	uri, state, err := o.adapter.AuthorizationURI(o.config, scopes)
	if err != nil {
		return fmt.Errorf("build authorization uri: %w", err)
	}
	if err := o.states.Save(w, r, state); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	http.Redirect(w, r, uri, http.StatusFound)
	return nil
}

// LoginHandler answers a login route with Redirect using the engine's
// configured scopes, converting failures into a 500.
func (o *OAuth2) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := o.Redirect(w, r, o.loginScopes); err != nil {
			o.logger.Error("login redirect failed", "error", err)
			http.Error(w, "login unavailable", http.StatusInternalServerError)
		}
	}
}

// CallbackHandler answers the provider's redirect back to the registered
// callback URI.
func (o *OAuth2) CallbackHandler() http.HandlerFunc {
	return o.handleCallback
}

// handleCallback is the callback state machine: parse, validate state,
// exchange, apply the scope fallback, dispatch. Every failure terminates
// in the same generic 400 so nothing provider- or attack-specific leaks
// to the user agent.
func (o *OAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		// RFC 6749 §4.1.2.1: the provider declined. There is no code, so
		// there is nothing to exchange.
		o.logger.Warn("provider returned authorization error",
			"error", errCode,
			"description", query.Get("error_description"))
		o.reject(w)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		o.logger.Warn("malformed callback request", "error", ErrMalformedCallback)
		o.reject(w)
		return
	}

	stored, err := o.states.Consume(w, r)
	if err != nil {
		o.logger.Error("state store failure", "error", err)
		o.reject(w)
		return
	}
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(state)) != 1 {
		// Possible CSRF, an expired attempt, or a replayed callback URL.
		// The stored value is already gone either way: a state never
		// survives its first validation.
		o.logger.Warn("callback state validation failed", "error", ErrStateMismatch)
		o.reject(w)
		return
	}

	token, err := o.adapter.Exchange(r.Context(), o.config, AuthorizationCode(code))
	if err != nil {
		o.logger.Error("token exchange failed", "error", err)
		o.reject(w)
		return
	}

	// Some providers (Strava among them) return 'scope' in the callback
	// parameters instead of the token body. Use the query value only when
	// the body had no scope field at all: an explicit empty scope from
	// the provider stands.
	if token.Scope == nil && query.Has("scope") {
		scope := query.Get("scope")
		token.Scope = &scope
	}

	o.callback.Callback(w, r, token)
}

// Refresh exchanges a refresh token previously returned by the provider
// for a fresh TokenResponse. It never touches state storage.
func (o *OAuth2) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return o.adapter.Exchange(ctx, o.config, RefreshToken(refreshToken))
}

// Mount registers the callback route (at the path of the configured
// redirect URL) and, when WithLoginPath was given, the login route.
// Hosts with their own routing can ignore Mount and wire
// CallbackHandler/LoginHandler directly.
func (o *OAuth2) Mount(r chi.Router) {
	r.Get(o.callbackPath(), o.handleCallback)
	if o.loginPath != "" {
		r.Get(o.loginPath, o.LoginHandler())
	}
}

func (o *OAuth2) callbackPath() string {
	u, err := url.Parse(o.config.RedirectURL)
	if err != nil || u.Path == "" {
		return "/oauth2/callback"
	}
	return u.Path
}

func (o *OAuth2) reject(w http.ResponseWriter) {
	http.Error(w, "invalid oauth2 callback", http.StatusBadRequest)
}
