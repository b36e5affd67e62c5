package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Adapter is the per-provider strategy behind the engine: it builds the
// authorization redirect and performs the token exchange. One
// implementation per provider; HTTPAdapter covers every provider that
// follows RFC 6749 §4.1 literally.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// AuthorizationURI returns a fully qualified authorization redirect
	// and the freshly generated state value embedded in it, so the caller
	// can persist the state. It must not perform network I/O.
	AuthorizationURI(cfg Config, scopes []string) (uri string, state string, err error)

	// Exchange performs the token exchange for the given grant. Transport
	// failures, non-2xx answers, and malformed bodies are all reported as
	// errors, never panics. The in-flight request follows ctx cancellation.
	Exchange(ctx context.Context, cfg Config, req TokenRequest) (*TokenResponse, error)
}

const (
	stateEntropyBytes = 32
	maxResponseBytes  = 1 << 20
)

// HTTPAdapter is the default Adapter. The zero value is usable; Client
// may be set to control timeouts, proxies, or retries.
type HTTPAdapter struct {
	// Client performs the token endpoint request. Nil means a 10 second
	// timeout default.
	Client *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// AuthorizationURI implements Adapter.
func (a *HTTPAdapter) AuthorizationURI(cfg Config, scopes []string) (string, string, error) {
	authURL, err := url.Parse(cfg.Endpoint.AuthURL)
	if err != nil {
		return "", "", fmt.Errorf("parse auth url: %w", err)
	}

	state, err := generateState()
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", cfg.ClientID)
	query.Set("redirect_uri", cfg.RedirectURL)
	if len(scopes) > 0 {
		query.Set("scope", strings.Join(scopes, " "))
	}
	query.Set("state", state)
	authURL.RawQuery = query.Encode()

	return authURL.String(), state, nil
}

// Exchange implements Adapter.
func (a *HTTPAdapter) Exchange(ctx context.Context, cfg Config, tokenReq TokenRequest) (*TokenResponse, error) {
	form := tokenReq.Form()
	if tokenReq.GrantType() == GrantAuthorizationCode {
		form.Set("redirect_uri", cfg.RedirectURL)
	}
	if cfg.Endpoint.AuthStyle == AuthStyleInParams {
		form.Set("client_id", cfg.ClientID)
		if cfg.ClientSecret != "" {
			form.Set("client_secret", cfg.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ExchangeError{Err: fmt.Errorf("build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if cfg.Endpoint.AuthStyle == AuthStyleAutoHeader {
		req.SetBasicAuth(url.QueryEscape(cfg.ClientID), url.QueryEscape(cfg.ClientSecret))
	}

	resp, err := a.client().Do(req)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ExchangeError{Status: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ExchangeError{
			Status: resp.StatusCode,
			Body:   string(body),
			Err:    fmt.Errorf("token endpoint returned %s", resp.Status),
		}
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &ExchangeError{Status: resp.StatusCode, Body: string(body), Err: err}
	}
	return &token, nil
}

func (a *HTTPAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return defaultHTTPClient
}

// generateState produces an unpredictable state token. 32 bytes of
// crypto/rand entropy keeps guessing infeasible for the few minutes a
// state lives.
func generateState() (string, error) {
	buf := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
