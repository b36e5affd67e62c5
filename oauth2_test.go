package oauthflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

// fakeAdapter hands out a canned state and token and records every
// exchange it is asked to perform.
type fakeAdapter struct {
	state     string
	token     *TokenResponse
	exchanges []TokenRequest
	err       error
}

func (a *fakeAdapter) AuthorizationURI(cfg Config, scopes []string) (string, string, error) {
	if a.err != nil {
		return "", "", a.err
	}
	u, _ := url.Parse(cfg.Endpoint.AuthURL)
	q := u.Query()
	q.Set("state", a.state)
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	u.RawQuery = q.Encode()
	return u.String(), a.state, nil
}

func (a *fakeAdapter) Exchange(ctx context.Context, cfg Config, req TokenRequest) (*TokenResponse, error) {
	a.exchanges = append(a.exchanges, req)
	if a.err != nil {
		return nil, a.err
	}
	token := *a.token
	return &token, nil
}

// recordingCallback remembers the tokens it was handed.
type recordingCallback struct {
	tokens []*TokenResponse
}

func (c *recordingCallback) Callback(w http.ResponseWriter, r *http.Request, token *TokenResponse) {
	c.tokens = append(c.tokens, token)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "welcome")
}

// countingStore wraps another store and counts Save/Consume calls.
type countingStore struct {
	inner    StateStore
	saves    int
	consumes int
	err      error
}

func (s *countingStore) Save(w http.ResponseWriter, r *http.Request, state string) error {
	s.saves++
	if s.err != nil {
		return s.err
	}
	return s.inner.Save(w, r, state)
}

func (s *countingStore) Consume(w http.ResponseWriter, r *http.Request) (string, error) {
	s.consumes++
	if s.err != nil {
		return "", s.err
	}
	return s.inner.Consume(w, r)
}

func testToken() *TokenResponse {
	expires := int64(3600)
	return &TokenResponse{
		AccessToken: "at-1",
		TokenType:   "bearer",
		ExpiresIn:   &expires,
		Extras:      map[string]json.RawMessage{},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, adapter *fakeAdapter, opts ...Option) (*OAuth2, *recordingCallback) {
	t.Helper()
	callback := &recordingCallback{}
	opts = append(opts, WithLogger(quietLogger()))
	engine, err := New(adapter, callback, validConfig(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, callback
}

// login runs Redirect and returns the callback request a well-behaved
// provider redirect would produce, cookies included.
func login(t *testing.T, engine *OAuth2, state, code string, extra url.Values) *http.Request {
	t.Helper()
	w := httptest.NewRecorder()
	if err := engine.Redirect(w, httptest.NewRequest("GET", "/login", nil), nil); err != nil {
		t.Fatalf("Redirect: %v", err)
	}
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302 from Redirect, got %d", w.Code)
	}

	q := url.Values{}
	if code != "" {
		q.Set("code", code)
	}
	if state != "" {
		q.Set("state", state)
	}
	for key, values := range extra {
		q[key] = values
	}
	cb := httptest.NewRequest("GET", "/oauth2/callback?"+q.Encode(), nil)
	carry(t, w, cb)
	return cb
}

func TestCallbackHappyPath(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	engine, callback := newTestEngine(t, adapter)

	cb := login(t, engine, "s1", "code-1", nil)
	w := httptest.NewRecorder()
	engine.CallbackHandler()(w, cb)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(callback.tokens) != 1 {
		t.Fatalf("callback invoked %d times", len(callback.tokens))
	}
	if callback.tokens[0].AccessToken != "at-1" {
		t.Fatalf("unexpected token: %+v", callback.tokens[0])
	}
	if len(adapter.exchanges) != 1 {
		t.Fatalf("expected one exchange, got %d", len(adapter.exchanges))
	}
	if adapter.exchanges[0].GrantType() != GrantAuthorizationCode {
		t.Fatalf("wrong grant: %q", adapter.exchanges[0].GrantType())
	}
	if adapter.exchanges[0].Value() != "code-1" {
		t.Fatalf("wrong code: %q", adapter.exchanges[0].Value())
	}
}

func TestCallbackReplayRejected(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	engine, callback := newTestEngine(t, adapter)

	cb := login(t, engine, "s1", "code-1", nil)
	w := httptest.NewRecorder()
	engine.CallbackHandler()(w, cb)
	if w.Code != http.StatusOK {
		t.Fatalf("first callback failed: %d", w.Code)
	}

	// Same URL, same cookies, delivered again.
	replay := httptest.NewRequest("GET", cb.URL.String(), nil)
	for _, cookie := range cb.Cookies() {
		replay.AddCookie(cookie)
	}
	w2 := httptest.NewRecorder()
	engine.CallbackHandler()(w2, replay)

	if w2.Code != http.StatusBadRequest {
		t.Fatalf("replayed callback got %d", w2.Code)
	}
	if len(callback.tokens) != 1 {
		t.Fatalf("callback invoked %d times", len(callback.tokens))
	}
	if len(adapter.exchanges) != 1 {
		t.Fatalf("replay reached the exchange")
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	engine, callback := newTestEngine(t, adapter)

	cb := login(t, engine, "attacker-state", "code-1", nil)
	w := httptest.NewRecorder()
	engine.CallbackHandler()(w, cb)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(adapter.exchanges) != 0 {
		t.Fatalf("mismatched state reached the exchange")
	}
	if len(callback.tokens) != 0 {
		t.Fatalf("mismatched state reached the application callback")
	}
}

func TestCallbackMissingParameters(t *testing.T) {
	cases := []struct {
		name  string
		query string
	}{
		{"no code", "state=s1"},
		{"no state", "code=code-1"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter := &fakeAdapter{state: "s1", token: testToken()}
			engine, callback := newTestEngine(t, adapter)

			r := httptest.NewRequest("GET", "/oauth2/callback?"+tc.query, nil)
			w := httptest.NewRecorder()
			engine.CallbackHandler()(w, r)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if len(adapter.exchanges) != 0 || len(callback.tokens) != 0 {
				t.Fatalf("malformed callback made progress")
			}
		})
	}
}

func TestCallbackProviderError(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	engine, callback := newTestEngine(t, adapter)

	// A declined consent screen still arrives with valid cookies.
	cb := login(t, engine, "", "", url.Values{
		"error":             {"access_denied"},
		"error_description": {"The user declined"},
	})
	w := httptest.NewRecorder()
	engine.CallbackHandler()(w, cb)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(adapter.exchanges) != 0 || len(callback.tokens) != 0 {
		t.Fatalf("provider error made progress")
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	engine, callback := newTestEngine(t, adapter)

	cb := login(t, engine, "s1", "code-1", nil)
	adapter.err = errors.New("token endpoint down")
	w := httptest.NewRecorder()
	engine.CallbackHandler()(w, cb)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(callback.tokens) != 0 {
		t.Fatalf("failed exchange reached the application callback")
	}
}

func TestCallbackStoreFailure(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	store := &countingStore{inner: NewMemoryStateStore(), err: errors.New("backend gone")}
	engine, callback := newTestEngine(t, adapter, WithStateStore(store))

	r := httptest.NewRequest("GET", "/oauth2/callback?code=code-1&state=s1", nil)
	w := httptest.NewRecorder()
	engine.CallbackHandler()(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(adapter.exchanges) != 0 || len(callback.tokens) != 0 {
		t.Fatalf("store failure made progress")
	}
}

func TestCallbackScopeFallback(t *testing.T) {
	responseScope := "activity:read"

	cases := []struct {
		name      string
		bodyScope *string
		query     url.Values
		want      *string
	}{
		{
			name:  "absent in body, present in query",
			query: url.Values{"scope": {"read,activity:read"}},
			want:  strptr("read,activity:read"),
		},
		{
			name:      "present in both",
			bodyScope: &responseScope,
			query:     url.Values{"scope": {"from-query"}},
			want:      &responseScope,
		},
		{
			name:      "empty in body stands",
			bodyScope: strptr(""),
			query:     url.Values{"scope": {"from-query"}},
			want:      strptr(""),
		},
		{
			name: "absent everywhere",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := testToken()
			token.Scope = tc.bodyScope
			adapter := &fakeAdapter{state: "s1", token: token}
			engine, callback := newTestEngine(t, adapter)

			cb := login(t, engine, "s1", "code-1", tc.query)
			w := httptest.NewRecorder()
			engine.CallbackHandler()(w, cb)

			if w.Code != http.StatusOK {
				t.Fatalf("callback failed: %d", w.Code)
			}
			got := callback.tokens[0].Scope
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("expected no scope, got %q", *got)
			case tc.want != nil && got == nil:
				t.Fatalf("expected scope %q, got none", *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Fatalf("expected scope %q, got %q", *tc.want, *got)
			}
		})
	}
}

func TestRedirectPersistsState(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	store := &countingStore{inner: NewMemoryStateStore()}
	engine, _ := newTestEngine(t, adapter, WithStateStore(store))

	w := httptest.NewRecorder()
	if err := engine.Redirect(w, httptest.NewRequest("GET", "/login", nil), []string{"user:email"}); err != nil {
		t.Fatalf("Redirect: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("state saved %d times", store.saves)
	}
	location := w.Header().Get("Location")
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("bad redirect location %q: %v", location, err)
	}
	if u.Query().Get("state") != "s1" {
		t.Fatalf("redirect location missing state: %q", location)
	}
	if u.Query().Get("scope") != "user:email" {
		t.Fatalf("redirect location missing scope: %q", location)
	}
}

func TestRedirectFailureWritesNothing(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken(), err: errors.New("no entropy")}
	engine, _ := newTestEngine(t, adapter)

	w := httptest.NewRecorder()
	err := engine.Redirect(w, httptest.NewRequest("GET", "/login", nil), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if w.Header().Get("Location") != "" || len(w.Result().Cookies()) != 0 {
		t.Fatalf("failed redirect wrote to the response")
	}
}

func TestRefreshBypassesStateStore(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	store := &countingStore{inner: NewMemoryStateStore()}
	engine, _ := newTestEngine(t, adapter, WithStateStore(store))

	token, err := engine.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token.AccessToken != "at-1" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if len(adapter.exchanges) != 1 || adapter.exchanges[0].GrantType() != GrantRefreshToken {
		t.Fatalf("unexpected exchanges: %+v", adapter.exchanges)
	}
	if adapter.exchanges[0].Value() != "rt-1" {
		t.Fatalf("wrong refresh token: %q", adapter.exchanges[0].Value())
	}
	if store.saves != 0 || store.consumes != 0 {
		t.Fatalf("refresh touched the state store")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	cfg := validConfig()
	cfg.ClientID = ""
	cfg.RedirectURL = ""

	_, err := New(adapter, &recordingCallback{}, cfg)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestNewRequiresAdapterAndCallback(t *testing.T) {
	if _, err := New(nil, &recordingCallback{}, validConfig()); err == nil {
		t.Fatalf("nil adapter accepted")
	}
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	if _, err := New(adapter, nil, validConfig()); err == nil {
		t.Fatalf("nil callback accepted")
	}
}

func TestMountRoutes(t *testing.T) {
	adapter := &fakeAdapter{state: "s1", token: testToken()}
	engine, callback := newTestEngine(t, adapter, WithLoginPath("/login"))

	router := chi.NewRouter()
	engine.Mount(router)
	server := httptest.NewServer(router)
	defer server.Close()

	client := server.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := client.Get(server.URL + "/login")
	if err != nil {
		t.Fatalf("GET /login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login route answered %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil || location.Query().Get("state") != "s1" {
		t.Fatalf("bad login redirect: %q", resp.Header.Get("Location"))
	}

	// Complete the round trip via the mounted callback path (the path
	// component of the configured redirect URL).
	cbURL := server.URL + "/oauth2/callback?code=code-1&state=s1"
	cbReq, _ := http.NewRequest("GET", cbURL, nil)
	for _, cookie := range resp.Cookies() {
		cbReq.AddCookie(cookie)
	}
	cbResp, err := client.Do(cbReq)
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	defer cbResp.Body.Close()
	if cbResp.StatusCode != http.StatusOK {
		t.Fatalf("callback route answered %d", cbResp.StatusCode)
	}
	if len(callback.tokens) != 1 {
		t.Fatalf("callback invoked %d times", len(callback.tokens))
	}
}

func strptr(s string) *string { return &s }
