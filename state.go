package oauthflow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v3"
)

// DefaultStateTTL bounds how long a login attempt may stay outstanding.
// A callback arriving later than this fails state validation like any
// other stale or forged callback.
const DefaultStateTTL = 10 * time.Minute

// defaultCookieName names the state slot when the host does not pick one.
// Engines in the same process should use distinct names (see
// WithCookieName) so their login flows cannot clobber each other.
const defaultCookieName = "oauthflow_state"

// StateStore persists the anti-CSRF state token between the login
// redirect and the provider callback. The slot is scoped to the
// individual user agent, never process-global. Consume removes the value
// as it reads it, so a state can satisfy validation at most once.
//
// Implementations must be safe for concurrent use.
type StateStore interface {
	// Save binds state to the requesting user agent.
	Save(w http.ResponseWriter, r *http.Request, state string) error

	// Consume returns the state bound to this user agent and removes it.
	// It returns "" when nothing (or nothing unexpired) is stored. The
	// error reports storage failures, not absence.
	Consume(w http.ResponseWriter, r *http.Request) (string, error)
}

// CookieStateStore keeps the state inside the cookie itself, sealed into
// a compact JWE (direct A256GCM). The user agent cannot read or forge the
// value, and no server-side storage is needed.
type CookieStateStore struct {
	encrypter jose.Encrypter
	key       []byte

	// Name is the cookie name. Empty means the package default.
	Name string
	// TTL bounds the state lifetime. Zero means DefaultStateTTL.
	TTL time.Duration
	// Secure marks the cookie Secure; set it everywhere TLS terminates.
	Secure bool
	// Path defaults to "/".
	Path string
}

type sealedState struct {
	State     string `json:"state"`
	ExpiresAt int64  `json:"exp"`
}

// NewCookieStateStore builds a cookie store from a 32-byte secret key.
func NewCookieStateStore(key []byte) (*CookieStateStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cookie state store requires a 32-byte key, got %d", len(key))
	}
	encrypter, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("init state encrypter: %w", err)
	}
	return &CookieStateStore{encrypter: encrypter, key: key}, nil
}

// Save implements StateStore.
func (s *CookieStateStore) Save(w http.ResponseWriter, r *http.Request, state string) error {
	payload, err := json.Marshal(sealedState{
		State:     state,
		ExpiresAt: time.Now().Add(s.ttl()).Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	obj, err := s.encrypter.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("seal state: %w", err)
	}
	sealed, err := obj.CompactSerialize()
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.name(),
		Value:    sealed,
		Path:     s.path(),
		MaxAge:   int(s.ttl().Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		// Lax, not Strict: the callback arrives as a cross-site top-level
		// navigation from the provider, and Strict would hide the cookie
		// from it.
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Consume implements StateStore.
func (s *CookieStateStore) Consume(w http.ResponseWriter, r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.name())
	if err != nil {
		return "", nil
	}
	s.clear(w)

	obj, err := jose.ParseEncrypted(cookie.Value)
	if err != nil {
		return "", nil
	}
	payload, err := obj.Decrypt(s.key)
	if err != nil {
		// Tampered or sealed under another key.
		return "", nil
	}
	var sealed sealedState
	if err := json.Unmarshal(payload, &sealed); err != nil {
		return "", nil
	}
	if time.Now().Unix() > sealed.ExpiresAt {
		return "", nil
	}
	return sealed.State, nil
}

func (s *CookieStateStore) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.name(),
		Value:    "",
		Path:     s.path(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *CookieStateStore) name() string {
	if s.Name != "" {
		return s.Name
	}
	return defaultCookieName
}

func (s *CookieStateStore) ttl() time.Duration {
	if s.TTL != 0 {
		return s.TTL
	}
	return DefaultStateTTL
}

func (s *CookieStateStore) path() string {
	if s.Path != "" {
		return s.Path
	}
	return "/"
}
