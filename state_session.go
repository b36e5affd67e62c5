package oauthflow

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gitea.com/go-chi/session"
)

// SessionStateStore rides an existing gitea.com/go-chi/session middleware:
// the state lives in the user's server-side session, so applications that
// already run sessions need no extra cookie. The session middleware must
// be installed on every route the engine serves.
type SessionStateStore struct {
	// Key is the session key holding the state. Empty means the package
	// default cookie name.
	Key string
	// TTL bounds the state lifetime. Zero means DefaultStateTTL.
	TTL time.Duration
}

// Save implements StateStore.
func (s *SessionStateStore) Save(w http.ResponseWriter, r *http.Request, state string) error {
	sess := session.GetSession(r)
	if sess == nil {
		return fmt.Errorf("session middleware not installed")
	}
	// Stored as "unixExpiry|state" so session backends only ever see a
	// plain string.
	value := strconv.FormatInt(time.Now().Add(s.ttl()).Unix(), 10) + "|" + state
	if err := sess.Set(s.key(), value); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Consume implements StateStore.
func (s *SessionStateStore) Consume(w http.ResponseWriter, r *http.Request) (string, error) {
	sess := session.GetSession(r)
	if sess == nil {
		return "", fmt.Errorf("session middleware not installed")
	}
	raw := sess.Get(s.key())
	if raw == nil {
		return "", nil
	}
	if err := sess.Delete(s.key()); err != nil {
		return "", fmt.Errorf("invalidate state: %w", err)
	}

	value, ok := raw.(string)
	if !ok {
		return "", nil
	}
	expiry, state, found := strings.Cut(value, "|")
	if !found {
		return "", nil
	}
	expiresAt, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || time.Now().Unix() > expiresAt {
		return "", nil
	}
	return state, nil
}

func (s *SessionStateStore) key() string {
	if s.Key != "" {
		return s.Key
	}
	return defaultCookieName
}

func (s *SessionStateStore) ttl() time.Duration {
	if s.TTL != 0 {
		return s.TTL
	}
	return DefaultStateTTL
}
