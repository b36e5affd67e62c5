package oauthflow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MemoryStateStore keeps state server-side in a mutex-guarded map, bound
// to the user agent through a random opaque cookie. It is the default
// store: zero configuration, good for development and tests, lost on
// restart.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryStateEntry

	// Name is the binding cookie name. Empty means the package default.
	Name string
	// TTL bounds the state lifetime. Zero means DefaultStateTTL.
	TTL time.Duration
	// Secure marks the binding cookie Secure.
	Secure bool
}

type memoryStateEntry struct {
	state     string
	expiresAt time.Time
}

// NewMemoryStateStore constructs the store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryStateEntry)}
}

// Save implements StateStore.
func (s *MemoryStateStore) Save(w http.ResponseWriter, r *http.Request, state string) error {
	id, err := newStateID()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.entries == nil {
		s.entries = make(map[string]memoryStateEntry)
	}
	now := time.Now()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[id] = memoryStateEntry{state: state, expiresAt: now.Add(s.ttl())}
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     s.name(),
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.ttl().Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Consume implements StateStore.
func (s *MemoryStateStore) Consume(w http.ResponseWriter, r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.name())
	if err != nil {
		return "", nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	s.mu.Lock()
	entry, ok := s.entries[cookie.Value]
	delete(s.entries, cookie.Value)
	s.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return "", nil
	}
	return entry.state, nil
}

func (s *MemoryStateStore) name() string {
	if s.Name != "" {
		return s.Name
	}
	return defaultCookieName
}

func (s *MemoryStateStore) ttl() time.Duration {
	if s.TTL != 0 {
		return s.TTL
	}
	return DefaultStateTTL
}

func newStateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
