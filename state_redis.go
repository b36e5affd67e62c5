package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisStatePrefix = "oauthflow:state:"

// RedisCmd is the slice of the go-redis client the store uses. *redis.Client
// and *redis.ClusterClient both satisfy it.
type RedisCmd interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// RedisStateStore keeps state in Redis, bound to the user agent through a
// random opaque cookie, and consumes it atomically with GETDEL. Use it
// when callbacks may land on a different instance than the one that
// started the login.
type RedisStateStore struct {
	client RedisCmd

	// Name is the binding cookie name. Empty means the package default.
	Name string
	// TTL bounds the state lifetime. Zero means DefaultStateTTL.
	TTL time.Duration
	// Secure marks the binding cookie Secure.
	Secure bool
	// KeyPrefix namespaces the Redis keys. Empty means "oauthflow:state:".
	KeyPrefix string
}

// NewRedisStateStore constructs the store around an existing client.
func NewRedisStateStore(client RedisCmd) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save implements StateStore.
func (s *RedisStateStore) Save(w http.ResponseWriter, r *http.Request, state string) error {
	id, err := newStateID()
	if err != nil {
		return err
	}
	if err := s.client.Set(r.Context(), s.key(id), state, s.ttl()).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

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

// Consume implements StateStore. GETDEL makes the read and the removal a
// single step, so two racing callbacks cannot both see the state.
func (s *RedisStateStore) Consume(w http.ResponseWriter, r *http.Request) (string, error) {
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

	state, err := s.client.GetDel(r.Context(), s.key(cookie.Value)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load state: %w", err)
	}
	return state, nil
}

func (s *RedisStateStore) key(id string) string {
	prefix := s.KeyPrefix
	if prefix == "" {
		prefix = redisStatePrefix
	}
	return prefix + id
}

func (s *RedisStateStore) name() string {
	if s.Name != "" {
		return s.Name
	}
	return defaultCookieName
}

func (s *RedisStateStore) ttl() time.Duration {
	if s.TTL != 0 {
		return s.TTL
	}
	return DefaultStateTTL
}
