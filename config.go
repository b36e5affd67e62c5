package oauthflow

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthStyle selects how client credentials are presented to the token
// endpoint. Providers disagree here: GitHub and Google accept either,
// Discord insists on body parameters, some enterprise IdPs accept only the
// Basic header.
type AuthStyle int

const (
	// AuthStyleAutoHeader sends credentials in the Authorization header
	// (HTTP Basic), the scheme RFC 6749 §2.3.1 recommends.
	AuthStyleAutoHeader AuthStyle = iota
	// AuthStyleInParams sends client_id and client_secret in the form body.
	AuthStyleInParams
)

// Endpoint holds a provider's OAuth 2.0 endpoint pair.
type Endpoint struct {
	// AuthURL is the authorization endpoint users are redirected to.
	AuthURL string `yaml:"auth_url"`
	// TokenURL is the token endpoint the code exchange posts to.
	TokenURL string `yaml:"token_url"`
	// AuthStyle picks the client authentication scheme for TokenURL.
	AuthStyle AuthStyle `yaml:"-"`
}

// Config is the resolved configuration for one OAuth provider
// registration. It is immutable once handed to an engine.
type Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Endpoint     Endpoint `yaml:"endpoint"`
	// RedirectURL is the callback URI registered with the provider.
	RedirectURL string `yaml:"redirect_url"`
}

// Validate reports every missing required field at once, so a broken
// deployment fails with one complete message instead of a fix-one-rerun
// loop.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.Endpoint.AuthURL == "" {
		missing = append(missing, "endpoint.auth_url")
	}
	if c.Endpoint.TokenURL == "" {
		missing = append(missing, "endpoint.token_url")
	}
	if c.RedirectURL == "" {
		missing = append(missing, "redirect_url")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// LoadConfigFile reads a YAML file mapping provider names to Config
// values. Unknown keys are rejected. After decoding, environment
// variables of the form OAUTH_<NAME>_CLIENT_ID and
// OAUTH_<NAME>_CLIENT_SECRET override the file so secrets can stay out of
// it. Every returned Config has been validated.
func LoadConfigFile(path string) (map[string]Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (map[string]Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)

	configs := make(map[string]Config)
	if err := decoder.Decode(&configs); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := configs[name]
		prefix := "OAUTH_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v := os.Getenv(prefix + "_CLIENT_ID"); v != "" {
			cfg.ClientID = v
		}
		if v := os.Getenv(prefix + "_CLIENT_SECRET"); v != "" {
			cfg.ClientSecret = v
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		configs[name] = cfg
	}
	return configs, nil
}
