// Package providers carries ready-made oauthflow configurations for
// well-known OAuth 2.0 providers, built on the endpoint catalogue that
// golang.org/x/oauth2 maintains. Each constructor returns a Config for
// the default HTTPAdapter; nothing here performs network I/O.
package providers

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"oauthflow"
)

// Default scope sets for providers whose minimal useful login needs one.
var (
	// GitHubScopes identifies the user and reads their email addresses.
	GitHubScopes = []string{"read:user", "user:email"}
	// GoogleScopes requests an OpenID Connect identity.
	GoogleScopes = []string{"openid", "profile", "email"}
	// DiscordScopes identifies the user.
	DiscordScopes = []string{"identify"}
	// GitLabScopes reads the user profile.
	GitLabScopes = []string{"read_user"}
)

// GitHub configures an engine for github.com.
func GitHub(clientID, clientSecret, redirectURL string) oauthflow.Config {
	return custom(endpoints.GitHub, clientID, clientSecret, redirectURL)
}

// Google configures an engine for Google accounts.
func Google(clientID, clientSecret, redirectURL string) oauthflow.Config {
	return custom(endpoints.Google, clientID, clientSecret, redirectURL)
}

// GitLab configures an engine for gitlab.com.
func GitLab(clientID, clientSecret, redirectURL string) oauthflow.Config {
	return custom(endpoints.GitLab, clientID, clientSecret, redirectURL)
}

// Discord configures an engine for Discord. Discord rejects HTTP Basic
// client authentication, so credentials go in the form body.
func Discord(clientID, clientSecret, redirectURL string) oauthflow.Config {
	cfg := custom(endpoints.Discord, clientID, clientSecret, redirectURL)
	cfg.Endpoint.AuthStyle = oauthflow.AuthStyleInParams
	return cfg
}

// Strava configures an engine for Strava, the provider whose habit of
// returning scope in the callback query rather than the token body the
// engine's scope fallback accommodates.
func Strava(clientID, clientSecret, redirectURL string) oauthflow.Config {
	cfg := custom(endpoints.Strava, clientID, clientSecret, redirectURL)
	cfg.Endpoint.AuthStyle = oauthflow.AuthStyleInParams
	return cfg
}

// Microsoft configures an engine for a Microsoft Entra ID tenant. Use
// "common" to accept accounts from any tenant.
func Microsoft(tenant, clientID, clientSecret, redirectURL string) oauthflow.Config {
	return custom(endpoints.AzureAD(tenant), clientID, clientSecret, redirectURL)
}

func custom(endpoint oauth2.Endpoint, clientID, clientSecret, redirectURL string) oauthflow.Config {
	return oauthflow.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauthflow.Endpoint{
			AuthURL:   endpoint.AuthURL,
			TokenURL:  endpoint.TokenURL,
			AuthStyle: authStyle(endpoint.AuthStyle),
		},
	}
}

func authStyle(style oauth2.AuthStyle) oauthflow.AuthStyle {
	if style == oauth2.AuthStyleInParams {
		return oauthflow.AuthStyleInParams
	}
	return oauthflow.AuthStyleAutoHeader
}
