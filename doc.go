// Package oauthflow implements the client side of the OAuth 2.0
// Authorization Code Grant (RFC 6749 §4.1). It drives a user agent to the
// provider's authorization endpoint, verifies the returning callback
// against a single-use anti-CSRF state token, exchanges the authorization
// code for a token, and hands the result to an application callback.
//
// The engine is deliberately small: routing, configuration sources, and
// session management belong to the host application. Provider differences
// are isolated behind the Adapter interface, and everything the provider
// returns beyond the standard token fields is preserved in
// TokenResponse.Extras.
package oauthflow
