package oauthflow

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// GrantType identifies which grant a TokenRequest carries.
type GrantType string

const (
	// GrantAuthorizationCode is the Authorization Code exchange (RFC 6749 §4.1.3).
	GrantAuthorizationCode GrantType = "authorization_code"
	// GrantRefreshToken refreshes an access token (RFC 6749 §6).
	GrantRefreshToken GrantType = "refresh_token"
)

// TokenRequest is the grant being exchanged at the token endpoint. It is
// constructed with AuthorizationCode or RefreshToken, consumed within a
// single Exchange call, and never persisted.
type TokenRequest struct {
	grant GrantType
	value string
}

// AuthorizationCode builds a request exchanging an authorization code.
func AuthorizationCode(code string) TokenRequest {
	return TokenRequest{grant: GrantAuthorizationCode, value: code}
}

// RefreshToken builds a request exchanging a refresh token.
func RefreshToken(token string) TokenRequest {
	return TokenRequest{grant: GrantRefreshToken, value: token}
}

// GrantType reports which grant this request carries.
func (r TokenRequest) GrantType() GrantType { return r.grant }

// Value returns the code or refresh token carried by the request.
func (r TokenRequest) Value() string { return r.value }

// Form renders the grant_type and code/refresh_token form fields for the
// token endpoint request body.
func (r TokenRequest) Form() url.Values {
	form := url.Values{}
	form.Set("grant_type", string(r.grant))
	switch r.grant {
	case GrantRefreshToken:
		form.Set("refresh_token", r.value)
	default:
		form.Set("code", r.value)
	}
	return form
}

// TokenResponse is the provider's answer to a successful token exchange,
// defined in RFC 6749 §5.1. ExpiresIn and Scope are pointers because their
// absence is meaningful: a nil ExpiresIn means the provider did not
// disclose a lifetime, and a nil Scope means the provider echoed nothing
// (which is not the same as granting no scopes).
type TokenResponse struct {
	// AccessToken is the access token issued by the authorization server.
	AccessToken string
	// TokenType describes how the token is used (RFC 6749 §7.1).
	TokenType string
	// ExpiresIn is the token lifetime in seconds, if disclosed.
	ExpiresIn *int64
	// RefreshToken is set when the provider issued one. Unlike Scope and
	// ExpiresIn, an empty value is not distinguished from an absent one:
	// no provider grants an empty refresh token, and MarshalJSON omits
	// the field when the value is empty.
	RefreshToken string
	// Scope is the space-separated scope list, if the provider echoed it.
	Scope *string
	// Extras holds every other top-level field of the response body,
	// byte-exact as the provider sent it.
	Extras map[string]json.RawMessage
}

// The fields handled explicitly by TokenResponse; everything else lands in
// Extras.
var tokenResponseFields = map[string]bool{
	"access_token":  true,
	"token_type":    true,
	"expires_in":    true,
	"refresh_token": true,
	"scope":         true,
}

// UnmarshalJSON decodes a token endpoint body, routing unrecognized fields
// into Extras. access_token and token_type are required.
func (t *TokenResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("token response is not a JSON object: %w", err)
	}

	decoded := TokenResponse{}
	if err := requireString(raw, "access_token", &decoded.AccessToken); err != nil {
		return err
	}
	if err := requireString(raw, "token_type", &decoded.TokenType); err != nil {
		return err
	}
	if v, ok := raw["expires_in"]; ok {
		var seconds int64
		if err := json.Unmarshal(v, &seconds); err != nil {
			return fmt.Errorf("token response field expires_in: %w", err)
		}
		decoded.ExpiresIn = &seconds
	}
	if v, ok := raw["refresh_token"]; ok {
		if err := json.Unmarshal(v, &decoded.RefreshToken); err != nil {
			return fmt.Errorf("token response field refresh_token: %w", err)
		}
	}
	if v, ok := raw["scope"]; ok {
		var scope string
		if err := json.Unmarshal(v, &scope); err != nil {
			return fmt.Errorf("token response field scope: %w", err)
		}
		decoded.Scope = &scope
	}

	for name, value := range raw {
		if tokenResponseFields[name] {
			continue
		}
		if decoded.Extras == nil {
			decoded.Extras = make(map[string]json.RawMessage)
		}
		decoded.Extras[name] = value
	}

	*t = decoded
	return nil
}

// MarshalJSON re-serializes the response, extras included, so a decoded
// response round-trips to semantically equal JSON.
func (t TokenResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.Extras)+5)
	for name, value := range t.Extras {
		out[name] = value
	}
	if err := putJSON(out, "access_token", t.AccessToken); err != nil {
		return nil, err
	}
	if err := putJSON(out, "token_type", t.TokenType); err != nil {
		return nil, err
	}
	if t.ExpiresIn != nil {
		if err := putJSON(out, "expires_in", *t.ExpiresIn); err != nil {
			return nil, err
		}
	}
	if t.RefreshToken != "" {
		if err := putJSON(out, "refresh_token", t.RefreshToken); err != nil {
			return nil, err
		}
	}
	if t.Scope != nil {
		if err := putJSON(out, "scope", *t.Scope); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// Extra decodes a single extras field into v. It returns false when the
// provider sent no such field.
func (t *TokenResponse) Extra(name string, v any) (bool, error) {
	raw, ok := t.Extras[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode extra field %s: %w", name, err)
	}
	return true, nil
}

func requireString(raw map[string]json.RawMessage, name string, dst *string) error {
	v, ok := raw[name]
	if !ok {
		return fmt.Errorf("token response missing required field %s", name)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("token response field %s: %w", name, err)
	}
	return nil
}

func putJSON(out map[string]json.RawMessage, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode token response field %s: %w", name, err)
	}
	out[name] = b
	return nil
}
