package oauthflow

import "net/http"

// Callback is the application hook invoked once a token exchange
// succeeds. It runs synchronously on the request goroutine, exactly once
// per successful exchange, and owns the HTTP response: session issuance,
// persistence, and the redirect or page the user sees all happen here.
// Failed exchanges never reach it.
type Callback interface {
	Callback(w http.ResponseWriter, r *http.Request, token *TokenResponse)
}

// CallbackFunc lets a plain function serve as a Callback.
type CallbackFunc func(w http.ResponseWriter, r *http.Request, token *TokenResponse)

// Callback implements the Callback interface.
func (f CallbackFunc) Callback(w http.ResponseWriter, r *http.Request, token *TokenResponse) {
	f(w, r, token)
}
