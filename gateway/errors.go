package gateway

import "github.com/pkg/errors"

// Sentinel errors returned by the gateway operations. The HTTP layer branches
// on these with errors.Is to pick a status code and body; anything wrapped
// around them is diagnostic context only.
var (
	// ErrNotAuthenticated means no usable session exists for the request.
	// Every internal failure mode of Check degrades to this: the gateway
	// fails closed.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrMissingParameter means the callback arrived without a code or state.
	ErrMissingParameter = errors.New("missing code or state parameter")

	// ErrProviderReported means the provider redirected back with an error
	// parameter instead of an authorization code.
	ErrProviderReported = errors.New("provider reported an authorization error")

	// ErrInvalidState means the callback's state token matched no stored
	// record: forged, expired, or already consumed.
	ErrInvalidState = errors.New("invalid or expired state parameter")

	// ErrExchangeFailed means the code-for-token exchange with the provider
	// failed.
	ErrExchangeFailed = errors.New("token exchange failed")

	// ErrValidationFailed means the exchanged ID token did not verify.
	ErrValidationFailed = errors.New("token validation failed")

	// ErrSessionStore means the backing session store could not be read or
	// written.
	ErrSessionStore = errors.New("session store unavailable")
)
