package auth

import (
	"errors"
	"fmt"
)

// ErrMissingCallbackData is returned by HandleSignInCallback when neither
// the route nor the location fragment carried a payload.
var ErrMissingCallbackData = errors.New("unable to process callback: no data given")

// ErrInvalidToken is returned when a callback token fails verification or
// does not answer a request this session made.
var ErrInvalidToken = errors.New("id_token rejected")

// ErrVerificationDisabled is returned by VerifiedClaims when the controller
// was built without a verifier.
var ErrVerificationDisabled = errors.New("token verification is not configured")

// ProviderError is an OAuth2 error response delivered to the callback, see
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type ProviderError struct {
	Code        string
	Description string
	URI         string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
