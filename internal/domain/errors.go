package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoSetup          = errors.New("setup not configured")
	ErrSetupNotLoaded   = errors.New("setup not loaded yet")
	ErrTokenUnavailable = errors.New("no access token cached")
)

// NotAuthorizedError reports that an account has no refresh token, meaning
// the operator has not completed the OAuth flow for it. Recoverable: the
// caller waits or skips instead of escalating.
type NotAuthorizedError struct {
	Account Account
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("%s account not authorized: complete the OAuth flow at /auth/%s/login", e.Account, e.Account)
}

// IsNotAuthorized reports whether err is a NotAuthorizedError for any account.
func IsNotAuthorized(err error) bool {
	var naErr *NotAuthorizedError
	return errors.As(err, &naErr)
}
