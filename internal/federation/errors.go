package federation

import "errors"

var (
	ErrInvalidAuthState      = errors.New("invalid auth state parameter")
	ErrAuthorizationDenied   = errors.New("authorization was denied by the user or provider")
	ErrExchangeCodeFailed    = errors.New("failed to exchange authorization code for token")
	ErrFetchUserInfoFailed   = errors.New("failed to fetch user info from provider")
	ErrProviderMisconfigured = errors.New("provider is misconfigured")
)
