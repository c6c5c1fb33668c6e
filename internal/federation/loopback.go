package federation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const callbackPath = "/callback"

// OpenURLFunc hands the authorization URL to the user, typically by opening
// a browser.
type OpenURLFunc func(ctx context.Context, url string) error

// LoopbackAuthenticator runs the authorization code flow with PKCE against a
// provider, receiving the redirect on a short-lived local HTTP listener.
type LoopbackAuthenticator struct {
	provider   OAuth2Provider
	listenAddr string
	openURL    OpenURLFunc
	timeout    time.Duration
}

// NewLoopbackAuthenticator returns an authenticator that listens on
// listenAddr ("127.0.0.1:0" picks a free port) for the provider's redirect.
func NewLoopbackAuthenticator(provider OAuth2Provider, listenAddr string, openURL OpenURLFunc) *LoopbackAuthenticator {
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}
	return &LoopbackAuthenticator{
		provider:   provider,
		listenAddr: listenAddr,
		openURL:    openURL,
		timeout:    5 * time.Minute,
	}
}

// WithTimeout bounds how long Authenticate waits for the redirect.
func (a *LoopbackAuthenticator) WithTimeout(d time.Duration) *LoopbackAuthenticator {
	a.timeout = d
	return a
}

func (a *LoopbackAuthenticator) Name() string {
	return a.provider.Name()
}

type callbackResult struct {
	code string
	err  error
}

// Authenticate runs one sign-in and returns the external user.
func (a *LoopbackAuthenticator) Authenticate(ctx context.Context) (*ExternalUserInfo, error) {
	ln, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for redirect: %w", err)
	}
	redirectURL := "http://" + ln.Addr().String() + callbackPath

	conf, err := a.provider.OAuth2Config(redirectURL)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	state, err := randomState()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = ln
	e.GET(callbackPath, func(c echo.Context) error {
		res := callbackResult{code: c.QueryParam("code")}
		switch {
		case c.QueryParam("state") != state:
			res.err = ErrInvalidAuthState
		case c.QueryParam("error") != "":
			res.err = fmt.Errorf("%w: %s", ErrAuthorizationDenied, c.QueryParam("error"))
		case res.code == "":
			res.err = fmt.Errorf("%w: missing code", ErrAuthorizationDenied)
		}

		select {
		case results <- res:
		default:
		}
		if res.err != nil {
			return c.String(http.StatusBadRequest, "Sign-in failed. You can close this window.")
		}
		return c.String(http.StatusOK, "Sign-in complete. You can close this window.")
	})

	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Federation callback listener stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	if err := a.openURL(ctx, authURL); err != nil {
		return nil, fmt.Errorf("failed to open authorization URL: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return nil, waitCtx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	token, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeCodeFailed, err)
	}

	info, err := a.provider.FetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("provider", a.provider.Name()).Str("sub", info.ProviderUserID).Msg("Federated sign-in completed")
	return info, nil
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
