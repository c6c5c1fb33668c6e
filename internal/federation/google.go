package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	googleOAuth2 "golang.org/x/oauth2/google"
)

var GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleProvider implements the OAuth2Provider interface for Google.
type GoogleProvider struct {
	*BaseProvider
}

// NewGoogleProvider creates a new GoogleProvider. The openid, profile and
// email scopes are always requested.
func NewGoogleProvider(cfg ProviderConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" {
		return nil, ErrProviderMisconfigured
	}
	if cfg.Name == "" {
		cfg.Name = "google"
	}
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = googleOAuth2.Endpoint
	}

	hasOpenID := false
	hasProfile := false
	hasEmail := false
	for _, scope := range cfg.Scopes {
		switch scope {
		case "openid":
			hasOpenID = true
		case "profile", "https://www.googleapis.com/auth/userinfo.profile":
			hasProfile = true
		case "email", "https://www.googleapis.com/auth/userinfo.email":
			hasEmail = true
		}
	}
	if !hasOpenID {
		cfg.Scopes = append(cfg.Scopes, "openid")
	}
	if !hasProfile {
		cfg.Scopes = append(cfg.Scopes, "https://www.googleapis.com/auth/userinfo.profile")
	}
	if !hasEmail {
		cfg.Scopes = append(cfg.Scopes, "https://www.googleapis.com/auth/userinfo.email")
	}

	return &GoogleProvider{
		BaseProvider: NewBaseProvider(cfg),
	}, nil
}

// FetchUserInfo fetches the signed-in user's profile from Google.
func (g *GoogleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GoogleUserInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build Google user info request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchUserInfoFailed, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Google user info response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrFetchUserInfoFailed, resp.StatusCode, string(rawBody))
	}

	var rawUserInfo struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.Unmarshal(rawBody, &rawUserInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Google user info: %w", err)
	}
	if rawUserInfo.Sub == "" {
		return nil, fmt.Errorf("%w: response has no subject", ErrFetchUserInfoFailed)
	}

	var rawDataMap map[string]any
	_ = json.Unmarshal(rawBody, &rawDataMap)

	return &ExternalUserInfo{
		ProviderUserID: rawUserInfo.Sub,
		Email:          rawUserInfo.Email,
		EmailVerified:  rawUserInfo.EmailVerified,
		Name:           rawUserInfo.Name,
		PictureURL:     rawUserInfo.Picture,
		RawData:        rawDataMap,
	}, nil
}

// Ensure GoogleProvider implements OAuth2Provider.
var _ OAuth2Provider = (*GoogleProvider)(nil)
