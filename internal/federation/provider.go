package federation

import (
	"context"

	"golang.org/x/oauth2"
)

// ExternalUserInfo holds standardized user information retrieved from an external OAuth2 provider.
type ExternalUserInfo struct {
	ProviderUserID string // Unique ID of the user within the external provider (e.g., Google's 'sub')
	Email          string
	EmailVerified  bool
	Name           string
	PictureURL     string
	RawData        map[string]any // Raw user data from the provider
}

// ProviderConfig is the client registration at an external provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Endpoint overrides the provider's well-known endpoints when set.
	Endpoint oauth2.Endpoint
}

// OAuth2Provider defines the interface for an external OAuth2 identity provider.
type OAuth2Provider interface {
	// Name returns the unique identifier for the provider (e.g., "google").
	Name() string

	// OAuth2Config returns the client configuration for the given redirect URL.
	OAuth2Config(redirectURL string) (*oauth2.Config, error)

	// FetchUserInfo uses an access token to retrieve user information from the provider.
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error)
}

// BaseProvider provides the configuration handling shared by providers.
type BaseProvider struct {
	Config ProviderConfig
}

func NewBaseProvider(cfg ProviderConfig) *BaseProvider {
	return &BaseProvider{Config: cfg}
}

func (b *BaseProvider) Name() string {
	return b.Config.Name
}

func (b *BaseProvider) OAuth2Config(redirectURL string) (*oauth2.Config, error) {
	if b.Config.ClientID == "" || b.Config.Endpoint.AuthURL == "" || b.Config.Endpoint.TokenURL == "" {
		return nil, ErrProviderMisconfigured
	}
	return &oauth2.Config{
		ClientID:     b.Config.ClientID,
		ClientSecret: b.Config.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       b.Config.Scopes,
		Endpoint:     b.Config.Endpoint,
	}, nil
}
