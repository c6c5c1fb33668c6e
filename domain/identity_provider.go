package domain

import "context"

// Identity is an authenticated principal issued by the identity provider.
// The core only observes it; creation and destruction belong to the provider.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// Clone returns a copy of the identity, or nil for a nil receiver.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Unsubscribe releases a subscription returned by IdentityProvider.OnIdentityChange.
type Unsubscribe func()

// IdentityProvider is the contract of the external authentication service.
//
// OnIdentityChange delivers the current identity (nil when signed out) once
// after registration and again on every transition. Deliveries are serialized
// and happen in order; callbacks must return quickly and must not call back
// into the provider.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, email, password string) (*Identity, error)
	VerifyIdentity(ctx context.Context, email, password string) (*Identity, error)
	FederatedSignIn(ctx context.Context) (*Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	OnIdentityChange(fn func(*Identity)) Unsubscribe
}
