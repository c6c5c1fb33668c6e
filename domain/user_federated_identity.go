package domain

import "time"

// UserFederatedIdentity links an identity to an account at an external provider.
type UserFederatedIdentity struct {
	UserID         string    `json:"userId"`
	Provider       string    `json:"provider"`       // e.g. "google"
	ProviderUserID string    `json:"providerUserId"` // subject at the external provider
	ProviderEmail  string    `json:"providerEmail,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// LinkKey is the document key of the link record.
func (f *UserFederatedIdentity) LinkKey() string {
	return f.Provider + ":" + f.ProviderUserID
}
