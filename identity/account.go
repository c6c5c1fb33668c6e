package identity

import (
	"time"

	"go.pilab.hu/socialcore/domain"
)

// account is the stored credential record, keyed by lower-cased email.
// Federated-only accounts have no password hash.
type account struct {
	UID          string
	Email        string
	PasswordHash string
	DisplayName  string
	PhotoURL     string
	CreatedAt    time.Time
}

func (a *account) identity() *domain.Identity {
	return &domain.Identity{
		UID:         a.UID,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		PhotoURL:    a.PhotoURL,
	}
}

func (a *account) fields() domain.Fields {
	return domain.Fields{
		"uid":          a.UID,
		"email":        a.Email,
		"passwordHash": a.PasswordHash,
		"displayName":  a.DisplayName,
		"photoUrl":     a.PhotoURL,
		"createdAt":    a.CreatedAt,
	}
}

func accountFromFields(f domain.Fields) *account {
	a := &account{}
	a.UID, _ = f["uid"].(string)
	a.Email, _ = f["email"].(string)
	a.PasswordHash, _ = f["passwordHash"].(string)
	a.DisplayName, _ = f["displayName"].(string)
	a.PhotoURL, _ = f["photoUrl"].(string)
	a.CreatedAt, _ = f["createdAt"].(time.Time)
	return a
}

func linkFields(l *domain.UserFederatedIdentity) domain.Fields {
	return domain.Fields{
		"userId":         l.UserID,
		"provider":       l.Provider,
		"providerUserId": l.ProviderUserID,
		"providerEmail":  l.ProviderEmail,
		"createdAt":      l.CreatedAt,
	}
}
