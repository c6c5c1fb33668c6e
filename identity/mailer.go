package identity

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/socialcore/domain"
)

// Mailer delivers password reset tokens to the account owner.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// LogMailer writes reset links to the log instead of sending mail. Meant for
// development setups without an outgoing mail relay.
type LogMailer struct {
	// ResetURL is the page that accepts the token, e.g.
	// "https://app.example.com/reset-password".
	ResetURL string
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, token string, expiresAt time.Time) error {
	link := token
	if m.ResetURL != "" {
		link = m.ResetURL + "?token=" + url.QueryEscape(token)
	}
	log.Info().
		Str("email", email).
		Str("link", link).
		Time("expires_at", expiresAt).
		Msg("Password reset requested")
	return nil
}

// nopSessionStore keeps nothing; sessions end with the process.
type nopSessionStore struct{}

func (nopSessionStore) Save(context.Context, *domain.Identity) error { return nil }

func (nopSessionStore) Load(context.Context) (*domain.Identity, error) { return nil, nil }

func (nopSessionStore) Clear(context.Context) error { return nil }
