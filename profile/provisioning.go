package profile

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.pilab.hu/socialcore/domain"
)

const (
	avatarBaseURL  = "https://api.dicebear.com/7.x/avataaars/svg"
	defaultName    = "User"
	fallbackPrefix = "user_"
)

// DefaultAvatarURL returns the generated avatar used when no photo is known.
func DefaultAvatarURL(seed string) string {
	return avatarBaseURL + "?seed=" + url.QueryEscape(seed)
}

// NewSignUpProfile builds the initial profile for an email/password sign-up.
// The username is only lower-cased; callers sanitize it beforehand.
func NewSignUpProfile(uid, name, username, email string) domain.Profile {
	return domain.Profile{
		UID:       uid,
		Name:      name,
		Username:  strings.ToLower(username),
		Email:     email,
		AvatarURL: DefaultAvatarURL(username),
	}
}

// NewFederatedProfile builds the initial profile for an identity that arrived
// without a sign-up form, e.g. through Google.
func NewFederatedProfile(id *domain.Identity, now time.Time) domain.Profile {
	username := DeriveUsername(id.Email, now)

	name := id.DisplayName
	if name == "" {
		name = defaultName
	}
	avatar := id.PhotoURL
	if avatar == "" {
		avatar = DefaultAvatarURL(username)
	}

	return domain.Profile{
		UID:       id.UID,
		Name:      name,
		Username:  username,
		Email:     id.Email,
		AvatarURL: avatar,
	}
}

// DeriveUsername takes the local part of email, lower-cases it and replaces
// characters outside [a-z0-9_] with '_'. Without a usable local part it falls
// back to "user_<unix millis>".
func DeriveUsername(email string, now time.Time) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.ToLower(strings.TrimSpace(local))

	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if strings.Trim(b.String(), "_") == "" {
		return fallbackPrefix + strconv.FormatInt(now.UnixMilli(), 10)
	}
	return b.String()
}
