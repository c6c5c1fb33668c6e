// Package identity is a self-hosted identity provider. Accounts live in the
// document store, passwords are bcrypt hashed, and the signed-in identity is
// persisted through a cache.SessionStore so it survives restarts.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/socialcore/cache"
	"go.pilab.hu/socialcore/domain"
	serrors "go.pilab.hu/socialcore/errors"
	"go.pilab.hu/socialcore/internal/auth"
	"go.pilab.hu/socialcore/internal/federation"
)

const (
	AccountsCollection            = "accounts"
	FederatedIdentitiesCollection = "federated_identities"

	MinPasswordLength = 6
	DefaultResetTTL   = time.Hour
)

// FederatedAuthenticator runs an external sign-in and returns the external user.
type FederatedAuthenticator interface {
	Name() string
	Authenticate(ctx context.Context) (*federation.ExternalUserInfo, error)
}

// Provider implements domain.IdentityProvider.
type Provider struct {
	store     domain.DocumentStore
	hasher    auth.PasswordHasher
	sessions  cache.SessionStore
	resets    cache.ResetTokenStore
	mailer    Mailer
	federated FederatedAuthenticator

	enumerationProtection bool
	resetTTL              time.Duration
	now                   func() time.Time

	ownedResets *cache.MemoryResetStore

	mu        sync.Mutex // guards current and listeners
	current   *domain.Identity
	listeners map[uint64]func(*domain.Identity)
	nextID    uint64

	dispatchMu sync.Mutex // serializes listener deliveries
}

// Option configures a Provider.
type Option func(*Provider)

func WithPasswordHasher(h auth.PasswordHasher) Option {
	return func(p *Provider) { p.hasher = h }
}

func WithSessionStore(s cache.SessionStore) Option {
	return func(p *Provider) { p.sessions = s }
}

func WithResetTokenStore(s cache.ResetTokenStore) Option {
	return func(p *Provider) { p.resets = s }
}

func WithMailer(m Mailer) Option {
	return func(p *Provider) { p.mailer = m }
}

// WithFederatedAuthenticator enables FederatedSignIn. Without it the call
// fails with operation-not-allowed.
func WithFederatedAuthenticator(a FederatedAuthenticator) Option {
	return func(p *Provider) { p.federated = a }
}

// WithEnumerationProtection makes SendPasswordReset succeed silently for
// unknown emails instead of returning user-not-found.
func WithEnumerationProtection(enabled bool) Option {
	return func(p *Provider) { p.enumerationProtection = enabled }
}

func WithResetTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.resetTTL = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates a provider over store. Call Close to release the default
// reset token store.
func New(store domain.DocumentStore, opts ...Option) *Provider {
	p := &Provider{
		store:     store,
		hasher:    auth.NewBcryptPasswordHasher(0),
		sessions:  nopSessionStore{},
		mailer:    LogMailer{},
		resetTTL:  DefaultResetTTL,
		now:       time.Now,
		listeners: make(map[uint64]func(*domain.Identity)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resets == nil {
		p.ownedResets = cache.NewMemoryResetStore()
		p.resets = p.ownedResets
	}
	return p
}

func (p *Provider) Close() {
	if p.ownedResets != nil {
		p.ownedResets.Stop()
	}
}

// Restore resumes the persisted session, if any, and notifies listeners.
// It returns the restored identity or nil.
func (p *Provider) Restore(ctx context.Context) (*domain.Identity, error) {
	id, err := p.sessions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if id == nil {
		return nil, nil
	}

	acct, err := p.loadAccount(ctx, id.Email)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.UID != id.UID {
		log.Warn().Str("uid", id.UID).Msg("Discarding persisted session for unknown account")
		if err := p.sessions.Clear(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clear persisted session")
		}
		return nil, nil
	}

	p.setCurrent(ctx, id, false)
	return id.Clone(), nil
}

// Current returns the signed-in identity or nil.
func (p *Provider) Current() *domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

func (p *Provider) CreateIdentity(ctx context.Context, email, password string) (*domain.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, serrors.NewAuthError(serrors.WeakPassword,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength), nil)
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return nil, serrors.NewAuthError(serrors.WeakPassword, "password cannot be hashed", err)
	}

	acct := &account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    p.now().UTC(),
	}
	err = p.store.CreateRecord(ctx, AccountsCollection, email, acct.fields())
	if errors.Is(err, domain.ErrRecordExists) {
		return nil, serrors.NewAuthError(serrors.EmailAlreadyInUse, "email already in use", nil)
	}
	if err != nil {
		return nil, serrors.NewAuthError(serrors.Network, "account store unavailable", err)
	}

	id := acct.identity()
	log.Info().Str("uid", id.UID).Msg("Identity created")
	p.setCurrent(ctx, id, true)
	return id.Clone(), nil
}

func (p *Provider) VerifyIdentity(ctx context.Context, email, password string) (*domain.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	acct, err := p.loadAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.PasswordHash == "" {
		return nil, serrors.NewAuthError(serrors.InvalidCredential, "invalid email or password", nil)
	}
	if err := p.hasher.Verify(acct.PasswordHash, password); err != nil {
		return nil, serrors.NewAuthError(serrors.InvalidCredential, "invalid email or password", nil)
	}

	id := acct.identity()
	p.setCurrent(ctx, id, true)
	return id.Clone(), nil
}

// FederatedSignIn signs in through the configured external provider. The
// external account is linked to a local account on first use; an existing
// local account with the same email is reused only when the provider
// verified that email.
func (p *Provider) FederatedSignIn(ctx context.Context) (*domain.Identity, error) {
	if p.federated == nil {
		return nil, serrors.NewAuthError(serrors.OperationNotAllowed, "federated sign-in is not configured", nil)
	}

	info, err := p.federated.Authenticate(ctx)
	if err != nil {
		return nil, serrors.NewAuthError(serrors.FederationFailed, "federated sign-in failed", err)
	}

	uid, err := p.resolveFederatedUID(ctx, info)
	if err != nil {
		return nil, err
	}

	id := &domain.Identity{
		UID:         uid,
		DisplayName: info.Name,
		Email:       strings.ToLower(info.Email),
		PhotoURL:    info.PictureURL,
	}
	p.setCurrent(ctx, id, true)
	return id.Clone(), nil
}

func (p *Provider) resolveFederatedUID(ctx context.Context, info *federation.ExternalUserInfo) (string, error) {
	link := &domain.UserFederatedIdentity{
		Provider:       p.federated.Name(),
		ProviderUserID: info.ProviderUserID,
		ProviderEmail:  strings.ToLower(info.Email),
		CreatedAt:      p.now().UTC(),
	}

	linked, err := p.loadLink(ctx, link.LinkKey())
	if err != nil {
		return "", err
	}
	if linked != "" {
		return linked, nil
	}

	uid, err := p.accountForFederatedUser(ctx, info)
	if err != nil {
		return "", err
	}
	link.UserID = uid

	err = p.store.CreateRecord(ctx, FederatedIdentitiesCollection, link.LinkKey(), linkFields(link))
	if errors.Is(err, domain.ErrRecordExists) {
		// another sign-in linked the same external account first
		return p.loadLink(ctx, link.LinkKey())
	}
	if err != nil {
		return "", serrors.NewAuthError(serrors.Network, "account store unavailable", err)
	}
	return uid, nil
}

func (p *Provider) accountForFederatedUser(ctx context.Context, info *federation.ExternalUserInfo) (string, error) {
	email := strings.ToLower(strings.TrimSpace(info.Email))
	if email == "" {
		return uuid.NewString(), nil
	}

	acct, err := p.loadAccount(ctx, email)
	if err != nil {
		return "", err
	}
	if acct != nil {
		if !info.EmailVerified {
			return "", serrors.NewAuthError(serrors.EmailAlreadyInUse,
				"an account with this email exists; sign in with a password", nil)
		}
		return acct.UID, nil
	}

	acct = &account{
		UID:         uuid.NewString(),
		Email:       email,
		DisplayName: info.Name,
		PhotoURL:    info.PictureURL,
		CreatedAt:   p.now().UTC(),
	}
	err = p.store.CreateRecord(ctx, AccountsCollection, email, acct.fields())
	if errors.Is(err, domain.ErrRecordExists) {
		acct, err = p.loadAccount(ctx, email)
		if err != nil {
			return "", err
		}
		if acct == nil {
			return "", serrors.NewAuthError(serrors.Network, "account vanished during sign-in", nil)
		}
		return acct.UID, nil
	}
	if err != nil {
		return "", serrors.NewAuthError(serrors.Network, "account store unavailable", err)
	}
	return acct.UID, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.setCurrent(ctx, nil, true)
	return nil
}

// SendPasswordReset issues a single-use reset token and mails it.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	acct, err := p.loadAccount(ctx, email)
	if err != nil {
		return err
	}
	if acct == nil {
		if p.enumerationProtection {
			log.Debug().Msg("Password reset requested for unknown email")
			return nil
		}
		return serrors.NewAuthError(serrors.UserNotFound, "no account for this email", nil)
	}

	token, err := newResetToken()
	if err != nil {
		return serrors.NewAuthError(serrors.Network, "cannot issue reset token", err)
	}
	expiresAt := p.now().Add(p.resetTTL)
	entry := cache.ResetEntry{UID: acct.UID, Email: acct.Email, ExpiresAt: expiresAt}
	if err := p.resets.Save(ctx, token, entry); err != nil {
		return serrors.NewAuthError(serrors.Network, "cannot store reset token", err)
	}

	if err := p.mailer.SendPasswordReset(ctx, acct.Email, token, expiresAt); err != nil {
		return serrors.NewAuthError(serrors.Network, "cannot send reset email", err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a token from
// SendPasswordReset. Each token works once.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return serrors.NewAuthError(serrors.WeakPassword,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength), nil)
	}

	entry, err := p.resets.Consume(ctx, token)
	if errors.Is(err, cache.ErrTokenNotFound) {
		return serrors.NewAuthError(serrors.InvalidResetToken, "reset link is invalid or expired", nil)
	}
	if err != nil {
		return serrors.NewAuthError(serrors.Network, "cannot read reset token", err)
	}

	hash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return serrors.NewAuthError(serrors.WeakPassword, "password cannot be hashed", err)
	}

	err = p.store.UpdateRecord(ctx, AccountsCollection, entry.Email, domain.Fields{
		"passwordHash":      hash,
		"passwordChangedAt": domain.ServerTimestamp{},
	})
	if errors.Is(err, domain.ErrRecordNotFound) {
		return serrors.NewAuthError(serrors.InvalidResetToken, "account no longer exists", nil)
	}
	if err != nil {
		return serrors.NewAuthError(serrors.Network, "account store unavailable", err)
	}

	log.Info().Str("uid", entry.UID).Msg("Password reset completed")
	return nil
}

// OnIdentityChange registers fn. The current identity is delivered once,
// asynchronously, followed by every later transition.
func (p *Provider) OnIdentityChange(fn func(*domain.Identity)) domain.Unsubscribe {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	go func() {
		p.dispatchMu.Lock()
		defer p.dispatchMu.Unlock()

		p.mu.Lock()
		_, subscribed := p.listeners[id]
		current := p.current.Clone()
		p.mu.Unlock()
		if subscribed {
			fn(current)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// setCurrent swaps the signed-in identity and notifies listeners before
// returning.
func (p *Provider) setCurrent(ctx context.Context, id *domain.Identity, persist bool) {
	if persist {
		var err error
		if id != nil {
			err = p.sessions.Save(ctx, id)
		} else {
			err = p.sessions.Clear(ctx)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to persist session")
		}
	}

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	p.current = id.Clone()
	ls := make([]func(*domain.Identity), 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.mu.Unlock()

	for _, l := range ls {
		l(id.Clone())
	}
}

func (p *Provider) loadAccount(ctx context.Context, email string) (*account, error) {
	f, err := p.store.GetRecord(ctx, AccountsCollection, email)
	if err != nil {
		return nil, serrors.NewAuthError(serrors.Network, "account store unavailable", err)
	}
	if f == nil {
		return nil, nil
	}
	return accountFromFields(f), nil
}

func (p *Provider) loadLink(ctx context.Context, key string) (string, error) {
	f, err := p.store.GetRecord(ctx, FederatedIdentitiesCollection, key)
	if err != nil {
		return "", serrors.NewAuthError(serrors.Network, "account store unavailable", err)
	}
	if f == nil {
		return "", nil
	}
	uid, _ := f["userId"].(string)
	return uid, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", serrors.NewAuthError(serrors.InvalidEmail, "email address is malformed", nil)
	}
	return email, nil
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

var _ domain.IdentityProvider = (*Provider)(nil)
