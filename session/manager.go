package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go.pilab.hu/socialcore/domain"
	serrors "go.pilab.hu/socialcore/errors"
	"go.pilab.hu/socialcore/internal/audit"
	"go.pilab.hu/socialcore/internal/metrics"
	"go.pilab.hu/socialcore/log"
	"go.pilab.hu/socialcore/profile"
)

const tracerName = "go.pilab.hu/socialcore/session"

var (
	ErrClosed         = errors.New("session: manager closed")
	ErrAlreadyStarted = errors.New("session: manager already started")
)

// Listener receives every published session state. It runs on the manager's
// task goroutine, so it must return quickly and must not call blocking
// Manager methods.
type Listener func(domain.SessionState)

// Manager owns the session state: the current identity, its profile and the
// loading flag. All state transitions happen on one task goroutine; readers
// get immutable snapshots.
type Manager struct {
	idp      domain.IdentityProvider
	profiles domain.ProfileRepository
	logger   log.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	tracer   trace.Tracer
	now      func() time.Time

	queue *taskQueue
	state atomic.Pointer[domain.SessionState]

	// owned by the queue goroutine
	current  *domain.Identity
	epoch    uint64
	fetchSeq uint64
	waiters  []chan<- error

	listenersMu  sync.Mutex
	listeners    map[uint64]Listener
	nextListener uint64

	subMu       sync.Mutex
	started     bool
	closed      bool
	unsubscribe domain.Unsubscribe
	ready       chan struct{}
	readyOnce   sync.Once

	bg       context.Context
	cancelBg context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithAuditLogger(a *audit.Logger) Option {
	return func(m *Manager) { m.audit = a }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithClock overrides the clock used for provisioning fallbacks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager in the initial {nil, nil, loading} state.
// Start must be called to begin observing the identity provider, and Close
// to release it.
func NewManager(idp domain.IdentityProvider, profiles domain.ProfileRepository, opts ...Option) *Manager {
	m := &Manager{
		idp:       idp,
		profiles:  profiles,
		logger:    log.NewNop(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		listeners: make(map[uint64]Listener),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(&domain.SessionState{Loading: true})
	m.queue = newTaskQueue()
	m.bg, m.cancelBg = context.WithCancel(context.Background())
	return m
}

// Start subscribes to the identity provider. It may be called only once.
func (m *Manager) Start(ctx context.Context) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	m.logger.Info(ctx, "Session manager starting")
	m.unsubscribe = m.idp.OnIdentityChange(func(id *domain.Identity) {
		id = id.Clone()
		m.queue.post(func() { m.handleIdentity(id) })
	})
	return nil
}

// Close releases the provider subscription and stops the task goroutine.
// Pending profile fetches are cancelled.
func (m *Manager) Close() {
	m.subMu.Lock()
	if m.closed {
		m.subMu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.subMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.cancelBg()
	m.queue.stop()

	m.listenersMu.Lock()
	m.listeners = make(map[uint64]Listener)
	m.listenersMu.Unlock()
}

// State returns the latest published snapshot.
func (m *Manager) State() domain.SessionState {
	return *m.state.Load()
}

// Ready is closed once the first provider notification has been applied.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Subscribe registers fn for every future state. The returned function
// removes it.
func (m *Manager) Subscribe(fn Listener) func() {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}
}

// SignUp creates an identity and its profile. A failure after the identity
// exists leaves it without a profile; SignIn repairs that later.
func (m *Manager) SignUp(ctx context.Context, email, password, name, username string) error {
	ctx, span := m.tracer.Start(ctx, "session.SignUp")
	defer span.End()

	id, err := m.idp.CreateIdentity(ctx, email, password)
	if err != nil {
		err = serrors.AsAuth(err, serrors.Network, "create identity failed")
		m.fail(ctx, span, "sign_up", "", email, err)
		return err
	}
	span.SetAttributes(attribute.String("uid", id.UID))

	initial := profile.NewSignUpProfile(id.UID, name, username, email)
	if err := m.profiles.Create(ctx, id.UID, initial); err != nil {
		err = serrors.AsStore(err, serrors.Unavailable, "create profile failed")
		m.fail(ctx, span, "sign_up", id.UID, email, err)
		return err
	}

	m.metrics.SignUp()
	m.metrics.ProfileProvisioned()
	m.audit.Log("sign_up", id.UID, email, "", nil)
	m.logger.Info(ctx, "User signed up", log.Fields{"uid": id.UID, "username": initial.Username})

	m.refreshAfterProvisioning(ctx)
	return nil
}

// SignIn verifies email and password with the identity provider.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	ctx, span := m.tracer.Start(ctx, "session.SignIn")
	defer span.End()

	id, err := m.idp.VerifyIdentity(ctx, email, password)
	if err != nil {
		err = serrors.AsAuth(err, serrors.Network, "verify identity failed")
		m.metrics.Login(metrics.MethodPassword, err)
		m.fail(ctx, span, "sign_in", "", email, err)
		return err
	}
	span.SetAttributes(attribute.String("uid", id.UID))
	m.metrics.Login(metrics.MethodPassword, nil)
	m.audit.Log("sign_in", id.UID, email, metrics.MethodPassword, nil)

	created, err := m.ensureProfile(ctx, id)
	if err != nil {
		m.logger.Warn(ctx, "Could not repair missing profile", log.Fields{"uid": id.UID, "error": err.Error()})
		return nil
	}
	if created {
		m.logger.Info(ctx, "Repaired missing profile", log.Fields{"uid": id.UID})
		m.refreshAfterProvisioning(ctx)
	}
	return nil
}

// SignInWithGoogle runs the federated flow and provisions a profile on first
// use. Repeated or concurrent calls for the same identity create one profile.
func (m *Manager) SignInWithGoogle(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "session.SignInWithGoogle")
	defer span.End()

	id, err := m.idp.FederatedSignIn(ctx)
	if err != nil {
		err = serrors.AsAuth(err, serrors.FederationFailed, "federated sign-in failed")
		m.metrics.Login(metrics.MethodGoogle, err)
		m.fail(ctx, span, "sign_in", "", "", err)
		return err
	}
	span.SetAttributes(attribute.String("uid", id.UID))

	created, err := m.ensureProfile(ctx, id)
	if err != nil {
		m.metrics.Login(metrics.MethodGoogle, err)
		m.fail(ctx, span, "sign_in", id.UID, id.Email, err)
		return err
	}

	m.metrics.Login(metrics.MethodGoogle, nil)
	m.audit.Log("sign_in", id.UID, id.Email, metrics.MethodGoogle, nil)
	if created {
		m.logger.Info(ctx, "Provisioned profile for federated user", log.Fields{"uid": id.UID})
		m.refreshAfterProvisioning(ctx)
	}
	return nil
}

// Logout signs out and returns once the published state carries no identity.
func (m *Manager) Logout(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "session.Logout")
	defer span.End()

	uid := ""
	if id := m.State().Identity; id != nil {
		uid = id.UID
	}

	if err := m.idp.SignOut(ctx); err != nil {
		err = serrors.AsAuth(err, serrors.Network, "sign out failed")
		m.fail(ctx, span, "logout", uid, "", err)
		return err
	}

	if err := m.waitFor(ctx, func(s domain.SessionState) bool { return s.Identity == nil }); err != nil {
		span.RecordError(err)
		return err
	}
	m.audit.Log("logout", uid, "", "", nil)
	return nil
}

// ResetPassword asks the provider to send a password reset message.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	ctx, span := m.tracer.Start(ctx, "session.ResetPassword")
	defer span.End()

	if err := m.idp.SendPasswordReset(ctx, email); err != nil {
		err = serrors.AsAuth(err, serrors.Network, "send password reset failed")
		m.fail(ctx, span, "reset_password", "", email, err)
		return err
	}
	m.audit.Log("reset_password", "", email, "", nil)
	return nil
}

// RefreshProfile fetches the current identity's profile again and waits until
// the newest fetch for that identity has been applied. It is a no-op while
// signed out.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	result := make(chan error, 1)
	posted := m.queue.post(func() {
		if m.current == nil {
			result <- nil
			return
		}
		m.startResolution(m.current, m.epoch, result)
	})
	if !posted {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.queue.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureProfile creates the profile for id if none exists. A concurrent
// creation by another caller counts as existing.
func (m *Manager) ensureProfile(ctx context.Context, id *domain.Identity) (bool, error) {
	existing, err := m.profiles.Get(ctx, id.UID)
	if err != nil {
		return false, serrors.AsStore(err, serrors.Unavailable, "load profile failed")
	}
	if existing != nil {
		return false, nil
	}

	err = m.profiles.Create(ctx, id.UID, profile.NewFederatedProfile(id, m.now()))
	if errors.Is(err, domain.ErrRecordExists) {
		return false, nil
	}
	if err != nil {
		return false, serrors.AsStore(err, serrors.Unavailable, "create profile failed")
	}
	m.metrics.ProfileProvisioned()
	return true, nil
}

func (m *Manager) refreshAfterProvisioning(ctx context.Context) {
	if err := m.RefreshProfile(ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Warn(ctx, "Profile refresh after provisioning failed", log.Fields{"error": err.Error()})
	}
}

func (m *Manager) fail(ctx context.Context, span trace.Span, action, uid, target string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.audit.Log(action, uid, target, "", err)
	m.logger.Warn(ctx, "Session operation failed", log.Fields{
		"action": action,
		"code":   string(serrors.CodeOf(err)),
		"error":  err.Error(),
	})
}

// waitFor blocks until pred holds for the published state.
func (m *Manager) waitFor(ctx context.Context, pred func(domain.SessionState) bool) error {
	matched := make(chan struct{})
	var once sync.Once
	unsubscribe := m.Subscribe(func(s domain.SessionState) {
		if pred(s) {
			once.Do(func() { close(matched) })
		}
	})
	defer unsubscribe()

	if pred(m.State()) {
		return nil
	}
	select {
	case <-matched:
		return nil
	case <-m.queue.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleIdentity runs on the queue for every provider notification.
func (m *Manager) handleIdentity(id *domain.Identity) {
	prev := m.current
	m.current = id
	m.epoch++
	m.releaseWaiters(nil)
	defer m.readyOnce.Do(func() { close(m.ready) })

	if id == nil {
		m.metrics.SetSignedIn(false)
		m.publish(domain.SessionState{})
		return
	}

	m.metrics.SetSignedIn(true)
	next := domain.SessionState{Identity: id}
	if prev != nil && prev.UID == id.UID {
		next.Profile = m.state.Load().Profile
	}
	m.publish(next)

	// The fetch is started from a later task, never from inside the
	// provider notification itself.
	epoch := m.epoch
	m.queue.post(func() {
		if m.epoch == epoch {
			m.startResolution(id, epoch, nil)
		}
	})
}

// startResolution runs on the queue. The fetch itself runs on its own
// goroutine and posts its outcome back.
// Waiters are released when the newest fetch of the current epoch is applied.
func (m *Manager) startResolution(id *domain.Identity, epoch uint64, waiter chan<- error) {
	m.fetchSeq++
	seq := m.fetchSeq
	if waiter != nil {
		m.waiters = append(m.waiters, waiter)
	}

	go func() {
		p, err := m.profiles.Get(m.bg, id.UID)
		m.queue.post(func() { m.applyProfile(id, epoch, seq, p, err) })
	}()
}

// applyProfile publishes a fetch result unless the identity changed, or a
// newer fetch was started, after it began.
func (m *Manager) applyProfile(id *domain.Identity, epoch, seq uint64, p *domain.Profile, err error) {
	if epoch != m.epoch || seq != m.fetchSeq || m.current == nil || m.current.UID != id.UID {
		m.metrics.ResolutionStale()
		m.logger.Debug(m.bg, "Discarding stale profile result", log.Fields{"uid": id.UID})
		return
	}
	defer m.releaseWaiters(err)

	if err != nil {
		m.metrics.ResolutionFailed()
		m.logger.Error(m.bg, "Profile fetch failed", err, log.Fields{"uid": id.UID})
		return
	}
	if p == nil {
		return
	}
	m.publish(domain.SessionState{Identity: m.current, Profile: p})
}

func (m *Manager) releaseWaiters(err error) {
	for _, w := range m.waiters {
		w <- err
	}
	m.waiters = nil
}

// publish replaces the snapshot and notifies listeners. Queue only.
func (m *Manager) publish(s domain.SessionState) {
	m.state.Store(&s)

	m.listenersMu.Lock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.listenersMu.Unlock()

	for _, l := range ls {
		l(s)
	}
}
