package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Login methods used as the "method" label.
const (
	MethodPassword = "password"
	MethodGoogle   = "google"
)

// Metrics holds the session core's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SignUpsTotal            prometheus.Counter
	LoginSuccessTotal       *prometheus.CounterVec
	LoginFailureTotal       *prometheus.CounterVec
	ProfilesProvisioned     prometheus.Counter
	ProfileResolutionErrors prometheus.Counter
	StaleResolutionsTotal   prometheus.Counter
	PostsCreatedTotal       prometheus.Counter
	SignedIn                prometheus.Gauge
}

// New creates the collectors and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignUpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "social_signups_total",
			Help: "Total number of completed sign-ups.",
		}),
		LoginSuccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "social_logins_success_total",
			Help: "Total number of successful sign-ins.",
		}, []string{"method"}),
		LoginFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "social_logins_failure_total",
			Help: "Total number of failed sign-ins.",
		}, []string{"method"}),
		ProfilesProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "social_profiles_provisioned_total",
			Help: "Total number of profile records created.",
		}),
		ProfileResolutionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "social_profile_resolution_errors_total",
			Help: "Profile fetches that failed after an identity change.",
		}),
		StaleResolutionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "social_profile_resolutions_stale_total",
			Help: "Profile fetches discarded because the identity changed meanwhile.",
		}),
		PostsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "social_posts_created_total",
			Help: "Total number of posts created.",
		}),
		SignedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "social_session_signed_in",
			Help: "1 while an identity is signed in, 0 otherwise.",
		}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{
		m.SignUpsTotal, m.LoginSuccessTotal, m.LoginFailureTotal, m.ProfilesProvisioned,
		m.ProfileResolutionErrors, m.StaleResolutionsTotal, m.PostsCreatedTotal, m.SignedIn,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	return m
}

func (m *Metrics) SignUp() {
	if m == nil {
		return
	}
	m.SignUpsTotal.Inc()
}

func (m *Metrics) Login(method string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LoginFailureTotal.WithLabelValues(method).Inc()
		return
	}
	m.LoginSuccessTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) ProfileProvisioned() {
	if m == nil {
		return
	}
	m.ProfilesProvisioned.Inc()
}

func (m *Metrics) ResolutionFailed() {
	if m == nil {
		return
	}
	m.ProfileResolutionErrors.Inc()
}

func (m *Metrics) ResolutionStale() {
	if m == nil {
		return
	}
	m.StaleResolutionsTotal.Inc()
}

func (m *Metrics) PostCreated() {
	if m == nil {
		return
	}
	m.PostsCreatedTotal.Inc()
}

func (m *Metrics) SetSignedIn(signedIn bool) {
	if m == nil {
		return
	}
	if signedIn {
		m.SignedIn.Set(1)
	} else {
		m.SignedIn.Set(0)
	}
}
