// Package app assembles the session core from configuration. Both the
// server and the CLI build their runtime through it.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"go.pilab.hu/socialcore/cache"
	redisstore "go.pilab.hu/socialcore/cache/redis"
	"go.pilab.hu/socialcore/config"
	"go.pilab.hu/socialcore/domain"
	"go.pilab.hu/socialcore/identity"
	"go.pilab.hu/socialcore/internal/audit"
	"go.pilab.hu/socialcore/internal/auth"
	"go.pilab.hu/socialcore/internal/federation"
	"go.pilab.hu/socialcore/internal/metrics"
	"go.pilab.hu/socialcore/log"
	"go.pilab.hu/socialcore/media"
	"go.pilab.hu/socialcore/mongodb"
	"go.pilab.hu/socialcore/posts"
	"go.pilab.hu/socialcore/profile"
	"go.pilab.hu/socialcore/session"
	boltstore "go.pilab.hu/socialcore/store/bolt"
	"go.pilab.hu/socialcore/store/memory"
	"go.pilab.hu/socialcore/tracing"
)

// SessionSlot names the persisted session of this installation.
const SessionSlot = "default"

// Options carries the pieces that differ between the server and the CLI.
type Options struct {
	// OpenURL presents the Google consent URL to the user.
	OpenURL federation.OpenURLFunc
	// AuditWriter receives audit events; stdout when nil.
	AuditWriter io.Writer
}

// App is a started session core with everything it depends on.
type App struct {
	Config   *config.ServerConfig
	Logger   log.Logger
	Registry *prometheus.Registry
	Store    domain.DocumentStore
	Identity *identity.Provider
	Profiles *profile.Repository
	Sessions *session.Manager
	Posts    *posts.Service // nil unless media storage is configured

	bolt    *boltstore.DB
	closers []func(context.Context)
}

// New builds and starts the session core described by cfg. The persisted
// session, if any, is restored before the manager starts listening.
func New(ctx context.Context, cfg *config.ServerConfig, logger log.Logger, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)

	if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}

	idOpts, err := a.identityOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.Identity = identity.New(a.Store, idOpts...)
	a.closers = append(a.closers, func(context.Context) { a.Identity.Close() })

	if restored, err := a.Identity.Restore(ctx); err != nil {
		logger.Warn(ctx, "Failed to restore persisted session", log.Fields{"error": err.Error()})
	} else if restored != nil {
		logger.Info(ctx, "Restored persisted session", log.Fields{"uid": restored.UID})
	}

	a.Profiles = profile.NewRepository(a.Store)

	var auditLog *audit.Logger
	if cfg.AuditLog {
		auditLog = audit.New(opts.AuditWriter)
	}

	a.Sessions = session.NewManager(a.Identity, a.Profiles,
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithAuditLogger(auditLog),
		session.WithTracer(tracing.Tracer),
	)
	a.closers = append(a.closers, func(context.Context) { a.Sessions.Close() })
	if err := a.Sessions.Start(ctx); err != nil {
		return nil, err
	}

	if cfg.MediaEnabled() {
		s3cfg := media.S3Config{
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			MaxBytes:      cfg.MediaMaxBytes,
		}
		client, err := media.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		a.Posts = posts.NewService(a.Store, a.Profiles, media.NewS3Uploader(client, s3cfg), logger, m)
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (domain.DocumentStore, error) {
	switch a.Config.StoreDriver {
	case config.StoreMongoDB:
	case config.StoreBolt:
		db, err := boltstore.Open(a.Config.BoltPath)
		if err != nil {
			return nil, err
		}
		a.bolt = db
		a.closers = append(a.closers, func(context.Context) { _ = db.Close() })
		return boltstore.NewDocumentStore(db), nil
	default:
		a.Logger.Warn(ctx, "Using in-memory document store; data is lost on exit")
		return memory.New(), nil
	}

	client, err := mongodb.Connect(ctx, a.Config.MongoURI, a.Config.MongoDBName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	if err := mongodb.EnsureIndexes(ctx, client.Database()); err != nil {
		return nil, err
	}
	return mongodb.NewDocumentStore(client.Database()), nil
}

func (a *App) identityOptions(ctx context.Context, opts Options) ([]identity.Option, error) {
	cfg := a.Config
	idOpts := []identity.Option{
		identity.WithPasswordHasher(auth.NewBcryptPasswordHasher(cfg.BcryptCost)),
		identity.WithMailer(identity.LogMailer{ResetURL: cfg.ResetURL}),
		identity.WithEnumerationProtection(cfg.EnumerationProtection),
		identity.WithResetTTL(cfg.ResetTokenTTL),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func(context.Context) { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		idOpts = append(idOpts,
			identity.WithSessionStore(redisstore.NewSessionStore(rdb, cfg.RedisPrefix, SessionSlot, cfg.SessionTTL)),
			identity.WithResetTokenStore(redisstore.NewResetStore(rdb, cfg.RedisPrefix)),
		)
	} else if a.bolt != nil {
		idOpts = append(idOpts,
			identity.WithSessionStore(boltstore.NewSessionStore(a.bolt, SessionSlot, cfg.SessionTTL)),
			identity.WithResetTokenStore(boltstore.NewResetStore(a.bolt)),
		)
	} else {
		sessions := cache.NewMemorySessionStore(cfg.SessionTTL)
		a.closers = append(a.closers, func(context.Context) { sessions.Stop() })
		idOpts = append(idOpts, identity.WithSessionStore(sessions))
	}

	if cfg.GoogleEnabled() {
		google, err := federation.NewGoogleProvider(federation.ProviderConfig{
			Name:         "google",
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		})
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		openURL := opts.OpenURL
		if openURL == nil {
			openURL = a.logConsentURL
		}
		idOpts = append(idOpts, identity.WithFederatedAuthenticator(
			federation.NewLoopbackAuthenticator(google, cfg.GoogleCallbackAddr, openURL)))
	}

	return idOpts, nil
}

func (a *App) logConsentURL(ctx context.Context, url string) error {
	a.Logger.Info(ctx, "Open the Google consent page to continue sign-in", log.Fields{"url": url})
	return nil
}

// Close stops the manager and releases every connection, newest first.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
