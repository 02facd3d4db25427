// Package app assembles the access core from configuration: repositories, resolver, validator, audit writer and
// the transfer engine, together with the telemetry and notification plumbing they report through.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"org-access-core/internal/audit"
	auditrepo "org-access-core/internal/audit/repository"
	"org-access-core/internal/billing"
	"org-access-core/internal/cache"
	"org-access-core/internal/config"
	"org-access-core/internal/db"
	"org-access-core/internal/fraud"
	membershiprepo "org-access-core/internal/membership/repository"
	"org-access-core/internal/membership/resolver"
	membershipservice "org-access-core/internal/membership/service"
	"org-access-core/internal/notify"
	orgrepo "org-access-core/internal/organization/repository"
	"org-access-core/internal/platform/rbac"
	"org-access-core/internal/security"
	telemetryotel "org-access-core/internal/telemetry/otel"
	transferrepo "org-access-core/internal/transfer/repository"
	transferservice "org-access-core/internal/transfer/service"
	userrepo "org-access-core/internal/user/repository"
)

// ServiceName is the OTel service name.
const ServiceName = "org-access-core"

// App holds the wired components. Close releases them in reverse order.
type App struct {
	DB          *sql.DB
	AuditRepo   *auditrepo.PostgresRepository
	Audit       *audit.Writer
	Resolver    *resolver.Resolver
	Validator   *rbac.Validator
	Memberships *membershipservice.Service
	Scorer      *fraud.OPAScorer
	Transfers   *transferservice.Engine
	Notifier    *notify.Async
	Telemetry   *telemetryotel.Providers

	closers []func(context.Context) error
}

// New opens the database and wires every component from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: DATABASE_URL is required")
	}
	a := &App{}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: ServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("app: telemetry: %w", err)
	}
	providers.SetGlobal()
	a.Telemetry = providers
	a.closers = append(a.closers, providers.Shutdown)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app: db: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, func(context.Context) error { return conn.Close() })

	var c cache.Cache = cache.NewMemoryCache()
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		c = rc
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
	}

	publisher := notify.NewKafkaPublisher(cfg.KafkaBrokersList(), cfg.NotifyKafkaTopic, cfg.AlertKafkaTopic)
	a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })

	writerOpts := []audit.WriterOption{audit.WithConfig(audit.Config{
		MaxAttempts:    cfg.AuditMaxAttempts,
		InitialBackoff: cfg.AuditBackoffInitial,
		MaxBackoff:     cfg.AuditBackoffMax,
	})}
	if ch := telemetryotel.NewAuditLogChannel(providers.LoggerProvider); ch != nil {
		writerOpts = append(writerOpts, audit.WithSecondaryChannel(ch))
	}
	if publisher != nil {
		writerOpts = append(writerOpts, audit.WithAlerter(publisher))
	}
	a.AuditRepo = auditrepo.NewPostgresRepository(conn)
	a.Audit = audit.NewWriter(a.AuditRepo, writerOpts...)

	members := membershiprepo.NewPostgresRepository(conn)
	a.Resolver = resolver.New(members, c,
		resolver.WithTTL(cfg.MembershipCacheTTL),
		resolver.WithTimeout(cfg.ResolverTimeout))
	a.Validator = rbac.NewValidator(a.Resolver, a.Audit)
	a.Memberships = membershipservice.NewService(members, a.Validator, a.Audit, a.Resolver)

	a.Scorer, err = fraud.NewOPAScorerFromFile(ctx, cfg.FraudPolicyPath)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app: fraud policy: %w", err)
	}

	tokens, err := tokenIssuer(cfg)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app: transfer token keys: %w", err)
	}

	if publisher != nil {
		a.Notifier = notify.NewAsync(publisher)
	} else {
		a.Notifier = notify.NewAsync(notify.Noop{})
	}
	// Drain before the publisher closes; closers run in reverse.
	a.closers = append(a.closers, func(context.Context) error {
		if !a.Notifier.Drain(notify.ShutdownDrainDuration) {
			log.Printf("app: notification drain timed out")
		}
		return nil
	})

	orgs := orgrepo.NewPostgresRepository(conn)
	a.Transfers = transferservice.New(transferservice.Deps{
		Repo:        transferrepo.NewPostgresRepository(conn),
		Orgs:        orgs,
		Users:       userrepo.NewPostgresRepository(conn),
		Checker:     a.Validator,
		Audit:       a.Audit,
		Invalidator: a.Resolver,
		Scorer:      a.Scorer,
		Billing:     billing.NewClient(cfg.BillingBaseURL, cfg.BillingAPIKey),
		Tokens:      tokens,
		Notifier:    a.Notifier,
	})
	return a, nil
}

// tokenIssuer loads the configured key pair. Without one, outside production, an ephemeral key is used and tokens
// do not survive a restart.
func tokenIssuer(cfg *config.Config) (*security.TransferTokenIssuer, error) {
	if cfg.TokenKeysConfigured() {
		priv, pub, err := security.LoadKeyPair(cfg.TransferTokenPrivateKey, cfg.TransferTokenPublicKey)
		if err != nil {
			return nil, err
		}
		return security.NewTransferTokenIssuer(priv, pub, cfg.TransferTokenIssuer), nil
	}
	if cfg.Env == "production" {
		return nil, errors.New("TRANSFER_TOKEN_PRIVATE_KEY and TRANSFER_TOKEN_PUBLIC_KEY are required in production")
	}
	log.Printf("app: no transfer token keys configured; using an ephemeral key")
	priv, pub, err := security.NewEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	return security.NewTransferTokenIssuer(priv, pub, cfg.TransferTokenIssuer), nil
}

// Close releases everything New opened. Errors are logged; the first one is returned.
func (a *App) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Printf("app: close: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	a.closers = nil
	return first
}
