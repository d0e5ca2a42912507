package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"chatroom/backend/internal/audit"
	"chatroom/backend/internal/chat"
	"chatroom/backend/internal/moderation"
	"chatroom/backend/internal/presence"
	"chatroom/backend/internal/repository"
	"chatroom/backend/internal/service"
	"chatroom/backend/internal/ws"
	"chatroom/backend/pkg/config"
	"chatroom/backend/pkg/health"
	"chatroom/backend/pkg/jwt"
	"chatroom/backend/pkg/logger"
	"chatroom/backend/pkg/resilience"
	"chatroom/backend/pkg/secrets"
	"chatroom/backend/shared/observability"
	"chatroom/backend/shared/redis"

	"gorm.io/gorm"
)

const sessionSecretKey = "session_secret"

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logger.Logger

	Gateway  *repository.GormGateway
	Store    *repository.BreakerGateway
	Tokens   *jwt.Service
	Sessions service.SessionStore
	Users    *service.UserService

	Filter   *moderation.Filter
	Registry *presence.Registry
	Hub      *ws.Hub
	Chat     *chat.Service
	Audit    *audit.Recorder

	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Health         *health.Checker

	closers []func(context.Context) error
}

// New creates a new dependency injection container. The hub is not running
// until Start is called.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, DB: db, Logger: log}
	if err := c.build(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg := c.Config
	log := c.Logger

	if cfg.Observability.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.Observability.ServiceName, os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		c.closers = append(c.closers, shutdown)
	}

	mp, metricsHandler, err := observability.SetupPrometheusMetrics()
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}
	c.closers = append(c.closers, mp.Shutdown)
	c.MetricsHandler = metricsHandler
	if c.Metrics, err = observability.NewMetrics(mp); err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	c.Gateway = repository.NewGormGateway(c.DB)
	if err := c.Gateway.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "store",
		FailureThreshold: cfg.Chat.BreakerThreshold,
		SuccessThreshold: 1,
		RetryTimeout:     cfg.Chat.BreakerRetryAfter,
		IsFailure:        repository.BreakerFailure,
	}, log)
	c.Store = repository.WithBreaker(c.Gateway, breaker)

	secretManager, err := secrets.NewManager(cfg.Vault.Enabled, secrets.VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		Mount:       cfg.Vault.Mount,
		SecretsPath: cfg.Vault.SecretsPath,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create secrets manager: %w", err)
	}
	if vm, ok := secretManager.(*secrets.VaultManager); ok {
		c.closers = append(c.closers, func(context.Context) error { vm.Close(); return nil })
	}
	secret := secretManager.GetSecretWithDefault(ctx, sessionSecretKey, cfg.JWT.Secret)
	if cfg.IsProduction() && secret == "your-secret-key" {
		return errors.New("SESSION_SECRET must be set in production")
	}
	c.Tokens = jwt.NewService(secret, cfg.JWT.Expiry)

	c.Health = health.NewChecker(log, 15*time.Second)
	c.Health.RegisterDatabaseCheck(c.Gateway.Ping)
	c.Health.RegisterBreakerCheck("store", func() string { return string(breaker.GetState()) })

	if cfg.Redis.Addr != "" {
		store := redis.NewSessionStore(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return store.Close() })
		c.Health.RegisterPingCheck("redis", store.Ping)
		c.Sessions = store
	} else {
		store := service.NewMemorySessionStore(time.Minute)
		c.closers = append(c.closers, func(context.Context) error { store.Close(); return nil })
		c.Sessions = store
	}
	c.Users = service.NewUserService(c.Store, c.Tokens, c.Sessions, log)

	var publisher audit.Publisher = audit.NewLogPublisher(log)
	if cfg.Rabbit.URL != "" {
		rabbit, err := audit.NewRabbitPublisher(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		publisher = rabbit
	}
	c.Audit = audit.NewRecorder(publisher, log)
	c.closers = append(c.closers, func(context.Context) error { return c.Audit.Close() })

	c.Filter, err = moderation.NewFilter(moderation.Options{
		AdditionalTerms: cfg.Moderation.AdditionalTerms,
		WordlistFile:    cfg.Moderation.WordlistFile,
	})
	if err != nil {
		return fmt.Errorf("failed to load moderation wordlist: %w", err)
	}

	c.Registry = presence.NewRegistry()
	c.Hub = ws.NewHub(c.Metrics, log)
	c.Chat = chat.NewService(chat.Deps{
		Store:    c.Store,
		Filter:   c.Filter,
		Registry: c.Registry,
		Hub:      c.Hub,
		Revoker:  c.Users,
		Audit:    c.Audit,
		Metrics:  c.Metrics,
		Logger:   log,
	}, chat.Config{
		HistoryLimit:   cfg.Chat.HistoryLimit,
		StoreTimeout:   cfg.Chat.StoreTimeout,
		WarningMessage: cfg.Moderation.WarningMessage,
	})

	log.Info("Container ready",
		"db_driver", cfg.Database.Driver,
		"sessions", fmt.Sprintf("%T", c.Sessions),
		"audit", fmt.Sprintf("%T", publisher),
		"moderation_terms", c.Filter.Len(),
	)
	return nil
}

// Start runs the hub and the periodic health checks until ctx ends.
func (c *Container) Start(ctx context.Context) {
	go c.Hub.Run(ctx)
	c.Health.Start(ctx)
}

// WSHandlerConfig derives websocket settings from the configuration.
func (c *Container) WSHandlerConfig() ws.HandlerConfig {
	return ws.HandlerConfig{
		MaxMessageSize: c.Config.Chat.MaxMessageSize,
		SendBuffer:     c.Config.Chat.SendBuffer,
		MessageRate:    c.Config.Chat.MessageRate,
		MessageBurst:   c.Config.Chat.MessageBurst,
		CookieName:     c.Config.JWT.CookieName,
		AllowedOrigins: c.Config.Security.AllowedOrigins,
	}
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
