package router

import (
	"context"
	"strings"

	"chatroom/backend/internal/api"
	"chatroom/backend/internal/ws"
	"chatroom/backend/pkg/config"
	"chatroom/backend/pkg/di"
	"chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/logger"
	"chatroom/backend/pkg/middleware"
	"chatroom/backend/pkg/validator"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	RateLimiter *middleware.RateLimiter

	// Schema is set once request validation is enabled.
	Schema *validator.OpenAPIValidator
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))

	// Add custom error handler middleware
	engine.Use(errors.ErrorHandler())

	// Add custom recovery middleware with structured logging instead of default
	engine.Use(errors.RecoveryWithLogger())

	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	opts := middleware.DefaultRateLimiterOptions()
	opts.Limit = rate.Limit(cfg.Security.RateLimit)
	opts.Burst = cfg.Security.RateLimitBurst

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		RateLimiter: middleware.NewRateLimiter(container.Logger, opts),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	authHandler := api.NewAuthHandler(c.Users, c.Chat, api.CookieConfig{
		Name:   r.Config.JWT.CookieName,
		Secure: r.Config.JWT.Secure,
	}, r.Logger)
	adminHandler := api.NewAdminHandler(c.Store, r.Logger)
	wsHandler := ws.NewHandler(c.Hub, c.Chat, c.Users, c.WSHandlerConfig(), r.Logger)

	authenticate := middleware.Authenticate(func(ctx context.Context, token string) (middleware.Principal, error) {
		identity, err := c.Users.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		return identity, nil
	}, r.Config.JWT.CookieName)
	requireAdmin := []gin.HandlerFunc{authenticate, middleware.RequireAdmin()}
	limited := r.RateLimiter.Middleware()

	r.setupHealthRoutes()

	// API version 1 routes
	v1 := r.Engine.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth", limited)
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/admin/login", authHandler.AdminLogin)
			authRoutes.POST("/logout", authHandler.Logout)
			authRoutes.GET("/me", authenticate, authHandler.Me)
		}

		adminRoutes := v1.Group("/admin", requireAdmin...)
		{
			adminRoutes.GET("/messages", adminHandler.ListMessages)
			adminRoutes.GET("/users", adminHandler.ListUsers)
		}
	}

	// Unversioned routes used by the existing browser client
	legacy := r.Engine.Group("/", limited)
	{
		legacy.POST("/register", authHandler.Register)
		legacy.POST("/login", authHandler.Login)
		legacy.POST("/admin/login", authHandler.AdminLogin)
		legacy.POST("/logout", authHandler.Logout)
	}
	legacyAdmin := r.Engine.Group("/api", requireAdmin...)
	{
		legacyAdmin.GET("/messages", adminHandler.ListMessages)
		legacyAdmin.GET("/users", adminHandler.ListUsers)
	}

	// WebSocket routes
	r.Engine.GET("/ws", wsHandler.ServeWs)
	r.Engine.GET("/ws/admin", wsHandler.ServeAdminWs)
}

// corsMiddleware allows the configured origins, including websocket headers.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
