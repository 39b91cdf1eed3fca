// Package api wires together all HTTP routes for the valuation backend.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes and are not rate limited.
//   - POST /api/v1/reports accepts anonymous callers; a valid session only decides whether
//     the new report is owned immediately.
//   - Linking and valuation routes require a session. The valuation route is the only one
//     that reaches the billed provider and always runs the report gate first.
//
// Each protected operation gets its own RateLimiter instance so that, for example, VIN
// checks never consume the intake budget.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/vehicle-valuation/valuation-backend/internal/api/reports"
	"github.com/vehicle-valuation/valuation-backend/internal/auth"
	"github.com/vehicle-valuation/valuation-backend/internal/config"
	"github.com/vehicle-valuation/valuation-backend/internal/db/repositories"
	"github.com/vehicle-valuation/valuation-backend/internal/middleware"
	"github.com/vehicle-valuation/valuation-backend/internal/services"
	"github.com/vehicle-valuation/valuation-backend/internal/valuation"
	"github.com/vehicle-valuation/valuation-backend/internal/vindecode"
)

// Version is reported by GET /version.
const Version = "0.1.0"

// BackgroundServices holds resources that must be released during graceful shutdown.
// The caller (cmd/server) calls Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
	redisClient  *redis.Client
}

// Shutdown stops the rate limiters and closes the Redis client, if any.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// limiters are the named rate limiters guarding the API.
type limiters struct {
	api, intake, valuation gin.HandlerFunc
}

// newLimiters builds one limiter per protected operation. With rate limiting disabled every
// handler is a pass-through.
func newLimiters(cfg *config.Config, bg *BackgroundServices) limiters {
	rlCfg := cfg.Security.RateLimiting
	if !rlCfg.Enabled {
		slog.Warn("rate limiting is DISABLED")
		pass := func(c *gin.Context) { c.Next() }
		return limiters{api: pass, intake: pass, valuation: pass}
	}

	build := func(name string, limit int) gin.HandlerFunc {
		opts := middleware.RateLimiterOptions{
			Interval:               rlCfg.Interval,
			UniqueTokenPerInterval: rlCfg.UniqueTokenPerInterval,
			KeyPrefix:              "ratelimit:" + name + ":",
		}
		var rl *middleware.RateLimiter
		if bg.redisClient != nil {
			rl = middleware.NewRedisRateLimiter(bg.redisClient, opts)
		} else {
			rl = middleware.NewRateLimiter(opts)
		}
		bg.rateLimiters = append(bg.rateLimiters, rl)
		return middleware.RateLimitMiddleware(rl, name, limit)
	}

	return limiters{
		api:       build("api", rlCfg.APILimit),
		intake:    build("intake", rlCfg.IntakeLimit),
		valuation: build("valuation", rlCfg.ValuationLimit),
	}
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sqlx.DB, sessions *auth.Sessions) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	if cfg.Security.RateLimiting.Enabled && cfg.Security.RateLimiting.Backend == config.RateLimitBackendRedis {
		bg.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		slog.Info("rate limiter using redis", "addr", cfg.Redis.Addr)
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db.DB)
	reportRepo := repositories.NewReportRepository(db)

	// External providers
	decoder := vindecode.NewClient(cfg.VINDecoder.BaseURL, cfg.VINDecoder.Timeout)
	valuer := valuation.NewClient(cfg.Valuation.BaseURL, cfg.Valuation.APIKey, cfg.Valuation.Timeout)
	if cfg.Valuation.APIKey == "" {
		slog.Warn("valuation.api_key is not set; valuation requests will fail with 503")
	}

	// Services
	enricher := services.NewReportEnricher(decoder, reportRepo)
	intake := services.NewReportIntake(reportRepo, services.IntakeOptions{
		DuplicateWindow:   cfg.Intake.DuplicateWindow,
		EnrichmentTimeout: cfg.Intake.EnrichmentTimeout,
	}, enricher)
	gate := services.NewReportGate(reportRepo, services.GateOptions{
		DisablePaymentCheck: cfg.Payments.DisablePaymentCheck,
	})
	reportHandler := reports.NewHandler(intake, gate, reportRepo, valuer)

	limit := newLimiters(cfg, bg)
	requireAuth := middleware.AuthMiddleware(sessions, userRepo)
	optionalAuth := middleware.OptionalAuthMiddleware(sessions, userRepo)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware("/health", "/ready"))
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(db.DB))
	router.GET("/ready", readinessHandler(db.DB, bg.redisClient))
	router.GET("/version", versionHandler())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/vin/:vin", limit.api, reportHandler.CheckVIN)

		reportsGroup := v1.Group("/reports")
		reportsGroup.POST("", optionalAuth, limit.intake, reportHandler.CreateReport)
		reportsGroup.POST("/link", requireAuth, limit.api, reportHandler.LinkReports)
		reportsGroup.POST("/:id/valuation", requireAuth, limit.valuation, reportHandler.FetchValuation)
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
// GET /health
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also checks Redis when the shared rate limiter store is in use, so a
// replica that cannot reach it is taken out of rotation.
// GET /ready
func readinessHandler(db *sql.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
// GET /version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request. The output format (JSON or text)
// follows the global slog handler configured by telemetry.SetupLogger.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestID(c)),
		}
		if userID := c.GetString(middleware.UserIDKey); userID != "" {
			attrs = append(attrs, slog.String("user_id", userID))
		}
		if cfg.Logging.Level == "debug" {
			attrs = append(attrs, slog.String("user_agent", c.Request.UserAgent()))
		}

		slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, OPTIONS"
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
