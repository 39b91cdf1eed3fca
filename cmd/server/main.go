// Package main is the entry point for the vehicle valuation backend binary.
// It dispatches four subcommands (serve, migrate, token and version) via a switch on os.Args.
// The serve command runs migrations on startup so a fresh container needs no separate step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vehicle-valuation/valuation-backend/internal/api"
	"github.com/vehicle-valuation/valuation-backend/internal/auth"
	"github.com/vehicle-valuation/valuation-backend/internal/config"
	"github.com/vehicle-valuation/valuation-backend/internal/db"
	"github.com/vehicle-valuation/valuation-backend/internal/db/models"
	"github.com/vehicle-valuation/valuation-backend/internal/db/repositories"
	"github.com/vehicle-valuation/valuation-backend/internal/telemetry"
	"github.com/vehicle-valuation/valuation-backend/internal/validation"
)

// tokenLifetime is how long tokens minted by the token command stay valid.
const tokenLifetime = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "token":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s token <email>", os.Args[0])
		}
		return issueToken(cfg, os.Args[2])
	case "version":
		fmt.Printf("Vehicle Valuation Backend v%s\n", api.Version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, token, version", command)
	}
}

func serve(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	sessions, err := newSessions()
	if err != nil {
		return err
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"name", cfg.Database.Name,
		"user", cfg.Database.User,
		"sslmode", cfg.Database.SSLMode,
	)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx, stopCollectors := context.WithCancel(context.Background())
	defer stopCollectors()
	telemetry.StartDBStatsCollector(ctx, database, telemetry.DBStatsInterval)

	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	// Metrics get their own port so the scrape path never goes through the public router.
	if cfg.Telemetry.Metrics.Enabled {
		go serveMetrics(cfg.Telemetry.Metrics.PrometheusPort)
	}

	router, bgServices := api.NewRouter(cfg, database, sessions)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"version", api.Version,
			"tls", cfg.Security.TLS.Enabled,
			"rate_limit_backend", cfg.Security.RateLimiting.Backend,
			"payment_check_disabled", cfg.Payments.DisablePaymentCheck,
		)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	slog.Info("starting Prometheus metrics server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}

func newSessions() (*auth.Sessions, error) {
	secret, err := auth.LoadJWTSecret()
	if err != nil {
		return nil, fmt.Errorf("security configuration error: %w", err)
	}
	sessions, err := auth.NewSessions(secret)
	if err != nil {
		return nil, fmt.Errorf("security configuration error: %w", err)
	}
	return sessions, nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", version, dirty)
	return nil
}

// tokenEmail normalizes the email given to the token command.
func tokenEmail(arg string) (string, error) {
	email := validation.SanitizeEmail(arg)
	if msg := validation.EmailValidationError(email); msg != "" {
		return "", errors.New(msg)
	}
	return email, nil
}

// issueToken finds or creates the user for email and prints a session token for them.
// It exists for operators and local testing; end users sign in through the web app.
func issueToken(cfg *config.Config, email string) error {
	email, err := tokenEmail(email)
	if err != nil {
		return err
	}

	sessions, err := newSessions()
	if err != nil {
		return err
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()
	users := repositories.NewUserRepository(database.DB)

	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		user = &models.User{Email: email}
		if err := users.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		log.Printf("Created user %s (%s)", user.ID, user.Email)
	}

	token, err := sessions.Issue(user.ID, user.Email, tokenLifetime)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}
