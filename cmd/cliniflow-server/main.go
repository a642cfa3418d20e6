package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cliniflow/cliniflow/internal/config"
	"github.com/cliniflow/cliniflow/internal/domain/automation"
	"github.com/cliniflow/cliniflow/internal/domain/leads"
	"github.com/cliniflow/cliniflow/internal/domain/noshow"
	"github.com/cliniflow/cliniflow/internal/platform/auth"
	"github.com/cliniflow/cliniflow/internal/platform/db"
	"github.com/cliniflow/cliniflow/internal/platform/messaging"
	"github.com/cliniflow/cliniflow/internal/platform/middleware"
	"github.com/cliniflow/cliniflow/internal/platform/scheduler"
	"github.com/cliniflow/cliniflow/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cliniflow-server",
		Short: "Clinic CRM API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CRM API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case "development":
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	default:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	// API group with rate limiting
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Repositories
	leadRepo := leads.NewRepoPG(pool)
	ruleRepo := automation.NewRuleRepoPG(pool)
	logRepo := automation.NewLogRepoPG(pool)
	caseRepo := noshow.NewRepoPG(pool)

	// Outbound messaging. Without a gateway URL (development only, enforced
	// by Validate) sends are recorded in memory instead of delivered.
	var sender messaging.Port
	if cfg.MessagingGatewayURL != "" {
		sender = messaging.NewHTTPSender(cfg.MessagingGatewayURL, cfg.MessagingToken, cfg.MessagingTimeout(), logger)
	} else {
		logger.Warn().Msg("MESSAGING_GATEWAY_URL not set, outbound messages go to an in-memory sink")
		sender = messaging.NewFakeSender()
	}

	dispatcher := webhook.NewDispatcher(cfg.WebhookSecret, logger)

	// Services
	leadSvc := leads.NewService(leadRepo)
	engine := automation.NewEngine(leadRepo, sender, dispatcher, logger,
		automation.WithSupervisorRecipient(cfg.SupervisorRecipient))
	autoSvc := automation.NewService(ruleRepo, logRepo, leadRepo, engine, logger)
	noshowSvc := noshow.NewService(caseRepo, sender, logger)
	reminder := leads.NewReminder(leadRepo, sender, logger)

	if err := autoSvc.SeedDefaultRules(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to seed default automation rules")
	}

	// Background jobs
	runner := scheduler.NewCronRunner(cfg.SchedulerTimezone)
	orch := scheduler.New(scheduler.Config{
		Timezone:       cfg.SchedulerTimezone,
		DefaultTimeout: 2 * time.Minute,
	}, runner, logger)

	jobs := []struct {
		name string
		spec string
		fn   scheduler.JobFunc
	}{
		{"automation-tick", cfg.AutomationCronSpec, func(ctx context.Context) error {
			_, err := autoSvc.RunTick(ctx, time.Now())
			return err
		}},
		{"noshow-protocol", cfg.ProtocolCronSpec, func(ctx context.Context) error {
			_, err := noshowSvc.RunProtocol(ctx, time.Now())
			return err
		}},
		{"appointment-reminders", cfg.ReminderCronSpec, func(ctx context.Context) error {
			_, err := reminder.Run(ctx, time.Now())
			return err
		}},
	}
	for _, j := range jobs {
		if err := orch.Register(j.name, j.spec, 0, j.fn); err != nil {
			logger.Fatal().Err(err).Str("job", j.name).Msg("failed to register job")
		}
	}
	orch.Start()
	defer orch.Stop()

	// Routes
	leads.NewHandler(leadSvc).RegisterRoutes(apiV1)
	automation.NewHandler(autoSvc).RegisterRoutes(apiV1)
	noshow.NewHandler(noshowSvc).RegisterRoutes(apiV1)
	scheduler.NewHandler(orch).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", scheduler.HealthHandler(orch))
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
