package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/admission"
	"github.com/hms/hms/internal/domain/auditlog"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/emergency"
	"github.com/hms/hms/internal/domain/laboratory"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/domain/support"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/sequence"
	"github.com/hms/hms/internal/platform/websocket"
	"github.com/hms/hms/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the embedded migrations unless dir names an
// on-disk override.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			to, _ := cmd.Flags().GetInt("to")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.UpTo(ctx, schema, to)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.Schema("default"), "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", db.Schema("default"), "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage hospitals",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a hospital schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			skip, _ := cmd.Flags().GetBool("skip-migrations")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			var source fs.FS
			if !skip {
				source = migrations.FS
			}
			fmt.Printf("Creating tenant schema: %s\n", db.Schema(name))
			if err := db.CreateTenantSchema(ctx, pool, name, source); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().Bool("skip-migrations", false, "Only create the schema")

	cmd.AddCommand(createCmd)
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware(cfg.DefaultTenant)
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development mode without AUTH_SIGNING_KEY: every request is treated as admin")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Optional modules are detected once, against the default hospital.
	detected, err := db.ProbeCapabilities(ctx, pool, db.Schema(cfg.DefaultTenant))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to probe optional modules")
	}
	caps := db.Capabilities{
		Emergency: db.ResolveFeature(cfg.FeatureEmergency, detected.Emergency),
	}
	logger.Info().Bool("emergency", caps.Emergency).Msg("optional modules resolved")

	var counter sequence.Counter
	if cfg.TokenSequenceBackend == config.SequenceBackendRedis {
		client, err := sequence.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		ttl := time.Duration(0)
		if cfg.TokenDailyReset {
			ttl = 48 * time.Hour
		}
		counter = sequence.NewRedisCounter(client, ttl)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to message broker")
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}
	boards := websocket.NewHub(logger)
	publisher = events.Fanout{publisher, boards}

	collector := metrics.New()
	tx := db.NewTxManager(pool)

	auditSvc := auditlog.NewService(auditlog.NewRepoPG(pool), logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(collector))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.TenantHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, caps))
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1",
		authMiddleware(cfg),
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.Audit(logger, auditSvc),
		middleware.RateLimit(rateLimitCfg),
	)

	var schedules scheduling.ScheduleRepository = scheduling.NewScheduleRepoPG(pool)
	if cfg.ScheduleCacheSize > 0 {
		cached, err := scheduling.NewCachedScheduleRepository(schedules, cfg.ScheduleCacheSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create schedule cache")
		}
		schedules = cached
	}
	schedSvc := scheduling.NewService(scheduling.NewDoctorRepoPG(pool), schedules,
		scheduling.NewAppointmentRepoPG(pool), tx, publisher, collector, logger)
	schedSvc.SetLocation(loc)
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1)

	queueSvc := queue.NewService(queue.NewReceptionRepoPG(pool), queue.NewTokenRepoPG(pool),
		queue.NewAppointmentLookupPG(pool), tx, counter,
		queue.Settings{DailyReset: cfg.TokenDailyReset, PrefixTemplate: cfg.TokenPrefixTemplate},
		publisher, collector, logger)
	queueSvc.SetLocation(loc)
	queue.NewHandler(queueSvc).RegisterRoutes(apiV1)

	billingSvc := billing.NewService(billing.NewInvoiceRepoPG(pool), billing.NewPaymentRepoPG(pool), tx, logger)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)

	admissionSvc := admission.NewService(admission.NewAdmissionRepoPG(pool), admission.NewTransferRepoPG(pool),
		admission.NewCertificateRepoPG(pool), tx, logger)
	admission.NewHandler(admissionSvc).RegisterRoutes(apiV1)

	labSvc := laboratory.NewService(laboratory.NewOrderRepoPG(pool), tx, logger)
	laboratory.NewHandler(labSvc).RegisterRoutes(apiV1)

	pharmacySvc := pharmacy.NewService(pharmacy.NewMedicineRepoPG(pool), pharmacy.NewAdjustmentRepoPG(pool),
		pharmacy.NewPurchaseOrderRepoPG(pool), tx, logger)
	pharmacy.NewHandler(pharmacySvc).RegisterRoutes(apiV1)

	erSvc := emergency.NewService(emergency.NewVisitRepoPG(pool), tx, caps.Emergency, logger)
	emergency.NewHandler(erSvc).RegisterRoutes(apiV1)

	supportSvc := support.NewService(support.NewTicketRepoPG(pool), tx, logger)
	support.NewHandler(supportSvc).RegisterRoutes(apiV1)

	auditlog.NewHandler(auditSvc).RegisterRoutes(apiV1)
	websocket.NewHandler(boards).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
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
