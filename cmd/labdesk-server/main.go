package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labdesk/labdesk/internal/config"
	"github.com/labdesk/labdesk/internal/domain/catalog"
	"github.com/labdesk/labdesk/internal/domain/documents"
	"github.com/labdesk/labdesk/internal/domain/identity"
	"github.com/labdesk/labdesk/internal/domain/order"
	"github.com/labdesk/labdesk/internal/domain/patient"
	"github.com/labdesk/labdesk/internal/platform/archive"
	"github.com/labdesk/labdesk/internal/platform/auth"
	"github.com/labdesk/labdesk/internal/platform/db"
	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/platform/fieldcrypt"
	"github.com/labdesk/labdesk/internal/platform/lis"
	"github.com/labdesk/labdesk/internal/platform/metrics"
	"github.com/labdesk/labdesk/internal/platform/middleware"
	"github.com/labdesk/labdesk/internal/reconcile"
	"github.com/labdesk/labdesk/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "labdesk-server",
		Short: "Lab order back office with LIS reconciliation",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the reconciliation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigratorFS(pool, migrationSource(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigratorFS(pool, migrationSource(dir)).Status(ctx, schema)
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
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sync <job>",
		Short:     "Run one reconciliation pass now",
		Long:      "Run one pass of orders, referrers, tests or sample-types against the LIS and print the result.",
		ValidArgs: []string{reconcile.JobOrders, reconcile.JobReferrers, reconcile.JobTests, reconcile.JobSampleTypes},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.close()

			job, ok := a.jobs[args[0]]
			if !ok {
				return fmt.Errorf("job %q unavailable: LIS_SERVER_URL is not configured", args[0])
			}
			res, err := a.runner.Run(ctx, job)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

// app holds everything both the server and the one-shot sync command need.
type app struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	logger zerolog.Logger

	tests       catalog.TestRepository
	sampleTypes catalog.SampleTypeRepository
	orders      order.OrderRepository
	users       identity.UserRepository
	patients    patient.PatientRepository
	docs        documents.DocumentRepository
	tx          *db.TxManager

	runner  *reconcile.Runner
	jobs    map[string]reconcile.Job
	closers []func() error
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg *metrics.Registry) (*app, error) {
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	a := &app{cfg: cfg, pool: pool, logger: logger}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	enc, err := fieldcrypt.FromHexKey(cfg.PatientEncryptionKey, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.tests = catalog.NewTestRepoPG(pool)
	a.sampleTypes = catalog.NewSampleTypeRepoPG(pool)
	a.orders = order.NewOrderRepoPG(pool)
	a.users = identity.NewUserRepoPG(pool)
	a.patients = patient.NewPatientRepoPG(pool, enc)
	a.docs = documents.NewDocumentRepoPG(pool)
	a.tx = db.NewTxManager(pool)

	publisher, closePublisher := newPublisher(cfg, logger)
	a.closers = append(a.closers, closePublisher)

	archiver, err := newArchiver(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.runner = reconcile.NewRunner(a.tx, logger,
		reconcile.WithLocker(db.NewAdvisoryLocker(pool)),
		reconcile.WithPublisher(publisher),
		reconcile.WithArchiver(archiver),
		reconcile.WithMetrics(reg),
	)

	a.jobs = map[string]reconcile.Job{}
	if cfg.LISServerURL == "" {
		logger.Warn().Msg("LIS_SERVER_URL not set, reconciliation jobs disabled")
		return a, nil
	}
	client, err := lis.NewClient(lis.Config{
		BaseURL:  cfg.LISServerURL,
		Email:    cfg.LISEmail,
		Password: cfg.LISPassword,
		Paths:    lis.Paths(cfg.LISPaths()),
		Timeout:  cfg.LISTimeout,
	}, lis.WithMetrics(reg), lis.WithLogger(logger.With().Str("component", "lis").Logger()))
	if err != nil {
		a.close()
		return nil, err
	}
	for _, j := range newJobs(a, client, cfg.Location(), logger) {
		a.jobs[j.Name()] = j
	}
	return a, nil
}

// remote is everything the jobs ask of the LIS; *lis.Client satisfies it.
type remote interface {
	reconcile.OrderStatusSource
	reconcile.ReferrerSource
	reconcile.SampleTypeSource
	reconcile.TestSource
}

func newJobs(a *app, client remote, loc *time.Location, logger zerolog.Logger) []reconcile.Job {
	sampleTypeSync := reconcile.NewSampleTypeSync(a.sampleTypes, client, logger)
	return []reconcile.Job{
		reconcile.NewOrderStatusSync(a.orders, client, loc, logger),
		reconcile.NewReferrerSync(a.users, client, logger),
		reconcile.NewTestSync(a.tests, a.sampleTypes, client, sampleTypeSync, logger),
		sampleTypeSync,
	}
}

func (a *app) jobList() []reconcile.Job {
	names := make([]string, 0, len(a.jobs))
	for name := range a.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]reconcile.Job, 0, len(names))
	for _, name := range names {
		out = append(out, a.jobs[name])
	}
	return out
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown step failed")
		}
	}
}

// newPublisher fans order events out to Kafka and the webhook, whichever are
// configured. The returned func closes the Kafka writer.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func() error) {
	var (
		pubs   []events.Publisher
		closer = func() error { return nil }
	)
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kp := events.NewKafkaPublisher(brokers, cfg.KafkaOrderEventsTopic)
		pubs = append(pubs, kp)
		closer = kp.Close
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaOrderEventsTopic).Msg("publishing order events to kafka")
	}
	if cfg.OrderEventsWebhookURL != "" {
		pubs = append(pubs, events.NewWebhookPublisher(cfg.OrderEventsWebhookURL, cfg.OrderEventsSecret))
		logger.Info().Str("url", cfg.OrderEventsWebhookURL).Msg("publishing order events to webhook")
	}
	switch len(pubs) {
	case 0:
		return events.NopPublisher{}, closer
	case 1:
		return pubs[0], closer
	default:
		return events.NewMultiPublisher(pubs...), closer
	}
}

func newArchiver(ctx context.Context, cfg *config.Config) (archive.Archiver, error) {
	if cfg.ArchiveS3Bucket == "" {
		return archive.NopArchiver{}, nil
	}
	a, err := archive.NewS3Archiver(ctx, archive.Config{
		Bucket:    cfg.ArchiveS3Bucket,
		Region:    cfg.ArchiveS3Region,
		Endpoint:  cfg.ArchiveS3Endpoint,
		PathStyle: cfg.ArchiveS3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return a, nil
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.NewRegistry()
	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}
	defer a.close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(middleware.Audit(logger, nil))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool,
		db.WithPendingMigrations(db.NewMigratorFS(a.pool, migrations.FS), db.DefaultSchema)))
	e.GET("/metrics", echo.WrapHandler(reg.Handler()))

	apiV1 := e.Group("/api/v1")

	catalog.NewHandler(catalog.NewService(a.tests, a.sampleTypes)).RegisterRoutes(apiV1)
	order.NewHandler(order.NewService(a.orders, a.sampleTypes, a.tx)).RegisterRoutes(apiV1)
	patient.NewHandler(patient.NewService(a.patients)).RegisterRoutes(apiV1)
	identity.NewHandler(identity.NewService(a.users)).RegisterRoutes(apiV1)
	documents.NewHandler(documents.NewService(a.docs)).RegisterRoutes(apiV1)
	reconcile.NewHandler(a.runner, a.jobList()...).RegisterRoutes(apiV1)

	scheduler := reconcile.NewScheduler(a.runner, logger)
	if cfg.SyncEnabled {
		intervals := map[string]time.Duration{
			reconcile.JobOrders:    cfg.SyncOrdersInterval,
			reconcile.JobReferrers: cfg.SyncReferrersInterval,
			reconcile.JobTests:     cfg.SyncTestsInterval,
		}
		for name, every := range intervals {
			if job, ok := a.jobs[name]; ok {
				scheduler.Add(job, every)
			}
		}
		scheduler.Start(ctx)
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	scheduler.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
