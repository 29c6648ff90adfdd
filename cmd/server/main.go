// Command server runs the library scan service: the job controller, the
// Postgres-backed checkpoint store, and the HTTP control surface with its
// live event stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	apihealth "github.com/metafix/metafix/internal/api/health"
	apiscanning "github.com/metafix/metafix/internal/api/scanning"
	appscanning "github.com/metafix/metafix/internal/app/scanning"
	"github.com/metafix/metafix/internal/domain/events"
	domain "github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/internal/infra/catalog"
	membus "github.com/metafix/metafix/internal/infra/eventbus/memory"
	issuestore "github.com/metafix/metafix/internal/infra/storage/issues/postgres"
	jobstore "github.com/metafix/metafix/internal/infra/storage/scanning/postgres"
	"github.com/metafix/metafix/pkg/common/logger"
	"github.com/metafix/metafix/pkg/common/otel"
	"github.com/metafix/metafix/pkg/config"
)

const serviceType = "scan-server"

var build = "develop"

func main() {
	_, _ = maxprocs.Set()

	configPath := flag.String("config", "", "path to the service config file")
	flag.Parse()

	cfg, err := config.LoadService(*configPath)
	if err != nil {
		stdlog.Fatalf("failed to load configuration: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}
			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	svcName := fmt.Sprintf("%s-%s", serviceType, hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, parseLogLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, log, cfg); err != nil {
		log.Error(ctx, "service terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Service) error {
	var tracer trace.Tracer
	if cfg.Telemetry.Enabled {
		tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      cfg.Telemetry.ServiceName,
			ExporterEndpoint: cfg.Telemetry.Endpoint,
			ExcludedRoutes: map[string]struct{}{
				"/v1/liveness":  {},
				"/v1/readiness": {},
			},
			Probability:      cfg.Telemetry.SampleRate,
			InsecureExporter: true,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer telemetryTeardown(ctx)
		tracer = tp.Tracer(cfg.Telemetry.ServiceName)
	} else {
		tracer = noop.NewTracerProvider().Tracer(serviceType)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info(ctx, "migrations applied, starting service")

	targets, err := config.NewFileLoader(cfg.Scanning.TargetsPath).Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scan targets: %w", err)
	}

	repo := jobstore.NewJobStore(pool, tracer)
	issues := issuestore.NewIssueStore(pool, tracer)
	source := catalog.NewFileSource(cfg.Scanning.CatalogPath, targets)
	processor := appscanning.NewStepRegistry(nil, nil)

	bus := membus.NewBroker(log, membus.WithBufferSize(cfg.Scanning.EventBufferSize))
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error(ctx, "failed to close event bus", "error", err)
		}
	}()

	controller := appscanning.NewJobController(repo, source, processor, issues, bus, appscanning.ExecutorConfig{
		CheckpointInterval:      cfg.Scanning.CheckpointInterval,
		MaxCheckpointFailures:   cfg.Scanning.MaxCheckpointFailures,
		CheckpointRetryBudget:   cfg.Scanning.CheckpointRetryBudget,
		ProgressEventsPerSecond: float64(cfg.Scanning.ProgressEventsPerSecond),
	}, log, tracer)

	// Late subscribers get the live snapshot before any event, so a UI that
	// attaches mid-scan renders current progress immediately.
	bus.SetConnectHook(func(ctx context.Context) events.DomainEvent {
		var payload domain.ConnectedPayload
		var jobID int64
		if snap := controller.CurrentSnapshot(ctx); snap != nil {
			p := domain.NewJobProgressPayload(*snap)
			payload.Job = &p
			jobID = snap.ID
		}
		return domain.NewJobEvent(domain.EventTypeConnected, jobID, payload)
	})

	if err := controller.RecoverOnStartup(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted job: %w", err)
	}
	if snap, err := controller.GetInterruptedJob(ctx); err == nil {
		log.Info(ctx, "found interrupted job awaiting decision",
			"job_id", snap.ID, "processed", snap.Processed, "total", snap.Total)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	apihealth.Routes(engine, apihealth.Config{Build: build, Log: log, DB: pool})
	apiscanning.Routes(engine, apiscanning.Config{
		Log:        log,
		Controller: controller,
		Repo:       repo,
		Issues:     issues,
		Bus:        bus,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info(ctx, "http server listening", "addr", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info(ctx, "shutdown started", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		log.Error(ctx, "failed to shut down http server gracefully", "error", err)
	}

	// A running job is crash-stopped: the executor exits without a terminal
	// transition and the job is recovered as interrupted on the next start.
	if err := controller.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "executor did not stop in time", "error", err)
	}

	return nil
}

func parseLogLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

// runMigrations applies all up migrations from db/migrations using a single
// connection borrowed from the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	const migrationsPath = "file://db/migrations"
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
