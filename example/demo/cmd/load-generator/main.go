package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/dispatchers"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/memoryengine"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/oteladapters"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/postgresengine"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/prometheusadapters"
	"github.com/AntonStoeckl/streams-eventstore-go/testutil/postgresengine/config"
	"github.com/AntonStoeckl/streams-eventstore-go/testutil/postgresengine/postgreswrapper"
)

const (
	defaultRate        = 30
	defaultShipPercent = 60
	defaultMetricsAddr = ":9464"
)

const (
	engineMemory   = "memory"
	enginePostgres = "postgres"
)

type Config struct {
	Rate                 int
	ShipPercent          int
	Engine               string
	MetricsAddr          string
	ObservabilityEnabled bool
}

func main() {
	cfg := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	registry := prometheus.NewRegistry()
	observability := cfg.NewObservabilityConfig(registry)

	repository, closeRepository, err := newRepository(ctx, cfg, observability)
	if err != nil {
		log.Fatalf("Failed to create repository: %v", err)
	}
	defer closeRepository()

	pool, err := dispatchers.NewWorkerPool(dispatchers.WithLogger(slog.Default()))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}

	scheduled, err := dispatchers.NewScheduledDispatcher(pool)
	if err != nil {
		log.Fatalf("Failed to create dispatcher: %v", err)
	}

	client, err := eventstore.NewClient(repository,
		eventstore.WithDispatcher(eventstore.NewComposedDispatcher(scheduled, eventstore.NewDirectDispatcher())),
		eventstore.WithClientLogger(slog.Default()),
	)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	loadGen, err := NewLoadGenerator(client, cfg)
	if err != nil {
		log.Fatalf("Failed to create load generator: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server failed: %v", err)
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		if err := loadGen.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("load generator failed: %w", err)
		}
	}()

	log.Printf("Order load generator started: engine=%s rate=%d req/s ship_percent=%d metrics=%s",
		cfg.Engine, cfg.Rate, cfg.ShipPercent, cfg.MetricsAddr)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errChan:
		log.Printf("Error occurred: %v", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := loadGen.Stop(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	if err := pool.Wait(); err != nil {
		log.Printf("Projection failures: %v", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server shutdown failed: %v", err)
	}

	log.Printf("Load generator stopped")
}

func parseFlags() Config {
	var (
		rate          = flag.Int("rate", defaultRate, "Requests per second")
		shipPercent   = flag.Int("ship-percent", defaultShipPercent, "Share of requests that ship an open order instead of placing a new one")
		engine        = flag.String("engine", engineMemory, "Storage engine: memory or postgres")
		metricsAddr   = flag.String("metrics-addr", defaultMetricsAddr, "Address of the Prometheus metrics endpoint")
		observability = flag.Bool("observability-enabled", false, "Enable OpenTelemetry tracing and logging")
	)

	flag.Parse()

	cfg := Config{
		Rate:                 *rate,
		ShipPercent:          *shipPercent,
		Engine:               *engine,
		MetricsAddr:          *metricsAddr,
		ObservabilityEnabled: *observability,
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg
}

// Validate checks the flag values.
func (c Config) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %d", c.Rate)
	}

	if c.ShipPercent < 0 || c.ShipPercent > 100 {
		return fmt.Errorf("ship percent %d out of range [0, 100]", c.ShipPercent)
	}

	if c.Engine != engineMemory && c.Engine != enginePostgres {
		return fmt.Errorf("unknown engine %q", c.Engine)
	}

	return nil
}

// ObservabilityConfig holds the observability adapters for the repository.
type ObservabilityConfig struct {
	ContextualLogger eventstore.ContextualLogger
	MetricsCollector eventstore.MetricsCollector
	TracingCollector eventstore.TracingCollector
}

func (c Config) NewObservabilityConfig(registerer prometheus.Registerer) ObservabilityConfig {
	obsConfig := ObservabilityConfig{
		MetricsCollector: prometheusadapters.NewMetricsCollector(registerer,
			prometheusadapters.WithErrorHandler(func(err error) { log.Printf("metrics: %v", err) }),
		),
	}

	if !c.ObservabilityEnabled {
		return obsConfig
	}

	obsConfig.TracingCollector = oteladapters.NewTracingCollector(otel.Tracer("eventstore-load-generator"))
	obsConfig.ContextualLogger = oteladapters.NewSlogBridgeLogger("eventstore-load-generator")

	return obsConfig
}

func newRepository(ctx context.Context, cfg Config, obsConfig ObservabilityConfig) (eventstore.Repository, func(), error) {
	if cfg.Engine == engineMemory {
		options := []memoryengine.Option{memoryengine.WithMetrics(obsConfig.MetricsCollector)}
		if obsConfig.TracingCollector != nil {
			options = append(options, memoryengine.WithTracing(obsConfig.TracingCollector))
		}
		if obsConfig.ContextualLogger != nil {
			options = append(options, memoryengine.WithContextualLogger(obsConfig.ContextualLogger))
		}

		repository, err := memoryengine.NewRepository(options...)

		return repository, func() {}, err
	}

	dsn, ok := config.PostgresDSN()
	if !ok {
		return nil, nil, fmt.Errorf("%s is not set", config.EnvPostgresDSN)
	}

	poolConfig, err := config.PostgresPGXPoolConfig(dsn)
	if err != nil {
		return nil, nil, err
	}

	pgxPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}

	if err := pgxPool.Ping(ctx); err != nil {
		pgxPool.Close()
		return nil, nil, err
	}

	for _, statement := range postgreswrapper.SchemaStatements(postgreswrapper.DefaultEventsTable, postgreswrapper.DefaultStreamsTable) {
		if _, err := pgxPool.Exec(ctx, statement); err != nil {
			pgxPool.Close()
			return nil, nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	options := []postgresengine.Option{postgresengine.WithMetrics(obsConfig.MetricsCollector)}
	if obsConfig.TracingCollector != nil {
		options = append(options, postgresengine.WithTracing(obsConfig.TracingCollector))
	}
	if obsConfig.ContextualLogger != nil {
		options = append(options, postgresengine.WithContextualLogger(obsConfig.ContextualLogger))
	}

	repository, err := postgresengine.NewRepositoryFromPGXPool(pgxPool, options...)
	if err != nil {
		pgxPool.Close()
		return nil, nil, err
	}

	return repository, pgxPool.Close, nil
}
