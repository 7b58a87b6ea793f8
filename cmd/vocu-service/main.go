// main package for the vocu-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/vocu-service/internal/config"
	"github.com/book-expert/vocu-service/internal/objectstore"
	"github.com/book-expert/vocu-service/internal/speech"
	"github.com/book-expert/vocu-service/internal/telemetry"
	"github.com/book-expert/vocu-service/internal/worker"
)

const (
	serviceName          = "vocu-service"
	bootstrapLogFile     = "vocu-service-bootstrap.log"
	serviceLogFile       = "vocu-service.log"
	metricsPath          = "/metrics"
	metricsReadTimeout   = 10 * time.Second
	shutdownGraceTimeout = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	shutdownMetrics, metricsHandler, err := telemetry.Setup(serviceName)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGraceTimeout)
		defer cancel()

		_ = shutdownMetrics(shutdownCtx)
	}()

	shutdownTracing, err := telemetry.SetupTracing(ctx, serviceName, cfg.Telemetry, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGraceTimeout)
		defer cancel()

		err := shutdownTracing(shutdownCtx)
		if err != nil {
			log.Warn("Tracer shutdown: %v", err)
		}
	}()

	if cfg.Telemetry.PrometheusBind != "" {
		metricsServer := startMetricsServer(cfg.Telemetry.PrometheusBind, metricsHandler, log)
		defer shutdownServer(metricsServer, log)
	}

	stack, err := speech.NewStack(cfg, log, telemetry.DefaultRecorder())
	if err != nil {
		return err
	}

	defer func() { _ = stack.Close() }()

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	speechWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.SpeechRequestedSubject,
		store,
		stack.Engine,
		log,
		worker.WithConcurrency(cfg.Vocu.Workers),
		worker.WithJobTimeout(jobTimeout(cfg.Vocu)),
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("Vocu-Service successfully initialized. Listening for jobs on subject: %s",
		cfg.NATS.SpeechRequestedSubject)

	err = speechWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.System("Vocu-Service stopped.")

	return nil
}

// jobTimeout covers generation plus download. Zero lets the worker default
// apply when generation itself is unbounded.
func jobTimeout(cfg config.VocuConfig) time.Duration {
	if cfg.GenerateTimeout() == 0 {
		return 0
	}

	return cfg.GenerateTimeout() + cfg.DownloadTimeout()
}

func startMetricsServer(bind string, handler http.Handler, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)

	server := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	go func() {
		log.Info("Serving metrics on %s%s", bind, metricsPath)

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed: %v", err)
		}
	}()

	return server
}

func shutdownServer(server *http.Server, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGraceTimeout)
	defer cancel()

	err := server.Shutdown(ctx)
	if err != nil {
		log.Warn("Metrics server shutdown: %v", err)
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
