package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"lms/internal/content/handler"
	contentmetrics "lms/internal/content/metrics"
	"lms/internal/content/service"
	"lms/internal/content/store"
	"lms/internal/platform/config"
	"lms/internal/platform/httpserver"
	"lms/internal/platform/logger"
	"lms/internal/platform/metrics"
	"lms/internal/platform/middleware"
	"lms/internal/platform/tracing"
	"lms/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("flushing traces failed", "error", err)
		}
	}()

	contentMetrics := contentmetrics.New()

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			log.Warn("closing document store failed", "error", err)
		}
	}()

	adapter, err := store.New(backend,
		store.WithLimits(cfg.Store.DefaultLimit, cfg.Store.MaxLimit),
		store.WithMetrics(contentMetrics),
	)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := openPublisher(cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	svc, err := service.New(adapter,
		service.WithLogger(log),
		service.WithMetrics(contentMetrics),
		service.WithPublisher(publisher),
		service.WithPublishTimeout(cfg.Kafka.PublishTimeout),
		service.WithTracer(otel.Tracer("lms/content")),
	)
	if err != nil {
		return err
	}

	router := newRouter(handler.New(svc, log), log, metrics.New())
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting lms content api",
		"addr", cfg.Addr,
		"backend", cfg.Store.Backend,
		"database", backend.Name(),
		"cache", cfg.Redis.URL != "",
		"events", len(cfg.Kafka.Brokers) > 0,
	)
	return httpserver.Run(ctx, srv, cfg.ShutdownTimeout)
}

func newRouter(h *handler.Handler, log *slog.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log, m))
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	r.Handle("/metrics", promhttp.Handler())
	h.Register(r)
	return r
}
