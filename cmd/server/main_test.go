package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms/internal/content/events"
	"lms/internal/content/handler"
	"lms/internal/content/service"
	"lms/internal/content/store"
	"lms/internal/content/store/memory"
	"lms/internal/platform/config"
	"lms/internal/platform/metrics"
	"lms/internal/platform/middleware"
)

func TestRouter(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter, err := store.New(memory.New())
	require.NoError(t, err)
	svc, err := service.New(adapter, service.WithLogger(log))
	require.NoError(t, err)
	r := newRouter(handler.New(svc, log), log, metrics.NewWithRegisterer(prometheus.NewRegistry()))

	t.Run("root carries a request id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/courses", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestOpenBackendDefaultsToMemory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := openBackend(context.Background(), config.Server{Store: config.StoreConfig{Backend: config.BackendMemory}}, log)
	require.NoError(t, err)
	assert.Equal(t, "memory", backend.Name())
	assert.NoError(t, backend.Close(context.Background()))
}

func TestOpenPublisherWithoutBrokers(t *testing.T) {
	p, closeFn, err := openPublisher(config.KafkaConfig{}, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, events.NopPublisher{}, p)
	closeFn()
}
