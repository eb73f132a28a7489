package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/xiaozhi-esp32-server/streamtts/internal/config"
)

func TestSetupExposesMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, handler, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "streamtts-test"}, logger)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer shutdown(context.Background())

	counter, err := otel.Meter("telemetry_test").Int64Counter("streamtts.test.requests")
	if err != nil {
		t.Fatal(err)
	}
	counter.Add(context.Background(), 2)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "streamtts_test_requests") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestSetupRejectsOTLPWithoutEndpoint(t *testing.T) {
	_, _, err := Setup(context.Background(), config.TelemetryConfig{TraceExporter: "otlp"}, nil)
	if err == nil {
		t.Fatal("Setup() error = nil, want missing endpoint error")
	}
}
