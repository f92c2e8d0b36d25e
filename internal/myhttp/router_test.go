package myhttp_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"whatschanging/internal/myhttp"

	"go.opentelemetry.io/otel/metric/noop"
)

func newMux(t *testing.T, logs *bytes.Buffer) http.Handler {
	t.Helper()
	histogram, err := noop.NewMeterProvider().Meter("test").Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		t.Fatal(err)
	}
	mux := myhttp.NewServerMux(slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})), histogram)

	mux.HandleFuncWithMiddleware("GET /ok", func(w http.ResponseWriter, r *http.Request) {
		myhttp.Logger(r.Context()).Info("handled")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFuncWithMiddleware("GET /panic", func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})
	return mux
}

func TestMiddleware(t *testing.T) {
	var logs bytes.Buffer
	mux := newMux(t, &logs)

	t.Run("RequestLogger", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ok", nil))

		if recorder.Code != http.StatusNoContent {
			t.Errorf("Expected 204, got %d", recorder.Code)
		}
		if !strings.Contains(logs.String(), `"traceid"`) {
			t.Errorf("Expected trace id in logs, got %s", logs.String())
		}
		if !strings.Contains(logs.String(), `"status":204`) {
			t.Errorf("Expected response status in logs, got %s", logs.String())
		}
	})

	t.Run("RecoversNonStringPanics", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/panic", nil))

		if recorder.Code != http.StatusInternalServerError {
			t.Errorf("Expected 500, got %d", recorder.Code)
		}
		if !strings.Contains(logs.String(), "abort Handler") {
			t.Errorf("Expected panic value in logs, got %s", logs.String())
		}
		if !strings.Contains(logs.String(), `"status":500`) {
			t.Errorf("Expected recovered status in logs, got %s", logs.String())
		}
	})
}
