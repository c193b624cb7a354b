package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/patient-queue/internal/logging"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_http_requests_total",
		Help: "HTTP requests by route and status class",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_http_request_duration_seconds",
		Help:    "HTTP request latency, excluding streams",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if requestID == "" {
				requestID = uuid.NewString()
			}
			reqLogger := logger.With(zap.String("request_id", requestID))
			r = r.WithContext(logging.WithContext(r.Context(), reqLogger))

			writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(writer, r)
			duration := time.Since(start)

			route := routeLabel(r.URL.Path)
			requestsTotal.WithLabelValues(route, strconv.Itoa(writer.status/100)+"xx").Inc()
			if !isStream(route) {
				requestDuration.WithLabelValues(route).Observe(duration.Seconds())
			}
			reqLogger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", writer.status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
		})
	}
}

// routeLabel collapses ids out of paths to keep metric cardinality bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/patients/"):
		parts := strings.Split(strings.Trim(path, "/"), "/")
		if len(parts) == 3 {
			return "/patients/{id}/" + parts[2]
		}
		return "/patients/{id}"
	case strings.HasPrefix(path, "/doctors/"):
		return "/doctors/{name}"
	case strings.HasPrefix(path, "/realtime/"):
		return "/realtime"
	}
	switch path {
	case "/healthz", "/metrics", "/queue", "/queue/clear", "/queue/stream", "/queue/ws",
		"/patients", "/history", "/history/reset", "/history/hide", "/doctors":
		return path
	default:
		return "other"
	}
}

func isStream(route string) bool {
	return route == "/queue/stream" || route == "/queue/ws" || route == "/realtime"
}
