package http

import (
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("marlin.transport")

// NewMetricsServer creates the ops endpoint serving Prometheus metrics
// and a liveness probe. It is separate from the node-to-node plane and
// only started when a metrics endpoint is configured.
func NewMetricsServer(endpoint string) *MetricsServer {
	return &MetricsServer{endpoint: endpoint}
}

// MetricsServer exposes the process metrics over HTTP.
type MetricsServer struct {
	endpoint string
	server   *http.Server
}

// ListenAndServe starts the endpoint and blocks until Close.
func (s *MetricsServer) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", loggerMiddleware(s.handleMetrics))
	mux.HandleFunc("GET /healthz", loggerMiddleware(s.handleHealth))

	Logger.Infof("Starting metrics server on %s", s.endpoint)

	s.server = &http.Server{
		Addr:    s.endpoint,
		Handler: mux,
	}
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops the endpoint.
func (s *MetricsServer) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

// handleMetrics renders all registered metrics in Prometheus text
// format, including the process-level gauges.
func (s *MetricsServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	metrics.WritePrometheus(w, true)
}

// handleHealth answers liveness probes.
func (s *MetricsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
