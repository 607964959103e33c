package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/swissgrant/platform/internal/metrics"
	"github.com/swissgrant/platform/pkg/logger"
)

// statusRecorder captures the status written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Observe logs every request and records it into the metrics collectors.
// The route template, not the raw path, labels the metrics so user ids do
// not explode cardinality.
func Observe(m *metrics.Metrics, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			elapsed := time.Since(start)
			if m != nil {
				m.ObserveRequest(route, r.Method, rec.status, elapsed)
			}
			log.Info("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, elapsed)
		})
	}
}
