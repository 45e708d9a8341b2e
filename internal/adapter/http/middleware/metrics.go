package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iho/churchledger/internal/infrastructure/metrics"
)

// Metrics returns a middleware recording request counts and latency.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := normalizePath(r.URL.Path)
			m.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// idCollections are path segments followed by a resource ID.
var idCollections = map[string]bool{
	"congregations": true,
	"transactions":  true,
}

// normalizePath replaces resource IDs with :id to keep label cardinality low.
// /api/v1/congregations/01ABC/balance -> /api/v1/congregations/:id/balance
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		if segments[i] != "" && idCollections[segments[i-1]] {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
