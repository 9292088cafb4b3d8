package middleware

import (
	"log"
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging records one line per request: method, path, status, duration and
// tenant. Bodies are never logged.
func Logging(next http.Handler) http.Handler {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Printf("%s %s %d %s tenant=%s",
			r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond),
			TenantFrom(r.Context()))
	})
}
