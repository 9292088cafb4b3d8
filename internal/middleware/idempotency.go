package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/idempotency"
)

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// Idempotency replays completed mutating responses under the
// Idempotency-Key header. Requests without the header pass straight through.
func Idempotency(store idempotency.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeAuthError(w, r, apierr.New(apierr.CodeValidationError, "request body unreadable"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := idempotency.HashRequest(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))

			tenantID := TenantFrom(r.Context())
			verdict, rec, err := store.Begin(r.Context(), tenantID, key, hash)
			if err != nil {
				writeAuthError(w, r, apierr.New(apierr.CodeCacheError, "idempotency store unavailable"))
				return
			}
			switch verdict {
			case idempotency.Replay:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotent-Replay", "true")
				w.WriteHeader(rec.Status)
				w.Write(rec.Body)
				return
			case idempotency.Mismatch:
				writeAuthError(w, r, apierr.New(apierr.CodeIdempotencyConflict,
					"idempotency key was used with a different request").
					With("idempotency_key", key))
				return
			case idempotency.InFlight:
				writeAuthError(w, r, apierr.New(apierr.CodeConcurrentModification,
					"a request with this idempotency key is still in flight").
					With("idempotency_key", key))
				return
			}

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			// Server-side failures release the key so the caller can retry;
			// everything else replays.
			if cw.status >= 500 {
				_ = store.Abort(r.Context(), tenantID, key)
				return
			}
			_ = store.Complete(r.Context(), tenantID, key, idempotency.Record{
				RequestHash: hash,
				Status:      cw.status,
				Body:        cw.body.Bytes(),
			})
		})
	}
}
