package envelope

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/haxaco/payos-sub010/internal/apierr"
)

// Result is what domain handlers return on success.
type Result struct {
	Data        interface{}
	Status      int // 0 means 200
	Links       map[string]string
	NextActions []map[string]interface{}
	Headers     map[string]string
	// NoBody suppresses the envelope entirely (304 responses).
	NoBody bool
}

// HandlerFunc is the shape of every domain handler. Returning a non-nil
// error produces the error envelope; anything that is not an *apierr.Error
// is logged and surfaced as INTERNAL_ERROR.
type HandlerFunc func(r *http.Request) (*Result, error)

// Writer decorates handlers with the response envelope.
type Writer struct {
	APIVersion  string
	Environment string
	logger      *log.Logger
}

// NewWriter creates the envelope writer for this process.
func NewWriter(apiVersion, environment string) *Writer {
	return &Writer{
		APIVersion:  apiVersion,
		Environment: environment,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// RequestID returns the caller-provided request id or mints one.
func RequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

// Wrap turns a domain handler into an http.HandlerFunc that always emits a
// conforming envelope. Processing time is measured from inbound decode to
// outbound encode.
func (w *Writer) Wrap(h HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := RequestID(r)
		rw.Header().Set("X-Request-ID", requestID)

		res, err := h(r)
		if err != nil {
			w.writeError(rw, r, requestID, err)
			return
		}

		if res == nil {
			res = &Result{Data: map[string]interface{}{}}
		}
		for k, v := range res.Headers {
			rw.Header().Set(k, v)
		}
		status := res.Status
		if status == 0 {
			status = http.StatusOK
		}
		if res.NoBody {
			rw.WriteHeader(status)
			return
		}

		// Never double-wrap: handlers that hand back an envelope (the
		// context cache replays stored bodies) pass through as-is.
		if isWrapped(res.Data) {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(status)
			json.NewEncoder(rw).Encode(res.Data)
			return
		}

		env := Success{
			Success: true,
			Data:    res.Data,
			Meta: Meta{
				RequestID:        requestID,
				Timestamp:        time.Now().UTC().Format(time.RFC3339),
				ProcessingTimeMS: time.Since(start).Milliseconds(),
				APIVersion:       w.APIVersion,
				Environment:      w.Environment,
			},
			Links:       res.Links,
			NextActions: res.NextActions,
		}
		if partial, ok := r.Context().Value(partialKey{}).(*bool); ok && *partial {
			env.Meta.Partial = true
		}

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		json.NewEncoder(rw).Encode(env)
	}
}

func (w *Writer) writeError(rw http.ResponseWriter, r *http.Request, requestID string, err error) {
	ae := apierr.From(err)
	if ae.Code == apierr.CodeInternalError {
		// Structured diagnostic with request id; the envelope itself never
		// leaks internals.
		w.logger.Printf("❌ internal error request_id=%s path=%s err=%v", requestID, r.URL.Path, err)
	}

	now := time.Now()
	env := BuildError(ae, requestID, now)
	if env.Error.Retry.Retryable && env.Error.Retry.RetryAfterSeconds != nil &&
		apierr.Lookup(ae.Code).HTTPStatus == http.StatusTooManyRequests {
		rw.Header().Set("Retry-After", strconv.Itoa(*env.Error.Retry.RetryAfterSeconds))
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(apierr.Lookup(ae.Code).HTTPStatus)
	json.NewEncoder(rw).Encode(env)
}

type partialKey struct{}

// MarkPartial flags the current request's meta as partial. The aggregators
// call this when a sub-query failed and its section was omitted.
func MarkPartial(r *http.Request) {
	if p, ok := r.Context().Value(partialKey{}).(*bool); ok {
		*p = true
	}
}

// WithPartialFlag installs the partial marker; router middleware applies it
// to /v1/context routes.
func WithPartialFlag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var partial bool
		ctx := contextWithPartial(r.Context(), &partial)
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}
