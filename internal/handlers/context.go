package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
)

// viewBuilder renders one 360° view; partial=true means a section was
// dropped.
type viewBuilder func(r *http.Request, tenantID, id string) (interface{}, bool, error)

// AccountContext handles GET /v1/context/accounts/{id}.
func AccountContext(agg *contextview.Aggregator, cache *contextview.Cache, m *metrics.Metrics) envelope.HandlerFunc {
	return cachedView(cache, m, "account", func(r *http.Request, tenantID, id string) (interface{}, bool, error) {
		return agg.AccountContext(r.Context(), tenantID, id)
	})
}

// TransferContext handles GET /v1/context/transfers/{id}.
func TransferContext(agg *contextview.Aggregator, cache *contextview.Cache, m *metrics.Metrics) envelope.HandlerFunc {
	return cachedView(cache, m, "transfer", func(r *http.Request, tenantID, id string) (interface{}, bool, error) {
		return agg.TransferContext(r.Context(), tenantID, id)
	})
}

// AgentContext handles GET /v1/context/agents/{id}.
func AgentContext(agg *contextview.Aggregator, cache *contextview.Cache, m *metrics.Metrics) envelope.HandlerFunc {
	return cachedView(cache, m, "agent", func(r *http.Request, tenantID, id string) (interface{}, bool, error) {
		return agg.AgentContext(r.Context(), tenantID, id)
	})
}

// BatchContext handles GET /v1/context/batches/{id}.
func BatchContext(agg *contextview.Aggregator, cache *contextview.Cache, m *metrics.Metrics) envelope.HandlerFunc {
	return cachedView(cache, m, "batch", func(r *http.Request, tenantID, id string) (interface{}, bool, error) {
		snapshot, err := agg.BatchContext(r.Context(), tenantID, id)
		if err != nil {
			return nil, false, err
		}
		return json.RawMessage(snapshot), false, nil
	})
}

// cachedView wraps a view builder with the TTL-bucket cache: hit/miss
// headers, weak ETags, 304 revalidation and explicit bypass via
// Cache-Control: no-cache or ?fresh=true.
func cachedView(cache *contextview.Cache, m *metrics.Metrics, view string, build viewBuilder) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]
		key := tenantID + ":" + view + ":" + id
		ttl := contextview.TTLFor(view)

		bypass := r.URL.Query().Get("fresh") == "true" ||
			r.Header.Get("Cache-Control") == "no-cache"

		if !bypass {
			if entry, ok := cache.Get(key); ok {
				if r.Header.Get("If-None-Match") == entry.ETag {
					m.RecordCacheLookup(view, "revalidated")
					return &envelope.Result{
						Status: http.StatusNotModified,
						NoBody: true,
						Headers: map[string]string{
							"ETag":    entry.ETag,
							"X-Cache": "HIT",
						},
					}, nil
				}
				m.RecordCacheLookup(view, "hit")
				age := entry.Age(time.Now())
				remaining := int(ttl.Seconds()) - age
				if remaining < 0 {
					remaining = 0
				}
				return &envelope.Result{
					Data: json.RawMessage(entry.Body),
					Headers: map[string]string{
						"X-Cache":       "HIT",
						"X-Cache-Age":   strconv.Itoa(age),
						"ETag":          entry.ETag,
						"Cache-Control": "private, max-age=" + strconv.Itoa(remaining),
					},
				}, nil
			}
			m.RecordCacheLookup(view, "miss")
		} else {
			m.RecordCacheLookup(view, "bypass")
		}

		data, partial, err := build(r, tenantID, id)
		if err != nil {
			return nil, err
		}
		if partial {
			envelope.MarkPartial(r)
		}

		body, mErr := json.Marshal(data)
		if mErr != nil {
			return nil, apierr.New(apierr.CodeInternalError, "view render failed")
		}

		headers := map[string]string{
			"X-Cache":       "MISS",
			"Cache-Control": "private, max-age=" + strconv.Itoa(int(ttl.Seconds())),
		}
		// Partial views are never cached: the missing section should heal on
		// the next request.
		if !partial {
			entry := cache.Put(key, body, ttl)
			headers["ETag"] = entry.ETag
		} else {
			headers["ETag"] = contextview.WeakETag(body)
		}
		m.ContextCacheEntries.Set(float64(cache.Len()))

		return &envelope.Result{
			Data:    json.RawMessage(body),
			Headers: headers,
		}, nil
	}
}
