package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/checkout"
	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

// CreateCheckout handles POST /v1/acp/checkouts.
func CreateCheckout(svc *checkout.Service, emitter webhooks.WebhookEmitter, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		var req checkout.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}

		c, err := svc.Create(r.Context(), tenantID, req)
		if err != nil {
			return nil, err
		}
		m.CheckoutsTotal.WithLabelValues("created").Inc()
		if emitter != nil {
			emitter.Emit(webhooks.EventCheckoutCreated, tenantID, map[string]interface{}{
				"checkout_id": c.ID,
				"merchant_id": c.MerchantID,
				"total":       c.Total.StringFixed(2),
				"currency":    c.Currency,
			})
		}

		return &envelope.Result{
			Data:   c,
			Status: http.StatusCreated,
			Links: map[string]string{
				"self":     "/v1/acp/checkouts/" + c.ID,
				"complete": "/v1/acp/checkouts/" + c.ID + "/complete",
				"cancel":   "/v1/acp/checkouts/" + c.ID + "/cancel",
			},
		}, nil
	}
}

// GetCheckout handles GET /v1/acp/checkouts/{id}.
func GetCheckout(svc *checkout.Service) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		c, err := svc.Get(r.Context(), tenantID, mux.Vars(r)["id"])
		if err != nil {
			return nil, err
		}
		return &envelope.Result{Data: c}, nil
	}
}

// CompleteCheckout handles POST /v1/acp/checkouts/{id}/complete.
func CompleteCheckout(svc *checkout.Service, cache *contextview.Cache, emitter webhooks.WebhookEmitter, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]
		var req checkout.CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}

		c, transfer, err := svc.Complete(r.Context(), tenantID, id, req)
		if err != nil {
			return nil, err
		}
		m.CheckoutsTotal.WithLabelValues("completed").Inc()

		cache.InvalidatePattern(transfer.FromAccount)
		cache.InvalidatePattern(c.MerchantID)
		if emitter != nil {
			emitter.Emit(webhooks.EventCheckoutCompleted, tenantID, map[string]interface{}{
				"checkout_id": c.ID,
				"transfer_id": transfer.ID,
				"total":       c.Total.StringFixed(2),
				"currency":    c.Currency,
			})
		}

		return &envelope.Result{
			Data: map[string]interface{}{
				"checkout": c,
				"transfer": transfer,
			},
			Status: http.StatusCreated,
			Links: map[string]string{
				"checkout": "/v1/acp/checkouts/" + c.ID,
				"transfer": "/v1/context/transfers/" + transfer.ID,
			},
		}, nil
	}
}

// CancelCheckout handles POST /v1/acp/checkouts/{id}/cancel.
func CancelCheckout(svc *checkout.Service, emitter webhooks.WebhookEmitter, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		c, err := svc.Cancel(r.Context(), tenantID, mux.Vars(r)["id"])
		if err != nil {
			return nil, err
		}
		m.CheckoutsTotal.WithLabelValues("cancelled").Inc()
		if emitter != nil {
			emitter.Emit(webhooks.EventCheckoutCancelled, tenantID, map[string]interface{}{
				"checkout_id": c.ID,
			})
		}
		return &envelope.Result{Data: c}, nil
	}
}
