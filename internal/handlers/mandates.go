package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/mandate"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

// CreateMandate handles POST /v1/ap2/mandates.
func CreateMandate(svc *mandate.Service, emitter webhooks.WebhookEmitter) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		var req mandate.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}

		m, err := svc.Create(r.Context(), tenantID, req)
		if err != nil {
			return nil, err
		}
		if emitter != nil {
			emitter.Emit(webhooks.EventMandateCreated, tenantID, map[string]interface{}{
				"mandate_id": m.ID,
				"agent_id":   m.AgentID,
				"authorized": m.AuthorizedAmount.StringFixed(2),
				"currency":   m.Currency,
			})
		}

		return &envelope.Result{
			Data:   m,
			Status: http.StatusCreated,
			Links: map[string]string{
				"self":    "/v1/ap2/mandates/" + m.ID,
				"execute": "/v1/ap2/mandates/" + m.ID + "/execute",
			},
		}, nil
	}
}

// GetMandate handles GET /v1/ap2/mandates/{id}.
func GetMandate(svc *mandate.Service) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		m, err := svc.Get(r.Context(), tenantID, mux.Vars(r)["id"])
		if err != nil {
			return nil, err
		}
		return &envelope.Result{Data: m}, nil
	}
}

// ExecuteMandate handles POST /v1/ap2/mandates/{id}/execute.
func ExecuteMandate(svc *mandate.Service, cache *contextview.Cache, emitter webhooks.WebhookEmitter, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]
		var req mandate.ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}

		exec, updated, err := svc.Execute(r.Context(), tenantID, id, req)
		if err != nil {
			ae := apierr.From(err)
			switch ae.Code {
			case apierr.CodeAP2MandateExceeded:
				m.MandateExecutions.WithLabelValues("exceeded").Inc()
			case apierr.CodeAP2MandateExpired:
				m.MandateExecutions.WithLabelValues("expired").Inc()
			default:
				m.MandateExecutions.WithLabelValues("rejected").Inc()
			}
			return nil, err
		}
		m.MandateExecutions.WithLabelValues("completed").Inc()

		cache.InvalidatePattern(updated.AccountID)
		cache.InvalidatePattern(updated.AgentID)
		if emitter != nil {
			emitter.Emit(webhooks.EventMandateExecuted, tenantID, map[string]interface{}{
				"mandate_id":      updated.ID,
				"execution_index": exec.ExecutionIndex,
				"transfer_id":     exec.TransferID,
				"amount":          exec.Amount.StringFixed(2),
				"remaining":       updated.RemainingAmount.StringFixed(2),
			})
		}

		return &envelope.Result{
			Data: map[string]interface{}{
				"execution": exec,
				"mandate":   updated,
			},
			Status: http.StatusCreated,
			Links: map[string]string{
				"mandate":  "/v1/ap2/mandates/" + updated.ID,
				"transfer": "/v1/context/transfers/" + exec.TransferID,
			},
		}, nil
	}
}

// CancelMandate handles POST /v1/ap2/mandates/{id}/cancel.
func CancelMandate(svc *mandate.Service, emitter webhooks.WebhookEmitter) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		m, err := svc.Cancel(r.Context(), tenantID, mux.Vars(r)["id"])
		if err != nil {
			return nil, err
		}
		if emitter != nil {
			emitter.Emit(webhooks.EventMandateCancelled, tenantID, map[string]interface{}{
				"mandate_id": m.ID,
				"used":       m.UsedAmount.StringFixed(2),
			})
		}
		return &envelope.Result{Data: m}, nil
	}
}

// ListMandateExecutions handles GET /v1/ap2/mandates/{id}/executions.
func ListMandateExecutions(svc *mandate.Service) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		execs, err := svc.Executions(r.Context(), tenantID, mux.Vars(r)["id"])
		if err != nil {
			return nil, err
		}
		return &envelope.Result{Data: map[string]interface{}{
			"items": execs,
			"count": len(execs),
		}}, nil
	}
}
