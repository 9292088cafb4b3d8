package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/facilitator"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

// FacilitatorVerify handles POST /v1/x402/verify.
func FacilitatorVerify(f *facilitator.Facilitator) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		var req facilitator.VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeX402InvalidPayload, "request body is not valid JSON")
		}
		return &envelope.Result{Data: f.Verify(r.Context(), req)}, nil
	}
}

// FacilitatorSettle handles POST /v1/x402/settle.
func FacilitatorSettle(f *facilitator.Facilitator, emitter webhooks.WebhookEmitter, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		var req facilitator.SettleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeX402InvalidPayload, "request body is not valid JSON")
		}

		res := f.Settle(r.Context(), req)
		outcome := "success"
		event := webhooks.EventX402Settled
		if !res.Success {
			outcome = "failed"
			event = webhooks.EventX402SettlementError
		}
		m.FacilitatorSettles.WithLabelValues(req.PaymentPayload.Network, outcome).Inc()
		if emitter != nil {
			emitter.Emit(event, tenantID, map[string]interface{}{
				"network":     res.Network,
				"payer":       res.Payer,
				"transaction": res.Transaction,
				"error":       res.ErrorReason,
			})
		}
		return &envelope.Result{Data: res}, nil
	}
}

// FacilitatorSupported handles GET /v1/x402/supported.
func FacilitatorSupported(f *facilitator.Facilitator) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		return &envelope.Result{Data: map[string]interface{}{
			"kinds": f.Supported(),
		}}, nil
	}
}
