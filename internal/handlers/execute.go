package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/execution"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

// ExecuteSimulation handles POST /v1/simulations/{id}/execute. The winner
// gets 201 with the created entity; repeat calls get 200 with the original
// result.
func ExecuteSimulation(gate *execution.Gate, cache *contextview.Cache, emitter webhooks.WebhookEmitter, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]

		result, err := gate.Execute(r.Context(), tenantID, id)
		if err != nil {
			m.RecordExecution("unknown", "rejected")
			return nil, err
		}

		// A replay observed the original outcome: 200, no side effects.
		if result.Replayed {
			m.RecordExecution(result.ResultType, "replayed")
			return &envelope.Result{
				Data: result,
				Links: map[string]string{
					"simulation": "/v1/simulations/" + result.SimulationID,
					"result":     "/v1/context/" + result.ResultType + "s/" + result.ResultID,
				},
			}, nil
		}

		m.RecordExecution(result.ResultType, "executed")
		if result.Variance != nil {
			m.RecordVariance(result.Variance.VarianceLevel)
		}

		// Drop every cached view the new entity invalidates, the moved
		// accounts' views included.
		cache.InvalidatePattern(id)
		cache.InvalidatePattern(result.ResultID)
		for _, acct := range result.Accounts {
			cache.InvalidatePattern(acct)
		}
		if emitter != nil {
			emitter.Emit(webhooks.EventSimulationExecuted, tenantID, map[string]interface{}{
				"simulation_id": result.SimulationID,
				"result_id":     result.ResultID,
				"result_type":   result.ResultType,
			})
		}

		return &envelope.Result{
			Data:   result,
			Status: http.StatusCreated,
			Links: map[string]string{
				"simulation": "/v1/simulations/" + result.SimulationID,
				"result":     "/v1/context/" + result.ResultType + "s/" + result.ResultID,
			},
		}, nil
	}
}
