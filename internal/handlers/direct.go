package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/execution"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/simulation"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

// CreateTransfer handles POST /v1/transfers: the one-shot convenience that
// runs a transfer simulation and executes it in the same request. The
// execution path is the same gate /v1/simulations/{id}/execute uses, so all
// variance and double-execution protections still apply.
func CreateTransfer(engine *simulation.Engine, gate *execution.Gate, cache *contextview.Cache,
	emitter webhooks.WebhookEmitter, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		var req simulation.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}
		return runDirect(r, engine, gate, cache, emitter, m, simulation.Request{
			ActionType: domain.ActionTransfer,
			Transfer:   &req,
		})
	}
}

// CreateRefund handles POST /v1/refunds, the one-shot refund counterpart.
func CreateRefund(engine *simulation.Engine, gate *execution.Gate, cache *contextview.Cache,
	emitter webhooks.WebhookEmitter, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		var req simulation.RefundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}
		return runDirect(r, engine, gate, cache, emitter, m, simulation.Request{
			ActionType: domain.ActionRefund,
			Refund:     &req,
		})
	}
}

func runDirect(r *http.Request, engine *simulation.Engine, gate *execution.Gate,
	cache *contextview.Cache, emitter webhooks.WebhookEmitter, m *metrics.Metrics,
	simReq simulation.Request) (*envelope.Result, error) {
	tenantID := middleware.TenantFrom(r.Context())

	sim, err := engine.Simulate(r.Context(), tenantID, simReq)
	if err != nil {
		return nil, err
	}
	if !sim.CanExecute {
		// Surface the simulation's first terminal error as the request error;
		// the full record rides along in the details.
		e := apierr.New(apierr.CodeSimulationCannotExecute, "request is not executable").
			With("simulation_id", sim.ID).
			With("errors", sim.Errors)
		if len(sim.Errors) > 0 {
			e = apierr.New(apierr.Code(sim.Errors[0].Code), sim.Errors[0].Message).
				With("simulation_id", sim.ID)
			for k, v := range sim.Errors[0].Details {
				e = e.With(k, v)
			}
		}
		return nil, e
	}

	result, err := gate.Execute(r.Context(), tenantID, sim.ID)
	if err != nil {
		return nil, err
	}
	m.RecordExecution(result.ResultType, "executed")
	if result.Variance != nil {
		m.RecordVariance(result.Variance.VarianceLevel)
	}

	cache.InvalidatePattern(sim.ID)
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
