// Package handlers wires domain services to HTTP routes. Every handler
// returns an envelope.Result or a typed error; the envelope writer shapes
// the wire response.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/simulation"
	"github.com/haxaco/payos-sub010/internal/store"
)

// Simulate handles POST /v1/simulate.
func Simulate(engine *simulation.Engine, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		var req simulation.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}

		start := time.Now()
		sim, err := engine.Simulate(r.Context(), tenantID, req)
		if err != nil {
			return nil, err
		}
		m.RecordSimulation(string(sim.ActionType), sim.CanExecute, time.Since(start).Seconds())

		res := &envelope.Result{
			Data:   sim,
			Status: http.StatusCreated,
			Links: map[string]string{
				"self": "/v1/simulations/" + sim.ID,
			},
		}
		if sim.CanExecute {
			res.Links["execute"] = "/v1/simulations/" + sim.ID + "/execute"
			res.NextActions = []map[string]interface{}{{
				"action":     "execute",
				"method":     "POST",
				"path":       "/v1/simulations/" + sim.ID + "/execute",
				"expires_at": sim.ExpiresAt.UTC().Format(time.RFC3339),
			}}
		}
		return res, nil
	}
}

// SimulateBatch handles POST /v1/simulate/batch.
func SimulateBatch(engine *simulation.Engine, m *metrics.Metrics) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		var req simulation.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}

		result, err := engine.SimulateBatch(r.Context(), tenantID, req)
		if err != nil {
			return nil, err
		}
		m.RecordBatch(len(result.Items), result.Stopped)

		return &envelope.Result{
			Data:   result,
			Status: http.StatusCreated,
			Links: map[string]string{
				"self": "/v1/context/batches/" + result.BatchID,
			},
		}, nil
	}
}

// GetSimulation handles GET /v1/simulations/{id}, lazily reporting expiry.
func GetSimulation(st store.Store) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]

		sim, err := st.GetSimulation(r.Context(), tenantID, id)
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.CodeSimulationNotFound, "simulation not found").
				With("simulation_id", id)
		}
		if err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "simulation lookup failed")
		}
		if !sim.Executed && sim.Status != domain.SimulationExpired && time.Now().UTC().After(sim.ExpiresAt) {
			sim.Status = domain.SimulationExpired
		}
		return &envelope.Result{Data: sim}, nil
	}
}
