// Package api assembles the HTTP surface: router, middleware chain and
// graceful lifecycle.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haxaco/payos-sub010/internal/capabilities"
	"github.com/haxaco/payos-sub010/internal/checkout"
	"github.com/haxaco/payos-sub010/internal/config"
	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/execution"
	"github.com/haxaco/payos-sub010/internal/facilitator"
	"github.com/haxaco/payos-sub010/internal/handlers"
	"github.com/haxaco/payos-sub010/internal/idempotency"
	"github.com/haxaco/payos-sub010/internal/mandate"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/simulation"
	"github.com/haxaco/payos-sub010/internal/store"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

// APIVersion is stamped into every response envelope.
const APIVersion = "2026-08-01"

// Deps carries everything the server wires together.
type Deps struct {
	Config      *config.Config
	Store       store.Store
	Engine      *simulation.Engine
	Gate        *execution.Gate
	Mandates    *mandate.Service
	Checkouts   *checkout.Service
	Aggregator  *contextview.Aggregator
	Cache       *contextview.Cache
	Caps        *capabilities.Registry
	Facilitator *facilitator.Facilitator
	Idempotency idempotency.Store
	WebhookReg  *webhooks.Registry
	Emitter     webhooks.WebhookEmitter
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
}

// Server is the HTTP server.
type Server struct {
	deps   Deps
	http   *http.Server
	logger *log.Logger
}

// NewServer builds the router and middleware chain.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: log.New(log.Writer(), "[SERVER] ", log.LstdFlags),
	}

	w := envelope.NewWriter(APIVersion, string(deps.Config.Environment))
	r := mux.NewRouter()

	// Unauthenticated surface.
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.Tenant)
	v1.Use(middleware.Logging)
	v1.Use(deps.RateLimiter.Middleware)
	v1.Use(middleware.Idempotency(deps.Idempotency))
	v1.Use(envelope.WithPartialFlag)

	// Simulation & execution
	v1.HandleFunc("/simulate", w.Wrap(handlers.Simulate(deps.Engine, deps.Metrics))).Methods("POST")
	v1.HandleFunc("/simulate/batch", w.Wrap(handlers.SimulateBatch(deps.Engine, deps.Metrics))).Methods("POST")
	v1.HandleFunc("/simulations/{id}", w.Wrap(handlers.GetSimulation(deps.Store))).Methods("GET")
	v1.HandleFunc("/simulations/{id}/execute",
		w.Wrap(handlers.ExecuteSimulation(deps.Gate, deps.Cache, deps.Emitter, deps.Metrics))).Methods("POST")
	// Short-form aliases.
	v1.HandleFunc("/simulate/{id}", w.Wrap(handlers.GetSimulation(deps.Store))).Methods("GET")
	v1.HandleFunc("/simulate/{id}/execute",
		w.Wrap(handlers.ExecuteSimulation(deps.Gate, deps.Cache, deps.Emitter, deps.Metrics))).Methods("POST")

	// Accounts & agents
	allowSeed := deps.Config.Environment != config.EnvProduction
	v1.HandleFunc("/accounts", w.Wrap(handlers.CreateAccount(deps.Store, allowSeed))).Methods("POST")
	v1.HandleFunc("/accounts/{id}", w.Wrap(handlers.GetAccount(deps.Store))).Methods("GET")
	v1.HandleFunc("/accounts/{id}/agents", w.Wrap(handlers.ListAgents(deps.Store))).Methods("GET")
	v1.HandleFunc("/agents", w.Wrap(handlers.CreateAgent(deps.Store))).Methods("POST")

	// Transfers & refunds
	v1.HandleFunc("/transfers",
		w.Wrap(handlers.CreateTransfer(deps.Engine, deps.Gate, deps.Cache, deps.Emitter, deps.Metrics))).Methods("POST")
	v1.HandleFunc("/refunds",
		w.Wrap(handlers.CreateRefund(deps.Engine, deps.Gate, deps.Cache, deps.Emitter, deps.Metrics))).Methods("POST")
	v1.HandleFunc("/transfers/{id}", w.Wrap(handlers.GetTransfer(deps.Store))).Methods("GET")
	v1.HandleFunc("/transfers/{id}/cancel",
		w.Wrap(handlers.CancelTransfer(deps.Store, deps.Cache, deps.Emitter))).Methods("POST")
	v1.HandleFunc("/transfers/{id}/refunds", w.Wrap(handlers.ListTransferRefunds(deps.Store))).Methods("GET")

	// 360° context views
	v1.HandleFunc("/context/accounts/{id}",
		w.Wrap(handlers.AccountContext(deps.Aggregator, deps.Cache, deps.Metrics))).Methods("GET")
	v1.HandleFunc("/context/transfers/{id}",
		w.Wrap(handlers.TransferContext(deps.Aggregator, deps.Cache, deps.Metrics))).Methods("GET")
	v1.HandleFunc("/context/agents/{id}",
		w.Wrap(handlers.AgentContext(deps.Aggregator, deps.Cache, deps.Metrics))).Methods("GET")
	v1.HandleFunc("/context/batches/{id}",
		w.Wrap(handlers.BatchContext(deps.Aggregator, deps.Cache, deps.Metrics))).Methods("GET")
	// Singular aliases.
	v1.HandleFunc("/context/account/{id}",
		w.Wrap(handlers.AccountContext(deps.Aggregator, deps.Cache, deps.Metrics))).Methods("GET")
	v1.HandleFunc("/context/transfer/{id}",
		w.Wrap(handlers.TransferContext(deps.Aggregator, deps.Cache, deps.Metrics))).Methods("GET")
	v1.HandleFunc("/context/agent/{id}",
		w.Wrap(handlers.AgentContext(deps.Aggregator, deps.Cache, deps.Metrics))).Methods("GET")
	v1.HandleFunc("/context/batch/{id}",
		w.Wrap(handlers.BatchContext(deps.Aggregator, deps.Cache, deps.Metrics))).Methods("GET")

	// AP2 mandates
	v1.HandleFunc("/ap2/mandates", w.Wrap(handlers.CreateMandate(deps.Mandates, deps.Emitter))).Methods("POST")
	v1.HandleFunc("/ap2/mandates/{id}", w.Wrap(handlers.GetMandate(deps.Mandates))).Methods("GET")
	v1.HandleFunc("/ap2/mandates/{id}/execute",
		w.Wrap(handlers.ExecuteMandate(deps.Mandates, deps.Cache, deps.Emitter, deps.Metrics))).Methods("POST")
	v1.HandleFunc("/ap2/mandates/{id}/cancel",
		w.Wrap(handlers.CancelMandate(deps.Mandates, deps.Emitter))).Methods("POST", "PATCH")
	v1.HandleFunc("/ap2/mandates/{id}/executions",
		w.Wrap(handlers.ListMandateExecutions(deps.Mandates))).Methods("GET")

	// ACP checkouts
	v1.HandleFunc("/acp/checkouts",
		w.Wrap(handlers.CreateCheckout(deps.Checkouts, deps.Emitter, deps.Metrics))).Methods("POST")
	v1.HandleFunc("/acp/checkouts/{id}", w.Wrap(handlers.GetCheckout(deps.Checkouts))).Methods("GET")
	v1.HandleFunc("/acp/checkouts/{id}/complete",
		w.Wrap(handlers.CompleteCheckout(deps.Checkouts, deps.Cache, deps.Emitter, deps.Metrics))).Methods("POST")
	v1.HandleFunc("/acp/checkouts/{id}/cancel",
		w.Wrap(handlers.CancelCheckout(deps.Checkouts, deps.Emitter, deps.Metrics))).Methods("POST", "PATCH")

	// x402 facilitator
	v1.HandleFunc("/x402/facilitator/verify", w.Wrap(handlers.FacilitatorVerify(deps.Facilitator))).Methods("POST")
	v1.HandleFunc("/x402/facilitator/settle",
		w.Wrap(handlers.FacilitatorSettle(deps.Facilitator, deps.Emitter, deps.Metrics))).Methods("POST")
	v1.HandleFunc("/x402/facilitator/supported", w.Wrap(handlers.FacilitatorSupported(deps.Facilitator))).Methods("GET")

	// Capabilities
	v1.HandleFunc("/capabilities", w.Wrap(handlers.ListCapabilities(deps.Caps))).Methods("GET")
	v1.HandleFunc("/capabilities/tools", w.Wrap(handlers.ListTools(deps.Caps))).Methods("GET")

	// Webhooks
	v1.HandleFunc("/webhooks", w.Wrap(handlers.RegisterWebhook(deps.WebhookReg))).Methods("POST")
	v1.HandleFunc("/webhooks", w.Wrap(handlers.ListWebhooks(deps.WebhookReg))).Methods("GET")
	v1.HandleFunc("/webhooks/{id}", w.Wrap(handlers.UnregisterWebhook(deps.WebhookReg))).Methods("DELETE")

	s.http = &http.Server{
		Addr:         ":" + deps.Config.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Printf("🚀 listening on %s (env=%s)", s.http.Addr, s.deps.Config.Environment)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests, then stops the background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.deps.Emitter != nil {
		s.deps.Emitter.Shutdown()
	}
	s.deps.Cache.Close()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","environment":"` + string(s.deps.Config.Environment) + `"}`))
}
