// Package capabilities exposes what the platform can do right now: rails,
// currencies, protocols, API limits, webhook events and callable operations,
// rendered both as a raw registry and as an agent-facing tool list.
package capabilities

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/config"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/simulation"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

// Capability is one advertised platform ability.
type Capability struct {
	Name        string                 `json:"name"`
	Category    string                 `json:"category"` // rail | currency | protocol | operation | limit | webhook_event
	Description string                 `json:"description"`
	Enabled     bool                   `json:"enabled"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Tool is the agent-facing rendering of an operation capability, shaped for
// function-calling schemas.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Method      string                 `json:"method"`
	Path        string                 `json:"path"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// operation is the full catalog record behind an operation capability.
type operation struct {
	Name                string
	Description         string
	Method              string
	Path                string
	Parameters          map[string]interface{}
	Returns             map[string]interface{}
	ErrorCodes          []apierr.Code
	SupportsSimulation  bool
	SupportsIdempotency bool
}

const cacheTTL = time.Hour

type cached struct {
	caps     []Capability
	tools    []Tool
	storedAt time.Time
}

// Registry assembles and caches the capability set per tenant. The set is
// environment-dependent (feature flags gate rails and protocols), so it is
// rebuilt when the cache ages out.
type Registry struct {
	cfg    *config.Config
	mu     sync.RWMutex
	cache  map[string]*cached
	logger *log.Logger
	now    func() time.Time
}

// NewRegistry wires the registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:    cfg,
		cache:  map[string]*cached{},
		logger: log.New(log.Writer(), "[CAPS] ", log.LstdFlags),
		now:    time.Now,
	}
}

// List returns capabilities for a tenant, filtered by category and/or a
// case-insensitive name fragment.
func (r *Registry) List(tenantID, category, name string) []Capability {
	c := r.snapshot(tenantID)
	out := make([]Capability, 0, len(c.caps))
	for _, item := range c.caps {
		if category != "" && item.Category != category {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(name)) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Tools returns the agent-facing tool list for a tenant.
func (r *Registry) Tools(tenantID string) []Tool {
	return r.snapshot(tenantID).tools
}

// Invalidate drops a tenant's cached set, forcing a rebuild on next read.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
}

func (r *Registry) snapshot(tenantID string) *cached {
	r.mu.RLock()
	c, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok && r.now().Sub(c.storedAt) < cacheTTL {
		return c
	}

	c = &cached{caps: r.build(), tools: buildTools(), storedAt: r.now()}
	r.mu.Lock()
	r.cache[tenantID] = c
	r.mu.Unlock()
	r.logger.Printf("rebuilt capability set for tenant %s: %d capabilities, %d tools",
		tenantID, len(c.caps), len(c.tools))
	return c
}

// protocolOn: sandbox implementations ship built in, so protocols are live
// everywhere except production, where the feature flag gates rollout.
func (r *Registry) protocolOn(flag string) bool {
	if r.cfg.Environment != config.EnvProduction {
		return true
	}
	return r.cfg.FeatureEnabled(flag)
}

func (r *Registry) build() []Capability {
	caps := []Capability{
		{Name: "internal", Category: "rail", Description: "Instant ledger-to-ledger settlement", Enabled: true,
			Metadata: map[string]interface{}{"duration_seconds": 5, "availability": "24/7"}},
		{Name: "pix", Category: "rail", Description: "Brazilian instant payments (BRL)", Enabled: true,
			Metadata: map[string]interface{}{"duration_seconds": 120, "availability": "24/7", "currency": "BRL"}},
		{Name: "spei", Category: "rail", Description: "Mexican interbank transfers (MXN)", Enabled: true,
			Metadata: map[string]interface{}{"duration_seconds": 180, "maintenance_utc": "22:00-06:00", "currency": "MXN"}},
		{Name: "cvu", Category: "rail", Description: "Argentine virtual account transfers (ARS)", Enabled: true,
			Metadata: map[string]interface{}{"duration_seconds": 300, "currency": "ARS"}},
		{Name: "pse", Category: "rail", Description: "Colombian bank transfers (COP)", Enabled: true,
			Metadata: map[string]interface{}{"duration_seconds": 600, "currency": "COP"}},
		{Name: "wire", Category: "rail", Description: "International wire fallback", Enabled: true,
			Metadata: map[string]interface{}{"duration_seconds": 86400}},
	}
	for _, cur := range []string{"USD", "USDC", "EUR", "BRL", "MXN", "ARS", "COP"} {
		caps = append(caps, Capability{
			Name: cur, Category: "currency", Description: cur + " balances and transfers", Enabled: true,
		})
	}
	caps = append(caps,
		Capability{Name: "x402", Category: "protocol", Enabled: r.protocolOn("x402_facilitator"),
			Description: "HTTP 402 machine payments (verify + settle)",
			Metadata:    map[string]interface{}{"schemes": []string{"exact"}, "networks": []string{"base", "base-sepolia"}}},
		Capability{Name: "ap2", Category: "protocol", Enabled: r.protocolOn("ap2_mandates"),
			Description: "Agent Payments Protocol mandates"},
		Capability{Name: "acp", Category: "protocol", Enabled: r.protocolOn("acp_checkouts"),
			Description: "Agentic Commerce Protocol checkouts"},
	)
	caps = append(caps,
		Capability{Name: "max_batch_items", Category: "limit", Enabled: true,
			Description: "Maximum items in one batch simulation",
			Metadata:    map[string]interface{}{"value": simulation.MaxBatchItems}},
		Capability{Name: "simulation_ttl_seconds", Category: "limit", Enabled: true,
			Description: "How long a simulation stays executable",
			Metadata:    map[string]interface{}{"value": int(domain.SimulationTTL.Seconds())}},
		Capability{Name: "refund_window_days", Category: "limit", Enabled: true,
			Description: "Days after completion a transfer stays refundable",
			Metadata:    map[string]interface{}{"value": domain.RefundWindowDays}},
		Capability{Name: "rate_limit_per_minute", Category: "limit", Enabled: true,
			Description: "Default per-tenant request ceiling",
			Metadata:    map[string]interface{}{"value": 60}},
	)
	for _, ev := range []webhooks.EventType{
		webhooks.EventTransferCompleted, webhooks.EventTransferFailed,
		webhooks.EventRefundCompleted, webhooks.EventSimulationExecuted,
		webhooks.EventMandateCreated, webhooks.EventMandateExecuted,
		webhooks.EventMandateCancelled, webhooks.EventMandateExpired,
		webhooks.EventCheckoutCreated, webhooks.EventCheckoutCompleted,
		webhooks.EventCheckoutCancelled,
		webhooks.EventX402Settled, webhooks.EventX402SettlementError,
	} {
		caps = append(caps, Capability{
			Name: string(ev), Category: "webhook_event", Enabled: true,
			Description: "Deliverable via POST /v1/webhooks subscriptions",
		})
	}
	for _, op := range buildOperations() {
		codes := make([]string, 0, len(op.ErrorCodes))
		for _, c := range op.ErrorCodes {
			codes = append(codes, string(c))
		}
		caps = append(caps, Capability{
			Name: op.Name, Category: "operation", Description: op.Description, Enabled: true,
			Metadata: map[string]interface{}{
				"http":                 map[string]interface{}{"method": op.Method, "path": op.Path},
				"parameters_schema":    op.Parameters,
				"returns_schema":       op.Returns,
				"error_codes":          codes,
				"supports_simulation":  op.SupportsSimulation,
				"supports_idempotency": op.SupportsIdempotency,
			},
		})
	}
	sort.Slice(caps, func(i, j int) bool {
		if caps[i].Category != caps[j].Category {
			return caps[i].Category < caps[j].Category
		}
		return caps[i].Name < caps[j].Name
	})
	return caps
}

func buildTools() []Tool {
	ops := buildOperations()
	tools := make([]Tool, 0, len(ops))
	for _, op := range ops {
		tools = append(tools, Tool{
			Name:        op.Name,
			Description: op.Description,
			Method:      op.Method,
			Path:        op.Path,
			Parameters:  op.Parameters,
		})
	}
	return tools
}

func buildOperations() []operation {
	return []operation{
		{
			Name:        "simulate_payment",
			Description: "Preview any payment action with fees, FX, timing and eligibility before executing",
			Method:      "POST",
			Path:        "/v1/simulate",
			Parameters: map[string]interface{}{
				"action_type": map[string]interface{}{"type": "string", "enum": []string{"transfer", "refund", "stream"}},
				"transfer":    map[string]interface{}{"type": "object"},
				"refund":      map[string]interface{}{"type": "object"},
				"stream":      map[string]interface{}{"type": "object"},
			},
			Returns: map[string]interface{}{
				"id": "string", "can_execute": "boolean", "preview": "object",
				"warnings": "array", "errors": "array", "expires_at": "string",
			},
			ErrorCodes: []apierr.Code{
				apierr.CodeValidationError, apierr.CodeAccountNotFound,
				apierr.CodeInsufficientBalance, apierr.CodeLimitExceeded,
				apierr.CodeUnsupportedCurrency,
			},
			SupportsSimulation:  true,
			SupportsIdempotency: true,
		},
		{
			Name:        "simulate_batch",
			Description: "Preview up to 1000 transfers with cumulative balance effects",
			Method:      "POST",
			Path:        "/v1/simulate/batch",
			Parameters: map[string]interface{}{
				"simulations":         map[string]interface{}{"type": "array", "maxItems": simulation.MaxBatchItems},
				"stop_on_first_error": map[string]interface{}{"type": "boolean"},
			},
			Returns: map[string]interface{}{
				"batch_id": "string", "total_count": "integer", "successful": "integer",
				"failed": "integer", "can_execute_all": "boolean", "totals": "object",
				"summary": "object", "items": "array",
			},
			ErrorCodes: []apierr.Code{
				apierr.CodeBatchEmpty, apierr.CodeBatchSizeExceeded, apierr.CodeAccountNotFound,
			},
			SupportsSimulation:  true,
			SupportsIdempotency: true,
		},
		{
			Name:        "execute_simulation",
			Description: "Execute a previously simulated action; rejects on expiry or drift, replays on repeats",
			Method:      "POST",
			Path:        "/v1/simulations/{id}/execute",
			Parameters:  map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
			Returns: map[string]interface{}{
				"simulation_id": "string", "result_id": "string", "result_type": "string",
				"entity": "object", "variance": "object",
			},
			ErrorCodes: []apierr.Code{
				apierr.CodeSimulationNotFound, apierr.CodeSimulationExpired,
				apierr.CodeSimulationCannotExecute, apierr.CodeSimulationStale,
				apierr.CodeSimulationFXVarianceExceeded, apierr.CodeSimulationFeeVariance,
			},
			SupportsIdempotency: true,
		},
		{
			Name:        "get_account_context",
			Description: "Everything about an account in one call: balances, activity, risk, next actions",
			Method:      "GET",
			Path:        "/v1/context/accounts/{id}",
			Parameters:  map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
			Returns: map[string]interface{}{
				"account": "object", "balances": "object", "recent_transfers": "array",
				"agents": "array", "risk": "object", "available_actions": "array",
			},
			ErrorCodes: []apierr.Code{apierr.CodeAccountNotFound},
		},
		{
			Name:        "get_transfer_context",
			Description: "A transfer with its refunds, parties, timeline and next actions",
			Method:      "GET",
			Path:        "/v1/context/transfers/{id}",
			Parameters:  map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
			Returns: map[string]interface{}{
				"transfer": "object", "refunds": "object", "timeline": "array",
				"available_actions": "array",
			},
			ErrorCodes: []apierr.Code{apierr.CodeTransferNotFound},
		},
		{
			Name:        "create_mandate",
			Description: "Open an AP2 spending mandate for an agent",
			Method:      "POST",
			Path:        "/v1/ap2/mandates",
			Parameters: map[string]interface{}{
				"mandate_type":      map[string]interface{}{"type": "string", "enum": []string{"intent", "cart", "payment"}},
				"agent_id":          map[string]interface{}{"type": "string"},
				"account_id":        map[string]interface{}{"type": "string"},
				"currency":          map[string]interface{}{"type": "string"},
				"authorized_amount": map[string]interface{}{"type": "string"},
			},
			Returns: map[string]interface{}{
				"id": "string", "status": "string", "authorized_amount": "string",
				"remaining_amount": "string",
			},
			ErrorCodes: []apierr.Code{
				apierr.CodeValidationError, apierr.CodeAccountNotFound,
				apierr.CodeAgentNotFound, apierr.CodeAP2InvalidMandateType,
			},
			SupportsIdempotency: true,
		},
		{
			Name:        "execute_mandate",
			Description: "Draw one spend from an active mandate",
			Method:      "POST",
			Path:        "/v1/ap2/mandates/{id}/execute",
			Parameters: map[string]interface{}{
				"amount":     map[string]interface{}{"type": "string"},
				"to_account": map[string]interface{}{"type": "string"},
			},
			Returns: map[string]interface{}{
				"mandate": "object", "transfer_id": "string", "execution_index": "integer",
			},
			ErrorCodes: []apierr.Code{
				apierr.CodeMandateNotFound, apierr.CodeMandateNotActive,
				apierr.CodeAP2MandateExceeded, apierr.CodeAP2MandateExpired,
			},
			SupportsIdempotency: true,
		},
		{
			Name:        "create_checkout",
			Description: "Open an ACP checkout with pinned cart arithmetic",
			Method:      "POST",
			Path:        "/v1/acp/checkouts",
			Parameters: map[string]interface{}{
				"merchant_id": map[string]interface{}{"type": "string"},
				"items":       map[string]interface{}{"type": "array"},
				"total":       map[string]interface{}{"type": "string"},
			},
			Returns: map[string]interface{}{
				"id": "string", "status": "string", "total": "string", "expires_at": "string",
			},
			ErrorCodes: []apierr.Code{
				apierr.CodeValidationError, apierr.CodeCheckoutTotalMismatch,
			},
			SupportsIdempotency: true,
		},
		{
			Name:        "complete_checkout",
			Description: "Settle a pending checkout with a shared payment token",
			Method:      "POST",
			Path:        "/v1/acp/checkouts/{id}/complete",
			Parameters: map[string]interface{}{
				"shared_payment_token": map[string]interface{}{"type": "string"},
			},
			Returns: map[string]interface{}{
				"id": "string", "status": "string", "transfer_id": "string",
			},
			ErrorCodes: []apierr.Code{
				apierr.CodeCheckoutNotFound, apierr.CodeCheckoutNotPending,
				apierr.CodeCheckoutCompleted,
			},
			SupportsIdempotency: true,
		},
	}
}
