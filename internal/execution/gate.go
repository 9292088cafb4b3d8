// Package execution is the gate between a simulation and real money
// movement. It re-validates the frozen payload against the live world,
// rejects on drift, claims the single execution slot atomically, and rolls
// the claim back if the movement itself fails.
package execution

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/simulation"
	"github.com/haxaco/payos-sub010/internal/store"
)

var (
	maxFXDriftPct  = decimal.RequireFromString("2")    // reject beyond 2% FX drift
	maxFeeDriftAbs = decimal.RequireFromString("5")    // or $5 fee drift...
	maxFeeDriftPct = decimal.RequireFromString("0.10") // ...whichever is larger vs 10%
	medFXDriftPct  = decimal.RequireFromString("0.5")
	medFeeDrift    = decimal.NewFromInt(1)
)

// Result is what a successful execution returns. Replayed marks a repeat
// call that observed the original outcome instead of moving money again.
type Result struct {
	SimulationID string                 `json:"simulation_id"`
	ResultID     string                 `json:"result_id"`
	ResultType   string                 `json:"result_type"`
	Entity       interface{}            `json:"entity"`
	Variance     *domain.Variance       `json:"variance,omitempty"`
	Preview      map[string]interface{} `json:"final_preview,omitempty"`
	Replayed     bool                   `json:"replayed,omitempty"`
	// Accounts whose balances moved; callers use this to drop cached views.
	Accounts []string `json:"-"`
}

// Gate executes simulations.
type Gate struct {
	store  store.Store
	engine *simulation.Engine
	logger *log.Logger
	now    func() time.Time
}

// NewGate wires the execution gate.
func NewGate(st store.Store, eng *simulation.Engine) *Gate {
	return &Gate{
		store:  st,
		engine: eng,
		logger: log.New(log.Writer(), "[EXEC] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Execute runs POST /v1/simulations/{id}/execute. Exactly one concurrent
// caller per simulation ever reaches the movement; everyone else gets a
// typed rejection.
func (g *Gate) Execute(ctx context.Context, tenantID, simulationID string) (*Result, error) {
	sim, err := g.store.GetSimulation(ctx, tenantID, simulationID)
	if err == store.ErrNotFound {
		return nil, apierr.New(apierr.CodeSimulationNotFound, "simulation not found").
			With("simulation_id", simulationID)
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "simulation lookup failed")
	}

	// Repeat calls are not errors: everyone observes the one result.
	if sim.Executed {
		return g.replay(ctx, tenantID, sim)
	}

	now := g.now().UTC()
	if now.After(sim.ExpiresAt) {
		return nil, apierr.New(apierr.CodeSimulationExpired, "simulation has expired").
			With("simulation_id", sim.ID).
			With("expired_at", sim.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if !sim.CanExecute {
		return nil, apierr.New(apierr.CodeSimulationCannotExecute, "simulation is not executable").
			With("simulation_id", sim.ID).
			With("errors", sim.Errors)
	}

	// Re-run the frozen payload against the live world and diff.
	fresh, err := g.resimulate(ctx, tenantID, sim)
	if err != nil {
		return nil, err
	}
	if !fresh.CanExecute {
		return nil, apierr.New(apierr.CodeSimulationStale, "conditions changed since simulation").
			With("simulation_id", sim.ID).
			With("original_preview", sim.Preview).
			With("current_preview", fresh.Preview).
			With("new_errors", fresh.Errors)
	}
	variance, driftErr := g.variance(sim, fresh)
	if driftErr != nil {
		return nil, driftErr.
			With("original_preview", sim.Preview).
			With("current_preview", fresh.Preview)
	}

	// Single-winner claim.
	won, err := g.store.ClaimSimulationExecution(ctx, tenantID, sim.ID)
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "execution claim failed")
	}
	if !won {
		latest, err := g.store.GetSimulation(ctx, tenantID, sim.ID)
		if err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "simulation lookup failed")
		}
		return g.replay(ctx, tenantID, latest)
	}

	res, err := g.move(ctx, tenantID, sim, fresh, now)
	if err != nil {
		if relErr := g.store.ReleaseSimulationExecution(ctx, tenantID, sim.ID); relErr != nil {
			g.logger.Printf("❌ claim release failed sim=%s: %v", sim.ID, relErr)
		}
		return nil, err
	}

	if err := g.store.SetSimulationResult(ctx, tenantID, sim.ID, res.ResultID, res.ResultType, variance); err != nil {
		g.logger.Printf("⚠️  result record failed sim=%s result=%s: %v", sim.ID, res.ResultID, err)
	}
	res.SimulationID = sim.ID
	res.Variance = variance
	res.Preview = fresh.Preview
	g.logger.Printf("✅ executed sim=%s result=%s type=%s variance=%s",
		sim.ID, res.ResultID, res.ResultType, variance.VarianceLevel)
	return res, nil
}

// replay returns the persisted outcome of an executed simulation. A caller
// that lost the claim race to a winner still mid-movement gets a retryable
// conflict instead; the result id does not exist yet.
func (g *Gate) replay(ctx context.Context, tenantID string, sim *domain.Simulation) (*Result, error) {
	if sim.ExecutionResultID == "" {
		return nil, apierr.New(apierr.CodeConcurrentModification, "execution is in flight").
			With("simulation_id", sim.ID)
	}
	res := &Result{
		SimulationID: sim.ID,
		ResultID:     sim.ExecutionResultID,
		ResultType:   sim.ExecutionResultType,
		Variance:     sim.Variance,
		Replayed:     true,
	}
	switch sim.ExecutionResultType {
	case "transfer", "stream":
		if t, err := g.store.GetTransfer(ctx, tenantID, sim.ExecutionResultID); err == nil {
			res.Entity = t
		}
	case "refund":
		if originalID, _ := sim.ActionPayload["transfer_id"].(string); originalID != "" {
			if refunds, err := g.store.ListRefundsByTransfer(ctx, tenantID, originalID); err == nil {
				for _, r := range refunds {
					if r.ID == sim.ExecutionResultID {
						res.Entity = r
						break
					}
				}
			}
		}
	}
	g.logger.Printf("↩️  replayed sim=%s result=%s type=%s", sim.ID, res.ResultID, res.ResultType)
	return res, nil
}

// resimulate replays the frozen payload through the engine without
// persisting a new simulation record.
func (g *Gate) resimulate(ctx context.Context, tenantID string, sim *domain.Simulation) (*simulation.Outcome, error) {
	raw, err := json.Marshal(sim.ActionPayload)
	if err != nil {
		return nil, apierr.New(apierr.CodeInternalError, "frozen payload is unreadable")
	}
	switch sim.ActionType {
	case domain.ActionTransfer:
		var req simulation.TransferRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, apierr.New(apierr.CodeInternalError, "frozen payload is unreadable")
		}
		return g.engine.RunTransfer(ctx, tenantID, req, nil)
	case domain.ActionRefund:
		var req simulation.RefundRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, apierr.New(apierr.CodeInternalError, "frozen payload is unreadable")
		}
		return g.engine.RunRefund(ctx, tenantID, req)
	case domain.ActionStream:
		var req simulation.StreamRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, apierr.New(apierr.CodeInternalError, "frozen payload is unreadable")
		}
		return g.engine.RunStream(ctx, tenantID, req)
	}
	return nil, apierr.Newf(apierr.CodeInvalidActionType, "action type %q is not executable", sim.ActionType)
}

// variance diffs the original preview against the fresh run. Drift beyond
// the thresholds rejects the execution; smaller drift is reported back.
func (g *Gate) variance(sim *domain.Simulation, fresh *simulation.Outcome) (*domain.Variance, *apierr.Error) {
	origFX, origFees := previewNumbers(sim.Preview)
	v := &domain.Variance{
		FXRateChange:            "0.00%",
		FeeChange:               "0.00",
		DestinationAmountChange: "0.00",
		TimingChange:            "none",
		VarianceLevel:           "low",
	}

	var fxDriftPct, feeDrift decimal.Decimal
	if !origFX.IsZero() && !fresh.FXRate.IsZero() {
		fxDriftPct = fresh.FXRate.Sub(origFX).Div(origFX).Mul(decimal.NewFromInt(100))
		v.FXRateChange = fxDriftPct.StringFixed(2) + "%"
	}
	feeDrift = fresh.TotalFees.Sub(origFees)
	v.FeeChange = feeDrift.StringFixed(2)

	if origDest := previewDestinationAmount(sim.Preview); !origDest.IsZero() {
		v.DestinationAmountChange = fresh.DestinationAmount.Sub(origDest).StringFixed(2)
	}

	if fxDriftPct.Abs().GreaterThan(maxFXDriftPct) {
		return nil, apierr.New(apierr.CodeSimulationFXVarianceExceeded, "FX rate moved more than 2% since simulation").
			With("fx_rate_change", v.FXRateChange)
	}
	feeCeiling := decimal.Max(maxFeeDriftAbs, origFees.Mul(maxFeeDriftPct))
	if feeDrift.Abs().GreaterThan(feeCeiling) {
		return nil, apierr.New(apierr.CodeSimulationFeeVariance, "fees moved beyond tolerance since simulation").
			With("fee_change", v.FeeChange).
			With("tolerance", feeCeiling.StringFixed(2))
	}

	if fxDriftPct.Abs().GreaterThan(medFXDriftPct) || feeDrift.Abs().GreaterThan(medFeeDrift) {
		v.VarianceLevel = "medium"
	}
	return v, nil
}

// move performs the actual balance movement for a claimed simulation.
func (g *Gate) move(ctx context.Context, tenantID string, sim *domain.Simulation, fresh *simulation.Outcome, now time.Time) (*Result, error) {
	switch sim.ActionType {
	case domain.ActionTransfer, domain.ActionStream:
		return g.moveTransfer(ctx, tenantID, sim, fresh, now)
	case domain.ActionRefund:
		return g.moveRefund(ctx, tenantID, sim, fresh, now)
	}
	return nil, apierr.Newf(apierr.CodeInvalidActionType, "action type %q is not executable", sim.ActionType)
}

func (g *Gate) moveTransfer(ctx context.Context, tenantID string, sim *domain.Simulation, fresh *simulation.Outcome, now time.Time) (*Result, error) {
	payload := sim.ActionPayload
	from, _ := payload["from_account"].(string)
	to, _ := payload["to_account"].(string)
	currency, _ := payload["currency"].(string)
	// The fresh run resolved the destination currency from the request or
	// the destination account's primary currency.
	destCurrency := fresh.DestinationCurrency
	if destCurrency == "" {
		destCurrency = currency
	}
	amountStr := amountFromPayload(sim, payload)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, apierr.New(apierr.CodeInternalError, "frozen payload is unreadable")
	}

	debit := amount.Add(fresh.TotalFees)
	if err := g.store.DebitAvailable(ctx, tenantID, from, currency, debit); err != nil {
		if err == store.ErrInsufficient {
			return nil, apierr.New(apierr.CodeInsufficientBalance, "balance changed since simulation").
				With("account_id", from).
				With("required", debit.StringFixed(2))
		}
		return nil, apierr.New(apierr.CodeDatabaseError, "debit failed")
	}

	if err := g.store.CreditAvailable(ctx, tenantID, to, destCurrency, fresh.DestinationAmount); err != nil {
		// Put the money back before reporting failure.
		if rbErr := g.store.CreditAvailable(ctx, tenantID, from, currency, debit); rbErr != nil {
			g.logger.Printf("❌ rollback credit failed account=%s amount=%s: %v", from, debit, rbErr)
		}
		return nil, apierr.New(apierr.CodeExecutionRollback, "destination credit failed; source restored").
			With("account_id", to)
	}

	status := domain.TransferProcessing
	var completedAt *time.Time
	if fresh.Rail == domain.RailInternal {
		status = domain.TransferCompleted
		completedAt = &now
	}
	transfer := &domain.Transfer{
		ID:          domain.NewID("tr"),
		TenantID:    tenantID,
		FromAccount: from,
		ToAccount:   to,
		Amount:      amount,
		Currency:    currency,
		Status:      status,
		Rail:        fresh.Rail,
		Fees:        feeBreakdown(fresh, currency),
		CreatedAt:   now,
		CompletedAt: completedAt,
	}
	if destCurrency != currency {
		transfer.DestinationCurrency = destCurrency
		rate := fresh.FXRate
		transfer.FXRate = &rate
	}
	if err := g.store.CreateTransfer(ctx, transfer); err != nil {
		if rbErr := g.store.CreditAvailable(ctx, tenantID, from, currency, debit); rbErr != nil {
			g.logger.Printf("❌ rollback credit failed account=%s amount=%s: %v", from, debit, rbErr)
		}
		if rbErr := g.store.DebitAvailable(ctx, tenantID, to, destCurrency, fresh.DestinationAmount); rbErr != nil {
			g.logger.Printf("❌ rollback debit failed account=%s amount=%s: %v", to, fresh.DestinationAmount, rbErr)
		}
		return nil, apierr.New(apierr.CodeExecutionRollback, "transfer record failed; balances restored")
	}

	resultType := "transfer"
	if sim.ActionType == domain.ActionStream {
		resultType = "stream"
	}
	return &Result{ResultID: transfer.ID, ResultType: resultType, Entity: transfer, Accounts: []string{from, to}}, nil
}

func (g *Gate) moveRefund(ctx context.Context, tenantID string, sim *domain.Simulation, fresh *simulation.Outcome, now time.Time) (*Result, error) {
	payload := sim.ActionPayload
	transferID, _ := payload["transfer_id"].(string)
	reason, _ := payload["reason"].(string)
	amountStr, _ := payload["amount"].(string)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, apierr.New(apierr.CodeInternalError, "frozen payload is unreadable")
	}

	original, err := g.store.GetTransfer(ctx, tenantID, transferID)
	if err != nil {
		return nil, apierr.New(apierr.CodeTransferNotFound, "original transfer not found").
			With("transfer_id", transferID)
	}

	if err := g.store.DebitAvailable(ctx, tenantID, original.ToAccount, original.Currency, amount); err != nil {
		if err == store.ErrInsufficient {
			return nil, apierr.New(apierr.CodeDestinationInsufficientBalance, "refund source balance changed since simulation").
				With("account_id", original.ToAccount)
		}
		return nil, apierr.New(apierr.CodeDatabaseError, "debit failed")
	}
	if err := g.store.CreditAvailable(ctx, tenantID, original.FromAccount, original.Currency, amount); err != nil {
		if rbErr := g.store.CreditAvailable(ctx, tenantID, original.ToAccount, original.Currency, amount); rbErr != nil {
			g.logger.Printf("❌ rollback credit failed account=%s amount=%s: %v", original.ToAccount, amount, rbErr)
		}
		return nil, apierr.New(apierr.CodeExecutionRollback, "refund credit failed; funds restored")
	}

	if reason == "" {
		reason = string(domain.RefundOther)
	}
	refund := &domain.Refund{
		ID:               domain.NewID("re"),
		TenantID:         tenantID,
		OriginalTransfer: original.ID,
		Amount:           amount,
		Currency:         original.Currency,
		Reason:           domain.RefundReason(reason),
		Status:           "completed",
		CreatedAt:        now,
	}
	// The capped insert re-checks the cumulative cap at movement time; a
	// refund that raced past the simulation check is rejected here.
	if err := g.store.CreateRefundCapped(ctx, refund); err != nil {
		if rbErr := g.store.DebitAvailable(ctx, tenantID, original.FromAccount, original.Currency, amount); rbErr != nil {
			g.logger.Printf("❌ rollback debit failed account=%s amount=%s: %v", original.FromAccount, amount, rbErr)
		}
		if rbErr := g.store.CreditAvailable(ctx, tenantID, original.ToAccount, original.Currency, amount); rbErr != nil {
			g.logger.Printf("❌ rollback credit failed account=%s amount=%s: %v", original.ToAccount, amount, rbErr)
		}
		if err == store.ErrConflict {
			return nil, apierr.New(apierr.CodeRefundExceedsAvailable, "refunds would exceed the original transfer").
				With("transfer_id", original.ID)
		}
		return nil, apierr.New(apierr.CodeExecutionRollback, "refund record failed; balances restored")
	}
	return &Result{ResultID: refund.ID, ResultType: "refund", Entity: refund,
		Accounts: []string{original.ToAccount, original.FromAccount}}, nil
}

// amountFromPayload resolves the principal for transfer and stream payloads.
func amountFromPayload(sim *domain.Simulation, payload map[string]interface{}) string {
	if sim.ActionType == domain.ActionStream {
		per, _ := payload["amount_per_interval"].(string)
		perD, err := decimal.NewFromString(per)
		if err != nil {
			return ""
		}
		return perD.Mul(decimal.NewFromInt(intField(payload, "total_intervals"))).String()
	}
	s, _ := payload["amount"].(string)
	return s
}

func feeBreakdown(fresh *simulation.Outcome, currency string) domain.FeeBreakdown {
	fb := domain.FeeBreakdown{Total: fresh.TotalFees, Currency: currency}
	if fresh.Preview != nil {
		if fees, ok := fresh.Preview["fees"].(map[string]interface{}); ok {
			fb.PlatformFee = decimalField(fees, "platform_fee")
			fb.FXFee = decimalField(fees, "fx_fee")
			fb.RailFee = decimalField(fees, "rail_fee")
		}
	}
	return fb
}

// intField reads a numeric payload field whether it was frozen in-process
// (int) or round-tripped through JSON (float64).
func intField(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func decimalField(m map[string]interface{}, key string) decimal.Decimal {
	s, _ := m[key].(string)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// previewNumbers pulls the frozen FX rate and total fees out of a preview.
func previewNumbers(preview map[string]interface{}) (fx, fees decimal.Decimal) {
	if preview == nil {
		return decimal.Zero, decimal.Zero
	}
	if fxm, ok := preview["fx"].(map[string]interface{}); ok {
		fx = decimalField(fxm, "rate")
	}
	if fm, ok := preview["fees"].(map[string]interface{}); ok {
		fees = decimalField(fm, "total")
	}
	return fx, fees
}

func previewDestinationAmount(preview map[string]interface{}) decimal.Decimal {
	if preview == nil {
		return decimal.Zero
	}
	if dm, ok := preview["destination"].(map[string]interface{}); ok {
		return decimalField(dm, "amount")
	}
	return decimal.Zero
}
