// Package simulation implements the dry-run engine: every payment action can
// be previewed with fees, FX, timing, warnings and eligibility errors before
// any real state changes. Previews are immutable, expire after an hour, and
// are re-validated by the execution gate.
package simulation

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/config"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/store"
)

// ComplianceChecker screens a proposed movement. The sandbox checker allows
// everything; the production integration sits behind the same interface.
type ComplianceChecker interface {
	Screen(ctx context.Context, tenantID string, from, to *domain.Account, amount decimal.Decimal, currency string) []domain.SimError
}

// AllowAll is the mock-mode compliance checker.
type AllowAll struct{}

// Screen never blocks.
func (AllowAll) Screen(context.Context, string, *domain.Account, *domain.Account, decimal.Decimal, string) []domain.SimError {
	return nil
}

// TransferRequest is the payload for a transfer simulation.
type TransferRequest struct {
	FromAccount         string `json:"from_account"`
	ToAccount           string `json:"to_account"`
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	DestinationCurrency string `json:"destination_currency,omitempty"`
}

// RefundRequest is the payload for a refund simulation.
type RefundRequest struct {
	TransferID string `json:"transfer_id"`
	Amount     string `json:"amount"`
	Reason     string `json:"reason,omitempty"`
}

// StreamRequest is the payload for a stream simulation. Stream execution
// semantics beyond the preview shape are still being specified upstream;
// the preview mirrors the transfer contract.
type StreamRequest struct {
	FromAccount       string `json:"from_account"`
	ToAccount         string `json:"to_account"`
	AmountPerInterval string `json:"amount_per_interval"`
	Currency          string `json:"currency"`
	IntervalSeconds   int    `json:"interval_seconds"`
	TotalIntervals    int    `json:"total_intervals"`
}

// Request is the union input for POST /v1/simulate.
type Request struct {
	ActionType domain.ActionType `json:"action_type"`
	Transfer   *TransferRequest  `json:"transfer,omitempty"`
	Refund     *RefundRequest    `json:"refund,omitempty"`
	Stream     *StreamRequest    `json:"stream,omitempty"`
}

// Outcome is the in-memory result of running one simulation pass. The gate
// re-runs simulations and diffs Outcomes to compute variance.
type Outcome struct {
	CanExecute          bool
	Preview             map[string]interface{}
	Warnings            []domain.Warning
	Errors              []domain.SimError
	FXRate              decimal.Decimal
	TotalFees           decimal.Decimal
	Rail                domain.Rail
	DurationSeconds     int
	DestinationAmount   decimal.Decimal
	DestinationCurrency string
}

// Engine runs simulations. It never creates transfers and never contacts a
// rail: the only side effect is persisting the simulation record itself.
type Engine struct {
	store      store.Store
	cfg        *config.Config
	fx         *FXTable
	compliance ComplianceChecker
	logger     *log.Logger
	now        func() time.Time
}

// NewEngine wires the simulation engine.
func NewEngine(st store.Store, cfg *config.Config, fx *FXTable, cc ComplianceChecker) *Engine {
	if cc == nil {
		cc = AllowAll{}
	}
	return &Engine{
		store:      st,
		cfg:        cfg,
		fx:         fx,
		compliance: cc,
		logger:     log.New(log.Writer(), "[SIM] ", log.LstdFlags),
		now:        time.Now,
	}
}

// Simulate runs and persists a simulation for any action type.
func (e *Engine) Simulate(ctx context.Context, tenantID string, req Request) (*domain.Simulation, error) {
	var (
		out     *Outcome
		payload map[string]interface{}
		err     error
	)

	switch req.ActionType {
	case domain.ActionTransfer:
		if req.Transfer == nil {
			return nil, apierr.New(apierr.CodeMissingRequiredField, "transfer payload is required").With("field", "transfer")
		}
		out, err = e.RunTransfer(ctx, tenantID, *req.Transfer, nil)
		payload = transferPayload(*req.Transfer)
	case domain.ActionRefund:
		if req.Refund == nil {
			return nil, apierr.New(apierr.CodeMissingRequiredField, "refund payload is required").With("field", "refund")
		}
		out, err = e.RunRefund(ctx, tenantID, *req.Refund)
		payload = refundPayload(*req.Refund)
	case domain.ActionStream:
		if req.Stream == nil {
			return nil, apierr.New(apierr.CodeMissingRequiredField, "stream payload is required").With("field", "stream")
		}
		out, err = e.RunStream(ctx, tenantID, *req.Stream)
		payload = streamPayload(*req.Stream)
	default:
		return nil, apierr.Newf(apierr.CodeInvalidActionType, "unknown action_type %q", req.ActionType).
			With("action_type", string(req.ActionType))
	}
	if err != nil {
		return nil, err
	}

	sim := e.persist(ctx, tenantID, req.ActionType, payload, out)
	return sim, nil
}

// persist freezes an outcome into an immutable simulation record.
func (e *Engine) persist(ctx context.Context, tenantID string, action domain.ActionType, payload map[string]interface{}, out *Outcome) *domain.Simulation {
	now := e.now().UTC()
	status := domain.SimulationCompleted
	if !out.CanExecute {
		status = domain.SimulationFailed
	}
	sim := &domain.Simulation{
		ID:            domain.NewID("sim"),
		TenantID:      tenantID,
		ActionType:    action,
		ActionPayload: payload,
		Status:        status,
		CanExecute:    out.CanExecute,
		Preview:       out.Preview,
		Warnings:      nonNilWarnings(out.Warnings),
		Errors:        nonNilErrors(out.Errors),
		CreatedAt:     now,
		ExpiresAt:     now.Add(domain.SimulationTTL),
	}
	if err := e.store.CreateSimulation(ctx, sim); err != nil {
		e.logger.Printf("⚠️  persist simulation failed: %v", err)
	}
	return sim
}

// BalanceView lets the batch processor feed memoized, cumulatively-adjusted
// balances and limit usage into the per-item transfer algorithm. nil means
// read-through.
type BalanceView struct {
	Accounts map[string]*domain.Account
	// Usage holds daily/monthly spent (USD equivalent) per source account,
	// loaded once per batch and bumped as items pass.
	Usage map[string]*UsageView
}

// UsageView is the memoized limit consumption for one source account.
type UsageView struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

func (e *Engine) resolveAccount(ctx context.Context, tenantID, id string, view *BalanceView) (*domain.Account, error) {
	if view != nil {
		if a, ok := view.Accounts[id]; ok {
			return a, nil
		}
		return nil, store.ErrNotFound
	}
	return e.store.GetAccount(ctx, tenantID, id)
}

// RunTransfer executes the transfer-simulation algorithm. It appends
// terminal errors rather than returning them so partial previews survive;
// a returned error means the request itself was malformed.
func (e *Engine) RunTransfer(ctx context.Context, tenantID string, req TransferRequest, view *BalanceView) (*Outcome, error) {
	amount, aerr := parseAmount(req.Amount)
	if aerr != nil {
		return nil, aerr
	}
	if req.FromAccount == "" || req.ToAccount == "" {
		return nil, apierr.New(apierr.CodeMissingRequiredField, "from_account and to_account are required")
	}
	if req.Currency == "" {
		return nil, apierr.New(apierr.CodeMissingRequiredField, "currency is required")
	}

	out := &Outcome{CanExecute: true}
	now := e.now().UTC()

	from, err := e.resolveAccount(ctx, tenantID, req.FromAccount, view)
	switch {
	case err == store.ErrNotFound:
		out.fail(string(apierr.CodeAccountNotFound), "source account not found",
			map[string]interface{}{"account_id": req.FromAccount, "side": "source"})
	case err != nil:
		return nil, apierr.New(apierr.CodeDatabaseError, "account lookup failed")
	case from.Status == domain.AccountSuspended:
		out.fail(string(apierr.CodeAccountSuspended), "source account is suspended",
			map[string]interface{}{"account_id": from.ID, "side": "source"})
	case from.Status == domain.AccountClosed:
		out.fail(string(apierr.CodeAccountClosed), "source account is closed",
			map[string]interface{}{"account_id": from.ID, "side": "source"})
	}

	to, err := e.resolveAccount(ctx, tenantID, req.ToAccount, view)
	switch {
	case err == store.ErrNotFound:
		out.fail(string(apierr.CodeAccountNotFound), "destination account not found",
			map[string]interface{}{"account_id": req.ToAccount, "side": "destination"})
	case err != nil:
		return nil, apierr.New(apierr.CodeDatabaseError, "account lookup failed")
	case to.Status == domain.AccountSuspended:
		out.fail(string(apierr.CodeDestinationAccountSuspended), "destination account is suspended",
			map[string]interface{}{"account_id": to.ID, "side": "destination"})
	case to.Status == domain.AccountClosed:
		out.fail(string(apierr.CodeAccountClosed), "destination account is closed",
			map[string]interface{}{"account_id": to.ID, "side": "destination"})
	}

	if from == nil || to == nil {
		return out, nil
	}

	destCurrency := req.DestinationCurrency
	if destCurrency == "" {
		destCurrency = to.Currency
	}
	if destCurrency == "" {
		destCurrency = req.Currency
	}

	// FX leg.
	var fxRate, effectiveRate decimal.Decimal
	crossCurrency := destCurrency != req.Currency
	if crossCurrency {
		rate, ok := e.fx.Rate(req.Currency, destCurrency)
		if !ok {
			out.fail(string(apierr.CodeUnsupportedCurrency), "no FX rate for corridor",
				map[string]interface{}{"from_currency": req.Currency, "to_currency": destCurrency})
			return out, nil
		}
		fxRate = rate
		effectiveRate = rate.Mul(decimal.NewFromInt(1).Sub(Spread(destCurrency)))
		if recent, ok := e.fx.Recent(req.Currency, destCurrency); ok && rate.LessThan(recent) {
			drop := recent.Sub(rate).Div(recent).Mul(hundred)
			if drop.GreaterThan(decimal.NewFromInt(1)) {
				out.warn("FX_RATE_WORSE_THAN_RECENT", "current rate is worse than recently observed",
					map[string]interface{}{
						"current_rate": rate.String(),
						"recent_rate":  recent.String(),
						"change_pct":   drop.StringFixed(2),
					})
			}
		}
		e.fx.RecordRecent(req.Currency, destCurrency, rate)
		out.FXRate = fxRate
	}

	// Fees, all in source currency.
	platformFee := amount.Mul(platformFeeRate).Round(2)
	fxFee := decimal.Zero
	if from.Currency != to.Currency || crossCurrency {
		fxFee = amount.Mul(crossBorderFeeRate).Round(2)
	}
	railFee := CorridorFlatFee(e.cfg, destCurrency)
	if !crossCurrency {
		railFee = decimal.Zero
	}
	totalFees := platformFee.Add(fxFee).Add(railFee)
	out.TotalFees = totalFees

	// Rail & timing.
	rail, duration := SelectRail(req.Currency, destCurrency)
	out.Rail = rail
	out.DurationSeconds = duration
	if RailMaintenance(rail, now) {
		out.warn("RAIL_MAINTENANCE_WINDOW", "destination rail is in its maintenance window; settlement will queue",
			map[string]interface{}{"rail": string(rail), "window_utc": "22:00-06:00"})
	}
	if RailWeekendDelay(rail, now) {
		out.warn("RAIL_WEEKEND_DELAY", "destination rail settles slower on weekends",
			map[string]interface{}{"rail": string(rail)})
	}

	// Limits against the verification tier, measured in USD equivalent.
	usdAmount := e.usdEquivalent(amount, req.Currency)
	perTx, daily, monthly := TierCaps(e.cfg, from.VerificationTier)
	var dailyUsed, monthlyUsed decimal.Decimal
	if view != nil {
		if u, ok := view.Usage[from.ID]; ok {
			dailyUsed, monthlyUsed = u.Daily, u.Monthly
		}
	} else {
		dailyUsed, monthlyUsed = e.usedAmounts(ctx, tenantID, from.ID, now)
	}
	switch {
	case usdAmount.GreaterThan(perTx):
		out.fail(string(apierr.CodeLimitExceeded), "per-transaction limit exceeded",
			limitDetails("per_transaction", perTx, decimal.Zero, perTx, from.VerificationTier))
	case dailyUsed.Add(usdAmount).GreaterThan(daily):
		out.fail(string(apierr.CodeLimitExceeded), "daily limit exceeded",
			limitDetails("daily", daily, dailyUsed, daily.Sub(dailyUsed), from.VerificationTier))
	case monthlyUsed.Add(usdAmount).GreaterThan(monthly):
		out.fail(string(apierr.CodeLimitExceeded), "monthly limit exceeded",
			limitDetails("monthly", monthly, monthlyUsed, monthly.Sub(monthlyUsed), from.VerificationTier))
	default:
		if daily.IsPositive() && dailyUsed.Add(usdAmount).Div(daily).GreaterThan(decimal.RequireFromString("0.8")) {
			out.warn("APPROACHING_DAILY_LIMIT", "over 80% of the daily limit will be used",
				map[string]interface{}{"used": dailyUsed.Add(usdAmount).StringFixed(2), "cap": daily.StringFixed(2)})
		}
		if monthly.IsPositive() && monthlyUsed.Add(usdAmount).Div(monthly).GreaterThan(decimal.RequireFromString("0.8")) {
			out.warn("APPROACHING_MONTHLY_LIMIT", "over 80% of the monthly limit will be used",
				map[string]interface{}{"used": monthlyUsed.Add(usdAmount).StringFixed(2), "cap": monthly.StringFixed(2)})
		}
	}

	// Balance check. The shortfall is against the principal; fees that would
	// overdraw surface as a warning, not a terminal error.
	balanceBefore := from.Balances[req.Currency].Available
	if balanceBefore.LessThan(amount) {
		out.fail(string(apierr.CodeInsufficientBalance), "insufficient balance",
			map[string]interface{}{
				"account_id": from.ID,
				"available":  balanceBefore.StringFixed(2),
				"requested":  amount.StringFixed(2),
				"shortfall":  amount.Sub(balanceBefore).StringFixed(2),
				"currency":   req.Currency,
			})
	} else if balanceBefore.LessThan(amount.Add(totalFees)) {
		out.warn("FEES_MAY_OVERDRAW", "balance covers the amount but not the fees",
			map[string]interface{}{
				"available": balanceBefore.StringFixed(2),
				"required":  amount.Add(totalFees).StringFixed(2),
			})
	}

	balanceAfter := balanceBefore.Sub(amount).Sub(totalFees)
	if out.CanExecute && balanceAfter.LessThan(hundred) && balanceAfter.GreaterThanOrEqual(decimal.Zero) {
		out.warn("LOW_BALANCE_AFTER", "balance will drop below $100 after this transfer",
			map[string]interface{}{"balance_after": balanceAfter.StringFixed(2)})
	}
	if usdAmount.GreaterThan(decimal.NewFromInt(10000)) {
		out.warn("LARGE_TRANSFER", "transfer exceeds $10,000",
			map[string]interface{}{"amount_usd": usdAmount.StringFixed(2)})
	}
	if from.Type == domain.AccountBusiness && from.VerificationTier < 2 && usdAmount.GreaterThan(decimal.NewFromInt(1000)) {
		out.warn("KYB_UPGRADE_RECOMMENDED", "complete business verification to raise limits and reduce review friction",
			map[string]interface{}{"current_tier": from.VerificationTier})
	}

	// Compliance screening; high/critical findings are terminal.
	for _, finding := range e.compliance.Screen(ctx, tenantID, from, to, amount, req.Currency) {
		out.Errors = append(out.Errors, finding)
		out.CanExecute = false
	}

	// Destination amount.
	destAmount := amount
	if crossCurrency {
		destAmount = amount.Mul(effectiveRate).Round(2)
	}
	out.DestinationAmount = destAmount
	out.DestinationCurrency = destCurrency

	// Preview.
	preview := map[string]interface{}{
		"source": map[string]interface{}{
			"account_id":     from.ID,
			"currency":       req.Currency,
			"balance_before": balanceBefore.StringFixed(2),
			"balance_after":  balanceAfter.StringFixed(2),
		},
		"destination": map[string]interface{}{
			"account_id": to.ID,
			"currency":   destCurrency,
			"amount":     destAmount.StringFixed(2),
		},
		"fees": map[string]interface{}{
			"platform_fee": platformFee.StringFixed(2),
			"fx_fee":       fxFee.StringFixed(2),
			"rail_fee":     railFee.StringFixed(2),
			"total":        totalFees.StringFixed(2),
			"currency":     req.Currency,
		},
		"timing": map[string]interface{}{
			"rail":                       string(rail),
			"estimated_duration_seconds": duration,
			"estimated_arrival":          now.Add(time.Duration(duration) * time.Second).Format(time.RFC3339),
		},
	}
	if crossCurrency {
		preview["fx"] = map[string]interface{}{
			"rate":        fxRate.String(),
			"spread":      SpreadPercent(destCurrency),
			"rate_locked": false,
		}
	}
	out.Preview = preview
	return out, nil
}

// RunStream previews a recurring stream. Shape mirrors the transfer
// contract; only the platform fee applies and settlement is internal.
func (e *Engine) RunStream(ctx context.Context, tenantID string, req StreamRequest) (*Outcome, error) {
	if req.IntervalSeconds <= 0 || req.TotalIntervals <= 0 {
		return nil, apierr.New(apierr.CodeValidationError, "interval_seconds and total_intervals must be positive")
	}
	perInterval, aerr := parseAmount(req.AmountPerInterval)
	if aerr != nil {
		return nil, aerr
	}
	total := perInterval.Mul(decimal.NewFromInt(int64(req.TotalIntervals)))

	// A stream previews as a transfer of its total commitment on the
	// internal rail, plus runway projections.
	out, err := e.RunTransfer(ctx, tenantID, TransferRequest{
		FromAccount: req.FromAccount,
		ToAccount:   req.ToAccount,
		Amount:      total.String(),
		Currency:    req.Currency,
	}, nil)
	if err != nil {
		return nil, err
	}
	if out.Preview != nil {
		out.Preview["stream"] = map[string]interface{}{
			"amount_per_interval": perInterval.StringFixed(2),
			"interval_seconds":    req.IntervalSeconds,
			"total_intervals":     req.TotalIntervals,
			"total_committed":     total.StringFixed(2),
			"runway_seconds":      req.IntervalSeconds * req.TotalIntervals,
		}
	}
	return out, nil
}

// usedAmounts sums outbound transfer volume (USD equivalent) since UTC
// midnight and month start. Failed and cancelled transfers do not count.
func (e *Engine) usedAmounts(ctx context.Context, tenantID, accountID string, now time.Time) (daily, monthly decimal.Decimal) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	transfers, err := e.store.ListTransfersByAccount(ctx, tenantID, accountID, monthStart, 0)
	if err != nil {
		return decimal.Zero, decimal.Zero
	}
	for _, t := range transfers {
		if t.FromAccount != accountID {
			continue
		}
		if t.Status == domain.TransferFailed || t.Status == domain.TransferCancelled {
			continue
		}
		usd := e.usdEquivalent(t.Amount, t.Currency)
		monthly = monthly.Add(usd)
		if !t.CreatedAt.Before(dayStart) {
			daily = daily.Add(usd)
		}
	}
	return daily, monthly
}

func (e *Engine) usdEquivalent(amount decimal.Decimal, currency string) decimal.Decimal {
	if currency == "USD" || currency == "USDC" {
		return amount
	}
	rate, ok := e.fx.Rate(currency, "USD")
	if !ok {
		return amount
	}
	return amount.Mul(rate).Round(2)
}

func limitDetails(kind string, cap, used, remaining decimal.Decimal, tier int) map[string]interface{} {
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return map[string]interface{}{
		"kind":      kind,
		"cap":       cap.StringFixed(2),
		"used":      used.StringFixed(2),
		"remaining": remaining.StringFixed(2),
		"tier":      tier,
	}
}

func parseAmount(s string) (decimal.Decimal, *apierr.Error) {
	if s == "" {
		return decimal.Zero, apierr.New(apierr.CodeMissingRequiredField, "amount is required").With("field", "amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apierr.Newf(apierr.CodeInvalidDecimalFormat, "amount %q is not a decimal string", s).
			With("amount", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, apierr.New(apierr.CodeInvalidAmount, "amount must be positive").With("amount", s)
	}
	return d, nil
}

func (o *Outcome) warn(code, msg string, details map[string]interface{}) {
	o.Warnings = append(o.Warnings, domain.Warning{Code: code, Message: msg, Details: details})
}

func (o *Outcome) fail(code, msg string, details map[string]interface{}) {
	o.Errors = append(o.Errors, domain.SimError{Code: code, Message: msg, Details: details})
	o.CanExecute = false
}

func transferPayload(r TransferRequest) map[string]interface{} {
	p := map[string]interface{}{
		"from_account": r.FromAccount,
		"to_account":   r.ToAccount,
		"amount":       r.Amount,
		"currency":     r.Currency,
	}
	if r.DestinationCurrency != "" {
		p["destination_currency"] = r.DestinationCurrency
	}
	return p
}

func refundPayload(r RefundRequest) map[string]interface{} {
	p := map[string]interface{}{
		"transfer_id": r.TransferID,
		"amount":      r.Amount,
	}
	if r.Reason != "" {
		p["reason"] = r.Reason
	}
	return p
}

func streamPayload(r StreamRequest) map[string]interface{} {
	return map[string]interface{}{
		"from_account":        r.FromAccount,
		"to_account":          r.ToAccount,
		"amount_per_interval": r.AmountPerInterval,
		"currency":            r.Currency,
		"interval_seconds":    r.IntervalSeconds,
		"total_intervals":     r.TotalIntervals,
	}
}

func nonNilWarnings(w []domain.Warning) []domain.Warning {
	if w == nil {
		return []domain.Warning{}
	}
	return w
}

func nonNilErrors(e []domain.SimError) []domain.SimError {
	if e == nil {
		return []domain.SimError{}
	}
	return e
}
