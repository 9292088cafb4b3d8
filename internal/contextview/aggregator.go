package contextview

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/store"
)

const recentWindow = 30 * 24 * time.Hour

// Aggregator assembles the 360° views. Sub-queries fan out concurrently;
// a failed sub-query drops its section and flags the response partial
// instead of failing the whole view. The root entity is the exception: a
// missing root is a hard NOT_FOUND.
type Aggregator struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

// NewAggregator wires the aggregator.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{
		store:  st,
		logger: log.New(log.Writer(), "[CTX360] ", log.LstdFlags),
		now:    time.Now,
	}
}

// AccountContext renders GET /v1/context/accounts/{id}.
func (a *Aggregator) AccountContext(ctx context.Context, tenantID, accountID string) (map[string]interface{}, bool, error) {
	account, err := a.store.GetAccount(ctx, tenantID, accountID)
	if err == store.ErrNotFound {
		return nil, false, apierr.New(apierr.CodeAccountNotFound, "account not found").With("account_id", accountID)
	}
	if err != nil {
		return nil, false, apierr.New(apierr.CodeDatabaseError, "account lookup failed")
	}

	// Each goroutine owns exactly one result-and-flag pair; the shared
	// partial verdict is derived only after Wait.
	var (
		transfers       []*domain.Transfer
		agents          []*domain.Agent
		transfersFailed bool
		agentsFailed    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ts, err := a.store.ListTransfersByAccount(gctx, tenantID, accountID, a.now().Add(-recentWindow), 20)
		if err != nil {
			a.logger.Printf("⚠️  transfers section failed account=%s: %v", accountID, err)
			transfersFailed = true
			return nil
		}
		transfers = ts
		return nil
	})
	g.Go(func() error {
		as, err := a.store.ListAgentsByParent(gctx, tenantID, accountID)
		if err != nil {
			a.logger.Printf("⚠️  agents section failed account=%s: %v", accountID, err)
			agentsFailed = true
			return nil
		}
		agents = as
		return nil
	})
	_ = g.Wait()
	partial := transfersFailed || agentsFailed

	view := map[string]interface{}{
		"account":  accountSummary(account),
		"balances": account.Balances,
	}
	if !transfersFailed {
		view["recent_transfers"] = transferSummaries(transfers, accountID)
	}
	if !agentsFailed {
		view["agents"] = agentSummaries(agents)
	}
	view["risk"] = accountRisk(account, agents)
	view["available_actions"] = accountActions(account)
	return view, partial, nil
}

// TransferContext renders GET /v1/context/transfers/{id}.
func (a *Aggregator) TransferContext(ctx context.Context, tenantID, transferID string) (map[string]interface{}, bool, error) {
	transfer, err := a.store.GetTransfer(ctx, tenantID, transferID)
	if err == store.ErrNotFound {
		return nil, false, apierr.New(apierr.CodeTransferNotFound, "transfer not found").With("transfer_id", transferID)
	}
	if err != nil {
		return nil, false, apierr.New(apierr.CodeDatabaseError, "transfer lookup failed")
	}

	var (
		refunds       []*domain.Refund
		from, to      *domain.Account
		refundsFailed bool
		partiesFailed bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := a.store.ListRefundsByTransfer(gctx, tenantID, transferID)
		if err != nil && err != store.ErrNotFound {
			a.logger.Printf("⚠️  refunds section failed transfer=%s: %v", transferID, err)
			refundsFailed = true
			return nil
		}
		refunds = rs
		return nil
	})
	g.Go(func() error {
		accounts, err := a.store.GetAccounts(gctx, tenantID, []string{transfer.FromAccount, transfer.ToAccount})
		if err != nil {
			a.logger.Printf("⚠️  parties section failed transfer=%s: %v", transferID, err)
			partiesFailed = true
			return nil
		}
		from = accounts[transfer.FromAccount]
		to = accounts[transfer.ToAccount]
		return nil
	})
	_ = g.Wait()
	partial := refundsFailed || partiesFailed

	refunded := decimal.Zero
	refundViews := make([]map[string]interface{}, 0, len(refunds))
	for _, r := range refunds {
		if r.Status != "failed" {
			refunded = refunded.Add(r.Amount)
		}
		refundViews = append(refundViews, map[string]interface{}{
			"id":         r.ID,
			"amount":     r.Amount.StringFixed(2),
			"reason":     string(r.Reason),
			"status":     r.Status,
			"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	view := map[string]interface{}{
		"transfer": transferDetail(transfer),
		"refunds": map[string]interface{}{
			"items":           refundViews,
			"total_refunded":  refunded.StringFixed(2),
			"refundable_left": transfer.Amount.Sub(refunded).StringFixed(2),
		},
		"timeline": transferTimeline(transfer),
	}
	if from != nil {
		view["source_account"] = accountSummary(from)
	}
	if to != nil {
		view["destination_account"] = accountSummary(to)
	}
	view["available_actions"] = a.transferActions(transfer, refunded)
	return view, partial, nil
}

// AgentContext renders GET /v1/context/agents/{id}.
func (a *Aggregator) AgentContext(ctx context.Context, tenantID, agentID string) (map[string]interface{}, bool, error) {
	agent, err := a.store.GetAgent(ctx, tenantID, agentID)
	if err == store.ErrNotFound {
		return nil, false, apierr.New(apierr.CodeAgentNotFound, "agent not found").With("agent_id", agentID)
	}
	if err != nil {
		return nil, false, apierr.New(apierr.CodeDatabaseError, "agent lookup failed")
	}

	var (
		parent         *domain.Account
		transfers      []*domain.Transfer
		parentFailed   bool
		spendingFailed bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := a.store.GetAccount(gctx, tenantID, agent.ParentAccount)
		if err != nil {
			a.logger.Printf("⚠️  parent section failed agent=%s: %v", agentID, err)
			parentFailed = true
			return nil
		}
		parent = p
		return nil
	})
	g.Go(func() error {
		ts, err := a.store.ListTransfersByAccount(gctx, tenantID, agent.ParentAccount, a.now().Add(-recentWindow), 0)
		if err != nil {
			a.logger.Printf("⚠️  spending section failed agent=%s: %v", agentID, err)
			spendingFailed = true
			return nil
		}
		transfers = ts
		return nil
	})
	_ = g.Wait()
	partial := parentFailed || spendingFailed

	// Spending rolls up only this agent's transfers.
	now := a.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	daily, monthly := decimal.Zero, decimal.Zero
	agentTransfers := make([]map[string]interface{}, 0)
	for _, t := range transfers {
		if t.AgentID != agent.ID || t.Status == domain.TransferFailed || t.Status == domain.TransferCancelled {
			continue
		}
		monthly = monthly.Add(t.Amount)
		if !t.CreatedAt.Before(dayStart) {
			daily = daily.Add(t.Amount)
		}
		if !t.CreatedAt.Before(monthStart) && len(agentTransfers) < 20 {
			agentTransfers = append(agentTransfers, transferSummary(t, agent.ParentAccount))
		}
	}

	view := map[string]interface{}{
		"agent": map[string]interface{}{
			"id":             agent.ID,
			"name":           agent.Name,
			"status":         string(agent.Status),
			"kya_tier":       agent.KYATier,
			"parent_account": agent.ParentAccount,
			"active_streams": agent.ActiveStreams,
			"created_at":     agent.CreatedAt.UTC().Format(time.RFC3339),
		},
		"policy": agent.Policy,
		"spending": map[string]interface{}{
			"daily_spent":       daily.StringFixed(2),
			"daily_remaining":   capRemaining(agent.Policy.DailyCap, daily),
			"monthly_spent":     monthly.StringFixed(2),
			"monthly_remaining": capRemaining(agent.Policy.MonthlyCap, monthly),
		},
		"recent_transfers": agentTransfers,
	}
	if parent != nil {
		view["parent_account"] = accountSummary(parent)
	}
	view["available_actions"] = agentActions(agent, daily, monthly)
	return view, partial, nil
}

// BatchContext renders GET /v1/context/batches/{id} from the stored snapshot.
func (a *Aggregator) BatchContext(ctx context.Context, tenantID, batchID string) ([]byte, error) {
	snapshot, err := a.store.GetBatchSnapshot(ctx, tenantID, batchID)
	if err == store.ErrNotFound {
		return nil, apierr.New(apierr.CodeBatchNotFound, "batch not found").With("batch_id", batchID)
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "batch lookup failed")
	}
	return snapshot, nil
}

func accountSummary(a *domain.Account) map[string]interface{} {
	return map[string]interface{}{
		"id":                a.ID,
		"name":              a.Name,
		"type":              string(a.Type),
		"status":            string(a.Status),
		"verification_tier": a.VerificationTier,
		"currency":          a.Currency,
	}
}

func transferDetail(t *domain.Transfer) map[string]interface{} {
	d := transferSummary(t, "")
	d["fees"] = map[string]interface{}{
		"platform_fee": t.Fees.PlatformFee.StringFixed(2),
		"fx_fee":       t.Fees.FXFee.StringFixed(2),
		"rail_fee":     t.Fees.RailFee.StringFixed(2),
		"total":        t.Fees.Total.StringFixed(2),
		"currency":     t.Fees.Currency,
	}
	if t.FXRate != nil {
		d["fx_rate"] = t.FXRate.String()
	}
	if t.AgentID != "" {
		d["agent_id"] = t.AgentID
	}
	return d
}

func transferSummary(t *domain.Transfer, viewpoint string) map[string]interface{} {
	s := map[string]interface{}{
		"id":           t.ID,
		"from_account": t.FromAccount,
		"to_account":   t.ToAccount,
		"amount":       t.Amount.StringFixed(2),
		"currency":     t.Currency,
		"status":       string(t.Status),
		"rail":         string(t.Rail),
		"created_at":   t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if viewpoint != "" {
		direction := "outbound"
		if t.ToAccount == viewpoint {
			direction = "inbound"
		}
		s["direction"] = direction
	}
	return s
}

func transferSummaries(ts []*domain.Transfer, viewpoint string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(ts))
	for _, t := range ts {
		out = append(out, transferSummary(t, viewpoint))
	}
	return out
}

func agentSummaries(as []*domain.Agent) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(as))
	for _, a := range as {
		out = append(out, map[string]interface{}{
			"id":             a.ID,
			"name":           a.Name,
			"status":         string(a.Status),
			"kya_tier":       a.KYATier,
			"active_streams": a.ActiveStreams,
		})
	}
	return out
}

func transferTimeline(t *domain.Transfer) []map[string]interface{} {
	timeline := []map[string]interface{}{
		{"event": "created", "at": t.CreatedAt.UTC().Format(time.RFC3339)},
	}
	if t.CompletedAt != nil {
		event := "completed"
		if t.Status == domain.TransferFailed {
			event = "failed"
		}
		timeline = append(timeline, map[string]interface{}{
			"event": event, "at": t.CompletedAt.UTC().Format(time.RFC3339),
		})
	}
	return timeline
}

// accountRisk derives advisory flags from the account and its agent fleet.
// Flags are informational; enforcement lives in the simulators. The level is
// a pure function of the flag count: 0 low, 1-2 medium, 3+ high.
func accountRisk(account *domain.Account, agents []*domain.Agent) map[string]interface{} {
	flags := []string{}
	if account.Status == domain.AccountSuspended {
		flags = append(flags, "account_suspended")
	}
	if account.VerificationTier < 2 {
		flags = append(flags, "low_verification_tier")
	}
	if len(agents) > 10 {
		flags = append(flags, "high_agent_count")
	}
	level := "low"
	switch {
	case len(flags) >= 3:
		level = "high"
	case len(flags) >= 1:
		level = "medium"
	}
	return map[string]interface{}{"level": level, "flags": flags}
}

func accountActions(a *domain.Account) []map[string]interface{} {
	if a.Status != domain.AccountActive {
		return []map[string]interface{}{
			{"action": "contact_support", "reason": "account is " + string(a.Status)},
		}
	}
	actions := []map[string]interface{}{
		{"action": "simulate_transfer", "method": "POST", "path": "/v1/simulate"},
		{"action": "view_capabilities", "method": "GET", "path": "/v1/capabilities"},
	}
	if a.Type == domain.AccountBusiness {
		actions = append(actions, map[string]interface{}{
			"action": "create_agent", "method": "POST", "path": "/v1/agents",
		})
	}
	return actions
}

func (a *Aggregator) transferActions(t *domain.Transfer, refunded decimal.Decimal) []map[string]interface{} {
	actions := []map[string]interface{}{}
	if t.Status == domain.TransferCompleted {
		completedAt := t.CreatedAt
		if t.CompletedAt != nil {
			completedAt = *t.CompletedAt
		}
		inWindow := a.now().UTC().Before(completedAt.Add(domain.RefundWindowDays * 24 * time.Hour))
		if inWindow && refunded.LessThan(t.Amount) {
			actions = append(actions, map[string]interface{}{
				"action":         "simulate_refund",
				"method":         "POST",
				"path":           "/v1/simulate",
				"max_refundable": t.Amount.Sub(refunded).StringFixed(2),
			})
		}
	}
	if t.Status == domain.TransferPending {
		actions = append(actions, map[string]interface{}{
			"action": "cancel_transfer", "method": "POST", "path": "/v1/transfers/" + t.ID + "/cancel",
		})
	}
	return actions
}

func agentActions(agent *domain.Agent, daily, monthly decimal.Decimal) []map[string]interface{} {
	if agent.Status != domain.AgentActive {
		return []map[string]interface{}{
			{"action": "reactivate_agent", "reason": "agent is " + string(agent.Status)},
		}
	}
	actions := []map[string]interface{}{
		{"action": "create_mandate", "method": "POST", "path": "/v1/ap2/mandates"},
	}
	if agent.Policy.DailyCap.IsPositive() && daily.LessThan(agent.Policy.DailyCap) {
		actions = append(actions, map[string]interface{}{
			"action":         "simulate_transfer",
			"method":         "POST",
			"path":           "/v1/simulate",
			"daily_headroom": agent.Policy.DailyCap.Sub(daily).StringFixed(2),
		})
	}
	return actions
}

func capRemaining(cap, used decimal.Decimal) string {
	if !cap.IsPositive() {
		return "unlimited"
	}
	left := cap.Sub(used)
	if left.IsNegative() {
		left = decimal.Zero
	}
	return left.StringFixed(2)
}
