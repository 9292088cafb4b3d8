package simulation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
)

// MaxBatchItems caps a single batch simulation.
const MaxBatchItems = 1000

// BatchRequest is the payload for POST /v1/simulate/batch. Items is a legacy
// alias for Simulations; when both are sent, Simulations wins.
type BatchRequest struct {
	Simulations      []TransferRequest `json:"simulations"`
	Items            []TransferRequest `json:"items,omitempty"`
	StopOnFirstError bool              `json:"stop_on_first_error,omitempty"`
}

func (r BatchRequest) items() []TransferRequest {
	if len(r.Simulations) > 0 {
		return r.Simulations
	}
	return r.Items
}

// BatchItemResult is one item's verdict inside a batch simulation.
type BatchItemResult struct {
	Index        int                    `json:"index"`
	SimulationID string                 `json:"simulation_id,omitempty"`
	CanExecute   bool                   `json:"can_execute"`
	Preview      map[string]interface{} `json:"preview,omitempty"`
	Warnings     []domain.Warning       `json:"warnings"`
	Errors       []domain.SimError      `json:"errors"`
}

// BatchTotals sums the executable items per currency.
type BatchTotals struct {
	AmountByCurrency map[string]string `json:"amount_by_currency"`
	FeesByCurrency   map[string]string `json:"fees_by_currency"`
}

// BatchBucket is a count plus the summed principal for one grouping key.
type BatchBucket struct {
	Count int    `json:"count"`
	Total string `json:"total"`
}

// BatchSummary rolls executable items up by currency and by settlement rail.
type BatchSummary struct {
	ByCurrency map[string]BatchBucket `json:"by_currency"`
	ByRail     map[string]BatchBucket `json:"by_rail"`
}

// BatchResult is the full batch simulation outcome. Blocked and skipped
// items both count as failed, so Successful+Failed always equals TotalCount.
type BatchResult struct {
	BatchID       string            `json:"batch_id"`
	TotalCount    int               `json:"total_count"`
	Successful    int               `json:"successful"`
	Failed        int               `json:"failed"`
	CanExecuteAll bool              `json:"can_execute_all"`
	Stopped       bool              `json:"stopped,omitempty"`
	Totals        BatchTotals       `json:"totals"`
	Summary       BatchSummary      `json:"summary"`
	Items         []BatchItemResult `json:"items"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// SimulateBatch runs up to MaxBatchItems transfer simulations sequentially
// against a shared memoized balance view, so each item sees the balance as it
// would be after every earlier executable item settled. Items are never
// executed here; per-item simulations are persisted individually and the
// whole result is snapshotted for the context view.
func (e *Engine) SimulateBatch(ctx context.Context, tenantID string, req BatchRequest) (*BatchResult, error) {
	items := req.items()
	if len(items) == 0 {
		return nil, apierr.New(apierr.CodeBatchEmpty, "batch has no items")
	}
	if len(items) > MaxBatchItems {
		return nil, apierr.Newf(apierr.CodeBatchSizeExceeded, "batch has %d items, maximum is %d", len(items), MaxBatchItems).
			With("count", len(items)).
			With("max", MaxBatchItems)
	}

	now := e.now().UTC()
	result := &BatchResult{
		BatchID:    domain.NewID("batch"),
		TotalCount: len(items),
		Totals: BatchTotals{
			AmountByCurrency: map[string]string{},
			FeesByCurrency:   map[string]string{},
		},
		Summary: BatchSummary{
			ByCurrency: map[string]BatchBucket{},
			ByRail:     map[string]BatchBucket{},
		},
		Items:     make([]BatchItemResult, 0, len(items)),
		CreatedAt: now,
		ExpiresAt: now.Add(domain.SimulationTTL),
	}

	// Prefetch every referenced account once; the view is then mutated in
	// memory as items debit it.
	view, err := e.prefetch(ctx, tenantID, items)
	if err != nil {
		return nil, err
	}

	amounts := map[string]decimal.Decimal{}
	fees := map[string]decimal.Decimal{}
	curCount := map[string]int{}
	railAmount := map[string]decimal.Decimal{}
	railCount := map[string]int{}
	stopMsg := "skipped after an earlier item failed"
	stoppedAt := -1

	for i, item := range items {
		// Hitting the request deadline stops the batch rather than
		// discarding the items already simulated.
		if !result.Stopped && ctx.Err() != nil {
			result.Stopped = true
			stopMsg = "batch deadline reached"
			stoppedAt = i
		}
		if result.Stopped {
			result.Items = append(result.Items, BatchItemResult{
				Index:      i,
				CanExecute: false,
				Warnings:   []domain.Warning{},
				Errors: []domain.SimError{{
					Code:    string(apierr.CodeBatchStopped),
					Message: stopMsg,
					Details: map[string]interface{}{"stopped_at_index": stoppedAt},
				}},
			})
			result.Failed++
			continue
		}

		out, runErr := e.RunTransfer(ctx, tenantID, item, view)
		if runErr != nil {
			// Malformed item: report it in place rather than failing the batch.
			ae := apierr.From(runErr)
			out = &Outcome{}
			out.fail(string(ae.Code), ae.Message, ae.Details)
		}

		sim := e.persist(ctx, tenantID, domain.ActionTransfer, transferPayload(item), out)
		itemRes := BatchItemResult{
			Index:        i,
			SimulationID: sim.ID,
			CanExecute:   out.CanExecute,
			Preview:      out.Preview,
			Warnings:     nonNilWarnings(out.Warnings),
			Errors:       nonNilErrors(out.Errors),
		}
		result.Items = append(result.Items, itemRes)

		if out.CanExecute {
			result.Successful++
			amount, _ := decimal.NewFromString(item.Amount)
			amounts[item.Currency] = amounts[item.Currency].Add(amount)
			fees[item.Currency] = fees[item.Currency].Add(out.TotalFees)
			curCount[item.Currency]++
			rail := string(out.Rail)
			railAmount[rail] = railAmount[rail].Add(amount)
			railCount[rail]++
			applyDebit(view, item.FromAccount, item.Currency, amount.Add(out.TotalFees))
			applyCredit(view, item.ToAccount, out.DestinationCurrency, out.DestinationAmount)
			if u := view.Usage[item.FromAccount]; u != nil {
				usd := e.usdEquivalent(amount, item.Currency)
				u.Daily = u.Daily.Add(usd)
				u.Monthly = u.Monthly.Add(usd)
			}
		} else {
			result.Failed++
			if req.StopOnFirstError {
				result.Stopped = true
				stoppedAt = i
			}
		}
	}

	for cur, amt := range amounts {
		result.Totals.AmountByCurrency[cur] = amt.StringFixed(2)
		result.Totals.FeesByCurrency[cur] = fees[cur].StringFixed(2)
		result.Summary.ByCurrency[cur] = BatchBucket{Count: curCount[cur], Total: amt.StringFixed(2)}
	}
	for rail, amt := range railAmount {
		result.Summary.ByRail[rail] = BatchBucket{Count: railCount[rail], Total: amt.StringFixed(2)}
	}
	result.CanExecuteAll = result.Failed == 0

	if snapshot, mErr := json.Marshal(result); mErr == nil {
		if sErr := e.store.SaveBatchSnapshot(ctx, tenantID, result.BatchID, snapshot); sErr != nil {
			e.logger.Printf("⚠️  batch snapshot save failed batch=%s: %v", result.BatchID, sErr)
		}
	}
	e.logger.Printf("batch %s simulated: %d/%d executable",
		result.BatchID, result.Successful, result.TotalCount)
	return result, nil
}

// prefetch loads every account a batch references into a mutable view, plus
// the daily/monthly limit usage of each unique source account. One store
// round-trip per account, not per item. Missing accounts stay absent; the
// per-item run reports ACCOUNT_NOT_FOUND.
func (e *Engine) prefetch(ctx context.Context, tenantID string, items []TransferRequest) (*BalanceView, error) {
	seen := map[string]bool{}
	ids := make([]string, 0, len(items)*2)
	for _, it := range items {
		for _, id := range []string{it.FromAccount, it.ToAccount} {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	accounts, err := e.store.GetAccounts(ctx, tenantID, ids)
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "batch account prefetch failed")
	}

	usage := map[string]*UsageView{}
	now := e.now().UTC()
	for _, it := range items {
		if it.FromAccount == "" || usage[it.FromAccount] != nil {
			continue
		}
		if _, ok := accounts[it.FromAccount]; !ok {
			continue
		}
		daily, monthly := e.usedAmounts(ctx, tenantID, it.FromAccount, now)
		usage[it.FromAccount] = &UsageView{Daily: daily, Monthly: monthly}
	}
	return &BalanceView{Accounts: accounts, Usage: usage}, nil
}

// applyDebit reduces the memoized available balance so later items see the
// cumulative effect. The view owns its copies; the store is untouched.
func applyDebit(view *BalanceView, accountID, currency string, amount decimal.Decimal) {
	a, ok := view.Accounts[accountID]
	if !ok {
		return
	}
	b := a.Balances[currency]
	b.Available = b.Available.Sub(amount)
	if a.Balances == nil {
		a.Balances = map[string]domain.Balance{}
	}
	a.Balances[currency] = b
}

// applyCredit mirrors the settled amount onto the in-view destination, so a
// later item funded by an earlier item's payout passes its balance check.
func applyCredit(view *BalanceView, accountID, currency string, amount decimal.Decimal) {
	applyDebit(view, accountID, currency, amount.Neg())
}
