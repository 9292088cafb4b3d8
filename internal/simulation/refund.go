package simulation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/store"
)

// refundWindowClosingDays triggers the closing-soon warning.
const refundWindowClosingDays = 7

// RunRefund executes the refund-simulation algorithm: the original transfer
// must be completed or still processing, inside the 30-day window, and the
// requested amount plus all prior refunds must not exceed the original
// principal. Refunds carry no fees and settle on the internal rail.
func (e *Engine) RunRefund(ctx context.Context, tenantID string, req RefundRequest) (*Outcome, error) {
	amount, aerr := parseAmount(req.Amount)
	if aerr != nil {
		return nil, aerr
	}
	if req.TransferID == "" {
		return nil, apierr.New(apierr.CodeMissingRequiredField, "transfer_id is required").With("field", "transfer_id")
	}
	if req.Reason != "" && !domain.ValidRefundReason(domain.RefundReason(req.Reason)) {
		return nil, apierr.Newf(apierr.CodeInvalidRefundReason, "unknown refund reason %q", req.Reason).
			With("reason", req.Reason)
	}

	out := &Outcome{CanExecute: true}
	now := e.now().UTC()

	transfer, err := e.store.GetTransfer(ctx, tenantID, req.TransferID)
	if err == store.ErrNotFound {
		out.fail(string(apierr.CodeTransferNotFound), "original transfer not found",
			map[string]interface{}{"transfer_id": req.TransferID})
		return out, nil
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "transfer lookup failed")
	}

	if transfer.Status != domain.TransferCompleted && transfer.Status != domain.TransferProcessing {
		out.fail(string(apierr.CodeInvalidStateTransition), "only completed or processing transfers are refundable",
			map[string]interface{}{"transfer_id": transfer.ID, "status": string(transfer.Status)})
		return out, nil
	}

	completedAt := transfer.CreatedAt
	if transfer.CompletedAt != nil {
		completedAt = *transfer.CompletedAt
	}
	windowEnds := completedAt.Add(domain.RefundWindowDays * 24 * time.Hour)
	daysSince := int(now.Sub(completedAt).Hours() / 24)
	if now.After(windowEnds) {
		out.fail(string(apierr.CodeRefundWindowExpired), "refund window has closed",
			map[string]interface{}{
				"transfer_id":         transfer.ID,
				"days_since_transfer": daysSince,
				"window_days":         domain.RefundWindowDays,
			})
		return out, nil
	}
	daysLeft := int(windowEnds.Sub(now).Hours() / 24)
	if daysLeft < refundWindowClosingDays {
		out.warn("REFUND_WINDOW_CLOSING", "refund window closes soon",
			map[string]interface{}{
				"days_remaining": daysLeft,
				"window_expires": windowEnds.UTC().Format(time.RFC3339),
			})
	}

	// Prior refunds shrink what is still refundable.
	refunded := decimal.Zero
	priors, err := e.store.ListRefundsByTransfer(ctx, tenantID, transfer.ID)
	if err != nil && err != store.ErrNotFound {
		return nil, apierr.New(apierr.CodeDatabaseError, "refund lookup failed")
	}
	for _, r := range priors {
		if r.Status == "failed" {
			continue
		}
		refunded = refunded.Add(r.Amount)
	}
	refundable := transfer.Amount.Sub(refunded)
	if amount.GreaterThan(refundable) {
		out.fail(string(apierr.CodeRefundExceedsAvailable), "amount exceeds the refundable remainder",
			map[string]interface{}{
				"transfer_id":      transfer.ID,
				"original_amount":  transfer.Amount.StringFixed(2),
				"already_refunded": refunded.StringFixed(2),
				"refundable":       refundable.StringFixed(2),
				"requested":        amount.StringFixed(2),
			})
		return out, nil
	}

	refundType := "partial"
	if amount.Equal(transfer.Amount) {
		refundType = "full"
	}
	if refundType == "partial" && amount.GreaterThan(transfer.Amount.Div(decimal.NewFromInt(2))) {
		out.warn("LARGE_PARTIAL_REFUND", "refund exceeds half of the original transfer",
			map[string]interface{}{
				"requested":       amount.StringFixed(2),
				"original_amount": transfer.Amount.StringFixed(2),
			})
	}

	// The money flows back from the original destination; its account state
	// and balance gate the refund.
	dest, err := e.store.GetAccount(ctx, tenantID, transfer.ToAccount)
	switch {
	case err == store.ErrNotFound:
		out.fail(string(apierr.CodeAccountNotFound), "refund source account not found",
			map[string]interface{}{"account_id": transfer.ToAccount, "side": "refund_source"})
		return out, nil
	case err != nil:
		return nil, apierr.New(apierr.CodeDatabaseError, "account lookup failed")
	case dest.Status != domain.AccountActive:
		out.fail(string(apierr.CodeAccountSuspended), "refund source account is not active",
			map[string]interface{}{"account_id": dest.ID, "status": string(dest.Status)})
		return out, nil
	}

	available := dest.Balances[transfer.Currency].Available
	if available.LessThan(amount) {
		out.fail(string(apierr.CodeDestinationInsufficientBalance),
			"refund source account lacks the funds to return",
			map[string]interface{}{
				"account_id": dest.ID,
				"available":  available.StringFixed(2),
				"requested":  amount.StringFixed(2),
				"shortfall":  amount.Sub(available).StringFixed(2),
				"currency":   transfer.Currency,
			})
	}

	reasons := make([]string, 0, len(out.Errors))
	for _, se := range out.Errors {
		reasons = append(reasons, se.Code)
	}

	out.Rail = domain.RailInternal
	out.DurationSeconds = 5
	out.TotalFees = decimal.Zero
	out.DestinationAmount = amount
	out.DestinationCurrency = transfer.Currency
	out.Preview = map[string]interface{}{
		"refund": map[string]interface{}{
			"original_transfer": transfer.ID,
			"original_amount":   transfer.Amount.StringFixed(2),
			"original_status":   string(transfer.Status),
			"already_refunded":  refunded.StringFixed(2),
			"refundable_after":  refundable.Sub(amount).StringFixed(2),
			"amount":            amount.StringFixed(2),
			"currency":          transfer.Currency,
			"refund_type":       refundType,
		},
		"eligibility": map[string]interface{}{
			"can_refund":     out.CanExecute,
			"window_expires": windowEnds.UTC().Format(time.RFC3339),
			"reasons":        reasons,
		},
		"source": map[string]interface{}{
			"account_id":     dest.ID,
			"currency":       transfer.Currency,
			"balance_before": available.StringFixed(2),
			"balance_after":  available.Sub(amount).StringFixed(2),
		},
		"destination": map[string]interface{}{
			"account_id": transfer.FromAccount,
			"currency":   transfer.Currency,
			"amount":     amount.StringFixed(2),
		},
		"fees": map[string]interface{}{
			"platform_fee": "0.00",
			"fx_fee":       "0.00",
			"rail_fee":     "0.00",
			"total":        "0.00",
			"currency":     transfer.Currency,
		},
		"timing": map[string]interface{}{
			"rail":                       string(domain.RailInternal),
			"estimated_duration_seconds": 5,
			"estimated_arrival":          now.Add(5 * time.Second).Format(time.RFC3339),
		},
	}
	return out, nil
}
