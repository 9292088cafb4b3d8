// Package checkout implements the ACP checkout lifecycle: a cart-scoped
// payment authorization with a total pinned at creation, completed exactly
// once against a shared payment token.
package checkout

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/store"
)

// ItemInput is one cart line in a create request.
type ItemInput struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// CreateRequest is the payload for POST /v1/acp/checkouts.
type CreateRequest struct {
	MerchantID string      `json:"merchant_id"`
	AgentID    string      `json:"agent_id"`
	Currency   string      `json:"currency"`
	Items      []ItemInput `json:"items"`
	Tax        string      `json:"tax,omitempty"`
	Shipping   string      `json:"shipping,omitempty"`
	Discount   string      `json:"discount,omitempty"`
	Total      string      `json:"total"`
}

// CompleteRequest is the payload for POST /v1/acp/checkouts/{id}/complete.
// The shared payment token carries the paying account in sandbox form
// ("spt_<account_id>"); production tokens resolve through the wallet
// service behind the same shape.
type CompleteRequest struct {
	SharedPaymentToken string `json:"shared_payment_token"`
}

// Service manages checkouts.
type Service struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

// NewService wires the checkout service.
func NewService(st store.Store) *Service {
	return &Service{
		store:  st,
		logger: log.New(log.Writer(), "[ACP] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Create validates the cart arithmetic and opens a pending checkout. The
// caller-declared total must equal subtotal + tax + shipping - discount
// exactly; mismatches are rejected, never silently corrected.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (*domain.Checkout, error) {
	if req.MerchantID == "" || req.Currency == "" {
		return nil, apierr.New(apierr.CodeMissingRequiredField, "merchant_id and currency are required")
	}
	if len(req.Items) == 0 {
		return nil, apierr.New(apierr.CodeValidationError, "checkout needs at least one item")
	}

	subtotal := decimal.Zero
	items := make([]domain.CheckoutItem, 0, len(req.Items))
	for i, in := range req.Items {
		if in.Quantity <= 0 {
			return nil, apierr.Newf(apierr.CodeValidationError, "item %d has non-positive quantity", i).
				With("index", i)
		}
		price, err := decimal.NewFromString(in.UnitPrice)
		if err != nil || price.IsNegative() {
			return nil, apierr.Newf(apierr.CodeInvalidDecimalFormat, "item %d unit_price is invalid", i).
				With("index", i).
				With("unit_price", in.UnitPrice)
		}
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(in.Quantity))))
		items = append(items, domain.CheckoutItem{Name: in.Name, Quantity: in.Quantity, UnitPrice: price})
	}

	tax, err := optionalAmount(req.Tax)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidDecimalFormat, "tax is invalid").With("tax", req.Tax)
	}
	shipping, err := optionalAmount(req.Shipping)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidDecimalFormat, "shipping is invalid").With("shipping", req.Shipping)
	}
	discount, err := optionalAmount(req.Discount)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidDecimalFormat, "discount is invalid").With("discount", req.Discount)
	}

	declared, err := decimal.NewFromString(req.Total)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidDecimalFormat, "total is invalid").With("total", req.Total)
	}
	computed := subtotal.Add(tax).Add(shipping).Sub(discount)
	if !declared.Equal(computed) {
		return nil, apierr.New(apierr.CodeCheckoutTotalMismatch, "declared total does not match cart arithmetic").
			With("declared_total", declared.StringFixed(2)).
			With("computed_total", computed.StringFixed(2)).
			With("subtotal", subtotal.StringFixed(2)).
			With("tax", tax.StringFixed(2)).
			With("shipping", shipping.StringFixed(2)).
			With("discount", discount.StringFixed(2))
	}
	if !computed.IsPositive() {
		return nil, apierr.New(apierr.CodeInvalidAmount, "checkout total must be positive").
			With("total", computed.StringFixed(2))
	}

	now := s.now().UTC()
	c := &domain.Checkout{
		ID:         domain.NewID("chk"),
		TenantID:   tenantID,
		MerchantID: req.MerchantID,
		AgentID:    req.AgentID,
		Items:      items,
		Currency:   req.Currency,
		Subtotal:   subtotal,
		Tax:        tax,
		Shipping:   shipping,
		Discount:   discount,
		Total:      computed,
		Status:     domain.CheckoutPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(domain.CheckoutTTL),
	}
	if err := s.store.CreateCheckout(ctx, c); err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "checkout create failed")
	}
	s.logger.Printf("checkout %s created: %s %s, %d items", c.ID, c.Total, c.Currency, len(c.Items))
	return c, nil
}

// Get loads a checkout, lazily expiring past-deadline pending ones.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Checkout, error) {
	c, err := s.store.GetCheckout(ctx, tenantID, id)
	if err == store.ErrNotFound {
		return nil, apierr.New(apierr.CodeCheckoutNotFound, "checkout not found").With("checkout_id", id)
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "checkout lookup failed")
	}
	if c.Status == domain.CheckoutPending && s.now().UTC().After(c.ExpiresAt) {
		if err := s.store.TransitionCheckout(ctx, tenantID, c.ID, domain.CheckoutPending, domain.CheckoutExpired); err == nil {
			c.Status = domain.CheckoutExpired
		}
	}
	return c, nil
}

// Complete settles a pending checkout: the token's account pays the pinned
// total to the merchant. The debit is taken before the status flip so a
// losing racer never moves money twice; a failed flip refunds the debit.
func (s *Service) Complete(ctx context.Context, tenantID, id string, req CompleteRequest) (*domain.Checkout, *domain.Transfer, error) {
	payer, aerr := resolveToken(req.SharedPaymentToken)
	if aerr != nil {
		return nil, nil, aerr
	}

	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	switch c.Status {
	case domain.CheckoutPending:
	case domain.CheckoutExpired:
		return nil, nil, apierr.New(apierr.CodeACPCheckoutExpired, "checkout has expired").
			With("checkout_id", c.ID).
			With("expired_at", c.ExpiresAt.UTC().Format(time.RFC3339))
	case domain.CheckoutCompleted:
		return nil, nil, apierr.New(apierr.CodeCheckoutCompleted, "checkout was already completed").
			With("checkout_id", c.ID).
			With("transfer_id", c.TransferID)
	default:
		return nil, nil, apierr.New(apierr.CodeCheckoutNotPending, "checkout is not pending").
			With("checkout_id", c.ID).
			With("status", string(c.Status))
	}

	if err := s.store.DebitAvailable(ctx, tenantID, payer, c.Currency, c.Total); err != nil {
		if err == store.ErrInsufficient {
			return nil, nil, apierr.New(apierr.CodeInsufficientBalance, "paying account has insufficient balance").
				With("account_id", payer).
				With("requested", c.Total.StringFixed(2))
		}
		if err == store.ErrNotFound {
			return nil, nil, apierr.New(apierr.CodeAccountNotFound, "paying account not found").
				With("account_id", payer)
		}
		return nil, nil, apierr.New(apierr.CodeDatabaseError, "debit failed")
	}

	if err := s.store.TransitionCheckout(ctx, tenantID, c.ID, domain.CheckoutPending, domain.CheckoutCompleted); err != nil {
		if rbErr := s.store.CreditAvailable(ctx, tenantID, payer, c.Currency, c.Total); rbErr != nil {
			s.logger.Printf("❌ rollback credit failed account=%s amount=%s: %v", payer, c.Total, rbErr)
		}
		if err == store.ErrConflict {
			return nil, nil, apierr.New(apierr.CodeCheckoutNotPending, "checkout changed state concurrently").
				With("checkout_id", c.ID)
		}
		return nil, nil, apierr.New(apierr.CodeDatabaseError, "checkout completion failed")
	}

	now := s.now().UTC()
	if err := s.store.CreditAvailable(ctx, tenantID, c.MerchantID, c.Currency, c.Total); err != nil {
		s.logger.Printf("❌ merchant credit failed checkout=%s merchant=%s: %v", c.ID, c.MerchantID, err)
		return nil, nil, apierr.New(apierr.CodeExecutionRollback, "merchant credit failed").
			With("checkout_id", c.ID)
	}

	transfer := &domain.Transfer{
		ID:          domain.NewID("tr"),
		TenantID:    tenantID,
		FromAccount: payer,
		ToAccount:   c.MerchantID,
		Amount:      c.Total,
		Currency:    c.Currency,
		Status:      domain.TransferCompleted,
		Rail:        domain.RailInternal,
		Fees:        domain.FeeBreakdown{Currency: c.Currency},
		AgentID:     c.AgentID,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := s.store.CreateTransfer(ctx, transfer); err != nil {
		s.logger.Printf("⚠️  transfer record failed checkout=%s: %v", c.ID, err)
	}
	if err := s.store.SetCheckoutResult(ctx, tenantID, c.ID, transfer.ID, now); err != nil {
		s.logger.Printf("⚠️  checkout result record failed checkout=%s: %v", c.ID, err)
	}

	c.Status = domain.CheckoutCompleted
	c.TransferID = transfer.ID
	c.CompletedAt = &now
	s.logger.Printf("✅ checkout %s completed via %s: %s %s", c.ID, transfer.ID, c.Total, c.Currency)
	return c, transfer, nil
}

// Cancel moves a pending checkout to cancelled.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) (*domain.Checkout, error) {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CheckoutPending {
		return nil, apierr.New(apierr.CodeCheckoutNotPending, "only pending checkouts can be cancelled").
			With("checkout_id", c.ID).
			With("status", string(c.Status))
	}
	if err := s.store.TransitionCheckout(ctx, tenantID, c.ID, domain.CheckoutPending, domain.CheckoutCancelled); err != nil {
		if err == store.ErrConflict {
			return nil, apierr.New(apierr.CodeConcurrentModification, "checkout changed state concurrently").
				With("checkout_id", c.ID)
		}
		return nil, apierr.New(apierr.CodeDatabaseError, "checkout cancel failed")
	}
	c.Status = domain.CheckoutCancelled
	return c, nil
}

func optionalAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("negative amount")
	}
	return d, nil
}

// resolveToken unwraps a sandbox shared payment token into its account id.
func resolveToken(token string) (string, *apierr.Error) {
	if token == "" {
		return "", apierr.New(apierr.CodeMissingRequiredField, "shared_payment_token is required").
			With("field", "shared_payment_token")
	}
	account := strings.TrimPrefix(token, "spt_")
	if account == token || account == "" {
		return "", apierr.New(apierr.CodeACPInvalidToken, "shared payment token is malformed")
	}
	return account, nil
}
