package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, &domain.Account{
		ID: "acct_merchant", TenantID: "t1", Type: domain.AccountBusiness,
		Status: domain.AccountActive, Currency: "USD",
		Balances: map[string]domain.Balance{},
	}))
	require.NoError(t, st.CreateAccount(ctx, &domain.Account{
		ID: "acct_payer", TenantID: "t1", Type: domain.AccountPerson,
		Status: domain.AccountActive, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Currency: "USD", Available: dec("500.00")}},
	}))
	return NewService(st), st
}

func cartRequest() CreateRequest {
	return CreateRequest{
		MerchantID: "acct_merchant",
		AgentID:    "agent_1",
		Currency:   "USD",
		Items: []ItemInput{
			{Name: "widget", Quantity: 2, UnitPrice: "19.99"},
			{Name: "gadget", Quantity: 1, UnitPrice: "50.00"},
		},
		Tax:      "7.20",
		Shipping: "5.00",
		Discount: "10.00",
		Total:    "92.18", // 39.98 + 50.00 + 7.20 + 5.00 - 10.00
	}
}

func available(t *testing.T, st *store.Memory, id string) decimal.Decimal {
	t.Helper()
	a, err := st.GetAccount(context.Background(), "t1", id)
	require.NoError(t, err)
	return a.Balances["USD"].Available
}

func TestCreateCheckout(t *testing.T) {
	svc, _ := newTestService(t)
	c, err := svc.Create(context.Background(), "t1", cartRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.CheckoutPending, c.Status)
	assert.True(t, c.Subtotal.Equal(dec("89.98")))
	assert.True(t, c.Total.Equal(dec("92.18")))
	assert.Len(t, c.Items, 2)
	assert.WithinDuration(t, c.CreatedAt.Add(domain.CheckoutTTL), c.ExpiresAt, time.Second)
}

func TestCreateCheckoutTotalMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	req := cartRequest()
	req.Total = "90.00"

	_, err := svc.Create(context.Background(), "t1", req)
	require.Error(t, err)
	ae := apierr.From(err)
	assert.Equal(t, apierr.CodeCheckoutTotalMismatch, ae.Code)
	assert.Equal(t, "90.00", ae.Details["declared_total"])
	assert.Equal(t, "92.18", ae.Details["computed_total"])
	assert.Equal(t, "89.98", ae.Details["subtotal"])
}

func TestCreateCheckoutValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := cartRequest()
	req.Items[0].Quantity = 0
	_, err := svc.Create(ctx, "t1", req)
	assert.Equal(t, apierr.CodeValidationError, apierr.From(err).Code)

	req = cartRequest()
	req.Items[0].UnitPrice = "-1.00"
	_, err = svc.Create(ctx, "t1", req)
	assert.Equal(t, apierr.CodeInvalidDecimalFormat, apierr.From(err).Code)

	req = cartRequest()
	req.Items = nil
	_, err = svc.Create(ctx, "t1", req)
	assert.Equal(t, apierr.CodeValidationError, apierr.From(err).Code)

	// Discount swallowing the whole cart leaves nothing to pay.
	_, err = svc.Create(ctx, "t1", CreateRequest{
		MerchantID: "acct_merchant", Currency: "USD",
		Items:    []ItemInput{{Name: "freebie", Quantity: 1, UnitPrice: "10.00"}},
		Discount: "10.00",
		Total:    "0.00",
	})
	assert.Equal(t, apierr.CodeInvalidAmount, apierr.From(err).Code)
}

func TestCompleteCheckout(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", cartRequest())
	require.NoError(t, err)

	completed, transfer, err := svc.Complete(ctx, "t1", c.ID, CompleteRequest{SharedPaymentToken: "spt_acct_payer"})
	require.NoError(t, err)

	assert.Equal(t, domain.CheckoutCompleted, completed.Status)
	assert.Equal(t, transfer.ID, completed.TransferID)
	require.NotNil(t, completed.CompletedAt)

	assert.Equal(t, "acct_payer", transfer.FromAccount)
	assert.Equal(t, "acct_merchant", transfer.ToAccount)
	assert.True(t, transfer.Amount.Equal(dec("92.18")))
	assert.Equal(t, domain.TransferCompleted, transfer.Status)
	assert.Equal(t, "agent_1", transfer.AgentID)

	assert.True(t, available(t, st, "acct_payer").Equal(dec("407.82")))
	assert.True(t, available(t, st, "acct_merchant").Equal(dec("92.18")))

	// Second completion is rejected and moves nothing.
	_, _, err = svc.Complete(ctx, "t1", c.ID, CompleteRequest{SharedPaymentToken: "spt_acct_payer"})
	require.Error(t, err)
	ae := apierr.From(err)
	assert.Equal(t, apierr.CodeCheckoutCompleted, ae.Code)
	assert.Equal(t, transfer.ID, ae.Details["transfer_id"])
	assert.True(t, available(t, st, "acct_payer").Equal(dec("407.82")))
}

func TestCompleteInsufficientBalance(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, &domain.Account{
		ID: "acct_poor", TenantID: "t1", Status: domain.AccountActive, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Currency: "USD", Available: dec("1.00")}},
	}))
	c, err := svc.Create(ctx, "t1", cartRequest())
	require.NoError(t, err)

	_, _, err = svc.Complete(ctx, "t1", c.ID, CompleteRequest{SharedPaymentToken: "spt_acct_poor"})
	require.Error(t, err)
	assert.Equal(t, apierr.CodeInsufficientBalance, apierr.From(err).Code)

	// The checkout stays pending and completable.
	got, err := svc.Get(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutPending, got.Status)
}

func TestCompleteTokenValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", cartRequest())
	require.NoError(t, err)

	_, _, err = svc.Complete(ctx, "t1", c.ID, CompleteRequest{})
	assert.Equal(t, apierr.CodeMissingRequiredField, apierr.From(err).Code)

	_, _, err = svc.Complete(ctx, "t1", c.ID, CompleteRequest{SharedPaymentToken: "tok_acct_payer"})
	assert.Equal(t, apierr.CodeACPInvalidToken, apierr.From(err).Code)

	_, _, err = svc.Complete(ctx, "t1", c.ID, CompleteRequest{SharedPaymentToken: "spt_"})
	assert.Equal(t, apierr.CodeACPInvalidToken, apierr.From(err).Code)
}

func TestCompleteExpiredCheckout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", cartRequest())
	require.NoError(t, err)

	svc.now = func() time.Time { return c.ExpiresAt.Add(time.Minute) }

	_, _, err = svc.Complete(ctx, "t1", c.ID, CompleteRequest{SharedPaymentToken: "spt_acct_payer"})
	require.Error(t, err)
	assert.Equal(t, apierr.CodeACPCheckoutExpired, apierr.From(err).Code)

	got, err := svc.Get(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutExpired, got.Status, "lazy expiry is persisted")
}

func TestCancelCheckout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", cartRequest())
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCancelled, cancelled.Status)

	_, _, err = svc.Complete(ctx, "t1", c.ID, CompleteRequest{SharedPaymentToken: "spt_acct_payer"})
	require.Error(t, err)
	assert.Equal(t, apierr.CodeCheckoutNotPending, apierr.From(err).Code)
}
