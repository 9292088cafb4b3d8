package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxaco/payos-sub010/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func seedAccount(t *testing.T, m *Memory, id, tenant, currency, available string) {
	t.Helper()
	err := m.CreateAccount(context.Background(), &domain.Account{
		ID:       id,
		TenantID: tenant,
		Name:     id,
		Type:     domain.AccountBusiness,
		Status:   domain.AccountActive,
		Currency: currency,
		Balances: map[string]domain.Balance{
			currency: {Currency: currency, Available: dec(available)},
		},
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestDebitAvailableNeverOverdraws(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "acct_a", "t1", "USD", "100.00")

	require.NoError(t, m.DebitAvailable(ctx, "t1", "acct_a", "USD", dec("60.00")))
	err := m.DebitAvailable(ctx, "t1", "acct_a", "USD", dec("40.01"))
	assert.ErrorIs(t, err, ErrInsufficient)

	a, err := m.GetAccount(ctx, "t1", "acct_a")
	require.NoError(t, err)
	assert.True(t, a.Balances["USD"].Available.Equal(dec("40.00")),
		"failed debit must not move the balance, got %s", a.Balances["USD"].Available)
}

func TestDebitCreditIsolatedPerCurrency(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "acct_a", "t1", "USD", "100.00")

	require.NoError(t, m.CreditAvailable(ctx, "t1", "acct_a", "BRL", dec("500.00")))
	assert.ErrorIs(t, m.DebitAvailable(ctx, "t1", "acct_a", "BRL", dec("500.01")), ErrInsufficient)
	require.NoError(t, m.DebitAvailable(ctx, "t1", "acct_a", "BRL", dec("500.00")))

	a, _ := m.GetAccount(ctx, "t1", "acct_a")
	assert.True(t, a.Balances["USD"].Available.Equal(dec("100.00")))
	assert.True(t, a.Balances["BRL"].Available.IsZero())
}

func TestTenantIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "acct_a", "t1", "USD", "100.00")

	_, err := m.GetAccount(ctx, "t2", "acct_a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DebitAvailable(ctx, "t2", "acct_a", "USD", dec("1")), ErrNotFound)
}

func TestGetAccountReturnsACopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedAccount(t, m, "acct_a", "t1", "USD", "100.00")

	a, _ := m.GetAccount(ctx, "t1", "acct_a")
	bal := a.Balances["USD"]
	bal.Available = dec("0")
	a.Balances["USD"] = bal

	fresh, _ := m.GetAccount(ctx, "t1", "acct_a")
	assert.True(t, fresh.Balances["USD"].Available.Equal(dec("100.00")),
		"mutating a returned account must not leak into the store")
}

func TestClaimSimulationExecutionSingleWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateSimulation(ctx, &domain.Simulation{
		ID:       "sim_1",
		TenantID: "t1",
		Status:   domain.SimulationCompleted,
	}))

	type claim struct {
		won bool
		err error
	}
	const racers = 50
	var wg sync.WaitGroup
	wins := make(chan claim, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.ClaimSimulationExecution(ctx, "t1", "sim_1")
			wins <- claim{won, err}
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for c := range wins {
		require.NoError(t, c.err)
		if c.won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	s, _ := m.GetSimulation(ctx, "t1", "sim_1")
	assert.True(t, s.Executed)
	assert.Equal(t, domain.SimulationExecuted, s.Status)
}

func TestReleaseSimulationExecutionReopensClaim(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateSimulation(ctx, &domain.Simulation{ID: "sim_1", TenantID: "t1"}))

	won, err := m.ClaimSimulationExecution(ctx, "t1", "sim_1")
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, m.ReleaseSimulationExecution(ctx, "t1", "sim_1"))
	s, _ := m.GetSimulation(ctx, "t1", "sim_1")
	assert.False(t, s.Executed)
	assert.Equal(t, domain.SimulationFailed, s.Status)

	won, err = m.ClaimSimulationExecution(ctx, "t1", "sim_1")
	require.NoError(t, err)
	assert.True(t, won, "released simulations are claimable again")
}

func TestApplyMandateSpend(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateMandate(ctx, &domain.Mandate{
		ID:               "mandate_1",
		TenantID:         "t1",
		Status:           domain.MandateActive,
		AuthorizedAmount: dec("100.00"),
		RemainingAmount:  dec("100.00"),
		UsedAmount:       dec("0"),
	}))

	updated, err := m.ApplyMandateSpend(ctx, "t1", "mandate_1", dec("60.00"))
	require.NoError(t, err)
	assert.True(t, updated.RemainingAmount.Equal(dec("40.00")))
	assert.True(t, updated.UsedAmount.Equal(dec("60.00")))
	assert.Equal(t, 1, updated.ExecutionCount)
	assert.Equal(t, domain.MandateActive, updated.Status)

	// Overspend loses without mutating.
	_, err = m.ApplyMandateSpend(ctx, "t1", "mandate_1", dec("40.01"))
	assert.ErrorIs(t, err, ErrConflict)
	md, _ := m.GetMandate(ctx, "t1", "mandate_1")
	assert.True(t, md.RemainingAmount.Equal(dec("40.00")))

	// Exhausting the envelope flips it to completed.
	updated, err = m.ApplyMandateSpend(ctx, "t1", "mandate_1", dec("40.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.MandateCompleted, updated.Status)
	assert.True(t, updated.UsedAmount.Add(updated.RemainingAmount).Equal(updated.AuthorizedAmount))

	// Completed mandates reject further spends.
	_, err = m.ApplyMandateSpend(ctx, "t1", "mandate_1", dec("0.01"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestApplyMandateSpendConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateMandate(ctx, &domain.Mandate{
		ID:               "mandate_1",
		TenantID:         "t1",
		Status:           domain.MandateActive,
		AuthorizedAmount: dec("100.00"),
		RemainingAmount:  dec("100.00"),
	}))

	// 20 racers of 10.00 each against a 100.00 envelope: exactly 10 succeed.
	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ApplyMandateSpend(ctx, "t1", "mandate_1", dec("10.00"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, conflicts := 0, 0
	for err := range results {
		switch err {
		case nil:
			ok++
		case ErrConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, conflicts)

	md, _ := m.GetMandate(ctx, "t1", "mandate_1")
	assert.True(t, md.RemainingAmount.IsZero())
	assert.Equal(t, domain.MandateCompleted, md.Status)
}

func TestCreateRefundCapped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateTransfer(ctx, &domain.Transfer{
		ID: "tr_1", TenantID: "t1", Amount: dec("100.00"), Currency: "USD",
		Status: domain.TransferCompleted,
	}))

	mkRefund := func(id, amount, status string) *domain.Refund {
		return &domain.Refund{
			ID: id, TenantID: "t1", OriginalTransfer: "tr_1",
			Amount: dec(amount), Currency: "USD", Status: status,
		}
	}

	require.NoError(t, m.CreateRefundCapped(ctx, mkRefund("re_1", "60.00", "completed")))
	// 60 + 60 > 100: the second write loses.
	assert.ErrorIs(t, m.CreateRefundCapped(ctx, mkRefund("re_2", "60.00", "completed")), ErrConflict)

	// A failed refund does not consume the cap.
	require.NoError(t, m.CreateRefund(ctx, mkRefund("re_3", "90.00", "failed")))
	require.NoError(t, m.CreateRefundCapped(ctx, mkRefund("re_4", "40.00", "completed")))

	// The principal is now fully returned.
	assert.ErrorIs(t, m.CreateRefundCapped(ctx, mkRefund("re_5", "0.01", "completed")), ErrConflict)

	refunds, err := m.ListRefundsByTransfer(ctx, "t1", "tr_1")
	require.NoError(t, err)
	assert.Len(t, refunds, 3, "re_1, re_3 and re_4 landed")

	assert.ErrorIs(t, m.CreateRefundCapped(ctx, &domain.Refund{
		ID: "re_6", TenantID: "t1", OriginalTransfer: "tr_ghost", Amount: dec("1.00"),
	}), ErrNotFound)
}

func TestCreateRefundCappedConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateTransfer(ctx, &domain.Transfer{
		ID: "tr_1", TenantID: "t1", Amount: dec("100.00"), Currency: "USD",
		Status: domain.TransferCompleted,
	}))

	// 20 racers of 10.00 each against a 100.00 principal: exactly 10 land.
	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.CreateRefundCapped(ctx, &domain.Refund{
				ID: domain.NewID("re"), TenantID: "t1", OriginalTransfer: "tr_1",
				Amount: dec("10.00"), Currency: "USD", Status: "completed",
			})
		}()
	}
	wg.Wait()
	close(results)

	ok, conflicts := 0, 0
	for err := range results {
		switch err {
		case nil:
			ok++
		case ErrConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, conflicts)
}

func TestTransitionTransferConditional(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateTransfer(ctx, &domain.Transfer{
		ID: "tr_1", TenantID: "t1", Status: domain.TransferPending,
	}))

	err := m.TransitionTransfer(ctx, "t1", "tr_1", domain.TransferProcessing, domain.TransferCompleted)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, m.TransitionTransfer(ctx, "t1", "tr_1", domain.TransferPending, domain.TransferCompleted))
	tr, _ := m.GetTransfer(ctx, "t1", "tr_1")
	assert.Equal(t, domain.TransferCompleted, tr.Status)
	assert.NotNil(t, tr.CompletedAt, "completion stamps completed_at")

	// Terminal state is never left.
	err = m.TransitionTransfer(ctx, "t1", "tr_1", domain.TransferCompleted, domain.TransferPending)
	assert.NoError(t, err, "from matches so the write is allowed; callers guard terminality")
}

func TestListTransfersByAccountFiltersAndSorts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"tr_1", "tr_2", "tr_3"} {
		require.NoError(t, m.CreateTransfer(ctx, &domain.Transfer{
			ID:          id,
			TenantID:    "t1",
			FromAccount: "acct_a",
			ToAccount:   "acct_b",
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}
	// Out of window.
	require.NoError(t, m.CreateTransfer(ctx, &domain.Transfer{
		ID: "tr_old", TenantID: "t1", FromAccount: "acct_a", CreatedAt: base.AddDate(0, -2, 0),
	}))

	out, err := m.ListTransfersByAccount(ctx, "t1", "acct_a", base.AddDate(0, -1, 0), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "tr_3", out[0].ID, "newest first")
	assert.Equal(t, "tr_2", out[1].ID)
}

func TestCheckoutTransitionAndResult(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateCheckout(ctx, &domain.Checkout{
		ID: "chk_1", TenantID: "t1", Status: domain.CheckoutPending,
	}))

	require.NoError(t, m.TransitionCheckout(ctx, "t1", "chk_1", domain.CheckoutPending, domain.CheckoutCompleted))
	assert.ErrorIs(t,
		m.TransitionCheckout(ctx, "t1", "chk_1", domain.CheckoutPending, domain.CheckoutCompleted),
		ErrConflict, "second completion loses")

	done := time.Now().UTC()
	require.NoError(t, m.SetCheckoutResult(ctx, "t1", "chk_1", "tr_9", done))
	c, _ := m.GetCheckout(ctx, "t1", "chk_1")
	assert.Equal(t, "tr_9", c.TransferID)
	require.NotNil(t, c.CompletedAt)
}

func TestBatchSnapshotRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetBatchSnapshot(ctx, "t1", "batch_1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SaveBatchSnapshot(ctx, "t1", "batch_1", []byte(`{"executable":3}`)))
	b, err := m.GetBatchSnapshot(ctx, "t1", "batch_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"executable":3}`, string(b))

	// Snapshots are tenant-scoped.
	_, err = m.GetBatchSnapshot(ctx, "t2", "batch_1")
	assert.ErrorIs(t, err, ErrNotFound)
}
