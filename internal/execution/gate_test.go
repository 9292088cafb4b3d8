package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/config"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/simulation"
	"github.com/haxaco/payos-sub010/internal/store"
)

type fixture struct {
	st     *store.Memory
	engine *simulation.Engine
	fx     *simulation.FXTable
	gate   *Gate
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Environment: config.EnvMock,
		Limits: config.LimitsConfig{Tiers: map[int]config.TierLimits{
			3: {PerTransaction: "100000", Daily: "100000", Monthly: "1000000"},
		}},
		Fees: config.FeesConfig{CorridorFlat: map[string]string{"BRL": "1.50"}},
	}
	st := store.NewMemory()
	fx := simulation.NewFXTable()
	engine := simulation.NewEngine(st, cfg, fx, nil)
	return &fixture{st: st, engine: engine, fx: fx, gate: NewGate(st, engine)}
}

func (f *fixture) account(t *testing.T, id, currency, available string) {
	t.Helper()
	require.NoError(t, f.st.CreateAccount(context.Background(), &domain.Account{
		ID:               id,
		TenantID:         "t1",
		Type:             domain.AccountBusiness,
		Status:           domain.AccountActive,
		VerificationTier: 3,
		Currency:         currency,
		Balances: map[string]domain.Balance{
			currency: {Currency: currency, Available: dec(available)},
		},
	}))
}

func (f *fixture) available(t *testing.T, id, currency string) decimal.Decimal {
	t.Helper()
	a, err := f.st.GetAccount(context.Background(), "t1", id)
	require.NoError(t, err)
	return a.Balances[currency].Available
}

func (f *fixture) simulateTransfer(t *testing.T, amount, currency string) *domain.Simulation {
	t.Helper()
	sim, err := f.engine.Simulate(context.Background(), "t1", simulation.Request{
		ActionType: domain.ActionTransfer,
		Transfer: &simulation.TransferRequest{
			FromAccount: "acct_src", ToAccount: "acct_dst", Amount: amount, Currency: currency,
		},
	})
	require.NoError(t, err)
	require.True(t, sim.CanExecute, "errors: %+v", sim.Errors)
	return sim
}

func TestExecuteInternalTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct_src", "USD", "10000.00")
	f.account(t, "acct_dst", "USD", "0.00")

	sim := f.simulateTransfer(t, "1000.00", "USD")
	res, err := f.gate.Execute(ctx, "t1", sim.ID)
	require.NoError(t, err)

	assert.Equal(t, sim.ID, res.SimulationID)
	assert.Equal(t, "transfer", res.ResultType)
	require.NotNil(t, res.Variance)
	assert.Equal(t, "low", res.Variance.VarianceLevel)

	// 1000 principal + 5.00 platform fee leave the source; the destination
	// receives the principal.
	assert.True(t, f.available(t, "acct_src", "USD").Equal(dec("8995.00")))
	assert.True(t, f.available(t, "acct_dst", "USD").Equal(dec("1000.00")))

	transfer := res.Entity.(*domain.Transfer)
	assert.Equal(t, domain.TransferCompleted, transfer.Status, "internal rail settles immediately")
	assert.NotNil(t, transfer.CompletedAt)
	assert.Equal(t, domain.RailInternal, transfer.Rail)

	stored, err := f.st.GetSimulation(ctx, "t1", sim.ID)
	require.NoError(t, err)
	assert.True(t, stored.Executed)
	assert.Equal(t, res.ResultID, stored.ExecutionResultID)
	assert.Equal(t, "transfer", stored.ExecutionResultType)
}

func TestExecuteCrossBorderTransferStaysProcessing(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acct_src", "USD", "10000.00")
	f.account(t, "acct_dst", "BRL", "0.00")

	sim := f.simulateTransfer(t, "1000.00", "USD")
	res, err := f.gate.Execute(context.Background(), "t1", sim.ID)
	require.NoError(t, err)

	transfer := res.Entity.(*domain.Transfer)
	assert.Equal(t, domain.TransferProcessing, transfer.Status, "pix settlement is asynchronous")
	assert.Equal(t, domain.RailPix, transfer.Rail)
	require.NotNil(t, transfer.FXRate)
	assert.Equal(t, "BRL", transfer.DestinationCurrency)

	// Debit = 1000 + 8.50 fees; credit = 1000 * 5.10 * (1 - 0.0035).
	assert.True(t, f.available(t, "acct_src", "USD").Equal(dec("8991.50")))
	assert.True(t, f.available(t, "acct_dst", "BRL").Equal(dec("5082.15")))
	assert.True(t, transfer.Fees.Total.Equal(dec("8.50")))
	assert.True(t, transfer.Fees.RailFee.Equal(dec("1.50")))
}

func TestExecuteSecondAttemptReplaysOriginalResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct_src", "USD", "10000.00")
	f.account(t, "acct_dst", "USD", "0.00")

	sim := f.simulateTransfer(t, "100.00", "USD")
	first, err := f.gate.Execute(ctx, "t1", sim.ID)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.gate.Execute(ctx, "t1", sim.ID)
	require.NoError(t, err, "a repeat call is not an error")
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ResultID, second.ResultID)
	assert.Equal(t, first.ResultType, second.ResultType)
	require.NotNil(t, second.Entity)

	// Money moved exactly once.
	assert.True(t, f.available(t, "acct_src", "USD").Equal(dec("9899.50")))
}

func TestExecuteExpiredSimulation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.CreateSimulation(ctx, &domain.Simulation{
		ID:         "sim_old",
		TenantID:   "t1",
		ActionType: domain.ActionTransfer,
		Status:     domain.SimulationCompleted,
		CanExecute: true,
		CreatedAt:  time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().UTC().Add(-time.Hour),
	}))

	_, err := f.gate.Execute(ctx, "t1", "sim_old")
	require.Error(t, err)
	assert.Equal(t, apierr.CodeSimulationExpired, apierr.From(err).Code)
}

func TestExecuteBlockedSimulation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct_src", "USD", "5.00")
	f.account(t, "acct_dst", "USD", "0.00")

	sim, err := f.engine.Simulate(ctx, "t1", simulation.Request{
		ActionType: domain.ActionTransfer,
		Transfer: &simulation.TransferRequest{
			FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "100.00", Currency: "USD",
		},
	})
	require.NoError(t, err)
	require.False(t, sim.CanExecute)

	_, err = f.gate.Execute(ctx, "t1", sim.ID)
	require.Error(t, err)
	assert.Equal(t, apierr.CodeSimulationCannotExecute, apierr.From(err).Code)
}

func TestExecuteStaleWhenWorldChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct_src", "USD", "1000.00")
	f.account(t, "acct_dst", "USD", "0.00")

	sim := f.simulateTransfer(t, "900.00", "USD")

	// The balance drains between simulation and execution.
	require.NoError(t, f.st.DebitAvailable(ctx, "t1", "acct_src", "USD", dec("950.00")))

	_, err := f.gate.Execute(ctx, "t1", sim.ID)
	require.Error(t, err)
	ae := apierr.From(err)
	assert.Equal(t, apierr.CodeSimulationStale, ae.Code)
	assert.NotNil(t, ae.Details["original_preview"])
	assert.NotNil(t, ae.Details["current_preview"])
	assert.NotNil(t, ae.Details["new_errors"])

	// The claim was never taken; nothing moved.
	stored, _ := f.st.GetSimulation(ctx, "t1", sim.ID)
	assert.False(t, stored.Executed)
}

func TestExecuteFXVariance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct_src", "USD", "10000.00")
	f.account(t, "acct_dst", "BRL", "0.00")

	sim := f.simulateTransfer(t, "1000.00", "USD")

	t.Run("drift within tolerance reports medium", func(t *testing.T) {
		f.fx.SetRate("BRL", dec("5.15")) // ~0.98% move
		res, err := f.gate.Execute(ctx, "t1", sim.ID)
		require.NoError(t, err)
		assert.Equal(t, "medium", res.Variance.VarianceLevel)
		assert.NotEqual(t, "0.00%", res.Variance.FXRateChange)
	})

	t.Run("drift beyond 2 percent rejects", func(t *testing.T) {
		f.fx.SetRate("BRL", dec("5.10"))
		sim2 := f.simulateTransfer(t, "1000.00", "USD")
		f.fx.SetRate("BRL", dec("5.35")) // ~4.9% move

		_, err := f.gate.Execute(ctx, "t1", sim2.ID)
		require.Error(t, err)
		ae := apierr.From(err)
		assert.Equal(t, apierr.CodeSimulationFXVarianceExceeded, ae.Code)
		assert.NotNil(t, ae.Details["current_preview"])

		stored, _ := f.st.GetSimulation(ctx, "t1", sim2.ID)
		assert.False(t, stored.Executed, "variance rejection happens before the claim")
	})
}

func TestExecuteRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct_payer", "USD", "0.00")
	f.account(t, "acct_merchant", "USD", "500.00")

	completed := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.st.CreateTransfer(ctx, &domain.Transfer{
		ID: "tr_orig", TenantID: "t1",
		FromAccount: "acct_payer", ToAccount: "acct_merchant",
		Amount: dec("100.00"), Currency: "USD",
		Status: domain.TransferCompleted, CreatedAt: completed, CompletedAt: &completed,
	}))

	sim, err := f.engine.Simulate(ctx, "t1", simulation.Request{
		ActionType: domain.ActionRefund,
		Refund:     &simulation.RefundRequest{TransferID: "tr_orig", Amount: "40.00", Reason: "customer_request"},
	})
	require.NoError(t, err)
	require.True(t, sim.CanExecute, "errors: %+v", sim.Errors)

	res, err := f.gate.Execute(ctx, "t1", sim.ID)
	require.NoError(t, err)
	assert.Equal(t, "refund", res.ResultType)

	refund := res.Entity.(*domain.Refund)
	assert.Equal(t, "tr_orig", refund.OriginalTransfer)
	assert.Equal(t, domain.RefundCustomerRequest, refund.Reason)
	assert.Equal(t, "completed", refund.Status)

	assert.True(t, f.available(t, "acct_merchant", "USD").Equal(dec("460.00")))
	assert.True(t, f.available(t, "acct_payer", "USD").Equal(dec("40.00")))

	refunds, err := f.st.ListRefundsByTransfer(ctx, "t1", "tr_orig")
	require.NoError(t, err)
	require.Len(t, refunds, 1)
}

func TestExecuteRefundsNeverExceedOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct_payer", "USD", "0.00")
	f.account(t, "acct_merchant", "USD", "500.00")

	completed := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.st.CreateTransfer(ctx, &domain.Transfer{
		ID: "tr_orig", TenantID: "t1",
		FromAccount: "acct_payer", ToAccount: "acct_merchant",
		Amount: dec("100.00"), Currency: "USD",
		Status: domain.TransferCompleted, CreatedAt: completed, CompletedAt: &completed,
	}))

	// Two refunds simulated back to back; each alone fits, together they
	// would overdraw the original principal.
	simulate := func() *domain.Simulation {
		sim, err := f.engine.Simulate(ctx, "t1", simulation.Request{
			ActionType: domain.ActionRefund,
			Refund:     &simulation.RefundRequest{TransferID: "tr_orig", Amount: "60.00"},
		})
		require.NoError(t, err)
		require.True(t, sim.CanExecute, "errors: %+v", sim.Errors)
		return sim
	}
	simA := simulate()
	simB := simulate()

	_, err := f.gate.Execute(ctx, "t1", simA.ID)
	require.NoError(t, err)

	_, err = f.gate.Execute(ctx, "t1", simB.ID)
	require.Error(t, err, "the second 60 would push refunds past 100")

	refunds, err := f.st.ListRefundsByTransfer(ctx, "t1", "tr_orig")
	require.NoError(t, err)
	require.Len(t, refunds, 1, "only the first refund landed")
	assert.True(t, f.available(t, "acct_merchant", "USD").Equal(dec("440.00")))
	assert.True(t, f.available(t, "acct_payer", "USD").Equal(dec("60.00")))
}

func TestExecuteStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct_src", "USD", "10000.00")
	f.account(t, "acct_dst", "USD", "0.00")

	sim, err := f.engine.Simulate(ctx, "t1", simulation.Request{
		ActionType: domain.ActionStream,
		Stream: &simulation.StreamRequest{
			FromAccount: "acct_src", ToAccount: "acct_dst",
			AmountPerInterval: "100.00", Currency: "USD",
			IntervalSeconds: 3600, TotalIntervals: 5,
		},
	})
	require.NoError(t, err)
	require.True(t, sim.CanExecute, "errors: %+v", sim.Errors)

	res, err := f.gate.Execute(ctx, "t1", sim.ID)
	require.NoError(t, err)
	assert.Equal(t, "stream", res.ResultType)

	transfer := res.Entity.(*domain.Transfer)
	assert.True(t, transfer.Amount.Equal(dec("500.00")), "the full commitment moves")
	assert.Equal(t, domain.TransferCompleted, transfer.Status)

	// 500 + 2.50 platform fee.
	assert.True(t, f.available(t, "acct_src", "USD").Equal(dec("9497.50")))
	assert.True(t, f.available(t, "acct_dst", "USD").Equal(dec("500.00")))
}

func TestExecuteUnknownSimulation(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.Execute(context.Background(), "t1", "sim_ghost")
	require.Error(t, err)
	assert.Equal(t, apierr.CodeSimulationNotFound, apierr.From(err).Code)
}
