package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxaco/payos-sub010/internal/config"
	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/execution"
	"github.com/haxaco/payos-sub010/internal/metrics"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/simulation"
	"github.com/haxaco/payos-sub010/internal/store"
)

var (
	metricsOnce sync.Once
	testMetrics *metrics.Metrics
)

// newTestMetrics returns a process-wide instance; Prometheus collectors can
// only register once.
func newTestMetrics() *metrics.Metrics {
	metricsOnce.Do(func() { testMetrics = metrics.NewMetrics() })
	return testMetrics
}

type executeFixture struct {
	st     *store.Memory
	engine *simulation.Engine
	gate   *execution.Gate
	cache  *contextview.Cache
}

func newExecuteFixture(t *testing.T) *executeFixture {
	t.Helper()
	cfg := &config.Config{
		Environment: config.EnvMock,
		Limits: config.LimitsConfig{Tiers: map[int]config.TierLimits{
			3: {PerTransaction: "100000", Daily: "100000", Monthly: "1000000"},
		}},
	}
	st := store.NewMemory()
	engine := simulation.NewEngine(st, cfg, simulation.NewFXTable(), nil)
	cache := contextview.NewCache()
	t.Cleanup(cache.Close)
	return &executeFixture{st: st, engine: engine, gate: execution.NewGate(st, engine), cache: cache}
}

func (f *executeFixture) account(t *testing.T, id, available string) {
	t.Helper()
	require.NoError(t, f.st.CreateAccount(context.Background(), &domain.Account{
		ID:               id,
		TenantID:         "t1",
		Type:             domain.AccountBusiness,
		Status:           domain.AccountActive,
		VerificationTier: 3,
		Currency:         "USD",
		Balances: map[string]domain.Balance{
			"USD": {Currency: "USD", Available: decimal.RequireFromString(available)},
		},
	}))
}

func executeReq(simID string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/simulations/"+simID+"/execute", nil)
	r = r.WithContext(middleware.WithTenant(r.Context(), "t1"))
	return mux.SetURLVars(r, map[string]string{"id": simID})
}

func TestExecuteDropsMovedAccountViews(t *testing.T) {
	f := newExecuteFixture(t)
	f.account(t, "acct_src", "10000.00")
	f.account(t, "acct_dst", "0.00")

	sim, err := f.engine.Simulate(context.Background(), "t1", simulation.Request{
		ActionType: domain.ActionTransfer,
		Transfer: &simulation.TransferRequest{
			FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "100.00", Currency: "USD",
		},
	})
	require.NoError(t, err)
	require.True(t, sim.CanExecute)

	keys := []string{
		"t1:/v1/context/accounts/acct_src",
		"t1:/v1/context/accounts/acct_dst",
		"t1:/v1/context/accounts/acct_other",
	}
	for _, k := range keys {
		f.cache.Put(k, []byte("{}"), time.Minute)
	}

	handler := ExecuteSimulation(f.gate, f.cache, nil, newTestMetrics())
	res, err := handler(executeReq(sim.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)

	_, srcCached := f.cache.Get(keys[0])
	_, dstCached := f.cache.Get(keys[1])
	_, otherCached := f.cache.Get(keys[2])
	assert.False(t, srcCached, "source account view is stale after the debit")
	assert.False(t, dstCached, "destination account view is stale after the credit")
	assert.True(t, otherCached, "unrelated account views survive")
}

func TestRefundExecutionDropsBothPartyViews(t *testing.T) {
	f := newExecuteFixture(t)
	f.account(t, "acct_payer", "0.00")
	f.account(t, "acct_merchant", "500.00")

	completed := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.st.CreateTransfer(context.Background(), &domain.Transfer{
		ID: "tr_orig", TenantID: "t1",
		FromAccount: "acct_payer", ToAccount: "acct_merchant",
		Amount: decimal.RequireFromString("200.00"), Currency: "USD",
		Status: domain.TransferCompleted, Rail: domain.RailInternal,
		CreatedAt: completed, CompletedAt: &completed,
	}))

	sim, err := f.engine.Simulate(context.Background(), "t1", simulation.Request{
		ActionType: domain.ActionRefund,
		Refund:     &simulation.RefundRequest{TransferID: "tr_orig", Amount: "50.00"},
	})
	require.NoError(t, err)
	require.True(t, sim.CanExecute, "errors: %+v", sim.Errors)

	payerKey := "t1:/v1/context/accounts/acct_payer"
	merchantKey := "t1:/v1/context/accounts/acct_merchant"
	f.cache.Put(payerKey, []byte("{}"), time.Minute)
	f.cache.Put(merchantKey, []byte("{}"), time.Minute)

	handler := ExecuteSimulation(f.gate, f.cache, nil, newTestMetrics())
	_, err = handler(executeReq(sim.ID))
	require.NoError(t, err)

	_, payerCached := f.cache.Get(payerKey)
	_, merchantCached := f.cache.Get(merchantKey)
	assert.False(t, payerCached, "refund credits the payer")
	assert.False(t, merchantCached, "refund debits the merchant")
}
