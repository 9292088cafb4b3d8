package simulation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/store"
)

func TestBatchCumulativeBalance(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	// 250 available: item 1 (100 + 0.50 fee) passes, item 2 (100 + 0.50)
	// passes, item 3 fails because the first two already consumed 201.00
	// of the shared view.
	addAccount(t, st, &domain.Account{
		ID: "acct_src", VerificationTier: 2, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Available: dec("250.00")}},
	})
	addAccount(t, st, &domain.Account{ID: "acct_dst", VerificationTier: 2, Currency: "USD"})

	item := TransferRequest{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "100.00", Currency: "USD"}
	res, err := e.SimulateBatch(ctx, "t1", BatchRequest{Simulations: []TransferRequest{item, item, item}})
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.True(t, res.Items[0].CanExecute)
	assert.True(t, res.Items[1].CanExecute)
	assert.False(t, res.Items[2].CanExecute, "third item must see the balance after the first two")
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.CanExecuteAll)
	assert.Equal(t, "200.00", res.Totals.AmountByCurrency["USD"])
	assert.Equal(t, "1.00", res.Totals.FeesByCurrency["USD"], "0.50 platform fee per executable item")
	assert.Equal(t, BatchBucket{Count: 2, Total: "200.00"}, res.Summary.ByCurrency["USD"])

	// The real balance is untouched: batches only simulate.
	a, _ := st.GetAccount(ctx, "t1", "acct_src")
	assert.True(t, a.Balances["USD"].Available.Equal(dec("250.00")))

	// Item 3's error reflects the cumulative view.
	found := false
	for _, se := range res.Items[2].Errors {
		if se.Code == "INSUFFICIENT_BALANCE" {
			found = true
			assert.Equal(t, "49.00", se.Details["available"], "250 - 2*100.50")
		}
	}
	assert.True(t, found, "errors: %+v", res.Items[2].Errors)
}

func TestBatchMirrorCreditsDestination(t *testing.T) {
	e, st := newTestEngine(t)
	addAccount(t, st, &domain.Account{
		ID: "acct_a", VerificationTier: 2, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Available: dec("200.00")}},
	})
	addAccount(t, st, &domain.Account{ID: "acct_b", VerificationTier: 2, Currency: "USD"})
	addAccount(t, st, &domain.Account{ID: "acct_c", VerificationTier: 2, Currency: "USD"})

	// acct_b has nothing; item 2 is funded entirely by item 1's payout
	// inside the shared view.
	res, err := e.SimulateBatch(context.Background(), "t1", BatchRequest{Simulations: []TransferRequest{
		{FromAccount: "acct_a", ToAccount: "acct_b", Amount: "100.00", Currency: "USD"},
		{FromAccount: "acct_b", ToAccount: "acct_c", Amount: "50.00", Currency: "USD"},
	}})
	require.NoError(t, err)
	assert.True(t, res.Items[0].CanExecute)
	assert.True(t, res.Items[1].CanExecute, "item 1's payout funds item 2")
	assert.True(t, res.CanExecuteAll)
	assert.Equal(t, BatchBucket{Count: 2, Total: "150.00"}, res.Summary.ByRail["internal"])
}

func TestBatchStopOnFirstError(t *testing.T) {
	e, st := newTestEngine(t)
	addAccount(t, st, &domain.Account{
		ID: "acct_src", VerificationTier: 2, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Available: dec("50.00")}},
	})
	addAccount(t, st, &domain.Account{ID: "acct_dst", VerificationTier: 2, Currency: "USD"})

	ok := TransferRequest{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "10.00", Currency: "USD"}
	bad := TransferRequest{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "500.00", Currency: "USD"}

	res, err := e.SimulateBatch(context.Background(), "t1", BatchRequest{
		Simulations:      []TransferRequest{ok, bad, ok, ok},
		StopOnFirstError: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 3, res.Failed, "the blocked item plus two skipped ones")
	assert.True(t, res.Stopped)
	assert.False(t, res.CanExecuteAll)

	for _, i := range []int{2, 3} {
		require.NotEmpty(t, res.Items[i].Errors)
		assert.Equal(t, "BATCH_STOPPED", res.Items[i].Errors[0].Code)
		assert.Equal(t, 1, res.Items[i].Errors[0].Details["stopped_at_index"])
		assert.Empty(t, res.Items[i].SimulationID, "skipped items are not simulated")
	}
}

func TestBatchMalformedItemReportedInPlace(t *testing.T) {
	e, st := newTestEngine(t)
	addAccount(t, st, &domain.Account{
		ID: "acct_src", VerificationTier: 2, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Available: dec("100.00")}},
	})
	addAccount(t, st, &domain.Account{ID: "acct_dst", VerificationTier: 2, Currency: "USD"})

	res, err := e.SimulateBatch(context.Background(), "t1", BatchRequest{Simulations: []TransferRequest{
		{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "not-a-number", Currency: "USD"},
		{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "10.00", Currency: "USD"},
	}})
	require.NoError(t, err, "a malformed item must not fail the whole batch")
	assert.False(t, res.Items[0].CanExecute)
	assert.Equal(t, "INVALID_DECIMAL_FORMAT", res.Items[0].Errors[0].Code)
	assert.True(t, res.Items[1].CanExecute)
}

func TestBatchSizeLimits(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.SimulateBatch(ctx, "t1", BatchRequest{})
	require.Error(t, err)
	assert.Equal(t, "BATCH_EMPTY", string(apierrCode(err)))

	items := make([]TransferRequest, MaxBatchItems+1)
	for i := range items {
		items[i] = TransferRequest{FromAccount: "a", ToAccount: "b", Amount: "1", Currency: "USD"}
	}
	_, err = e.SimulateBatch(ctx, "t1", BatchRequest{Simulations: items})
	require.Error(t, err)
	assert.Equal(t, "BATCH_SIZE_EXCEEDED", string(apierrCode(err)))
}

func TestBatchAcceptsSimulationsAndLegacyItems(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	addAccount(t, st, &domain.Account{
		ID: "acct_src", VerificationTier: 2, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Available: dec("100.00")}},
	})
	addAccount(t, st, &domain.Account{ID: "acct_dst", VerificationTier: 2, Currency: "USD"})

	var req BatchRequest
	require.NoError(t, json.Unmarshal([]byte(`{"simulations":[
		{"from_account":"acct_src","to_account":"acct_dst","amount":"10.00","currency":"USD"}
	]}`), &req))
	res, err := e.SimulateBatch(ctx, "t1", req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
	assert.True(t, res.CanExecuteAll)

	// Older clients still send items.
	item := TransferRequest{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "10.00", Currency: "USD"}
	res, err = e.SimulateBatch(ctx, "t1", BatchRequest{Items: []TransferRequest{item}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)

	// When both are sent, simulations wins.
	res, err = e.SimulateBatch(ctx, "t1", BatchRequest{
		Simulations: []TransferRequest{item, item},
		Items:       []TransferRequest{item},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
}

func TestBatchLimitUsageIsCumulative(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	// Tier 0 daily cap is 1000; 600 already moved today.
	addAccount(t, st, &domain.Account{
		ID: "acct_src", VerificationTier: 0, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Available: dec("5000.00")}},
	})
	addAccount(t, st, &domain.Account{ID: "acct_dst", VerificationTier: 2, Currency: "USD"})
	require.NoError(t, st.CreateTransfer(ctx, &domain.Transfer{
		ID: "tr_prior", TenantID: "t1", FromAccount: "acct_src", ToAccount: "acct_dst",
		Amount: dec("600.00"), Currency: "USD", Status: domain.TransferCompleted,
		CreatedAt: testNow.Add(-2 * time.Hour),
	}))

	item := TransferRequest{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "300.00", Currency: "USD"}
	res, err := e.SimulateBatch(ctx, "t1", BatchRequest{Simulations: []TransferRequest{item, item}})
	require.NoError(t, err)

	assert.True(t, res.Items[0].CanExecute, "600 + 300 fits the 1000 daily cap")
	require.False(t, res.Items[1].CanExecute, "900 + 300 does not")
	require.NotEmpty(t, res.Items[1].Errors)
	se := res.Items[1].Errors[0]
	assert.Equal(t, "LIMIT_EXCEEDED", se.Code)
	assert.Equal(t, "daily", se.Details["kind"])
}

// listCountingStore counts the usage lookups a batch issues.
type listCountingStore struct {
	*store.Memory
	listCalls int
}

func (s *listCountingStore) ListTransfersByAccount(ctx context.Context, tenantID, accountID string, since time.Time, limit int) ([]*domain.Transfer, error) {
	s.listCalls++
	return s.Memory.ListTransfersByAccount(ctx, tenantID, accountID, since, limit)
}

func TestBatchPrefetchesUsagePerAccount(t *testing.T) {
	st := store.NewMemory()
	counting := &listCountingStore{Memory: st}
	e := NewEngine(counting, testConfig(), NewFXTable(), nil)
	e.now = func() time.Time { return testNow }

	addAccount(t, st, &domain.Account{
		ID: "acct_src", VerificationTier: 2, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Available: dec("1000.00")}},
	})
	addAccount(t, st, &domain.Account{ID: "acct_dst", VerificationTier: 2, Currency: "USD"})

	item := TransferRequest{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "10.00", Currency: "USD"}
	_, err := e.SimulateBatch(context.Background(), "t1", BatchRequest{
		Simulations: []TransferRequest{item, item, item, item, item},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, counting.listCalls, "one usage lookup per source account, not per item")
}

func TestBatchSnapshotPersisted(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	addAccount(t, st, &domain.Account{
		ID: "acct_src", VerificationTier: 2, Currency: "USD",
		Balances: map[string]domain.Balance{"USD": {Available: dec("100.00")}},
	})
	addAccount(t, st, &domain.Account{ID: "acct_dst", VerificationTier: 2, Currency: "USD"})

	res, err := e.SimulateBatch(ctx, "t1", BatchRequest{Simulations: []TransferRequest{
		{FromAccount: "acct_src", ToAccount: "acct_dst", Amount: "10.00", Currency: "USD"},
	}})
	require.NoError(t, err)

	snap, err := st.GetBatchSnapshot(ctx, "t1", res.BatchID)
	require.NoError(t, err)
	assert.Contains(t, string(snap), res.BatchID)

	// Per-item simulations are individually retrievable and executable.
	sim, err := st.GetSimulation(ctx, "t1", res.Items[0].SimulationID)
	require.NoError(t, err)
	assert.True(t, sim.CanExecute)
}
