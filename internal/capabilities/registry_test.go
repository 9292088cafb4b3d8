package capabilities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haxaco/payos-sub010/internal/config"
)

func mockRegistry() *Registry {
	return NewRegistry(&config.Config{
		Environment: config.EnvMock,
		Features:    map[string]bool{},
	})
}

func names(caps []Capability) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, c.Name)
	}
	return out
}

func TestListAllCategories(t *testing.T) {
	r := mockRegistry()

	rails := r.List("t1", "rail", "")
	assert.ElementsMatch(t, []string{"internal", "pix", "spei", "cvu", "pse", "wire"}, names(rails))

	currencies := r.List("t1", "currency", "")
	assert.ElementsMatch(t, []string{"USD", "USDC", "EUR", "BRL", "MXN", "ARS", "COP"}, names(currencies))

	protocols := r.List("t1", "protocol", "")
	assert.ElementsMatch(t, []string{"x402", "ap2", "acp"}, names(protocols))

	ops := r.List("t1", "operation", "")
	assert.Len(t, ops, 9)
}

func TestListNameFilterIsCaseInsensitive(t *testing.T) {
	r := mockRegistry()

	got := r.List("t1", "", "PIX")
	require.Len(t, got, 1)
	assert.Equal(t, "pix", got[0].Name)

	got = r.List("t1", "operation", "checkout")
	assert.ElementsMatch(t, []string{"create_checkout", "complete_checkout"}, names(got))
}

func TestListIsSortedByCategoryThenName(t *testing.T) {
	r := mockRegistry()
	all := r.List("t1", "", "")
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Category == cur.Category {
			assert.Less(t, prev.Name, cur.Name)
		} else {
			assert.Less(t, prev.Category, cur.Category)
		}
	}
}

func TestProtocolsAlwaysOnOutsideProduction(t *testing.T) {
	r := mockRegistry()
	for _, p := range r.List("t1", "protocol", "") {
		assert.True(t, p.Enabled, "%s is live in mock regardless of flags", p.Name)
	}
}

func TestProductionGatesProtocolsByFlag(t *testing.T) {
	r := NewRegistry(&config.Config{
		Environment: config.EnvProduction,
		Features:    map[string]bool{"x402_facilitator": true},
	})

	enabled := map[string]bool{}
	for _, p := range r.List("t1", "protocol", "") {
		enabled[p.Name] = p.Enabled
	}
	assert.True(t, enabled["x402"])
	assert.False(t, enabled["ap2"])
	assert.False(t, enabled["acp"])
}

func TestToolsShapedForFunctionCalling(t *testing.T) {
	r := mockRegistry()
	tools := r.Tools("t1")
	require.Len(t, tools, 9)

	byName := map[string]Tool{}
	for _, tool := range tools {
		assert.NotEmpty(t, tool.Method)
		assert.NotEmpty(t, tool.Path)
		assert.NotNil(t, tool.Parameters)
		byName[tool.Name] = tool
	}

	sim := byName["simulate_payment"]
	assert.Equal(t, "POST", sim.Method)
	assert.Equal(t, "/v1/simulate", sim.Path)

	exec := byName["execute_simulation"]
	assert.Equal(t, "/v1/simulations/{id}/execute", exec.Path)

	batch := byName["simulate_batch"]
	assert.Contains(t, batch.Parameters, "simulations", "batch tool takes a simulations array")
	assert.NotContains(t, batch.Parameters, "items")
}

func TestOperationMetadataIsSelfDescribing(t *testing.T) {
	r := mockRegistry()

	for _, op := range r.List("t1", "operation", "") {
		require.NotNil(t, op.Metadata, "operation %s", op.Name)
		assert.Contains(t, op.Metadata, "parameters_schema", "operation %s", op.Name)
		assert.Contains(t, op.Metadata, "returns_schema", "operation %s", op.Name)
		assert.Contains(t, op.Metadata, "supports_simulation", "operation %s", op.Name)
		assert.Contains(t, op.Metadata, "supports_idempotency", "operation %s", op.Name)
		codes, ok := op.Metadata["error_codes"].([]string)
		require.True(t, ok, "operation %s", op.Name)
		assert.NotEmpty(t, codes, "operation %s declares its failure modes", op.Name)
	}

	byName := map[string]Capability{}
	for _, op := range r.List("t1", "operation", "") {
		byName[op.Name] = op
	}
	assert.Equal(t, true, byName["simulate_payment"].Metadata["supports_simulation"])
	assert.Equal(t, false, byName["get_account_context"].Metadata["supports_idempotency"])
	assert.Contains(t, byName["execute_simulation"].Metadata["error_codes"], "SIMULATION_EXPIRED")
}

func TestCatalogAdvertisesLimitsAndWebhookEvents(t *testing.T) {
	r := mockRegistry()

	limits := map[string]Capability{}
	for _, c := range r.List("t1", "limit", "") {
		limits[c.Name] = c
	}
	require.Contains(t, limits, "max_batch_items")
	assert.Equal(t, 1000, limits["max_batch_items"].Metadata["value"])
	require.Contains(t, limits, "refund_window_days")
	assert.Equal(t, 30, limits["refund_window_days"].Metadata["value"])
	require.Contains(t, limits, "simulation_ttl_seconds")
	assert.Equal(t, 3600, limits["simulation_ttl_seconds"].Metadata["value"])

	events := names(r.List("t1", "webhook_event", ""))
	assert.Len(t, events, 13)
	assert.Contains(t, events, "transfer.completed")
	assert.Contains(t, events, "x402.settlement_failed")
	assert.Contains(t, events, "mandate.expired")
}

func TestSnapshotCachedUntilTTL(t *testing.T) {
	r := mockRegistry()
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	first := r.snapshot("t1")
	now = now.Add(cacheTTL - time.Minute)
	assert.Same(t, first, r.snapshot("t1"), "inside the TTL the snapshot is reused")

	now = now.Add(2 * time.Minute)
	assert.NotSame(t, first, r.snapshot("t1"), "past the TTL the set is rebuilt")
}

func TestInvalidateForcesRebuild(t *testing.T) {
	r := mockRegistry()
	first := r.snapshot("t1")
	other := r.snapshot("t2")

	r.Invalidate("t1")
	assert.NotSame(t, first, r.snapshot("t1"))
	assert.Same(t, other, r.snapshot("t2"), "other tenants keep their snapshot")
}
