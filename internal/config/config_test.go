package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv strips every PAYOS_* variable so tests start from a clean slate;
// t.Setenv registers the restore.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		key, _, _ := strings.Cut(e, "=")
		if strings.HasPrefix(key, "PAYOS_") || key == "PORT" {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvMock, cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.APIURL)

	// Every known flag resolves, defaulting off.
	assert.False(t, cfg.FeatureEnabled("x402_facilitator"))
	assert.False(t, cfg.FeatureEnabled("ap2_mandates"))

	// Built-in tier and fee tables.
	assert.Equal(t, "500", cfg.Limits.Tiers[0].PerTransaction)
	assert.Equal(t, "1000000", cfg.Limits.Tiers[3].Monthly)
	assert.Equal(t, "1.50", cfg.Fees.CorridorFlat["BRL"])
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYOS_ENVIRONMENT", "staging")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadServiceOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYOS_ENVIRONMENT", "sandbox")
	t.Setenv("PAYOS_POSTGRES_DSN", "postgres://payos@localhost/payos")
	t.Setenv("PAYOS_FX_ENV", "mock")
	for _, svc := range []string{"CIRCLE", "BLOCKCHAIN", "X402", "STRIPE", "COMPLIANCE"} {
		t.Setenv("PAYOS_"+svc+"_API_KEY", "key_"+svc)
	}

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvSandbox, cfg.Environment)
	assert.Equal(t, EnvMock, cfg.ServiceEnv("fx"), "explicit override wins")
	assert.Equal(t, EnvSandbox, cfg.ServiceEnv("circle"), "others inherit the process env")
	assert.Equal(t, EnvSandbox, cfg.ServiceEnv("unknown_service"))
}

func TestLoadRefusesStealthProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYOS_ENVIRONMENT", "sandbox")
	t.Setenv("PAYOS_CIRCLE_ENV", "production")
	t.Setenv("PAYOS_CIRCLE_API_KEY", "key")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestLoadRequiresKeysOutsideMock(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYOS_ENVIRONMENT", "mock")
	t.Setenv("PAYOS_CIRCLE_ENV", "sandbox")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYOS_CIRCLE_API_KEY")
}

func TestLoadRequiresPostgresOutsideMock(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYOS_ENVIRONMENT", "sandbox")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYOS_POSTGRES_DSN")
}

func TestLoadFeatureFlagForms(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYOS_FEATURE_X402_FACILITATOR", "true")
	t.Setenv("PAYOS_FEATURE_AP2_MANDATES", "1")
	t.Setenv("PAYOS_FEATURE_ACP_CHECKOUTS", "yes")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.FeatureEnabled("x402_facilitator"))
	assert.True(t, cfg.FeatureEnabled("ap2_mandates"))
	assert.False(t, cfg.FeatureEnabled("acp_checkouts"), `only "true" and "1" count`)
	assert.False(t, cfg.FeatureEnabled("made_up_flag"))
}

func TestLoadMergesYAMLLayer(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "payos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
limits:
  tiers:
    0:
      per_transaction: "750"
      daily: "1500"
      monthly: "6000"
fees:
  corridor_flat:
    MXN: "2.25"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "750", cfg.Limits.Tiers[0].PerTransaction, "file layer overrides the default")
	assert.Equal(t, "5000", cfg.Limits.Tiers[1].PerTransaction, "untouched tiers keep defaults")
	assert.Equal(t, "2.25", cfg.Fees.CorridorFlat["MXN"])
	assert.Equal(t, "1.50", cfg.Fees.CorridorFlat["BRL"])
}

func TestLoadMissingYAMLFileIsOptional(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "500", cfg.Limits.Tiers[0].PerTransaction)
}
