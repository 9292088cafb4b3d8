package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Environment selects which downstream facilitator and rail endpoints the
// process talks to.
type Environment string

const (
	EnvMock       Environment = "mock"
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// Services with per-service environment overrides.
var overridableServices = []string{"circle", "blockchain", "x402", "stripe", "compliance", "fx"}

// Feature flags gating rollout of individual integrations.
var knownFeatures = []string{
	"circle_payouts", "blockchain_settlement", "x402_facilitator", "stripe_fallback",
	"compliance_screening", "fx_live_rates", "ap2_mandates", "acp_checkouts",
	"batch_simulations", "context_cache", "webhook_delivery", "agent_policies",
}

// Config is the resolved runtime configuration.
type Config struct {
	Environment Environment
	ServiceEnvs map[string]Environment // per-service override, keyed by service name
	Features    map[string]bool
	APIKeys     map[string]string

	Port        string
	APIURL      string
	PostgresDSN string
	RedisURL    string

	Limits LimitsConfig
	Fees   FeesConfig
}

// LimitsConfig holds per-verification-tier caps, USD-equivalent.
type LimitsConfig struct {
	Tiers map[int]TierLimits `yaml:"tiers"`
}

// TierLimits are the per-transaction / daily / monthly caps for one tier.
type TierLimits struct {
	PerTransaction string `yaml:"per_transaction"`
	Daily          string `yaml:"daily"`
	Monthly        string `yaml:"monthly"`
}

// FeesConfig holds corridor flat fees by destination currency.
type FeesConfig struct {
	CorridorFlat map[string]string `yaml:"corridor_flat"` // currency -> flat fee in source currency
}

// fileConfig is the optional YAML layer for fee and limit tables.
type fileConfig struct {
	Limits LimitsConfig `yaml:"limits"`
	Fees   FeesConfig   `yaml:"fees"`
}

// Load resolves configuration from the environment plus an optional YAML
// file. A non-nil error here means the process should exit 1.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ServiceEnvs: map[string]Environment{},
		Features:    map[string]bool{},
		APIKeys:     map[string]string{},
		Limits:      defaultLimits(),
		Fees:        defaultFees(),
	}

	env := Environment(strings.ToLower(os.Getenv("PAYOS_ENVIRONMENT")))
	if env == "" {
		env = EnvMock
	}
	if env != EnvMock && env != EnvSandbox && env != EnvProduction {
		return nil, fmt.Errorf("config: invalid PAYOS_ENVIRONMENT %q (want mock|sandbox|production)", env)
	}
	cfg.Environment = env

	// Production must be explicit: refuse production-pointing services when
	// the process itself is not in production mode.
	for _, svc := range overridableServices {
		key := "PAYOS_" + strings.ToUpper(svc) + "_ENV"
		if v := os.Getenv(key); v != "" {
			se := Environment(strings.ToLower(v))
			if se != EnvMock && se != EnvSandbox && se != EnvProduction {
				return nil, fmt.Errorf("config: invalid %s %q", key, v)
			}
			if se == EnvProduction && env != EnvProduction {
				return nil, fmt.Errorf("config: %s=production is not allowed while PAYOS_ENVIRONMENT=%s", key, env)
			}
			cfg.ServiceEnvs[svc] = se
		} else {
			cfg.ServiceEnvs[svc] = env
		}
		if k := os.Getenv("PAYOS_" + strings.ToUpper(svc) + "_API_KEY"); k != "" {
			cfg.APIKeys[svc] = k
		}
	}

	// Required credentials for non-mock service environments.
	for svc, se := range cfg.ServiceEnvs {
		if se != EnvMock && cfg.APIKeys[svc] == "" {
			return nil, fmt.Errorf("config: PAYOS_%s_API_KEY is required when %s env is %s",
				strings.ToUpper(svc), svc, se)
		}
	}

	for _, f := range knownFeatures {
		key := "PAYOS_FEATURE_" + strings.ToUpper(f)
		cfg.Features[f] = os.Getenv(key) == "true" || os.Getenv(key) == "1"
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	cfg.APIURL = os.Getenv("PAYOS_API_URL")
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:" + cfg.Port
	}
	cfg.PostgresDSN = os.Getenv("PAYOS_POSTGRES_DSN")
	cfg.RedisURL = os.Getenv("PAYOS_REDIS_URL")

	if env != EnvMock && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("config: PAYOS_POSTGRES_DSN is required when PAYOS_ENVIRONMENT=%s", env)
	}

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // file layer is optional
		}
		return err
	}
	defer f.Close()

	var fc fileConfig
	if err := yaml.NewDecoder(f).Decode(&fc); err != nil {
		return fmt.Errorf("config: parse %s: %v", path, err)
	}
	for tier, limits := range fc.Limits.Tiers {
		c.Limits.Tiers[tier] = limits
	}
	for cur, fee := range fc.Fees.CorridorFlat {
		c.Fees.CorridorFlat[cur] = fee
	}
	return nil
}

// FeatureEnabled reports whether a named flag is on.
func (c *Config) FeatureEnabled(name string) bool {
	return c.Features[name]
}

// ServiceEnv returns the effective environment for a downstream service.
func (c *Config) ServiceEnv(service string) Environment {
	if se, ok := c.ServiceEnvs[service]; ok {
		return se
	}
	return c.Environment
}

func defaultLimits() LimitsConfig {
	return LimitsConfig{Tiers: map[int]TierLimits{
		0: {PerTransaction: "500", Daily: "1000", Monthly: "5000"},
		1: {PerTransaction: "5000", Daily: "10000", Monthly: "50000"},
		2: {PerTransaction: "25000", Daily: "50000", Monthly: "250000"},
		3: {PerTransaction: "100000", Daily: "100000", Monthly: "1000000"},
	}}
}

func defaultFees() FeesConfig {
	return FeesConfig{CorridorFlat: map[string]string{
		"BRL": "1.50",
	}}
}
