package simulation

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/config"
	"github.com/haxaco/payos-sub010/internal/domain"
)

// Emerging-market currencies carry the wider FX spread.
var emergingMarket = map[string]bool{
	"BRL": true, "MXN": true, "ARS": true, "COP": true,
}

var (
	spreadEM       = decimal.RequireFromString("0.0035") // 0.35%
	spreadStandard = decimal.RequireFromString("0.0020") // 0.20%

	platformFeeRate    = decimal.RequireFromString("0.005") // 0.5%
	crossBorderFeeRate = decimal.RequireFromString("0.002") // 0.2%

	hundred = decimal.NewFromInt(100)
)

// FXTable quotes conversion rates. Rates are expressed as units of quote
// currency per unit of base currency, derived from per-USD marks. The mock
// table is static; live rates land here when the fx feature flag is on.
type FXTable struct {
	mu sync.RWMutex
	// perUSD holds units of currency per 1 USD.
	perUSD map[string]decimal.Decimal
	// recent holds the last observed mid rate per pair, for the
	// rate-worse-than-recent warning.
	recent map[string]decimal.Decimal
}

// NewFXTable builds the static sandbox table.
func NewFXTable() *FXTable {
	perUSD := map[string]decimal.Decimal{
		"USD":  decimal.NewFromInt(1),
		"USDC": decimal.NewFromInt(1),
		"EUR":  decimal.RequireFromString("0.92"),
		"BRL":  decimal.RequireFromString("5.10"),
		"MXN":  decimal.RequireFromString("17.15"),
		"ARS":  decimal.RequireFromString("985.50"),
		"COP":  decimal.RequireFromString("4150.00"),
	}
	return &FXTable{perUSD: perUSD, recent: map[string]decimal.Decimal{}}
}

// Rate returns the mid rate for from->to, ok=false when either side is
// unsupported.
func (t *FXTable) Rate(from, to string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, okF := t.perUSD[from]
	q, okT := t.perUSD[to]
	if !okF || !okT || f.IsZero() {
		return decimal.Zero, false
	}
	return q.Div(f).Round(8), true
}

// SetRate overrides a per-USD mark. Used by the live-rates feed and tests.
func (t *FXTable) SetRate(currency string, perUSD decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perUSD[currency] = perUSD
}

// RecordRecent remembers the last quoted mid rate for a pair.
func (t *FXTable) RecordRecent(from, to string, rate decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recent[from+"/"+to] = rate
}

// Recent returns the previously quoted rate for a pair, if any.
func (t *FXTable) Recent(from, to string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.recent[from+"/"+to]
	return r, ok
}

// Spread returns the FX spread applied when converting into `to`.
func Spread(to string) decimal.Decimal {
	if emergingMarket[to] {
		return spreadEM
	}
	return spreadStandard
}

// SpreadPercent renders the spread as a display percentage ("0.35%").
func SpreadPercent(to string) string {
	return Spread(to).Mul(hundred).StringFixed(2) + "%"
}

// SelectRail picks the settlement rail and estimated duration for a
// destination currency.
func SelectRail(sourceCurrency, destCurrency string) (domain.Rail, int) {
	if destCurrency == "" || destCurrency == sourceCurrency ||
		destCurrency == "USD" || destCurrency == "USDC" {
		return domain.RailInternal, 5
	}
	switch destCurrency {
	case "BRL":
		return domain.RailPix, 120
	case "MXN":
		return domain.RailSPEI, 180
	case "ARS":
		return domain.RailCVU, 300
	case "COP":
		return domain.RailPSE, 600
	}
	return domain.RailWire, 86400
}

// TierCaps resolves the per-tx/daily/monthly caps for a verification tier.
// Tiers above 3 share the tier-3 caps.
func TierCaps(cfg *config.Config, tier int) (perTx, daily, monthly decimal.Decimal) {
	if tier > 3 {
		tier = 3
	}
	limits, ok := cfg.Limits.Tiers[tier]
	if !ok {
		limits = cfg.Limits.Tiers[0]
	}
	perTx = decimal.RequireFromString(limits.PerTransaction)
	daily = decimal.RequireFromString(limits.Daily)
	monthly = decimal.RequireFromString(limits.Monthly)
	return
}

// CorridorFlatFee returns the flat fee for a destination currency, zero when
// none is configured.
func CorridorFlatFee(cfg *config.Config, destCurrency string) decimal.Decimal {
	if v, ok := cfg.Fees.CorridorFlat[destCurrency]; ok {
		return decimal.RequireFromString(v)
	}
	return decimal.Zero
}

// RailMaintenance reports whether a rail is inside its maintenance window.
// SPEI closes 22:00-06:00 UTC; other rails have no scheduled window.
func RailMaintenance(rail domain.Rail, now time.Time) bool {
	if rail != domain.RailSPEI {
		return false
	}
	h := now.UTC().Hour()
	return h >= 22 || h < 6
}

// RailWeekendDelay reports whether a rail settles slower on weekends.
func RailWeekendDelay(rail domain.Rail, now time.Time) bool {
	if rail == domain.RailInternal || rail == domain.RailPix {
		// Pix and internal settle 24/7.
		return false
	}
	wd := now.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
