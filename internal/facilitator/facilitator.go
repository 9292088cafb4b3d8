// Package facilitator is the sandbox x402 facilitator: it verifies and
// settles exact-scheme EVM payment payloads without touching a chain.
// Settlement mints a well-formed transaction hash; deterministic failure
// injection lets integrators exercise their error paths.
package facilitator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	mrand "math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Supported scheme/network pairs.
var supportedKinds = []Kind{
	{Scheme: "exact", Network: "base"},
	{Scheme: "exact", Network: "base-sepolia"},
}

// Kind is one scheme/network pair the facilitator accepts.
type Kind struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// Authorization is the EIP-3009 transfer authorization inside an exact-EVM
// payload.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload carries the signature and authorization.
type ExactEvmPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the decoded X-PAYMENT header.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEvmPayload `json:"payload"`
}

// PaymentRequirements is what the resource server demands.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description,omitempty"`
	PayTo             string `json:"payTo"`
	Asset             string `json:"asset"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse reports payload validity.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest is the body of POST /settle.
type SettleRequest = VerifyRequest

// SettleResponse reports the settlement outcome.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// Options tune sandbox behavior.
type Options struct {
	// SettleDelay simulates chain confirmation latency.
	SettleDelay time.Duration
	// FailureRate in [0,1) injects random settlement failures.
	FailureRate float64
}

// Facilitator is the sandbox implementation.
type Facilitator struct {
	opts   Options
	logger *log.Logger
	now    func() time.Time

	mu   sync.Mutex
	used map[string]bool // consumed nonces
	rng  *mrand.Rand
}

// New builds a sandbox facilitator.
func New(opts Options) *Facilitator {
	return &Facilitator{
		opts:   opts,
		logger: log.New(log.Writer(), "[X402] ", log.LstdFlags),
		now:    time.Now,
		used:   map[string]bool{},
		rng:    mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
}

// Supported lists accepted scheme/network pairs.
func (f *Facilitator) Supported() []Kind {
	kinds := make([]Kind, len(supportedKinds))
	copy(kinds, supportedKinds)
	return kinds
}

// Verify checks a payment payload against its requirements without settling.
func (f *Facilitator) Verify(_ context.Context, req VerifyRequest) VerifyResponse {
	payer := req.PaymentPayload.Payload.Authorization.From
	if reason := f.validate(req); reason != "" {
		f.logger.Printf("verify rejected: %s", reason)
		return VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
	}
	return VerifyResponse{IsValid: true, Payer: payer}
}

// Settle verifies and then settles, consuming the authorization nonce so a
// payload can never settle twice.
func (f *Facilitator) Settle(ctx context.Context, req SettleRequest) SettleResponse {
	payer := req.PaymentPayload.Payload.Authorization.From
	if reason := f.validate(req); reason != "" {
		f.logger.Printf("settle rejected: %s", reason)
		return SettleResponse{Success: false, ErrorReason: reason, Network: req.PaymentPayload.Network, Payer: payer}
	}

	nonce := req.PaymentPayload.Payload.Authorization.Nonce
	f.mu.Lock()
	if f.used[nonce] {
		f.mu.Unlock()
		return SettleResponse{Success: false, ErrorReason: "nonce_already_used", Network: req.PaymentPayload.Network, Payer: payer}
	}
	f.used[nonce] = true
	failed := f.opts.FailureRate > 0 && f.rng.Float64() < f.opts.FailureRate
	f.mu.Unlock()

	if f.opts.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return SettleResponse{Success: false, ErrorReason: "settlement_timeout", Network: req.PaymentPayload.Network, Payer: payer}
		case <-time.After(f.opts.SettleDelay):
		}
	}

	if failed {
		f.logger.Printf("settle failed (injected) payer=%s", payer)
		return SettleResponse{Success: false, ErrorReason: "settlement_failed", Network: req.PaymentPayload.Network, Payer: payer}
	}

	tx := mintTxHash()
	f.logger.Printf("✅ settled %s on %s tx=%s", req.PaymentRequirements.MaxAmountRequired, req.PaymentPayload.Network, tx)
	return SettleResponse{
		Success:     true,
		Transaction: tx,
		Network:     req.PaymentPayload.Network,
		Payer:       payer,
	}
}

// validate returns a machine-readable reason, empty when valid.
func (f *Facilitator) validate(req VerifyRequest) string {
	pp := req.PaymentPayload
	pr := req.PaymentRequirements

	if pp.X402Version != 1 && req.X402Version != 1 {
		return "unsupported_x402_version"
	}
	if !kindSupported(pp.Scheme, pp.Network) {
		if pp.Scheme != "exact" {
			return "unsupported_scheme"
		}
		return "unsupported_network"
	}
	if pp.Scheme != pr.Scheme || pp.Network != pr.Network {
		return "scheme_network_mismatch"
	}

	auth := pp.Payload.Authorization
	if pp.Payload.Signature == "" {
		return "missing_signature"
	}
	if auth.From == "" || auth.To == "" || auth.Nonce == "" {
		return "incomplete_authorization"
	}
	if pr.PayTo != "" && auth.To != pr.PayTo {
		return "recipient_mismatch"
	}

	value, err := decimal.NewFromString(auth.Value)
	if err != nil || !value.IsPositive() {
		return "invalid_value"
	}
	if pr.MaxAmountRequired != "" {
		maxAmount, err := decimal.NewFromString(pr.MaxAmountRequired)
		if err != nil {
			return "invalid_requirements"
		}
		if value.GreaterThan(maxAmount) {
			return "value_exceeds_maximum"
		}
	}

	now := f.now().Unix()
	if auth.ValidBefore != "" {
		vb, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
		if err != nil || vb <= now {
			return "authorization_expired"
		}
	}
	if auth.ValidAfter != "" {
		va, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
		if err != nil || va > now {
			return "authorization_not_yet_valid"
		}
	}

	f.mu.Lock()
	used := f.used[auth.Nonce]
	f.mu.Unlock()
	if used {
		return "nonce_already_used"
	}
	return ""
}

func kindSupported(scheme, network string) bool {
	for _, k := range supportedKinds {
		if k.Scheme == scheme && k.Network == network {
			return true
		}
	}
	return false
}

// mintTxHash produces a 32-byte transaction hash.
func mintTxHash() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		return "0x" + hex.EncodeToString(make([]byte, 32))
	}
	return "0x" + hex.EncodeToString(b)
}
