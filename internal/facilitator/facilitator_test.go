package facilitator

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frozenNow = time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)

func newTestFacilitator() *Facilitator {
	f := New(Options{})
	f.now = func() time.Time { return frozenNow }
	return f
}

func validRequest(nonce string) VerifyRequest {
	return VerifyRequest{
		X402Version: 1,
		PaymentPayload: PaymentPayload{
			X402Version: 1,
			Scheme:      "exact",
			Network:     "base-sepolia",
			Payload: ExactEvmPayload{
				Signature: "0xsig",
				Authorization: Authorization{
					From:        "0xpayer",
					To:          "0xmerchant",
					Value:       "1000000",
					ValidAfter:  strconv.FormatInt(frozenNow.Add(-time.Hour).Unix(), 10),
					ValidBefore: strconv.FormatInt(frozenNow.Add(time.Hour).Unix(), 10),
					Nonce:       nonce,
				},
			},
		},
		PaymentRequirements: PaymentRequirements{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "1000000",
			Resource:          "https://api.example.com/reports",
			PayTo:             "0xmerchant",
			Asset:             "0xusdc",
		},
	}
}

func TestVerifyValidPayload(t *testing.T) {
	f := newTestFacilitator()
	res := f.Verify(context.Background(), validRequest("0xn1"))
	assert.True(t, res.IsValid)
	assert.Empty(t, res.InvalidReason)
	assert.Equal(t, "0xpayer", res.Payer)
}

func TestVerifyRejections(t *testing.T) {
	f := newTestFacilitator()
	ctx := context.Background()

	mutate := func(fn func(*VerifyRequest)) VerifyRequest {
		req := validRequest("0xn")
		fn(&req)
		return req
	}

	cases := []struct {
		name   string
		req    VerifyRequest
		reason string
	}{
		{"wrong version", mutate(func(r *VerifyRequest) {
			r.X402Version = 2
			r.PaymentPayload.X402Version = 2
		}), "unsupported_x402_version"},
		{"unknown scheme", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Scheme = "upto"
		}), "unsupported_scheme"},
		{"unknown network", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Network = "solana"
		}), "unsupported_network"},
		{"requirements mismatch", mutate(func(r *VerifyRequest) {
			r.PaymentRequirements.Network = "base"
		}), "scheme_network_mismatch"},
		{"no signature", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Payload.Signature = ""
		}), "missing_signature"},
		{"no payer", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Payload.Authorization.From = ""
		}), "incomplete_authorization"},
		{"wrong recipient", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Payload.Authorization.To = "0xother"
		}), "recipient_mismatch"},
		{"zero value", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Payload.Authorization.Value = "0"
		}), "invalid_value"},
		{"over the cap", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Payload.Authorization.Value = "2000000"
		}), "value_exceeds_maximum"},
		{"expired", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Payload.Authorization.ValidBefore =
				strconv.FormatInt(frozenNow.Add(-time.Minute).Unix(), 10)
		}), "authorization_expired"},
		{"not yet valid", mutate(func(r *VerifyRequest) {
			r.PaymentPayload.Payload.Authorization.ValidAfter =
				strconv.FormatInt(frozenNow.Add(time.Minute).Unix(), 10)
		}), "authorization_not_yet_valid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.Verify(ctx, tc.req)
			assert.False(t, res.IsValid)
			assert.Equal(t, tc.reason, res.InvalidReason)
		})
	}
}

func TestSettleMintsTransaction(t *testing.T) {
	f := newTestFacilitator()
	res := f.Settle(context.Background(), validRequest("0xn1"))
	require.True(t, res.Success, "reason: %s", res.ErrorReason)
	assert.Equal(t, "base-sepolia", res.Network)
	assert.Equal(t, "0xpayer", res.Payer)
	assert.True(t, strings.HasPrefix(res.Transaction, "0x"))
	assert.Len(t, res.Transaction, 66, "0x + 32 bytes hex")
}

func TestSettleConsumesNonce(t *testing.T) {
	f := newTestFacilitator()
	ctx := context.Background()

	first := f.Settle(ctx, validRequest("0xn1"))
	require.True(t, first.Success)

	second := f.Settle(ctx, validRequest("0xn1"))
	assert.False(t, second.Success)
	assert.Equal(t, "nonce_already_used", second.ErrorReason)

	// Verify also sees the consumed nonce.
	v := f.Verify(ctx, validRequest("0xn1"))
	assert.False(t, v.IsValid)
	assert.Equal(t, "nonce_already_used", v.InvalidReason)

	// A fresh nonce still settles.
	third := f.Settle(ctx, validRequest("0xn2"))
	assert.True(t, third.Success)
}

func TestSettleInjectedFailureStillBurnsNonce(t *testing.T) {
	f := New(Options{FailureRate: 1.0})
	f.now = func() time.Time { return frozenNow }
	ctx := context.Background()

	res := f.Settle(ctx, validRequest("0xn1"))
	assert.False(t, res.Success)
	assert.Equal(t, "settlement_failed", res.ErrorReason)

	retry := f.Settle(ctx, validRequest("0xn1"))
	assert.Equal(t, "nonce_already_used", retry.ErrorReason)
}

func TestSettleHonorsContextDuringDelay(t *testing.T) {
	f := New(Options{SettleDelay: time.Minute})
	f.now = func() time.Time { return frozenNow }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := f.Settle(ctx, validRequest("0xn1"))
	assert.False(t, res.Success)
	assert.Equal(t, "settlement_timeout", res.ErrorReason)
}

func TestSupportedKinds(t *testing.T) {
	f := newTestFacilitator()
	kinds := f.Supported()
	require.Len(t, kinds, 2)
	assert.Contains(t, kinds, Kind{Scheme: "exact", Network: "base"})
	assert.Contains(t, kinds, Kind{Scheme: "exact", Network: "base-sepolia"})
}
