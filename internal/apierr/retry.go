package apierr

import (
	"time"
)

// Backoff strategies for retryable errors.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
)

// Retry tells callers whether and how to retry a failed request.
type Retry struct {
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
	BackoffStrategy   string `json:"backoff_strategy,omitempty"`
	MaxRetries        int    `json:"max_retries,omitempty"`
	// RetryAfterAction names the step that must happen before retrying
	// (e.g. top_up_account, refresh_quote). When set, retry_after_seconds
	// of 0 means "retry as soon as the action is done".
	RetryAfterAction string `json:"retry_after_action,omitempty"`
}

func seconds(n int) *int { return &n }

// DeriveRetry computes the retry object for an error. now is injected so the
// daily/monthly reset math is testable.
func DeriveRetry(e *Error, now time.Time) Retry {
	m := Lookup(e.Code)

	switch e.Code {
	case CodeRateLimited, CodeVelocityLimitExceeded, CodeConcurrentRequestLimited:
		after := 60
		if v, ok := e.Details["retry_after_seconds"].(int); ok && v > 0 {
			after = v
		}
		return Retry{Retryable: true, RetryAfterSeconds: seconds(after), BackoffStrategy: BackoffFixed}

	case CodeDailyLimitExceeded, CodeAgentDailyCapExceeded:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(secondsUntilNextUTCMidnight(now)),
			BackoffStrategy:   BackoffFixed,
			RetryAfterAction:  "wait_for_reset",
		}

	case CodeMonthlyLimitExceeded, CodeAgentMonthlyCapExceeded:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(secondsUntilNextUTCMonth(now)),
			BackoffStrategy:   BackoffFixed,
			RetryAfterAction:  "wait_for_reset",
		}

	case CodeInsufficientBalance, CodeInsufficientBalanceForFees,
		CodeDestinationInsufficientBalance, CodeWalletNotFunded,
		CodeNegativeBalanceBlocked, CodeBalanceHoldActive,
		CodePendingBalanceUnavailable:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(0),
			BackoffStrategy:   BackoffFixed,
			RetryAfterAction:  m.DefaultAction,
		}

	case CodeQuoteExpired, CodeFXRateExpired:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(0),
			BackoffStrategy:   BackoffFixed,
			RetryAfterAction:  "refresh_quote",
		}

	case CodeServiceUnavailable, CodeRailUnavailable, CodeFacilitatorUnavailable,
		CodeFXServiceUnavailable, CodeCircuitOpen, CodeDependencyDegraded:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(30),
			BackoffStrategy:   BackoffExponential,
			MaxRetries:        5,
		}

	case CodeTimeout:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(10),
			BackoffStrategy:   BackoffExponential,
			MaxRetries:        3,
		}

	case CodeIdempotencyConflict:
		return Retry{Retryable: false}

	case CodeConcurrentModification:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(1),
			BackoffStrategy:   BackoffExponential,
			MaxRetries:        3,
		}

	case CodeComplianceHold, CodeApprovalRequired, CodeComplianceReviewPending,
		CodeKYCPending:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(3600),
			BackoffStrategy:   BackoffFixed,
		}

	case CodeAP2MandateExpired:
		return Retry{
			Retryable:         true,
			RetryAfterSeconds: seconds(0),
			BackoffStrategy:   BackoffFixed,
			RetryAfterAction:  "create_new_mandate",
		}
	}

	if !m.Retryable {
		return Retry{Retryable: false}
	}

	// Generic retryable default.
	return Retry{
		Retryable:         true,
		RetryAfterSeconds: seconds(5),
		BackoffStrategy:   BackoffExponential,
		MaxRetries:        3,
	}
}

func secondsUntilNextUTCMidnight(now time.Time) int {
	u := now.UTC()
	next := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return int(next.Sub(u).Seconds())
}

func secondsUntilNextUTCMonth(now time.Time) int {
	u := now.UTC()
	next := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return int(next.Sub(u).Seconds())
}
