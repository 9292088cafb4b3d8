package apierr

// Category partitions the error taxonomy. Every code belongs to exactly one.
type Category string

const (
	CategoryBalance    Category = "balance"
	CategoryValidation Category = "validation"
	CategoryLimits     Category = "limits"
	CategoryCompliance Category = "compliance"
	CategoryTechnical  Category = "technical"
	CategoryWorkflow   Category = "workflow"
	CategoryAuth       Category = "auth"
	CategoryResource   Category = "resource"
	CategoryState      Category = "state"
	CategoryProtocol   Category = "protocol"
)

// Code is a stable, machine-readable error identifier.
type Code string

// Balance errors.
const (
	CodeInsufficientBalance            Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientBalanceForFees     Code = "INSUFFICIENT_BALANCE_FOR_FEES"
	CodeBalanceHoldActive              Code = "BALANCE_HOLD_ACTIVE"
	CodeDestinationInsufficientBalance Code = "DESTINATION_INSUFFICIENT_BALANCE"
	CodeNegativeBalanceBlocked         Code = "NEGATIVE_BALANCE_BLOCKED"
	CodePendingBalanceUnavailable      Code = "PENDING_BALANCE_UNAVAILABLE"
	CodeBalanceCheckFailed             Code = "BALANCE_CHECK_FAILED"
	CodeWalletNotFunded                Code = "WALLET_NOT_FUNDED"
)

// Validation errors.
const (
	CodeValidationError       Code = "VALIDATION_ERROR"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeInvalidCurrency       Code = "INVALID_CURRENCY"
	CodeCurrencyMismatch      Code = "CURRENCY_MISMATCH"
	CodeInvalidAccountID      Code = "INVALID_ACCOUNT_ID"
	CodeInvalidDecimalFormat  Code = "INVALID_DECIMAL_FORMAT"
	CodeAmountTooSmall        Code = "AMOUNT_TOO_SMALL"
	CodeAmountTooLarge        Code = "AMOUNT_TOO_LARGE"
	CodeMissingRequiredField  Code = "MISSING_REQUIRED_FIELD"
	CodeInvalidDateRange      Code = "INVALID_DATE_RANGE"
	CodeInvalidPagination     Code = "INVALID_PAGINATION"
	CodeBatchSizeExceeded     Code = "BATCH_SIZE_EXCEEDED"
	CodeBatchEmpty            Code = "BATCH_EMPTY"
	CodeInvalidRail           Code = "INVALID_RAIL"
	CodeUnsupportedCurrency   Code = "UNSUPPORTED_CURRENCY"
	CodeInvalidMetadata       Code = "INVALID_METADATA"
	CodeInvalidWebhookURL     Code = "INVALID_WEBHOOK_URL"
	CodeCheckoutTotalMismatch Code = "CHECKOUT_TOTAL_MISMATCH"
	CodeInvalidActionType     Code = "INVALID_ACTION_TYPE"
	CodeInvalidRefundReason   Code = "INVALID_REFUND_REASON"
)

// Limit errors.
const (
	CodeLimitExceeded            Code = "LIMIT_EXCEEDED"
	CodeDailyLimitExceeded       Code = "DAILY_LIMIT_EXCEEDED"
	CodeMonthlyLimitExceeded     Code = "MONTHLY_LIMIT_EXCEEDED"
	CodePerTransactionLimit      Code = "PER_TRANSACTION_LIMIT_EXCEEDED"
	CodeRateLimited              Code = "RATE_LIMITED"
	CodeAgentDailyCapExceeded    Code = "AGENT_DAILY_CAP_EXCEEDED"
	CodeAgentMonthlyCapExceeded  Code = "AGENT_MONTHLY_CAP_EXCEEDED"
	CodeAgentPerTxCapExceeded    Code = "AGENT_PER_TX_CAP_EXCEEDED"
	CodeVelocityLimitExceeded    Code = "VELOCITY_LIMIT_EXCEEDED"
	CodeConcurrentRequestLimited Code = "CONCURRENT_REQUEST_LIMIT"
)

// Compliance errors.
const (
	CodeComplianceBlock          Code = "COMPLIANCE_BLOCK"
	CodeComplianceHold           Code = "COMPLIANCE_HOLD"
	CodeKYCRequired              Code = "KYC_REQUIRED"
	CodeKYBRequired              Code = "KYB_REQUIRED"
	CodeKYARequired              Code = "KYA_REQUIRED"
	CodeKYCPending               Code = "KYC_PENDING"
	CodeTierInsufficient         Code = "VERIFICATION_TIER_INSUFFICIENT"
	CodeSanctionsScreenFailed    Code = "SANCTIONS_SCREEN_FAILED"
	CodeApprovalRequired         Code = "APPROVAL_REQUIRED"
	CodeComplianceReviewPending  Code = "COMPLIANCE_REVIEW_PENDING"
	CodeRestrictedJurisdiction   Code = "RESTRICTED_JURISDICTION"
	CodeRestrictedCounterparty   Code = "RESTRICTED_COUNTERPARTY"
)

// Technical errors.
const (
	CodeInternalError          Code = "INTERNAL_ERROR"
	CodeServiceUnavailable     Code = "SERVICE_UNAVAILABLE"
	CodeRailUnavailable        Code = "RAIL_UNAVAILABLE"
	CodeFacilitatorUnavailable Code = "FACILITATOR_UNAVAILABLE"
	CodeTimeout                Code = "TIMEOUT"
	CodeDatabaseError          Code = "DATABASE_ERROR"
	CodeCacheError             Code = "CACHE_ERROR"
	CodeFXServiceUnavailable   Code = "FX_SERVICE_UNAVAILABLE"
	CodeWebhookDeliveryFailed  Code = "WEBHOOK_DELIVERY_FAILED"
	CodeSettlementFailed       Code = "SETTLEMENT_FAILED"
	CodeCircuitOpen            Code = "CIRCUIT_OPEN"
	CodeDependencyDegraded     Code = "DEPENDENCY_DEGRADED"
)

// Workflow errors.
const (
	CodeSimulationExpired            Code = "SIMULATION_EXPIRED"
	CodeSimulationCannotExecute      Code = "SIMULATION_CANNOT_EXECUTE"
	CodeSimulationAlreadyExecuted    Code = "SIMULATION_ALREADY_EXECUTED"
	CodeSimulationStale              Code = "SIMULATION_STALE"
	CodeSimulationFXVarianceExceeded Code = "SIMULATION_FX_VARIANCE_EXCEEDED"
	CodeSimulationFeeVariance        Code = "SIMULATION_FEE_VARIANCE_EXCEEDED"
	CodeBatchStopped                 Code = "BATCH_STOPPED"
	CodeExecutionRollback            Code = "EXECUTION_ROLLBACK"
	CodeRefundWindowExpired          Code = "REFUND_WINDOW_EXPIRED"
	CodeRefundExceedsAvailable       Code = "REFUND_AMOUNT_EXCEEDS_AVAILABLE"
	CodeQuoteExpired                 Code = "QUOTE_EXPIRED"
	CodeFXRateExpired                Code = "FX_RATE_EXPIRED"
	CodeIdempotencyConflict          Code = "IDEMPOTENCY_CONFLICT"
	CodeConcurrentModification       Code = "CONCURRENT_MODIFICATION"
)

// Auth errors.
const (
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidAPIKey      Code = "INVALID_API_KEY"
	CodeExpiredAPIKey      Code = "EXPIRED_API_KEY"
	CodeForbidden          Code = "FORBIDDEN"
	CodeTenantMismatch     Code = "TENANT_MISMATCH"
	CodeAgentNotAuthorized Code = "AGENT_NOT_AUTHORIZED"
	CodeMissingTenant      Code = "MISSING_TENANT"
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeScopeInsufficient  Code = "SCOPE_INSUFFICIENT"
)

// Resource errors.
const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeAccountNotFound    Code = "ACCOUNT_NOT_FOUND"
	CodeTransferNotFound   Code = "TRANSFER_NOT_FOUND"
	CodeSimulationNotFound Code = "SIMULATION_NOT_FOUND"
	CodeMandateNotFound    Code = "MANDATE_NOT_FOUND"
	CodeCheckoutNotFound   Code = "CHECKOUT_NOT_FOUND"
	CodeAgentNotFound      Code = "AGENT_NOT_FOUND"
	CodeRefundNotFound     Code = "REFUND_NOT_FOUND"
	CodeBatchNotFound      Code = "BATCH_NOT_FOUND"
	CodeWebhookNotFound    Code = "WEBHOOK_NOT_FOUND"
	CodeTenantNotFound     Code = "TENANT_NOT_FOUND"
	CodeResourceConflict   Code = "RESOURCE_CONFLICT"
)

// State errors.
const (
	CodeAccountSuspended            Code = "ACCOUNT_SUSPENDED"
	CodeAccountClosed               Code = "ACCOUNT_CLOSED"
	CodeDestinationAccountSuspended Code = "DESTINATION_ACCOUNT_SUSPENDED"
	CodeAgentSuspended              Code = "AGENT_SUSPENDED"
	CodeTransferNotCancellable      Code = "TRANSFER_NOT_CANCELLABLE"
	CodeTransferAlreadyTerminal     Code = "TRANSFER_ALREADY_TERMINAL"
	CodeMandateNotActive            Code = "MANDATE_NOT_ACTIVE"
	CodeMandateCancelled            Code = "MANDATE_CANCELLED"
	CodeCheckoutNotPending          Code = "CHECKOUT_NOT_PENDING"
	CodeCheckoutCompleted           Code = "CHECKOUT_COMPLETED"
	CodeInvalidStateTransition      Code = "INVALID_STATE_TRANSITION"
	CodeSameStateTransition         Code = "SAME_STATE_TRANSITION"
	CodeAgentHasActiveStreams       Code = "AGENT_HAS_ACTIVE_STREAMS"
)

// Protocol errors.
const (
	CodeAP2MandateExceeded      Code = "AP2_MANDATE_EXCEEDED"
	CodeAP2MandateExpired       Code = "AP2_MANDATE_EXPIRED"
	CodeAP2InvalidMandateType   Code = "AP2_INVALID_MANDATE_TYPE"
	CodeACPCheckoutExpired      Code = "ACP_CHECKOUT_EXPIRED"
	CodeACPInvalidToken         Code = "ACP_INVALID_TOKEN"
	CodeACPTokenConsumed        Code = "ACP_TOKEN_CONSUMED"
	CodeX402InvalidPayload      Code = "X402_INVALID_PAYLOAD"
	CodeX402UnsupportedScheme   Code = "X402_UNSUPPORTED_SCHEME"
	CodeX402UnsupportedNetwork  Code = "X402_UNSUPPORTED_NETWORK"
	CodeX402VerificationFailed  Code = "X402_VERIFICATION_FAILED"
	CodeX402SettlementFailed    Code = "X402_SETTLEMENT_FAILED"
	CodeProtocolVersionMismatch Code = "PROTOCOL_VERSION_UNSUPPORTED"
)

// Meta is the static metadata attached to every error code.
type Meta struct {
	Category   Category
	HTTPStatus int
	Retryable  bool
	// DefaultAction is the verb callers should try before retrying, if any.
	DefaultAction string
	DocURL        string
}

const docBase = "https://docs.payos.dev/errors/"

func meta(cat Category, status int, retryable bool, action string) Meta {
	return Meta{Category: cat, HTTPStatus: status, Retryable: retryable, DefaultAction: action}
}

// registry maps every code to its static metadata. Closed set: codes not in
// here are treated as INTERNAL_ERROR by Lookup.
var registry = map[Code]Meta{
	// balance
	CodeInsufficientBalance:            meta(CategoryBalance, 400, true, "top_up_account"),
	CodeInsufficientBalanceForFees:     meta(CategoryBalance, 400, true, "top_up_account"),
	CodeBalanceHoldActive:              meta(CategoryBalance, 400, true, "wait_for_hold_release"),
	CodeDestinationInsufficientBalance: meta(CategoryBalance, 400, true, "top_up_account"),
	CodeNegativeBalanceBlocked:         meta(CategoryBalance, 400, true, "top_up_account"),
	CodePendingBalanceUnavailable:      meta(CategoryBalance, 400, true, "wait_for_settlement"),
	CodeBalanceCheckFailed:             meta(CategoryBalance, 500, true, ""),
	CodeWalletNotFunded:                meta(CategoryBalance, 400, true, "top_up_account"),

	// validation
	CodeValidationError:       meta(CategoryValidation, 400, false, ""),
	CodeInvalidAmount:         meta(CategoryValidation, 400, false, ""),
	CodeInvalidCurrency:       meta(CategoryValidation, 400, false, ""),
	CodeCurrencyMismatch:      meta(CategoryValidation, 400, false, ""),
	CodeInvalidAccountID:      meta(CategoryValidation, 400, false, ""),
	CodeInvalidDecimalFormat:  meta(CategoryValidation, 400, false, ""),
	CodeAmountTooSmall:        meta(CategoryValidation, 400, false, ""),
	CodeAmountTooLarge:        meta(CategoryValidation, 400, false, ""),
	CodeMissingRequiredField:  meta(CategoryValidation, 400, false, ""),
	CodeInvalidDateRange:      meta(CategoryValidation, 400, false, ""),
	CodeInvalidPagination:     meta(CategoryValidation, 400, false, ""),
	CodeBatchSizeExceeded:     meta(CategoryValidation, 400, false, ""),
	CodeBatchEmpty:            meta(CategoryValidation, 400, false, ""),
	CodeInvalidRail:           meta(CategoryValidation, 400, false, ""),
	CodeUnsupportedCurrency:   meta(CategoryValidation, 400, false, ""),
	CodeInvalidMetadata:       meta(CategoryValidation, 400, false, ""),
	CodeInvalidWebhookURL:     meta(CategoryValidation, 400, false, ""),
	CodeCheckoutTotalMismatch: meta(CategoryValidation, 400, false, ""),
	CodeInvalidActionType:     meta(CategoryValidation, 400, false, ""),
	CodeInvalidRefundReason:   meta(CategoryValidation, 400, false, ""),

	// limits
	CodeLimitExceeded:            meta(CategoryLimits, 400, true, "request_limit_increase"),
	CodeDailyLimitExceeded:       meta(CategoryLimits, 400, true, "wait_for_reset"),
	CodeMonthlyLimitExceeded:     meta(CategoryLimits, 400, true, "wait_for_reset"),
	CodePerTransactionLimit:      meta(CategoryLimits, 400, false, "reduce_amount"),
	CodeRateLimited:              meta(CategoryLimits, 429, true, ""),
	CodeAgentDailyCapExceeded:    meta(CategoryLimits, 400, true, "wait_for_reset"),
	CodeAgentMonthlyCapExceeded:  meta(CategoryLimits, 400, true, "wait_for_reset"),
	CodeAgentPerTxCapExceeded:    meta(CategoryLimits, 400, false, "reduce_amount"),
	CodeVelocityLimitExceeded:    meta(CategoryLimits, 429, true, ""),
	CodeConcurrentRequestLimited: meta(CategoryLimits, 429, true, ""),

	// compliance
	CodeComplianceBlock:         meta(CategoryCompliance, 403, false, "contact_support"),
	CodeComplianceHold:          meta(CategoryCompliance, 403, true, "contact_support"),
	CodeKYCRequired:             meta(CategoryCompliance, 403, true, "complete_kyc"),
	CodeKYBRequired:             meta(CategoryCompliance, 403, true, "complete_kyb"),
	CodeKYARequired:             meta(CategoryCompliance, 403, true, "complete_kya"),
	CodeKYCPending:              meta(CategoryCompliance, 403, true, "wait_for_verification"),
	CodeTierInsufficient:        meta(CategoryCompliance, 403, true, "complete_kyc"),
	CodeSanctionsScreenFailed:   meta(CategoryCompliance, 403, false, "contact_support"),
	CodeApprovalRequired:        meta(CategoryCompliance, 403, true, "wait_for_approval"),
	CodeComplianceReviewPending: meta(CategoryCompliance, 403, true, "wait_for_review"),
	CodeRestrictedJurisdiction:  meta(CategoryCompliance, 403, false, "contact_support"),
	CodeRestrictedCounterparty:  meta(CategoryCompliance, 403, false, "contact_support"),

	// technical
	CodeInternalError:          meta(CategoryTechnical, 500, true, ""),
	CodeServiceUnavailable:     meta(CategoryTechnical, 503, true, ""),
	CodeRailUnavailable:        meta(CategoryTechnical, 503, true, "use_alternative_rail"),
	CodeFacilitatorUnavailable: meta(CategoryTechnical, 503, true, ""),
	CodeTimeout:                meta(CategoryTechnical, 504, true, ""),
	CodeDatabaseError:          meta(CategoryTechnical, 500, true, ""),
	CodeCacheError:             meta(CategoryTechnical, 500, true, ""),
	CodeFXServiceUnavailable:   meta(CategoryTechnical, 503, true, ""),
	CodeWebhookDeliveryFailed:  meta(CategoryTechnical, 502, true, ""),
	CodeSettlementFailed:       meta(CategoryTechnical, 502, true, ""),
	CodeCircuitOpen:            meta(CategoryTechnical, 503, true, ""),
	CodeDependencyDegraded:     meta(CategoryTechnical, 503, true, ""),

	// workflow
	CodeSimulationExpired:            meta(CategoryWorkflow, 410, false, "re_simulate"),
	CodeSimulationCannotExecute:      meta(CategoryWorkflow, 400, false, "fix_errors_and_resimulate"),
	CodeSimulationAlreadyExecuted:    meta(CategoryWorkflow, 409, false, ""),
	CodeSimulationStale:              meta(CategoryWorkflow, 409, true, "re_simulate"),
	CodeSimulationFXVarianceExceeded: meta(CategoryWorkflow, 409, true, "re_simulate"),
	CodeSimulationFeeVariance:        meta(CategoryWorkflow, 409, true, "re_simulate"),
	CodeBatchStopped:                 meta(CategoryWorkflow, 400, true, "fix_earlier_items"),
	CodeExecutionRollback:            meta(CategoryWorkflow, 500, true, ""),
	CodeRefundWindowExpired:          meta(CategoryWorkflow, 400, false, "contact_support"),
	CodeRefundExceedsAvailable:       meta(CategoryWorkflow, 400, false, "reduce_amount"),
	CodeQuoteExpired:                 meta(CategoryWorkflow, 400, true, "refresh_quote"),
	CodeFXRateExpired:                meta(CategoryWorkflow, 400, true, "refresh_quote"),
	CodeIdempotencyConflict:          meta(CategoryWorkflow, 409, false, ""),
	CodeConcurrentModification:       meta(CategoryWorkflow, 409, true, ""),

	// auth
	CodeUnauthorized:       meta(CategoryAuth, 401, false, ""),
	CodeInvalidAPIKey:      meta(CategoryAuth, 401, false, ""),
	CodeExpiredAPIKey:      meta(CategoryAuth, 401, false, "rotate_api_key"),
	CodeForbidden:          meta(CategoryAuth, 403, false, ""),
	CodeTenantMismatch:     meta(CategoryAuth, 403, false, ""),
	CodeAgentNotAuthorized: meta(CategoryAuth, 403, false, ""),
	CodeMissingTenant:      meta(CategoryAuth, 401, false, ""),
	CodeInvalidSignature:   meta(CategoryAuth, 401, false, ""),
	CodeSessionExpired:     meta(CategoryAuth, 401, true, "re_authenticate"),
	CodeScopeInsufficient:  meta(CategoryAuth, 403, false, ""),

	// resource
	CodeNotFound:           meta(CategoryResource, 404, false, "verify_id"),
	CodeAccountNotFound:    meta(CategoryResource, 404, false, "verify_id"),
	CodeTransferNotFound:   meta(CategoryResource, 404, false, "verify_id"),
	CodeSimulationNotFound: meta(CategoryResource, 404, false, "verify_id"),
	CodeMandateNotFound:    meta(CategoryResource, 404, false, "verify_id"),
	CodeCheckoutNotFound:   meta(CategoryResource, 404, false, "verify_id"),
	CodeAgentNotFound:      meta(CategoryResource, 404, false, "verify_id"),
	CodeRefundNotFound:     meta(CategoryResource, 404, false, "verify_id"),
	CodeBatchNotFound:      meta(CategoryResource, 404, false, "verify_id"),
	CodeWebhookNotFound:    meta(CategoryResource, 404, false, "verify_id"),
	CodeTenantNotFound:     meta(CategoryResource, 404, false, "verify_id"),
	CodeResourceConflict:   meta(CategoryResource, 409, false, ""),

	// state
	CodeAccountSuspended:            meta(CategoryState, 403, false, "contact_support"),
	CodeAccountClosed:               meta(CategoryState, 403, false, ""),
	CodeDestinationAccountSuspended: meta(CategoryState, 403, false, "use_different_account"),
	CodeAgentSuspended:              meta(CategoryState, 403, false, "activate_agent"),
	CodeTransferNotCancellable:      meta(CategoryState, 400, false, ""),
	CodeTransferAlreadyTerminal:     meta(CategoryState, 400, false, ""),
	CodeMandateNotActive:            meta(CategoryState, 400, false, "create_new_mandate"),
	CodeMandateCancelled:            meta(CategoryState, 400, false, "create_new_mandate"),
	CodeCheckoutNotPending:          meta(CategoryState, 400, false, ""),
	CodeCheckoutCompleted:           meta(CategoryState, 400, false, ""),
	CodeInvalidStateTransition:      meta(CategoryState, 400, false, ""),
	CodeSameStateTransition:         meta(CategoryState, 400, false, ""),
	CodeAgentHasActiveStreams:       meta(CategoryState, 400, false, "cancel_streams_first"),

	// protocol
	CodeAP2MandateExceeded:      meta(CategoryProtocol, 400, false, "create_new_mandate"),
	CodeAP2MandateExpired:       meta(CategoryProtocol, 400, true, "create_new_mandate"),
	CodeAP2InvalidMandateType:   meta(CategoryProtocol, 400, false, ""),
	CodeACPCheckoutExpired:      meta(CategoryProtocol, 410, false, "create_new_checkout"),
	CodeACPInvalidToken:         meta(CategoryProtocol, 400, false, ""),
	CodeACPTokenConsumed:        meta(CategoryProtocol, 409, false, ""),
	CodeX402InvalidPayload:      meta(CategoryProtocol, 400, false, ""),
	CodeX402UnsupportedScheme:   meta(CategoryProtocol, 400, false, ""),
	CodeX402UnsupportedNetwork:  meta(CategoryProtocol, 400, false, ""),
	CodeX402VerificationFailed:  meta(CategoryProtocol, 402, false, ""),
	CodeX402SettlementFailed:    meta(CategoryProtocol, 502, true, ""),
	CodeProtocolVersionMismatch: meta(CategoryProtocol, 400, false, ""),
}

// Lookup returns the metadata for a code. Unknown codes fall back to
// INTERNAL_ERROR so the envelope layer never emits an unclassified error.
func Lookup(code Code) Meta {
	m, ok := registry[code]
	if !ok {
		m = registry[CodeInternalError]
	}
	if m.DocURL == "" {
		m.DocURL = docBase + string(code)
	}
	return m
}

// Known reports whether a code is part of the closed taxonomy.
func Known(code Code) bool {
	_, ok := registry[code]
	return ok
}

// AllCodes returns every registered code. Used by the capabilities catalog
// and by taxonomy tests.
func AllCodes() []Code {
	out := make([]Code, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	return out
}
