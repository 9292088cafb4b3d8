package apierr

// SuggestedAction is a concrete next step a caller can take to resolve or
// work around an error. Context fields are populated from the error details
// so agents can act on them without parsing the message.
type SuggestedAction struct {
	Action      string                 `json:"action"`
	Description string                 `json:"description"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

func action(verb, desc string) SuggestedAction {
	return SuggestedAction{Action: verb, Description: desc, Context: map[string]interface{}{}}
}

func (a SuggestedAction) with(key string, v interface{}) SuggestedAction {
	if v != nil {
		a.Context[key] = v
	}
	return a
}

// SuggestActions derives the context-aware action list for an error.
func SuggestActions(e *Error) []SuggestedAction {
	d := e.Details
	if d == nil {
		d = map[string]interface{}{}
	}

	switch Lookup(e.Code).Category {
	case CategoryBalance:
		if e.Code == CodeDestinationInsufficientBalance {
			return []SuggestedAction{
				action("top_up_account", "Fund the destination account so the refund can be restored").
					with("account_id", d["account_id"]).
					with("shortfall", d["shortfall"]),
			}
		}
		return []SuggestedAction{
			action("top_up_account", "Add funds to the source account").
				with("account_id", d["account_id"]).
				with("shortfall", d["shortfall"]),
			action("reduce_amount", "Retry with an amount within the available balance").
				with("available", d["available"]),
			action("use_different_account", "Send from another account with sufficient balance"),
		}

	case CategoryLimits:
		if e.Code == CodeRateLimited || e.Code == CodeVelocityLimitExceeded ||
			e.Code == CodeConcurrentRequestLimited {
			return []SuggestedAction{
				action("wait_for_reset", "Back off until the rate-limit window resets").
					with("retry_after_seconds", d["retry_after_seconds"]),
			}
		}
		return []SuggestedAction{
			action("wait_for_reset", "Wait for the limit window to reset").
				with("resets_at", d["resets_at"]),
			action("request_limit_increase", "Upgrade the verification tier to raise limits").
				with("current_tier", d["tier"]),
			action("reduce_amount", "Retry with an amount within the remaining limit").
				with("remaining", d["remaining"]),
		}

	case CategoryCompliance:
		verb := "contact_support"
		desc := "Contact support to resolve the compliance issue"
		switch e.Code {
		case CodeKYCRequired, CodeTierInsufficient:
			verb, desc = "complete_kyc", "Complete identity verification to unlock this operation"
		case CodeKYBRequired:
			verb, desc = "complete_kyb", "Complete business verification to unlock this operation"
		case CodeKYARequired:
			verb, desc = "complete_kya", "Complete agent verification to unlock this operation"
		}
		return []SuggestedAction{
			action(verb, desc).with("required_tier", d["required_tier"]),
			action("contact_support", "Reach out to support if the block looks incorrect").
				with("request_id", d["request_id"]),
		}

	case CategoryResource:
		return []SuggestedAction{
			action("verify_id", "Check that the id is correct and belongs to your tenant").
				with("id", firstDetail(d, "account_id", "transfer_id", "simulation_id",
					"mandate_id", "checkout_id", "agent_id", "refund_id", "batch_id", "id")),
		}
	}

	switch e.Code {
	case CodeQuoteExpired, CodeFXRateExpired:
		return []SuggestedAction{
			action("refresh_quote", "Request a fresh quote and retry with the new rate"),
		}
	case CodeRailUnavailable:
		return []SuggestedAction{
			action("use_alternative_rail", "Retry the transfer on a different rail").
				with("unavailable_rail", d["rail"]).
				with("alternatives", d["alternative_rails"]),
			action("wait_for_reset", "Retry once the rail maintenance window ends").
				with("available_at", d["available_at"]),
		}
	case CodeAP2MandateExceeded, CodeAP2MandateExpired:
		return []SuggestedAction{
			action("create_new_mandate", "Authorize a new mandate to continue spending").
				with("mandate_id", d["mandate_id"]).
				with("remaining_amount", d["remaining_amount"]),
		}
	case CodeSimulationExpired, CodeSimulationStale,
		CodeSimulationFXVarianceExceeded, CodeSimulationFeeVariance:
		return []SuggestedAction{
			action("re_simulate", "Create a fresh simulation and execute it promptly").
				with("simulation_id", d["simulation_id"]),
		}
	}

	return nil
}

func firstDetail(d map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := d[k]; ok {
			return v
		}
	}
	return nil
}
