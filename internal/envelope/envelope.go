// Package envelope shapes every public API response. Handlers return data or
// typed errors; this layer produces the uniform success/error envelopes,
// request ids, timing, retry guidance and suggested actions.
package envelope

import (
	"time"

	"github.com/haxaco/payos-sub010/internal/apierr"
)

// Meta rides on every successful response.
type Meta struct {
	RequestID        string `json:"request_id"`
	Timestamp        string `json:"timestamp"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	APIVersion       string `json:"api_version"`
	Environment      string `json:"environment"`
	Partial          bool   `json:"partial,omitempty"`
}

// Success is the success envelope.
type Success struct {
	Success     bool                     `json:"success"`
	Data        interface{}              `json:"data"`
	Meta        Meta                     `json:"meta"`
	Links       map[string]string        `json:"links,omitempty"`
	NextActions []map[string]interface{} `json:"next_actions,omitempty"`
}

// ErrorBody is the error payload inside the error envelope.
type ErrorBody struct {
	Code             apierr.Code               `json:"code"`
	Category         apierr.Category           `json:"category"`
	Message          string                    `json:"message"`
	Details          map[string]interface{}    `json:"details,omitempty"`
	SuggestedActions []apierr.SuggestedAction  `json:"suggested_actions"`
	Retry            apierr.Retry              `json:"retry"`
	DocumentationURL string                    `json:"documentation_url"`
}

// ErrorEnvelope is the error envelope.
type ErrorEnvelope struct {
	Success   bool      `json:"success"`
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id"`
	Timestamp string    `json:"timestamp"`
}

// BuildError converts a typed error into the wire envelope.
func BuildError(e *apierr.Error, requestID string, now time.Time) ErrorEnvelope {
	m := apierr.Lookup(e.Code)
	actions := apierr.SuggestActions(e)
	if actions == nil {
		actions = []apierr.SuggestedAction{}
	}
	return ErrorEnvelope{
		Success: false,
		Error: ErrorBody{
			Code:             e.Code,
			Category:         m.Category,
			Message:          e.Message,
			Details:          e.Details,
			SuggestedActions: actions,
			Retry:            apierr.DeriveRetry(e, now),
			DocumentationURL: m.DocURL,
		},
		RequestID: requestID,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// IsSuccess reports whether a decoded response body is a success envelope.
// Total: any input yields a boolean.
func IsSuccess(body map[string]interface{}) bool {
	v, ok := body["success"].(bool)
	return ok && v && body["data"] != nil
}

// IsError reports whether a decoded response body is an error envelope.
func IsError(body map[string]interface{}) bool {
	v, ok := body["success"].(bool)
	if !ok || v {
		return false
	}
	_, hasErr := body["error"]
	return hasErr
}

// IsPaginated reports whether a success envelope carries a paginated list.
func IsPaginated(body map[string]interface{}) bool {
	if !IsSuccess(body) {
		return false
	}
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		return false
	}
	_, hasItems := data["items"]
	_, hasPage := data["pagination"]
	return hasItems && hasPage
}

// isWrapped guards against double-wrapping: a handler that already produced
// an envelope passes through untouched.
func isWrapped(data interface{}) bool {
	switch v := data.(type) {
	case Success, *Success, ErrorEnvelope, *ErrorEnvelope:
		return true
	case map[string]interface{}:
		_, ok := v["success"].(bool)
		return ok
	}
	return false
}
