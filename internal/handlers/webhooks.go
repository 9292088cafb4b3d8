package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

type registerWebhookRequest struct {
	URL    string               `json:"url"`
	Events []webhooks.EventType `json:"events"`
	Secret string               `json:"secret,omitempty"`
}

// RegisterWebhook handles POST /v1/webhooks.
func RegisterWebhook(reg *webhooks.Registry) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		var req registerWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}

		sub := &webhooks.WebhookSubscription{
			URL:      req.URL,
			Events:   req.Events,
			Secret:   req.Secret,
			TenantID: tenantID,
		}
		if err := reg.Register(sub); err != nil {
			return nil, apierr.New(apierr.CodeInvalidWebhookURL, err.Error())
		}
		return &envelope.Result{Data: sub, Status: http.StatusCreated}, nil
	}
}

// ListWebhooks handles GET /v1/webhooks.
func ListWebhooks(reg *webhooks.Registry) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		subs := reg.ListByTenant(tenantID)
		return &envelope.Result{Data: map[string]interface{}{
			"items": subs,
			"count": len(subs),
		}}, nil
	}
}

// UnregisterWebhook handles DELETE /v1/webhooks/{id}.
func UnregisterWebhook(reg *webhooks.Registry) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		id := mux.Vars(r)["id"]
		if err := reg.Unregister(id); err != nil {
			return nil, apierr.New(apierr.CodeWebhookNotFound, "webhook not found").With("webhook_id", id)
		}
		return &envelope.Result{Data: map[string]interface{}{"deleted": id}}, nil
	}
}
