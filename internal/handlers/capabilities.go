package handlers

import (
	"net/http"
	"strconv"

	"github.com/haxaco/payos-sub010/internal/capabilities"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/middleware"
)

// ListCapabilities handles GET /v1/capabilities with optional ?category=
// and ?name= filters.
func ListCapabilities(reg *capabilities.Registry) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		caps := reg.List(tenantID, r.URL.Query().Get("category"), r.URL.Query().Get("name"))
		return &envelope.Result{
			Data: map[string]interface{}{
				"capabilities": caps,
				"count":        len(caps),
			},
			Headers: map[string]string{
				"Cache-Control": "max-age=" + strconv.Itoa(3600),
			},
		}, nil
	}
}

// ListTools handles GET /v1/capabilities/tools, the agent-facing rendering.
func ListTools(reg *capabilities.Registry) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		tools := reg.Tools(tenantID)
		return &envelope.Result{
			Data: map[string]interface{}{
				"tools": tools,
				"count": len(tools),
			},
			Headers: map[string]string{
				"Cache-Control": "max-age=" + strconv.Itoa(3600),
			},
		}, nil
	}
}
