package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/contextview"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/store"
	"github.com/haxaco/payos-sub010/internal/webhooks"
)

// GetTransfer handles GET /v1/transfers/{id}.
func GetTransfer(st store.Store) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]
		t, err := st.GetTransfer(r.Context(), tenantID, id)
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.CodeTransferNotFound, "transfer not found").With("transfer_id", id)
		}
		if err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "transfer lookup failed")
		}
		return &envelope.Result{
			Data:  t,
			Links: map[string]string{"context": "/v1/context/transfers/" + t.ID},
		}, nil
	}
}

// CancelTransfer handles POST /v1/transfers/{id}/cancel. Only pending
// transfers cancel; anything in flight or terminal is rejected.
func CancelTransfer(st store.Store, cache *contextview.Cache, emitter webhooks.WebhookEmitter) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]

		t, err := st.GetTransfer(r.Context(), tenantID, id)
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.CodeTransferNotFound, "transfer not found").With("transfer_id", id)
		}
		if err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "transfer lookup failed")
		}
		if t.Status.Terminal() {
			return nil, apierr.New(apierr.CodeTransferAlreadyTerminal, "transfer is already terminal").
				With("transfer_id", t.ID).
				With("status", string(t.Status))
		}
		if t.Status != domain.TransferPending {
			return nil, apierr.New(apierr.CodeTransferNotCancellable, "only pending transfers can be cancelled").
				With("transfer_id", t.ID).
				With("status", string(t.Status))
		}

		if err := st.TransitionTransfer(r.Context(), tenantID, t.ID, domain.TransferPending, domain.TransferCancelled); err != nil {
			if err == store.ErrConflict {
				return nil, apierr.New(apierr.CodeConcurrentModification, "transfer changed state concurrently").
					With("transfer_id", t.ID)
			}
			return nil, apierr.New(apierr.CodeDatabaseError, "transfer cancel failed")
		}
		t.Status = domain.TransferCancelled

		cache.InvalidatePattern(t.ID)
		cache.InvalidatePattern(t.FromAccount)
		if emitter != nil {
			emitter.Emit(webhooks.EventTransferFailed, tenantID, map[string]interface{}{
				"transfer_id": t.ID,
				"status":      "cancelled",
			})
		}
		return &envelope.Result{Data: t}, nil
	}
}

// ListTransferRefunds handles GET /v1/transfers/{id}/refunds.
func ListTransferRefunds(st store.Store) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]
		if _, err := st.GetTransfer(r.Context(), tenantID, id); err != nil {
			if err == store.ErrNotFound {
				return nil, apierr.New(apierr.CodeTransferNotFound, "transfer not found").With("transfer_id", id)
			}
			return nil, apierr.New(apierr.CodeDatabaseError, "transfer lookup failed")
		}
		refunds, err := st.ListRefundsByTransfer(r.Context(), tenantID, id)
		if err != nil && err != store.ErrNotFound {
			return nil, apierr.New(apierr.CodeDatabaseError, "refund list failed")
		}
		return &envelope.Result{Data: map[string]interface{}{
			"items": refunds,
			"count": len(refunds),
		}}, nil
	}
}
