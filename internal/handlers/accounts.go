package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/envelope"
	"github.com/haxaco/payos-sub010/internal/middleware"
	"github.com/haxaco/payos-sub010/internal/store"
)

type createAccountRequest struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	Currency         string            `json:"currency"`
	VerificationTier int               `json:"verification_tier"`
	InitialBalances  map[string]string `json:"initial_balances,omitempty"`
}

// CreateAccount handles POST /v1/accounts. Initial balances are honored in
// mock and sandbox; production accounts always start empty.
func CreateAccount(st store.Store, allowSeedBalances bool) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}

		at := domain.AccountType(req.Type)
		if at != domain.AccountPerson && at != domain.AccountBusiness {
			return nil, apierr.Newf(apierr.CodeValidationError, "type must be person or business, got %q", req.Type).
				With("type", req.Type)
		}
		if req.Currency == "" {
			return nil, apierr.New(apierr.CodeMissingRequiredField, "currency is required").With("field", "currency")
		}

		balances := map[string]domain.Balance{
			req.Currency: {Currency: req.Currency},
		}
		if allowSeedBalances {
			for cur, amt := range req.InitialBalances {
				d, err := decimal.NewFromString(amt)
				if err != nil || d.IsNegative() {
					return nil, apierr.Newf(apierr.CodeInvalidDecimalFormat, "initial balance for %s is invalid", cur).
						With("currency", cur)
				}
				balances[cur] = domain.Balance{Currency: cur, Available: d}
			}
		}

		a := &domain.Account{
			ID:               domain.NewID("acct"),
			TenantID:         tenantID,
			Name:             req.Name,
			Type:             at,
			Status:           domain.AccountActive,
			VerificationTier: req.VerificationTier,
			Currency:         req.Currency,
			Balances:         balances,
			CreatedAt:        time.Now().UTC(),
		}
		if err := st.CreateAccount(r.Context(), a); err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "account create failed")
		}
		return &envelope.Result{
			Data:   a,
			Status: http.StatusCreated,
			Links:  map[string]string{"context": "/v1/context/accounts/" + a.ID},
		}, nil
	}
}

// GetAccount handles GET /v1/accounts/{id}.
func GetAccount(st store.Store) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		id := mux.Vars(r)["id"]
		a, err := st.GetAccount(r.Context(), tenantID, id)
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.CodeAccountNotFound, "account not found").With("account_id", id)
		}
		if err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "account lookup failed")
		}
		return &envelope.Result{Data: a}, nil
	}
}

type createAgentRequest struct {
	Name          string                `json:"name"`
	ParentAccount string                `json:"parent_account"`
	KYATier       int                   `json:"kya_tier"`
	Policy        domain.SpendingPolicy `json:"policy"`
}

// CreateAgent handles POST /v1/agents. Agents hang off business accounts
// only.
func CreateAgent(st store.Store) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		var req createAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, apierr.New(apierr.CodeValidationError, "request body is not valid JSON")
		}
		if req.ParentAccount == "" {
			return nil, apierr.New(apierr.CodeMissingRequiredField, "parent_account is required").
				With("field", "parent_account")
		}

		parent, err := st.GetAccount(r.Context(), tenantID, req.ParentAccount)
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.CodeAccountNotFound, "parent account not found").
				With("account_id", req.ParentAccount)
		}
		if err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "account lookup failed")
		}
		if parent.Type != domain.AccountBusiness {
			return nil, apierr.New(apierr.CodeValidationError, "agents require a business parent account").
				With("account_id", parent.ID).
				With("account_type", string(parent.Type))
		}

		a := &domain.Agent{
			ID:            domain.NewID("agent"),
			TenantID:      tenantID,
			Name:          req.Name,
			ParentAccount: parent.ID,
			Status:        domain.AgentActive,
			KYATier:       req.KYATier,
			Policy:        req.Policy,
			CreatedAt:     time.Now().UTC(),
		}
		if err := st.CreateAgent(r.Context(), a); err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "agent create failed")
		}
		return &envelope.Result{
			Data:   a,
			Status: http.StatusCreated,
			Links:  map[string]string{"context": "/v1/context/agents/" + a.ID},
		}, nil
	}
}

// ListAgents handles GET /v1/accounts/{id}/agents.
func ListAgents(st store.Store) envelope.HandlerFunc {
	return func(r *http.Request) (*envelope.Result, error) {
		tenantID := middleware.TenantFrom(r.Context())
		accountID := mux.Vars(r)["id"]
		agents, err := st.ListAgentsByParent(r.Context(), tenantID, accountID)
		if err != nil {
			return nil, apierr.New(apierr.CodeDatabaseError, "agent list failed")
		}
		return &envelope.Result{Data: map[string]interface{}{
			"items": agents,
			"count": len(agents),
		}}, nil
	}
}
