// Package mandate implements the AP2 mandate lifecycle: a pre-authorized
// spending envelope an agent draws down across multiple executions. The
// over-spend guard is a conditional store write, so concurrent executions
// can never push used past authorized.
package mandate

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/store"
)

// CreateRequest is the payload for POST /v1/ap2/mandates.
type CreateRequest struct {
	MandateType      string `json:"mandate_type"`
	AgentID          string `json:"agent_id"`
	AccountID        string `json:"account_id"`
	Currency         string `json:"currency"`
	AuthorizedAmount string `json:"authorized_amount"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
}

// ExecuteRequest is the payload for POST /v1/ap2/mandates/{id}/execute.
type ExecuteRequest struct {
	Amount    string `json:"amount"`
	ToAccount string `json:"to_account"`
}

// DefaultTTL applies when the caller does not pick an expiry.
const DefaultTTL = 24 * time.Hour

// Service manages mandates.
type Service struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

// NewService wires the mandate service.
func NewService(st store.Store) *Service {
	return &Service{
		store:  st,
		logger: log.New(log.Writer(), "[AP2] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Create opens a new mandate in active state with the full amount remaining.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (*domain.Mandate, error) {
	mt := domain.MandateType(req.MandateType)
	switch mt {
	case domain.MandateIntent, domain.MandateCart, domain.MandatePayment:
	default:
		return nil, apierr.Newf(apierr.CodeAP2InvalidMandateType, "unknown mandate type %q", req.MandateType).
			With("mandate_type", req.MandateType)
	}
	amount, err := decimal.NewFromString(req.AuthorizedAmount)
	if err != nil || !amount.IsPositive() {
		return nil, apierr.New(apierr.CodeInvalidAmount, "authorized_amount must be a positive decimal string").
			With("authorized_amount", req.AuthorizedAmount)
	}
	if req.Currency == "" || req.AccountID == "" || req.AgentID == "" {
		return nil, apierr.New(apierr.CodeMissingRequiredField, "agent_id, account_id and currency are required")
	}

	agent, err := s.store.GetAgent(ctx, tenantID, req.AgentID)
	if err == store.ErrNotFound {
		return nil, apierr.New(apierr.CodeAgentNotFound, "agent not found").With("agent_id", req.AgentID)
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "agent lookup failed")
	}
	if agent.Status != domain.AgentActive {
		return nil, apierr.New(apierr.CodeAgentSuspended, "agent is suspended").With("agent_id", agent.ID)
	}
	if _, err := s.store.GetAccount(ctx, tenantID, req.AccountID); err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.CodeAccountNotFound, "account not found").With("account_id", req.AccountID)
		}
		return nil, apierr.New(apierr.CodeDatabaseError, "account lookup failed")
	}

	ttl := DefaultTTL
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}
	now := s.now().UTC()
	m := &domain.Mandate{
		ID:               domain.NewID("mandate"),
		TenantID:         tenantID,
		MandateType:      mt,
		AgentID:          req.AgentID,
		AccountID:        req.AccountID,
		Currency:         req.Currency,
		AuthorizedAmount: amount,
		UsedAmount:       decimal.Zero,
		RemainingAmount:  amount,
		Status:           domain.MandateActive,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
	if err := s.store.CreateMandate(ctx, m); err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "mandate create failed")
	}
	s.logger.Printf("mandate %s created: %s %s for agent %s", m.ID, amount, m.Currency, m.AgentID)
	return m, nil
}

// Get loads a mandate, lazily expiring it when past its deadline.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Mandate, error) {
	m, err := s.store.GetMandate(ctx, tenantID, id)
	if err == store.ErrNotFound {
		return nil, apierr.New(apierr.CodeMandateNotFound, "mandate not found").With("mandate_id", id)
	}
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "mandate lookup failed")
	}
	return s.lazyExpire(ctx, m), nil
}

// lazyExpire flips a past-deadline active mandate to expired on read.
func (s *Service) lazyExpire(ctx context.Context, m *domain.Mandate) *domain.Mandate {
	if m.Status == domain.MandateActive && s.now().UTC().After(m.ExpiresAt) {
		if err := s.store.TransitionMandate(ctx, m.TenantID, m.ID, domain.MandateActive, domain.MandateExpired); err == nil {
			m.Status = domain.MandateExpired
		}
	}
	return m
}

// Execute draws one spend from a mandate: debit the backing account, apply
// the spend atomically, credit the destination and record the execution.
func (s *Service) Execute(ctx context.Context, tenantID, mandateID string, req ExecuteRequest) (*domain.MandateExecution, *domain.Mandate, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, nil, apierr.New(apierr.CodeInvalidAmount, "amount must be a positive decimal string").
			With("amount", req.Amount)
	}
	if req.ToAccount == "" {
		return nil, nil, apierr.New(apierr.CodeMissingRequiredField, "to_account is required").With("field", "to_account")
	}

	m, aerr := s.Get(ctx, tenantID, mandateID)
	if aerr != nil {
		return nil, nil, aerr
	}
	switch m.Status {
	case domain.MandateActive:
	case domain.MandateExpired:
		return nil, nil, apierr.New(apierr.CodeAP2MandateExpired, "mandate has expired").
			With("mandate_id", m.ID).
			With("expired_at", m.ExpiresAt.UTC().Format(time.RFC3339))
	case domain.MandateCancelled:
		return nil, nil, apierr.New(apierr.CodeMandateCancelled, "mandate was cancelled").With("mandate_id", m.ID)
	default:
		return nil, nil, apierr.New(apierr.CodeMandateNotActive, "mandate is not active").
			With("mandate_id", m.ID).
			With("status", string(m.Status))
	}
	if amount.GreaterThan(m.RemainingAmount) {
		return nil, nil, apierr.New(apierr.CodeAP2MandateExceeded, "amount exceeds remaining authorization").
			With("mandate_id", m.ID).
			With("remaining", m.RemainingAmount.StringFixed(2)).
			With("requested", amount.StringFixed(2))
	}

	now := s.now().UTC()

	// Funds first; a failed debit leaves the mandate untouched.
	if err := s.store.DebitAvailable(ctx, tenantID, m.AccountID, m.Currency, amount); err != nil {
		if err == store.ErrInsufficient {
			return nil, nil, apierr.New(apierr.CodeInsufficientBalance, "backing account has insufficient balance").
				With("account_id", m.AccountID).
				With("requested", amount.StringFixed(2))
		}
		return nil, nil, apierr.New(apierr.CodeDatabaseError, "debit failed")
	}

	// The spend itself is the concurrency gate; a losing racer refunds.
	updated, err := s.store.ApplyMandateSpend(ctx, tenantID, m.ID, amount)
	if err != nil {
		if rbErr := s.store.CreditAvailable(ctx, tenantID, m.AccountID, m.Currency, amount); rbErr != nil {
			s.logger.Printf("❌ rollback credit failed account=%s amount=%s: %v", m.AccountID, amount, rbErr)
		}
		if err == store.ErrConflict {
			return nil, nil, apierr.New(apierr.CodeAP2MandateExceeded, "concurrent executions exhausted the mandate").
				With("mandate_id", m.ID)
		}
		return nil, nil, apierr.New(apierr.CodeDatabaseError, "mandate spend failed")
	}

	if err := s.store.CreditAvailable(ctx, tenantID, req.ToAccount, m.Currency, amount); err != nil {
		s.logger.Printf("❌ destination credit failed mandate=%s account=%s: %v", m.ID, req.ToAccount, err)
		return nil, nil, apierr.New(apierr.CodeExecutionRollback, "destination credit failed").
			With("account_id", req.ToAccount)
	}

	transfer := &domain.Transfer{
		ID:          domain.NewID("tr"),
		TenantID:    tenantID,
		FromAccount: m.AccountID,
		ToAccount:   req.ToAccount,
		Amount:      amount,
		Currency:    m.Currency,
		Status:      domain.TransferCompleted,
		Rail:        domain.RailInternal,
		Fees:        domain.FeeBreakdown{Currency: m.Currency},
		AgentID:     m.AgentID,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := s.store.CreateTransfer(ctx, transfer); err != nil {
		s.logger.Printf("⚠️  transfer record failed mandate=%s: %v", m.ID, err)
	}

	exec := &domain.MandateExecution{
		ID:             domain.NewID("mexec"),
		MandateID:      m.ID,
		ExecutionIndex: updated.ExecutionCount,
		TransferID:     transfer.ID,
		Amount:         amount,
		Status:         "completed",
		ExecutedAt:     now,
	}
	if err := s.store.AppendMandateExecution(ctx, exec); err != nil {
		s.logger.Printf("⚠️  execution record failed mandate=%s: %v", m.ID, err)
	}
	s.logger.Printf("mandate %s execution #%d: %s %s remaining=%s",
		m.ID, exec.ExecutionIndex, amount, m.Currency, updated.RemainingAmount)
	return exec, updated, nil
}

// Cancel moves an active mandate to cancelled. Cancellation is terminal and
// never refunds already-used amounts.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) (*domain.Mandate, error) {
	m, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MandateActive {
		return nil, apierr.New(apierr.CodeMandateNotActive, "only active mandates can be cancelled").
			With("mandate_id", m.ID).
			With("status", string(m.Status))
	}
	if err := s.store.TransitionMandate(ctx, tenantID, m.ID, domain.MandateActive, domain.MandateCancelled); err != nil {
		if err == store.ErrConflict {
			return nil, apierr.New(apierr.CodeConcurrentModification, "mandate changed state concurrently").
				With("mandate_id", m.ID)
		}
		return nil, apierr.New(apierr.CodeDatabaseError, "mandate cancel failed")
	}
	m.Status = domain.MandateCancelled
	s.logger.Printf("mandate %s cancelled, used=%s of %s", m.ID, m.UsedAmount, m.AuthorizedAmount)
	return m, nil
}

// Executions lists the spend history for a mandate, oldest first.
func (s *Service) Executions(ctx context.Context, tenantID, mandateID string) ([]*domain.MandateExecution, error) {
	if _, err := s.Get(ctx, tenantID, mandateID); err != nil {
		return nil, err
	}
	execs, err := s.store.ListMandateExecutions(ctx, tenantID, mandateID)
	if err != nil {
		return nil, apierr.New(apierr.CodeDatabaseError, "execution list failed")
	}
	return execs, nil
}
