// Package store holds persistence for accounts, transfers, simulations and
// protocol state. Correctness-critical invariants (single execution winner,
// mandate over-spend rejection, overdraft prevention) live in the store as
// conditional writes, not in an in-process lock manager.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/domain"
)

var (
	// ErrNotFound means the entity does not exist for this tenant.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means a conditional write lost to a concurrent writer or
	// the entity is not in the required state.
	ErrConflict = errors.New("store: conflict")
	// ErrInsufficient means a balance debit would overdraw the account.
	ErrInsufficient = errors.New("store: insufficient balance")
)

// Store is the persistence contract. The memory implementation backs mock
// mode and tests; the Postgres implementation backs sandbox/production.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, tenantID, id string) (*domain.Account, error)
	GetAccounts(ctx context.Context, tenantID string, ids []string) (map[string]*domain.Account, error)
	// DebitAvailable decrements available balance only if the result stays
	// non-negative. Returns ErrInsufficient otherwise.
	DebitAvailable(ctx context.Context, tenantID, accountID, currency string, amount decimal.Decimal) error
	CreditAvailable(ctx context.Context, tenantID, accountID, currency string, amount decimal.Decimal) error

	// Transfers
	CreateTransfer(ctx context.Context, t *domain.Transfer) error
	GetTransfer(ctx context.Context, tenantID, id string) (*domain.Transfer, error)
	// TransitionTransfer moves a transfer from one status to another only if
	// it is currently in `from`. Terminal states are never left.
	TransitionTransfer(ctx context.Context, tenantID, id string, from, to domain.TransferStatus) error
	ListTransfersByAccount(ctx context.Context, tenantID, accountID string, since time.Time, limit int) ([]*domain.Transfer, error)

	// Simulations
	CreateSimulation(ctx context.Context, s *domain.Simulation) error
	GetSimulation(ctx context.Context, tenantID, id string) (*domain.Simulation, error)
	// ClaimSimulationExecution flips executed false->true atomically.
	// Exactly one concurrent caller observes won=true.
	ClaimSimulationExecution(ctx context.Context, tenantID, id string) (won bool, err error)
	// ReleaseSimulationExecution rolls a failed execution back so callers
	// can retry (executed=false, status=failed).
	ReleaseSimulationExecution(ctx context.Context, tenantID, id string) error
	SetSimulationResult(ctx context.Context, tenantID, id, resultID, resultType string, v *domain.Variance) error

	// Mandates
	CreateMandate(ctx context.Context, m *domain.Mandate) error
	GetMandate(ctx context.Context, tenantID, id string) (*domain.Mandate, error)
	// ApplyMandateSpend atomically moves amount from remaining to used while
	// status is active and remaining >= amount; flips status to completed
	// when remaining hits zero. Returns the updated mandate.
	ApplyMandateSpend(ctx context.Context, tenantID, id string, amount decimal.Decimal) (*domain.Mandate, error)
	TransitionMandate(ctx context.Context, tenantID, id string, from, to domain.MandateStatus) error
	AppendMandateExecution(ctx context.Context, e *domain.MandateExecution) error
	ListMandateExecutions(ctx context.Context, tenantID, mandateID string) ([]*domain.MandateExecution, error)

	// Checkouts
	CreateCheckout(ctx context.Context, c *domain.Checkout) error
	GetCheckout(ctx context.Context, tenantID, id string) (*domain.Checkout, error)
	TransitionCheckout(ctx context.Context, tenantID, id string, from, to domain.CheckoutStatus) error
	SetCheckoutResult(ctx context.Context, tenantID, id, transferID string, completedAt time.Time) error

	// Agents
	CreateAgent(ctx context.Context, a *domain.Agent) error
	GetAgent(ctx context.Context, tenantID, id string) (*domain.Agent, error)
	TransitionAgent(ctx context.Context, tenantID, id string, from, to domain.AgentStatus) error
	ListAgentsByParent(ctx context.Context, tenantID, accountID string) ([]*domain.Agent, error)

	// Refunds
	CreateRefund(ctx context.Context, r *domain.Refund) error
	// CreateRefundCapped inserts the refund only if its amount plus all prior
	// non-failed refunds of the original transfer stays within the original
	// principal. Returns ErrConflict when the cap would be breached.
	CreateRefundCapped(ctx context.Context, r *domain.Refund) error
	ListRefundsByTransfer(ctx context.Context, tenantID, transferID string) ([]*domain.Refund, error)

	// Batches (aggregate snapshots for the context view)
	SaveBatchSnapshot(ctx context.Context, tenantID, batchID string, snapshot []byte) error
	GetBatchSnapshot(ctx context.Context, tenantID, batchID string) ([]byte, error)
}
