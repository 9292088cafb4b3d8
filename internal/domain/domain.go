package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType distinguishes person and business ledger buckets.
type AccountType string

const (
	AccountPerson   AccountType = "person"
	AccountBusiness AccountType = "business"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

// Balance is the per-currency ledger view of an account.
// Invariant: Available >= 0 and Available + Holds <= total at all times.
type Balance struct {
	Currency   string          `json:"currency"`
	Available  decimal.Decimal `json:"available"`
	PendingIn  decimal.Decimal `json:"pending_in"`
	PendingOut decimal.Decimal `json:"pending_out"`
	Holds      decimal.Decimal `json:"holds"`
}

// Account is a partner-owned ledger bucket.
type Account struct {
	ID               string             `json:"id"`
	TenantID         string             `json:"tenant_id"`
	Name             string             `json:"name"`
	Type             AccountType        `json:"type"`
	Status           AccountStatus      `json:"status"`
	VerificationTier int                `json:"verification_tier"` // 0..3+
	Currency         string             `json:"currency"`          // primary currency
	Balances         map[string]Balance `json:"balances"`
	CreatedAt        time.Time          `json:"created_at"`
}

// TransferStatus is the lifecycle state of a transfer.
// completed, failed and cancelled are terminal.
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCancelled  TransferStatus = "cancelled"
)

// Terminal reports whether the transfer can no longer change.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed || s == TransferCancelled
}

// Rail identifies the settlement network a transfer rides on.
type Rail string

const (
	RailInternal Rail = "internal"
	RailPix      Rail = "pix"
	RailSPEI     Rail = "spei"
	RailCVU      Rail = "cvu"
	RailPSE      Rail = "pse"
	RailWire     Rail = "wire"
)

// FeeBreakdown itemizes the fees charged on a transfer, all in the source
// currency.
type FeeBreakdown struct {
	PlatformFee decimal.Decimal `json:"platform_fee"`
	FXFee       decimal.Decimal `json:"fx_fee"`
	RailFee     decimal.Decimal `json:"rail_fee"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
}

// Transfer is an atomic outbound movement between accounts.
type Transfer struct {
	ID                  string           `json:"id"`
	TenantID            string           `json:"tenant_id"`
	FromAccount         string           `json:"from_account"`
	ToAccount           string           `json:"to_account"`
	Amount              decimal.Decimal  `json:"amount"`
	Currency            string           `json:"currency"`
	DestinationCurrency string           `json:"destination_currency,omitempty"`
	Status              TransferStatus   `json:"status"`
	Rail                Rail             `json:"rail"`
	Fees                FeeBreakdown     `json:"fees"`
	FXRate              *decimal.Decimal `json:"fx_rate,omitempty"`
	AgentID             string           `json:"agent_id,omitempty"`
	FailureCode         string           `json:"failure_code,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
}

// ActionType enumerates what a simulation projects.
type ActionType string

const (
	ActionTransfer ActionType = "transfer"
	ActionRefund   ActionType = "refund"
	ActionStream   ActionType = "stream"
	ActionBatch    ActionType = "batch"
)

// SimulationStatus is the lifecycle state of a simulation.
type SimulationStatus string

const (
	SimulationPending   SimulationStatus = "pending"
	SimulationCompleted SimulationStatus = "completed"
	SimulationFailed    SimulationStatus = "failed"
	SimulationExecuted  SimulationStatus = "executed"
	SimulationExpired   SimulationStatus = "expired"
)

// Warning is a non-terminal advisory attached to a preview.
type Warning struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SimError is a terminal eligibility error; any SimError forces
// can_execute=false.
type SimError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Variance captures preview-vs-execution drift.
type Variance struct {
	FXRateChange            string `json:"fx_rate_change"`
	FeeChange               string `json:"fee_change"`
	DestinationAmountChange string `json:"destination_amount_change"`
	TimingChange            string `json:"timing_change"`
	VarianceLevel           string `json:"variance_level"` // low | medium | high
}

// Simulation is an immutable projection of a proposed action.
// Invariants: executed=true implies ExecutionResultID != ""; the payload is
// frozen at creation; execution is forbidden after ExpiresAt.
type Simulation struct {
	ID                  string                 `json:"id"`
	TenantID            string                 `json:"tenant_id"`
	ActionType          ActionType             `json:"action_type"`
	ActionPayload       map[string]interface{} `json:"action_payload"`
	Status              SimulationStatus       `json:"status"`
	CanExecute          bool                   `json:"can_execute"`
	Preview             map[string]interface{} `json:"preview,omitempty"`
	Warnings            []Warning              `json:"warnings"`
	Errors              []SimError             `json:"errors"`
	Executed            bool                   `json:"executed"`
	ExecutionResultID   string                 `json:"execution_result_id,omitempty"`
	ExecutionResultType string                 `json:"execution_result_type,omitempty"`
	Variance            *Variance              `json:"variance,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	ExpiresAt           time.Time              `json:"expires_at"`
}

// MandateType under AP2.
type MandateType string

const (
	MandateIntent  MandateType = "intent"
	MandateCart    MandateType = "cart"
	MandatePayment MandateType = "payment"
)

// MandateStatus is the AP2 mandate lifecycle state.
type MandateStatus string

const (
	MandateActive    MandateStatus = "active"
	MandateCompleted MandateStatus = "completed"
	MandateCancelled MandateStatus = "cancelled"
	MandateExpired   MandateStatus = "expired"
)

// Mandate is a pre-authorized AP2 spending envelope.
// Invariant: UsedAmount + RemainingAmount == AuthorizedAmount.
type Mandate struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	MandateType      MandateType     `json:"mandate_type"`
	AgentID          string          `json:"agent_id"`
	AccountID        string          `json:"account_id"`
	Currency         string          `json:"currency"`
	AuthorizedAmount decimal.Decimal `json:"authorized_amount"`
	UsedAmount       decimal.Decimal `json:"used_amount"`
	RemainingAmount  decimal.Decimal `json:"remaining_amount"`
	ExecutionCount   int             `json:"execution_count"`
	Status           MandateStatus   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

// MandateExecution records one spend against a mandate.
// ExecutionIndex is monotonic per mandate.
type MandateExecution struct {
	ID             string          `json:"id"`
	MandateID      string          `json:"mandate_id"`
	ExecutionIndex int             `json:"execution_index"`
	TransferID     string          `json:"transfer_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// CheckoutStatus is the ACP checkout lifecycle state.
type CheckoutStatus string

const (
	CheckoutPending   CheckoutStatus = "pending"
	CheckoutCompleted CheckoutStatus = "completed"
	CheckoutCancelled CheckoutStatus = "cancelled"
	CheckoutExpired   CheckoutStatus = "expired"
	CheckoutFailed    CheckoutStatus = "failed"
)

// CheckoutItem is a line item in an ACP cart.
type CheckoutItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Checkout is a cart-scoped ACP payment authorization. Total is pinned at
// creation: total = subtotal + tax + shipping - discount.
type Checkout struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	MerchantID  string          `json:"merchant_id"`
	AgentID     string          `json:"agent_id"`
	Items       []CheckoutItem  `json:"items"`
	Currency    string          `json:"currency"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Shipping    decimal.Decimal `json:"shipping"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Status      CheckoutStatus  `json:"status"`
	TransferID  string          `json:"transfer_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// AgentStatus is the agent lifecycle state.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentSuspended AgentStatus = "suspended"
)

// SpendingPolicy caps an agent's autonomous spending.
type SpendingPolicy struct {
	DailyCap          decimal.Decimal `json:"daily_cap"`
	MonthlyCap        decimal.Decimal `json:"monthly_cap"`
	PerTransactionCap decimal.Decimal `json:"per_transaction_cap"`
	Allowlist         []string        `json:"allowlist,omitempty"`
	ApprovalThreshold decimal.Decimal `json:"approval_threshold"`
}

// Agent is a spending actor owned by a business account.
type Agent struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Name          string         `json:"name"`
	ParentAccount string         `json:"parent_account"` // must be a business account
	Status        AgentStatus    `json:"status"`
	KYATier       int            `json:"kya_tier"`
	Policy        SpendingPolicy `json:"policy"`
	ActiveStreams int            `json:"active_streams"`
	CreatedAt     time.Time      `json:"created_at"`
}

// RefundReason enumerates why a refund was issued.
type RefundReason string

const (
	RefundCustomerRequest  RefundReason = "customer_request"
	RefundDuplicatePayment RefundReason = "duplicate_payment"
	RefundFraud            RefundReason = "fraud"
	RefundError            RefundReason = "error"
	RefundOther            RefundReason = "other"
)

// ValidRefundReason reports whether r is a known reason.
func ValidRefundReason(r RefundReason) bool {
	switch r {
	case RefundCustomerRequest, RefundDuplicatePayment, RefundFraud, RefundError, RefundOther:
		return true
	}
	return false
}

// Refund is a reverse movement against a prior transfer.
// Invariant: the sum of refunds against a transfer never exceeds its amount.
type Refund struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	OriginalTransfer string          `json:"original_transfer"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Reason           RefundReason    `json:"reason"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

// RefundWindowDays is how long after completion a transfer stays refundable.
const RefundWindowDays = 30

// SimulationTTL is how long a simulation remains executable.
const SimulationTTL = time.Hour

// CheckoutTTL is the default checkout expiry.
const CheckoutTTL = time.Hour

// NewID returns a prefixed, collision-resistant identifier (sim_, tr_, ...).
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
