package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/domain"
)

// Memory is the in-process Store used in mock mode and tests. All conditional
// writes happen under a single mutex, which gives the same observable
// semantics as the single-statement conditional UPDATEs in the Postgres
// implementation.
type Memory struct {
	mu         sync.RWMutex
	accounts   map[string]*domain.Account
	transfers  map[string]*domain.Transfer
	sims       map[string]*domain.Simulation
	mandates   map[string]*domain.Mandate
	executions map[string][]*domain.MandateExecution // mandateID -> ordered
	checkouts  map[string]*domain.Checkout
	agents     map[string]*domain.Agent
	refunds    map[string][]*domain.Refund // transferID -> refunds
	batches    map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[string]*domain.Account),
		transfers:  make(map[string]*domain.Transfer),
		sims:       make(map[string]*domain.Simulation),
		mandates:   make(map[string]*domain.Mandate),
		executions: make(map[string][]*domain.MandateExecution),
		checkouts:  make(map[string]*domain.Checkout),
		agents:     make(map[string]*domain.Agent),
		refunds:    make(map[string][]*domain.Refund),
		batches:    make(map[string][]byte),
	}
}

var _ Store = (*Memory)(nil)

// --- Accounts ---

func (m *Memory) CreateAccount(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *Memory) GetAccount(_ context.Context, tenantID, id string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *a
	cp.Balances = copyBalances(a.Balances)
	return &cp, nil
}

func (m *Memory) GetAccounts(ctx context.Context, tenantID string, ids []string) (map[string]*domain.Account, error) {
	out := make(map[string]*domain.Account, len(ids))
	for _, id := range ids {
		a, err := m.GetAccount(ctx, tenantID, id)
		if err == nil {
			out[id] = a
		}
	}
	return out, nil
}

func (m *Memory) DebitAvailable(_ context.Context, tenantID, accountID, currency string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	bal := a.Balances[currency]
	next := bal.Available.Sub(amount)
	if next.IsNegative() {
		return ErrInsufficient
	}
	bal.Available = next
	bal.Currency = currency
	a.Balances[currency] = bal
	return nil
}

func (m *Memory) CreditAvailable(_ context.Context, tenantID, accountID, currency string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	bal := a.Balances[currency]
	bal.Available = bal.Available.Add(amount)
	bal.Currency = currency
	a.Balances[currency] = bal
	return nil
}

// --- Transfers ---

func (m *Memory) CreateTransfer(_ context.Context, t *domain.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transfers[t.ID] = &cp
	return nil
}

func (m *Memory) GetTransfer(_ context.Context, tenantID, id string) (*domain.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transfers[id]
	if !ok || t.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) TransitionTransfer(_ context.Context, tenantID, id string, from, to domain.TransferStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok || t.TenantID != tenantID {
		return ErrNotFound
	}
	if t.Status != from {
		return ErrConflict
	}
	t.Status = to
	if to == domain.TransferCompleted {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	return nil
}

func (m *Memory) ListTransfersByAccount(_ context.Context, tenantID, accountID string, since time.Time, limit int) ([]*domain.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Transfer
	for _, t := range m.transfers {
		if t.TenantID != tenantID {
			continue
		}
		if t.FromAccount != accountID && t.ToAccount != accountID {
			continue
		}
		if t.CreatedAt.Before(since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Simulations ---

func (m *Memory) CreateSimulation(_ context.Context, s *domain.Simulation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sims[s.ID] = &cp
	return nil
}

func (m *Memory) GetSimulation(_ context.Context, tenantID, id string) (*domain.Simulation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sims[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ClaimSimulationExecution(_ context.Context, tenantID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sims[id]
	if !ok || s.TenantID != tenantID {
		return false, ErrNotFound
	}
	if s.Executed {
		return false, nil
	}
	s.Executed = true
	s.Status = domain.SimulationExecuted
	return true, nil
}

func (m *Memory) ReleaseSimulationExecution(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sims[id]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	s.Executed = false
	s.Status = domain.SimulationFailed
	return nil
}

func (m *Memory) SetSimulationResult(_ context.Context, tenantID, id, resultID, resultType string, v *domain.Variance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sims[id]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	s.ExecutionResultID = resultID
	s.ExecutionResultType = resultType
	s.Variance = v
	return nil
}

// --- Mandates ---

func (m *Memory) CreateMandate(_ context.Context, md *domain.Mandate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *md
	m.mandates[md.ID] = &cp
	return nil
}

func (m *Memory) GetMandate(_ context.Context, tenantID, id string) (*domain.Mandate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.mandates[id]
	if !ok || md.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *md
	return &cp, nil
}

func (m *Memory) ApplyMandateSpend(_ context.Context, tenantID, id string, amount decimal.Decimal) (*domain.Mandate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.mandates[id]
	if !ok || md.TenantID != tenantID {
		return nil, ErrNotFound
	}
	// Conditional spend: active AND remaining >= amount, in one step.
	if md.Status != domain.MandateActive || md.RemainingAmount.LessThan(amount) {
		return nil, ErrConflict
	}
	md.UsedAmount = md.UsedAmount.Add(amount)
	md.RemainingAmount = md.RemainingAmount.Sub(amount)
	md.ExecutionCount++
	if md.RemainingAmount.IsZero() {
		md.Status = domain.MandateCompleted
	}
	cp := *md
	return &cp, nil
}

func (m *Memory) TransitionMandate(_ context.Context, tenantID, id string, from, to domain.MandateStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.mandates[id]
	if !ok || md.TenantID != tenantID {
		return ErrNotFound
	}
	if md.Status != from {
		return ErrConflict
	}
	md.Status = to
	return nil
}

func (m *Memory) AppendMandateExecution(_ context.Context, e *domain.MandateExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.executions[e.MandateID] = append(m.executions[e.MandateID], &cp)
	return nil
}

func (m *Memory) ListMandateExecutions(_ context.Context, tenantID, mandateID string) ([]*domain.MandateExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.mandates[mandateID]
	if !ok || md.TenantID != tenantID {
		return nil, ErrNotFound
	}
	list := m.executions[mandateID]
	out := make([]*domain.MandateExecution, len(list))
	for i, e := range list {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// --- Checkouts ---

func (m *Memory) CreateCheckout(_ context.Context, c *domain.Checkout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.checkouts[c.ID] = &cp
	return nil
}

func (m *Memory) GetCheckout(_ context.Context, tenantID, id string) (*domain.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checkouts[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) TransitionCheckout(_ context.Context, tenantID, id string, from, to domain.CheckoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checkouts[id]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	if c.Status != from {
		return ErrConflict
	}
	c.Status = to
	return nil
}

func (m *Memory) SetCheckoutResult(_ context.Context, tenantID, id, transferID string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checkouts[id]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	c.TransferID = transferID
	c.CompletedAt = &completedAt
	return nil
}

// --- Agents ---

func (m *Memory) CreateAgent(_ context.Context, a *domain.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *Memory) GetAgent(_ context.Context, tenantID, id string) (*domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) TransitionAgent(_ context.Context, tenantID, id string, from, to domain.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	if a.Status != from {
		return ErrConflict
	}
	a.Status = to
	return nil
}

func (m *Memory) ListAgentsByParent(_ context.Context, tenantID, accountID string) ([]*domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Agent
	for _, a := range m.agents {
		if a.TenantID == tenantID && a.ParentAccount == accountID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Refunds ---

func (m *Memory) CreateRefund(_ context.Context, r *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.refunds[r.OriginalTransfer] = append(m.refunds[r.OriginalTransfer], &cp)
	return nil
}

// CreateRefundCapped holds the lock across the sum and the insert, so two
// racing refunds can never jointly exceed the original principal.
func (m *Memory) CreateRefundCapped(_ context.Context, r *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.transfers[r.OriginalTransfer]
	if !ok || original.TenantID != r.TenantID {
		return ErrNotFound
	}
	refunded := decimal.Zero
	for _, prior := range m.refunds[r.OriginalTransfer] {
		if prior.TenantID != r.TenantID || prior.Status == "failed" {
			continue
		}
		refunded = refunded.Add(prior.Amount)
	}
	if refunded.Add(r.Amount).GreaterThan(original.Amount) {
		return ErrConflict
	}
	cp := *r
	m.refunds[r.OriginalTransfer] = append(m.refunds[r.OriginalTransfer], &cp)
	return nil
}

func (m *Memory) ListRefundsByTransfer(_ context.Context, tenantID, transferID string) ([]*domain.Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Refund
	for _, r := range m.refunds[transferID] {
		if r.TenantID == tenantID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Batches ---

func (m *Memory) SaveBatchSnapshot(_ context.Context, tenantID, batchID string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[tenantID+":"+batchID] = append([]byte(nil), snapshot...)
	return nil
}

func (m *Memory) GetBatchSnapshot(_ context.Context, tenantID, batchID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[tenantID+":"+batchID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func copyBalances(in map[string]domain.Balance) map[string]domain.Balance {
	out := make(map[string]domain.Balance, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
