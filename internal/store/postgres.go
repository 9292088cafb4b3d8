package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/shopspring/decimal"

	"github.com/haxaco/payos-sub010/internal/domain"
)

// Postgres backs sandbox and production. Every correctness-critical write is
// a single conditional statement so the invariant lives in the database, not
// in application locks.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool against dsn.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) CreateAccount(ctx context.Context, a *domain.Account) error {
	balances, _ := json.Marshal(a.Balances)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, tenant_id, name, type, status, verification_tier, currency, balances, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.TenantID, a.Name, a.Type, a.Status, a.VerificationTier, a.Currency, balances, a.CreatedAt)
	return err
}

func (p *Postgres) GetAccount(ctx context.Context, tenantID, id string) (*domain.Account, error) {
	var a domain.Account
	var balances []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, type, status, verification_tier, currency, balances, created_at
		FROM accounts WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&a.ID, &a.TenantID, &a.Name, &a.Type, &a.Status, &a.VerificationTier,
			&a.Currency, &balances, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(balances, &a.Balances); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) GetAccounts(ctx context.Context, tenantID string, ids []string) (map[string]*domain.Account, error) {
	out := make(map[string]*domain.Account, len(ids))
	for _, id := range ids {
		a, err := p.GetAccount(ctx, tenantID, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

// DebitAvailable uses a conditional JSON update: the WHERE clause refuses the
// write when the resulting available balance would be negative. Overdraft is
// impossible under concurrent writers.
func (p *Postgres) DebitAvailable(ctx context.Context, tenantID, accountID, currency string, amount decimal.Decimal) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE accounts
		SET balances = jsonb_set(balances, ARRAY[$3, 'available'],
			to_jsonb(((balances->$3->>'available')::numeric - $4::numeric)::text))
		WHERE id = $1 AND tenant_id = $2
		  AND (balances->$3->>'available')::numeric >= $4::numeric`,
		accountID, tenantID, currency, amount.String())
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, gerr := p.GetAccount(ctx, tenantID, accountID); gerr != nil {
			return gerr
		}
		return ErrInsufficient
	}
	return nil
}

func (p *Postgres) CreditAvailable(ctx context.Context, tenantID, accountID, currency string, amount decimal.Decimal) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE accounts
		SET balances = jsonb_set(balances, ARRAY[$3, 'available'],
			to_jsonb(((COALESCE(balances->$3->>'available','0'))::numeric + $4::numeric)::text))
		WHERE id = $1 AND tenant_id = $2`,
		accountID, tenantID, currency, amount.String())
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	fees, _ := json.Marshal(t.Fees)
	var fx sql.NullString
	if t.FXRate != nil {
		fx = sql.NullString{String: t.FXRate.String(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfers (id, tenant_id, from_account, to_account, amount, currency,
			destination_currency, status, rail, fees, fx_rate, agent_id, failure_code, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.TenantID, t.FromAccount, t.ToAccount, t.Amount.String(), t.Currency,
		t.DestinationCurrency, t.Status, t.Rail, fees, fx, t.AgentID, t.FailureCode,
		t.CreatedAt, t.CompletedAt)
	return err
}

func (p *Postgres) GetTransfer(ctx context.Context, tenantID, id string) (*domain.Transfer, error) {
	var t domain.Transfer
	var fees []byte
	var amount string
	var fx, destCur, agentID, failureCode sql.NullString
	var completedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, from_account, to_account, amount, currency, destination_currency,
			status, rail, fees, fx_rate, agent_id, failure_code, created_at, completed_at
		FROM transfers WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&t.ID, &t.TenantID, &t.FromAccount, &t.ToAccount, &amount, &t.Currency, &destCur,
			&t.Status, &t.Rail, &fees, &fx, &agentID, &failureCode, &t.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Amount, _ = decimal.NewFromString(amount)
	t.DestinationCurrency = destCur.String
	t.AgentID = agentID.String
	t.FailureCode = failureCode.String
	if fx.Valid {
		d, _ := decimal.NewFromString(fx.String)
		t.FXRate = &d
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal(fees, &t.Fees); err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) TransitionTransfer(ctx context.Context, tenantID, id string, from, to domain.TransferStatus) error {
	completed := ""
	if to == domain.TransferCompleted {
		completed = ", completed_at = NOW()"
	}
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE transfers SET status = $4%s
		WHERE id = $1 AND tenant_id = $2 AND status = $3`, completed),
		id, tenantID, from, to)
	if err != nil {
		return err
	}
	return affected(ctx, res, func() error {
		_, gerr := p.GetTransfer(ctx, tenantID, id)
		return gerr
	})
}

func (p *Postgres) ListTransfersByAccount(ctx context.Context, tenantID, accountID string, since time.Time, limit int) ([]*domain.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM transfers
		WHERE tenant_id = $1 AND (from_account = $2 OR to_account = $2) AND created_at >= $3
		ORDER BY created_at DESC LIMIT $4`, tenantID, accountID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Transfer
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		t, err := p.GetTransfer(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSimulation(ctx context.Context, s *domain.Simulation) error {
	payload, _ := json.Marshal(s.ActionPayload)
	preview, _ := json.Marshal(s.Preview)
	warnings, _ := json.Marshal(s.Warnings)
	simErrors, _ := json.Marshal(s.Errors)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO simulations (id, tenant_id, action_type, action_payload, status, can_execute,
			preview, warnings, errors, executed, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.TenantID, s.ActionType, payload, s.Status, s.CanExecute,
		preview, warnings, simErrors, s.Executed, s.CreatedAt, s.ExpiresAt)
	return err
}

func (p *Postgres) GetSimulation(ctx context.Context, tenantID, id string) (*domain.Simulation, error) {
	var s domain.Simulation
	var payload, preview, warnings, simErrors, variance []byte
	var resultID, resultType sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, action_type, action_payload, status, can_execute, preview,
			warnings, errors, executed, execution_result_id, execution_result_type,
			variance, created_at, expires_at
		FROM simulations WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&s.ID, &s.TenantID, &s.ActionType, &payload, &s.Status, &s.CanExecute, &preview,
			&warnings, &simErrors, &s.Executed, &resultID, &resultType,
			&variance, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.ExecutionResultID = resultID.String
	s.ExecutionResultType = resultType.String
	json.Unmarshal(payload, &s.ActionPayload)
	json.Unmarshal(preview, &s.Preview)
	json.Unmarshal(warnings, &s.Warnings)
	json.Unmarshal(simErrors, &s.Errors)
	if len(variance) > 0 {
		var v domain.Variance
		if json.Unmarshal(variance, &v) == nil {
			s.Variance = &v
		}
	}
	return &s, nil
}

// ClaimSimulationExecution is the canonical single-winner transition:
// UPDATE ... WHERE executed = false. Exactly one concurrent request sees a
// row affected.
func (p *Postgres) ClaimSimulationExecution(ctx context.Context, tenantID, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE simulations SET executed = true, status = 'executed'
		WHERE id = $1 AND tenant_id = $2 AND executed = false`, id, tenantID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return true, nil
	}
	if _, gerr := p.GetSimulation(ctx, tenantID, id); gerr != nil {
		return false, gerr
	}
	return false, nil
}

func (p *Postgres) ReleaseSimulationExecution(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE simulations SET executed = false, status = 'failed'
		WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetSimulationResult(ctx context.Context, tenantID, id, resultID, resultType string, v *domain.Variance) error {
	variance, _ := json.Marshal(v)
	res, err := p.db.ExecContext(ctx, `
		UPDATE simulations SET execution_result_id = $3, execution_result_type = $4, variance = $5
		WHERE id = $1 AND tenant_id = $2`, id, tenantID, resultID, resultType, variance)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateMandate(ctx context.Context, m *domain.Mandate) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO mandates (id, tenant_id, mandate_type, agent_id, account_id, currency,
			authorized_amount, used_amount, remaining_amount, execution_count, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		m.ID, m.TenantID, m.MandateType, m.AgentID, m.AccountID, m.Currency,
		m.AuthorizedAmount.String(), m.UsedAmount.String(), m.RemainingAmount.String(),
		m.ExecutionCount, m.Status, m.CreatedAt, m.ExpiresAt)
	return err
}

func (p *Postgres) GetMandate(ctx context.Context, tenantID, id string) (*domain.Mandate, error) {
	var m domain.Mandate
	var authorized, used, remaining string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, mandate_type, agent_id, account_id, currency, authorized_amount,
			used_amount, remaining_amount, execution_count, status, created_at, expires_at
		FROM mandates WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&m.ID, &m.TenantID, &m.MandateType, &m.AgentID, &m.AccountID, &m.Currency,
			&authorized, &used, &remaining, &m.ExecutionCount, &m.Status, &m.CreatedAt, &m.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.AuthorizedAmount, _ = decimal.NewFromString(authorized)
	m.UsedAmount, _ = decimal.NewFromString(used)
	m.RemainingAmount, _ = decimal.NewFromString(remaining)
	return &m, nil
}

// ApplyMandateSpend rejects racing over-spends with a single conditional
// statement on (status = 'active' AND remaining >= amount).
func (p *Postgres) ApplyMandateSpend(ctx context.Context, tenantID, id string, amount decimal.Decimal) (*domain.Mandate, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE mandates SET
			used_amount = (used_amount::numeric + $3::numeric)::text,
			remaining_amount = (remaining_amount::numeric - $3::numeric)::text,
			execution_count = execution_count + 1,
			status = CASE WHEN remaining_amount::numeric = $3::numeric THEN 'completed' ELSE status END
		WHERE id = $1 AND tenant_id = $2 AND status = 'active'
		  AND remaining_amount::numeric >= $3::numeric`,
		id, tenantID, amount.String())
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, gerr := p.GetMandate(ctx, tenantID, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrConflict
	}
	return p.GetMandate(ctx, tenantID, id)
}

func (p *Postgres) TransitionMandate(ctx context.Context, tenantID, id string, from, to domain.MandateStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE mandates SET status = $4
		WHERE id = $1 AND tenant_id = $2 AND status = $3`, id, tenantID, from, to)
	if err != nil {
		return err
	}
	return affected(ctx, res, func() error {
		_, gerr := p.GetMandate(ctx, tenantID, id)
		return gerr
	})
}

func (p *Postgres) AppendMandateExecution(ctx context.Context, e *domain.MandateExecution) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO mandate_executions (id, mandate_id, execution_index, transfer_id, amount, status, executed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.MandateID, e.ExecutionIndex, e.TransferID, e.Amount.String(), e.Status, e.ExecutedAt)
	return err
}

func (p *Postgres) ListMandateExecutions(ctx context.Context, tenantID, mandateID string) ([]*domain.MandateExecution, error) {
	if _, err := p.GetMandate(ctx, tenantID, mandateID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, mandate_id, execution_index, transfer_id, amount, status, executed_at
		FROM mandate_executions WHERE mandate_id = $1 ORDER BY execution_index`, mandateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.MandateExecution
	for rows.Next() {
		var e domain.MandateExecution
		var amount string
		if err := rows.Scan(&e.ID, &e.MandateID, &e.ExecutionIndex, &e.TransferID, &amount, &e.Status, &e.ExecutedAt); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateCheckout(ctx context.Context, c *domain.Checkout) error {
	items, _ := json.Marshal(c.Items)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO checkouts (id, tenant_id, merchant_id, agent_id, items, currency, subtotal,
			tax, shipping, discount, total, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.TenantID, c.MerchantID, c.AgentID, items, c.Currency, c.Subtotal.String(),
		c.Tax.String(), c.Shipping.String(), c.Discount.String(), c.Total.String(),
		c.Status, c.CreatedAt, c.ExpiresAt)
	return err
}

func (p *Postgres) GetCheckout(ctx context.Context, tenantID, id string) (*domain.Checkout, error) {
	var c domain.Checkout
	var items []byte
	var subtotal, tax, shipping, discount, total string
	var transferID sql.NullString
	var completedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, merchant_id, agent_id, items, currency, subtotal, tax, shipping,
			discount, total, status, transfer_id, created_at, expires_at, completed_at
		FROM checkouts WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&c.ID, &c.TenantID, &c.MerchantID, &c.AgentID, &items, &c.Currency, &subtotal,
			&tax, &shipping, &discount, &total, &c.Status, &transferID, &c.CreatedAt,
			&c.ExpiresAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal(items, &c.Items)
	c.Subtotal, _ = decimal.NewFromString(subtotal)
	c.Tax, _ = decimal.NewFromString(tax)
	c.Shipping, _ = decimal.NewFromString(shipping)
	c.Discount, _ = decimal.NewFromString(discount)
	c.Total, _ = decimal.NewFromString(total)
	c.TransferID = transferID.String
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

func (p *Postgres) TransitionCheckout(ctx context.Context, tenantID, id string, from, to domain.CheckoutStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE checkouts SET status = $4
		WHERE id = $1 AND tenant_id = $2 AND status = $3`, id, tenantID, from, to)
	if err != nil {
		return err
	}
	return affected(ctx, res, func() error {
		_, gerr := p.GetCheckout(ctx, tenantID, id)
		return gerr
	})
}

func (p *Postgres) SetCheckoutResult(ctx context.Context, tenantID, id, transferID string, completedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE checkouts SET transfer_id = $3, completed_at = $4
		WHERE id = $1 AND tenant_id = $2`, id, tenantID, transferID, completedAt)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateAgent(ctx context.Context, a *domain.Agent) error {
	policy, _ := json.Marshal(a.Policy)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agents (id, tenant_id, name, parent_account, status, kya_tier, policy, active_streams, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.TenantID, a.Name, a.ParentAccount, a.Status, a.KYATier, policy, a.ActiveStreams, a.CreatedAt)
	return err
}

func (p *Postgres) GetAgent(ctx context.Context, tenantID, id string) (*domain.Agent, error) {
	var a domain.Agent
	var policy []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, parent_account, status, kya_tier, policy, active_streams, created_at
		FROM agents WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&a.ID, &a.TenantID, &a.Name, &a.ParentAccount, &a.Status, &a.KYATier, &policy,
			&a.ActiveStreams, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal(policy, &a.Policy)
	return &a, nil
}

func (p *Postgres) TransitionAgent(ctx context.Context, tenantID, id string, from, to domain.AgentStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE agents SET status = $4
		WHERE id = $1 AND tenant_id = $2 AND status = $3`, id, tenantID, from, to)
	if err != nil {
		return err
	}
	return affected(ctx, res, func() error {
		_, gerr := p.GetAgent(ctx, tenantID, id)
		return gerr
	})
}

func (p *Postgres) ListAgentsByParent(ctx context.Context, tenantID, accountID string) ([]*domain.Agent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM agents WHERE tenant_id = $1 AND parent_account = $2 ORDER BY id`,
		tenantID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Agent
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		a, err := p.GetAgent(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateRefund(ctx context.Context, r *domain.Refund) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refunds (id, tenant_id, original_transfer, amount, currency, reason, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.TenantID, r.OriginalTransfer, r.Amount.String(), r.Currency, r.Reason, r.Status, r.CreatedAt)
	return err
}

// CreateRefundCapped is a single conditional INSERT: the row lands only while
// prior non-failed refunds plus this amount fit inside the original principal.
func (p *Postgres) CreateRefundCapped(ctx context.Context, r *domain.Refund) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO refunds (id, tenant_id, original_transfer, amount, currency, reason, status, created_at)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8
		FROM transfers t
		WHERE t.id = $3 AND t.tenant_id = $2
		  AND (
			SELECT COALESCE(SUM(amount::numeric), 0)
			FROM refunds WHERE tenant_id = $2 AND original_transfer = $3 AND status <> 'failed'
		  ) + $4::numeric <= t.amount::numeric`,
		r.ID, r.TenantID, r.OriginalTransfer, r.Amount.String(), r.Currency, r.Reason, r.Status, r.CreatedAt)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, gerr := p.GetTransfer(ctx, r.TenantID, r.OriginalTransfer); gerr != nil {
			return gerr
		}
		return ErrConflict
	}
	return nil
}

func (p *Postgres) ListRefundsByTransfer(ctx context.Context, tenantID, transferID string) ([]*domain.Refund, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, original_transfer, amount, currency, reason, status, created_at
		FROM refunds WHERE tenant_id = $1 AND original_transfer = $2 ORDER BY created_at`,
		tenantID, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Refund
	for rows.Next() {
		var r domain.Refund
		var amount string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.OriginalTransfer, &amount, &r.Currency,
			&r.Reason, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Amount, _ = decimal.NewFromString(amount)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveBatchSnapshot(ctx context.Context, tenantID, batchID string, snapshot []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO batch_snapshots (tenant_id, batch_id, snapshot, created_at)
		VALUES ($1,$2,$3,NOW())
		ON CONFLICT (tenant_id, batch_id) DO UPDATE SET snapshot = EXCLUDED.snapshot`,
		tenantID, batchID, snapshot)
	return err
}

func (p *Postgres) GetBatchSnapshot(ctx context.Context, tenantID, batchID string) ([]byte, error) {
	var b []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT snapshot FROM batch_snapshots WHERE tenant_id = $1 AND batch_id = $2`,
		tenantID, batchID).Scan(&b)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return b, err
}

// affected converts a zero-rows-affected result into ErrConflict, or the
// not-found error from the existence probe.
func affected(_ context.Context, res sql.Result, probe func() error) error {
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}
	if err := probe(); err != nil {
		return err
	}
	return ErrConflict
}
