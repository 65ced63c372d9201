// Package store provides in-memory implementations of the ledger
// persistence interfaces, for tests and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/splitbook/ledger-engine/ledger"
)

// =============================================================================
// MEMORY BALANCE STORE
// =============================================================================

type pair struct {
	User, Counterparty ledger.UserID
}

// MemoryBalances is an in-memory ledger.BalanceStore. One mutex per store
// makes every ApplyDeltas call atomic, matching the contract the SQLite
// store fulfils with SQL transactions.
type MemoryBalances struct {
	mu   sync.RWMutex
	rows map[pair]decimal.Decimal
}

func NewMemoryBalances() *MemoryBalances {
	return &MemoryBalances{rows: make(map[pair]decimal.Decimal)}
}

func (m *MemoryBalances) Balance(_ context.Context, user, counterparty ledger.UserID) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	amt, ok := m.rows[pair{User: user, Counterparty: counterparty}]
	return amt, ok, nil
}

func (m *MemoryBalances) ListForUser(_ context.Context, user ledger.UserID) ([]ledger.BalanceRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []ledger.BalanceRow
	for p, amt := range m.rows {
		if p.User == user {
			rows = append(rows, ledger.BalanceRow{User: p.User, Counterparty: p.Counterparty, Amount: amt})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Counterparty < rows[j].Counterparty })
	return rows, nil
}

func (m *MemoryBalances) ApplyDeltas(_ context.Context, deltas []ledger.PairDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range deltas {
		m.bump(d.User, d.Counterparty, d.Delta)
		m.bump(d.Counterparty, d.User, d.Delta.Neg())
	}
	return nil
}

func (m *MemoryBalances) bump(user, counterparty ledger.UserID, delta decimal.Decimal) {
	p := pair{User: user, Counterparty: counterparty}
	next := m.rows[p].Add(delta)
	if next.IsZero() {
		delete(m.rows, p) // settled pairs leave no row behind
		return
	}
	m.rows[p] = next
}

func (m *MemoryBalances) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[pair]decimal.Decimal)
	return nil
}

func (m *MemoryBalances) Users(_ context.Context) ([]ledger.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[ledger.UserID]bool)
	var users []ledger.UserID
	for p := range m.rows {
		if !seen[p.User] {
			seen[p.User] = true
			users = append(users, p.User)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// Corrupt overwrites one row direction without touching its mirror.
// Test hook for exercising the verifier; never used in production paths.
func (m *MemoryBalances) Corrupt(user, counterparty ledger.UserID, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[pair{User: user, Counterparty: counterparty}] = amount
}

// =============================================================================
// MEMORY TRANSACTION STORE
// =============================================================================

// MemoryTransactions is an in-memory ledger.TransactionStore preserving
// insertion order for ForEach.
type MemoryTransactions struct {
	mu    sync.RWMutex
	byID  map[ledger.TxID]ledger.Transaction
	order []ledger.TxID
}

func NewMemoryTransactions() *MemoryTransactions {
	return &MemoryTransactions{byID: make(map[ledger.TxID]ledger.Transaction)}
}

func (m *MemoryTransactions) Save(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[tx.ID]; !exists {
		m.order = append(m.order, tx.ID)
	}
	m.byID[tx.ID] = tx
	return nil
}

func (m *MemoryTransactions) Get(_ context.Context, id ledger.TxID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.byID[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return &tx, nil
}

func (m *MemoryTransactions) Delete(_ context.Context, id ledger.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return ledger.ErrTransactionNotFound
	}
	delete(m.byID, id)
	for i, txID := range m.order {
		if txID == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryTransactions) ForEach(_ context.Context, fn func(ledger.Transaction) error) error {
	m.mu.RLock()
	txs := make([]ledger.Transaction, 0, len(m.order))
	for _, id := range m.order {
		txs = append(txs, m.byID[id])
	}
	m.mu.RUnlock()

	// Callback runs outside the lock so it may write to other stores.
	for _, tx := range txs {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryTransactions) ListByParticipants(_ context.Context, users []ledger.UserID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inSet := make(map[ledger.UserID]bool, len(users))
	for _, u := range users {
		inSet[u] = true
	}

	var out []ledger.Transaction
	for _, id := range m.order {
		tx := m.byID[id]
		for _, p := range tx.Participants {
			if inSet[p] {
				out = append(out, tx)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryTransactions) Participants(_ context.Context) ([]ledger.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[ledger.UserID]bool)
	var users []ledger.UserID
	for _, id := range m.order {
		for _, p := range m.byID[id].Participants {
			if !seen[p] {
				seen[p] = true
				users = append(users, p)
			}
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// =============================================================================
// MEMORY TEMPLATE STORE
// =============================================================================

// MemoryTemplates is an in-memory ledger.TemplateStore.
type MemoryTemplates struct {
	mu        sync.RWMutex
	templates map[ledger.TemplateID]ledger.RecurringTemplate
}

func NewMemoryTemplates() *MemoryTemplates {
	return &MemoryTemplates{templates: make(map[ledger.TemplateID]ledger.RecurringTemplate)}
}

func (m *MemoryTemplates) SaveTemplate(_ context.Context, tpl ledger.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[tpl.ID] = tpl
	return nil
}

func (m *MemoryTemplates) ListTemplates(_ context.Context) ([]ledger.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.RecurringTemplate, 0, len(m.templates))
	for _, tpl := range m.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryTemplates) ListDue(_ context.Context, now time.Time) ([]ledger.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []ledger.RecurringTemplate
	for _, tpl := range m.templates {
		if tpl.Active && !tpl.NextRunAt.After(now) {
			due = append(due, tpl)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (m *MemoryTemplates) MarkRun(_ context.Context, id ledger.TemplateID, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tpl, ok := m.templates[id]
	if !ok {
		return ledger.ErrTemplateNotFound
	}
	tpl.NextRunAt = nextRunAt
	m.templates[id] = tpl
	return nil
}
