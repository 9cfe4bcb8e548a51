// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	clients  map[ledger.ClientID]ledger.Client
	debts    map[ledger.DebtID]ledger.Debt
	payments map[ledger.DebtID][]ledger.Payment
	byKey    map[keyIndex]ledger.PaymentID
	reversed map[ledger.PaymentID]bool
}

type keyIndex struct {
	DebtID ledger.DebtID
	Key    string
}

func NewMemory() *Memory {
	return &Memory{
		clients:  make(map[ledger.ClientID]ledger.Client),
		debts:    make(map[ledger.DebtID]ledger.Debt),
		payments: make(map[ledger.DebtID][]ledger.Payment),
		byKey:    make(map[keyIndex]ledger.PaymentID),
		reversed: make(map[ledger.PaymentID]bool),
	}
}

// --- Clients ---

func (m *Memory) SaveClient(_ context.Context, c ledger.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, id ledger.ClientID) (*ledger.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListClients(_ context.Context) ([]ledger.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Debts ---

func (m *Memory) CreateDebt(_ context.Context, d ledger.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debts[d.ID] = d
	return nil
}

func (m *Memory) GetDebt(_ context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.debts[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) ListDebts(_ context.Context) ([]ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Debt, 0, len(m.debts))
	for _, d := range m.debts {
		out = append(out, d)
	}
	sortDebts(out)
	return out, nil
}

func (m *Memory) ListClientDebts(_ context.Context, clientID ledger.ClientID) ([]ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Debt
	for _, d := range m.debts {
		if d.ClientID == clientID {
			out = append(out, d)
		}
	}
	sortDebts(out)
	return out, nil
}

func (m *Memory) CancelDebt(_ context.Context, id ledger.DebtID, at time.Time, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[id]
	if !ok {
		return ledger.ErrDebtNotFound
	}
	if d.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	t := at
	d.CancelledAt = &t
	d.Status = ledger.StatusCancelled
	d.Version++
	m.debts[id] = d
	return nil
}

// --- Payments (append-only) ---

// AppendPayment holds the lock across the version check, the append, and
// the cache update, so the whole sequence is atomic.
func (m *Memory) AppendPayment(_ context.Context, p ledger.Payment, expectedVersion int64, newBalance ledger.Money, newStatus ledger.DebtStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.debts[p.DebtID]
	if !ok {
		return ledger.ErrDebtNotFound
	}
	if d.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	if p.IdempotencyKey != "" {
		if _, exists := m.byKey[keyIndex{DebtID: p.DebtID, Key: p.IdempotencyKey}]; exists {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	if p.Kind == ledger.KindReversal && m.reversed[p.ReversesID] {
		return ledger.ErrPaymentReversed
	}

	m.payments[p.DebtID] = insertOrdered(m.payments[p.DebtID], p)
	if p.IdempotencyKey != "" {
		m.byKey[keyIndex{DebtID: p.DebtID, Key: p.IdempotencyKey}] = p.ID
	}
	if p.Kind == ledger.KindReversal {
		m.reversed[p.ReversesID] = true
	}

	d.Balance = newBalance
	d.Status = newStatus
	d.Version++
	m.debts[p.DebtID] = d
	return nil
}

func (m *Memory) ListPayments(_ context.Context, debtID ledger.DebtID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.payments[debtID]
	out := make([]ledger.Payment, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, txs := range m.payments {
		for _, p := range txs {
			if p.ID == id {
				cp := p
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (m *Memory) FindPaymentByKey(_ context.Context, debtID ledger.DebtID, key string) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[keyIndex{DebtID: debtID, Key: key}]
	if !ok {
		return nil, nil
	}
	for _, p := range m.payments[debtID] {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) HasReversal(_ context.Context, paymentID ledger.PaymentID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reversed[paymentID], nil
}

// --- Helpers ---

// insertOrdered keeps the log sorted by paid-at ascending; equal timestamps
// keep insertion order.
func insertOrdered(txs []ledger.Payment, p ledger.Payment) []ledger.Payment {
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].PaidAt.After(p.PaidAt)
	})
	txs = append(txs, ledger.Payment{})
	copy(txs[i+1:], txs[i:])
	txs[i] = p
	return txs
}

func sortDebts(debts []ledger.Debt) {
	sort.Slice(debts, func(i, j int) bool {
		if debts[i].DueDate.Equal(debts[j].DueDate) {
			return debts[i].ID < debts[j].ID
		}
		return debts[i].DueDate.Before(debts[j].DueDate)
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with a coarse transaction: fn runs against the
// same store, serialized by a dedicated mutex. Good enough for tests.
type TxMemory struct {
	*Memory
	txMu sync.Mutex
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (t *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	t.txMu.Lock()
	defer t.txMu.Unlock()
	return fn(t.Memory)
}
