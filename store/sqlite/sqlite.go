/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Persists clients, debts, and the append-only payment log. The same
  patterns carry over to PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  The payments table has no UPDATE or DELETE path in this package.
  Corrections happen via reversal rows only.

OPTIMISTIC CONCURRENCY:
  Debts carry a version column. AppendPayment runs an INSERT plus an
  UPDATE ... WHERE id = ? AND version = ? inside one SQL transaction; zero
  affected rows means another writer got there first and the whole
  transaction rolls back with ErrConcurrentModification.

KEY TABLES:
  clients:   Party records with an active flag (archive)
  debts:     Principal, currency, due date, derived balance/status cache,
             version counter, optional cancelled_at
  payments:  Immutable ledger of payments and reversals

INDEXES:
  idx_payments_debt_paid:       Balance recomputation (hot path)
  idx_unique_idempotency:       One payment per (debt, idempotency key)
  idx_unique_reversal:          At most one reversal per payment
  idx_debts_client:             Per-client debt listing
  idx_debts_due:                Reminder window scans

WAL MODE:
  The database opens with WAL so readers never block the single writer.

USAGE:
  st, err := sqlite.New("./data/ledger.db")
  if err != nil { log.Fatal(err) }
  defer st.Close()
  book := ledger.NewBook(st, cfg)

SEE ALSO:
  - ledger/store.go: Interface contracts
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/debt-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// txMu serializes WithTx blocks against each other.
	txMu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS debts (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		principal TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL,
		due_date TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		cancelled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_debts_client ON debts(client_id);
	CREATE INDEX IF NOT EXISTS idx_debts_due ON debts(due_date);
	CREATE INDEX IF NOT EXISTS idx_debts_status ON debts(status);

	-- Payments (append-only ledger). No UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		debt_id TEXT NOT NULL REFERENCES debts(id),
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		reverses_id TEXT,
		paid_at TEXT NOT NULL,
		method TEXT NOT NULL,
		recorded_by TEXT,
		note TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance recomputation walks this in order (hot path)
	CREATE INDEX IF NOT EXISTS idx_payments_debt_paid
		ON payments(debt_id, paid_at ASC, created_at ASC);

	-- Exactly-once under retry: one payment per (debt, key)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_idempotency
		ON payments(debt_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL;

	-- A payment can be offset at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_reversal
		ON payments(reverses_id)
		WHERE reverses_id IS NOT NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CLIENTS
// =============================================================================

func (s *Store) SaveClient(ctx context.Context, c ledger.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO clients (id, name, email, phone, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Email, c.Phone, c.Active,
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetClient(ctx context.Context, id ledger.ClientID) (*ledger.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, phone, active, created_at FROM clients WHERE id = ?", id)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]ledger.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, phone, active, created_at FROM clients ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []ledger.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*ledger.Client, error) {
	var (
		c         ledger.Client
		email     sql.NullString
		phone     sql.NullString
		createdAt string
	)
	err := row.Scan(&c.ID, &c.Name, &email, &phone, &c.Active, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Email = email.String
	c.Phone = phone.String
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("client %s: bad created_at %q: %w", c.ID, createdAt, err)
	}
	return &c, nil
}

// =============================================================================
// DEBTS
// =============================================================================

func (s *Store) CreateDebt(ctx context.Context, d ledger.Debt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO debts (id, client_id, principal, currency, created_at, due_date,
		                   balance, status, version, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.ClientID,
		d.Principal.Value.String(), d.Currency,
		d.CreatedAt.UTC().Format(time.RFC3339Nano),
		d.DueDate.UTC().Format(time.RFC3339Nano),
		d.Balance.Value.String(), d.Status, d.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create debt: %w", err)
	}
	return nil
}

const debtColumns = `id, client_id, principal, currency, created_at, due_date,
	balance, status, version, cancelled_at`

func (s *Store) GetDebt(ctx context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+debtColumns+" FROM debts WHERE id = ?", id)
	d, err := scanDebt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) ListDebts(ctx context.Context) ([]ledger.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDebts(ctx, "SELECT "+debtColumns+" FROM debts ORDER BY due_date ASC, id ASC")
}

func (s *Store) ListClientDebts(ctx context.Context, clientID ledger.ClientID) ([]ledger.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDebts(ctx,
		"SELECT "+debtColumns+" FROM debts WHERE client_id = ? ORDER BY due_date ASC, id ASC", clientID)
}

func (s *Store) CancelDebt(ctx context.Context, id ledger.DebtID, at time.Time, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE debts
		SET cancelled_at = ?, status = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		at.UTC().Format(time.RFC3339Nano), ledger.StatusCancelled, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel debt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the debt is gone or the version moved.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM debts WHERE id = ?", id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrDebtNotFound
		}
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (s *Store) queryDebts(ctx context.Context, query string, args ...any) ([]ledger.Debt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query debts: %w", err)
	}
	defer rows.Close()

	var debts []ledger.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		debts = append(debts, *d)
	}
	return debts, rows.Err()
}

func scanDebt(row scanner) (*ledger.Debt, error) {
	var (
		d           ledger.Debt
		principal   string
		createdAt   string
		dueDate     string
		balance     string
		cancelledAt sql.NullString
	)
	err := row.Scan(&d.ID, &d.ClientID, &principal, &d.Currency,
		&createdAt, &dueDate, &balance, &d.Status, &d.Version, &cancelledAt)
	if err != nil {
		return nil, err
	}
	if d.Principal, err = ledger.ParseMoney(principal); err != nil {
		return nil, fmt.Errorf("debt %s: bad principal %q: %w", d.ID, principal, err)
	}
	if d.Balance, err = ledger.ParseMoney(balance); err != nil {
		return nil, fmt.Errorf("debt %s: bad balance %q: %w", d.ID, balance, err)
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("debt %s: bad created_at %q: %w", d.ID, createdAt, err)
	}
	if d.DueDate, err = time.Parse(time.RFC3339Nano, dueDate); err != nil {
		return nil, fmt.Errorf("debt %s: bad due_date %q: %w", d.ID, dueDate, err)
	}
	if cancelledAt.Valid && cancelledAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, cancelledAt.String)
		if err != nil {
			return nil, fmt.Errorf("debt %s: bad cancelled_at %q: %w", d.ID, cancelledAt.String, err)
		}
		d.CancelledAt = &t
	}
	return &d, nil
}

// =============================================================================
// PAYMENTS (append-only)
// =============================================================================

// AppendPayment inserts the payment and bumps the debt cache in one SQL
// transaction, guarded by the expected version. Zero mutation on any
// failure path.
func (s *Store) AppendPayment(ctx context.Context, p ledger.Payment, expectedVersion int64, newBalance ledger.Money, newStatus ledger.DebtStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE debts
		SET balance = ?, status = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		newBalance.Value.String(), newStatus, p.DebtID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update debt cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := sqlTx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM debts WHERE id = ?", p.DebtID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrDebtNotFound
		}
		return ledger.ErrConcurrentModification
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO payments (id, debt_id, amount, kind, reverses_id, paid_at,
		                      method, recorded_by, note, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DebtID, p.Amount.Value.String(), p.Kind,
		nullString(string(p.ReversesID)),
		p.PaidAt.UTC().Format(time.RFC3339Nano),
		p.Method, p.RecordedBy, p.Note,
		nullString(p.IdempotencyKey),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Partial-index violations report the index name, plain
			// constraints the column name. Cover both spellings.
			if strings.Contains(err.Error(), "reverses_id") || strings.Contains(err.Error(), "idx_unique_reversal") {
				return ledger.ErrPaymentReversed
			}
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}

	return sqlTx.Commit()
}

const paymentColumns = `id, debt_id, amount, kind, reverses_id, paid_at,
	method, recorded_by, note, idempotency_key, created_at`

func (s *Store) ListPayments(ctx context.Context, debtID ledger.DebtID) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + paymentColumns + ` FROM payments
		WHERE debt_id = ?
		ORDER BY paid_at ASC, created_at ASC`
	return s.queryPayments(ctx, query, debtID)
}

func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) FindPaymentByKey(ctx context.Context, debtID ledger.DebtID, key string) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE debt_id = ? AND idempotency_key = ?",
		debtID, key)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) HasReversal(ctx context.Context, paymentID ledger.PaymentID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payments WHERE reverses_id = ?", paymentID).Scan(&count)
	return count > 0, err
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]ledger.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (*ledger.Payment, error) {
	var (
		p              ledger.Payment
		amount         string
		reversesID     sql.NullString
		paidAt         string
		recordedBy     sql.NullString
		note           sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := row.Scan(&p.ID, &p.DebtID, &amount, &p.Kind, &reversesID,
		&paidAt, &p.Method, &recordedBy, &note, &idempotencyKey, &createdAt)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = ledger.ParseMoney(amount); err != nil {
		return nil, fmt.Errorf("payment %s: bad amount %q: %w", p.ID, amount, err)
	}
	p.ReversesID = ledger.PaymentID(reversesID.String)
	p.RecordedBy = recordedBy.String
	p.Note = note.String
	p.IdempotencyKey = idempotencyKey.String
	if p.PaidAt, err = time.Parse(time.RFC3339Nano, paidAt); err != nil {
		return nil, fmt.Errorf("payment %s: bad paid_at %q: %w", p.ID, paidAt, err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("payment %s: bad created_at %q: %w", p.ID, createdAt, err)
	}
	return &p, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx runs fn serialized behind a store-wide mutex. Every write in this
// package is already a single atomic SQL transaction; WithTx adds the
// cross-call guarantee that two read-check-write flows never interleave.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
