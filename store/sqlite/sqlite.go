/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.BalanceStore, ledger.TransactionStore and
  ledger.TemplateStore on a single SQLite file. The same patterns apply to
  PostgreSQL with minor dialect changes.

KEY TABLES:
  transactions:             the transaction log (ground truth)
  transaction_participants: junction table for participant lookups
  balances:                 pairwise net balance cache, one row per
                            ordered (user, counterparty) pair
  recurring_templates:      scheduler input

ATOMICITY:
  ApplyDeltas wraps every delta of one updater call - both row directions
  each - in a single SQL transaction. A crash or concurrent reader never
  observes half a call. Rows that land exactly on zero are deleted inside
  the same transaction, so the symmetry invariant survives cleanup.

MONEY REPRESENTATION:
  Monetary amounts are stored as decimal TEXT, never as SQLite REAL, so
  round-tripping through the database cannot introduce binary-float noise.

CONCURRENCY:
  WAL mode plus a store-level mutex around writes. Readers don't block.

SEE ALSO:
  - ledger/store.go: interface contracts
  - ledger/store/memory.go: in-memory equivalent for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/splitbook/ledger-engine/ledger"
)

// Store implements all ledger storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: the mattn driver serializes writers anyway and
	// this keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

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
	-- Transaction log (ground truth for all balances)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		participants_json TEXT NOT NULL,
		currency TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		details_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Junction table so "transactions touching user X" is an index walk,
	-- not a JSON scan
	CREATE TABLE IF NOT EXISTS transaction_participants (
		tx_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (tx_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_participants_user
		ON transaction_participants(user_id);

	-- Pairwise balance cache. Both directions of a pair always exist
	-- together or not at all; amount is decimal TEXT.
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT NOT NULL,
		counterparty_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, counterparty_id)
	);
	CREATE INDEX IF NOT EXISTS idx_balances_user ON balances(user_id);

	-- Recurring expense templates
	CREATE TABLE IF NOT EXISTS recurring_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		payer_id TEXT NOT NULL,
		participants_json TEXT NOT NULL,
		splits_json TEXT NOT NULL,
		currency TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		interval_days INTEGER NOT NULL,
		next_run_at TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_templates_next_run
		ON recurring_templates(next_run_at) WHERE active = 1;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCE STORE (ledger.BalanceStore interface)
// =============================================================================

func (s *Store) Balance(ctx context.Context, user, counterparty ledger.UserID) (decimal.Decimal, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE user_id = ? AND counterparty_id = ?`,
		string(user), string(counterparty)).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	amt, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt balance amount %q: %w", raw, err)
	}
	return amt, true, nil
}

func (s *Store) ListForUser(ctx context.Context, user ledger.UserID) ([]ledger.BalanceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT counterparty_id, amount FROM balances
		 WHERE user_id = ? ORDER BY counterparty_id`,
		string(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.BalanceRow
	for rows.Next() {
		var counterparty, raw string
		if err := rows.Scan(&counterparty, &raw); err != nil {
			return nil, err
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance amount %q: %w", raw, err)
		}
		out = append(out, ledger.BalanceRow{
			User:         user,
			Counterparty: ledger.UserID(counterparty),
			Amount:       amt,
		})
	}
	return out, rows.Err()
}

// ApplyDeltas applies every delta of one updater call in a single SQL
// transaction: read-modify-write on both row directions, deleting rows
// that land exactly on zero.
func (s *Store) ApplyDeltas(ctx context.Context, deltas []ledger.PairDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, d := range deltas {
		if err := bumpBalance(ctx, sqlTx, d.User, d.Counterparty, d.Delta, now); err != nil {
			return err
		}
		if err := bumpBalance(ctx, sqlTx, d.Counterparty, d.User, d.Delta.Neg(), now); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func bumpBalance(ctx context.Context, tx *sql.Tx, user, counterparty ledger.UserID, delta decimal.Decimal, now string) error {
	current := decimal.Zero
	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE user_id = ? AND counterparty_id = ?`,
		string(user), string(counterparty)).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// first transfer between this pair; row starts at zero
	case err != nil:
		return err
	default:
		current, err = decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("corrupt balance amount %q: %w", raw, err)
		}
	}

	next := current.Add(delta)
	if next.IsZero() {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM balances WHERE user_id = ? AND counterparty_id = ?`,
			string(user), string(counterparty))
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO balances (user_id, counterparty_id, amount, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, counterparty_id)
		 DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		string(user), string(counterparty), next.String(), now)
	return err
}

func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM balances`)
	return err
}

func (s *Store) Users(ctx context.Context) ([]ledger.UserID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM balances ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserIDs(rows)
}

// CorruptBalance overwrites one row direction without touching its
// mirror. Test hook for the verifier; not part of any production path.
func (s *Store) CorruptBalance(ctx context.Context, user, counterparty ledger.UserID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO balances (user_id, counterparty_id, amount, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, counterparty_id)
		 DO UPDATE SET amount = excluded.amount`,
		string(user), string(counterparty), amount.String(),
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// =============================================================================
// TRANSACTION STORE - log access (ledger.TransactionStore via Transactions)
// =============================================================================

// txDetails is the JSON envelope for the kind-specific payload. Exactly
// one field is set, matching the transaction kind.
type txDetails struct {
	Purchase    *ledger.PurchaseDetails    `json:"purchase,omitempty"`
	Bill        *ledger.BillDetails        `json:"bill,omitempty"`
	Recurring   *ledger.RecurringDetails   `json:"recurring,omitempty"`
	SettleUp    *ledger.SettleUpDetails    `json:"settle_up,omitempty"`
	GroupSettle *ledger.GroupSettleDetails `json:"group_settle,omitempty"`
}

func (s *Store) Save(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants, err := json.Marshal(tx.Participants)
	if err != nil {
		return err
	}
	details, err := json.Marshal(txDetails{
		Purchase:    tx.Purchase,
		Bill:        tx.Bill,
		Recurring:   tx.Recurring,
		SettleUp:    tx.SettleUp,
		GroupSettle: tx.GroupSettle,
	})
	if err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO transactions
		   (id, name, kind, participants_json, currency, exchange_rate,
		    amount, base_amount, note, details_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   kind = excluded.kind,
		   participants_json = excluded.participants_json,
		   currency = excluded.currency,
		   exchange_rate = excluded.exchange_rate,
		   amount = excluded.amount,
		   base_amount = excluded.base_amount,
		   note = excluded.note,
		   details_json = excluded.details_json`,
		string(tx.ID), tx.Name, string(tx.Kind), string(participants),
		tx.Currency, tx.ExchangeRate.String(), tx.Amount.String(),
		tx.BaseAmount.String(), tx.Note, string(details),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	// Refresh the junction rows to match the (possibly edited) list.
	if _, err := sqlTx.ExecContext(ctx,
		`DELETE FROM transaction_participants WHERE tx_id = ?`, string(tx.ID)); err != nil {
		return err
	}
	for _, p := range tx.Participants {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT OR IGNORE INTO transaction_participants (tx_id, user_id) VALUES (?, ?)`,
			string(tx.ID), string(p)); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func (s *Store) Get(ctx context.Context, id ledger.TxID) (*ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, participants_json, currency, exchange_rate,
		        amount, base_amount, note, details_json, created_at
		 FROM transactions WHERE id = ?`, string(id))

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) Delete(ctx context.Context, id ledger.TxID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ForEach(ctx context.Context, fn func(ledger.Transaction) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, participants_json, currency, exchange_rate,
		        amount, base_amount, note, details_json, created_at
		 FROM transactions ORDER BY created_at, id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return err
		}
		if err := fn(*tx); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) ListByParticipants(ctx context.Context, users []ledger.UserID) ([]ledger.Transaction, error) {
	if len(users) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(users)), ",")
	args := make([]any, len(users))
	for i, u := range users {
		args[i] = string(u)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT t.id, t.name, t.kind, t.participants_json, t.currency,
		        t.exchange_rate, t.amount, t.base_amount, t.note, t.details_json,
		        t.created_at
		 FROM transactions t
		 JOIN transaction_participants p ON p.tx_id = t.id
		 WHERE p.user_id IN (`+placeholders+`)
		 ORDER BY t.created_at, t.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (s *Store) Participants(ctx context.Context) ([]ledger.UserID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM transaction_participants ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserIDs(rows)
}

// =============================================================================
// TEMPLATE STORE (ledger.TemplateStore interface)
// =============================================================================

func (s *Store) SaveTemplate(ctx context.Context, tpl ledger.RecurringTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants, err := json.Marshal(tpl.Participants)
	if err != nil {
		return err
	}
	splits, err := json.Marshal(tpl.Splits)
	if err != nil {
		return err
	}

	active := 0
	if tpl.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recurring_templates
		   (id, name, payer_id, participants_json, splits_json, currency,
		    exchange_rate, amount, base_amount, interval_days, next_run_at,
		    active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   payer_id = excluded.payer_id,
		   participants_json = excluded.participants_json,
		   splits_json = excluded.splits_json,
		   currency = excluded.currency,
		   exchange_rate = excluded.exchange_rate,
		   amount = excluded.amount,
		   base_amount = excluded.base_amount,
		   interval_days = excluded.interval_days,
		   next_run_at = excluded.next_run_at,
		   active = excluded.active`,
		string(tpl.ID), tpl.Name, string(tpl.PayerID), string(participants),
		string(splits), tpl.Currency, tpl.ExchangeRate.String(),
		tpl.Amount.String(), tpl.BaseAmount.String(), tpl.IntervalDays,
		tpl.NextRunAt.UTC().Format(time.RFC3339Nano), active,
		tpl.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) ListTemplates(ctx context.Context) ([]ledger.RecurringTemplate, error) {
	return s.queryTemplates(ctx,
		`SELECT id, name, payer_id, participants_json, splits_json, currency,
		        exchange_rate, amount, base_amount, interval_days, next_run_at,
		        active, created_at
		 FROM recurring_templates ORDER BY id`)
}

func (s *Store) ListDue(ctx context.Context, now time.Time) ([]ledger.RecurringTemplate, error) {
	return s.queryTemplates(ctx,
		`SELECT id, name, payer_id, participants_json, splits_json, currency,
		        exchange_rate, amount, base_amount, interval_days, next_run_at,
		        active, created_at
		 FROM recurring_templates
		 WHERE active = 1 AND next_run_at <= ?
		 ORDER BY id`,
		now.UTC().Format(time.RFC3339Nano))
}

func (s *Store) MarkRun(ctx context.Context, id ledger.TemplateID, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE recurring_templates SET next_run_at = ? WHERE id = ?`,
		nextRunAt.UTC().Format(time.RFC3339Nano), string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrTemplateNotFound
	}
	return nil
}

func (s *Store) queryTemplates(ctx context.Context, query string, args ...any) ([]ledger.RecurringTemplate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.RecurringTemplate
	for rows.Next() {
		var (
			tpl                             ledger.RecurringTemplate
			id, payer, participants, splits string
			rate, amount, baseAmount        string
			nextRunAt, createdAt            string
			active                          int
		)
		if err := rows.Scan(&id, &tpl.Name, &payer, &participants, &splits,
			&tpl.Currency, &rate, &amount, &baseAmount, &tpl.IntervalDays,
			&nextRunAt, &active, &createdAt); err != nil {
			return nil, err
		}
		tpl.ID = ledger.TemplateID(id)
		tpl.PayerID = ledger.UserID(payer)
		tpl.Active = active == 1
		if err := json.Unmarshal([]byte(participants), &tpl.Participants); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(splits), &tpl.Splits); err != nil {
			return nil, err
		}
		if tpl.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		if tpl.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if tpl.BaseAmount, err = decimal.NewFromString(baseAmount); err != nil {
			return nil, err
		}
		if tpl.NextRunAt, err = time.Parse(time.RFC3339Nano, nextRunAt); err != nil {
			return nil, err
		}
		if tpl.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*ledger.Transaction, error) {
	var (
		tx                              ledger.Transaction
		id, kind, participants, details string
		rate, amount, baseAmount, stamp string
	)
	err := row.Scan(&id, &tx.Name, &kind, &participants, &tx.Currency,
		&rate, &amount, &baseAmount, &tx.Note, &details, &stamp)
	if err != nil {
		return nil, err
	}

	tx.ID = ledger.TxID(id)
	tx.Kind = ledger.Kind(kind)
	if err := json.Unmarshal([]byte(participants), &tx.Participants); err != nil {
		return nil, fmt.Errorf("corrupt participants for %s: %w", id, err)
	}
	if tx.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("corrupt exchange rate for %s: %w", id, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount for %s: %w", id, err)
	}
	if tx.BaseAmount, err = decimal.NewFromString(baseAmount); err != nil {
		return nil, fmt.Errorf("corrupt base amount for %s: %w", id, err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
		return nil, fmt.Errorf("corrupt timestamp for %s: %w", id, err)
	}

	var d txDetails
	if err := json.Unmarshal([]byte(details), &d); err != nil {
		return nil, fmt.Errorf("corrupt details for %s: %w", id, err)
	}
	tx.Purchase = d.Purchase
	tx.Bill = d.Bill
	tx.Recurring = d.Recurring
	tx.SettleUp = d.SettleUp
	tx.GroupSettle = d.GroupSettle
	return &tx, nil
}

func scanUserIDs(rows *sql.Rows) ([]ledger.UserID, error) {
	var users []ledger.UserID
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, ledger.UserID(u))
	}
	return users, rows.Err()
}
