/*
store.go - Persistence interfaces for the balance cache and transaction log

PURPOSE:
  Defines the boundary between the engine and the database. The Balance
  Store is the only shared mutable resource in this subsystem; every
  mutation goes through Updater.ApplyChange and lands here as one atomic
  ApplyDeltas call.

KEY INTERFACES:
  BalanceStore:     pairwise net balance cache (the derived structure)
  TransactionStore: the transaction log (ground truth)
  TemplateStore:    recurring-expense templates for the scheduler

ATOMICITY CONTRACT:
  ApplyDeltas applies every delta of one call - both row directions each -
  in a single atomic unit. A crash or a concurrent reader must never
  observe half of a call's deltas. Calls touching disjoint pairs may run
  concurrently; same-pair calls serialize inside the implementation.

IMPLEMENTATIONS:
  - store/sqlite: production store (single file, WAL)
  - ledger/store: in-memory store for tests and dev

SEE ALSO:
  - updater.go: the only writer of BalanceStore
  - rebuild.go, verify.go: bulk consumers of TransactionStore
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE STORE - Derived pairwise balance cache
// =============================================================================

// PairDelta is one signed increment to a balance pair: apply as
// row(User, Counterparty) += Delta and row(Counterparty, User) -= Delta.
type PairDelta struct {
	User         UserID
	Counterparty UserID
	Delta        decimal.Decimal
}

// BalanceStore persists pairwise net balances with upsert semantics.
// A pair with no row reads as zero.
type BalanceStore interface {
	// Balance returns the balance of (user, counterparty) and whether a
	// row exists. Missing rows are not an error; they mean zero. Named
	// distinctly from TransactionStore.Get so one store type can
	// implement both interfaces.
	Balance(ctx context.Context, user, counterparty UserID) (decimal.Decimal, bool, error)

	// ListForUser returns every balance row where User == user.
	ListForUser(ctx context.Context, user UserID) ([]BalanceRow, error)

	// ApplyDeltas atomically applies all deltas of one updater call,
	// creating missing rows at zero first. Either every delta (both
	// directions each) is applied or none is.
	ApplyDeltas(ctx context.Context, deltas []PairDelta) error

	// DeleteAll removes every balance row. Rebuilder only.
	DeleteAll(ctx context.Context) error

	// Users returns every user that appears on the User side of a row.
	Users(ctx context.Context) ([]UserID, error)
}

// =============================================================================
// TRANSACTION STORE - The transaction log (ground truth)
// =============================================================================

// TransactionStore persists normalized transaction records. The engine
// treats it as the authoritative history: the balance cache is always
// reconstructible from it.
type TransactionStore interface {
	Save(ctx context.Context, tx Transaction) error
	Get(ctx context.Context, id TxID) (*Transaction, error)
	Delete(ctx context.Context, id TxID) error

	// ForEach streams every transaction in storage order. Used by the
	// rebuilder and verifier; the order is irrelevant because balance
	// additions commute.
	ForEach(ctx context.Context, fn func(Transaction) error) error

	// ListByParticipants returns transactions whose participant list
	// intersects the given users. Each transaction appears once.
	ListByParticipants(ctx context.Context, users []UserID) ([]Transaction, error)

	// Participants returns every user that appears as a participant of
	// any transaction. Named distinctly from BalanceStore.Users so one
	// store type can implement both interfaces.
	Participants(ctx context.Context) ([]UserID, error)
}

// =============================================================================
// TEMPLATE STORE - Recurring-expense templates
// =============================================================================

// TemplateStore persists recurring templates for the scheduler.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, tpl RecurringTemplate) error
	ListTemplates(ctx context.Context) ([]RecurringTemplate, error)

	// ListDue returns active templates with NextRunAt <= now.
	ListDue(ctx context.Context, now time.Time) ([]RecurringTemplate, error)

	// MarkRun advances a template's NextRunAt after materialization.
	MarkRun(ctx context.Context, id TemplateID, nextRunAt time.Time) error
}
