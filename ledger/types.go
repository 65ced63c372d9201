/*
Package ledger implements the balance ledger and settlement engine for
shared-expense groups.

PURPOSE:
  This package contains the domain model and the four core components that
  keep "who owes whom how much" consistent with the transaction log:

  - ExtractTransfers: maps one transaction to its atomic directed transfers
  - Updater:          applies old→new transfer diffs to the balance cache
  - Rebuilder:        wipes and replays the cache from the transaction log
  - Verifier:         diffs the cache against independently computed truth
  - Planner:          computes minimal settling payments for a group

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: tagged union over five transaction kinds
  - Transfer:    ephemeral directed money fact "From gave To Amount"
  - BalanceRow:  persisted pairwise net balance (the cache entry)

DESIGN PRINCIPLES:
  1. Precision: monetary amounts use decimal.Decimal, never float64
  2. Tagged union: one Kind discriminator, one payload pointer per kind,
     so extraction is a single exhaustive switch
  3. Derived cache: BalanceRows are always reconstructible from the
     transaction log; the cache exists for read performance only

SEE ALSO:
  - extract.go: transaction → transfers
  - updater.go: transfer diffs → balance cache
  - store.go:   persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TxID string
type TemplateID string

// =============================================================================
// MONEY - Two-decimal reference-currency amounts
// =============================================================================

// All amounts reaching this package are already converted to one reference
// currency upstream. The engine only rounds and compares.
var (
	// Epsilon is the "effectively zero" floor for balances: anything at or
	// below it is treated as settled. Covers cent-rounding drift up to but
	// not including half a cent.
	Epsilon = decimal.NewFromFloat(0.009)

	// MinDelta is the materiality floor for persisting a balance delta.
	// Deltas below it are sub-cent noise and are dropped.
	MinDelta = decimal.NewFromFloat(0.01)

	// VerifyTolerance is the maximum cached-vs-truth difference the
	// Verifier accepts before reporting a discrepancy.
	VerifyTolerance = decimal.NewFromFloat(0.005)
)

// Round2 rounds a monetary amount to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// =============================================================================
// TRANSACTION - Tagged union over the five transaction kinds
// =============================================================================

type Kind string

const (
	KindPurchase    Kind = "purchase"
	KindBill        Kind = "bill"
	KindRecurring   Kind = "recurring"
	KindSettleUp    Kind = "settle_up"
	KindGroupSettle Kind = "group_settle"
)

// Transaction is a normalized transaction record. Exactly one payload pointer
// (the one matching Kind) is non-nil; the others are ignored.
//
// Upstream CRUD layers own validation of shapes and ids. This package treats
// a malformed transaction as producing no transfers, never as an error.
type Transaction struct {
	ID           TxID
	Name         string
	Participants []UserID // ordered, unique
	Currency     string
	ExchangeRate decimal.Decimal
	Amount       decimal.Decimal
	BaseAmount   decimal.Decimal // amount in the reference currency
	Note         string
	CreatedAt    time.Time

	Kind        Kind
	Purchase    *PurchaseDetails
	Bill        *BillDetails
	Recurring   *RecurringDetails
	SettleUp    *SettleUpDetails
	GroupSettle *GroupSettleDetails
}

// Split assigns a share of a transaction's base-currency amount to a user.
type Split struct {
	UserID UserID
	Amount decimal.Decimal
}

type SplitMethod string

const (
	SplitEven   SplitMethod = "even"
	SplitManual SplitMethod = "manual"
)

// PurchaseDetails is a single shared purchase paid by one user.
type PurchaseDetails struct {
	PayerID UserID
	Method  SplitMethod
	Splits  []Split
}

// BillItem is one line on an itemized bill, shared by SharerIDs.
type BillItem struct {
	Name      string
	Price     decimal.Decimal
	SharerIDs []UserID
}

// BillDetails is an itemized bill with surcharge breakdown. The Splits are
// the final per-user base-currency shares after discount/GST/service charge;
// the items and breakdown fields are retained for display and audit.
type BillDetails struct {
	PayerID       UserID
	Items         []BillItem
	Discount      decimal.Decimal
	GST           decimal.Decimal
	ServiceCharge decimal.Decimal
	Splits        []Split
}

// RecurringDetails is a materialized instance of a recurring template.
type RecurringDetails struct {
	PayerID    UserID
	Splits     []Split
	TemplateID TemplateID
}

// SettleUpDetails is a direct payment: the whole BaseAmount flows
// payer → payee. There is no split list.
type SettleUpDetails struct {
	PayerID UserID
	PayeeID UserID
}

type LegCategory string

const (
	LegAdjustment LegCategory = "adjustment"
	LegSettlement LegCategory = "settlement"
)

// SettleLeg is one embedded transfer inside a group smart-settle
// transaction. Category is reporting metadata only; the extractor drops it.
// Settlement legs carry a negative Amount (see Planner.Create for the sign
// convention derivation).
type SettleLeg struct {
	PayerID  UserID
	PayeeID  UserID
	Amount   decimal.Decimal
	Category LegCategory
}

// GroupSettleDetails is the output of a smart-settle run persisted as a
// transaction: the adjustment legs that zero historical pairwise drift plus
// the planned settlement legs.
type GroupSettleDetails struct {
	Legs []SettleLeg
}

// =============================================================================
// TRANSFER - Ephemeral directed money fact
// =============================================================================

// Transfer means "From gave To economic value of Amount": a split owed back
// to the payer, or a direct payment. Amount is always positive; transfers
// with From == To never exist.
//
// Transfers are derived, never persisted.
type Transfer struct {
	From   UserID
	To     UserID
	Amount decimal.Decimal
}

// =============================================================================
// BALANCE ROW - Persisted pairwise net balance (cache entry)
// =============================================================================

// BalanceRow is one entry of the denormalized balance cache, unique per
// (User, Counterparty). Positive Amount means "Counterparty owes User".
//
// INVARIANT: row(A,B).Amount == -row(B,A).Amount at all times; the two
// directions are written atomically. A missing row reads as zero.
type BalanceRow struct {
	User         UserID
	Counterparty UserID
	Amount       decimal.Decimal
}

// =============================================================================
// RECURRING TEMPLATE - Source of materialized Recurring transactions
// =============================================================================

// RecurringTemplate describes an expense that repeats on a fixed interval.
// The scheduler materializes due templates into Recurring transactions and
// routes them through the Updater like any other write.
type RecurringTemplate struct {
	ID           TemplateID
	Name         string
	PayerID      UserID
	Participants []UserID
	Splits       []Split
	Currency     string
	ExchangeRate decimal.Decimal
	Amount       decimal.Decimal
	BaseAmount   decimal.Decimal
	IntervalDays int
	NextRunAt    time.Time
	Active       bool
	CreatedAt    time.Time
}
