/*
extract.go - Transfer extraction from transaction records

PURPOSE:
  Maps one transaction record to zero or more atomic directed transfers.
  This is the single place that knows how each transaction kind moves money;
  every other component (updater, verifier, planner) consumes its output.

CONTRACT:
  - Total: every input, including nil and malformed records, yields a result
  - Pure: no side effects, no store access
  - Never panics: unknown kinds and missing payloads degrade to no transfers

EXTRACTION RULES:
  Purchase/Bill/Recurring: one transfer payer → split.user per split where
    the split user is not the payer (a self-split is not an economic event).
  SettleUp: one transfer payer → payee of the base-currency amount, when
    both ids are present and the amount is positive.
  GroupSettle: one transfer per embedded leg; the category tag is dropped.
    Negative leg amounts are normalized by flipping direction, preserving
    the Transfer invariant Amount > 0.

SEE ALSO:
  - types.go:   Transaction union and Transfer
  - updater.go: consumes extraction diffs
*/
package ledger

import "github.com/shopspring/decimal"

// ExtractTransfers derives the atomic directed transfers of a transaction.
// It is total and side-effect-free; malformed input yields an empty result.
func ExtractTransfers(tx *Transaction) []Transfer {
	if tx == nil {
		return nil
	}

	switch tx.Kind {
	case KindPurchase:
		if tx.Purchase == nil {
			return nil
		}
		return transfersFromSplits(tx.Purchase.PayerID, tx.Purchase.Splits)

	case KindBill:
		if tx.Bill == nil {
			return nil
		}
		return transfersFromSplits(tx.Bill.PayerID, tx.Bill.Splits)

	case KindRecurring:
		if tx.Recurring == nil {
			return nil
		}
		return transfersFromSplits(tx.Recurring.PayerID, tx.Recurring.Splits)

	case KindSettleUp:
		d := tx.SettleUp
		if d == nil || !tx.BaseAmount.IsPositive() {
			return nil
		}
		if t, ok := newTransfer(d.PayerID, d.PayeeID, tx.BaseAmount); ok {
			return []Transfer{t}
		}
		return nil

	case KindGroupSettle:
		if tx.GroupSettle == nil {
			return nil
		}
		var out []Transfer
		for _, leg := range tx.GroupSettle.Legs {
			if t, ok := newTransfer(leg.PayerID, leg.PayeeID, leg.Amount); ok {
				out = append(out, t)
			}
		}
		return out

	default:
		// Unknown or legacy kind: no transfers rather than a failure.
		return nil
	}
}

// transfersFromSplits emits one transfer payer → user per split. Splits
// where the user is the payer are skipped: paying yourself is not a
// transfer and must not touch any balance.
func transfersFromSplits(payer UserID, splits []Split) []Transfer {
	var out []Transfer
	for _, s := range splits {
		if t, ok := newTransfer(payer, s.UserID, s.Amount); ok {
			out = append(out, t)
		}
	}
	return out
}

// newTransfer builds a normalized transfer. Empty endpoints, self-transfers
// and zero amounts are rejected; negative amounts flip direction so that
// Transfer.Amount is always positive.
func newTransfer(from, to UserID, amount decimal.Decimal) (Transfer, bool) {
	if from == "" || to == "" || from == to || amount.IsZero() {
		return Transfer{}, false
	}
	if amount.IsNegative() {
		from, to, amount = to, from, amount.Neg()
	}
	return Transfer{From: from, To: to, Amount: amount}, true
}
