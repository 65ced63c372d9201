/*
updater.go - Incremental balance cache maintenance

PURPOSE:
  Applies the DIFFERENCE between a transaction's old and new transfer sets
  to the balance cache. This is the only write path into the BalanceStore;
  create, update and delete are all the same operation with a nil side.

ALGORITHM:
  1. Accumulate signed deltas keyed by the unordered user pair (direction
     tagged by sign): subtract every transfer of the old transaction,
     add every transfer of the new one.
  2. Round each accumulated delta to 2 decimal places.
  3. Drop deltas below the materiality floor (|delta| < 0.01).
  4. Apply every surviving delta - both row directions each - in ONE
     atomic BalanceStore call.

  Because the delta is computed as old→new diff, an unchanged split costs
  zero writes, and concurrent updates to different transactions commute
  without global ordering.

ATOMICITY:
  Partial application must never be observable. The store owns atomicity
  of one ApplyDeltas call; this file only prepares the delta set.

SEE ALSO:
  - extract.go: the transfer source
  - rebuild.go: replays history through ApplyChange(nil, tx)
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Updater maintains the balance cache incrementally. It has no side
// effects beyond the BalanceStore: no validation, no notifications.
type Updater struct {
	Balances BalanceStore
}

func NewUpdater(balances BalanceStore) *Updater {
	return &Updater{Balances: balances}
}

// ApplyChange applies the old→new balance diff of one transaction write.
// old == nil means create, new == nil means delete, both non-nil means
// update. Returns the number of deltas actually applied.
func (u *Updater) ApplyChange(ctx context.Context, oldTx, newTx *Transaction) (int, error) {
	deltas := DiffDeltas(oldTx, newTx)
	if len(deltas) == 0 {
		return 0, nil
	}
	if err := u.Balances.ApplyDeltas(ctx, deltas); err != nil {
		return 0, fmt.Errorf("%w: applying %d deltas: %v", ErrStoreFailed, len(deltas), err)
	}
	return len(deltas), nil
}

// =============================================================================
// DELTA COMPUTATION
// =============================================================================

// pairKey is an unordered user pair in canonical (lexicographic) order.
// The delta sign carries the direction: positive means Lo gave Hi.
type pairKey struct {
	Lo, Hi UserID
}

func keyFor(a, b UserID) (pairKey, bool) {
	if a < b {
		return pairKey{Lo: a, Hi: b}, false
	}
	return pairKey{Lo: b, Hi: a}, true
}

// DiffDeltas computes the signed, rounded, materiality-filtered balance
// deltas between two versions of a transaction. Exposed for tests and
// no-op detection; ApplyChange is the production entry point.
func DiffDeltas(oldTx, newTx *Transaction) []PairDelta {
	acc := make(map[pairKey]decimal.Decimal)

	accumulate := func(transfers []Transfer, negate bool) {
		for _, t := range transfers {
			k, flipped := keyFor(t.From, t.To)
			amt := t.Amount
			if flipped {
				amt = amt.Neg()
			}
			if negate {
				amt = amt.Neg()
			}
			acc[k] = acc[k].Add(amt)
		}
	}

	accumulate(ExtractTransfers(oldTx), true) // reverse history
	accumulate(ExtractTransfers(newTx), false)

	// Deterministic application order keeps tests and store logs stable.
	keys := make([]pairKey, 0, len(acc))
	for k := range acc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Lo != keys[j].Lo {
			return keys[i].Lo < keys[j].Lo
		}
		return keys[i].Hi < keys[j].Hi
	})

	var deltas []PairDelta
	for _, k := range keys {
		d := Round2(acc[k])
		if d.Abs().LessThan(MinDelta) {
			continue // sub-cent noise
		}
		deltas = append(deltas, PairDelta{User: k.Lo, Counterparty: k.Hi, Delta: d})
	}
	return deltas
}
