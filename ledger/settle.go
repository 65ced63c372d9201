/*
settle.go - Smart settlement planning for a participant subset

PURPOSE:
  Given a set of users, computes their net positions restricted to that
  set and a small list of payments that zeroes everyone out. The read-only
  Preview returns the plan; Create additionally persists it as a single
  group-settle transaction routed through the Updater so the balance
  cache stays consistent.

AUTHORITATIVENESS:
  The planner reads the TRANSACTION LOG, not the balance cache, so a
  stale or corrupted cache can never produce a wrong settlement.

ALGORITHM:
  1. Restrict: only transfers with BOTH endpoints inside the participant
     set count. A transfer to an outside party is excluded entirely,
     never partially.
  2. Net per user: balance[u] = sum(from=u) - sum(to=u), rounded to two
     decimals after every accumulation step.
  3. Pairwise net per unordered pair (create flow only): each pair's
     mutual transfers collapse into one signed amount; pairs beyond the
     epsilon floor get an adjustment leg debtor → creditor.
  4. Greedy matching: creditors and debtors sorted descending by
     magnitude, largest against largest, remainder advanced past the
     epsilon floor. This is the classic minimum-transaction-count
     APPROXIMATION - descending-sort greedy matching - not a provably
     minimal-cardinality solver. Downstream expectations are calibrated
     to exactly this output, so do not substitute an "improved" solver.

SIGN CONVENTION (settlement legs):
  Adjustment legs are recorded debtor → creditor with positive amounts:
  extracted as-is they cancel each pairwise row exactly. Settlement legs
  are recorded payer → payee with NEGATIVE amounts, i.e. the extractor
  flips them to creditor → debtor. Derivation: after the adjustments zero
  every row inside the set, the flipped settlement leg re-opens exactly
  "debtor owes creditor <amount>", which the later real payment (a normal
  SettleUp debtor → creditor) closes back to zero. Recording the leg in
  payment direction instead would leave the pair inverted after payday.

EPSILONS:
  0.009 is the "effectively zero" floor for positions and remainders;
  0.01 remains the materiality floor when the resulting transaction is
  applied. Both values are load-bearing for numeric tests.

SEE ALSO:
  - updater.go: applies the persisted plan
  - extract.go: the leg normalization the sign convention relies on
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PLAN TYPES
// =============================================================================

// PlanBalance is one participant's net position inside the set.
// Positive means the group owes them; negative means they owe the group.
type PlanBalance struct {
	UserID UserID
	Amount decimal.Decimal
}

// PlanPayment is one planned payment From → To.
type PlanPayment struct {
	From   UserID
	To     UserID
	Amount decimal.Decimal
}

// Plan is the output of a settlement computation.
type Plan struct {
	Balances    []PlanBalance
	Settlements []PlanPayment

	// Adjustments are the pairwise corrections the create flow persists
	// alongside the settlements. Preview fills them too so operators can
	// inspect what a create would write.
	Adjustments []PlanPayment
}

// =============================================================================
// PLANNER
// =============================================================================

// Planner computes and optionally persists smart settlements.
type Planner struct {
	Transactions TransactionStore
	Updater      *Updater

	// Now and NewID are injectable for deterministic tests.
	Now   func() time.Time
	NewID func() TxID
}

func NewPlanner(txs TransactionStore, updater *Updater) *Planner {
	return &Planner{
		Transactions: txs,
		Updater:      updater,
		Now:          time.Now,
		NewID:        func() TxID { return TxID(uuid.NewString()) },
	}
}

// Preview computes the plan without persisting anything.
func (p *Planner) Preview(ctx context.Context, participants []UserID) (Plan, error) {
	if err := ValidateParticipants(participants); err != nil {
		return Plan{}, err
	}
	transfers, err := p.restrictedTransfers(ctx, participants)
	if err != nil {
		return Plan{}, err
	}
	return buildPlan(participants, transfers), nil
}

// Create computes the plan and persists it as ONE group-settle transaction
// containing the adjustment legs and the (direction-reversed) settlement
// legs, then routes it through the Updater. Returns the plan and the
// persisted transaction.
func (p *Planner) Create(ctx context.Context, participants []UserID) (Plan, *Transaction, error) {
	plan, err := p.Preview(ctx, participants)
	if err != nil {
		return Plan{}, nil, err
	}
	if len(plan.Adjustments) == 0 && len(plan.Settlements) == 0 {
		return plan, nil, nil // nothing to settle
	}

	legs := make([]SettleLeg, 0, len(plan.Adjustments)+len(plan.Settlements))
	total := decimal.Zero
	for _, a := range plan.Adjustments {
		legs = append(legs, SettleLeg{
			PayerID:  a.From,
			PayeeID:  a.To,
			Amount:   a.Amount,
			Category: LegAdjustment,
		})
	}
	for _, s := range plan.Settlements {
		// Reversed sign: see the sign-convention derivation above.
		legs = append(legs, SettleLeg{
			PayerID:  s.From,
			PayeeID:  s.To,
			Amount:   s.Amount.Neg(),
			Category: LegSettlement,
		})
		total = total.Add(s.Amount)
	}

	sorted := append([]UserID(nil), participants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	tx := Transaction{
		ID:           p.NewID(),
		Name:         "Smart settle",
		Participants: sorted,
		Currency:     "",
		ExchangeRate: decimal.NewFromInt(1),
		Amount:       total,
		BaseAmount:   total,
		CreatedAt:    p.Now(),
		Kind:         KindGroupSettle,
		GroupSettle:  &GroupSettleDetails{Legs: legs},
	}

	if err := p.Transactions.Save(ctx, tx); err != nil {
		return plan, nil, fmt.Errorf("%w: saving settlement: %v", ErrStoreFailed, err)
	}
	if _, err := p.Updater.ApplyChange(ctx, nil, &tx); err != nil {
		return plan, nil, err
	}
	return plan, &tx, nil
}

// =============================================================================
// PLAN CONSTRUCTION
// =============================================================================

// restrictedTransfers extracts every transfer with both endpoints inside
// the participant set, from every transaction touching any participant.
func (p *Planner) restrictedTransfers(ctx context.Context, participants []UserID) ([]Transfer, error) {
	txs, err := p.Transactions.ListByParticipants(ctx, participants)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning transactions: %v", ErrStoreFailed, err)
	}

	inSet := make(map[UserID]bool, len(participants))
	for _, u := range participants {
		inSet[u] = true
	}

	var transfers []Transfer
	for i := range txs {
		for _, t := range ExtractTransfers(&txs[i]) {
			if inSet[t.From] && inSet[t.To] {
				transfers = append(transfers, t)
			}
		}
	}
	return transfers, nil
}

func buildPlan(participants []UserID, transfers []Transfer) Plan {
	// Deterministic base order: participants sorted lexicographically.
	ordered := append([]UserID(nil), participants...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	// Net per user, rounded after every accumulation step to bound
	// rounding error the same way the numeric tests expect.
	net := make(map[UserID]decimal.Decimal, len(ordered))
	pairNet := make(map[pairKey]decimal.Decimal)
	for _, t := range transfers {
		net[t.From] = Round2(net[t.From].Add(t.Amount))
		net[t.To] = Round2(net[t.To].Sub(t.Amount))

		k, flipped := keyFor(t.From, t.To)
		amt := t.Amount
		if flipped {
			amt = amt.Neg()
		}
		pairNet[k] = Round2(pairNet[k].Add(amt))
	}

	plan := Plan{}
	for _, u := range ordered {
		plan.Balances = append(plan.Balances, PlanBalance{UserID: u, Amount: net[u]})
	}
	plan.Adjustments = pairAdjustments(pairNet)
	plan.Settlements = greedyMatch(ordered, net)
	return plan
}

// pairAdjustments collapses each pair's mutual transfers into a single
// debtor → creditor correction. Positive pairNet means Hi owes Lo.
func pairAdjustments(pairNet map[pairKey]decimal.Decimal) []PlanPayment {
	keys := make([]pairKey, 0, len(pairNet))
	for k := range pairNet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Lo != keys[j].Lo {
			return keys[i].Lo < keys[j].Lo
		}
		return keys[i].Hi < keys[j].Hi
	})

	var out []PlanPayment
	for _, k := range keys {
		n := pairNet[k]
		if n.Abs().LessThanOrEqual(Epsilon) {
			continue
		}
		if n.IsPositive() {
			out = append(out, PlanPayment{From: k.Hi, To: k.Lo, Amount: n})
		} else {
			out = append(out, PlanPayment{From: k.Lo, To: k.Hi, Amount: n.Neg()})
		}
	}
	return out
}

// greedyMatch pairs the largest creditor with the largest debtor until one
// side is exhausted. Ties keep the (sorted-participant) iteration order so
// the output is deterministic.
func greedyMatch(ordered []UserID, net map[UserID]decimal.Decimal) []PlanPayment {
	type position struct {
		user   UserID
		amount decimal.Decimal // always positive
	}
	var creditors, debtors []position
	for _, u := range ordered {
		n := net[u]
		switch {
		case n.GreaterThan(Epsilon):
			creditors = append(creditors, position{user: u, amount: n})
		case n.LessThan(Epsilon.Neg()):
			debtors = append(debtors, position{user: u, amount: n.Neg()})
		}
	}
	sort.SliceStable(creditors, func(i, j int) bool {
		return creditors[i].amount.GreaterThan(creditors[j].amount)
	})
	sort.SliceStable(debtors, func(i, j int) bool {
		return debtors[i].amount.GreaterThan(debtors[j].amount)
	})

	var out []PlanPayment
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := Round2(decimal.Min(debtors[i].amount, creditors[j].amount))
		if amount.GreaterThan(Epsilon) {
			out = append(out, PlanPayment{
				From:   debtors[i].user,
				To:     creditors[j].user,
				Amount: amount,
			})
		}
		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)
		if debtors[i].amount.LessThanOrEqual(Epsilon) {
			i++
		}
		if creditors[j].amount.LessThanOrEqual(Epsilon) {
			j++
		}
	}
	return out
}
