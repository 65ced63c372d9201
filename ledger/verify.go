/*
verify.go - Balance cache verification against ground truth

PURPOSE:
  Recomputes pairwise balances independently of the cache - by full
  aggregation over the transaction log - and diffs the result against the
  cached rows. Purely diagnostic: it never writes. A discrepancy is an
  operator signal (typically answered with a rebuild), not an error.

GROUND TRUTH:
  For one user, scan every transaction touching them, extract transfers,
  and per counterparty sum debit (transfers where the user is From) minus
  credit (transfers where the user is To), rounded to 2 decimals. The
  cache and the truth are compared over the UNION of counterparties, so a
  row that exists only on one side is reported too.

TOLERANCE:
  |cached - truth| > 0.005 is a discrepancy; anything at or below that is
  accepted as rounding residue.

SEE ALSO:
  - rebuild.go: the remediation for a DISCREPANCY_FOUND report
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
)

type VerifyStatus string

const (
	StatusMatch            VerifyStatus = "MATCH"
	StatusDiscrepancyFound VerifyStatus = "DISCREPANCY_FOUND"
)

// Discrepancy is one counterparty whose cached balance disagrees with the
// recomputed ground truth. Diff = Cached - GroundTruth.
type Discrepancy struct {
	Counterparty UserID
	Cached       decimal.Decimal
	GroundTruth  decimal.Decimal
	Diff         decimal.Decimal
}

// VerifyResult is the report for one user.
type VerifyResult struct {
	UserID        UserID
	Status        VerifyStatus
	Discrepancies []Discrepancy
}

// VerifyReport aggregates VerifyAll over every known user.
type VerifyReport struct {
	Status       VerifyStatus
	UsersChecked int
	Errors       int
	Users        []VerifyResult // only users with discrepancies
}

// Verifier diffs the balance cache against recomputed truth.
type Verifier struct {
	Transactions TransactionStore
	Balances     BalanceStore
}

func NewVerifier(txs TransactionStore, balances BalanceStore) *Verifier {
	return &Verifier{Transactions: txs, Balances: balances}
}

// Verify recomputes one user's balances from the transaction log and
// compares them with the cached rows.
func (v *Verifier) Verify(ctx context.Context, user UserID) (VerifyResult, error) {
	truth, err := v.groundTruth(ctx, user)
	if err != nil {
		return VerifyResult{}, err
	}

	rows, err := v.Balances.ListForUser(ctx, user)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: reading cached balances: %v", ErrStoreFailed, err)
	}
	cached := make(map[UserID]decimal.Decimal, len(rows))
	for _, row := range rows {
		cached[row.Counterparty] = row.Amount
	}

	// Compare over the union: a row present on only one side still counts.
	counterparties := make(map[UserID]bool, len(truth)+len(cached))
	for c := range truth {
		counterparties[c] = true
	}
	for c := range cached {
		counterparties[c] = true
	}

	ordered := make([]UserID, 0, len(counterparties))
	for c := range counterparties {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	result := VerifyResult{UserID: user, Status: StatusMatch}
	for _, c := range ordered {
		cachedAmt := cached[c] // zero when absent
		truthAmt := truth[c]
		diff := cachedAmt.Sub(truthAmt)
		if diff.Abs().GreaterThan(VerifyTolerance) {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Counterparty: c,
				Cached:       cachedAmt,
				GroundTruth:  truthAmt,
				Diff:         diff,
			})
		}
	}
	if len(result.Discrepancies) > 0 {
		result.Status = StatusDiscrepancyFound
	}
	return result, nil
}

// VerifyAll runs Verify for every user known to either store and collects
// the users with discrepancies. A single user's failure is logged and
// counted; it never short-circuits the run.
func (v *Verifier) VerifyAll(ctx context.Context) (VerifyReport, error) {
	users, err := v.allUsers(ctx)
	if err != nil {
		return VerifyReport{}, err
	}

	report := VerifyReport{Status: StatusMatch}
	for _, u := range users {
		result, err := v.Verify(ctx, u)
		if err != nil {
			report.Errors++
			slog.Warn("verify: skipping user", "user_id", u, "error", err)
			continue
		}
		report.UsersChecked++
		if result.Status == StatusDiscrepancyFound {
			report.Users = append(report.Users, result)
		}
	}
	if len(report.Users) > 0 {
		report.Status = StatusDiscrepancyFound
	}
	return report, nil
}

// groundTruth aggregates debit-minus-credit per counterparty over every
// transaction touching the user, bypassing the cache entirely.
func (v *Verifier) groundTruth(ctx context.Context, user UserID) (map[UserID]decimal.Decimal, error) {
	txs, err := v.Transactions.ListByParticipants(ctx, []UserID{user})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning transactions: %v", ErrStoreFailed, err)
	}

	truth := make(map[UserID]decimal.Decimal)
	for i := range txs {
		for _, t := range ExtractTransfers(&txs[i]) {
			switch user {
			case t.From:
				truth[t.To] = truth[t.To].Add(t.Amount) // debit: To owes user
			case t.To:
				truth[t.From] = truth[t.From].Sub(t.Amount) // credit: user owes From
			}
		}
	}
	for c, amt := range truth {
		truth[c] = Round2(amt)
	}
	return truth, nil
}

// allUsers returns the union of users appearing in the transaction log
// and users holding balance rows, so orphaned cache rows are verified too.
func (v *Verifier) allUsers(ctx context.Context) ([]UserID, error) {
	txUsers, err := v.Transactions.Participants(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing transaction users: %v", ErrStoreFailed, err)
	}
	balUsers, err := v.Balances.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing balance users: %v", ErrStoreFailed, err)
	}

	seen := make(map[UserID]bool, len(txUsers)+len(balUsers))
	var users []UserID
	for _, u := range append(txUsers, balUsers...) {
		if !seen[u] {
			seen[u] = true
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}
