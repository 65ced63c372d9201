package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitbook/ledger-engine/ledger"
	memstore "github.com/splitbook/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEngine struct {
	txs      *memstore.MemoryTransactions
	balances *memstore.MemoryBalances
	updater  *ledger.Updater
	verifier *ledger.Verifier
	rebuild  *ledger.Rebuilder
}

func newTestEngine() *testEngine {
	txs := memstore.NewMemoryTransactions()
	balances := memstore.NewMemoryBalances()
	updater := ledger.NewUpdater(balances)
	return &testEngine{
		txs:      txs,
		balances: balances,
		updater:  updater,
		verifier: ledger.NewVerifier(txs, balances),
		rebuild:  ledger.NewRebuilder(txs, updater),
	}
}

// write persists the transaction and applies its deltas, the way the API
// layer does on create.
func (e *testEngine) write(t *testing.T, tx *ledger.Transaction) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.txs.Save(ctx, *tx))
	_, err := e.updater.ApplyChange(ctx, nil, tx)
	require.NoError(t, err)
}

// =============================================================================
// VERIFY - single user
// =============================================================================

func TestVerify_ConsistentCache_Match(t *testing.T) {
	e := newTestEngine()
	e.write(t, purchaseTx("tx-1", "alice", split("alice", "5.00"), split("bob", "5.00")))
	e.write(t, settleUpTx("tx-2", "bob", "alice", dec("2.00")))

	result, err := e.verifier.Verify(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusMatch, result.Status)
	assert.Empty(t, result.Discrepancies)
}

func TestVerify_CorruptedRow_ExactlyOneDiscrepancyWithCorrectDiff(t *testing.T) {
	// GIVEN: a consistent cache, then one row overwritten out-of-band
	// WHEN: Verifying the affected user
	// THEN: exactly one discrepancy, diff = cached - truth

	e := newTestEngine()
	e.write(t, purchaseTx("tx-1", "alice", split("alice", "5.00"), split("bob", "5.00")))

	e.balances.Corrupt("alice", "bob", dec("9.00")) // truth is 5.00

	result, err := e.verifier.Verify(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDiscrepancyFound, result.Status)
	require.Len(t, result.Discrepancies, 1)

	d := result.Discrepancies[0]
	assert.Equal(t, ledger.UserID("bob"), d.Counterparty)
	assert.True(t, d.Cached.Equal(dec("9.00")), "cached = %s", d.Cached)
	assert.True(t, d.GroundTruth.Equal(dec("5.00")), "truth = %s", d.GroundTruth)
	assert.True(t, d.Diff.Equal(dec("4.00")), "diff = %s", d.Diff)
}

func TestVerify_OrphanCacheRow_Reported(t *testing.T) {
	// A row with no transaction behind it must surface even though the
	// ground truth has no entry for that counterparty.
	e := newTestEngine()
	e.balances.Corrupt("alice", "ghost", dec("1.00"))

	result, err := e.verifier.Verify(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, ledger.UserID("ghost"), result.Discrepancies[0].Counterparty)
	assert.True(t, result.Discrepancies[0].GroundTruth.IsZero())
}

func TestVerify_MissingCacheRow_Reported(t *testing.T) {
	// Transactions exist but the cache was never populated.
	e := newTestEngine()
	ctx := context.Background()
	tx := purchaseTx("tx-1", "alice", split("bob", "5.00"))
	require.NoError(t, e.txs.Save(ctx, *tx))

	result, err := e.verifier.Verify(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, result.Discrepancies, 1)
	assert.True(t, result.Discrepancies[0].Cached.IsZero())
	assert.True(t, result.Discrepancies[0].GroundTruth.Equal(dec("5.00")))
}

func TestVerify_ToleranceBoundary(t *testing.T) {
	// |diff| = 0.005 is accepted; anything above is a discrepancy.
	e := newTestEngine()
	e.write(t, purchaseTx("tx-1", "alice", split("bob", "5.00")))

	e.balances.Corrupt("alice", "bob", dec("5.005"))
	result, err := e.verifier.Verify(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusMatch, result.Status, "diff at tolerance is rounding residue")

	e.balances.Corrupt("alice", "bob", dec("5.006"))
	result, err = e.verifier.Verify(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDiscrepancyFound, result.Status)
}

// =============================================================================
// VERIFY ALL
// =============================================================================

func TestVerifyAll_ConsistentStore_Match(t *testing.T) {
	e := newTestEngine()
	e.write(t, purchaseTx("tx-1", "alice", split("alice", "5.00"), split("bob", "5.00")))
	e.write(t, purchaseTx("tx-2", "bob", split("bob", "4.00"), split("carol", "4.00")))

	report, err := e.verifier.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusMatch, report.Status)
	assert.Equal(t, 3, report.UsersChecked)
	assert.Zero(t, report.Errors)
	assert.Empty(t, report.Users)
}

func TestVerifyAll_OnlyAffectedUsersListed(t *testing.T) {
	e := newTestEngine()
	e.write(t, purchaseTx("tx-1", "alice", split("alice", "5.00"), split("bob", "5.00")))
	e.write(t, purchaseTx("tx-2", "bob", split("bob", "4.00"), split("carol", "4.00")))

	e.balances.Corrupt("carol", "bob", dec("99.00"))

	report, err := e.verifier.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDiscrepancyFound, report.Status)
	require.Len(t, report.Users, 1)
	assert.Equal(t, ledger.UserID("carol"), report.Users[0].UserID)
}

// =============================================================================
// REBUILD
// =============================================================================

func TestRecalculateAll_RepairsCorruptedCache(t *testing.T) {
	// GIVEN: a cache with a corrupted row and an orphan row
	// WHEN: Rebuilding from the log
	// THEN: VerifyAll reports MATCH

	e := newTestEngine()
	ctx := context.Background()

	e.write(t, purchaseTx("tx-1", "alice", split("alice", "5.00"), split("bob", "5.00")))
	e.write(t, settleUpTx("tx-2", "bob", "alice", dec("2.00")))
	e.balances.Corrupt("alice", "bob", dec("42.00"))
	e.balances.Corrupt("ghost", "alice", dec("1.00"))

	report, err := e.rebuild.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.Failed)

	verify, err := e.verifier.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusMatch, verify.Status)

	amt, _, err := e.balances.Balance(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, amt.Equal(dec("3.00")), "5.00 owed minus 2.00 paid")
}

func TestRecalculateAll_Idempotent(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	e.write(t, purchaseTx("tx-1", "alice", split("alice", "5.00"), split("bob", "7.00")))

	_, err := e.rebuild.RecalculateAll(ctx)
	require.NoError(t, err)
	first, _, err := e.balances.Balance(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = e.rebuild.RecalculateAll(ctx)
	require.NoError(t, err)
	second, _, err := e.balances.Balance(ctx, "alice", "bob")
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.True(t, first.Equal(dec("7.00")))
}

func TestRecalculateAll_EmptyLog_EmptyCache(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	e.balances.Corrupt("alice", "bob", dec("13.00"))

	report, err := e.rebuild.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	users, err := e.balances.Users(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}
