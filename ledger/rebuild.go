/*
rebuild.go - Full balance cache reconstruction

PURPOSE:
  Repair/migration tool: wipes the balance cache and repopulates it by
  replaying every transaction in the log through the extractor. Not on
  any request hot path.

GUARANTEES:
  - Any replay order is acceptable: balance additions commute.
  - A transaction that fails to apply is logged, counted, and skipped;
    one bad record never aborts the run.
  - Idempotent given exclusive access: running it twice converges to the
    same cache.

CONCURRENCY:
  Requires exclusive access to the BalanceStore - no concurrent
  ApplyChange calls - because it deletes before replaying. The API layer
  serializes it behind an administrative lock.

SEE ALSO:
  - verify.go: checks the result against ground truth
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// RebuildReport summarizes one rebuild run.
type RebuildReport struct {
	Processed int
	Failed    int
}

// Rebuilder reconstructs the balance cache from the transaction log.
type Rebuilder struct {
	Transactions TransactionStore
	Updater      *Updater
}

func NewRebuilder(txs TransactionStore, updater *Updater) *Rebuilder {
	return &Rebuilder{Transactions: txs, Updater: updater}
}

// RecalculateAll deletes every balance row and replays the full log.
// Per-transaction failures are logged and counted without stopping the
// run; only a store-level failure of the wipe or the scan is fatal.
func (r *Rebuilder) RecalculateAll(ctx context.Context) (RebuildReport, error) {
	if err := r.Updater.Balances.DeleteAll(ctx); err != nil {
		return RebuildReport{}, fmt.Errorf("%w: wiping balance cache: %v", ErrStoreFailed, err)
	}

	var report RebuildReport
	err := r.Transactions.ForEach(ctx, func(tx Transaction) error {
		// Copy: ApplyChange holds the pointer past this iteration.
		txCopy := tx
		if _, err := r.Updater.ApplyChange(ctx, nil, &txCopy); err != nil {
			report.Failed++
			slog.Warn("rebuild: skipping transaction",
				"transaction_id", tx.ID, "kind", tx.Kind, "error", err)
			return nil // log and continue
		}
		report.Processed++
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("%w: scanning transactions: %v", ErrStoreFailed, err)
	}

	slog.Info("rebuild complete",
		"processed", report.Processed, "failed", report.Failed)
	return report, nil
}
