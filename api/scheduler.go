/*
scheduler.go - Recurring-expense scheduler

PURPOSE:
  Periodically materializes due recurring templates into transactions and
  routes them through the Updater so the balance cache stays consistent.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A due template produces exactly one transaction per elapsed interval;
    NextRunAt is advanced past now in whole intervals, so a long outage
    does not flood the log with backfill
  - Per-template failures are logged and skipped; the run continues

USAGE:
  scheduler := NewRecurringScheduler(templates, transactions, updater)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CreateTemplate endpoint
  - ledger/types.go: RecurringTemplate
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splitbook/ledger-engine/ledger"
	"github.com/splitbook/ledger-engine/pkg/metrics"
)

// RecurringScheduler materializes due recurring templates.
type RecurringScheduler struct {
	Templates    ledger.TemplateStore
	Transactions ledger.TransactionStore
	Updater      *ledger.Updater

	CheckInterval time.Duration
	Enabled       bool

	// Now and NewID are injectable for deterministic tests.
	Now   func() time.Time
	NewID func() ledger.TxID

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRecurringScheduler creates a new scheduler.
func NewRecurringScheduler(templates ledger.TemplateStore, txs ledger.TransactionStore, updater *ledger.Updater) *RecurringScheduler {
	return &RecurringScheduler{
		Templates:     templates,
		Transactions:  txs,
		Updater:       updater,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		NewID:         func() ledger.TxID { return ledger.TxID(uuid.NewString()) },
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RecurringScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		slog.Info("scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	slog.Info("scheduler started", "check_interval", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *RecurringScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		slog.Info("scheduler stopped")
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *RecurringScheduler) RunNow() {
	rs.checkAndProcess()
}

func (rs *RecurringScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RecurringScheduler) checkAndProcess() {
	ctx := context.Background()
	now := rs.Now()

	due, err := rs.Templates.ListDue(ctx, now)
	if err != nil {
		slog.Error("scheduler: listing due templates", "error", err)
		return
	}

	processed := 0
	for _, tpl := range due {
		if err := rs.materialize(ctx, tpl, now); err != nil {
			slog.Warn("scheduler: skipping template",
				"template_id", tpl.ID, "error", err)
			continue
		}
		processed++
	}

	if processed > 0 {
		slog.Info("scheduler: materialized recurring transactions", "count", processed)
	}
}

// materialize creates one transaction from the template, applies its
// balance deltas, and advances NextRunAt past now in whole intervals.
func (rs *RecurringScheduler) materialize(ctx context.Context, tpl ledger.RecurringTemplate, now time.Time) error {
	tx := ledger.Transaction{
		ID:           rs.NewID(),
		Name:         tpl.Name,
		Participants: append([]ledger.UserID(nil), tpl.Participants...),
		Currency:     tpl.Currency,
		ExchangeRate: tpl.ExchangeRate,
		Amount:       tpl.Amount,
		BaseAmount:   tpl.BaseAmount,
		CreatedAt:    now,
		Kind:         ledger.KindRecurring,
		Recurring: &ledger.RecurringDetails{
			PayerID:    tpl.PayerID,
			Splits:     append([]ledger.Split(nil), tpl.Splits...),
			TemplateID: tpl.ID,
		},
	}

	if err := rs.Transactions.Save(ctx, tx); err != nil {
		return err
	}
	if _, err := rs.Updater.ApplyChange(ctx, nil, &tx); err != nil {
		return err
	}
	metrics.RecurringMaterialized.Inc()

	next := tpl.NextRunAt
	for !next.After(now) {
		next = next.AddDate(0, 0, tpl.IntervalDays)
	}
	return rs.Templates.MarkRun(ctx, tpl.ID, next)
}
