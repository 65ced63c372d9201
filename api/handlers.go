/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the balance ledger and settlement engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the ledger
  package. Every transaction write routes its (old, new) pair through the
  Updater so the balance cache never drifts from the log.

ENDPOINTS:
  Transactions:
    POST   /api/transactions            Create transaction
    GET    /api/transactions/{id}       Get transaction
    PUT    /api/transactions/{id}       Update transaction
    DELETE /api/transactions/{id}       Delete transaction

  Users:
    GET    /api/users/{id}/balances     Pairwise balances
    GET    /api/users/{id}/transactions Transaction history
    GET    /api/users/{id}/verify       Single-user cache verification

  Settlement:
    POST   /api/settle/preview          Compute plan without persisting
    POST   /api/settle                  Compute and persist plan

  Templates:
    GET    /api/templates               List recurring templates
    POST   /api/templates               Create recurring template

  Admin:
    GET    /api/admin/verify            Full cache verification
    POST   /api/admin/recalculate       Wipe and rebuild the cache

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Transaction or template not found
  - 500: Storage failures

CONCURRENCY:
  The rebuild endpoint holds rebuildMu for its whole duration so a rebuild
  never races another rebuild. Regular writes rely on the store's
  per-call atomicity.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/: The engine these handlers delegate to
*/
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/splitbook/ledger-engine/ledger"
	"github.com/splitbook/ledger-engine/pkg/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Transactions ledger.TransactionStore
	Balances     ledger.BalanceStore
	Templates    ledger.TemplateStore

	Updater   *ledger.Updater
	Rebuilder *ledger.Rebuilder
	Verifier  *ledger.Verifier
	Planner   *ledger.Planner

	// rebuildMu serializes cache rebuilds; RecalculateAll requires
	// exclusive access to the balance store.
	rebuildMu sync.Mutex
}

// NewHandler wires the engine components over the given stores.
func NewHandler(txs ledger.TransactionStore, balances ledger.BalanceStore, templates ledger.TemplateStore) *Handler {
	updater := ledger.NewUpdater(balances)
	return &Handler{
		Transactions: txs,
		Balances:     balances,
		Templates:    templates,
		Updater:      updater,
		Rebuilder:    ledger.NewRebuilder(txs, updater),
		Verifier:     ledger.NewVerifier(txs, balances),
		Planner:      ledger.NewPlanner(txs, updater),
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction persists a new transaction and applies its balance
// deltas. Group-settle transactions are created only by the settlement
// endpoint, never through CRUD.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req SaveTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if ledger.Kind(req.Kind) == ledger.KindGroupSettle {
		writeError(w, http.StatusBadRequest, "Group settlements are created via /api/settle", nil)
		return
	}

	id := ledger.TxID(req.ID)
	if id == "" {
		id = ledger.TxID(uuid.NewString())
	}
	tx := fromTransactionRequest(req, id, time.Now())

	if err := h.Transactions.Save(r.Context(), tx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save transaction", err)
		return
	}
	n, err := h.Updater.ApplyChange(r.Context(), nil, &tx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to apply balance deltas", err)
		return
	}
	metrics.DeltasApplied.Add(float64(n))

	writeJSON(w, http.StatusCreated, toTransactionDTO(&tx))
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TxID(chi.URLParam(r, "id"))

	tx, err := h.Transactions.Get(r.Context(), id)
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Transaction not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateTransaction replaces a transaction and applies the old→new balance
// diff. An update whose transfers did not change writes zero deltas.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TxID(chi.URLParam(r, "id"))

	old, err := h.Transactions.Get(r.Context(), id)
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Transaction not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}
	if old.Kind == ledger.KindGroupSettle {
		writeError(w, http.StatusBadRequest, "Group settlements cannot be edited", nil)
		return
	}

	var req SaveTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if ledger.Kind(req.Kind) == ledger.KindGroupSettle {
		writeError(w, http.StatusBadRequest, "Group settlements are created via /api/settle", nil)
		return
	}

	tx := fromTransactionRequest(req, id, old.CreatedAt)

	if err := h.Transactions.Save(r.Context(), tx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save transaction", err)
		return
	}
	n, err := h.Updater.ApplyChange(r.Context(), old, &tx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to apply balance deltas", err)
		return
	}
	metrics.DeltasApplied.Add(float64(n))

	writeJSON(w, http.StatusOK, toTransactionDTO(&tx))
}

// DeleteTransaction removes a transaction and reverses its balance effect.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TxID(chi.URLParam(r, "id"))

	old, err := h.Transactions.Get(r.Context(), id)
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Transaction not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}

	if err := h.Transactions.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete transaction", err)
		return
	}
	n, err := h.Updater.ApplyChange(r.Context(), old, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to apply balance deltas", err)
		return
	}
	metrics.DeltasApplied.Add(float64(n))

	writeJSON(w, http.StatusOK, map[string]any{"deleted": string(id)})
}

// ListUserTransactions returns the transactions a user participates in.
func (h *Handler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	user := ledger.UserID(chi.URLParam(r, "id"))

	txs, err := h.Transactions.ListByParticipants(r.Context(), []ledger.UserID{user})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i := range txs {
		dtos[i] = toTransactionDTO(&txs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetUserBalances returns a user's cached pairwise balances.
func (h *Handler) GetUserBalances(w http.ResponseWriter, r *http.Request) {
	user := ledger.UserID(chi.URLParam(r, "id"))

	rows, err := h.Balances.ListForUser(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list balances", err)
		return
	}

	resp := UserBalancesDTO{UserID: string(user), Balances: make([]BalanceDTO, len(rows))}
	for i, row := range rows {
		resp.Balances[i] = BalanceDTO{
			CounterpartyID: string(row.Counterparty),
			Amount:         toFloat(row.Amount),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// VERIFICATION HANDLERS
// =============================================================================

// VerifyUser diffs one user's cached balances against recomputed truth.
func (h *Handler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	user := ledger.UserID(chi.URLParam(r, "id"))

	result, err := h.Verifier.Verify(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Verification failed", err)
		return
	}
	metrics.VerifyDiscrepancies.Add(float64(len(result.Discrepancies)))

	writeJSON(w, http.StatusOK, toVerifyResultDTO(result))
}

// VerifyAll diffs every user's cached balances against recomputed truth.
func (h *Handler) VerifyAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.Verifier.VerifyAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Verification failed", err)
		return
	}

	dto := VerifyReportDTO{
		Status:       string(report.Status),
		UsersChecked: report.UsersChecked,
		Errors:       report.Errors,
	}
	for _, res := range report.Users {
		metrics.VerifyDiscrepancies.Add(float64(len(res.Discrepancies)))
		dto.Users = append(dto.Users, toVerifyResultDTO(res))
	}
	writeJSON(w, http.StatusOK, dto)
}

// Recalculate wipes the balance cache and replays the transaction log.
// Synchronous and serialized: a second request waits for the first.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	h.rebuildMu.Lock()
	defer h.rebuildMu.Unlock()

	report, err := h.Rebuilder.RecalculateAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Rebuild failed", err)
		return
	}
	metrics.RebuildRuns.Inc()

	writeJSON(w, http.StatusOK, RebuildReportDTO{
		Processed: report.Processed,
		Failed:    report.Failed,
	})
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// PreviewSettlement computes the settlement plan without persisting it.
func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, err := h.Planner.Preview(r.Context(), fromUserIDStrings(req.Participants))
	if err != nil {
		writeError(w, statusFor(err), "Failed to compute settlement plan", err)
		return
	}

	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// CreateSettlement computes the plan and persists it as one group-settle
// transaction. Returns 200 with an empty transaction_id when the group
// was already settled.
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, tx, err := h.Planner.Create(r.Context(), fromUserIDStrings(req.Participants))
	if err != nil {
		writeError(w, statusFor(err), "Failed to create settlement", err)
		return
	}

	resp := SettleResponse{Plan: toPlanDTO(plan)}
	if tx != nil {
		resp.TransactionID = string(tx.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// ListTemplates returns all recurring templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Templates.ListTemplates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list templates", err)
		return
	}

	dtos := make([]TemplateDTO, len(templates))
	for i, tpl := range templates {
		dtos[i] = toTemplateDTO(tpl)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTemplate creates a recurring template.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req SaveTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.IntervalDays <= 0 {
		writeError(w, http.StatusBadRequest, "interval_days must be positive", nil)
		return
	}
	nextRun, err := time.Parse(time.RFC3339, req.NextRunAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid next_run_at (use RFC 3339)", err)
		return
	}

	id := ledger.TemplateID(req.ID)
	if id == "" {
		id = ledger.TemplateID(uuid.NewString())
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	rate := toDecimal(req.ExchangeRate)
	if req.ExchangeRate == 0 {
		rate = toDecimal(1)
	}

	tpl := ledger.RecurringTemplate{
		ID:           id,
		Name:         req.Name,
		PayerID:      ledger.UserID(req.PayerID),
		Participants: fromUserIDStrings(req.Participants),
		Splits:       fromSplitDTOs(req.Splits),
		Currency:     req.Currency,
		ExchangeRate: rate,
		Amount:       toDecimal(req.Amount),
		BaseAmount:   toDecimal(req.BaseAmount),
		IntervalDays: req.IntervalDays,
		NextRunAt:    nextRun,
		Active:       active,
		CreatedAt:    time.Now(),
	}

	if err := h.Templates.SaveTemplate(r.Context(), tpl); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save template", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateDTO(tpl))
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps engine error classes to HTTP status codes.
func statusFor(err error) int {
	switch {
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
