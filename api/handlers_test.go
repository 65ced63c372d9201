package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitbook/ledger-engine/api"
	"github.com/splitbook/ledger-engine/ledger"
	memstore "github.com/splitbook/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	handler  *api.Handler
	router   http.Handler
	txs      *memstore.MemoryTransactions
	balances *memstore.MemoryBalances
}

func newTestServer() *testServer {
	txs := memstore.NewMemoryTransactions()
	balances := memstore.NewMemoryBalances()
	templates := memstore.NewMemoryTemplates()
	handler := api.NewHandler(txs, balances, templates)
	return &testServer{
		handler:  handler,
		router:   api.NewRouter(handler),
		txs:      txs,
		balances: balances,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

func purchaseRequest(id, payer string, splits map[string]float64) api.SaveTransactionRequest {
	req := api.SaveTransactionRequest{
		ID:   id,
		Name: "test purchase",
		Kind: "purchase",
		Purchase: &api.PurchaseDTO{
			PayerID: payer,
			Method:  "manual",
		},
	}
	seen := map[string]bool{payer: true}
	req.Participants = []string{payer}
	for user, amount := range splits {
		req.Purchase.Splits = append(req.Purchase.Splits, api.SplitDTO{UserID: user, Amount: amount})
		req.Amount += amount
		if !seen[user] {
			seen[user] = true
			req.Participants = append(req.Participants, user)
		}
	}
	req.BaseAmount = req.Amount
	return req
}

// =============================================================================
// TRANSACTION CRUD
// =============================================================================

func TestCreateTransaction_AppliesBalances(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-1", "alice", map[string]float64{"bob": 5.00}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeJSON[api.TransactionDTO](t, rec)
	assert.Equal(t, "tx-1", created.ID)
	assert.Equal(t, "purchase", created.Kind)

	rec = s.do(t, http.MethodGet, "/api/users/alice/balances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decodeJSON[api.UserBalancesDTO](t, rec)
	require.Len(t, balances.Balances, 1)
	assert.Equal(t, "bob", balances.Balances[0].CounterpartyID)
	assert.InDelta(t, 5.00, balances.Balances[0].Amount, 0.001)
}

func TestCreateTransaction_AssignsIDWhenEmpty(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("", "alice", map[string]float64{"bob": 5.00}))
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeJSON[api.TransactionDTO](t, rec)
	assert.NotEmpty(t, created.ID)
}

func TestCreateTransaction_GroupSettleKind_Rejected(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/transactions", api.SaveTransactionRequest{
		Name:         "sneaky",
		Kind:         "group_settle",
		Participants: []string{"alice", "bob"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTransaction_AppliesDelta(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-1", "alice", map[string]float64{"bob": 5.00}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/transactions/tx-1",
		purchaseRequest("tx-1", "alice", map[string]float64{"bob": 7.00}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/users/alice/balances", nil)
	balances := decodeJSON[api.UserBalancesDTO](t, rec)
	require.Len(t, balances.Balances, 1)
	assert.InDelta(t, 7.00, balances.Balances[0].Amount, 0.001)
}

func TestUpdateTransaction_Missing_NotFound(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodPut, "/api/transactions/nope",
		purchaseRequest("nope", "alice", map[string]float64{"bob": 5.00}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTransaction_ReversesBalances(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-1", "alice", map[string]float64{"bob": 5.00}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/transactions/tx-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/users/alice/balances", nil)
	balances := decodeJSON[api.UserBalancesDTO](t, rec)
	assert.Empty(t, balances.Balances)

	rec = s.do(t, http.MethodDelete, "/api/transactions/tx-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUserTransactions(t *testing.T) {
	s := newTestServer()

	s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-1", "alice", map[string]float64{"bob": 5.00}))
	s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-2", "carol", map[string]float64{"dave": 3.00}))

	rec := s.do(t, http.MethodGet, "/api/users/bob/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decodeJSON[[]api.TransactionDTO](t, rec)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-1", txs[0].ID)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestSettlePreview_TooFewParticipants_BadRequest(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodPost, "/api/settle/preview",
		api.SettleRequest{Participants: []string{"alice"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleFlow_ChainCollapses(t *testing.T) {
	s := newTestServer()

	s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-1", "alice", map[string]float64{"bob": 10.00}))
	s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-2", "bob", map[string]float64{"carol": 10.00}))

	rec := s.do(t, http.MethodPost, "/api/settle/preview",
		api.SettleRequest{Participants: []string{"alice", "bob", "carol"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	plan := decodeJSON[api.PlanDTO](t, rec)
	require.Len(t, plan.Settlements, 1)
	assert.Equal(t, "carol", plan.Settlements[0].From)
	assert.Equal(t, "alice", plan.Settlements[0].To)
	assert.InDelta(t, 10.00, plan.Settlements[0].Amount, 0.001)

	rec = s.do(t, http.MethodPost, "/api/settle",
		api.SettleRequest{Participants: []string{"alice", "bob", "carol"}})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[api.SettleResponse](t, rec)
	assert.NotEmpty(t, resp.TransactionID)

	// The persisted group settle is readable like any other transaction.
	rec = s.do(t, http.MethodGet, "/api/transactions/"+resp.TransactionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tx := decodeJSON[api.TransactionDTO](t, rec)
	assert.Equal(t, "group_settle", tx.Kind)
	require.NotNil(t, tx.GroupSettle)

	// But it cannot be edited through CRUD.
	rec = s.do(t, http.MethodPut, "/api/transactions/"+resp.TransactionID,
		purchaseRequest(resp.TransactionID, "alice", map[string]float64{"bob": 1.00}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettle_AlreadySettled_NoTransaction(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodPost, "/api/settle",
		api.SettleRequest{Participants: []string{"alice", "bob"}})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[api.SettleResponse](t, rec)
	assert.Empty(t, resp.TransactionID)
	assert.Empty(t, resp.Plan.Settlements)
}

// =============================================================================
// VERIFICATION AND REBUILD
// =============================================================================

func TestVerifyUser_ReportsCorruption(t *testing.T) {
	s := newTestServer()

	s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-1", "alice", map[string]float64{"bob": 5.00}))
	s.balances.Corrupt("alice", "bob", decimal.NewFromInt(42))

	rec := s.do(t, http.MethodGet, "/api/users/alice/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeJSON[api.VerifyResultDTO](t, rec)
	assert.Equal(t, string(ledger.StatusDiscrepancyFound), result.Status)
	require.Len(t, result.Discrepancies, 1)
	assert.InDelta(t, 37.00, result.Discrepancies[0].Diff, 0.001)
}

func TestRecalculate_RepairsCache(t *testing.T) {
	s := newTestServer()

	s.do(t, http.MethodPost, "/api/transactions",
		purchaseRequest("tx-1", "alice", map[string]float64{"bob": 5.00}))
	s.balances.Corrupt("alice", "bob", decimal.NewFromInt(42))

	rec := s.do(t, http.MethodPost, "/api/admin/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeJSON[api.RebuildReportDTO](t, rec)
	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Failed)

	rec = s.do(t, http.MethodGet, "/api/admin/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verify := decodeJSON[api.VerifyReportDTO](t, rec)
	assert.Equal(t, string(ledger.StatusMatch), verify.Status)
}

// =============================================================================
// TEMPLATES
// =============================================================================

func TestCreateTemplate_Validation(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/templates", api.SaveTemplateRequest{
		Name:         "rent",
		PayerID:      "alice",
		Participants: []string{"alice", "bob"},
		IntervalDays: 0,
		NextRunAt:    "2026-09-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "interval must be positive")

	rec = s.do(t, http.MethodPost, "/api/templates", api.SaveTemplateRequest{
		Name:         "rent",
		PayerID:      "alice",
		Participants: []string{"alice", "bob"},
		IntervalDays: 30,
		NextRunAt:    "next tuesday",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "timestamp must be RFC 3339")
}

func TestCreateAndListTemplates(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/templates", api.SaveTemplateRequest{
		Name:         "rent",
		PayerID:      "alice",
		Participants: []string{"alice", "bob"},
		Splits: []api.SplitDTO{
			{UserID: "alice", Amount: 600},
			{UserID: "bob", Amount: 600},
		},
		Amount:       1200,
		BaseAmount:   1200,
		IntervalDays: 30,
		NextRunAt:    "2026-09-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeJSON[api.TemplateDTO](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active, "templates default to active")

	rec = s.do(t, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	templates := decodeJSON[[]api.TemplateDTO](t, rec)
	require.Len(t, templates, 1)
	assert.Equal(t, 30, templates[0].IntervalDays)
}
