/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's decimal-based domain model from the external contract:
  amounts cross the wire as plain two-decimal numbers and are converted to
  decimal.Decimal at the boundary.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Transactions:
    TransactionDTO, SaveTransactionRequest (+ per-kind payload DTOs)

  Balances:
    BalanceDTO, UserBalancesDTO

  Verification:
    DiscrepancyDTO, VerifyResultDTO, VerifyReportDTO

  Settlement:
    PlanDTO, PlanBalanceDTO, PlanPaymentDTO, SettleRequest

  Templates:
    TemplateDTO, SaveTemplateRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain model these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/splitbook/ledger-engine/ledger"
)

// =============================================================================
// AMOUNT CONVERSION
// =============================================================================

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func toDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// SplitDTO is one user's share of a transaction's base-currency amount.
type SplitDTO struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

// PurchaseDTO mirrors ledger.PurchaseDetails.
type PurchaseDTO struct {
	PayerID string     `json:"payer_id"`
	Method  string     `json:"method"`
	Splits  []SplitDTO `json:"splits"`
}

// BillItemDTO is one line on an itemized bill.
type BillItemDTO struct {
	Name      string   `json:"name"`
	Price     float64  `json:"price"`
	SharerIDs []string `json:"sharer_ids"`
}

// BillDTO mirrors ledger.BillDetails.
type BillDTO struct {
	PayerID       string        `json:"payer_id"`
	Items         []BillItemDTO `json:"items,omitempty"`
	Discount      float64       `json:"discount,omitempty"`
	GST           float64       `json:"gst,omitempty"`
	ServiceCharge float64       `json:"service_charge,omitempty"`
	Splits        []SplitDTO    `json:"splits"`
}

// RecurringDTO mirrors ledger.RecurringDetails.
type RecurringDTO struct {
	PayerID    string     `json:"payer_id"`
	Splits     []SplitDTO `json:"splits"`
	TemplateID string     `json:"template_id,omitempty"`
}

// SettleUpDTO mirrors ledger.SettleUpDetails.
type SettleUpDTO struct {
	PayerID string `json:"payer_id"`
	PayeeID string `json:"payee_id"`
}

// SettleLegDTO mirrors ledger.SettleLeg. Settlement legs carry negative
// amounts on the wire exactly as they are persisted.
type SettleLegDTO struct {
	PayerID  string  `json:"payer_id"`
	PayeeID  string  `json:"payee_id"`
	Amount   float64 `json:"amount"`
	Category string  `json:"category"`
}

// GroupSettleDTO mirrors ledger.GroupSettleDetails.
type GroupSettleDTO struct {
	Legs []SettleLegDTO `json:"legs"`
}

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	Currency     string   `json:"currency,omitempty"`
	ExchangeRate float64  `json:"exchange_rate"`
	Amount       float64  `json:"amount"`
	BaseAmount   float64  `json:"base_amount"`
	Note         string   `json:"note,omitempty"`
	CreatedAt    string   `json:"created_at"`
	Kind         string   `json:"kind"`

	Purchase    *PurchaseDTO    `json:"purchase,omitempty"`
	Bill        *BillDTO        `json:"bill,omitempty"`
	Recurring   *RecurringDTO   `json:"recurring,omitempty"`
	SettleUp    *SettleUpDTO    `json:"settle_up,omitempty"`
	GroupSettle *GroupSettleDTO `json:"group_settle,omitempty"`
}

// SaveTransactionRequest is the request body for creating or updating a
// transaction. ID is optional on create; the server assigns one if empty.
type SaveTransactionRequest struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	Currency     string   `json:"currency,omitempty"`
	ExchangeRate float64  `json:"exchange_rate,omitempty"`
	Amount       float64  `json:"amount"`
	BaseAmount   float64  `json:"base_amount"`
	Note         string   `json:"note,omitempty"`
	Kind         string   `json:"kind"`

	Purchase  *PurchaseDTO  `json:"purchase,omitempty"`
	Bill      *BillDTO      `json:"bill,omitempty"`
	Recurring *RecurringDTO `json:"recurring,omitempty"`
	SettleUp  *SettleUpDTO  `json:"settle_up,omitempty"`
}

// =============================================================================
// BALANCE TYPES
// =============================================================================

// BalanceDTO is one pairwise balance row. Positive amount means the
// counterparty owes the user.
type BalanceDTO struct {
	CounterpartyID string  `json:"counterparty_id"`
	Amount         float64 `json:"amount"`
}

// UserBalancesDTO is the response for GET /api/users/{id}/balances.
type UserBalancesDTO struct {
	UserID   string       `json:"user_id"`
	Balances []BalanceDTO `json:"balances"`
}

// =============================================================================
// VERIFICATION TYPES
// =============================================================================

// DiscrepancyDTO is one cached-vs-truth mismatch.
type DiscrepancyDTO struct {
	CounterpartyID string  `json:"counterparty_id"`
	Cached         float64 `json:"cached"`
	GroundTruth    float64 `json:"ground_truth"`
	Diff           float64 `json:"diff"`
}

// VerifyResultDTO is the verification report for one user.
type VerifyResultDTO struct {
	UserID        string           `json:"user_id"`
	Status        string           `json:"status"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies,omitempty"`
}

// VerifyReportDTO is the response for GET /api/admin/verify.
type VerifyReportDTO struct {
	Status       string            `json:"status"`
	UsersChecked int               `json:"users_checked"`
	Errors       int               `json:"errors"`
	Users        []VerifyResultDTO `json:"users,omitempty"`
}

// RebuildReportDTO is the response for POST /api/admin/recalculate.
type RebuildReportDTO struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// =============================================================================
// SETTLEMENT TYPES
// =============================================================================

// SettleRequest is the request body for settlement preview and create.
type SettleRequest struct {
	Participants []string `json:"participants"`
}

// PlanBalanceDTO is one participant's net position inside the set.
type PlanBalanceDTO struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

// PlanPaymentDTO is one planned payment.
type PlanPaymentDTO struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// PlanDTO is the settlement plan in API responses.
type PlanDTO struct {
	Balances    []PlanBalanceDTO `json:"balances"`
	Settlements []PlanPaymentDTO `json:"settlements"`
	Adjustments []PlanPaymentDTO `json:"adjustments,omitempty"`
}

// SettleResponse is the response for POST /api/settle. TransactionID is
// empty when the group was already settled and nothing was persisted.
type SettleResponse struct {
	Plan          PlanDTO `json:"plan"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// =============================================================================
// TEMPLATE TYPES
// =============================================================================

// TemplateDTO represents a recurring template in API responses.
type TemplateDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	PayerID      string     `json:"payer_id"`
	Participants []string   `json:"participants"`
	Splits       []SplitDTO `json:"splits"`
	Currency     string     `json:"currency,omitempty"`
	ExchangeRate float64    `json:"exchange_rate"`
	Amount       float64    `json:"amount"`
	BaseAmount   float64    `json:"base_amount"`
	IntervalDays int        `json:"interval_days"`
	NextRunAt    string     `json:"next_run_at"`
	Active       bool       `json:"active"`
	CreatedAt    string     `json:"created_at"`
}

// SaveTemplateRequest is the request body for creating a template.
type SaveTemplateRequest struct {
	ID           string     `json:"id,omitempty"`
	Name         string     `json:"name"`
	PayerID      string     `json:"payer_id"`
	Participants []string   `json:"participants"`
	Splits       []SplitDTO `json:"splits"`
	Currency     string     `json:"currency,omitempty"`
	ExchangeRate float64    `json:"exchange_rate,omitempty"`
	Amount       float64    `json:"amount"`
	BaseAmount   float64    `json:"base_amount"`
	IntervalDays int        `json:"interval_days"`
	NextRunAt    string     `json:"next_run_at"` // RFC 3339
	Active       *bool      `json:"active,omitempty"`
}

// ErrorResponse is the JSON body of every error status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN <-> DTO CONVERSIONS
// =============================================================================

func toSplitDTOs(splits []ledger.Split) []SplitDTO {
	out := make([]SplitDTO, len(splits))
	for i, s := range splits {
		out[i] = SplitDTO{UserID: string(s.UserID), Amount: toFloat(s.Amount)}
	}
	return out
}

func fromSplitDTOs(dtos []SplitDTO) []ledger.Split {
	out := make([]ledger.Split, len(dtos))
	for i, d := range dtos {
		out[i] = ledger.Split{UserID: ledger.UserID(d.UserID), Amount: toDecimal(d.Amount)}
	}
	return out
}

func toUserIDStrings(ids []ledger.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func fromUserIDStrings(ids []string) []ledger.UserID {
	out := make([]ledger.UserID, len(ids))
	for i, id := range ids {
		out[i] = ledger.UserID(id)
	}
	return out
}

func toTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:           string(tx.ID),
		Name:         tx.Name,
		Participants: toUserIDStrings(tx.Participants),
		Currency:     tx.Currency,
		ExchangeRate: toFloat(tx.ExchangeRate),
		Amount:       toFloat(tx.Amount),
		BaseAmount:   toFloat(tx.BaseAmount),
		Note:         tx.Note,
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
		Kind:         string(tx.Kind),
	}

	switch tx.Kind {
	case ledger.KindPurchase:
		if p := tx.Purchase; p != nil {
			dto.Purchase = &PurchaseDTO{
				PayerID: string(p.PayerID),
				Method:  string(p.Method),
				Splits:  toSplitDTOs(p.Splits),
			}
		}
	case ledger.KindBill:
		if b := tx.Bill; b != nil {
			items := make([]BillItemDTO, len(b.Items))
			for i, it := range b.Items {
				items[i] = BillItemDTO{
					Name:      it.Name,
					Price:     toFloat(it.Price),
					SharerIDs: toUserIDStrings(it.SharerIDs),
				}
			}
			dto.Bill = &BillDTO{
				PayerID:       string(b.PayerID),
				Items:         items,
				Discount:      toFloat(b.Discount),
				GST:           toFloat(b.GST),
				ServiceCharge: toFloat(b.ServiceCharge),
				Splits:        toSplitDTOs(b.Splits),
			}
		}
	case ledger.KindRecurring:
		if rec := tx.Recurring; rec != nil {
			dto.Recurring = &RecurringDTO{
				PayerID:    string(rec.PayerID),
				Splits:     toSplitDTOs(rec.Splits),
				TemplateID: string(rec.TemplateID),
			}
		}
	case ledger.KindSettleUp:
		if s := tx.SettleUp; s != nil {
			dto.SettleUp = &SettleUpDTO{
				PayerID: string(s.PayerID),
				PayeeID: string(s.PayeeID),
			}
		}
	case ledger.KindGroupSettle:
		if g := tx.GroupSettle; g != nil {
			legs := make([]SettleLegDTO, len(g.Legs))
			for i, leg := range g.Legs {
				legs[i] = SettleLegDTO{
					PayerID:  string(leg.PayerID),
					PayeeID:  string(leg.PayeeID),
					Amount:   toFloat(leg.Amount),
					Category: string(leg.Category),
				}
			}
			dto.GroupSettle = &GroupSettleDTO{Legs: legs}
		}
	}
	return dto
}

// fromTransactionRequest builds the domain transaction from a request body.
// ID and CreatedAt are supplied by the handler (preserved on update,
// generated on create).
func fromTransactionRequest(req SaveTransactionRequest, id ledger.TxID, createdAt time.Time) ledger.Transaction {
	rate := toDecimal(req.ExchangeRate)
	if req.ExchangeRate == 0 {
		rate = decimal.NewFromInt(1)
	}

	tx := ledger.Transaction{
		ID:           id,
		Name:         req.Name,
		Participants: fromUserIDStrings(req.Participants),
		Currency:     req.Currency,
		ExchangeRate: rate,
		Amount:       toDecimal(req.Amount),
		BaseAmount:   toDecimal(req.BaseAmount),
		Note:         req.Note,
		CreatedAt:    createdAt,
		Kind:         ledger.Kind(req.Kind),
	}

	switch tx.Kind {
	case ledger.KindPurchase:
		if p := req.Purchase; p != nil {
			tx.Purchase = &ledger.PurchaseDetails{
				PayerID: ledger.UserID(p.PayerID),
				Method:  ledger.SplitMethod(p.Method),
				Splits:  fromSplitDTOs(p.Splits),
			}
		}
	case ledger.KindBill:
		if b := req.Bill; b != nil {
			items := make([]ledger.BillItem, len(b.Items))
			for i, it := range b.Items {
				items[i] = ledger.BillItem{
					Name:      it.Name,
					Price:     toDecimal(it.Price),
					SharerIDs: fromUserIDStrings(it.SharerIDs),
				}
			}
			tx.Bill = &ledger.BillDetails{
				PayerID:       ledger.UserID(b.PayerID),
				Items:         items,
				Discount:      toDecimal(b.Discount),
				GST:           toDecimal(b.GST),
				ServiceCharge: toDecimal(b.ServiceCharge),
				Splits:        fromSplitDTOs(b.Splits),
			}
		}
	case ledger.KindRecurring:
		if rec := req.Recurring; rec != nil {
			tx.Recurring = &ledger.RecurringDetails{
				PayerID:    ledger.UserID(rec.PayerID),
				Splits:     fromSplitDTOs(rec.Splits),
				TemplateID: ledger.TemplateID(rec.TemplateID),
			}
		}
	case ledger.KindSettleUp:
		if s := req.SettleUp; s != nil {
			tx.SettleUp = &ledger.SettleUpDetails{
				PayerID: ledger.UserID(s.PayerID),
				PayeeID: ledger.UserID(s.PayeeID),
			}
		}
	}
	return tx
}

func toVerifyResultDTO(res ledger.VerifyResult) VerifyResultDTO {
	dto := VerifyResultDTO{
		UserID: string(res.UserID),
		Status: string(res.Status),
	}
	for _, d := range res.Discrepancies {
		dto.Discrepancies = append(dto.Discrepancies, DiscrepancyDTO{
			CounterpartyID: string(d.Counterparty),
			Cached:         toFloat(d.Cached),
			GroundTruth:    toFloat(d.GroundTruth),
			Diff:           toFloat(d.Diff),
		})
	}
	return dto
}

func toPlanPaymentDTOs(payments []ledger.PlanPayment) []PlanPaymentDTO {
	out := make([]PlanPaymentDTO, len(payments))
	for i, p := range payments {
		out[i] = PlanPaymentDTO{From: string(p.From), To: string(p.To), Amount: toFloat(p.Amount)}
	}
	return out
}

func toPlanDTO(plan ledger.Plan) PlanDTO {
	dto := PlanDTO{
		Balances:    make([]PlanBalanceDTO, len(plan.Balances)),
		Settlements: toPlanPaymentDTOs(plan.Settlements),
		Adjustments: toPlanPaymentDTOs(plan.Adjustments),
	}
	for i, b := range plan.Balances {
		dto.Balances[i] = PlanBalanceDTO{UserID: string(b.UserID), Amount: toFloat(b.Amount)}
	}
	return dto
}

func toTemplateDTO(tpl ledger.RecurringTemplate) TemplateDTO {
	return TemplateDTO{
		ID:           string(tpl.ID),
		Name:         tpl.Name,
		PayerID:      string(tpl.PayerID),
		Participants: toUserIDStrings(tpl.Participants),
		Splits:       toSplitDTOs(tpl.Splits),
		Currency:     tpl.Currency,
		ExchangeRate: toFloat(tpl.ExchangeRate),
		Amount:       toFloat(tpl.Amount),
		BaseAmount:   toFloat(tpl.BaseAmount),
		IntervalDays: tpl.IntervalDays,
		NextRunAt:    tpl.NextRunAt.Format(time.RFC3339),
		Active:       tpl.Active,
		CreatedAt:    tpl.CreatedAt.Format(time.RFC3339),
	}
}
