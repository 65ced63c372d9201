package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitbook/ledger-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func purchaseTx(id string, payer string, splits ...ledger.Split) *ledger.Transaction {
	var participants []ledger.UserID
	seen := map[ledger.UserID]bool{ledger.UserID(payer): true}
	participants = append(participants, ledger.UserID(payer))
	total := decimal.Zero
	for _, s := range splits {
		if !seen[s.UserID] {
			seen[s.UserID] = true
			participants = append(participants, s.UserID)
		}
		total = total.Add(s.Amount)
	}
	return &ledger.Transaction{
		ID:           ledger.TxID(id),
		Name:         "test purchase",
		Participants: participants,
		ExchangeRate: decimal.NewFromInt(1),
		Amount:       total,
		BaseAmount:   total,
		Kind:         ledger.KindPurchase,
		Purchase: &ledger.PurchaseDetails{
			PayerID: ledger.UserID(payer),
			Method:  ledger.SplitManual,
			Splits:  splits,
		},
	}
}

func settleUpTx(id string, payer, payee string, amount decimal.Decimal) *ledger.Transaction {
	return &ledger.Transaction{
		ID:           ledger.TxID(id),
		Name:         "test settle up",
		Participants: []ledger.UserID{ledger.UserID(payer), ledger.UserID(payee)},
		ExchangeRate: decimal.NewFromInt(1),
		Amount:       amount,
		BaseAmount:   amount,
		Kind:         ledger.KindSettleUp,
		SettleUp: &ledger.SettleUpDetails{
			PayerID: ledger.UserID(payer),
			PayeeID: ledger.UserID(payee),
		},
	}
}

func split(user string, amount string) ledger.Split {
	return ledger.Split{UserID: ledger.UserID(user), Amount: dec(amount)}
}

// =============================================================================
// TOTALITY
// =============================================================================

func TestExtractTransfers_NilTransaction_NoTransfers(t *testing.T) {
	assert.Empty(t, ledger.ExtractTransfers(nil))
}

func TestExtractTransfers_UnknownKind_NoTransfers(t *testing.T) {
	tx := &ledger.Transaction{ID: "tx-1", Kind: ledger.Kind("exotic_future_kind")}
	assert.Empty(t, ledger.ExtractTransfers(tx))
}

func TestExtractTransfers_MissingPayload_NoTransfers(t *testing.T) {
	// Kind says purchase but the payload pointer is nil
	for _, kind := range []ledger.Kind{
		ledger.KindPurchase, ledger.KindBill, ledger.KindRecurring,
		ledger.KindSettleUp, ledger.KindGroupSettle,
	} {
		tx := &ledger.Transaction{ID: "tx-1", Kind: kind, BaseAmount: dec("10.00")}
		assert.Empty(t, ledger.ExtractTransfers(tx), "kind %s", kind)
	}
}

// =============================================================================
// PURCHASE / BILL / RECURRING SPLITS
// =============================================================================

func TestExtractTransfers_Purchase_SkipsPayerOwnSplit(t *testing.T) {
	// GIVEN: A pays 10.00, split evenly with B
	// WHEN: Extracting transfers
	// THEN: Only the B share becomes a transfer; A's own share is not an event

	tx := purchaseTx("tx-1", "alice", split("alice", "5.00"), split("bob", "5.00"))

	transfers := ledger.ExtractTransfers(tx)
	require.Len(t, transfers, 1)
	assert.Equal(t, ledger.UserID("alice"), transfers[0].From)
	assert.Equal(t, ledger.UserID("bob"), transfers[0].To)
	assert.True(t, transfers[0].Amount.Equal(dec("5.00")))
}

func TestExtractTransfers_Purchase_ZeroSplitDropped(t *testing.T) {
	tx := purchaseTx("tx-1", "alice", split("bob", "0"), split("carol", "3.50"))

	transfers := ledger.ExtractTransfers(tx)
	require.Len(t, transfers, 1)
	assert.Equal(t, ledger.UserID("carol"), transfers[0].To)
}

func TestExtractTransfers_Bill_UsesFinalSplits(t *testing.T) {
	// The itemized breakdown is audit data; only the final splits move money.
	tx := &ledger.Transaction{
		ID:           "tx-1",
		Participants: []ledger.UserID{"alice", "bob"},
		BaseAmount:   dec("23.54"),
		Kind:         ledger.KindBill,
		Bill: &ledger.BillDetails{
			PayerID: "alice",
			Items: []ledger.BillItem{
				{Name: "noodles", Price: dec("12.00"), SharerIDs: []ledger.UserID{"alice", "bob"}},
				{Name: "tea", Price: dec("8.00"), SharerIDs: []ledger.UserID{"bob"}},
			},
			GST:    dec("1.80"),
			Splits: []ledger.Split{split("alice", "7.06"), split("bob", "16.48")},
		},
	}

	transfers := ledger.ExtractTransfers(tx)
	require.Len(t, transfers, 1)
	assert.Equal(t, ledger.UserID("bob"), transfers[0].To)
	assert.True(t, transfers[0].Amount.Equal(dec("16.48")))
}

func TestExtractTransfers_Recurring_SameShapeAsPurchase(t *testing.T) {
	tx := &ledger.Transaction{
		ID:           "tx-1",
		Participants: []ledger.UserID{"alice", "bob"},
		BaseAmount:   dec("30.00"),
		Kind:         ledger.KindRecurring,
		Recurring: &ledger.RecurringDetails{
			PayerID:    "alice",
			Splits:     []ledger.Split{split("alice", "15.00"), split("bob", "15.00")},
			TemplateID: "tpl-1",
		},
	}

	transfers := ledger.ExtractTransfers(tx)
	require.Len(t, transfers, 1)
	assert.Equal(t, ledger.Transfer{From: "alice", To: "bob", Amount: dec("15.00")}, transfers[0])
}

// =============================================================================
// SETTLE UP
// =============================================================================

func TestExtractTransfers_SettleUp_WholeAmountPayerToPayee(t *testing.T) {
	tx := settleUpTx("tx-1", "bob", "alice", dec("7.00"))

	transfers := ledger.ExtractTransfers(tx)
	require.Len(t, transfers, 1)
	assert.Equal(t, ledger.UserID("bob"), transfers[0].From)
	assert.Equal(t, ledger.UserID("alice"), transfers[0].To)
	assert.True(t, transfers[0].Amount.Equal(dec("7.00")))
}

func TestExtractTransfers_SettleUp_SelfPayment_NoTransfers(t *testing.T) {
	// Paying yourself must never touch any balance.
	tx := settleUpTx("tx-1", "alice", "alice", dec("7.00"))
	assert.Empty(t, ledger.ExtractTransfers(tx))
}

func TestExtractTransfers_SettleUp_NonPositiveAmount_NoTransfers(t *testing.T) {
	assert.Empty(t, ledger.ExtractTransfers(settleUpTx("tx-1", "bob", "alice", dec("0"))))
	assert.Empty(t, ledger.ExtractTransfers(settleUpTx("tx-2", "bob", "alice", dec("-5.00"))))
}

// =============================================================================
// GROUP SETTLE
// =============================================================================

func TestExtractTransfers_GroupSettle_NegativeLegFlipsDirection(t *testing.T) {
	// GIVEN: one positive adjustment leg and one negative settlement leg
	// WHEN: Extracting transfers
	// THEN: the negative leg comes out reversed with a positive amount

	tx := &ledger.Transaction{
		ID:           "tx-1",
		Participants: []ledger.UserID{"alice", "bob"},
		Kind:         ledger.KindGroupSettle,
		GroupSettle: &ledger.GroupSettleDetails{
			Legs: []ledger.SettleLeg{
				{PayerID: "bob", PayeeID: "alice", Amount: dec("5.00"), Category: ledger.LegAdjustment},
				{PayerID: "bob", PayeeID: "alice", Amount: dec("-5.00"), Category: ledger.LegSettlement},
			},
		},
	}

	transfers := ledger.ExtractTransfers(tx)
	require.Len(t, transfers, 2)
	assert.Equal(t, ledger.Transfer{From: "bob", To: "alice", Amount: dec("5.00")}, transfers[0])
	assert.Equal(t, ledger.Transfer{From: "alice", To: "bob", Amount: dec("5.00")}, transfers[1])
}

func TestExtractTransfers_GroupSettle_MalformedLegsSkipped(t *testing.T) {
	tx := &ledger.Transaction{
		ID:   "tx-1",
		Kind: ledger.KindGroupSettle,
		GroupSettle: &ledger.GroupSettleDetails{
			Legs: []ledger.SettleLeg{
				{PayerID: "", PayeeID: "alice", Amount: dec("5.00")},
				{PayerID: "bob", PayeeID: "bob", Amount: dec("5.00")},
				{PayerID: "bob", PayeeID: "alice", Amount: dec("0")},
				{PayerID: "bob", PayeeID: "alice", Amount: dec("2.50")},
			},
		},
	}

	transfers := ledger.ExtractTransfers(tx)
	require.Len(t, transfers, 1)
	assert.Equal(t, ledger.Transfer{From: "bob", To: "alice", Amount: dec("2.50")}, transfers[0])
}
