// Package ledger owns user balances. Every balance change is an immutable
// transaction row appended through Post; the stored balance is the running sum
// of those rows.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/shared"
)

// Kind enumerates ledger transaction kinds.
type Kind string

const (
	KindAdjustment          Kind = "adjustment"
	KindInvoiceDeduction    Kind = "invoice_deduction"
	KindInvoiceRefund       Kind = "invoice_refund"
	KindAdvanceCredit       Kind = "advance_credit"
	KindInvoiceDeleteRefund Kind = "invoice_delete_refund"
)

// InvoiceKinds are the kinds whose reference id points at an invoice.
var InvoiceKinds = []Kind{KindInvoiceDeduction, KindInvoiceRefund, KindInvoiceDeleteRefund}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAdjustment, KindInvoiceDeduction, KindInvoiceRefund, KindAdvanceCredit, KindInvoiceDeleteRefund:
		return true
	}
	return false
}

// Transaction is a single immutable balance change.
type Transaction struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Kind          Kind            `json:"kind"`
	ReferenceID   *int64          `json:"reference_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AppendInput describes a requested balance change.
type AppendInput struct {
	UserID      int64
	Amount      decimal.Decimal
	Kind        Kind
	ReferenceID *int64
	Notes       string
	ActorID     int64
}

// Validate checks the input before any write.
func (in AppendInput) Validate() error {
	switch {
	case in.UserID <= 0:
		return fmt.Errorf("%w: user id required", shared.ErrValidation)
	case in.Amount.IsZero():
		return fmt.Errorf("%w: amount must be non-zero", shared.ErrValidation)
	case !in.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, in.Kind)
	case in.ActorID <= 0:
		return fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	return shared.CheckMoney("amount", in.Amount)
}

// Ref returns a pointer to id for ReferenceID fields.
func Ref(id int64) *int64 {
	return &id
}

// HistoryFilter narrows a user's history listing.
type HistoryFilter struct {
	UserID int64
	From   *time.Time
	To     *time.Time
	Page   shared.PageRequest
}

// HistoryPage is a page of history, newest first.
type HistoryPage struct {
	Transactions []Transaction     `json:"transactions"`
	Pagination   shared.Pagination `json:"pagination"`
}

// Stats aggregates current balances across all users.
type Stats struct {
	TotalUsers      int             `json:"total_users"`
	TotalBalance    decimal.Decimal `json:"total_balance"`
	PositiveBalance decimal.Decimal `json:"positive_balance"`
	NegativeBalance decimal.Decimal `json:"negative_balance"`
	UsersInDebit    int             `json:"users_in_debit"`
}

// DecisionCounts tallies a user's budget requests by status.
type DecisionCounts struct {
	Approved int
	Rejected int
	Pending  int
}

// TrustLevel buckets a trust score.
type TrustLevel string

const (
	TrustHigh   TrustLevel = "high"
	TrustMedium TrustLevel = "medium"
	TrustLow    TrustLevel = "low"
)

// TrustScore is a reputation derived from budget request outcomes.
type TrustScore struct {
	UserID   int64      `json:"user_id"`
	Score    int        `json:"score"`
	Level    TrustLevel `json:"level"`
	Approved int        `json:"approved"`
	Rejected int        `json:"rejected"`
	Pending  int        `json:"pending"`
}

const neutralTrustScore = 50

// ScoreTrust computes the trust score for the given counts. A user without
// any requests scores neutral.
func ScoreTrust(userID int64, c DecisionCounts) TrustScore {
	total := c.Approved + c.Rejected + c.Pending
	score := neutralTrustScore
	if total > 0 {
		score = c.Approved * 100 / total
	}
	level := TrustLow
	switch {
	case score >= 80:
		level = TrustHigh
	case score >= 50:
		level = TrustMedium
	}
	return TrustScore{UserID: userID, Score: score, Level: level, Approved: c.Approved, Rejected: c.Rejected, Pending: c.Pending}
}

// Discrepancy describes a broken ledger invariant for a user.
type Discrepancy struct {
	UserID        int64  `json:"user_id"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	Problem       string `json:"problem"`
}

func (d Discrepancy) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "user %d", d.UserID)
	if d.TransactionID != 0 {
		fmt.Fprintf(&b, " tx %d", d.TransactionID)
	}
	b.WriteString(": ")
	b.WriteString(d.Problem)
	return b.String()
}

// Audit checks the sum and chain invariants of a user's transactions, given in
// creation order, against the stored balance.
func Audit(userID int64, stored decimal.Decimal, txs []Transaction) []Discrepancy {
	var out []Discrepancy
	sum := decimal.Zero
	for i, tx := range txs {
		if !tx.BalanceBefore.Add(tx.Amount).Equal(tx.BalanceAfter) {
			out = append(out, Discrepancy{UserID: userID, TransactionID: tx.ID,
				Problem: fmt.Sprintf("balance_after %s != balance_before %s + amount %s", tx.BalanceAfter, tx.BalanceBefore, tx.Amount)})
		}
		if i == 0 && !tx.BalanceBefore.IsZero() {
			out = append(out, Discrepancy{UserID: userID, TransactionID: tx.ID,
				Problem: fmt.Sprintf("first balance_before %s != 0", tx.BalanceBefore)})
		}
		if i > 0 && !txs[i-1].BalanceAfter.Equal(tx.BalanceBefore) {
			out = append(out, Discrepancy{UserID: userID, TransactionID: tx.ID,
				Problem: fmt.Sprintf("balance_before %s != previous balance_after %s", tx.BalanceBefore, txs[i-1].BalanceAfter)})
		}
		sum = sum.Add(tx.Amount)
	}
	if !sum.Equal(stored) {
		out = append(out, Discrepancy{UserID: userID,
			Problem: fmt.Sprintf("stored balance %s != transaction sum %s", stored, sum)})
	}
	return out
}
