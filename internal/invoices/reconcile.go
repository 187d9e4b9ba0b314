package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/saldo-erp/saldo/internal/ledger"
)

// Remove deletes inv inside tx. When the invoice still holds a charge against
// its owner's balance, an invoice_delete_refund restores it first.
func Remove(ctx context.Context, tx TxRepository, inv Invoice, actorID int64, now time.Time) (*ledger.Transaction, error) {
	refund, err := refundCharge(ctx, tx, inv, ledger.KindInvoiceDeleteRefund, actorID, now,
		fmt.Sprintf("invoice %s deleted", inv.Number))
	if err != nil {
		return nil, err
	}
	if err := tx.Delete(ctx, inv.ID); err != nil {
		return nil, err
	}
	return refund, nil
}

// Reassign rewrites inv's link to target inside tx.
func Reassign(ctx context.Context, tx TxRepository, inv Invoice, target Link, now time.Time) (Invoice, error) {
	relinked, err := Relink(inv, target)
	if err != nil {
		return inv, err
	}
	if err := tx.UpdateLink(ctx, inv.ID, relinked.Link(), now); err != nil {
		return inv, err
	}
	relinked.UpdatedAt = now
	return relinked, nil
}

func refundCharge(ctx context.Context, tx TxRepository, inv Invoice, kind ledger.Kind, actorID int64, now time.Time, notes string) (*ledger.Transaction, error) {
	charge, err := ledger.NetInvoiceCharge(ctx, tx.Ledger(), inv.ID)
	if err != nil {
		return nil, err
	}
	if !charge.IsPositive() {
		return nil, nil
	}
	posted, err := ledger.Post(ctx, tx.Ledger(), ledger.AppendInput{
		UserID:      inv.UserID,
		Amount:      charge,
		Kind:        kind,
		ReferenceID: ledger.Ref(inv.ID),
		Notes:       notes,
		ActorID:     actorID,
	}, now)
	if err != nil {
		return nil, err
	}
	return &posted, nil
}
