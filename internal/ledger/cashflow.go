package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/xid"
)

var summaryKey = store.Key{Collection: store.Summaries, ID: domain.GlobalSummaryID}

func summaryField(category string) Field {
	switch category {
	case domain.CategoryWasooli:
		return FieldTotalWasooli
	case domain.CategoryOdhar:
		return FieldTotalOdhar
	default:
		return FieldTotalCash
	}
}

func cashflowEffects(e domain.CashflowEntry) []Effect {
	return []Effect{{Target: summaryKey, Field: summaryField(e.Category), Delta: e.Signed()}}
}

// recordCashflow writes the audit entry for a cash-affecting document and
// moves the matching global counter. It only runs inside another mutation.
func (t *txn) recordCashflow(ctx context.Context, amount decimal.Decimal, cashType, category string, source store.Key) (domain.CashflowEntry, error) {
	shift, err := t.activeShift(ctx)
	if err != nil {
		return domain.CashflowEntry{}, err
	}
	entry := domain.CashflowEntry{
		ID:                  xid.New("cf"),
		Amount:              amount,
		Type:                cashType,
		Category:            category,
		ReferenceCollection: string(source.Collection),
		ReferenceID:         source.ID,
		ShiftID:             shift.ID,
		CreatedAt:           t.now,
		UpdatedAt:           t.now,
	}
	if err := t.apply(ctx, cashflowEffects(entry)); err != nil {
		return domain.CashflowEntry{}, err
	}
	return entry, t.save(ctx, store.Cashflow, entry.ID, entry)
}

// syncCashflow rewrites an existing entry after its source changed. The
// entry keeps its id and shift; the summary moves by the difference.
func (t *txn) syncCashflow(ctx context.Context, id string, amount decimal.Decimal, cashType, category string) (domain.CashflowEntry, error) {
	old, err := load[domain.CashflowEntry](ctx, t, store.Cashflow, id)
	if err != nil {
		return domain.CashflowEntry{}, err
	}
	updated := *old
	updated.Amount = amount
	updated.Type = cashType
	updated.Category = category
	updated.UpdatedAt = t.now
	if err := t.compensate(ctx, cashflowEffects(*old), cashflowEffects(updated)); err != nil {
		return domain.CashflowEntry{}, err
	}
	t.noteShift(updated.ShiftID)
	return updated, t.save(ctx, store.Cashflow, updated.ID, updated)
}

func (t *txn) deleteCashflow(ctx context.Context, id string) error {
	old, err := load[domain.CashflowEntry](ctx, t, store.Cashflow, id)
	if err != nil {
		return err
	}
	if err := t.apply(ctx, Invert(cashflowEffects(*old))); err != nil {
		return err
	}
	t.noteShift(old.ShiftID)
	return t.remove(ctx, store.Cashflow, id)
}
