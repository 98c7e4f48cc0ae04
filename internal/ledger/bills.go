package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/xid"
)

func (s *Service) validateBill(req domain.BillRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	if !req.OriginalAmount.IsPositive() {
		return domain.Validation("original_amount must be positive")
	}
	if req.Discount.IsNegative() {
		return domain.Validation("discount must not be negative")
	}
	if req.Type == domain.BillOdhar && !req.Discount.IsZero() {
		return domain.Validation("odhar bills cannot carry a discount")
	}
	if req.Discount.GreaterThanOrEqual(req.OriginalAmount) {
		return domain.Validation("discount must be less than original_amount")
	}
	return nil
}

func billAmount(req domain.BillRequest) decimal.Decimal {
	return req.OriginalAmount.Sub(req.Discount)
}

func (s *Service) CreateBill(ctx context.Context, req domain.BillRequest) (domain.Bill, error) {
	if err := s.validateBill(req); err != nil {
		return domain.Bill{}, err
	}
	var bill domain.Bill
	err := s.mutate(ctx, "CreateBill", func(ctx context.Context, t *txn) error {
		shift, err := t.activeShift(ctx)
		if err != nil {
			return err
		}
		bill = domain.Bill{
			ID:        xid.New("bill"),
			ShiftID:   shift.ID,
			CreatedBy: t.actor.UID,
			CreatedAt: t.now,
		}
		if err := t.linkBill(ctx, &bill, req); err != nil {
			return err
		}
		return t.save(ctx, store.Bills, bill.ID, bill)
	})
	return bill, err
}

// linkBill fills the bill from req and creates the documents it owns: a
// cashflow entry and optional discount for cash bills, a receipt for odhar.
func (t *txn) linkBill(ctx context.Context, b *domain.Bill, req domain.BillRequest) error {
	b.Type = req.Type
	b.OriginalAmount = req.OriginalAmount
	b.Discount = req.Discount
	b.Amount = billAmount(req)
	b.Note = req.Note
	b.UpdatedAt = t.now
	b.AccountID, b.CashflowID, b.DiscountID, b.ReceiptID = "", "", "", ""

	if req.Type == domain.BillOdhar {
		r, err := t.applyReceipt(ctx, req.AccountID, domain.ReceiptOdhar, b.Amount, req.Note, b.ID)
		if err != nil {
			return err
		}
		b.AccountID = req.AccountID
		b.ReceiptID = r.ID
		return nil
	}

	cf, err := t.recordCashflow(ctx, b.Amount, domain.CashIn, domain.CategoryBill, store.Key{Collection: store.Bills, ID: b.ID})
	if err != nil {
		return err
	}
	b.CashflowID = cf.ID
	return t.syncDiscount(ctx, b)
}

// unlinkBill reverses every document the bill owns.
func (t *txn) unlinkBill(ctx context.Context, b *domain.Bill) error {
	if b.ReceiptID != "" {
		r, err := load[domain.Receipt](ctx, t, store.Receipts, b.ReceiptID)
		if err != nil {
			return err
		}
		if err := t.deleteReceipt(ctx, r); err != nil {
			return err
		}
	}
	if b.CashflowID != "" {
		if err := t.deleteCashflow(ctx, b.CashflowID); err != nil {
			return err
		}
	}
	if b.DiscountID != "" {
		if err := t.remove(ctx, store.Discounts, b.DiscountID); err != nil {
			return err
		}
	}
	return nil
}

// syncDiscount keeps the discount document in step with b.Discount. The
// discount follows the bill's shift.
func (t *txn) syncDiscount(ctx context.Context, b *domain.Bill) error {
	if !b.Discount.IsPositive() {
		if b.DiscountID == "" {
			return nil
		}
		id := b.DiscountID
		b.DiscountID = ""
		return t.remove(ctx, store.Discounts, id)
	}
	d := domain.Discount{ID: b.DiscountID, CreatedAt: t.now}
	if d.ID == "" {
		d.ID = xid.New("disc")
	} else if existing, err := load[domain.Discount](ctx, t, store.Discounts, d.ID); err == nil {
		d.CreatedAt = existing.CreatedAt
	}
	d.BillID = b.ID
	d.Amount = b.Discount
	d.ShiftID = b.ShiftID
	d.UpdatedAt = t.now
	b.DiscountID = d.ID
	return t.save(ctx, store.Discounts, d.ID, d)
}

// EditBill rewrites a bill and moves it to the active shift. Cash-to-cash
// and same-account odhar edits adjust the existing links in place; any other
// change replaces them.
func (s *Service) EditBill(ctx context.Context, id string, req domain.BillRequest) (domain.Bill, error) {
	if err := s.validateBill(req); err != nil {
		return domain.Bill{}, err
	}
	var updated domain.Bill
	err := s.mutate(ctx, "EditBill", func(ctx context.Context, t *txn) error {
		old, err := load[domain.Bill](ctx, t, store.Bills, id)
		if err != nil {
			return err
		}
		if err := t.authorizeChange(ctx, "bill", old.CreatedBy, old.ShiftID); err != nil {
			return err
		}
		shift, err := t.activeShift(ctx)
		if err != nil {
			return err
		}
		t.noteShift(old.ShiftID)

		updated = *old
		updated.ShiftID = shift.ID
		amount := billAmount(req)

		switch {
		case old.Type == domain.BillCash && req.Type == domain.BillCash:
			if _, err := t.syncCashflow(ctx, old.CashflowID, amount, domain.CashIn, domain.CategoryBill); err != nil {
				return err
			}
			updated.OriginalAmount = req.OriginalAmount
			updated.Discount = req.Discount
			updated.Amount = amount
			updated.Note = req.Note
			updated.UpdatedAt = t.now
			if err := t.syncDiscount(ctx, &updated); err != nil {
				return err
			}
		case old.Type == domain.BillOdhar && req.Type == domain.BillOdhar && old.AccountID == req.AccountID:
			r, err := load[domain.Receipt](ctx, t, store.Receipts, old.ReceiptID)
			if err != nil {
				return err
			}
			if _, err := t.editReceipt(ctx, r, domain.ReceiptOdhar, amount, req.Note); err != nil {
				return err
			}
			updated.OriginalAmount = req.OriginalAmount
			updated.Discount = req.Discount
			updated.Amount = amount
			updated.Note = req.Note
			updated.UpdatedAt = t.now
		default:
			if err := t.unlinkBill(ctx, old); err != nil {
				return err
			}
			if err := t.linkBill(ctx, &updated, req); err != nil {
				return err
			}
		}
		return t.save(ctx, store.Bills, updated.ID, updated)
	})
	return updated, err
}

func (s *Service) DeleteBill(ctx context.Context, id string) error {
	return s.mutate(ctx, "DeleteBill", func(ctx context.Context, t *txn) error {
		old, err := load[domain.Bill](ctx, t, store.Bills, id)
		if err != nil {
			return err
		}
		if err := t.authorizeChange(ctx, "bill", old.CreatedBy, old.ShiftID); err != nil {
			return err
		}
		t.noteShift(old.ShiftID)
		if err := t.unlinkBill(ctx, old); err != nil {
			return err
		}
		return t.remove(ctx, store.Bills, id)
	})
}

func (s *Service) ListBills(ctx context.Context, shiftID string) ([]domain.Bill, error) {
	var out []domain.Bill
	err := s.read(ctx, "ListBills", func(ctx context.Context) error {
		q := store.Query{}
		if shiftID != "" {
			q = store.Where("shift_id", shiftID)
		}
		var err error
		out, err = store.FindAll[domain.Bill](ctx, s.store, store.Bills, q)
		return err
	})
	return out, err
}
