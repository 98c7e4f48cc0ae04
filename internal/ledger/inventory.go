package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/xid"
)

// Movement is a signed stock change on a tank or a goods product, attributed
// to the document that caused it.
type Movement struct {
	Target   store.Key
	Quantity decimal.Decimal
	Kind     string
	Source   store.Key
}

func (m Movement) effects() []Effect {
	return []Effect{{Target: m.Target, Field: FieldStock, Delta: m.Quantity, Kind: m.Kind, Source: m.Source}}
}

func (t *txn) stockOf(ctx context.Context, target store.Key) (decimal.Decimal, error) {
	if target.Collection == store.Tanks {
		tank, err := t.tank(ctx, target.ID)
		if err != nil {
			return decimal.Zero, err
		}
		return tank.RemainingStock, nil
	}
	p, err := t.product(ctx, target.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return p.RemainingStock, nil
}

// recordMovement applies m and returns the target's stock afterwards, which
// callers snapshot onto the source document.
func (t *txn) recordMovement(ctx context.Context, m Movement) (decimal.Decimal, error) {
	if err := t.apply(ctx, m.effects()); err != nil {
		return decimal.Zero, err
	}
	return t.stockOf(ctx, m.Target)
}

// editMovement reverses old in full before applying next. When next
// targets another tank the two tanks get separate updates.
func (t *txn) editMovement(ctx context.Context, old, next Movement) (decimal.Decimal, error) {
	if err := t.compensate(ctx, old.effects(), next.effects()); err != nil {
		return decimal.Zero, err
	}
	return t.stockOf(ctx, next.Target)
}

func (t *txn) deleteMovement(ctx context.Context, m Movement) error {
	return t.apply(ctx, Invert(m.effects()))
}

// RecordDip stores a physical measurement and re-baselines the tank to it.
func (s *Service) RecordDip(ctx context.Context, tankID string, req domain.DipRequest) (domain.DipChartEntry, error) {
	if req.DipMm.IsNegative() {
		return domain.DipChartEntry{}, domain.Validation("dip_mm must not be negative")
	}

	var entry domain.DipChartEntry
	err := s.mutate(ctx, "RecordDip", func(ctx context.Context, t *txn) error {
		shift, err := t.activeShift(ctx)
		if err != nil {
			return err
		}
		tank, err := t.tank(ctx, tankID)
		if err != nil {
			return err
		}
		if len(tank.Calibration) < 2 {
			return domain.Validation("tank %s has no calibration chart", tank.Name)
		}

		liters := Interpolate(tank.Calibration, req.DipMm)
		book := tank.RemainingStock
		tank.MovementSeq++
		tank.RemainingStock = liters
		t.touch(store.Tanks, tank.ID)

		recordedAt := t.now
		if req.RecordedAt != nil {
			recordedAt = req.RecordedAt.UTC()
		}
		entry = domain.DipChartEntry{
			ID:         xid.New("dip"),
			TankID:     tank.ID,
			DipMm:      req.DipMm,
			DipLiters:  liters,
			BookStock:  book,
			GainLoss:   liters.Sub(book),
			Seq:        tank.MovementSeq,
			ShiftID:    shift.ID,
			CreatedBy:  t.actor.UID,
			RecordedAt: recordedAt,
			CreatedAt:  t.now,
		}
		return t.save(ctx, store.DipCharts, entry.ID, entry)
	})
	return entry, err
}

type invoiceRule struct {
	collection   store.Collection
	sign         int64
	movementKind string
	cashType     string
	category     string
	prefix       string
}

var invoiceRules = map[domain.InvoiceKind]invoiceRule{
	domain.InvoiceSale:           {store.SaleInvoices, -1, domain.MovementSale, domain.CashIn, domain.CategorySale, "si"},
	domain.InvoiceSaleReturn:     {store.SaleReturnInvoices, 1, domain.MovementSaleReturn, domain.CashOut, domain.CategorySaleReturn, "sr"},
	domain.InvoicePurchase:       {store.PurchaseInvoices, 1, domain.MovementPurchase, domain.CashOut, domain.CategoryPurchase, "pi"},
	domain.InvoicePurchaseReturn: {store.PurchaseReturnInvoices, -1, domain.MovementPurchaseReturn, domain.CashIn, domain.CategoryPurchaseReturn, "pr"},
}

func ruleFor(kind domain.InvoiceKind) (invoiceRule, error) {
	rule, ok := invoiceRules[kind]
	if !ok {
		return invoiceRule{}, domain.Validation("unknown invoice kind %q", kind)
	}
	return rule, nil
}

func (r invoiceRule) movement(inv domain.Invoice) Movement {
	target := store.Key{Collection: store.Products, ID: inv.ProductID}
	if inv.TankID != "" {
		target = store.Key{Collection: store.Tanks, ID: inv.TankID}
	}
	return Movement{
		Target:   target,
		Quantity: inv.Quantity.Mul(decimal.NewFromInt(r.sign)),
		Kind:     r.movementKind,
		Source:   store.Key{Collection: r.collection, ID: inv.ID},
	}
}

func (s *Service) validateInvoice(req domain.InvoiceRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	if !req.Quantity.IsPositive() {
		return domain.Validation("quantity must be positive")
	}
	if req.UnitPrice.IsNegative() {
		return domain.Validation("unit_price must not be negative")
	}
	return nil
}

// checkInvoiceTarget makes sure fuel moves through a tank that holds it and
// goods move through the product itself.
func (t *txn) checkInvoiceTarget(ctx context.Context, productID, tankID string) error {
	p, err := t.product(ctx, productID)
	if err != nil {
		return err
	}
	if tankID == "" {
		if p.Kind == domain.ProductKindFuel {
			return domain.Validation("fuel invoices need a tank_id")
		}
		return nil
	}
	tank, err := t.tank(ctx, tankID)
	if err != nil {
		return err
	}
	if tank.ProductID != "" && tank.ProductID != p.ID {
		return domain.Validation("tank %s does not hold %s", tank.Name, p.Name)
	}
	return nil
}

func (s *Service) CreateInvoice(ctx context.Context, kind domain.InvoiceKind, req domain.InvoiceRequest) (domain.Invoice, error) {
	rule, err := ruleFor(kind)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := s.validateInvoice(req); err != nil {
		return domain.Invoice{}, err
	}

	var inv domain.Invoice
	err = s.mutate(ctx, "CreateInvoice", func(ctx context.Context, t *txn) error {
		shift, err := t.activeShift(ctx)
		if err != nil {
			return err
		}
		if err := t.checkInvoiceTarget(ctx, req.ProductID, req.TankID); err != nil {
			return err
		}
		inv = domain.Invoice{
			ID:        xid.New(rule.prefix),
			Kind:      kind,
			ProductID: req.ProductID,
			TankID:    req.TankID,
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
			Amount:    req.Quantity.Mul(req.UnitPrice),
			ShiftID:   shift.ID,
			CreatedBy: t.actor.UID,
			CreatedAt: t.now,
			UpdatedAt: t.now,
		}
		after, err := t.recordMovement(ctx, rule.movement(inv))
		if err != nil {
			return err
		}
		inv.RemainingStockAfter = after

		cf, err := t.recordCashflow(ctx, inv.Amount, rule.cashType, rule.category, store.Key{Collection: rule.collection, ID: inv.ID})
		if err != nil {
			return err
		}
		inv.CashflowID = cf.ID
		return t.save(ctx, rule.collection, inv.ID, inv)
	})
	return inv, err
}

func (s *Service) EditInvoice(ctx context.Context, kind domain.InvoiceKind, id string, req domain.InvoiceRequest) (domain.Invoice, error) {
	rule, err := ruleFor(kind)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := s.validateInvoice(req); err != nil {
		return domain.Invoice{}, err
	}

	var updated domain.Invoice
	err = s.mutate(ctx, "EditInvoice", func(ctx context.Context, t *txn) error {
		old, err := load[domain.Invoice](ctx, t, rule.collection, id)
		if err != nil {
			return err
		}
		if err := t.authorizeChange(ctx, "invoice", old.CreatedBy, old.ShiftID); err != nil {
			return err
		}
		if err := t.checkInvoiceTarget(ctx, req.ProductID, req.TankID); err != nil {
			return err
		}
		t.noteShift(old.ShiftID)

		updated = *old
		updated.ProductID = req.ProductID
		updated.TankID = req.TankID
		updated.Quantity = req.Quantity
		updated.UnitPrice = req.UnitPrice
		updated.Amount = req.Quantity.Mul(req.UnitPrice)
		updated.UpdatedAt = t.now

		after, err := t.editMovement(ctx, rule.movement(*old), rule.movement(updated))
		if err != nil {
			return err
		}
		updated.RemainingStockAfter = after
		if _, err := t.syncCashflow(ctx, old.CashflowID, updated.Amount, rule.cashType, rule.category); err != nil {
			return err
		}
		return t.save(ctx, rule.collection, updated.ID, updated)
	})
	return updated, err
}

func (s *Service) DeleteInvoice(ctx context.Context, kind domain.InvoiceKind, id string) error {
	rule, err := ruleFor(kind)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "DeleteInvoice", func(ctx context.Context, t *txn) error {
		old, err := load[domain.Invoice](ctx, t, rule.collection, id)
		if err != nil {
			return err
		}
		if err := t.authorizeChange(ctx, "invoice", old.CreatedBy, old.ShiftID); err != nil {
			return err
		}
		t.noteShift(old.ShiftID)
		if err := t.deleteMovement(ctx, rule.movement(*old)); err != nil {
			return err
		}
		if err := t.deleteCashflow(ctx, old.CashflowID); err != nil {
			return err
		}
		return t.remove(ctx, rule.collection, id)
	})
}

func (s *Service) ListInvoices(ctx context.Context, kind domain.InvoiceKind, shiftID string) ([]domain.Invoice, error) {
	rule, err := ruleFor(kind)
	if err != nil {
		return nil, err
	}
	var out []domain.Invoice
	err = s.read(ctx, "ListInvoices", func(ctx context.Context) error {
		q := store.Query{}
		if shiftID != "" {
			q = store.Where("shift_id", shiftID)
		}
		out, err = store.FindAll[domain.Invoice](ctx, s.store, rule.collection, q)
		return err
	})
	return out, err
}
