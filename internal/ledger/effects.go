package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/xid"
)

type Field string

const (
	FieldStock        Field = "remaining_stock"
	FieldNozzleSales  Field = "total_sales"
	FieldNozzleVolume Field = "total_volume"
	FieldBalance      Field = "current_balance"
	FieldTotalCash    Field = "total_cash"
	FieldTotalOdhar   Field = "total_odhar"
	FieldTotalWasooli Field = "total_wasooli"
)

// Effect is one signed change to a cached aggregate field. Every ledger
// document can describe its full impact as a list of effects, which makes
// edit = apply(Invert(old)) + apply(new) and delete = apply(Invert(old)).
type Effect struct {
	Target store.Key
	Field  Field
	Delta  decimal.Decimal
	// Kind and Source label stock effects in the movement log.
	Kind   string
	Source store.Key
}

// Invert returns the compensating effects in reverse order.
func Invert(effects []Effect) []Effect {
	out := make([]Effect, 0, len(effects))
	for i := len(effects) - 1; i >= 0; i-- {
		e := effects[i]
		e.Delta = e.Delta.Neg()
		if e.Field == FieldStock {
			e.Kind = domain.MovementReversal
		}
		out = append(out, e)
	}
	return out
}

func (t *txn) apply(ctx context.Context, effects []Effect) error {
	for _, e := range effects {
		if e.Delta.IsZero() {
			continue
		}
		if err := t.applyOne(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// compensate reverses old and then applies next. The two lists may target
// different documents. Stock only has to be non-negative once both lists
// are applied, so a correction may pass through a negative intermediate.
func (t *txn) compensate(ctx context.Context, old, next []Effect) error {
	var stocked []store.Key
	seen := make(map[store.Key]bool)
	for _, e := range append(Invert(old), next...) {
		if e.Delta.IsZero() {
			continue
		}
		if e.Field != FieldStock {
			if err := t.applyOne(ctx, e); err != nil {
				return err
			}
			continue
		}
		if err := t.moveStock(ctx, e, false); err != nil {
			return err
		}
		if !seen[e.Target] {
			seen[e.Target] = true
			stocked = append(stocked, e.Target)
		}
	}
	for _, key := range stocked {
		c, err := t.stockCell(ctx, key)
		if err != nil {
			return err
		}
		if c.stock.IsNegative() {
			return domain.ValidationCause(domain.ErrInsufficientStock, "%s would hold %s after the correction", c.name, c.stock.String())
		}
	}
	return nil
}

func (t *txn) applyOne(ctx context.Context, e Effect) error {
	switch e.Field {
	case FieldStock:
		return t.moveStock(ctx, e, true)
	case FieldNozzleSales, FieldNozzleVolume:
		n, err := t.nozzle(ctx, e.Target.ID)
		if err != nil {
			return err
		}
		if e.Field == FieldNozzleSales {
			n.TotalSales = n.TotalSales.Add(e.Delta)
		} else {
			n.TotalVolume = n.TotalVolume.Add(e.Delta)
		}
		t.touch(store.Nozzles, n.ID)
	case FieldBalance:
		a, err := t.account(ctx, e.Target.ID)
		if err != nil {
			return err
		}
		a.CurrentBalance = a.CurrentBalance.Add(e.Delta)
		t.touch(store.Accounts, a.ID)
	case FieldTotalCash, FieldTotalOdhar, FieldTotalWasooli:
		sum, err := t.summary(ctx)
		if err != nil {
			return err
		}
		switch e.Field {
		case FieldTotalCash:
			sum.TotalCash = sum.TotalCash.Add(e.Delta)
		case FieldTotalOdhar:
			sum.TotalOdhar = sum.TotalOdhar.Add(e.Delta)
		default:
			sum.TotalWasooli = sum.TotalWasooli.Add(e.Delta)
		}
		sum.UpdatedAt = t.now
		t.touch(store.Summaries, sum.ID)
	default:
		return fmt.Errorf("unknown effect field %q", e.Field)
	}
	return nil
}

type stockSlot struct {
	stock *decimal.Decimal
	seq   *int64
	name  string
}

func (t *txn) stockCell(ctx context.Context, target store.Key) (stockSlot, error) {
	switch target.Collection {
	case store.Tanks:
		tank, err := t.tank(ctx, target.ID)
		if err != nil {
			return stockSlot{}, err
		}
		return stockSlot{&tank.RemainingStock, &tank.MovementSeq, tank.Name}, nil
	case store.Products:
		p, err := t.product(ctx, target.ID)
		if err != nil {
			return stockSlot{}, err
		}
		if p.Kind == domain.ProductKindFuel {
			return stockSlot{}, domain.Validation("fuel product %s keeps its stock in tanks", p.Name)
		}
		return stockSlot{&p.RemainingStock, &p.MovementSeq, p.Name}, nil
	default:
		return stockSlot{}, fmt.Errorf("stock effect on %s", target)
	}
}

// moveStock applies a stock effect and appends it to the movement log under
// the active shift. With check set, a removal that would leave the target
// negative is refused.
func (t *txn) moveStock(ctx context.Context, e Effect, check bool) error {
	shift, err := t.activeShift(ctx)
	if err != nil {
		return err
	}
	c, err := t.stockCell(ctx, e.Target)
	if err != nil {
		return err
	}

	next := c.stock.Add(e.Delta)
	if check && e.Delta.IsNegative() && next.IsNegative() {
		return domain.ValidationCause(domain.ErrInsufficientStock, "%s holds %s, cannot remove %s", c.name, c.stock.String(), e.Delta.Neg().String())
	}
	*c.stock = next
	*c.seq++
	t.touch(e.Target.Collection, e.Target.ID)

	m := domain.StockMovement{
		ID:               xid.New("mov"),
		TargetCollection: string(e.Target.Collection),
		TargetID:         e.Target.ID,
		Seq:              *c.seq,
		Kind:             e.Kind,
		Quantity:         e.Delta,
		StockAfter:       next,
		SourceCollection: string(e.Source.Collection),
		SourceID:         e.Source.ID,
		ShiftID:          shift.ID,
		CreatedAt:        t.now,
	}
	return t.save(ctx, store.StockMovements, m.ID, m)
}
