package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
)

// txn is the state of one transaction attempt. Aggregates (tanks, products,
// nozzles, accounts, the global summary) are loaded once, mutated in place
// and written back by flush.
type txn struct {
	s           *Service
	tx          store.Tx
	actor       domain.Actor
	now         time.Time
	shift       *domain.Shift
	aggregates  map[store.Key]any
	dirty       []store.Key
	dirtySet    map[store.Key]bool
	shifts      map[string]bool
	collections map[store.Collection]bool
}

func newTxn(s *Service, tx store.Tx, actor domain.Actor, now time.Time) *txn {
	return &txn{
		s:           s,
		tx:          tx,
		actor:       actor,
		now:         now,
		aggregates:  make(map[store.Key]any),
		dirtySet:    make(map[store.Key]bool),
		shifts:      make(map[string]bool),
		collections: make(map[store.Collection]bool),
	}
}

func aggregate[T any](ctx context.Context, t *txn, c store.Collection, id string) (*T, error) {
	key := store.Key{Collection: c, ID: id}
	if v, ok := t.aggregates[key]; ok {
		return v.(*T), nil
	}
	v, err := load[T](ctx, t, c, id)
	if err != nil {
		return nil, err
	}
	t.aggregates[key] = v
	return v, nil
}

// load reads a plain document inside the transaction.
func load[T any](ctx context.Context, t *txn, c store.Collection, id string) (*T, error) {
	if id == "" {
		return nil, domain.Validation("%s reference is required", singular(c))
	}
	v, err := store.Load[T](ctx, t.tx, c, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("%s %s", singular(c), id)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (t *txn) tank(ctx context.Context, id string) (*domain.Tank, error) {
	return aggregate[domain.Tank](ctx, t, store.Tanks, id)
}

func (t *txn) product(ctx context.Context, id string) (*domain.Product, error) {
	return aggregate[domain.Product](ctx, t, store.Products, id)
}

func (t *txn) nozzle(ctx context.Context, id string) (*domain.Nozzle, error) {
	return aggregate[domain.Nozzle](ctx, t, store.Nozzles, id)
}

func (t *txn) account(ctx context.Context, id string) (*domain.Account, error) {
	return aggregate[domain.Account](ctx, t, store.Accounts, id)
}

func (t *txn) summary(ctx context.Context) (*domain.GlobalSummary, error) {
	sum, err := aggregate[domain.GlobalSummary](ctx, t, store.Summaries, domain.GlobalSummaryID)
	if errors.Is(err, domain.ErrNotFound) {
		sum = &domain.GlobalSummary{ID: domain.GlobalSummaryID}
		t.aggregates[store.Key{Collection: store.Summaries, ID: domain.GlobalSummaryID}] = sum
		return sum, nil
	}
	return sum, err
}

// touch marks an aggregate for write-back.
func (t *txn) touch(c store.Collection, id string) {
	key := store.Key{Collection: c, ID: id}
	if t.dirtySet[key] {
		return
	}
	t.dirtySet[key] = true
	t.dirty = append(t.dirty, key)
}

func (t *txn) save(ctx context.Context, c store.Collection, id string, value any) error {
	t.collections[c] = true
	return t.tx.Put(ctx, c, id, value)
}

func (t *txn) remove(ctx context.Context, c store.Collection, id string) error {
	t.collections[c] = true
	return t.tx.Delete(ctx, c, id)
}

func (t *txn) flush(ctx context.Context) error {
	for _, key := range t.dirty {
		if err := t.save(ctx, key.Collection, key.ID, t.aggregates[key]); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) noteShift(id string) {
	if id != "" {
		t.shifts[id] = true
	}
}

func (t *txn) shiftList() []string {
	out := make([]string, 0, len(t.shifts))
	for id := range t.shifts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// activeShift resolves the single active shift. The lookup is part of the
// transaction's read set, so a concurrent rotation forces a retry.
func (t *txn) activeShift(ctx context.Context) (*domain.Shift, error) {
	if t.shift != nil {
		return t.shift, nil
	}
	shifts, err := store.FindAll[domain.Shift](ctx, t.tx, store.Shifts, store.Where("status", domain.ShiftStatusActive))
	if err != nil {
		return nil, err
	}
	switch len(shifts) {
	case 0:
		return nil, domain.Consistency(domain.ErrNoActiveShift, "start a shift before recording transactions")
	case 1:
		t.shift = &shifts[0]
		t.noteShift(t.shift.ID)
		return t.shift, nil
	default:
		return nil, domain.Consistency(nil, "%d shifts are marked active", len(shifts))
	}
}

// authorizeChange allows admins to change anything. Other actors may only
// change records they created while the record's shift is still active.
func (t *txn) authorizeChange(ctx context.Context, what, createdBy, shiftID string) error {
	if t.actor.HasRole(domain.RoleAdmin) {
		return nil
	}
	if createdBy != t.actor.UID {
		return domain.Unauthorized("only the creator or an admin may change this %s", what)
	}
	active, err := t.activeShift(ctx)
	if err != nil {
		return err
	}
	if shiftID != active.ID {
		return domain.Unauthorized("%s belongs to an ended shift; admin role required", what)
	}
	return nil
}

func singular(c store.Collection) string {
	switch c {
	case store.Shifts:
		return "shift"
	case store.Tanks:
		return "tank"
	case store.Products:
		return "product"
	case store.Nozzles:
		return "nozzle"
	case store.Readings:
		return "reading"
	case store.Accounts:
		return "account"
	case store.Receipts:
		return "receipt"
	case store.Bills:
		return "bill"
	case store.Discounts:
		return "discount"
	case store.Cashflow:
		return "cashflow entry"
	case store.SaleInvoices, store.SaleReturnInvoices, store.PurchaseInvoices, store.PurchaseReturnInvoices:
		return "invoice"
	default:
		return string(c)
	}
}
