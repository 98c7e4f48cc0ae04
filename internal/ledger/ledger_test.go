package ledger

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pumpledger/internal/clock"
	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/store/memory"
)

var (
	adminActor    = domain.Actor{UID: "admin", Roles: []string{domain.RoleAdmin}}
	operatorActor = domain.Actor{UID: "operator", Roles: []string{domain.RoleOperator}}
	otherOperator = domain.Actor{UID: "operator-2", Roles: []string{domain.RoleOperator}}
)

type station struct {
	svc      *Service
	st       *memory.Store
	product  domain.Product
	tank     domain.Tank
	nozzle   domain.Nozzle
	goods    domain.Product
	shift    domain.Shift
	adminCtx context.Context
	opCtx    context.Context
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireEqual(t *testing.T, what string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s: expected %s, got %s", what, want, got)
	}
}

// newStation builds a tank at 1000 L fed by a single petrol nozzle at
// 5000, a goods product with 10 units and an active shift.
func newStation(t *testing.T, opts ...memory.Option) *station {
	t.Helper()
	st := memory.New(opts...)
	svc := New(st,
		WithClock(clock.NewManual(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC), time.Second)),
		WithLogger(quietLogger()),
	)
	s := &station{
		svc:      svc,
		st:       st,
		adminCtx: WithActor(context.Background(), adminActor),
		opCtx:    WithActor(context.Background(), operatorActor),
	}

	var err error
	s.product, err = svc.CreateProduct(s.adminCtx, domain.ProductCreateRequest{Name: "Petrol", Kind: domain.ProductKindFuel, UnitPrice: d("270")})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	s.goods, err = svc.CreateProduct(s.adminCtx, domain.ProductCreateRequest{Name: "Engine Oil", Kind: domain.ProductKindGoods, UnitPrice: d("1450"), OpeningStock: d("10")})
	if err != nil {
		t.Fatalf("create goods: %v", err)
	}
	s.tank, err = svc.CreateTank(s.adminCtx, domain.TankCreateRequest{
		Name:           "Petrol Tank",
		ProductID:      s.product.ID,
		Capacity:       d("2000"),
		AlertThreshold: d("200"),
		OpeningStock:   d("1000"),
		Calibration: []domain.CalibrationPoint{
			{Mm: d("0"), Liters: d("0")},
			{Mm: d("1000"), Liters: d("2000")},
		},
	})
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}
	s.nozzle, err = svc.CreateNozzle(s.adminCtx, domain.NozzleCreateRequest{Name: "P1", TankID: s.tank.ID, OpeningReading: d("5000")})
	if err != nil {
		t.Fatalf("create nozzle: %v", err)
	}
	s.shift, err = svc.StartShift(s.adminCtx)
	if err != nil {
		t.Fatalf("start shift: %v", err)
	}
	return s
}

func (s *station) tankNow(t *testing.T) domain.Tank {
	t.Helper()
	tank, err := store.Load[domain.Tank](context.Background(), s.st, store.Tanks, s.tank.ID)
	if err != nil {
		t.Fatalf("load tank: %v", err)
	}
	return *tank
}

func (s *station) nozzleNow(t *testing.T) domain.Nozzle {
	t.Helper()
	n, err := store.Load[domain.Nozzle](context.Background(), s.st, store.Nozzles, s.nozzle.ID)
	if err != nil {
		t.Fatalf("load nozzle: %v", err)
	}
	return *n
}

func (s *station) summaryNow(t *testing.T) domain.GlobalSummary {
	t.Helper()
	sum, err := store.Load[domain.GlobalSummary](context.Background(), s.st, store.Summaries, domain.GlobalSummaryID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.GlobalSummary{}
	}
	if err != nil {
		t.Fatalf("load summary: %v", err)
	}
	return *sum
}

func (s *station) count(t *testing.T, c store.Collection) int {
	t.Helper()
	docs, err := s.st.Find(context.Background(), c, store.Query{})
	if err != nil {
		t.Fatalf("find %s: %v", c, err)
	}
	return len(docs)
}

func TestScenarioPurchaseSaleDipAndEdit(t *testing.T) {
	s := newStation(t)

	_, err := s.svc.CreateInvoice(s.opCtx, domain.InvoicePurchase, domain.InvoiceRequest{
		ProductID: s.product.ID, TankID: s.tank.ID, Quantity: d("500"), UnitPrice: d("250"),
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	requireEqual(t, "stock after purchase", s.tankNow(t).RemainingStock, d("1500"))

	reading, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5200")})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	requireEqual(t, "sales volume", reading.SalesVolume, d("200"))
	requireEqual(t, "sales amount", reading.SalesAmount, d("54000"))
	requireEqual(t, "stock after sale", s.tankNow(t).RemainingStock, d("1300"))

	dip, err := s.svc.RecordDip(s.opCtx, s.tank.ID, domain.DipRequest{DipMm: d("640")})
	if err != nil {
		t.Fatalf("dip: %v", err)
	}
	requireEqual(t, "dip liters", dip.DipLiters, d("1280"))
	requireEqual(t, "book stock", dip.BookStock, d("1300"))
	requireEqual(t, "gain/loss", dip.GainLoss, d("-20"))
	requireEqual(t, "stock after dip", s.tankNow(t).RemainingStock, d("1280"))

	if _, err := s.svc.EditReading(s.opCtx, reading.ID, domain.ReadingEditRequest{CurrentReading: d("5250")}); err != nil {
		t.Fatalf("edit reading: %v", err)
	}
	requireEqual(t, "stock after edit", s.tankNow(t).RemainingStock, d("1230"))

	n := s.nozzleNow(t)
	requireEqual(t, "nozzle volume", n.TotalVolume, d("250"))
	requireEqual(t, "nozzle sales", n.TotalSales, d("67500"))
	requireEqual(t, "nozzle last reading", n.LastReading, d("5250"))
}

func TestRecordReadingRejectsRegression(t *testing.T) {
	s := newStation(t)

	_, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("4999")})
	if !errors.Is(err, domain.ErrValidation) || !errors.Is(err, domain.ErrReadingRegression) {
		t.Fatalf("expected reading regression, got %v", err)
	}
	if got := s.count(t, store.Readings); got != 0 {
		t.Fatalf("expected no readings, got %d", got)
	}
}

func TestRecordReadingUsesNozzlePreviousAndPriceOverride(t *testing.T) {
	s := newStation(t)
	if _, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5010")}); err != nil {
		t.Fatalf("first reading: %v", err)
	}
	override := d("300")
	second, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5030"), PriceOverride: &override})
	if err != nil {
		t.Fatalf("second reading: %v", err)
	}
	requireEqual(t, "previous reading", second.PreviousReading, d("5010"))
	requireEqual(t, "effective price", second.EffectivePrice, d("300"))
	requireEqual(t, "amount", second.SalesAmount, d("6000"))
	if second.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", second.Seq)
	}
}

func TestDeleteReadingRestoresAggregates(t *testing.T) {
	s := newStation(t)
	before := s.tankNow(t)

	first, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5100")})
	if err != nil {
		t.Fatalf("first reading: %v", err)
	}
	second, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5150")})
	if err != nil {
		t.Fatalf("second reading: %v", err)
	}

	if err := s.svc.DeleteReading(s.opCtx, second.ID); err != nil {
		t.Fatalf("delete second: %v", err)
	}
	requireEqual(t, "last reading after delete", s.nozzleNow(t).LastReading, d("5100"))

	if err := s.svc.DeleteReading(s.opCtx, first.ID); err != nil {
		t.Fatalf("delete first: %v", err)
	}
	n := s.nozzleNow(t)
	requireEqual(t, "last reading reset", n.LastReading, d("5000"))
	requireEqual(t, "nozzle volume", n.TotalVolume, decimal.Zero)
	requireEqual(t, "nozzle sales", n.TotalSales, decimal.Zero)
	requireEqual(t, "tank stock", s.tankNow(t).RemainingStock, before.RemainingStock)
	requireEqual(t, "total cash", s.summaryNow(t).TotalCash, decimal.Zero)
	if got := s.count(t, store.Cashflow); got != 0 {
		t.Fatalf("expected cashflow entries to be removed, got %d", got)
	}
}

func TestEditReadingRetargetsTank(t *testing.T) {
	s := newStation(t)
	spare, err := s.svc.CreateTank(s.adminCtx, domain.TankCreateRequest{
		Name: "Petrol Tank 2", ProductID: s.product.ID, Capacity: d("2000"), OpeningStock: d("800"),
	})
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}

	reading, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5100")})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if _, err := s.svc.EditReading(s.opCtx, reading.ID, domain.ReadingEditRequest{TankID: spare.ID, CurrentReading: d("5120")}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	requireEqual(t, "original tank", s.tankNow(t).RemainingStock, d("1000"))
	moved, err := store.Load[domain.Tank](context.Background(), s.st, store.Tanks, spare.ID)
	if err != nil {
		t.Fatalf("load spare: %v", err)
	}
	requireEqual(t, "spare tank", moved.RemainingStock, d("680"))
}

func TestReadingRejectsTankOfAnotherFuel(t *testing.T) {
	s := newStation(t)
	diesel, err := s.svc.CreateProduct(s.adminCtx, domain.ProductCreateRequest{Name: "Diesel", Kind: domain.ProductKindFuel, UnitPrice: d("285")})
	if err != nil {
		t.Fatalf("create diesel: %v", err)
	}
	dieselTank, err := s.svc.CreateTank(s.adminCtx, domain.TankCreateRequest{
		Name: "Diesel Tank", ProductID: diesel.ID, Capacity: d("2000"), OpeningStock: d("900"),
	})
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}

	_, err = s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, TankID: dieselTank.ID, CurrentReading: d("5100")})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for foreign tank, got %v", err)
	}

	reading, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5100")})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	_, err = s.svc.EditReading(s.opCtx, reading.ID, domain.ReadingEditRequest{TankID: dieselTank.ID, CurrentReading: d("5100")})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error when retargeting to a foreign tank, got %v", err)
	}

	requireEqual(t, "petrol tank", s.tankNow(t).RemainingStock, d("900"))
	other, err := store.Load[domain.Tank](context.Background(), s.st, store.Tanks, dieselTank.ID)
	if err != nil {
		t.Fatalf("load diesel tank: %v", err)
	}
	requireEqual(t, "diesel tank", other.RemainingStock, d("900"))
}

// consumedPurchase leaves 100 L in the tank after a 500 L purchase and a
// 1400 L sale.
func consumedPurchase(t *testing.T, s *station) domain.Invoice {
	t.Helper()
	purchase, err := s.svc.CreateInvoice(s.opCtx, domain.InvoicePurchase, domain.InvoiceRequest{
		ProductID: s.product.ID, TankID: s.tank.ID, Quantity: d("500"), UnitPrice: d("250"),
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := s.svc.CreateInvoice(s.opCtx, domain.InvoiceSale, domain.InvoiceRequest{
		ProductID: s.product.ID, TankID: s.tank.ID, Quantity: d("1400"), UnitPrice: d("270"),
	}); err != nil {
		t.Fatalf("sale: %v", err)
	}
	requireEqual(t, "stock before correction", s.tankNow(t).RemainingStock, d("100"))
	return purchase
}

func TestEditConsumedPurchaseChecksFinalStock(t *testing.T) {
	s := newStation(t)
	purchase := consumedPurchase(t, s)

	edited, err := s.svc.EditInvoice(s.opCtx, domain.InvoicePurchase, purchase.ID, domain.InvoiceRequest{
		ProductID: s.product.ID, TankID: s.tank.ID, Quantity: d("450"), UnitPrice: d("250"),
	})
	if err != nil {
		t.Fatalf("edit purchase: %v", err)
	}
	requireEqual(t, "snapshot", edited.RemainingStockAfter, d("50"))
	requireEqual(t, "stock", s.tankNow(t).RemainingStock, d("50"))
	if got := s.count(t, store.StockMovements); got != 4 {
		t.Fatalf("expected reversal and new movement in the log, got %d movements", got)
	}

	_, err = s.svc.EditInvoice(s.opCtx, domain.InvoicePurchase, purchase.ID, domain.InvoiceRequest{
		ProductID: s.product.ID, TankID: s.tank.ID, Quantity: d("300"), UnitPrice: d("250"),
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	requireEqual(t, "stock after rejected edit", s.tankNow(t).RemainingStock, d("50"))
	if got := s.count(t, store.StockMovements); got != 4 {
		t.Fatalf("expected rejected edit to leave the log alone, got %d movements", got)
	}
}

func TestEditSaleReturnDownOnGoods(t *testing.T) {
	s := newStation(t)
	ret, err := s.svc.CreateInvoice(s.opCtx, domain.InvoiceSaleReturn, domain.InvoiceRequest{ProductID: s.goods.ID, Quantity: d("5"), UnitPrice: d("1450")})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if _, err := s.svc.CreateInvoice(s.opCtx, domain.InvoiceSale, domain.InvoiceRequest{ProductID: s.goods.ID, Quantity: d("14"), UnitPrice: d("1450")}); err != nil {
		t.Fatalf("sale: %v", err)
	}

	edited, err := s.svc.EditInvoice(s.opCtx, domain.InvoiceSaleReturn, ret.ID, domain.InvoiceRequest{ProductID: s.goods.ID, Quantity: d("4"), UnitPrice: d("1450")})
	if err != nil {
		t.Fatalf("edit return: %v", err)
	}
	requireEqual(t, "stock", edited.RemainingStockAfter, d("0"))
}

func TestDeleteConsumedPurchaseRejected(t *testing.T) {
	s := newStation(t)
	purchase := consumedPurchase(t, s)

	err := s.svc.DeleteInvoice(s.opCtx, domain.InvoicePurchase, purchase.ID)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	requireEqual(t, "stock", s.tankNow(t).RemainingStock, d("100"))
	if got := s.count(t, store.PurchaseInvoices); got != 1 {
		t.Fatalf("expected purchase to survive, got %d", got)
	}
}

func TestSaleRejectsInsufficientStockWithoutSideEffects(t *testing.T) {
	s := newStation(t)

	_, err := s.svc.CreateInvoice(s.opCtx, domain.InvoiceSale, domain.InvoiceRequest{
		ProductID: s.product.ID, TankID: s.tank.ID, Quantity: d("1000.5"), UnitPrice: d("270"),
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	requireEqual(t, "stock", s.tankNow(t).RemainingStock, d("1000"))
	if s.count(t, store.SaleInvoices) != 0 || s.count(t, store.Cashflow) != 0 || s.count(t, store.StockMovements) != 0 {
		t.Fatalf("expected no writes after rejected sale")
	}
}

func TestInvoiceLifecycleOnGoodsProduct(t *testing.T) {
	s := newStation(t)

	sale, err := s.svc.CreateInvoice(s.opCtx, domain.InvoiceSale, domain.InvoiceRequest{ProductID: s.goods.ID, Quantity: d("3"), UnitPrice: d("1450")})
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	requireEqual(t, "snapshot", sale.RemainingStockAfter, d("7"))

	edited, err := s.svc.EditInvoice(s.opCtx, domain.InvoiceSale, sale.ID, domain.InvoiceRequest{ProductID: s.goods.ID, Quantity: d("5"), UnitPrice: d("1400")})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	requireEqual(t, "snapshot after edit", edited.RemainingStockAfter, d("5"))
	requireEqual(t, "total cash after edit", s.summaryNow(t).TotalCash, d("7000"))

	ret, err := s.svc.CreateInvoice(s.opCtx, domain.InvoiceSaleReturn, domain.InvoiceRequest{ProductID: s.goods.ID, Quantity: d("1"), UnitPrice: d("1400")})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	requireEqual(t, "stock after return", ret.RemainingStockAfter, d("6"))
	requireEqual(t, "total cash after return", s.summaryNow(t).TotalCash, d("5600"))

	if err := s.svc.DeleteInvoice(s.opCtx, domain.InvoiceSale, sale.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	p, err := store.Load[domain.Product](context.Background(), s.st, store.Products, s.goods.ID)
	if err != nil {
		t.Fatalf("load product: %v", err)
	}
	requireEqual(t, "stock after delete", p.RemainingStock, d("11"))
	requireEqual(t, "total cash after delete", s.summaryNow(t).TotalCash, d("-1400"))
}

func TestFuelInvoiceRequiresTank(t *testing.T) {
	s := newStation(t)
	_, err := s.svc.CreateInvoice(s.opCtx, domain.InvoicePurchase, domain.InvoiceRequest{ProductID: s.product.ID, Quantity: d("10"), UnitPrice: d("250")})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMutationsRequireActiveShift(t *testing.T) {
	st := memory.New()
	svc := New(st, WithLogger(quietLogger()))
	ctx := WithActor(context.Background(), adminActor)

	_, err := svc.ApplyReceipt(ctx, "acct-missing", domain.ReceiptRequest{Type: domain.ReceiptWasooli, Amount: d("10")})
	if !errors.Is(err, domain.ErrConsistency) || !errors.Is(err, domain.ErrNoActiveShift) {
		t.Fatalf("expected no-active-shift consistency error, got %v", err)
	}
}

func TestMutationsRequireActor(t *testing.T) {
	s := newStation(t)
	_, err := s.svc.RecordReading(context.Background(), domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5001")})
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}
