package report

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pumpledger/internal/cache"
	"pumpledger/internal/changefeed"
	"pumpledger/internal/clock"
	"pumpledger/internal/domain"
	"pumpledger/internal/ledger"
	"pumpledger/internal/store"
	"pumpledger/internal/store/memory"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]domain.ReportData
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]domain.ReportData)}
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.ReportData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.ReportData, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = *value
	c.sets++
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type fixture struct {
	st      *memory.Store
	svc     *ledger.Service
	rep     *Reporter
	cache   *mapCache
	feed    *changefeed.Local
	ctx     context.Context
	shift   domain.Shift
	tank    domain.Tank
	nozzle  domain.Nozzle
	account domain.Account
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

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clk := clock.NewManual(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC), time.Second)

	f := &fixture{
		st:    memory.New(),
		cache: newMapCache(),
		feed:  changefeed.NewLocal(64),
		ctx:   ledger.WithActor(context.Background(), domain.Actor{UID: "admin", Roles: []string{domain.RoleAdmin}}),
	}
	f.svc = ledger.New(f.st, ledger.WithClock(clk), ledger.WithLogger(logger), ledger.WithFeed(f.feed))
	f.rep = New(f.st, f.cache, WithClock(clk), WithLogger(logger), WithEpsilon(d("0.5")))

	product, err := f.svc.CreateProduct(f.ctx, domain.ProductCreateRequest{Name: "Diesel", Kind: domain.ProductKindFuel, UnitPrice: d("285")})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	f.tank, err = f.svc.CreateTank(f.ctx, domain.TankCreateRequest{
		Name: "Diesel Tank", ProductID: product.ID, Capacity: d("5000"), AlertThreshold: d("500"), OpeningStock: d("2000"),
		Calibration: []domain.CalibrationPoint{{Mm: d("0"), Liters: d("0")}, {Mm: d("1000"), Liters: d("5000")}},
	})
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}
	f.nozzle, err = f.svc.CreateNozzle(f.ctx, domain.NozzleCreateRequest{Name: "D1", TankID: f.tank.ID, OpeningReading: d("100")})
	if err != nil {
		t.Fatalf("create nozzle: %v", err)
	}
	f.account, err = f.svc.CreateAccount(f.ctx, domain.AccountCreateRequest{Name: "Fleet", CreditLimit: d("100000")})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	f.shift, err = f.svc.StartShift(f.ctx)
	if err != nil {
		t.Fatalf("start shift: %v", err)
	}
	return f
}

// populate books one shift of activity: 300 L dispensed, a 1000 L
// delivery, an odhar and a wasooli, a discounted cash bill and a dip that
// finds 10 L missing.
func (f *fixture) populate(t *testing.T) {
	t.Helper()
	if _, err := f.svc.RecordReading(f.ctx, domain.ReadingRequest{NozzleID: f.nozzle.ID, CurrentReading: d("400")}); err != nil {
		t.Fatalf("reading: %v", err)
	}
	if _, err := f.svc.CreateInvoice(f.ctx, domain.InvoicePurchase, domain.InvoiceRequest{ProductID: f.tank.ProductID, TankID: f.tank.ID, Quantity: d("1000"), UnitPrice: d("260")}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := f.svc.ApplyReceipt(f.ctx, f.account.ID, domain.ReceiptRequest{Type: domain.ReceiptOdhar, Amount: d("5000")}); err != nil {
		t.Fatalf("odhar: %v", err)
	}
	if _, err := f.svc.ApplyReceipt(f.ctx, f.account.ID, domain.ReceiptRequest{Type: domain.ReceiptWasooli, Amount: d("2000")}); err != nil {
		t.Fatalf("wasooli: %v", err)
	}
	if _, err := f.svc.CreateBill(f.ctx, domain.BillRequest{Type: domain.BillCash, OriginalAmount: d("1000"), Discount: d("100")}); err != nil {
		t.Fatalf("bill: %v", err)
	}
	// Book stock is 2700; 538 mm reads 2690 L.
	if _, err := f.svc.RecordDip(f.ctx, f.tank.ID, domain.DipRequest{DipMm: d("538")}); err != nil {
		t.Fatalf("dip: %v", err)
	}
}

func TestShiftSummary(t *testing.T) {
	f := newFixture(t)
	f.populate(t)

	sum, err := f.rep.ShiftSummary(context.Background(), f.shift.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	requireEqual(t, "wasooli", sum.Wasooli, d("2000"))
	requireEqual(t, "odhar", sum.Odhar, d("5000"))
	requireEqual(t, "discounts", sum.Discounts, d("100"))
	requireEqual(t, "cash bills", sum.CashBills, d("900"))
	requireEqual(t, "fuel volume", sum.FuelVolume, d("300"))
	requireEqual(t, "fuel amount", sum.FuelAmount, d("85500"))
	if sum.BillCount != 1 || sum.ReceiptCount != 2 || sum.ReadingCount != 1 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if len(sum.SalesByTank) != 1 || sum.SalesByTank[0].TankName != "Diesel Tank" {
		t.Fatalf("unexpected sales by tank: %+v", sum.SalesByTank)
	}
	// in: 85500 + 2000 + 900; out: 260000 + 5000
	requireEqual(t, "cash in", sum.CashIn, d("88400"))
	requireEqual(t, "cash out", sum.CashOut, d("265000"))
	requireEqual(t, "net", sum.NetCash, d("-176600"))
}

func TestShiftSummaryToleratesMissingTank(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.RecordReading(f.ctx, domain.ReadingRequest{NozzleID: f.nozzle.ID, CurrentReading: d("110")}); err != nil {
		t.Fatalf("reading: %v", err)
	}
	if err := f.st.Batch(context.Background(), []store.Write{{Collection: store.Tanks, ID: f.tank.ID}}); err != nil {
		t.Fatalf("remove tank: %v", err)
	}
	sum, err := f.rep.ShiftSummary(context.Background(), f.shift.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(sum.SalesByTank) != 1 || sum.SalesByTank[0].TankName != "" {
		t.Fatalf("expected one unnamed tank row, got %+v", sum.SalesByTank)
	}
}

func TestShiftReportCategoriesAndAdjustments(t *testing.T) {
	f := newFixture(t)
	f.populate(t)

	data, err := f.rep.ShiftReport(context.Background(), f.shift.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	want := []struct {
		category string
		subtotal string
	}{
		{domain.CategoryBill, "900"},
		{domain.CategoryOdhar, "-5000"},
		{domain.CategoryPurchase, "-260000"},
		{domain.CategorySales, "85500"},
		{domain.CategoryWasooli, "2000"},
	}
	if len(data.Categories) != len(want) {
		t.Fatalf("expected %d categories, got %+v", len(want), data.Categories)
	}
	for i, w := range want {
		if data.Categories[i].Category != w.category {
			t.Fatalf("category %d: expected %s, got %s", i, w.category, data.Categories[i].Category)
		}
		requireEqual(t, w.category, data.Categories[i].Subtotal, d(w.subtotal))
	}
	requireEqual(t, "grand total", data.GrandTotal, d("-176600"))
	if len(data.Adjustments) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(data.Adjustments))
	}
	requireEqual(t, "adjustment", data.Adjustments[0].Liters, d("-10"))
	if f.cache.sets != 0 {
		t.Fatalf("active shift report must not be cached")
	}
}

func TestEndedShiftReportIsCachedAndInvalidated(t *testing.T) {
	f := newFixture(t)
	f.populate(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.rep.RunInvalidation(ctx, f.feed) }()
	time.Sleep(20 * time.Millisecond)

	// A stale entry proves the end-of-shift event has been consumed before
	// the fresh report is cached.
	key := cache.ShiftReportKey(f.shift.ID)
	if err := f.cache.Set(context.Background(), key, &domain.ReportData{ShiftID: "stale"}, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if _, _, err := f.svc.EndShift(f.ctx, f.shift.ID); err != nil {
		t.Fatalf("end shift: %v", err)
	}
	waitFor(t, func() bool { return !f.cache.has(key) })
	f.cache.sets = 0

	first, err := f.rep.ShiftReport(context.Background(), f.shift.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !f.cache.has(key) {
		t.Fatalf("expected ended shift report to be cached")
	}
	second, err := f.rep.ShiftReport(context.Background(), f.shift.ID)
	if err != nil {
		t.Fatalf("cached report: %v", err)
	}
	if !second.GeneratedAt.Equal(first.GeneratedAt) {
		t.Fatalf("expected the cached report to be served")
	}

	bills, err := f.svc.ListBills(context.Background(), f.shift.ID)
	if err != nil || len(bills) != 1 {
		t.Fatalf("list bills: %v (%d)", err, len(bills))
	}
	if err := f.svc.DeleteBill(f.ctx, bills[0].ID); err != nil {
		t.Fatalf("late delete: %v", err)
	}
	waitFor(t, func() bool { return !f.cache.has(key) })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("invalidation: %v", err)
	}
}

func TestWatchRebuildsOnShiftChanges(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan domain.ReportData, 8)
	go func() {
		_ = f.rep.Watch(ctx, f.feed, f.shift.ID, func(data domain.ReportData) { updates <- data })
	}()

	initial := <-updates
	if !initial.GrandTotal.IsZero() {
		t.Fatalf("expected empty initial report, got %s", initial.GrandTotal)
	}
	if _, err := f.svc.ApplyReceipt(f.ctx, f.account.ID, domain.ReceiptRequest{Type: domain.ReceiptWasooli, Amount: d("750")}); err != nil {
		t.Fatalf("wasooli: %v", err)
	}
	select {
	case next := <-updates:
		requireEqual(t, "grand total", next.GrandTotal, d("750"))
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for rebuilt report")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
