// Package report builds read-only projections over the ledger collections:
// shift summaries, stock reconciliation, gain/loss trends, export-ready shift
// reports and the replay audit. Nothing here writes to the store.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pumpledger/internal/cache"
	"pumpledger/internal/clock"
	"pumpledger/internal/domain"
	"pumpledger/internal/store"
)

type Reporter struct {
	reader   store.Reader
	cache    cache.ReportCache
	cacheTTL time.Duration
	epsilon  decimal.Decimal
	clock    clock.Clock
	logger   logrus.FieldLogger
	tracer   trace.Tracer
}

type Option func(*Reporter)

func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Reporter) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithEpsilon sets the tolerance above which a tank's physical and
// theoretical stock are flagged as a variance.
func WithEpsilon(eps decimal.Decimal) Option {
	return func(r *Reporter) { r.epsilon = eps.Abs() }
}

func WithClock(c clock.Clock) Option {
	return func(r *Reporter) { r.clock = c }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Reporter) { r.logger = l }
}

func New(reader store.Reader, reportCache cache.ReportCache, opts ...Option) *Reporter {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	r := &Reporter{
		reader:   reader,
		cache:    reportCache,
		cacheTTL: 10 * time.Minute,
		epsilon:  decimal.RequireFromString("0.5"),
		clock:    clock.System{},
		logger:   logrus.StandardLogger(),
		tracer:   otel.Tracer("pumpledger/report"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) span(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "report."+op)
	defer span.End()
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		err = domain.NotFound("%v", err)
	} else if domain.KindOf(err) == nil {
		err = domain.External(err, "report read failed")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (r *Reporter) loadShift(ctx context.Context, id string) (domain.Shift, error) {
	shift, err := store.Load[domain.Shift](ctx, r.reader, store.Shifts, id)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("shift %s: %w", id, err)
	}
	return *shift, nil
}

func byShift[T any](ctx context.Context, r *Reporter, c store.Collection, shiftID string) ([]T, error) {
	return store.FindAll[T](ctx, r.reader, c, store.Where("shift_id", shiftID))
}

// ShiftSummary totals one shift's receipts, bills, discounts, fuel sales and
// cash movement.
func (r *Reporter) ShiftSummary(ctx context.Context, shiftID string) (domain.ShiftSummary, error) {
	var out domain.ShiftSummary
	err := r.span(ctx, "ShiftSummary", func(ctx context.Context) error {
		var err error
		out, err = r.shiftSummary(ctx, shiftID)
		return err
	})
	return out, err
}

func (r *Reporter) shiftSummary(ctx context.Context, shiftID string) (domain.ShiftSummary, error) {
	shift, err := r.loadShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftSummary{}, err
	}
	sum := domain.ShiftSummary{
		ShiftID:   shift.ID,
		Status:    shift.Status,
		StartTime: shift.StartTime,
		EndTime:   shift.EndTime,
	}

	receipts, err := byShift[domain.Receipt](ctx, r, store.Receipts, shiftID)
	if err != nil {
		return sum, err
	}
	for _, rc := range receipts {
		if rc.Type == domain.ReceiptOdhar {
			sum.Odhar = sum.Odhar.Add(rc.Amount)
		} else {
			sum.Wasooli = sum.Wasooli.Add(rc.Amount)
		}
	}
	sum.ReceiptCount = len(receipts)

	discounts, err := byShift[domain.Discount](ctx, r, store.Discounts, shiftID)
	if err != nil {
		return sum, err
	}
	for _, disc := range discounts {
		sum.Discounts = sum.Discounts.Add(disc.Amount)
	}

	bills, err := byShift[domain.Bill](ctx, r, store.Bills, shiftID)
	if err != nil {
		return sum, err
	}
	sum.BillCount = len(bills)
	for _, b := range bills {
		if b.Type == domain.BillOdhar {
			sum.OdharBills = sum.OdharBills.Add(b.Amount)
		} else {
			sum.CashBills = sum.CashBills.Add(b.Amount)
		}
	}

	readings, err := byShift[domain.MeterReading](ctx, r, store.Readings, shiftID)
	if err != nil {
		return sum, err
	}
	sum.ReadingCount = len(readings)
	perTank := make(map[string]*domain.TankSales)
	for _, rd := range readings {
		sum.FuelVolume = sum.FuelVolume.Add(rd.SalesVolume)
		sum.FuelAmount = sum.FuelAmount.Add(rd.SalesAmount)
		ts, ok := perTank[rd.TankID]
		if !ok {
			ts = &domain.TankSales{TankID: rd.TankID}
			perTank[rd.TankID] = ts
		}
		ts.Volume = ts.Volume.Add(rd.SalesVolume)
		ts.Amount = ts.Amount.Add(rd.SalesAmount)
		ts.Readings++
	}
	sum.SalesByTank = make([]domain.TankSales, 0, len(perTank))
	for _, ts := range perTank {
		// A tank that was removed or is not visible yet keeps an empty name.
		if tank, err := store.Load[domain.Tank](ctx, r.reader, store.Tanks, ts.TankID); err == nil {
			ts.TankName = tank.Name
		} else if !errors.Is(err, store.ErrNotFound) {
			return sum, err
		}
		sum.SalesByTank = append(sum.SalesByTank, *ts)
	}
	sort.Slice(sum.SalesByTank, func(i, j int) bool { return sum.SalesByTank[i].TankID < sum.SalesByTank[j].TankID })

	entries, err := byShift[domain.CashflowEntry](ctx, r, store.Cashflow, shiftID)
	if err != nil {
		return sum, err
	}
	sum.CashflowCount = len(entries)
	for _, e := range entries {
		if e.Type == domain.CashOut {
			sum.CashOut = sum.CashOut.Add(e.Amount)
		} else {
			sum.CashIn = sum.CashIn.Add(e.Amount)
		}
	}
	sum.NetCash = sum.CashIn.Sub(sum.CashOut)
	return sum, nil
}

// ShiftReport assembles the export structure for a shift. Reports of ended
// shifts are cached; the active shift is always rebuilt.
func (r *Reporter) ShiftReport(ctx context.Context, shiftID string) (domain.ReportData, error) {
	var out domain.ReportData
	err := r.span(ctx, "ShiftReport", func(ctx context.Context) error {
		shift, err := r.loadShift(ctx, shiftID)
		if err != nil {
			return err
		}
		key := cache.ShiftReportKey(shiftID)
		ended := shift.Status == domain.ShiftStatusEnded
		if ended {
			if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
				out = *cached
				return nil
			} else if err != nil {
				r.logger.WithError(err).WithField("shift_id", shiftID).Warn("report: cache read failed")
			}
		}

		out, err = r.buildShiftReport(ctx, shiftID)
		if err != nil {
			return err
		}
		if ended {
			if err := r.cache.Set(ctx, key, &out, r.cacheTTL); err != nil {
				r.logger.WithError(err).WithField("shift_id", shiftID).Warn("report: cache write failed")
			}
		}
		return nil
	})
	return out, err
}

func (r *Reporter) buildShiftReport(ctx context.Context, shiftID string) (domain.ReportData, error) {
	summary, err := r.shiftSummary(ctx, shiftID)
	if err != nil {
		return domain.ReportData{}, err
	}
	entries, err := byShift[domain.CashflowEntry](ctx, r, store.Cashflow, shiftID)
	if err != nil {
		return domain.ReportData{}, err
	}
	dips, err := byShift[domain.DipChartEntry](ctx, r, store.DipCharts, shiftID)
	if err != nil {
		return domain.ReportData{}, err
	}

	data := domain.ReportData{
		ShiftID:     shiftID,
		Categories:  CategoryTotals(entries),
		Adjustments: make([]domain.Adjustment, 0, len(dips)),
		Summary:     summary,
		GeneratedAt: r.clock.Now(),
	}
	for _, c := range data.Categories {
		data.GrandTotal = data.GrandTotal.Add(c.Subtotal)
	}
	sortDips(dips)
	for _, dip := range dips {
		data.Adjustments = append(data.Adjustments, domain.Adjustment{
			TankID:     dip.TankID,
			DipID:      dip.ID,
			Liters:     dip.GainLoss,
			RecordedAt: dip.RecordedAt,
		})
	}
	return data, nil
}

// CategoryTotals groups cashflow entries by category with signed subtotals,
// sorted by category name.
func CategoryTotals(entries []domain.CashflowEntry) []domain.CategoryTotal {
	byCategory := make(map[string]*domain.CategoryTotal)
	for _, e := range entries {
		ct, ok := byCategory[e.Category]
		if !ok {
			ct = &domain.CategoryTotal{Category: e.Category}
			byCategory[e.Category] = ct
		}
		ct.Entries++
		ct.Subtotal = ct.Subtotal.Add(e.Signed())
	}
	out := make([]domain.CategoryTotal, 0, len(byCategory))
	for _, ct := range byCategory {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func sortDips(dips []domain.DipChartEntry) {
	sort.SliceStable(dips, func(i, j int) bool {
		a, b := dips[i], dips[j]
		if !a.RecordedAt.Equal(b.RecordedAt) {
			return a.RecordedAt.Before(b.RecordedAt)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
}
