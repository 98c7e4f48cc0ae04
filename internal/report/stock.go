package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
)

func (r *Reporter) movementsFor(ctx context.Context, c store.Collection, id string) ([]domain.StockMovement, error) {
	return store.FindAll[domain.StockMovement](ctx, r.reader, store.StockMovements,
		store.Where("target_collection", string(c)).And("target_id", id).Order("seq", false))
}

func (r *Reporter) dipsFor(ctx context.Context, tankID string) ([]domain.DipChartEntry, error) {
	dips, err := store.FindAll[domain.DipChartEntry](ctx, r.reader, store.DipCharts, store.Where("tank_id", tankID))
	if err != nil {
		return nil, err
	}
	sortDips(dips)
	return dips, nil
}

// StockPositions reconciles every tank. Theoretical stock replays all
// movements from the opening stock and ignores dips; physical stock is the
// cached, dip-baselined figure.
func (r *Reporter) StockPositions(ctx context.Context) ([]domain.StockPosition, error) {
	var out []domain.StockPosition
	err := r.span(ctx, "StockPositions", func(ctx context.Context) error {
		tanks, err := store.FindAll[domain.Tank](ctx, r.reader, store.Tanks, store.Query{})
		if err != nil {
			return err
		}
		out = make([]domain.StockPosition, 0, len(tanks))
		for _, tank := range tanks {
			movements, err := r.movementsFor(ctx, store.Tanks, tank.ID)
			if err != nil {
				return err
			}
			dips, err := r.dipsFor(ctx, tank.ID)
			if err != nil {
				return err
			}
			out = append(out, r.position(tank, movements, dips))
		}
		return nil
	})
	return out, err
}

func (r *Reporter) position(tank domain.Tank, movements []domain.StockMovement, dips []domain.DipChartEntry) domain.StockPosition {
	theoretical := tank.OpeningStock
	for _, m := range movements {
		theoretical = theoretical.Add(m.Quantity)
	}
	cumulative := decimal.Zero
	for _, dip := range dips {
		cumulative = cumulative.Add(dip.GainLoss)
	}
	physical := tank.RemainingStock
	variance := physical.Sub(theoretical)
	return domain.StockPosition{
		TankID:            tank.ID,
		TankName:          tank.Name,
		OpeningStock:      tank.OpeningStock,
		TheoreticalStock:  theoretical,
		PhysicalStock:     physical,
		CumulativeGain:    cumulative,
		Variance:          variance,
		VarianceFlag:      variance.Abs().GreaterThan(r.epsilon),
		LowStock:          physical.LessThanOrEqual(tank.AlertThreshold),
		OverCapacity:      tank.Capacity.IsPositive() && physical.GreaterThan(tank.Capacity),
		MovementsReplayed: len(movements),
	}
}

// GainLossTrend lists a tank's dips by recorded time with a running total of
// dipLiters - bookStock.
func (r *Reporter) GainLossTrend(ctx context.Context, tankID string) ([]domain.GainLossPoint, error) {
	var out []domain.GainLossPoint
	err := r.span(ctx, "GainLossTrend", func(ctx context.Context) error {
		if _, err := store.Load[domain.Tank](ctx, r.reader, store.Tanks, tankID); err != nil {
			return fmt.Errorf("tank %s: %w", tankID, err)
		}
		dips, err := r.dipsFor(ctx, tankID)
		if err != nil {
			return err
		}
		out = make([]domain.GainLossPoint, 0, len(dips))
		cumulative := decimal.Zero
		for _, dip := range dips {
			cumulative = cumulative.Add(dip.GainLoss)
			out = append(out, domain.GainLossPoint{
				DipID:      dip.ID,
				RecordedAt: dip.RecordedAt,
				DipLiters:  dip.DipLiters,
				BookStock:  dip.BookStock,
				GainLoss:   dip.GainLoss,
				Cumulative: cumulative,
			})
		}
		return nil
	})
	return out, err
}

// ReplayStock rebuilds a tank's stock from the log: the most recent dip (or
// the opening stock) plus every movement recorded after it.
func ReplayStock(opening decimal.Decimal, dips []domain.DipChartEntry, movements []domain.StockMovement) decimal.Decimal {
	base := opening
	var after int64
	for _, dip := range dips {
		if dip.Seq >= after {
			after = dip.Seq
			base = dip.DipLiters
		}
	}
	sorted := append([]domain.StockMovement(nil), movements...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	for _, m := range sorted {
		if m.Seq > after {
			base = base.Add(m.Quantity)
		}
	}
	return base
}
