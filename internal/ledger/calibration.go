package ledger

import (
	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
)

// Interpolate converts a dip depth to liters by piecewise-linear
// interpolation over a chart sorted by mm. Depths outside the chart clamp to
// its first or last volume.
func Interpolate(chart []domain.CalibrationPoint, mm decimal.Decimal) decimal.Decimal {
	if len(chart) == 0 {
		return decimal.Zero
	}
	first, last := chart[0], chart[len(chart)-1]
	if mm.LessThanOrEqual(first.Mm) {
		return first.Liters
	}
	if mm.GreaterThanOrEqual(last.Mm) {
		return last.Liters
	}
	for i := 1; i < len(chart); i++ {
		hi := chart[i]
		if mm.GreaterThan(hi.Mm) {
			continue
		}
		lo := chart[i-1]
		span := hi.Mm.Sub(lo.Mm)
		fraction := mm.Sub(lo.Mm).Div(span)
		return lo.Liters.Add(hi.Liters.Sub(lo.Liters).Mul(fraction)).Round(3)
	}
	return last.Liters
}

func validateCalibration(chart []domain.CalibrationPoint) error {
	if len(chart) == 0 {
		return nil
	}
	if len(chart) < 2 {
		return domain.Validation("calibration chart needs at least two points")
	}
	for i, p := range chart {
		if p.Mm.IsNegative() || p.Liters.IsNegative() {
			return domain.Validation("calibration point %d is negative", i)
		}
		if i == 0 {
			continue
		}
		prev := chart[i-1]
		if !p.Mm.GreaterThan(prev.Mm) {
			return domain.Validation("calibration mm must be strictly increasing at point %d", i)
		}
		if p.Liters.LessThan(prev.Liters) {
			return domain.Validation("calibration liters must not decrease at point %d", i)
		}
	}
	return nil
}
