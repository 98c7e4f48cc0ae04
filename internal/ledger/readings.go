package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/xid"
)

func readingMovement(r domain.MeterReading) Movement {
	return Movement{
		Target:   store.Key{Collection: store.Tanks, ID: r.TankID},
		Quantity: r.SalesVolume.Neg(),
		Kind:     domain.MovementMeterSale,
		Source:   store.Key{Collection: store.Readings, ID: r.ID},
	}
}

func readingEffects(r domain.MeterReading) []Effect {
	nozzle := store.Key{Collection: store.Nozzles, ID: r.NozzleID}
	return append(readingMovement(r).effects(),
		Effect{Target: nozzle, Field: FieldNozzleSales, Delta: r.SalesAmount},
		Effect{Target: nozzle, Field: FieldNozzleVolume, Delta: r.SalesVolume},
	)
}

// RecordReading books the volume dispensed since the nozzle's last reading.
// The previous reading always comes from the nozzle.
func (s *Service) RecordReading(ctx context.Context, req domain.ReadingRequest) (domain.MeterReading, error) {
	if err := s.check(req); err != nil {
		return domain.MeterReading{}, err
	}
	if req.PriceOverride != nil && !req.PriceOverride.IsPositive() {
		return domain.MeterReading{}, domain.Validation("price_override must be positive")
	}

	var reading domain.MeterReading
	err := s.mutate(ctx, "RecordReading", func(ctx context.Context, t *txn) error {
		shift, err := t.activeShift(ctx)
		if err != nil {
			return err
		}
		nozzle, err := t.nozzle(ctx, req.NozzleID)
		if err != nil {
			return err
		}
		previous := nozzle.LastReading
		if req.CurrentReading.LessThan(previous) {
			return domain.ValidationCause(domain.ErrReadingRegression, "nozzle %s is at %s, got %s", nozzle.Name, previous.String(), req.CurrentReading.String())
		}
		tankID := req.TankID
		if tankID == "" {
			tankID = nozzle.TankID
		}
		if err := t.checkReadingTank(ctx, nozzle, tankID); err != nil {
			return err
		}
		price, err := t.readingPrice(ctx, nozzle, req.PriceOverride, decimal.Zero)
		if err != nil {
			return err
		}

		recordedAt := t.now
		if req.RecordedAt != nil {
			recordedAt = req.RecordedAt.UTC()
		}
		nozzle.ReadingSeq++
		volume := req.CurrentReading.Sub(previous)
		reading = domain.MeterReading{
			ID:              xid.New("rd"),
			NozzleID:        nozzle.ID,
			TankID:          tankID,
			PreviousReading: previous,
			CurrentReading:  req.CurrentReading,
			SalesVolume:     volume,
			PriceOverride:   req.PriceOverride,
			EffectivePrice:  price,
			SalesAmount:     volume.Mul(price),
			Seq:             nozzle.ReadingSeq,
			ShiftID:         shift.ID,
			CreatedBy:       t.actor.UID,
			RecordedAt:      recordedAt,
			CreatedAt:       t.now,
			UpdatedAt:       t.now,
		}
		if err := t.apply(ctx, readingEffects(reading)); err != nil {
			return err
		}
		nozzle.LastReading = req.CurrentReading
		t.touch(store.Nozzles, nozzle.ID)

		cf, err := t.recordCashflow(ctx, reading.SalesAmount, domain.CashIn, domain.CategorySales, store.Key{Collection: store.Readings, ID: reading.ID})
		if err != nil {
			return err
		}
		reading.CashflowID = cf.ID
		return t.save(ctx, store.Readings, reading.ID, reading)
	})
	return reading, err
}

// checkReadingTank makes sure the tank a reading draws from holds the
// nozzle's fuel.
func (t *txn) checkReadingTank(ctx context.Context, nozzle *domain.Nozzle, tankID string) error {
	tank, err := t.tank(ctx, tankID)
	if err != nil {
		return err
	}
	if tank.ProductID != nozzle.ProductID {
		return domain.Validation("tank %s does not hold the fuel of nozzle %s", tank.Name, nozzle.Name)
	}
	return nil
}

// readingPrice resolves the unit price: an explicit override, then the
// fallback (the price already on an edited reading), then the product price.
func (t *txn) readingPrice(ctx context.Context, nozzle *domain.Nozzle, override *decimal.Decimal, fallback decimal.Decimal) (decimal.Decimal, error) {
	if override != nil {
		return *override, nil
	}
	if fallback.IsPositive() {
		return fallback, nil
	}
	if nozzle.ProductID == "" {
		return decimal.Zero, domain.Validation("nozzle %s has no product; price_override is required", nozzle.Name)
	}
	p, err := t.product(ctx, nozzle.ProductID)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.UnitPrice.IsPositive() {
		return decimal.Zero, domain.Validation("product %s has no price", p.Name)
	}
	return p.UnitPrice, nil
}

// EditReading changes the current reading (and optionally tank and price)
// of an existing reading. Tank and nozzle move by the difference only.
func (s *Service) EditReading(ctx context.Context, id string, req domain.ReadingEditRequest) (domain.MeterReading, error) {
	if req.PriceOverride != nil && !req.PriceOverride.IsPositive() {
		return domain.MeterReading{}, domain.Validation("price_override must be positive")
	}

	var updated domain.MeterReading
	err := s.mutate(ctx, "EditReading", func(ctx context.Context, t *txn) error {
		old, err := load[domain.MeterReading](ctx, t, store.Readings, id)
		if err != nil {
			return err
		}
		if err := t.authorizeChange(ctx, "reading", old.CreatedBy, old.ShiftID); err != nil {
			return err
		}
		t.noteShift(old.ShiftID)
		if req.CurrentReading.LessThan(old.PreviousReading) {
			return domain.ValidationCause(domain.ErrReadingRegression, "reading started at %s, got %s", old.PreviousReading.String(), req.CurrentReading.String())
		}
		nozzle, err := t.nozzle(ctx, old.NozzleID)
		if err != nil {
			return err
		}

		updated = *old
		if req.TankID != "" {
			if err := t.checkReadingTank(ctx, nozzle, req.TankID); err != nil {
				return err
			}
			updated.TankID = req.TankID
		}
		override := req.PriceOverride
		if override == nil {
			override = old.PriceOverride
		}
		price, err := t.readingPrice(ctx, nozzle, override, old.EffectivePrice)
		if err != nil {
			return err
		}
		updated.CurrentReading = req.CurrentReading
		updated.SalesVolume = req.CurrentReading.Sub(old.PreviousReading)
		updated.PriceOverride = override
		updated.EffectivePrice = price
		updated.SalesAmount = updated.SalesVolume.Mul(price)
		updated.UpdatedAt = t.now

		if err := t.compensate(ctx, readingEffects(*old), readingEffects(updated)); err != nil {
			return err
		}
		if _, err := t.syncCashflow(ctx, old.CashflowID, updated.SalesAmount, domain.CashIn, domain.CategorySales); err != nil {
			return err
		}
		return t.save(ctx, store.Readings, updated.ID, updated)
	})
	if err != nil {
		return domain.MeterReading{}, err
	}
	s.refreshLastReading(ctx, updated.NozzleID)
	return updated, nil
}

func (s *Service) DeleteReading(ctx context.Context, id string) error {
	var nozzleID string
	err := s.mutate(ctx, "DeleteReading", func(ctx context.Context, t *txn) error {
		old, err := load[domain.MeterReading](ctx, t, store.Readings, id)
		if err != nil {
			return err
		}
		if err := t.authorizeChange(ctx, "reading", old.CreatedBy, old.ShiftID); err != nil {
			return err
		}
		t.noteShift(old.ShiftID)
		nozzleID = old.NozzleID
		if err := t.apply(ctx, Invert(readingEffects(*old))); err != nil {
			return err
		}
		if err := t.deleteCashflow(ctx, old.CashflowID); err != nil {
			return err
		}
		return t.remove(ctx, store.Readings, id)
	})
	if err != nil {
		return err
	}
	s.refreshLastReading(ctx, nozzleID)
	return nil
}

// refreshLastReading points the nozzle at its latest remaining reading, or
// its opening reading when none remain. It runs after the primary commit;
// until it succeeds the nozzle may still show the pre-edit value.
func (s *Service) refreshLastReading(ctx context.Context, nozzleID string) {
	ctx, span := s.tracer.Start(ctx, "ledger.refreshLastReading")
	defer span.End()

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		nozzle, err := store.Load[domain.Nozzle](ctx, tx, store.Nozzles, nozzleID)
		if err != nil {
			return err
		}
		latest, err := store.FindAll[domain.MeterReading](ctx, tx, store.Readings,
			store.Where("nozzle_id", nozzleID).Order("seq", true).Take(1))
		if err != nil {
			return err
		}
		last := nozzle.OpeningReading
		if len(latest) > 0 {
			last = latest[0].CurrentReading
		}
		if last.Equal(nozzle.LastReading) {
			return nil
		}
		nozzle.LastReading = last
		return tx.Put(ctx, store.Nozzles, nozzle.ID, nozzle)
	})
	if err != nil {
		span.RecordError(err)
		s.logger.WithError(err).WithField("nozzle_id", nozzleID).Warn("ledger: last reading refresh failed")
	}
}

func (s *Service) ListReadings(ctx context.Context, shiftID string) ([]domain.MeterReading, error) {
	var out []domain.MeterReading
	err := s.read(ctx, "ListReadings", func(ctx context.Context) error {
		q := store.Query{}
		if shiftID != "" {
			q = store.Where("shift_id", shiftID)
		}
		var err error
		out, err = store.FindAll[domain.MeterReading](ctx, s.store, store.Readings, q)
		return err
	})
	return out, err
}
