package report

import (
	"context"

	"pumpledger/internal/cache"
	"pumpledger/internal/changefeed"
	"pumpledger/internal/domain"
)

// Watch rebuilds the shift report once up front and again after every
// committed change that touches the shift, handing each result to fn. Build
// errors are logged and the watch continues. It returns when ctx is done.
func (r *Reporter) Watch(ctx context.Context, feed changefeed.Feed, shiftID string, fn func(domain.ReportData)) error {
	events, err := feed.Subscribe(ctx)
	if err != nil {
		return domain.External(err, "subscribe to changefeed")
	}
	log := r.logger.WithField("shift_id", shiftID)

	emit := func() {
		data, err := r.buildShiftReport(ctx, shiftID)
		if err != nil {
			log.WithError(err).Warn("report: watch rebuild failed")
			return
		}
		fn(data)
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.TouchesShift(shiftID) {
				emit()
			}
		}
	}
}

// RunInvalidation drops cached shift reports whenever a change touches their
// shift. Late edits to an ended shift are the usual trigger.
func (r *Reporter) RunInvalidation(ctx context.Context, feed changefeed.Feed) error {
	events, err := feed.Subscribe(ctx)
	if err != nil {
		return domain.External(err, "subscribe to changefeed")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			for _, shiftID := range ev.ShiftIDs {
				if err := r.cache.Delete(ctx, cache.ShiftReportKey(shiftID)); err != nil {
					r.logger.WithError(err).WithField("shift_id", shiftID).Warn("report: cache invalidation failed")
				}
			}
		}
	}
}
