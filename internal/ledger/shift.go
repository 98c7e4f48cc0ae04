package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/xid"
)

const shiftLockKey = "pumpledger:lock:shift-rotation"

func (s *Service) GetActiveShift(ctx context.Context) (domain.Shift, error) {
	var active domain.Shift
	err := s.read(ctx, "GetActiveShift", func(ctx context.Context) error {
		shifts, err := store.FindAll[domain.Shift](ctx, s.store, store.Shifts, store.Where("status", domain.ShiftStatusActive))
		if err != nil {
			return err
		}
		switch len(shifts) {
		case 0:
			return domain.Consistency(domain.ErrNoActiveShift, "no shift is active")
		case 1:
			active = shifts[0]
			return nil
		default:
			return domain.Consistency(nil, "%d shifts are marked active", len(shifts))
		}
	})
	return active, err
}

func (s *Service) GetShift(ctx context.Context, id string) (domain.Shift, error) {
	var shift domain.Shift
	err := s.read(ctx, "GetShift", func(ctx context.Context) error {
		found, err := store.Load[domain.Shift](ctx, s.store, store.Shifts, id)
		if err != nil {
			return fmt.Errorf("shift %s: %w", id, err)
		}
		shift = *found
		return nil
	})
	return shift, err
}

// StartShift opens a shift when none is active.
func (s *Service) StartShift(ctx context.Context) (domain.Shift, error) {
	if err := requireAdmin(ctx, "StartShift"); err != nil {
		return domain.Shift{}, err
	}
	release, err := s.acquireShiftLock(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	defer release()

	var started domain.Shift
	err = s.mutate(ctx, "StartShift", func(ctx context.Context, t *txn) error {
		active, err := store.FindAll[domain.Shift](ctx, t.tx, store.Shifts, store.Where("status", domain.ShiftStatusActive))
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return domain.Consistency(nil, "shift %s is already active; end it instead", active[0].ID)
		}
		started = t.openShift()
		return t.save(ctx, store.Shifts, started.ID, started)
	})
	return started, err
}

// EndShift ends the given active shift and opens its successor in the same
// transaction, so no reader ever sees zero or two active shifts.
func (s *Service) EndShift(ctx context.Context, shiftID string) (ended domain.Shift, next domain.Shift, err error) {
	release, err := s.acquireShiftLock(ctx)
	if err != nil {
		return domain.Shift{}, domain.Shift{}, err
	}
	defer release()

	err = s.mutate(ctx, "EndShift", func(ctx context.Context, t *txn) error {
		current, err := load[domain.Shift](ctx, t, store.Shifts, shiftID)
		if err != nil {
			return err
		}
		if current.Status != domain.ShiftStatusActive {
			return domain.Consistency(nil, "shift %s is already ended", shiftID)
		}
		active, err := t.activeShift(ctx)
		if err != nil {
			return err
		}
		if active.ID != current.ID {
			return domain.Consistency(nil, "shift %s is not the active shift", shiftID)
		}

		endTime := t.now
		ended = *current
		ended.Status = domain.ShiftStatusEnded
		ended.EndTime = &endTime
		ended.EndedBy = t.actor.UID
		next = t.openShift()

		if err := t.save(ctx, store.Shifts, ended.ID, ended); err != nil {
			return err
		}
		return t.save(ctx, store.Shifts, next.ID, next)
	})
	return ended, next, err
}

// EnsureActiveShift is the bootstrap path: it returns the active shift,
// opening one on behalf of the system actor if none exists.
func (s *Service) EnsureActiveShift(ctx context.Context) (domain.Shift, error) {
	active, err := s.GetActiveShift(ctx)
	if err == nil {
		return active, nil
	}
	if !isNoActiveShift(err) {
		return domain.Shift{}, err
	}
	started, err := s.StartShift(WithActor(ctx, SystemActor))
	if err != nil {
		// Another instance may have won the bootstrap race.
		if again, againErr := s.GetActiveShift(ctx); againErr == nil {
			return again, nil
		}
		return domain.Shift{}, err
	}
	s.logger.WithField("shift_id", started.ID).Info("ledger: bootstrapped active shift")
	return started, nil
}

func (t *txn) openShift() domain.Shift {
	shift := domain.Shift{
		ID:        xid.New("shift"),
		Status:    domain.ShiftStatusActive,
		StartTime: t.now,
		StartedBy: t.actor.UID,
	}
	t.noteShift(shift.ID)
	return shift
}

func (s *Service) acquireShiftLock(ctx context.Context) (func(), error) {
	release, err := s.locker.Acquire(ctx, shiftLockKey, 15*time.Second)
	if err != nil {
		return nil, domain.External(err, "shift rotation is busy")
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.WithError(err).Warn("ledger: failed to release shift lock")
		}
	}, nil
}

func isNoActiveShift(err error) bool {
	return errors.Is(err, domain.ErrNoActiveShift)
}
