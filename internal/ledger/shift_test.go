package ledger

import (
	"context"
	"errors"
	"testing"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/store/memory"
)

func activeShifts(t *testing.T, s *station) []domain.Shift {
	t.Helper()
	shifts, err := store.FindAll[domain.Shift](context.Background(), s.st, store.Shifts, store.Where("status", domain.ShiftStatusActive))
	if err != nil {
		t.Fatalf("find active shifts: %v", err)
	}
	return shifts
}

func TestScenarioEndShiftOpensSuccessor(t *testing.T) {
	s := newStation(t)

	ended, next, err := s.svc.EndShift(s.opCtx, s.shift.ID)
	if err != nil {
		t.Fatalf("end shift: %v", err)
	}
	if ended.Status != domain.ShiftStatusEnded || ended.EndTime == nil {
		t.Fatalf("expected ended shift with end time, got %+v", ended)
	}

	active := activeShifts(t, s)
	if len(active) != 1 || active[0].ID != next.ID {
		t.Fatalf("expected exactly %s active, got %+v", next.ID, active)
	}
	stored, err := s.svc.GetShift(context.Background(), s.shift.ID)
	if err != nil {
		t.Fatalf("get shift: %v", err)
	}
	if stored.Status != domain.ShiftStatusEnded {
		t.Fatalf("expected stored shift ended, got %s", stored.Status)
	}
}

func TestStartShiftRejectsSecondActive(t *testing.T) {
	s := newStation(t)
	_, err := s.svc.StartShift(s.adminCtx)
	if !errors.Is(err, domain.ErrConsistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
	if got := len(activeShifts(t, s)); got != 1 {
		t.Fatalf("expected one active shift, got %d", got)
	}
}

func TestStartShiftRequiresAdmin(t *testing.T) {
	s := newStation(t)
	if _, _, err := s.svc.EndShift(s.adminCtx, s.shift.ID); err != nil {
		t.Fatalf("end shift: %v", err)
	}
	_, err := s.svc.StartShift(s.opCtx)
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestEndShiftRejectsEndedShift(t *testing.T) {
	s := newStation(t)
	if _, _, err := s.svc.EndShift(s.opCtx, s.shift.ID); err != nil {
		t.Fatalf("end shift: %v", err)
	}
	_, _, err := s.svc.EndShift(s.opCtx, s.shift.ID)
	if !errors.Is(err, domain.ErrConsistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
}

func TestEnsureActiveShiftBootstrapsOnce(t *testing.T) {
	svc := New(memory.New(), WithLogger(quietLogger()))
	ctx := context.Background()

	first, err := svc.EnsureActiveShift(ctx)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.StartedBy != SystemActor.UID {
		t.Fatalf("expected system actor to start the shift, got %s", first.StartedBy)
	}
	second, err := svc.EnsureActiveShift(ctx)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same shift, got %s and %s", first.ID, second.ID)
	}
}

func TestOperatorCannotChangeRecordsOfEndedShift(t *testing.T) {
	s := newStation(t)
	acct := s.newAccount(t, "0")
	r, err := s.svc.ApplyReceipt(s.opCtx, acct.ID, domain.ReceiptRequest{Type: domain.ReceiptWasooli, Amount: d("100")})
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}

	otherCtx := WithActor(context.Background(), otherOperator)
	if err := s.svc.DeleteReceipt(otherCtx, r.ID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected non-creator to be rejected, got %v", err)
	}

	if _, _, err := s.svc.EndShift(s.opCtx, s.shift.ID); err != nil {
		t.Fatalf("end shift: %v", err)
	}
	if _, err := s.svc.EditReceipt(s.opCtx, r.ID, domain.ReceiptRequest{Type: domain.ReceiptWasooli, Amount: d("150")}); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected creator to be rejected after shift end, got %v", err)
	}
	if _, err := s.svc.EditReceipt(s.adminCtx, r.ID, domain.ReceiptRequest{Type: domain.ReceiptWasooli, Amount: d("150")}); err != nil {
		t.Fatalf("admin edit: %v", err)
	}
	requireEqual(t, "balance", s.accountNow(t, acct.ID).CurrentBalance, d("150"))
}

func TestEditKeepsCashflowInOriginalShift(t *testing.T) {
	s := newStation(t)
	reading, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5010")})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if _, _, err := s.svc.EndShift(s.opCtx, s.shift.ID); err != nil {
		t.Fatalf("end shift: %v", err)
	}
	if _, err := s.svc.EditReading(s.adminCtx, reading.ID, domain.ReadingEditRequest{CurrentReading: d("5020")}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	cf, err := store.Load[domain.CashflowEntry](context.Background(), s.st, store.Cashflow, reading.CashflowID)
	if err != nil {
		t.Fatalf("load cashflow: %v", err)
	}
	if cf.ShiftID != s.shift.ID {
		t.Fatalf("expected cashflow to stay in %s, got %s", s.shift.ID, cf.ShiftID)
	}
	requireEqual(t, "cashflow amount", cf.Amount, d("5400"))
}

func TestAdminCorrectionLogsMovementsUnderActiveShift(t *testing.T) {
	s := newStation(t)
	reading, err := s.svc.RecordReading(s.opCtx, domain.ReadingRequest{NozzleID: s.nozzle.ID, CurrentReading: d("5010")})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	_, next, err := s.svc.EndShift(s.opCtx, s.shift.ID)
	if err != nil {
		t.Fatalf("end shift: %v", err)
	}
	if _, err := s.svc.EditReading(s.adminCtx, reading.ID, domain.ReadingEditRequest{CurrentReading: d("5020")}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	movements, err := store.FindAll[domain.StockMovement](context.Background(), s.st, store.StockMovements,
		store.Where("source_id", reading.ID).Order("seq", false))
	if err != nil {
		t.Fatalf("find movements: %v", err)
	}
	if len(movements) != 3 {
		t.Fatalf("expected original, reversal and corrected movements, got %d", len(movements))
	}
	if movements[0].ShiftID != s.shift.ID {
		t.Fatalf("expected original movement in %s, got %q", s.shift.ID, movements[0].ShiftID)
	}
	for _, m := range movements[1:] {
		if m.ShiftID != next.ID {
			t.Fatalf("expected correction in active shift %s, got %q", next.ID, m.ShiftID)
		}
	}
}
