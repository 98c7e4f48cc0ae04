package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/xid"
)

func (s *Service) CreateAccount(ctx context.Context, req domain.AccountCreateRequest) (domain.Account, error) {
	if err := requireAdmin(ctx, "CreateAccount"); err != nil {
		return domain.Account{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Account{}, err
	}
	if req.CreditLimit.IsNegative() {
		return domain.Account{}, domain.Validation("credit_limit must not be negative")
	}
	phone, err := s.normalizePhone(req.Phone)
	if err != nil {
		return domain.Account{}, err
	}

	var acct domain.Account
	err = s.mutate(ctx, "CreateAccount", func(ctx context.Context, t *txn) error {
		acct = domain.Account{
			ID:             xid.New("acct"),
			Name:           strings.TrimSpace(req.Name),
			Phone:          phone,
			InitialBalance: req.InitialBalance,
			CurrentBalance: req.InitialBalance,
			CreditLimit:    req.CreditLimit,
			Status:         domain.AccountStatusActive,
			CreatedAt:      t.now,
		}
		return t.save(ctx, store.Accounts, acct.ID, acct)
	})
	return acct, err
}

// normalizePhone stores phone numbers in E.164 so statements and lookups
// agree regardless of how the number was typed.
func (s *Service) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := libphonenumber.Parse(raw, s.phoneRegion)
	if err != nil {
		return "", domain.Validation("phone %q: %v", raw, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", domain.Validation("phone %q is not a valid number", raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

func (s *Service) SetAccountStatus(ctx context.Context, id string, req domain.AccountStatusRequest) (domain.Account, error) {
	if err := requireAdmin(ctx, "SetAccountStatus"); err != nil {
		return domain.Account{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Account{}, err
	}
	var acct domain.Account
	err := s.mutate(ctx, "SetAccountStatus", func(ctx context.Context, t *txn) error {
		a, err := t.account(ctx, id)
		if err != nil {
			return err
		}
		a.Status = req.Status
		t.touch(store.Accounts, a.ID)
		acct = *a
		return nil
	})
	return acct, err
}

func (s *Service) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var acct domain.Account
	err := s.read(ctx, "GetAccount", func(ctx context.Context) error {
		a, err := store.Load[domain.Account](ctx, s.store, store.Accounts, id)
		if err != nil {
			return err
		}
		acct = *a
		return nil
	})
	return acct, err
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var out []domain.Account
	err := s.read(ctx, "ListAccounts", func(ctx context.Context) error {
		var err error
		out, err = store.FindAll[domain.Account](ctx, s.store, store.Accounts, store.Query{})
		return err
	})
	return out, err
}

func validateReceipt(req domain.ReceiptRequest) error {
	if !req.Amount.IsPositive() {
		return domain.Validation("amount must be positive")
	}
	return nil
}

// ApplyReceipt records a wasooli (payment in) or odhar (credit taken) against
// an account.
func (s *Service) ApplyReceipt(ctx context.Context, accountID string, req domain.ReceiptRequest) (domain.Receipt, error) {
	if err := s.check(req); err != nil {
		return domain.Receipt{}, err
	}
	if err := validateReceipt(req); err != nil {
		return domain.Receipt{}, err
	}
	var receipt domain.Receipt
	err := s.mutate(ctx, "ApplyReceipt", func(ctx context.Context, t *txn) error {
		r, err := t.applyReceipt(ctx, accountID, req.Type, req.Amount, req.Note, "")
		receipt = r
		return err
	})
	return receipt, err
}

func receiptEffects(r domain.Receipt) []Effect {
	return []Effect{{Target: store.Key{Collection: store.Accounts, ID: r.AccountID}, Field: FieldBalance, Delta: r.SignedAmount()}}
}

func receiptCash(receiptType string) (cashType, category string) {
	if receiptType == domain.ReceiptOdhar {
		return domain.CashOut, domain.CategoryOdhar
	}
	return domain.CashIn, domain.CategoryWasooli
}

// checkCredit rejects an odhar that would take the balance below the
// negative credit limit.
func checkCredit(a *domain.Account, receiptType string, projected decimal.Decimal) error {
	if receiptType != domain.ReceiptOdhar {
		return nil
	}
	if projected.LessThan(a.CreditLimit.Neg()) {
		return domain.ValidationCause(domain.ErrCreditLimit, "account %s would reach %s, limit is %s", a.Name, projected.String(), a.CreditLimit.String())
	}
	return nil
}

func (t *txn) applyReceipt(ctx context.Context, accountID, receiptType string, amount decimal.Decimal, note, billID string) (domain.Receipt, error) {
	shift, err := t.activeShift(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}
	a, err := t.account(ctx, accountID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if a.Status != domain.AccountStatusActive {
		return domain.Receipt{}, domain.ValidationCause(domain.ErrInactiveAccount, "account %s", a.Name)
	}
	projected := a.CurrentBalance.Add(domain.SignedReceiptAmount(receiptType, amount))
	if err := checkCredit(a, receiptType, projected); err != nil {
		return domain.Receipt{}, err
	}

	a.ReceiptSeq++
	r := domain.Receipt{
		ID:           xid.New("rcpt"),
		AccountID:    a.ID,
		Type:         receiptType,
		Amount:       amount,
		BalanceAfter: projected,
		Seq:          a.ReceiptSeq,
		BillID:       billID,
		Note:         note,
		ShiftID:      shift.ID,
		CreatedBy:    t.actor.UID,
		CreatedAt:    t.now,
		UpdatedAt:    t.now,
	}
	t.touch(store.Accounts, a.ID)
	if err := t.apply(ctx, receiptEffects(r)); err != nil {
		return domain.Receipt{}, err
	}
	cashType, category := receiptCash(receiptType)
	cf, err := t.recordCashflow(ctx, amount, cashType, category, store.Key{Collection: store.Receipts, ID: r.ID})
	if err != nil {
		return domain.Receipt{}, err
	}
	r.CashflowID = cf.ID
	return r, t.save(ctx, store.Receipts, r.ID, r)
}

// editReceipt reverses the old amount and applies the new one. BalanceAfter
// stays as recorded at creation time; Statement recomputes running balances.
func (t *txn) editReceipt(ctx context.Context, old *domain.Receipt, receiptType string, amount decimal.Decimal, note string) (domain.Receipt, error) {
	a, err := t.account(ctx, old.AccountID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if a.Status != domain.AccountStatusActive {
		return domain.Receipt{}, domain.ValidationCause(domain.ErrInactiveAccount, "account %s", a.Name)
	}
	updated := *old
	updated.Type = receiptType
	updated.Amount = amount
	updated.Note = note
	updated.UpdatedAt = t.now

	projected := a.CurrentBalance.Sub(old.SignedAmount()).Add(updated.SignedAmount())
	if err := checkCredit(a, receiptType, projected); err != nil {
		return domain.Receipt{}, err
	}
	if err := t.compensate(ctx, receiptEffects(*old), receiptEffects(updated)); err != nil {
		return domain.Receipt{}, err
	}
	cashType, category := receiptCash(receiptType)
	if _, err := t.syncCashflow(ctx, old.CashflowID, amount, cashType, category); err != nil {
		return domain.Receipt{}, err
	}
	t.noteShift(old.ShiftID)
	return updated, t.save(ctx, store.Receipts, updated.ID, updated)
}

func (t *txn) deleteReceipt(ctx context.Context, old *domain.Receipt) error {
	if err := t.apply(ctx, Invert(receiptEffects(*old))); err != nil {
		return err
	}
	if err := t.deleteCashflow(ctx, old.CashflowID); err != nil {
		return err
	}
	t.noteShift(old.ShiftID)
	return t.remove(ctx, store.Receipts, old.ID)
}

func (t *txn) standaloneReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	r, err := load[domain.Receipt](ctx, t, store.Receipts, id)
	if err != nil {
		return nil, err
	}
	if r.BillID != "" {
		return nil, domain.Validation("receipt %s belongs to bill %s; change the bill instead", r.ID, r.BillID)
	}
	if err := t.authorizeChange(ctx, "receipt", r.CreatedBy, r.ShiftID); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) EditReceipt(ctx context.Context, id string, req domain.ReceiptRequest) (domain.Receipt, error) {
	if err := s.check(req); err != nil {
		return domain.Receipt{}, err
	}
	if err := validateReceipt(req); err != nil {
		return domain.Receipt{}, err
	}
	var updated domain.Receipt
	err := s.mutate(ctx, "EditReceipt", func(ctx context.Context, t *txn) error {
		old, err := t.standaloneReceipt(ctx, id)
		if err != nil {
			return err
		}
		updated, err = t.editReceipt(ctx, old, req.Type, req.Amount, req.Note)
		return err
	})
	return updated, err
}

func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	return s.mutate(ctx, "DeleteReceipt", func(ctx context.Context, t *txn) error {
		old, err := t.standaloneReceipt(ctx, id)
		if err != nil {
			return err
		}
		return t.deleteReceipt(ctx, old)
	})
}

// Statement replays an account's receipts from its initial balance.
func (s *Service) Statement(ctx context.Context, accountID string) (domain.Statement, error) {
	var st domain.Statement
	err := s.read(ctx, "Statement", func(ctx context.Context) error {
		a, err := store.Load[domain.Account](ctx, s.store, store.Accounts, accountID)
		if err != nil {
			return err
		}
		receipts, err := store.FindAll[domain.Receipt](ctx, s.store, store.Receipts, store.Where("account_id", accountID))
		if err != nil {
			return err
		}
		st = domain.Statement{
			AccountID:      a.ID,
			InitialBalance: a.InitialBalance,
			CurrentBalance: a.CurrentBalance,
			Lines:          RunningBalance(a.InitialBalance, receipts),
		}
		return nil
	})
	return st, err
}

// RunningBalance orders receipts by account sequence and accumulates their
// signed amounts onto initial. The last line's balance is what the cached
// account balance must equal.
func RunningBalance(initial decimal.Decimal, receipts []domain.Receipt) []domain.StatementLine {
	sorted := append([]domain.Receipt(nil), receipts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	balance := initial
	lines := make([]domain.StatementLine, 0, len(sorted))
	for _, r := range sorted {
		balance = balance.Add(r.SignedAmount())
		lines = append(lines, domain.StatementLine{
			ReceiptID:      r.ID,
			Seq:            r.Seq,
			Type:           r.Type,
			Amount:         r.Amount,
			RunningBalance: balance,
			ShiftID:        r.ShiftID,
			CreatedAt:      r.CreatedAt,
		})
	}
	return lines
}
