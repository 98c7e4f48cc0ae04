package report

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
	"pumpledger/internal/ledger"
	"pumpledger/internal/store"
)

// Audit replays the raw logs and compares them with every cached aggregate:
// account balances against their receipts, tank and goods stock against the
// movement log, and the global summary against the cashflow entries.
func (r *Reporter) Audit(ctx context.Context) (domain.AuditReport, error) {
	var rep domain.AuditReport
	err := r.span(ctx, "Audit", func(ctx context.Context) error {
		rep = domain.AuditReport{Mismatches: []domain.AuditMismatch{}, CheckedAt: r.clock.Now()}
		if err := r.auditAccounts(ctx, &rep); err != nil {
			return err
		}
		if err := r.auditTanks(ctx, &rep); err != nil {
			return err
		}
		if err := r.auditProducts(ctx, &rep); err != nil {
			return err
		}
		return r.auditSummary(ctx, &rep)
	})
	if err == nil && !rep.OK() {
		r.logger.WithField("mismatches", len(rep.Mismatches)).Warn("report: audit found mismatches")
	}
	return rep, err
}

func mismatch(rep *domain.AuditReport, c store.Collection, id, field string, cached, replayed decimal.Decimal) {
	if cached.Equal(replayed) {
		return
	}
	rep.Mismatches = append(rep.Mismatches, domain.AuditMismatch{
		Collection: string(c),
		ID:         id,
		Field:      field,
		Cached:     cached,
		Replayed:   replayed,
	})
}

func (r *Reporter) auditAccounts(ctx context.Context, rep *domain.AuditReport) error {
	accounts, err := store.FindAll[domain.Account](ctx, r.reader, store.Accounts, store.Query{})
	if err != nil {
		return err
	}
	for _, a := range accounts {
		receipts, err := store.FindAll[domain.Receipt](ctx, r.reader, store.Receipts, store.Where("account_id", a.ID))
		if err != nil {
			return err
		}
		replayed := a.InitialBalance
		if lines := ledger.RunningBalance(a.InitialBalance, receipts); len(lines) > 0 {
			replayed = lines[len(lines)-1].RunningBalance
		}
		mismatch(rep, store.Accounts, a.ID, "current_balance", a.CurrentBalance, replayed)
	}
	rep.AccountsChecked = len(accounts)
	return nil
}

func (r *Reporter) auditTanks(ctx context.Context, rep *domain.AuditReport) error {
	tanks, err := store.FindAll[domain.Tank](ctx, r.reader, store.Tanks, store.Query{})
	if err != nil {
		return err
	}
	for _, tank := range tanks {
		movements, err := r.movementsFor(ctx, store.Tanks, tank.ID)
		if err != nil {
			return err
		}
		dips, err := r.dipsFor(ctx, tank.ID)
		if err != nil {
			return err
		}
		mismatch(rep, store.Tanks, tank.ID, "remaining_stock", tank.RemainingStock, ReplayStock(tank.OpeningStock, dips, movements))
	}
	rep.TanksChecked = len(tanks)
	return nil
}

func (r *Reporter) auditProducts(ctx context.Context, rep *domain.AuditReport) error {
	products, err := store.FindAll[domain.Product](ctx, r.reader, store.Products, store.Where("kind", domain.ProductKindGoods))
	if err != nil {
		return err
	}
	for _, p := range products {
		movements, err := r.movementsFor(ctx, store.Products, p.ID)
		if err != nil {
			return err
		}
		mismatch(rep, store.Products, p.ID, "remaining_stock", p.RemainingStock, ReplayStock(p.OpeningStock, nil, movements))
	}
	rep.ProductsChecked = len(products)
	return nil
}

func (r *Reporter) auditSummary(ctx context.Context, rep *domain.AuditReport) error {
	var cached domain.GlobalSummary
	sum, err := store.Load[domain.GlobalSummary](ctx, r.reader, store.Summaries, domain.GlobalSummaryID)
	switch {
	case err == nil:
		cached = *sum
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	entries, err := store.FindAll[domain.CashflowEntry](ctx, r.reader, store.Cashflow, store.Query{})
	if err != nil {
		return err
	}
	var cash, odhar, wasooli decimal.Decimal
	for _, e := range entries {
		switch e.Category {
		case domain.CategoryWasooli:
			wasooli = wasooli.Add(e.Signed())
		case domain.CategoryOdhar:
			odhar = odhar.Add(e.Signed())
		default:
			cash = cash.Add(e.Signed())
		}
	}
	mismatch(rep, store.Summaries, domain.GlobalSummaryID, "total_cash", cached.TotalCash, cash)
	mismatch(rep, store.Summaries, domain.GlobalSummaryID, "total_odhar", cached.TotalOdhar, odhar)
	mismatch(rep, store.Summaries, domain.GlobalSummaryID, "total_wasooli", cached.TotalWasooli, wasooli)
	return nil
}
