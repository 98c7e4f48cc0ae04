package ledger

import (
	"context"
	"strings"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
	"pumpledger/internal/xid"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx, "CreateProduct"); err != nil {
		return domain.Product{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	if req.UnitPrice.IsNegative() {
		return domain.Product{}, domain.Validation("unit_price must not be negative")
	}
	if req.OpeningStock.IsNegative() {
		return domain.Product{}, domain.Validation("opening_stock must not be negative")
	}
	if req.Kind == domain.ProductKindFuel && !req.OpeningStock.IsZero() {
		return domain.Product{}, domain.Validation("fuel stock is held by tanks; set opening_stock on the tank")
	}

	var p domain.Product
	err := s.mutate(ctx, "CreateProduct", func(ctx context.Context, t *txn) error {
		p = domain.Product{
			ID:             xid.New("prd"),
			Name:           strings.TrimSpace(req.Name),
			Kind:           req.Kind,
			UnitPrice:      req.UnitPrice,
			OpeningStock:   req.OpeningStock,
			RemainingStock: req.OpeningStock,
			CreatedAt:      t.now,
		}
		return t.save(ctx, store.Products, p.ID, p)
	})
	return p, err
}

func (s *Service) CreateTank(ctx context.Context, req domain.TankCreateRequest) (domain.Tank, error) {
	if err := requireAdmin(ctx, "CreateTank"); err != nil {
		return domain.Tank{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Tank{}, err
	}
	if !req.Capacity.IsPositive() {
		return domain.Tank{}, domain.Validation("capacity must be positive")
	}
	if req.OpeningStock.IsNegative() || req.AlertThreshold.IsNegative() {
		return domain.Tank{}, domain.Validation("opening_stock and alert_threshold must not be negative")
	}
	if err := validateCalibration(req.Calibration); err != nil {
		return domain.Tank{}, err
	}

	var tank domain.Tank
	err := s.mutate(ctx, "CreateTank", func(ctx context.Context, t *txn) error {
		p, err := t.product(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if p.Kind != domain.ProductKindFuel {
			return domain.Validation("tanks hold fuel; %s is %s", p.Name, p.Kind)
		}
		tank = domain.Tank{
			ID:             xid.New("tank"),
			Name:           strings.TrimSpace(req.Name),
			ProductID:      p.ID,
			Capacity:       req.Capacity,
			AlertThreshold: req.AlertThreshold,
			OpeningStock:   req.OpeningStock,
			RemainingStock: req.OpeningStock,
			Calibration:    req.Calibration,
			CreatedAt:      t.now,
		}
		return t.save(ctx, store.Tanks, tank.ID, tank)
	})
	return tank, err
}

func (s *Service) CreateNozzle(ctx context.Context, req domain.NozzleCreateRequest) (domain.Nozzle, error) {
	if err := requireAdmin(ctx, "CreateNozzle"); err != nil {
		return domain.Nozzle{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Nozzle{}, err
	}
	if req.OpeningReading.IsNegative() {
		return domain.Nozzle{}, domain.Validation("opening_reading must not be negative")
	}

	var n domain.Nozzle
	err := s.mutate(ctx, "CreateNozzle", func(ctx context.Context, t *txn) error {
		tank, err := t.tank(ctx, req.TankID)
		if err != nil {
			return err
		}
		productID := req.ProductID
		if productID == "" {
			productID = tank.ProductID
		}
		if productID != tank.ProductID {
			return domain.Validation("nozzle product must match tank %s", tank.Name)
		}
		n = domain.Nozzle{
			ID:             xid.New("nozzle"),
			Name:           strings.TrimSpace(req.Name),
			TankID:         tank.ID,
			ProductID:      productID,
			OpeningReading: req.OpeningReading,
			LastReading:    req.OpeningReading,
			CreatedAt:      t.now,
		}
		return t.save(ctx, store.Nozzles, n.ID, n)
	})
	return n, err
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return listAll[domain.Product](ctx, s, "ListProducts", store.Products)
}

func (s *Service) ListTanks(ctx context.Context) ([]domain.Tank, error) {
	return listAll[domain.Tank](ctx, s, "ListTanks", store.Tanks)
}

func (s *Service) ListNozzles(ctx context.Context) ([]domain.Nozzle, error) {
	return listAll[domain.Nozzle](ctx, s, "ListNozzles", store.Nozzles)
}

func listAll[T any](ctx context.Context, s *Service, op string, c store.Collection) ([]T, error) {
	var out []T
	err := s.read(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = store.FindAll[T](ctx, s.store, c, store.Query{})
		return err
	})
	return out, err
}
