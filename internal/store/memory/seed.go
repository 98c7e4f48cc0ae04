package memory

import (
	"context"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"pumpledger/internal/domain"
	"pumpledger/internal/store"
)

// NewSeeded returns a store holding a small demo station: two fuel tanks with
// calibration charts, three nozzles, one lubricant product, one credit
// customer and the dev login accounts. It has no shift; the server bootstraps
// one on start. Options are passed through to New.
func NewSeeded(logger logrus.FieldLogger, opts ...Option) *Store {
	s := New(opts...)
	now := time.Now().UTC()
	writes := make([]store.Write, 0, 16)

	for _, u := range seedUsers(logger, now) {
		writes = append(writes, store.Write{Collection: store.Users, ID: u.Username, Value: u})
	}

	petrol := domain.Product{ID: "prd-petrol", Name: "Petrol", Kind: domain.ProductKindFuel, UnitPrice: dec("270"), CreatedAt: now}
	diesel := domain.Product{ID: "prd-diesel", Name: "Diesel", Kind: domain.ProductKindFuel, UnitPrice: dec("285"), CreatedAt: now}
	oil := domain.Product{
		ID: "prd-engine-oil", Name: "Engine Oil 1L", Kind: domain.ProductKindGoods, UnitPrice: dec("1450"),
		OpeningStock: dec("48"), RemainingStock: dec("48"), CreatedAt: now,
	}
	chart := []domain.CalibrationPoint{
		{Mm: dec("0"), Liters: dec("0")},
		{Mm: dec("500"), Liters: dec("4200")},
		{Mm: dec("1000"), Liters: dec("9800")},
		{Mm: dec("1500"), Liters: dec("15600")},
		{Mm: dec("2000"), Liters: dec("20000")},
	}
	tanks := []domain.Tank{
		{ID: "tank-petrol-1", Name: "Petrol Tank 1", ProductID: petrol.ID, Capacity: dec("20000"), AlertThreshold: dec("2000"),
			OpeningStock: dec("12000"), RemainingStock: dec("12000"), Calibration: chart, CreatedAt: now},
		{ID: "tank-diesel-1", Name: "Diesel Tank 1", ProductID: diesel.ID, Capacity: dec("20000"), AlertThreshold: dec("2000"),
			OpeningStock: dec("9000"), RemainingStock: dec("9000"), Calibration: chart, CreatedAt: now},
	}
	nozzles := []domain.Nozzle{
		{ID: "nozzle-p1", Name: "Petrol 1", TankID: "tank-petrol-1", ProductID: petrol.ID, OpeningReading: dec("152340"), LastReading: dec("152340"), CreatedAt: now},
		{ID: "nozzle-p2", Name: "Petrol 2", TankID: "tank-petrol-1", ProductID: petrol.ID, OpeningReading: dec("98410"), LastReading: dec("98410"), CreatedAt: now},
		{ID: "nozzle-d1", Name: "Diesel 1", TankID: "tank-diesel-1", ProductID: diesel.ID, OpeningReading: dec("77215"), LastReading: dec("77215"), CreatedAt: now},
	}
	account := domain.Account{
		ID: "acct-city-transport", Name: "City Transport Co", Phone: "+923001234567",
		CreditLimit: dec("250000"), Status: domain.AccountStatusActive, CreatedAt: now,
	}

	for _, p := range []domain.Product{petrol, diesel, oil} {
		writes = append(writes, store.Write{Collection: store.Products, ID: p.ID, Value: p})
	}
	for _, t := range tanks {
		writes = append(writes, store.Write{Collection: store.Tanks, ID: t.ID, Value: t})
	}
	for _, n := range nozzles {
		writes = append(writes, store.Write{Collection: store.Nozzles, ID: n.ID, Value: n})
	}
	writes = append(writes,
		store.Write{Collection: store.Accounts, ID: account.ID, Value: account},
		store.Write{Collection: store.Summaries, ID: domain.GlobalSummaryID, Value: domain.GlobalSummary{ID: domain.GlobalSummaryID, UpdatedAt: now}},
	)

	if err := s.Batch(context.Background(), writes); err != nil {
		logger.WithError(err).Fatal("memory-store: seed failed")
	}
	return s
}

// seedUsers reads SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD, falling back
// to dev defaults with a warning.
func seedUsers(logger logrus.FieldLogger, now time.Time) []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		logger.Warn("memory-store: using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override")
	}

	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"operator", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.WithError(err).Fatalf("memory-store: failed to hash seed password for %s", u.username)
		}
		users = append(users, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
