package cache

import (
	"context"
	"time"

	"pumpledger/internal/domain"
)

type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.ReportData, bool, error)
	Set(ctx context.Context, key string, value *domain.ReportData, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ReportData, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.ReportData, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Delete(_ context.Context, _ string) error {
	return nil
}

func ShiftReportKey(shiftID string) string {
	return "pumpledger:report:shift:" + shiftID
}
