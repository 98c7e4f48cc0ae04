package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pumpledger/internal/domain"
)

func TestNoopReportCacheNeverHits(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()
	if err := c.Set(ctx, "k", &domain.ReportData{ShiftID: "s1"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("PUMPLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set PUMPLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisReportCache(client)
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := ShiftReportKey("it-" + time.Now().Format("150405.000000"))
	want := &domain.ReportData{ShiftID: "s1", GrandTotal: decimal.RequireFromString("54000.50")}
	if err := c.Set(ctx, key, want, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !got.GrandTotal.Equal(want.GrandTotal) {
		t.Fatalf("expected %s, got %s", want.GrandTotal, got.GrandTotal)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatalf("expected miss after delete")
	}
}
