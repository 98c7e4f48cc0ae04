package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pumpledger/internal/cache"
	"pumpledger/internal/changefeed"
	"pumpledger/internal/config"
	"pumpledger/internal/httpapi"
	"pumpledger/internal/ledger"
	"pumpledger/internal/lock"
	"pumpledger/internal/report"
	"pumpledger/internal/store"
	"pumpledger/internal/store/memory"
	pgstore "pumpledger/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Store
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.TxMaxAttempts)
		if err != nil {
			logger.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("store: postgres")
	} else {
		repo = memory.NewSeeded(logger, memory.WithMaxAttempts(cfg.TxMaxAttempts))
		logger.Info("store: in-memory")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	var feed changefeed.Feed = changefeed.NewLocal(256)
	var locker lock.Locker = lock.Noop{}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisReportCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and in-process changefeed")
			_ = client.Close()
		} else {
			reportCache = redisCache
			feed = changefeed.NewRedis(client, cfg.ChangefeedChannel, logger)
			locker = lock.NewRedis(client)
			closers = append(closers, client.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := ledger.New(repo,
		ledger.WithLogger(logger),
		ledger.WithFeed(feed),
		ledger.WithLocker(locker),
		ledger.WithPhoneRegion(cfg.PhoneRegion),
	)
	if shift, err := svc.EnsureActiveShift(ctx); err != nil {
		logger.WithError(err).Fatal("could not ensure an active shift")
	} else {
		logger.WithField("shift_id", shift.ID).Info("active shift ready")
	}

	reports := report.New(repo, reportCache,
		report.WithLogger(logger),
		report.WithCacheTTL(time.Duration(cfg.ReportCacheTTLSeconds)*time.Second),
		report.WithEpsilon(cfg.VarianceEpsilon),
	)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, httpapi.NewDocumentUserStore(repo))
	api := httpapi.New(svc, reports, auth, cfg.AllowedOrigin, logger)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go func() {
		if err := reports.RunInvalidation(bgCtx, feed); err != nil {
			logger.WithError(err).Error("report cache invalidation stopped")
		}
	}()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("pumpledger listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	stopBackground()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.Trim(cfg.AuthSecret, cfg.AuthSecret[:1]) == "" {
		return fmt.Errorf("AUTH_SECRET must not repeat a single character")
	}
	if cfg.TxMaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be positive")
	}
	return nil
}
