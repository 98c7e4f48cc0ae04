package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	ReportCacheTTLSeconds int
	VarianceEpsilon       decimal.Decimal
	TxMaxAttempts         int
	ChangefeedChannel     string
	PhoneRegion           string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	reportTTL := positiveInt("REPORT_CACHE_TTL_SECONDS", 60)
	attempts := positiveInt("TX_MAX_ATTEMPTS", 5)

	epsilon, err := decimal.NewFromString(getEnv("VARIANCE_EPSILON_LITERS", "0.5"))
	if err != nil || epsilon.IsNegative() {
		epsilon = decimal.RequireFromString("0.5")
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		ReportCacheTTLSeconds: reportTTL,
		VarianceEpsilon:       epsilon,
		TxMaxAttempts:         attempts,
		ChangefeedChannel:     getEnv("CHANGEFEED_CHANNEL", "pumpledger:changes"),
		PhoneRegion:           strings.ToUpper(getEnv("PHONE_REGION", "PK")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
