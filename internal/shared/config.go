package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	MetricsAddr   string
	MySQLDSN      string
	RedisAddr     string
	RedisDB       int
	RedisPass     string
	StripeBase    string
	StripeKey     string
	StripeRPS     int
	SMSBase       string
	SMSKey        string
	SMSFrom       string
	WebhookSecret string
	Workers       int
	StaleAfter    time.Duration
	StaleBatch    int
	CacheTTL      time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:        env("APP_ENV", "prod"),
		HTTPAddr:      env("HTTP_ADDR", ":8080"),
		MetricsAddr:   env("METRICS_ADDR", ":9100"),
		MySQLDSN:      env("MYSQL_DSN", "root:root@tcp(localhost:3306)/valet?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPass:     env("REDIS_PASSWORD", ""),
		StripeBase:    env("STRIPE_BASE_URL", "https://api.stripe.com"),
		StripeKey:     env("STRIPE_API_KEY", ""),
		StripeRPS:     atoi("STRIPE_RPS", 20),
		SMSBase:       env("SMS_BASE_URL", ""),
		SMSKey:        env("SMS_API_KEY", ""),
		SMSFrom:       env("SMS_FROM", ""),
		WebhookSecret: env("WEBHOOK_SECRET", ""),
		Workers:       atoi("RECONCILE_WORKERS", 8),
		StaleAfter:    time.Duration(atoi("STALE_AFTER_MINUTES", 60)) * time.Minute,
		StaleBatch:    atoi("STALE_BATCH", 200),
		CacheTTL:      time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
	}
	if c.StripeKey == "" {
		log.Warn().Msg("STRIPE_API_KEY is empty")
	}
	if c.WebhookSecret == "" {
		log.Warn().Msg("WEBHOOK_SECRET is empty; webhook endpoint will reject all deliveries")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
