package main

import (
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "valetops/internal/adapters/http_server"
	"valetops/internal/adapters/notify"
	"valetops/internal/adapters/observability"
	redisad "valetops/internal/adapters/redis"
	"valetops/internal/adapters/stripe"
	"valetops/internal/app"
	"valetops/internal/shared"
	mysqlrepo "valetops/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	gateway, err := stripe.New(cfg.StripeBase, cfg.StripeKey, cfg.StripeRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize payment gateway client")
	}
	notifier, err := notify.New(cfg.SMSBase, cfg.SMSKey, cfg.SMSFrom)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize SMS client")
	}

	ledger := app.NewLedgerService(repo, repo, gateway, notifier, cache)
	billing := app.NewBillingService(repo, cache, cfg.CacheTTL)
	reports := app.NewReportingService(repo, cache, cfg.CacheTTL)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Ledger:        ledger,
		Billing:       billing,
		Reports:       reports,
		WebhookSecret: cfg.WebhookSecret,
	})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
