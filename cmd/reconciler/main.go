package main

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"valetops/internal/adapters/notify"
	"valetops/internal/adapters/observability"
	redisad "valetops/internal/adapters/redis"
	"valetops/internal/adapters/stripe"
	"valetops/internal/app"
	"valetops/internal/shared"
	mysqlrepo "valetops/internal/storage/mysql"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Int("workers", cfg.Workers).
		Dur("stale_after", cfg.StaleAfter).
		Int("batch", cfg.StaleBatch).
		Msg("reconciler starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)

	gateway, err := stripe.New(cfg.StripeBase, cfg.StripeKey, cfg.StripeRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize payment gateway client")
	}
	notifier, err := notify.New(cfg.SMSBase, cfg.SMSKey, cfg.SMSFrom)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize SMS client")
	}
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	svc := app.NewLedgerService(repo, repo, gateway, notifier, cache)

	cutoff := time.Now().Add(-cfg.StaleAfter)
	stale, err := repo.ListStale(ctx, cutoff, cfg.StaleBatch)
	if err != nil {
		log.Fatal().Err(err).Msg("stale payment scan failed")
	}
	log.Info().Int("count", len(stale)).Msg("stale payments found")

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup

	for _, p := range stale {
		p := p

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, int64(1)); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(int64(1))

			if err := svc.Reconcile(ctx, p); err != nil {
				log.Warn().Str("payment_id", p.ID).Err(err).Msg("reconcile failed")
				return
			}
			log.Info().Str("payment_id", p.ID).Msg("reconcile ok")
		}()
	}

	wg.Wait()
	log.Info().Msg("reconciliation completed")
}
