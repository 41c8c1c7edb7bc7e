package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/palguna26/Quantum-Review/internal/api"
	"github.com/palguna26/Quantum-Review/internal/config"
	"github.com/palguna26/Quantum-Review/internal/githubapp"
	"github.com/palguna26/Quantum-Review/internal/jobs"
	"github.com/palguna26/Quantum-Review/internal/notify"
	"github.com/palguna26/Quantum-Review/internal/queue"
	"github.com/palguna26/Quantum-Review/internal/scheduler"
	"github.com/palguna26/Quantum-Review/internal/store"
	"github.com/palguna26/Quantum-Review/internal/webhook"
	"github.com/palguna26/Quantum-Review/internal/worker"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "HTTP bind address")
		dbPath      = flag.String("db", "quantumreview.db", "SQLite DB path")
		workers     = flag.Int("workers", 8, "number of worker goroutines")
		poll        = flag.Duration("poll", 250*time.Millisecond, "poll interval for queue")
		schedEvery  = flag.Duration("schedule-interval", 30*time.Second, "schedule check interval")
		refreshCron = flag.String("refresh-cron", "0 * * * *", "cron expression for repository refresh")
		debug       = flag.Bool("debug", false, "enable pprof endpoints")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := queue.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure queue schema")
	}
	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure store schema")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	repo := queue.NewSQLiteRepo(db)
	if n, err := repo.RecoverStale(context.Background(), time.Now()); err == nil {
		log.Info().Int("recovered", n).Msg("recovered stale running jobs")
	}

	auth, err := githubapp.NewAppAuth(cfg.GitHubAppID, cfg.GitHubPrivateKeyPEM, cfg.AppJWTExpiry)
	if err != nil {
		log.Fatal().Err(err).Msg("github app auth")
	}
	tokens := githubapp.NewTokenSource(auth, rdb, cfg.GitHubAPIBase, cfg.TokenCacheMargin)
	gh := githubapp.NewClient(tokens, cfg.GitHubAPIBase)

	st := store.New(db)
	publisher := notify.NewPublisher(rdb)

	deps := &jobs.Deps{Store: st, GitHub: gh, Notify: publisher}
	registry := worker.Registry{}
	if err := deps.Register(registry); err != nil {
		log.Fatal().Err(err).Msg("register job handlers")
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(repo, registry, *workers, *poll)
	go pool.Run(ctx)

	sched := scheduler.NewService(repo, *schedEvery)
	if err := sched.EnsureRefreshSchedule(ctx, *refreshCron); err != nil {
		log.Fatal().Err(err).Msg("ensure refresh schedule")
	}
	go sched.Start(ctx)

	handler := api.NewServer(api.Options{
		Queue:         repo,
		Store:         st,
		Router:        webhook.NewRouter(publisher),
		Deduper:       webhook.NewDeduper(rdb, cfg.DeliveryTTL),
		WebhookSecret: []byte(cfg.GitHubWebhookSecret),
		EnableDebug:   *debug,
	})

	srv := &http.Server{Addr: *addr, Handler: handler}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	sched.Stop()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
