package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"carecall-rtc/internal/analysis"
	"carecall-rtc/internal/audit"
	"carecall-rtc/internal/auth"
	"carecall-rtc/internal/config"
	"carecall-rtc/internal/events"
	"carecall-rtc/internal/httpapi"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/internal/reaper"
	"carecall-rtc/internal/rtc"
	"carecall-rtc/internal/store"
	"carecall-rtc/internal/takeover"
	"carecall-rtc/internal/tasks"
	"carecall-rtc/internal/webhook"
	"carecall-rtc/pkg/logger"
	"carecall-rtc/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	lkauth "github.com/livekit/protocol/auth"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.Migrate(rootCtx, db); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	minter, err := mediarouter.NewMinter(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL)
	if err != nil {
		log.Error("livekit token minter init failed", "err", err)
		os.Exit(1)
	}
	router := mediarouter.NewLiveKit(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)

	queue, runner, closeQueue := newQueue(cfg, log)
	defer closeQueue()

	bus := events.NewRedisBus(rdb, events.DefaultChannel, log)
	hub := events.NewHub(log)
	claims := utils.NewClaimer(rdb, "")
	pg := store.NewPostgres(db)

	reg := rtc.NewRegistrar(pg, router, bus, queue, rtc.RegistrarConfig{
		AgentName:    cfg.LiveKit.AgentName,
		SystemCaller: cfg.RTC.SystemCaller,
	}, log)
	issuer := rtc.NewIssuer(pg, reg, minter, cfg.LiveKit.URL, log)
	rp := reaper.New(router, bus, queue, reaper.Config{MinRoomAge: cfg.Reaper.MinRoomAge}, log)
	tc := takeover.New(router, bus, takeover.Config{MuteAgentTracks: cfg.RTC.TakeoverMuteAgentTrks}, log)
	analyzer := analysis.NewClient(cfg.Analysis.BaseURL, cfg.Analysis.InternalToken, cfg.Analysis.Timeout)
	proc := webhook.NewProcessor(pg, analyzer, claims, bus, queue, webhook.Config{}, log)

	runner.Register(tasks.TypeDispatchAgent, reg.HandleDispatch)
	runner.Register(tasks.TypeReapRoom, rp.HandleReapTask)
	runner.Register(tasks.TypeFinalizeCall, proc.HandleFinalize)
	runner.Register(tasks.TypeAnswerCall, proc.HandleAnswer)

	var keys lkauth.KeyProvider
	if cfg.LiveKit.VerifyWebhook {
		keys = lkauth.NewSimpleKeyProvider(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
	}

	h := httpapi.Handlers{
		Issuer:    issuer,
		Registrar: reg,
		Reaper:    rp,
		Takeover:  tc,
		Audit:     audit.NewService(audit.NewPostgresRepo(db)),
		Hub:       hub,
		RouterURL: cfg.LiveKit.URL,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, h, authManager, webhook.NewHandler(proc, keys, log))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: the events endpoint holds websockets open
	}

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("background worker stopped", "worker", name, "err", err)
			}
		}()
	}

	background("tasks", runner.Run)
	background("events", func(ctx context.Context) error {
		return bus.Listen(ctx, func(e events.Event) { hub.Broadcast(e) })
	})
	background("reaper", func(ctx context.Context) error {
		rp.Run(ctx, cfg.Reaper.Interval, claims)
		return nil
	})

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "tasks", cfg.Tasks.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("background workers did not stop in time")
	}
}

// newQueue picks the deferred-task backend. The memory queue serves a single
// replica; asynq persists tasks in Redis and retries them.
func newQueue(cfg config.Config, log *slog.Logger) (tasks.Enqueuer, tasks.Runner, func()) {
	if cfg.Tasks.Backend == config.TasksBackendAsynq {
		client := tasks.NewAsynqClient(cfg.RedisAddr())
		server := tasks.NewAsynqServer(cfg.RedisAddr(), cfg.Tasks.Workers, log)
		return client, server, func() { _ = client.Close() }
	}
	q := tasks.NewMemoryQueue(cfg.Tasks.QueueSize, cfg.Tasks.Workers, log)
	return q, q, func() {}
}
