package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/bot"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/database"
	"github.com/stemsi/drivertest-bot/internal/handler"
	"github.com/stemsi/drivertest-bot/internal/logger"
	"github.com/stemsi/drivertest-bot/internal/middleware"
	"github.com/stemsi/drivertest-bot/internal/repository"
	"github.com/stemsi/drivertest-bot/internal/router"
	"github.com/stemsi/drivertest-bot/internal/service"
	"github.com/stemsi/drivertest-bot/internal/sheets"
	"github.com/stemsi/drivertest-bot/internal/validator"
	"github.com/stemsi/drivertest-bot/internal/worker"
)

const (
	loginAttempts = 10
	loginWindow   = time.Minute
	drainTimeout  = 15 * time.Second
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Stringer("config", cfg).
		Msg("Starting driver test bot")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to Redis ──────────────────────────────────────────────
	// The durable session store is the double-start guard; no Redis, no bot.
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Google Sheets ──────────────────────────────────────
	backend, err := sheets.Dial(ctx, cfg.GoogleCredentials, cfg.SheetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Google Sheets")
	}
	sheet := sheets.NewClient(backend, cfg.Location, log)

	// ─── Connect to Telegram ───────────────────────────────────────────
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to authorize Telegram bot")
	}
	log.Info().Str("username", api.Self.UserName).Msg("Telegram bot authorized")

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewSessionRepository(rdb)
	conversationRepo := repository.NewConversationRepository(rdb, cfg.ConversationTTL)
	monitorRepo := repository.NewMonitorRepository(rdb)
	resultQueue := repository.NewResultQueue(rdb)
	resultRepo := repository.NewResultRepository(pool)

	// ─── Initialize Chat Front End ─────────────────────────────────────
	presenter := bot.NewPresenter(api, log)
	dispatcher := bot.NewDispatcher(log)

	// ─── Initialize Services ──────────────────────────────────────────
	engine := service.NewSessionEngine(service.SessionEngineDeps{
		Sessions:      sessionRepo,
		Conversations: conversationRepo,
		Bank:          sheet,
		Recorder:      sheet,
		Archiver:      resultQueue,
		Events:        monitorRepo,
		Presenter:     presenter,
		Dispatch:      dispatcher.Submit,
	}, service.SessionEngineOptions{
		TTLPadding: cfg.SessionTTLPadding,
		Pacing:     cfg.AnswerPacing,
		Location:   cfg.Location,
	}, log)

	authService := service.NewAuthService(cfg, rdb)
	registrationService := service.NewRegistrationService(sheet, log)
	campaignService := service.NewCampaignService(sheet, cfg.Location, log)
	statsService := service.NewStatsService(sheet)
	notificationService := service.NewNotificationService(sheet, presenter, cfg.Location, log)
	monitorService := service.NewMonitorService(monitorRepo, log)

	chatHandler := bot.NewHandler(bot.HandlerDeps{
		Config:        cfg,
		Chat:          presenter,
		Conversations: conversationRepo,
		Engine:        engine,
		Registrations: registrationService,
		Campaigns:     campaignService,
		Stats:         statsService,
		Bank:          sheet,
	}, log)
	telegramBot := bot.New(api, chatHandler, dispatcher, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:     handler.NewAuthHandler(authService, log),
		Results:  handler.NewResultHandler(resultRepo, log),
		Sessions: handler.NewSessionHandler(engine, log),
		Monitor:  handler.NewMonitorHandler(monitorService, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(map[string]handler.Pinger{
			"redis":    handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			"postgres": pool,
		}, handler.RuntimeProbe{
			ActiveUsers:   dispatcher.Active,
			PendingTimers: engine.PendingTimers,
			QueueDepth:    resultQueue.Len,
		}, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	archiveWorker := worker.NewResultArchiveWorker(rdb, resultRepo, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		archiveWorker.Start(workerCtx)
	}()

	scheduler, err := worker.NewReminderScheduler(notificationService, cfg.ReminderCron, cfg.Location, log)
	if err != nil {
		log.Fatal().Err(err).Str("spec", cfg.ReminderCron).Msg("Invalid reminder schedule")
	}
	scheduler.Start()

	// ─── Resume Sessions From A Previous Run ──────────────────────────
	if n, err := engine.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to scan stored sessions")
	} else if n > 0 {
		log.Info().Int("sessions", n).Msg("Resuming stored sessions")
	}

	// ─── Start Telegram Polling ───────────────────────────────────────
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		if err := telegramBot.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Bot polling failed")
		}
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	loginLimiter := middleware.NewRateLimiter(rdb, loginAttempts, loginWindow, log)
	r := router.SetupRouter(authService, loginLimiter, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Admin API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop polling, then let queued chat work finish.
	<-botDone
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Int("active_users", dispatcher.Active()).Msg("Chat queues did not drain in time")
	}

	// 3. Stop the scheduler and drain the archive queue.
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Reminder job still running at shutdown")
	}
	workerCancel()
	workers.Wait()

	log.Info().Int("pending_timers", engine.PendingTimers()).Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
