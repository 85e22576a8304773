package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jmaddux/frontdesk/internal/admission"
	"github.com/jmaddux/frontdesk/internal/api"
	"github.com/jmaddux/frontdesk/internal/auth"
	"github.com/jmaddux/frontdesk/internal/bridge"
	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/metrics"
	"github.com/jmaddux/frontdesk/internal/storage"
	"github.com/jmaddux/frontdesk/internal/telephony"
	"github.com/jmaddux/frontdesk/internal/workflow"
	"github.com/jmaddux/frontdesk/pkg/middleware"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Str("telephony_mode", string(cfg.TelephonyMode)).
		Str("log_level", cfg.LogLevel).
		Msg("starting frontdesk server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create call store
	store, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Admission control
	limiter := admission.NewLimiter(admission.Limits{
		PerSecond: cfg.BurstLimit,
		PerMinute: cfg.MinuteLimit,
		PerHour:   cfg.HourLimit,
	}, cfg.KeyIdleEvict, log.Logger)
	go limiter.Start(ctx.Done())

	gate := admission.NewGate(cfg.TelephonyMode, store, log.Logger)

	// Live call registry
	registry := bridge.NewRegistry()

	// Post-call workflow
	analyzer := workflow.NewLexiconAnalyzer()
	messenger := workflow.NewMessenger(cfg, log.Logger)
	engine := workflow.NewEngine(cfg, store, analyzer, messenger, log.Logger)
	sink := workflow.NewSink(engine, log.Logger)

	// Call runner bridges telephony streams to the voice agent
	runner := bridge.NewRunner(ctx, cfg, store, registry, sink, log.Logger)

	// Telephony endpoints
	streamHandler := telephony.NewStreamHandler(runner, cfg, log.Logger)
	webhookHandler := telephony.NewWebhookHandler(cfg, limiter, store, log.Logger)
	dialer := telephony.NewDialer(cfg, gate, limiter, log.Logger)

	// Admin API
	adminHandler := api.NewAdminHandler(limiter, registry, store, dialer, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Telephony routes (called by the provider, validated by signature not JWT)
	r.Route("/telephony", func(r chi.Router) {
		r.Post("/voice", webhookHandler.HandleVoice)
		r.Post("/status", webhookHandler.HandleStatus)
		r.Get("/stream", streamHandler.ServeHTTP)
	})

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(api.RequireStaffOrAdmin)
			r.Get("/status", adminHandler.GetStatus)
			r.Get("/calls", adminHandler.ListCalls)
			r.Get("/calls/{callSid}", adminHandler.GetCall)
			r.Get("/calls/{callSid}/workflow", adminHandler.GetWorkflowResult)
		})

		r.Group(func(r chi.Router) {
			r.Use(api.RequireAdmin)
			r.Get("/limiter", adminHandler.GetLimiterStats)
			r.Get("/consent/{number}", adminHandler.GetConsent)
			r.Put("/consent/{number}", adminHandler.PutConsent)
			r.Post("/dial", adminHandler.Dial)
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop accepting new bridges and let live calls drain
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"frontdesk"}`)
}
