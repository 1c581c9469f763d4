package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vshah-se/superpod/internal/capture"
	"github.com/vshah-se/superpod/internal/catalog"
	"github.com/vshah-se/superpod/internal/clock"
	"github.com/vshah-se/superpod/internal/config"
	"github.com/vshah-se/superpod/internal/httpserver"
	"github.com/vshah-se/superpod/internal/llm"
	"github.com/vshah-se/superpod/internal/media"
	"github.com/vshah-se/superpod/internal/playback"
	"github.com/vshah-se/superpod/internal/resolve"
	"github.com/vshah-se/superpod/internal/rtc"
	"github.com/vshah-se/superpod/internal/session"
	"github.com/vshah-se/superpod/internal/speech"
	"github.com/vshah-se/superpod/internal/storage"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	provider := buildCatalog(cfg, logger)

	var urls httpserver.URLResolver
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		st, err := storage.New(storage.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("supabase storage unavailable, serving raw locators")
		} else {
			urls = st
		}
	}

	var replies resolve.ReplyProvider
	if cfg.CerebrasKey != "" {
		replies = llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID)
	}
	resolver := resolve.New(replies, resolve.FallbackPolicy{
		FileID:    cfg.FallbackFileID,
		SegmentID: cfg.FallbackSegmentID,
	}, logger)

	sessCfg := session.Config{
		SilenceWindow:  cfg.SilenceWindow,
		ResumeDelay:    cfg.ResumeDelay,
		ProcessTimeout: cfg.ProcessTimeout,
		SpeakTimeout:   cfg.SpeakTimeout,
		AutoResume:     cfg.AutoResume,
	}

	// session for the typed-message surface; voice sessions are built
	// per WebRTC call
	transport := media.NewClockTransport(clock.New(), time.Second)
	coordinator := playback.NewCoordinator(transport, logger)
	captureAdapter := capture.NewAssemblyAI(cfg.AssemblyAIKey, logger)
	speechAdapter := speech.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramVoice, speech.NopSink{}, logger)
	ctrl := session.NewController(captureAdapter, speechAdapter, resolver, coordinator, provider, clock.New(), nil, sessCfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctrl.Run(ctx) }()

	rtcHandler := rtc.NewHandler(rtc.Options{
		AssemblyAIKey:     cfg.AssemblyAIKey,
		DeepgramKey:       cfg.DeepgramKey,
		DeepgramVoice:     cfg.DeepgramVoice,
		ICEServersJSON:    cfg.ICEServersJSON,
		SignalingPassword: cfg.SignalingPassword,
		Resolver:          resolver,
		Catalog:           provider,
		Session:           sessCfg,
	}, logger)

	srv := httpserver.New(ctrl, provider, urls, resolver, rtcHandler, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger
}

// buildCatalog prefers MySQL with an optional Redis read-through cache,
// and falls back to an empty in-memory store for local runs.
func buildCatalog(cfg config.Config, logger zerolog.Logger) catalog.Provider {
	var provider catalog.Provider
	if cfg.MySQLDSN != "" {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("open mysql")
		}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Fatal().Err(err).Msg("ping mysql")
		}
		provider = catalog.NewMySQLStore(db)
	} else {
		provider = catalog.NewMemoryStore()
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		provider = catalog.NewCachedProvider(provider, rdb, cfg.CatalogCacheTTL, logger)
	}
	return provider
}
