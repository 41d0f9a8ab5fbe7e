package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tidechat/tide/internal/ai"
	"github.com/tidechat/tide/internal/auth"
	"github.com/tidechat/tide/internal/chat"
	"github.com/tidechat/tide/internal/config"
	"github.com/tidechat/tide/internal/server"
	"github.com/tidechat/tide/internal/storage/sqlite"
)

func main() {
	setupLogger()

	cfg := config.LoadServerConfig()

	store, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	core := chat.NewCore(chat.Config{
		Store:        store,
		Responder:    ai.Canned{},
		Logger:       log.Logger,
		SeedRooms:    cfg.SeedRooms,
		HistoryLimit: cfg.HistoryLimit,
		TypingWindow: cfg.TypingWindow,
		AIReplyDelay: cfg.AIReplyDelay,
		BotName:      cfg.BotName,
	})

	srv := server.NewServer(cfg, core, store, auth.NewVerifier(cfg.JWT), log.Logger)

	errCh := make(chan error, 2)
	go func() { errCh <- srv.RunTCP(ctx) }()
	go func() { errCh <- srv.RunWS(ctx) }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			log.Fatal().Err(err).Msg("server shutdown")
		}
	}
}

func setupLogger() {
	level, err := zerolog.ParseLevel(envOrDefault("TIDE_LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return env
	}
	return value
}
