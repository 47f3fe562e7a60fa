package main

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kaiyuanwu/idiomfill/internal/httpserver"
	"github.com/kaiyuanwu/idiomfill/internal/i18n"
	"github.com/kaiyuanwu/idiomfill/internal/idiom"
	"github.com/kaiyuanwu/idiomfill/internal/store"
	"os"
)

func main() {
	_ = godotenv.Load()
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := idiom.Init(); err != nil {
		log.Fatal().Err(err).Msg("failed to load idiom catalog")
	}
	if err := i18n.Init(); err != nil {
		log.Fatal().Err(err).Msg("failed to load translations")
	}

	db, err := openDB(getEnv("DB_PATH", "./data/app.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	mem := store.NewMemoryStore()
	srv := httpserver.New(mem, db)
	port := getEnv("PORT", "5175")
	log.Info().Str("port", port).Msg("starting idiomfill server")
	if err := srv.Start(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
