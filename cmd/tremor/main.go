package main

import (
	"log"
	"os"

	"github.com/seantiz/tremor/internal/api"
	"github.com/seantiz/tremor/internal/calc/openquake"
	"github.com/seantiz/tremor/internal/config"
	"github.com/seantiz/tremor/internal/engine"
	"github.com/seantiz/tremor/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("tremor: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"engine_url", cfg.EngineURL,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	remote := openquake.NewClient(cfg.EngineURL)
	eng := engine.NewEngine(db, remote, logger, cfg.PollInterval, cfg.PollTimeout)
	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
