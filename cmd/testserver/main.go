// testserver starts a tremor API server against a stub remote engine for E2E
// testing. Usage: go run ./cmd/testserver
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/seantiz/tremor/internal/api"
	"github.com/seantiz/tremor/internal/calc"
	"github.com/seantiz/tremor/internal/config"
	"github.com/seantiz/tremor/internal/engine"
	"github.com/seantiz/tremor/internal/store"
)

// stubRemote mimics the remote calculation engine: every job executes for a
// fixed number of status polls and then completes with canned loss rows.
type stubRemote struct {
	mu    sync.Mutex
	jobs  int
	polls map[string]int
}

const pollsUntilComplete = 3

func (s *stubRemote) Run(_ context.Context, spec calc.RunSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs++
	id := fmt.Sprintf("stub-%d", s.jobs)
	s.polls[id] = 0
	return id, nil
}

func (s *stubRemote) Status(_ context.Context, jobID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[jobID]; !ok {
		return "", fmt.Errorf("unknown job %s", jobID)
	}
	s.polls[jobID]++
	if s.polls[jobID] < pollsUntilComplete {
		return calc.JobExecuting, nil
	}
	return calc.JobComplete, nil
}

func (s *stubRemote) Extract(_ context.Context, _, _ string) ([]calc.AssetLoss, error) {
	return []calc.AssetLoss{
		{AssetID: "a1", LossValue: 1250.75},
		{AssetID: "a2", LossValue: 430.5},
		{AssetID: "a3", LossValue: 0},
	}, nil
}

func main() {
	addr := ":8080"
	if v := os.Getenv("TREMOR_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := config.NewLogger(os.Stdout, slog.LevelInfo)
	remote := &stubRemote{polls: make(map[string]int)}
	eng := engine.NewEngine(db, remote, logger, 200*time.Millisecond, time.Minute)
	srv := api.NewServer(addr, db, eng, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
