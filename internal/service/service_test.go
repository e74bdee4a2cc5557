package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemolabs/palace/internal/adapter/hashembed"
	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/chunker"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain/address"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(context.Background(), sqlite.Options{
		Path:                 filepath.Join(dir, "palace.db"),
		MigrationLockTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// services bundles a fully wired test stack over one temp store.
type services struct {
	store     *sqlite.Store
	resolver  *Resolver
	guard     *WriteGuard
	lane      *WriteLane
	ledger    *Ledger
	worker    *IndexWorker
	retrieval *Retrieval
	memories  *Memories
	cfg       config.Config
}

func newServices(t *testing.T) *services {
	t.Helper()
	return newServicesCfg(t, nil)
}

// newServicesCfg wires the stack over Defaults() after applying mutate.
func newServicesCfg(t *testing.T, mutate func(cfg *config.Config)) *services {
	t.Helper()
	cfg := config.Defaults()
	cfg.Index.QueueCapacity = 16
	cfg.Index.RecentJobsRing = 8
	if mutate != nil {
		mutate(&cfg)
	}

	log := testLogger()
	store := openStore(t)
	embedder := hashembed.New(64)

	s := &services{store: store, cfg: cfg}
	s.resolver = NewResolver(store, cfg.Resolver, cfg.Vitality, log)
	s.guard = NewWriteGuard(store, embedder, nil, cfg.Guard, log)
	s.lane = NewWriteLane(cfg.Lane.GlobalConcurrency, cfg.Lane.WaitTimeout)
	s.ledger = NewLedger(store, s.lane, log)
	s.worker = NewIndexWorker(store, embedder, "hash-v1", cfg.Index, chunker.Options{Size: cfg.Retrieval.ChunkSize, Overlap: cfg.Retrieval.ChunkOverlap}, log)
	s.retrieval = NewRetrieval(store, embedder, nil, cfg.Retrieval, log)
	s.memories = NewMemories(store, s.resolver, s.guard, s.lane, s.ledger, s.worker, s.retrieval, cfg.Index, log)
	return s
}

// drain executes every queued index job synchronously.
func (s *services) drain(t *testing.T) {
	t.Helper()
	for {
		select {
		case job := <-s.worker.queue:
			s.worker.execute(context.Background(), job)
		default:
			return
		}
	}
}

func mustAddr(t *testing.T, raw string) address.Address {
	t.Helper()
	a, err := address.Parse(raw, []string{"core", "writer", "game", "notes"})
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return a
}
