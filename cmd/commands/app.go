package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/skillhub/internal/bundle"
	"github.com/dohr-michael/skillhub/internal/catalog"
	"github.com/dohr-michael/skillhub/internal/collect"
	"github.com/dohr-michael/skillhub/internal/config"
	"github.com/dohr-michael/skillhub/internal/events"
	"github.com/dohr-michael/skillhub/internal/exec"
	"github.com/dohr-michael/skillhub/internal/ingest"
	"github.com/dohr-michael/skillhub/internal/jobs"
	"github.com/dohr-michael/skillhub/internal/search"
)

// app holds the wired component graph shared by the CLI commands.
type app struct {
	cfg       *config.Config
	store     *catalog.SQLStore
	bus       *events.Bus
	index     *search.VectorIndex // nil when embedding is disabled
	router    *search.Router
	assembler *bundle.Assembler
	collector *collect.Collector
	adapter   *exec.Adapter
	orch      *jobs.Orchestrator
}

// newApp loads configuration and wires every component.
func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	store, err := catalog.NewSQLStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	bus := events.NewBus(cfg.Events.BufferSize)

	var index *search.VectorIndex
	embedder, err := search.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		slog.Warn("embedder unavailable, similarity search disabled", "error", err)
	} else if embedder != nil {
		index, err = search.NewVectorIndex(cfg.Store.VectorDir, search.BridgeEmbedder(ctx, embedder))
		if err != nil {
			slog.Warn("vector index unavailable, similarity search disabled", "error", err)
			index = nil
		}
	}

	scanner := ingest.NewScanner(cfg.Ingest.Root, cfg.Ingest.Exclude)
	var ingestIndex ingest.Index
	var orchIndex jobs.Index
	if index != nil {
		ingestIndex = index
		orchIndex = index
	}
	ingestor := ingest.NewIngestor(store, store, ingestIndex, bus)

	a := &app{
		cfg:       cfg,
		store:     store,
		bus:       bus,
		index:     index,
		assembler: bundle.NewAssembler(store, store, bus),
		collector: collect.NewCollector(cfg.Sessions.Timeout.Duration(), bus),
		adapter:   exec.NewAdapter(cfg.Exec.Timeout.Duration(), bus),
		orch:      jobs.NewOrchestrator(scanner, ingestor, store, orchIndex, bus),
	}

	var semanticIndex search.SemanticIndex
	if index != nil {
		semanticIndex = index
	}
	a.router = search.NewRouter(store, semanticIndex, bus, cfg.Search.DefaultLimit, cfg.Search.MinScore)
	return a, nil
}

func (a *app) Close() {
	a.orch.Close()
	a.collector.Close()
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("closing catalog", "error", err)
	}
}
