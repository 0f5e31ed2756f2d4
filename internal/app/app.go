package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"vectorflow/internal/config"
	"vectorflow/internal/core"
	db "vectorflow/internal/core/database"
	"vectorflow/internal/core/ingestion"
	"vectorflow/internal/core/llm"
	"vectorflow/internal/core/objectstore"
	"vectorflow/internal/core/progress"
)

type App struct {
	Config    *config.Config
	DBClient  core.DbClient
	Embedder  *llm.GeminiEmbedder
	Store     *progress.Store
	Tracker   *progress.Tracker
	Processor *ingestion.Processor
	Server    *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}

	var archive core.ObjectClient
	if cfg.ArchiveEnabled() {
		archive, err = objectstore.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the archive client: %w", err)
		}
	} else {
		log.Println("Raw upload archiving disabled (no AWS credentials/bucket).")
	}

	extractor := ingestion.NewDocconvExtractor(false)

	store := progress.NewStore()
	tracker := progress.NewTracker(store)

	processor := ingestion.NewProcessor(dbClient, embedder, extractor, tracker, &ingestion.Config{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		BatchSize:      cfg.EmbedBatchSize,
		MaxRetries:     cfg.EmbedMaxRetries,
		RetryBaseDelay: cfg.EmbedRetryBaseDelay,
		ProcessTimeout: cfg.ProcessTimeout,
	})

	server := NewServer(cfg, dbClient, archive, processor, store, tracker, embedder)

	return &App{
		Config:    cfg,
		DBClient:  dbClient,
		Embedder:  embedder,
		Store:     store,
		Tracker:   tracker,
		Processor: processor,
		Server:    server,
	}, nil
}

// Run starts the ingest workers and the HTTP server, and blocks until ctx
// is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Processor.Start(gctx, a.Config.IngestWorkers)

	g.Go(func() error {
		return a.Server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Close() {
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
