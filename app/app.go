// Package app verdrahtet Konfiguration, Speicher und Dienste für Server und CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-alerts/alerts"
	"paper-alerts/config"
	"paper-alerts/embedding"
	"paper-alerts/providers"
	"paper-alerts/providers/acm"
	"paper-alerts/providers/arxiv"
	"paper-alerts/providers/europepmc"
	"paper-alerts/providers/unpaywall"
	"paper-alerts/services"
	"paper-alerts/storage"
	"paper-alerts/store"
	"paper-alerts/topics"
)

// App hält alle Dienste einer laufenden Instanz.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *gorm.DB
	Store      store.Store
	Classifier *topics.Classifier
	Embedder   embedding.Provider
	Objects    storage.ObjectStore

	Normalizer *services.AlertNormalizer
	Indexer    *services.EmbeddingIndexer
	Search     *services.SearchEngine
	Ingest     *services.IngestService
	Summaries  *services.SummaryService
	Retag      *services.RetagService
	Export     *services.ExportService

	closers []func() error
}

// Options steuern, was beim Aufbau verbunden wird.
type Options struct {
	// Memory ersetzt Postgres durch den In-Memory-Speicher (Dry-Run).
	Memory bool
	// Migrate führt die Schema-Migration aus.
	Migrate bool
}

// New baut alle Komponenten. Optionale Dienste (Embeddings, Redis, S3, LLM) werden
// bei fehlender Konfiguration mit einer Warnung übersprungen.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	classifier, err := LoadClassifier(cfg)
	if err != nil {
		return nil, err
	}
	a.Classifier = classifier

	if opts.Memory {
		a.Store = store.NewMemory(classifier)
	} else {
		db, err := store.Open(cfg.DSN(), cfg.DebugSQL)
		if err != nil {
			return nil, err
		}
		a.DB = db
		pg := store.NewPostgres(db, classifier, logger)
		if opts.Migrate {
			logger.Info("Running database auto-migration...")
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		a.Store = pg
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
	}

	a.Embedder = a.buildEmbedder()
	if cfg.S3Enabled() {
		client, err := storage.NewS3Client(cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		a.Objects = storage.NewS3Store(client, cfg.S3Bucket)
	}

	a.Normalizer = services.NewAlertNormalizer(logger, Enrichers(cfg, logger), cfg.EnrichTimeout)
	a.Indexer = services.NewEmbeddingIndexer(a.Store, a.Embedder, logger, cfg.EmbeddingBatchSize)
	a.Search = services.NewSearchEngine(a.Store, a.Embedder, logger, services.SearchConfig{
		PageSize:  cfg.PageSize,
		Threshold: cfg.SemanticThreshold,
		TopK:      cfg.SemanticTopK,
	})
	a.Ingest = &services.IngestService{
		Source:     alerts.NewDirSource(cfg.AlertDir, cfg.AlertSender, logger),
		Normalizer: a.Normalizer,
		Classifier: classifier,
		Store:      a.Store,
		Indexer:    a.Indexer,
		Logger:     logger,
		SourceName: cfg.AlertSourceName,
		Lookback:   time.Duration(cfg.LookbackDays) * 24 * time.Hour,
	}
	if cfg.ArchiveRawAlerts && a.Objects != nil {
		a.Ingest.Archive = a.Objects
	}
	a.Summaries = services.NewSummaryService(a.Store, a.buildSummarizer(), logger)
	a.Retag = services.NewRetagService(a.Store, classifier, logger)
	a.Export = services.NewExportService(a.Store, a.Objects, cfg.ExportKeep, logger)
	return a, nil
}

// Close gibt Verbindungen frei.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.Logger.Warn("Schließen fehlgeschlagen", zap.Error(err))
		}
	}
}

// LoadClassifier nimmt das Vokabular aus TOPICS_FILE oder das eingebaute.
func LoadClassifier(cfg *config.Config) (*topics.Classifier, error) {
	if cfg.TopicsFile == "" {
		return topics.Default(), nil
	}
	v, err := topics.LoadFile(cfg.TopicsFile)
	if err != nil {
		return nil, err
	}
	return topics.NewClassifier(v), nil
}

// Enrichers liefert die aktivierten Metadaten-Quellen in Abfragereihenfolge.
func Enrichers(cfg *config.Config, logger *zap.Logger) []providers.Enricher {
	var out []providers.Enricher
	if cfg.ArxivEnabled {
		out = append(out, arxiv.NewFetcher(cfg, logger))
	}
	if cfg.ACMEnabled {
		out = append(out, acm.NewFetcher(cfg, logger))
	}
	if cfg.UnpaywallEmail != "" {
		out = append(out, unpaywall.NewFetcher(cfg, logger))
	}
	if cfg.EuropePMCEnabled {
		out = append(out, europepmc.NewFetcher(cfg, logger))
	}
	names := make([]string, 0, len(out))
	for _, e := range out {
		names = append(names, e.Name())
	}
	logger.Info("Active enrichers loaded", zap.Strings("enrichers", names))
	return out
}

func (a *App) buildEmbedder() embedding.Provider {
	cfg := a.Config
	if cfg.OpenAIAPIKey == "" {
		a.Logger.Warn("OPENAI_API_KEY fehlt, semantische Suche ist deaktiviert")
		return nil
	}
	oa, err := embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDim,
		Timeout:    cfg.EmbeddingTimeout,
		MaxRetries: cfg.EmbeddingMaxRetries,
	})
	if err != nil {
		a.Logger.Warn("Embedding-Provider nicht verfügbar", zap.Error(err))
		return nil
	}
	if cfg.RedisURL == "" {
		return oa
	}
	rdb, err := embedding.ConnectRedis(cfg.RedisURL)
	if err != nil {
		a.Logger.Warn("Redis nicht erreichbar, Query-Cache deaktiviert", zap.Error(err))
		return oa
	}
	a.closers = append(a.closers, rdb.Close)
	return embedding.NewCached(oa, rdb, cfg.QueryCacheTTL, a.Logger)
}

func (a *App) buildSummarizer() services.Summarizer {
	cfg := a.Config
	s, err := services.NewLLMSummarizer(services.LLMConfig{
		Provider: cfg.SummaryProvider,
		APIKey:   cfg.SummaryKey(),
		Model:    cfg.SummaryModel,
		Endpoint: cfg.SummaryEndpoint,
		Timeout:  cfg.SummaryTimeout,
	})
	if err != nil {
		a.Logger.Info("Zusammenfassungen deaktiviert", zap.Error(err))
		return nil
	}
	return s
}
