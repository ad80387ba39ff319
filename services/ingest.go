package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"paper-alerts/alerts"
	"paper-alerts/models"
	"paper-alerts/storage"
	"paper-alerts/store"
	"paper-alerts/topics"
)

// ErrIngestRunning: in diesem Prozess läuft bereits ein Import.
var ErrIngestRunning = errors.New("ingestion already running")

// RunOptions steuern einen Importlauf.
type RunOptions struct {
	// Since überschreibt den Startzeitpunkt; sonst gilt das Watermark bzw. der Lookback.
	// Mit Since wird das ganze Fenster erneut gelesen, auch bereits verarbeitete Nachrichten.
	Since          time.Time
	MaxMessages    int
	SkipTags       bool
	SkipEmbeddings bool
}

// RunSummary fasst einen Importlauf zusammen. Einzelfehler erscheinen nur als Zähler.
type RunSummary struct {
	RunID           string                 `json:"run_id"`
	StartedAt       time.Time              `json:"started_at"`
	Duration        time.Duration          `json:"duration"`
	Messages        int                    `json:"messages"`
	SkippedMessages int                    `json:"skipped_messages"`
	Parsed          int                    `json:"parsed"`
	ParseFailures   int                    `json:"parse_failures"`
	Inserted        int                    `json:"inserted"`
	Merged          int                    `json:"merged"`
	Unchanged       int                    `json:"unchanged"`
	EnrichFailures  map[string]int         `json:"enrich_failures"`
	EmbedAttempted  int                    `json:"embed_attempted"`
	Embedded        int                    `json:"embedded"`
	EmbedFailed     int                    `json:"embed_failed"`
	EmbedStale      int                    `json:"embed_stale"`
	Watermark       models.IngestWatermark `json:"watermark"`
}

// IngestService verarbeitet Alert-Nachrichten zu gespeicherten, getaggten und indexierten Papern.
type IngestService struct {
	Source     alerts.Source
	Normalizer *AlertNormalizer
	Classifier *topics.Classifier
	Store      store.Store
	Indexer    *EmbeddingIndexer
	// Archive ist optional; gesetzt wird jede verarbeitete Nachricht als HTML abgelegt.
	Archive    storage.ObjectStore
	Logger     *zap.Logger
	SourceName string
	Lookback   time.Duration

	mu sync.Mutex
}

// RunScheduled lädt das gespeicherte Watermark und startet einen Lauf.
func (s *IngestService) RunScheduled(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	wm, err := s.Store.Watermark(ctx, s.SourceName)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	return s.Run(ctx, wm, opts)
}

// Run verarbeitet alle Nachrichten nach dem Watermark. Nachrichten, die das
// Watermark bereits abdeckt, werden übersprungen; nach jeder Nachricht wird es
// gespeichert. Speicherfehler brechen den Lauf ab und kommen mit der Teilsumme zurück.
func (s *IngestService) Run(ctx context.Context, wm models.IngestWatermark, opts RunOptions) (*RunSummary, error) {
	if !s.mu.TryLock() {
		return nil, ErrIngestRunning
	}
	defer s.mu.Unlock()

	started := time.Now()
	summary := &RunSummary{
		RunID:          uuid.New().String(),
		StartedAt:      started,
		EnrichFailures: map[string]int{},
	}
	log := s.Logger.With(zap.String("run_id", summary.RunID))
	defer func() {
		summary.Duration = time.Since(started)
		ingestDuration.Observe(summary.Duration.Seconds())
	}()
	if wm.Source == "" {
		wm.Source = s.SourceName
	}

	since := opts.Since
	if since.IsZero() {
		since = wm.LastReceivedAt
	}
	if since.IsZero() && s.Lookback > 0 {
		since = started.Add(-s.Lookback)
	}
	log.Info("Import gestartet", zap.Time("since", since), zap.Int("max_messages", opts.MaxMessages))

	msgs, err := s.Source.Fetch(ctx, since, opts.MaxMessages)
	if err != nil {
		return summary, fmt.Errorf("fetch alerts: %w", err)
	}

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if opts.Since.IsZero() && wm.Covers(msg.ReceivedAt, msg.ID) {
			summary.SkippedMessages++
			continue
		}
		if err := s.processMessage(ctx, log, msg, opts, summary); err != nil {
			return summary, err
		}
		wm.Advance(msg.ReceivedAt, msg.ID)
		if err := s.Store.SaveWatermark(ctx, wm); err != nil {
			return summary, fmt.Errorf("save watermark: %w", err)
		}
		summary.Messages++
	}
	summary.Watermark = wm

	if !opts.SkipEmbeddings && s.Indexer != nil {
		stats, err := s.Indexer.Backfill(ctx)
		summary.EmbedAttempted = stats.Attempted
		summary.Embedded = stats.Embedded
		summary.EmbedFailed = stats.Failed
		summary.EmbedStale = stats.Stale
		if err != nil {
			return summary, fmt.Errorf("embedding backfill: %w", err)
		}
	}

	log.Info("Import abgeschlossen",
		zap.Int("messages", summary.Messages),
		zap.Int("skipped_messages", summary.SkippedMessages),
		zap.Int("parsed", summary.Parsed),
		zap.Int("parse_failures", summary.ParseFailures),
		zap.Int("inserted", summary.Inserted),
		zap.Int("merged", summary.Merged),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("embedded", summary.Embedded),
		zap.Int("embed_failed", summary.EmbedFailed),
		zap.Int("embed_stale", summary.EmbedStale),
	)
	return summary, nil
}

func (s *IngestService) processMessage(ctx context.Context, log *zap.Logger, msg alerts.Message, opts RunOptions, summary *RunSummary) error {
	log = log.With(zap.String("message_id", msg.ID))

	if s.Archive != nil {
		if err := s.Archive.Put(ctx, ArchiveKey(msg), []byte(msg.HTML), "text/html; charset=utf-8"); err != nil {
			log.Warn("Archivierung der Nachricht fehlgeschlagen", zap.Error(err))
		}
	}

	res := s.Normalizer.NormalizeMessage(ctx, msg.HTML)
	summary.ParseFailures += res.ParseFailures
	parseFailures.Add(float64(res.ParseFailures))
	for name, n := range res.EnrichFailures {
		summary.EnrichFailures[name] += n
	}

	day := models.DateOnly(msg.ReceivedAt)
	for _, p := range res.Papers {
		summary.Parsed++
		if !opts.SkipTags && s.Classifier != nil {
			p.Topics = s.Classifier.ClassifyPaper(p.Title, p.Abstract)
		}
		p.RecommendedDate = day
		p.LastRecommendedDate = day
		p.SourceMessageID = msg.ID

		ur, err := s.Store.Upsert(ctx, p)
		if errors.Is(err, store.ErrEmptyTitle) {
			summary.ParseFailures++
			parseFailures.Inc()
			log.Warn("Paper ohne verwertbaren Titel verworfen", zap.String("title", p.Title))
			continue
		}
		if err != nil {
			log.Error("Speichern fehlgeschlagen", zap.String("title", p.Title), zap.Error(err))
			return err
		}
		switch {
		case ur.Inserted:
			summary.Inserted++
			papersInserted.Inc()
		case ur.Changed:
			summary.Merged++
			papersMerged.Inc()
		default:
			summary.Unchanged++
		}
	}
	log.Debug("Nachricht verarbeitet", zap.Int("papers", len(res.Papers)), zap.Int("parse_failures", res.ParseFailures))
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArchiveKey ist der Objektschlüssel einer archivierten Nachricht.
func ArchiveKey(msg alerts.Message) string {
	id := unsafeKeyChars.ReplaceAllString(msg.ID, "_")
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("alerts/%s/%s.html", msg.ReceivedAt.UTC().Format("2006/01"), id)
}
