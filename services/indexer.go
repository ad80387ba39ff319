package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"paper-alerts/embedding"
	"paper-alerts/models"
	"paper-alerts/store"
)

// Outcome eines einzelnen Embedding-Versuchs.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeEmbedded Outcome = "embedded"
	OutcomeFailed   Outcome = "failed"
	// OutcomeStale: Text hat sich während der Berechnung geändert, Vektor verworfen.
	OutcomeStale Outcome = "stale"
)

// BackfillStats zählt die Ergebnisse eines Backfill-Laufs.
type BackfillStats struct {
	Attempted int `json:"attempted"`
	Embedded  int `json:"embedded"`
	Failed    int `json:"failed"`
	Stale     int `json:"stale"`
}

// EmbeddingIndexer hält die Embeddings der Paper synchron zu Titel und Abstract.
type EmbeddingIndexer struct {
	store     store.Store
	provider  embedding.Provider
	logger    *zap.Logger
	batchSize int
	now       func() time.Time
}

// NewEmbeddingIndexer erstellt einen Indexer. provider darf nil sein; dann wird jeder Versuch als Fehler protokolliert.
func NewEmbeddingIndexer(s store.Store, provider embedding.Provider, logger *zap.Logger, batchSize int) *EmbeddingIndexer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &EmbeddingIndexer{store: s, provider: provider, logger: logger, batchSize: batchSize, now: time.Now}
}

// EnsureEmbedding berechnet das Embedding, falls es fehlt oder veraltet ist.
// Dienstfehler werden am Paper vermerkt und nicht an den Aufrufer gereicht;
// nur Speicherfehler kommen als error zurück.
func (x *EmbeddingIndexer) EnsureEmbedding(ctx context.Context, p *models.Paper) (Outcome, error) {
	if p.EmbeddingFresh() {
		return OutcomeSkipped, nil
	}
	vecs, err := x.embed(ctx, []string{p.EmbeddingSource()})
	if err != nil {
		return OutcomeFailed, x.recordFailure(ctx, p.ID, err)
	}
	written, err := x.store.SetEmbedding(ctx, p.ID, vecs[0], models.SourceHash(p.Title, p.Abstract))
	if err != nil {
		return OutcomeFailed, err
	}
	if !written {
		return OutcomeStale, nil
	}
	return OutcomeEmbedded, nil
}

// Backfill läuft per Cursor über alle Paper ohne gültiges Embedding, ein Request pro Batch.
// Jeder Eintrag erhält mindestens einen protokollierten Versuch.
func (x *EmbeddingIndexer) Backfill(ctx context.Context) (BackfillStats, error) {
	var stats BackfillStats
	var cursor uint
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := x.store.MissingEmbeddings(ctx, cursor, x.batchSize)
		if err != nil {
			return stats, fmt.Errorf("load papers without embedding: %w", err)
		}
		if len(batch) == 0 {
			return stats, nil
		}
		cursor = batch[len(batch)-1].ID

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].EmbeddingSource()
		}
		stats.Attempted += len(batch)

		vecs, err := x.embed(ctx, texts)
		if err != nil {
			x.logger.Warn("Embedding-Batch fehlgeschlagen",
				zap.Int("batch_size", len(batch)), zap.Uint("first_id", batch[0].ID), zap.Error(err))
			for i := range batch {
				if rerr := x.recordFailure(ctx, batch[i].ID, err); rerr != nil {
					return stats, rerr
				}
			}
			stats.Failed += len(batch)
			continue
		}
		for i := range batch {
			hash := models.SourceHash(batch[i].Title, batch[i].Abstract)
			written, err := x.store.SetEmbedding(ctx, batch[i].ID, vecs[i], hash)
			if err != nil {
				return stats, err
			}
			if !written {
				stats.Stale++
				continue
			}
			stats.Embedded++
		}
		x.logger.Debug("Embedding-Batch gespeichert", zap.Int("count", len(batch)), zap.Uint("cursor", cursor))
	}
}

func (x *EmbeddingIndexer) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if x.provider == nil {
		return nil, embedding.ErrUnavailable
	}
	vecs, err := x.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %d vectors for %d texts", embedding.ErrUnavailable, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if err := embedding.CheckDimensions(v, x.provider.Dimensions()); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (x *EmbeddingIndexer) recordFailure(ctx context.Context, id uint, cause error) error {
	embeddingFailures.Inc()
	x.logger.Warn("Embedding fehlgeschlagen, Paper bleibt nur per Stichwort auffindbar",
		zap.Uint("paper_id", id), zap.Error(cause))
	if err := x.store.RecordEmbeddingFailure(ctx, id, cause.Error(), x.now()); err != nil {
		return fmt.Errorf("record embedding failure: %w", err)
	}
	return nil
}
