package services

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"paper-alerts/models"
	"paper-alerts/store"
	"paper-alerts/topics"
)

// ErrUnknownTopic: der Tag gehört nicht zum Vokabular.
var ErrUnknownTopic = errors.New("unknown topic")

const retagBatch = 500

// RetagStats zählt geprüfte und geänderte Paper.
type RetagStats struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

// RetagService berechnet Topics für bereits gespeicherte Paper neu.
type RetagService struct {
	store      store.Store
	classifier *topics.Classifier
	logger     *zap.Logger
}

func NewRetagService(s store.Store, classifier *topics.Classifier, logger *zap.Logger) *RetagService {
	return &RetagService{store: s, classifier: classifier, logger: logger}
}

// RetagAll ersetzt die Topics aller Paper durch das aktuelle Klassifikationsergebnis.
func (r *RetagService) RetagAll(ctx context.Context) (RetagStats, error) {
	stats, err := r.each(ctx, func(p *models.Paper) []string {
		return r.classifier.ClassifyPaper(p.Title, p.Abstract)
	})
	if err == nil {
		r.logger.Info("Alle Paper neu getaggt", zap.Int("scanned", stats.Scanned), zap.Int("updated", stats.Updated))
	}
	return stats, err
}

// RetagTopic prüft nur einen Tag neu; alle anderen Tags bleiben erhalten.
func (r *RetagService) RetagTopic(ctx context.Context, tag string) (RetagStats, error) {
	if !r.classifier.Known(tag) {
		return RetagStats{}, fmt.Errorf("%w: %q", ErrUnknownTopic, tag)
	}
	stats, err := r.each(ctx, func(p *models.Paper) []string {
		next := slices.DeleteFunc(slices.Clone(p.TopicList()), func(t string) bool { return t == tag })
		if r.classifier.Matches(tag, p.Title+" "+p.Abstract) {
			next = append(next, tag)
		}
		return next
	})
	if err == nil {
		r.logger.Info("Topic neu getaggt", zap.String("tag", tag), zap.Int("updated", stats.Updated))
	}
	return stats, err
}

// TagUntagged vergibt Topics nur an Paper, die noch keine haben.
func (r *RetagService) TagUntagged(ctx context.Context) (RetagStats, error) {
	return r.each(ctx, func(p *models.Paper) []string {
		if len(p.Topics) > 0 {
			return p.TopicList()
		}
		return r.classifier.ClassifyPaper(p.Title, p.Abstract)
	})
}

// each läuft per Cursor über alle Paper und schreibt nur geänderte Tag-Mengen.
func (r *RetagService) each(ctx context.Context, next func(p *models.Paper) []string) (RetagStats, error) {
	var (
		stats  RetagStats
		cursor uint
	)
	for {
		batch, err := r.store.Scan(ctx, cursor, retagBatch)
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			return stats, nil
		}
		for i := range batch {
			p := &batch[i]
			cursor = p.ID
			stats.Scanned++
			tags := r.classifier.Sanitize(next(p))
			if slices.Equal(tags, r.classifier.Sanitize(p.TopicList())) {
				continue
			}
			if err := r.store.SetTopics(ctx, p.ID, tags); err != nil {
				return stats, fmt.Errorf("set topics for %d: %w", p.ID, err)
			}
			stats.Updated++
		}
	}
}
