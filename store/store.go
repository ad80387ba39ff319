// Package store persistiert Paper dedupliziert über den normalisierten Titel.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"paper-alerts/models"
	"paper-alerts/topics"
)

var (
	// ErrNotFound wird zurückgegeben, wenn keine Paper-ID passt.
	ErrNotFound = errors.New("paper not found")
	// ErrNoEmbedding wird zurückgegeben, wenn ein Paper noch keinen Vektor hat.
	ErrNoEmbedding = errors.New("paper has no embedding")
	// ErrEmptyTitle lehnt Einträge ohne verwertbaren Titel ab.
	ErrEmptyTitle = errors.New("paper title is empty after normalization")
)

// SortKey bestimmt die Sortierung einer Abfrage.
type SortKey string

const (
	SortRecommended SortKey = "recommended_date"
	SortTitle       SortKey = "title"
	SortYear        SortKey = "year"
	SortRelevance   SortKey = "relevance"
)

// ParseSortKey akzeptiert auch die Kurzform "date"; Unbekanntes fällt auf das Empfehlungsdatum zurück.
func ParseSortKey(s string) SortKey {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "title":
		return SortTitle
	case "year":
		return SortYear
	case "relevance":
		return SortRelevance
	default:
		return SortRecommended
	}
}

// Filter schränkt die Treffermenge ein. Mehrere Topics sind ODER-verknüpft,
// der Datumsbereich ist an beiden Enden inklusiv.
type Filter struct {
	Text   string
	Topics []string
	From   time.Time
	To     time.Time
}

// Sort ist Schlüssel plus Richtung; Gleichstände werden immer über die ID aufgelöst.
type Sort struct {
	Key  SortKey
	Desc bool
}

// DefaultPageSize gilt, wenn keine Seitengröße gesetzt ist.
const DefaultPageSize = 10

// Page ist eine 1-basierte Seite fester Größe.
type Page struct {
	Number int
	Size   int
}

// Normalize klemmt Seite und Größe auf gültige Werte.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	return p
}

// Offset der Seite für LIMIT/OFFSET.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// PageResult ist eine Ergebnisseite inklusive Gesamtzahlen.
type PageResult struct {
	Papers     []models.Paper `json:"papers"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// NewPageResult berechnet die Seitenzahl; eine Seite hinter der letzten bleibt leer.
func NewPageResult(papers []models.Paper, total int64, page Page) PageResult {
	if papers == nil {
		papers = []models.Paper{}
	}
	return PageResult{
		Papers:     papers,
		Total:      total,
		Page:       page.Number,
		PageSize:   page.Size,
		TotalPages: int((total + int64(page.Size) - 1) / int64(page.Size)),
	}
}

// UpsertResult beschreibt, was ein Upsert bewirkt hat.
type UpsertResult struct {
	ID       uint
	Inserted bool
	Changed  bool
}

// MonthCount zählt Paper pro Monat (YYYY-MM).
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// TopicCount zählt Paper pro Topic.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Facets fasst eine gefilterte Treffermenge zusammen.
type Facets struct {
	Monthly []MonthCount `json:"monthly"`
	Topics  []TopicCount `json:"topics"`
}

// Stats beschreibt den Bestand.
type Stats struct {
	Total            int64   `json:"total"`
	WithEmbedding    int64   `json:"with_embedding"`
	WithoutEmbedding int64   `json:"without_embedding"`
	WithSummary      int64   `json:"with_summary"`
	Coverage         float64 `json:"coverage"`
}

// NewStats berechnet die Embedding-Abdeckung in Prozent.
func NewStats(total, embedded, summarized int64) Stats {
	s := Stats{Total: total, WithEmbedding: embedded, WithoutEmbedding: total - embedded, WithSummary: summarized}
	if total > 0 {
		s.Coverage = float64(embedded) * 100 / float64(total)
	}
	return s
}

// Store ist der deduplizierende Paper-Speicher.
type Store interface {
	// Upsert legt ein Paper an oder führt es mit dem Eintrag gleichen Titels zusammen.
	Upsert(ctx context.Context, p *models.Paper) (UpsertResult, error)
	Get(ctx context.Context, id uint) (*models.Paper, error)
	Query(ctx context.Context, f Filter, s Sort, page Page) (PageResult, error)
	// Nearest liefert die ähnlichsten Paper mit gesetzter Similarity, ohne excludeID.
	Nearest(ctx context.Context, vec []float32, f Filter, limit int, excludeID uint) ([]models.Paper, error)
	Facets(ctx context.Context, f Filter) (Facets, error)
	Stats(ctx context.Context) (Stats, error)
	CountEmbedded(ctx context.Context) (int64, error)

	// SetEmbedding speichert den Vektor nur, wenn hash noch zum aktuellen Text passt,
	// und meldet, ob geschrieben wurde.
	SetEmbedding(ctx context.Context, id uint, vec []float32, hash string) (bool, error)
	RecordEmbeddingFailure(ctx context.Context, id uint, msg string, at time.Time) error
	MissingEmbeddings(ctx context.Context, afterID uint, limit int) ([]models.Paper, error)

	SetSummary(ctx context.Context, id uint, s models.PaperSummary, at time.Time) error
	WithoutSummary(ctx context.Context, limit int) ([]models.Paper, error)
	SetTopics(ctx context.Context, id uint, tags []string) error
	// Scan iteriert alle Paper in ID-Reihenfolge.
	Scan(ctx context.Context, afterID uint, limit int) ([]models.Paper, error)

	Watermark(ctx context.Context, source string) (models.IngestWatermark, error)
	SaveWatermark(ctx context.Context, wm models.IngestWatermark) error
}

// prepare bringt ein eingehendes Paper in die speicherbare Form.
func prepare(p *models.Paper, vocab *topics.Classifier) (*models.Paper, error) {
	rec := *p
	rec.ID = 0
	rec.Title = strings.TrimSpace(rec.Title)
	rec.TitleKey = models.NormalizeTitle(rec.Title)
	if rec.TitleKey == "" {
		return nil, ErrEmptyTitle
	}
	rec.RecommendedDate = models.DateOnly(rec.RecommendedDate)
	if rec.LastRecommendedDate.IsZero() || rec.LastRecommendedDate.Before(rec.RecommendedDate) {
		rec.LastRecommendedDate = rec.RecommendedDate
	}
	rec.LastRecommendedDate = models.DateOnly(rec.LastRecommendedDate)
	rec.RecommendCount = 1
	rec.Topics = vocab.Sanitize(rec.Topics)
	rec.Similarity = 0
	return &rec, nil
}

// BuildFacets zählt Monate und Topics; der laufende Monat ist unvollständig und fehlt.
func BuildFacets(papers []models.Paper, now time.Time) Facets {
	current := now.UTC().Format("2006-01")
	months := map[string]int{}
	tags := map[string]int{}
	for _, p := range papers {
		if !p.RecommendedDate.IsZero() {
			if m := p.RecommendedDate.UTC().Format("2006-01"); m != current {
				months[m]++
			}
		}
		for _, t := range p.Topics {
			tags[t]++
		}
	}

	f := Facets{Monthly: make([]MonthCount, 0, len(months)), Topics: make([]TopicCount, 0, len(tags))}
	for m, c := range months {
		f.Monthly = append(f.Monthly, MonthCount{Month: m, Count: c})
	}
	sort.Slice(f.Monthly, func(i, j int) bool { return f.Monthly[i].Month < f.Monthly[j].Month })
	for t, c := range tags {
		f.Topics = append(f.Topics, TopicCount{Topic: t, Count: c})
	}
	sort.Slice(f.Topics, func(i, j int) bool {
		if f.Topics[i].Count != f.Topics[j].Count {
			return f.Topics[i].Count > f.Topics[j].Count
		}
		return f.Topics[i].Topic < f.Topics[j].Topic
	})
	return f
}

// escapeLike maskiert LIKE-Metazeichen für ILIKE-Muster.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
