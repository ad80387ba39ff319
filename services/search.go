package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-alerts/embedding"
	"paper-alerts/models"
	"paper-alerts/store"
)

// ErrSearchUnavailable: der Speicher ist nicht erreichbar, die Suche kann nicht bedient werden.
var ErrSearchUnavailable = errors.New("search unavailable")

// Mode ist die Suchart.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeBrowse   Mode = "browse"
)

// ParseMode liest den Modus aus einem Request-Parameter; Standard ist semantisch.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keyword":
		return ModeKeyword
	case "browse":
		return ModeBrowse
	default:
		return ModeSemantic
	}
}

// SearchRequest beschreibt eine Anfrage an die Suche.
type SearchRequest struct {
	Query  string
	Topics []string
	From   time.Time
	To     time.Time
	Sort   store.Sort
	Mode   Mode
	Page   int
}

// SearchResult ist eine Ergebnisseite. Mode ist der tatsächlich verwendete Modus.
type SearchResult struct {
	Papers        []models.Paper     `json:"papers"`
	Total         int64              `json:"total"`
	Page          int                `json:"page"`
	PageSize      int                `json:"page_size"`
	TotalPages    int                `json:"total_pages"`
	Mode          Mode               `json:"mode"`
	RequestedMode Mode               `json:"requested_mode"`
	Degraded      bool               `json:"degraded"`
	Notice        string             `json:"notice,omitempty"`
	Monthly       []store.MonthCount `json:"monthly"`
	Topics        []store.TopicCount `json:"topics"`
}

// SearchConfig enthält die Parameter der Suche.
type SearchConfig struct {
	PageSize  int
	Threshold float64
	TopK      int
}

// SearchEngine bedient semantische Suche, Stichwortsuche und chronologisches Blättern.
type SearchEngine struct {
	store    store.Store
	provider embedding.Provider
	logger   *zap.Logger
	cfg      SearchConfig
}

// NewSearchEngine erstellt die Suche. provider darf nil sein, dann gibt es nur Stichwortsuche.
func NewSearchEngine(s store.Store, provider embedding.Provider, logger *zap.Logger, cfg SearchConfig) *SearchEngine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = store.DefaultPageSize
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 1000
	}
	return &SearchEngine{store: s, provider: provider, logger: logger, cfg: cfg}
}

// Search beantwortet eine Anfrage. Filter gelten in jedem Modus vor dem Ranking.
// Fällt die semantische Suche aus, wird transparent auf Stichwortsuche gewechselt.
func (e *SearchEngine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	req.Query = strings.TrimSpace(req.Query)
	requested := req.Mode
	if requested == "" {
		requested = ModeSemantic
	}
	page := store.Page{Number: req.Page, Size: e.cfg.PageSize}.Normalize()
	filter := store.Filter{Topics: req.Topics, From: req.From, To: req.To}

	var (
		res *SearchResult
		err error
	)
	switch {
	case req.Query == "" || requested == ModeBrowse:
		srt := req.Sort
		if srt.Key == "" || srt.Key == store.SortRelevance {
			srt = store.Sort{Key: store.SortRecommended, Desc: true}
		}
		res, err = e.query(ctx, filter, srt, page, ModeBrowse)
	case requested == ModeSemantic:
		var notice string
		res, notice, err = e.semantic(ctx, req.Query, filter, page)
		if err == nil && res == nil {
			searchFallbacks.Inc()
			e.logger.Warn("Semantische Suche nicht verfügbar, Stichwortsuche", zap.String("reason", notice))
			filter.Text = req.Query
			res, err = e.query(ctx, filter, store.Sort{Key: store.SortRelevance}, page, ModeKeyword)
			if res != nil {
				res.Degraded = true
				res.Notice = notice
			}
		}
	default:
		filter.Text = req.Query
		res, err = e.query(ctx, filter, store.Sort{Key: store.SortRelevance}, page, ModeKeyword)
	}
	if err != nil {
		e.logger.Error("Suche fehlgeschlagen", zap.String("query", req.Query), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	res.RequestedMode = requested
	searches.WithLabelValues(string(res.Mode)).Inc()
	return res, nil
}

func (e *SearchEngine) query(ctx context.Context, f store.Filter, srt store.Sort, page store.Page, mode Mode) (*SearchResult, error) {
	pr, err := e.store.Query(ctx, f, srt, page)
	if err != nil {
		return nil, err
	}
	facets, err := e.store.Facets(ctx, f)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Papers:     pr.Papers,
		Total:      pr.Total,
		Page:       pr.Page,
		PageSize:   pr.PageSize,
		TotalPages: pr.TotalPages,
		Mode:       mode,
		Monthly:    facets.Monthly,
		Topics:     facets.Topics,
	}, nil
}

// semantic liefert (nil, grund, nil), wenn auf Stichwortsuche gewechselt werden muss.
func (e *SearchEngine) semantic(ctx context.Context, query string, f store.Filter, page store.Page) (*SearchResult, string, error) {
	if e.provider == nil {
		return nil, "no embedding provider configured", nil
	}
	n, err := e.store.CountEmbedded(ctx)
	if err != nil {
		return nil, "", err
	}
	if n == 0 {
		return nil, "no embeddings indexed yet", nil
	}

	vec, err := e.provider.Embed(ctx, query)
	if err == nil {
		err = embedding.CheckDimensions(vec, e.provider.Dimensions())
	}
	if err != nil {
		e.logger.Warn("Query-Embedding fehlgeschlagen", zap.Error(err))
		return nil, "embedding service unavailable", nil
	}

	candidates, err := e.store.Nearest(ctx, vec, f, e.cfg.TopK, 0)
	if err != nil {
		return nil, "", err
	}
	kept := candidates[:0]
	for _, p := range candidates {
		if p.Similarity >= e.cfg.Threshold {
			kept = append(kept, p)
		}
	}
	RankBySimilarity(kept)

	total := int64(len(kept))
	var papers []models.Paper
	if start := page.Offset(); start < len(kept) {
		end := start + page.Size
		if end > len(kept) {
			end = len(kept)
		}
		papers = kept[start:end]
	}
	pr := store.NewPageResult(papers, total, page)
	facets := store.BuildFacets(kept, time.Now())
	return &SearchResult{
		Papers:     pr.Papers,
		Total:      pr.Total,
		Page:       pr.Page,
		PageSize:   pr.PageSize,
		TotalPages: pr.TotalPages,
		Mode:       ModeSemantic,
		Monthly:    facets.Monthly,
		Topics:     facets.Topics,
	}, "", nil
}

// ScoreBucket fasst Ähnlichkeiten grob zusammen, damit innerhalb eines Buckets
// das Empfehlungsdatum entscheidet: ab 0.5 ein Bucket, darunter Schritte von 0.1
// bzw. unter 0.3 von 0.05.
func ScoreBucket(score float64) float64 {
	switch {
	case score >= 0.5:
		return 1.0
	case score >= 0.3:
		return math.Round(score*10) / 10
	default:
		return math.Round(score*20) / 20
	}
}

// RankBySimilarity sortiert nach Bucket, dann neueste Empfehlung, dann ID.
func RankBySimilarity(papers []models.Paper) {
	sort.SliceStable(papers, func(i, j int) bool {
		bi, bj := ScoreBucket(papers[i].Similarity), ScoreBucket(papers[j].Similarity)
		if bi != bj {
			return bi > bj
		}
		if !papers[i].RecommendedDate.Equal(papers[j].RecommendedDate) {
			return papers[i].RecommendedDate.After(papers[j].RecommendedDate)
		}
		return papers[i].ID > papers[j].ID
	})
}

// DefaultSimilar und MaxSimilar begrenzen SimilarTo.
const (
	DefaultSimilar = 5
	MaxSimilar     = 50
)

// SimilarTo liefert die k nächsten Paper zum Embedding eines gespeicherten Papers.
// Hat das Paper kein Embedding, gibt es store.ErrNoEmbedding.
func (e *SearchEngine) SimilarTo(ctx context.Context, id uint, k int) ([]models.Paper, error) {
	if k <= 0 {
		k = DefaultSimilar
	}
	if k > MaxSimilar {
		k = MaxSimilar
	}
	src, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !src.HasEmbedding() {
		return nil, store.ErrNoEmbedding
	}
	papers, err := e.store.Nearest(ctx, src.Embedding.Slice(), store.Filter{}, k, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	if papers == nil {
		papers = []models.Paper{}
	}
	return papers, nil
}
