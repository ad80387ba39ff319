package store

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"paper-alerts/embedding"
	"paper-alerts/models"
	"paper-alerts/topics"
)

// Memory hält alle Paper im Prozess. Genutzt für Dry-Runs und Tests.
type Memory struct {
	mu         sync.RWMutex
	vocab      *topics.Classifier
	nextID     uint
	papers     map[uint]*models.Paper
	keys       map[string]uint
	watermarks map[string]models.IngestWatermark
	now        func() time.Time
}

// NewMemory erzeugt einen leeren Speicher.
func NewMemory(vocab *topics.Classifier) *Memory {
	if vocab == nil {
		vocab = topics.Default()
	}
	return &Memory{
		vocab:      vocab,
		papers:     map[uint]*models.Paper{},
		keys:       map[string]uint{},
		watermarks: map[string]models.IngestWatermark{},
		now:        time.Now,
	}
}

func clonePaper(p *models.Paper) models.Paper {
	c := *p
	if p.Topics != nil {
		c.Topics = append([]string{}, p.Topics...)
	}
	if p.Embedding != nil {
		v := pgvector.NewVector(append([]float32{}, p.Embedding.Slice()...))
		c.Embedding = &v
	}
	if p.Summary != nil {
		c.Summary = append([]byte{}, p.Summary...)
	}
	return c
}

func (m *Memory) Upsert(ctx context.Context, p *models.Paper) (UpsertResult, error) {
	rec, err := prepare(p, m.vocab)
	if err != nil {
		return UpsertResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.keys[rec.TitleKey]; ok {
		existing := m.papers[id]
		changed := models.Merge(existing, rec)
		if changed {
			existing.UpdatedAt = m.now()
		}
		return UpsertResult{ID: id, Changed: changed}, nil
	}

	m.nextID++
	rec.ID = m.nextID
	now := m.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	stored := clonePaper(rec)
	m.papers[rec.ID] = &stored
	m.keys[rec.TitleKey] = rec.ID
	return UpsertResult{ID: rec.ID, Inserted: true, Changed: true}, nil
}

func (m *Memory) Get(ctx context.Context, id uint) (*models.Paper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.papers[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := clonePaper(p)
	return &c, nil
}

// matching liefert alle Paper, die den Filter erfüllen, nach ID sortiert.
func (m *Memory) matching(f Filter) []*models.Paper {
	text := strings.ToLower(strings.TrimSpace(f.Text))
	from := models.DateOnly(f.From)
	to := models.DateOnly(f.To)

	var out []*models.Paper
	for _, p := range m.papers {
		if text != "" && relevance(p, text) == 0 {
			continue
		}
		if len(f.Topics) > 0 && !hasAnyTopic(p.Topics, f.Topics) {
			continue
		}
		d := models.DateOnly(p.RecommendedDate)
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if !to.IsZero() && d.After(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func relevance(p *models.Paper, lowerText string) int {
	n := 0
	for _, field := range []string{p.Title, p.Abstract, p.Authors} {
		if strings.Contains(strings.ToLower(field), lowerText) {
			n++
		}
	}
	return n
}

func hasAnyTopic(have []string, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (m *Memory) Query(ctx context.Context, f Filter, s Sort, page Page) (PageResult, error) {
	page = page.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.matching(f)
	lowerText := strings.ToLower(strings.TrimSpace(f.Text))
	byID := func(a, b *models.Paper) int {
		if s.Desc || s.Key == SortRelevance {
			return cmp.Compare(b.ID, a.ID)
		}
		return cmp.Compare(a.ID, b.ID)
	}
	slices.SortStableFunc(rows, func(a, b *models.Paper) int {
		var c int
		switch s.Key {
		case SortTitle:
			c = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case SortYear:
			// Leere Jahre stehen in beiden Richtungen am Ende.
			if (a.Year == "") != (b.Year == "") {
				if a.Year == "" {
					return 1
				}
				return -1
			}
			c = strings.Compare(a.Year, b.Year)
		case SortRelevance:
			c = relevance(b, lowerText) - relevance(a, lowerText)
			if c == 0 {
				c = b.RecommendedDate.Compare(a.RecommendedDate)
			}
			if c != 0 {
				return c
			}
			return byID(a, b)
		default:
			c = a.RecommendedDate.Compare(b.RecommendedDate)
		}
		if s.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return byID(a, b)
	})

	total := int64(len(rows))
	var papers []models.Paper
	for i := page.Offset(); i < len(rows) && len(papers) < page.Size; i++ {
		papers = append(papers, clonePaper(rows[i]))
	}
	return NewPageResult(papers, total, page), nil
}

func (m *Memory) Nearest(ctx context.Context, vec []float32, f Filter, limit int, excludeID uint) ([]models.Paper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Paper
	for _, p := range m.matching(f) {
		if p.ID == excludeID || !p.HasEmbedding() {
			continue
		}
		c := clonePaper(p)
		c.Similarity = embedding.CosineSimilarity(vec, p.Embedding.Slice())
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Facets(ctx context.Context, f Filter) (Facets, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.matching(f)
	papers := make([]models.Paper, 0, len(rows))
	for _, p := range rows {
		papers = append(papers, models.Paper{RecommendedDate: p.RecommendedDate, Topics: p.Topics})
	}
	return BuildFacets(papers, m.now()), nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var embedded, summarized int64
	for _, p := range m.papers {
		if p.HasEmbedding() {
			embedded++
		}
		if len(p.Summary) > 0 {
			summarized++
		}
	}
	return NewStats(int64(len(m.papers)), embedded, summarized), nil
}

func (m *Memory) CountEmbedded(ctx context.Context) (int64, error) {
	s, err := m.Stats(ctx)
	return s.WithEmbedding, err
}

func (m *Memory) SetEmbedding(ctx context.Context, id uint, vec []float32, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return false, ErrNotFound
	}
	if models.SourceHash(p.Title, p.Abstract) != hash {
		// Text hat sich seit der Berechnung geändert.
		return false, nil
	}
	v := pgvector.NewVector(append([]float32{}, vec...))
	now := m.now()
	p.Embedding = &v
	p.EmbeddingHash = hash
	p.EmbeddingAttemptedAt = &now
	p.EmbeddingError = ""
	return true, nil
}

func (m *Memory) RecordEmbeddingFailure(ctx context.Context, id uint, msg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return ErrNotFound
	}
	p.EmbeddingAttemptedAt = &at
	p.EmbeddingError = msg
	return nil
}

func (m *Memory) MissingEmbeddings(ctx context.Context, afterID uint, limit int) ([]models.Paper, error) {
	return m.scan(afterID, limit, func(p *models.Paper) bool {
		return !p.HasEmbedding() || p.EmbeddingHash == ""
	}), nil
}

func (m *Memory) Scan(ctx context.Context, afterID uint, limit int) ([]models.Paper, error) {
	return m.scan(afterID, limit, func(*models.Paper) bool { return true }), nil
}

func (m *Memory) scan(afterID uint, limit int, keep func(*models.Paper) bool) []models.Paper {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint, 0, len(m.papers))
	for id := range m.papers {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []models.Paper
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		if p := m.papers[id]; keep(p) {
			out = append(out, clonePaper(p))
		}
	}
	return out
}

func (m *Memory) SetSummary(ctx context.Context, id uint, s models.PaperSummary, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return ErrNotFound
	}
	return p.SetSummary(s, at)
}

func (m *Memory) WithoutSummary(ctx context.Context, limit int) ([]models.Paper, error) {
	m.mu.RLock()
	var rows []*models.Paper
	for _, p := range m.papers {
		if len(p.Summary) == 0 {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].RecommendedDate.Compare(rows[j].RecommendedDate); c != 0 {
			return c > 0
		}
		return rows[i].ID > rows[j].ID
	})
	var out []models.Paper
	for _, p := range rows {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, clonePaper(p))
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *Memory) SetTopics(ctx context.Context, id uint, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return ErrNotFound
	}
	p.Topics = m.vocab.Sanitize(tags)
	return nil
}

func (m *Memory) Watermark(ctx context.Context, source string) (models.IngestWatermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if wm, ok := m.watermarks[source]; ok {
		return wm, nil
	}
	return models.IngestWatermark{Source: source}, nil
}

func (m *Memory) SaveWatermark(ctx context.Context, wm models.IngestWatermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wm.UpdatedAt = m.now()
	m.watermarks[wm.Source] = wm
	return nil
}
