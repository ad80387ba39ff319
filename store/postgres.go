package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"paper-alerts/models"
	"paper-alerts/topics"
)

// Postgres speichert Paper in PostgreSQL mit pgvector.
type Postgres struct {
	db     *gorm.DB
	vocab  *topics.Classifier
	logger *zap.Logger
	now    func() time.Time
}

// Open verbindet sich mit der Datenbank. Das gorm-Logging ist stumm, außer debugSQL ist gesetzt.
func Open(dsn string, debugSQL bool) (*gorm.DB, error) {
	mode := logger.Silent
	if debugSQL {
		mode = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(mode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// NewPostgres erzeugt den Store über einer offenen Verbindung.
func NewPostgres(db *gorm.DB, vocab *topics.Classifier, log *zap.Logger) *Postgres {
	if vocab == nil {
		vocab = topics.Default()
	}
	return &Postgres{db: db, vocab: vocab, logger: log, now: time.Now}
}

// Migrate legt die pgvector-Extension und die Tabellen an.
func (s *Postgres) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	if err := db.AutoMigrate(&models.Paper{}, &models.IngestWatermark{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Upsert fügt ein oder führt zusammen. Zwei gleichzeitige Läufe mit demselben
// Titel serialisieren sich am Unique-Index und an der Zeilensperre.
func (s *Postgres) Upsert(ctx context.Context, p *models.Paper) (UpsertResult, error) {
	rec, err := prepare(p, s.vocab)
	if err != nil {
		return UpsertResult{}, err
	}

	var res UpsertResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "title_key"}},
			DoNothing: true,
		}).Create(rec)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected > 0 {
			res = UpsertResult{ID: rec.ID, Inserted: true, Changed: true}
			return nil
		}

		var existing models.Paper
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("title_key = ?", rec.TitleKey).
			First(&existing).Error; err != nil {
			return err
		}
		res.ID = existing.ID
		if !models.Merge(&existing, rec) {
			return nil
		}
		res.Changed = true
		return tx.Select("authors", "venue", "year", "abstract", "link",
			"recommended_date", "last_recommended_date", "recommend_count",
			"topics", "embedding_hash", "updated_at").
			Save(&existing).Error
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert paper: %w", err)
	}
	return res, nil
}

func (s *Postgres) Get(ctx context.Context, id uint) (*models.Paper, error) {
	var p models.Paper
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// applyFilter hängt die WHERE-Bedingungen des Filters an.
func applyFilter(q *gorm.DB, f Filter) *gorm.DB {
	if text := strings.TrimSpace(f.Text); text != "" {
		pat := "%" + escapeLike(text) + "%"
		q = q.Where("(title ILIKE ? OR abstract ILIKE ? OR authors ILIKE ?)", pat, pat, pat)
	}
	if len(f.Topics) > 0 {
		conds := make([]string, 0, len(f.Topics))
		args := make([]interface{}, 0, len(f.Topics))
		for _, t := range f.Topics {
			raw, _ := json.Marshal([]string{t})
			conds = append(conds, "topics @> ?::jsonb")
			args = append(args, string(raw))
		}
		q = q.Where("("+strings.Join(conds, " OR ")+")", args...)
	}
	if !f.From.IsZero() {
		q = q.Where("recommended_date >= ?", models.DateOnly(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("recommended_date <= ?", models.DateOnly(f.To))
	}
	return q
}

func applyOrder(q *gorm.DB, f Filter, srt Sort) *gorm.DB {
	dir := "ASC"
	if srt.Desc {
		dir = "DESC"
	}
	switch srt.Key {
	case SortTitle:
		return q.Order("lower(title) " + dir + ", id " + dir)
	case SortYear:
		return q.Order("NULLIF(year, '') " + dir + " NULLS LAST, id " + dir)
	case SortRelevance:
		pat := "%" + escapeLike(strings.TrimSpace(f.Text)) + "%"
		return q.Order(clause.OrderBy{Expression: clause.Expr{
			SQL: "((COALESCE(title, '') ILIKE ?)::int + (COALESCE(abstract, '') ILIKE ?)::int + " +
				"(COALESCE(authors, '') ILIKE ?)::int) DESC, recommended_date DESC, id DESC",
			Vars:               []interface{}{pat, pat, pat},
			WithoutParentheses: true,
		}})
	default:
		return q.Order("recommended_date " + dir + ", id " + dir)
	}
}

func (s *Postgres) Query(ctx context.Context, f Filter, srt Sort, page Page) (PageResult, error) {
	page = page.Normalize()
	base := applyFilter(s.db.WithContext(ctx).Model(&models.Paper{}), f).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return PageResult{}, fmt.Errorf("count papers: %w", err)
	}
	var papers []models.Paper
	if int64(page.Offset()) < total {
		err := applyOrder(base.Omit("embedding"), f, srt).
			Offset(page.Offset()).
			Limit(page.Size).
			Find(&papers).Error
		if err != nil {
			return PageResult{}, fmt.Errorf("query papers: %w", err)
		}
	}
	return NewPageResult(papers, total, page), nil
}

// scoredRow nimmt die berechnete Ähnlichkeit neben den Paper-Spalten auf.
type scoredRow struct {
	models.Paper
	Score float64 `gorm:"column:score"`
}

func (s *Postgres) Nearest(ctx context.Context, vec []float32, f Filter, limit int, excludeID uint) ([]models.Paper, error) {
	v := pgvector.NewVector(vec)
	q := applyFilter(s.db.WithContext(ctx).Model(&models.Paper{}), f).Where("embedding IS NOT NULL")
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []scoredRow
	err := q.Select("*, 1 - (embedding <=> ?) AS score", v).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "embedding <=> ?, id",
			Vars:               []interface{}{v},
			WithoutParentheses: true,
		}}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("nearest papers: %w", err)
	}
	papers := make([]models.Paper, len(rows))
	for i := range rows {
		papers[i] = rows[i].Paper
		papers[i].Similarity = rows[i].Score
	}
	return papers, nil
}

func (s *Postgres) Facets(ctx context.Context, f Filter) (Facets, error) {
	var rows []models.Paper
	err := applyFilter(s.db.WithContext(ctx).Model(&models.Paper{}), f).
		Select("recommended_date", "topics").
		Find(&rows).Error
	if err != nil {
		return Facets{}, fmt.Errorf("facets: %w", err)
	}
	return BuildFacets(rows, s.now()), nil
}

func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx).Model(&models.Paper{})
	var total, embedded, summarized int64
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Stats{}, err
	}
	if err := db.Session(&gorm.Session{}).Where("embedding IS NOT NULL").Count(&embedded).Error; err != nil {
		return Stats{}, err
	}
	if err := db.Session(&gorm.Session{}).Where("summary IS NOT NULL").Count(&summarized).Error; err != nil {
		return Stats{}, err
	}
	return NewStats(total, embedded, summarized), nil
}

func (s *Postgres) CountEmbedded(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Paper{}).Where("embedding IS NOT NULL").Count(&n).Error
	return n, err
}

// SetEmbedding schreibt nur, wenn der Text seit der Berechnung gleich geblieben ist.
func (s *Postgres) SetEmbedding(ctx context.Context, id uint, vec []float32, hash string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Paper{}).
		Where("id = ?", id).
		Where("encode(sha256(convert_to(title || E'\\n' || COALESCE(abstract, ''), 'UTF8')), 'hex') = ?", hash).
		Updates(map[string]interface{}{
			"embedding":              pgvector.NewVector(vec),
			"embedding_hash":         hash,
			"embedding_attempted_at": s.now(),
			"embedding_error":        "",
		})
	if res.Error != nil {
		return false, fmt.Errorf("set embedding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Debug("Embedding verworfen, Text hat sich geändert", zap.Uint("paper_id", id))
		return false, nil
	}
	return true, nil
}

func (s *Postgres) RecordEmbeddingFailure(ctx context.Context, id uint, msg string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Paper{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"embedding_attempted_at": at,
			"embedding_error":        msg,
		}).Error
}

func (s *Postgres) MissingEmbeddings(ctx context.Context, afterID uint, limit int) ([]models.Paper, error) {
	var papers []models.Paper
	err := s.db.WithContext(ctx).Omit("embedding").
		Where("id > ?", afterID).
		Where("embedding IS NULL OR embedding_hash = '' OR embedding_hash IS NULL").
		Order("id").
		Limit(limit).
		Find(&papers).Error
	return papers, err
}

func (s *Postgres) SetSummary(ctx context.Context, id uint, sum models.PaperSummary, at time.Time) error {
	var p models.Paper
	if err := p.SetSummary(sum, at); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Paper{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"summary":              p.Summary,
			"summary_generated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) WithoutSummary(ctx context.Context, limit int) ([]models.Paper, error) {
	var papers []models.Paper
	q := s.db.WithContext(ctx).Omit("embedding").
		Where("summary IS NULL").
		Order("recommended_date DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&papers).Error
	return papers, err
}

func (s *Postgres) SetTopics(ctx context.Context, id uint, tags []string) error {
	clean := s.vocab.Sanitize(tags)
	raw, _ := json.Marshal(clean)
	res := s.db.WithContext(ctx).Model(&models.Paper{}).
		Where("id = ?", id).
		Update("topics", gorm.Expr("?::jsonb", string(raw)))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Scan(ctx context.Context, afterID uint, limit int) ([]models.Paper, error) {
	var papers []models.Paper
	err := s.db.WithContext(ctx).Omit("embedding").
		Where("id > ?", afterID).
		Order("id").
		Limit(limit).
		Find(&papers).Error
	return papers, err
}

func (s *Postgres) Watermark(ctx context.Context, source string) (models.IngestWatermark, error) {
	var wm models.IngestWatermark
	err := s.db.WithContext(ctx).Where("source = ?", source).First(&wm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.IngestWatermark{Source: source}, nil
	}
	return wm, err
}

func (s *Postgres) SaveWatermark(ctx context.Context, wm models.IngestWatermark) error {
	wm.UpdatedAt = s.now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_received_at", "last_message_id", "updated_at"}),
	}).Create(&wm).Error
}
