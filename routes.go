package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-alerts/services"
	"paper-alerts/store"
	"paper-alerts/topics"
)

// server bündelt die Abhängigkeiten der HTTP-Handler.
type server struct {
	apiKey     string
	logger     *zap.Logger
	db         *gorm.DB
	store      store.Store
	classifier *topics.Classifier
	search     *services.SearchEngine
	ingest     *services.IngestService
	summaries  *services.SummaryService
	// runIngest startet einen Import im Hintergrund; Tests ersetzen ihn.
	runIngest func(opts services.RunOptions)
}

func apiKeyAuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func setupHealthRoutes(router *gin.Engine, s *server) {
	router.GET("/health", func(c *gin.Context) {
		if s.db != nil {
			sqlDB, err := s.db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				s.logger.Error("Health check: database unreachable", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func setupPaperRoutes(router *gin.Engine, s *server) {
	rg := router.Group("/api")

	rg.GET("/papers", func(c *gin.Context) {
		res, err := s.search.Search(c.Request.Context(), parseSearchRequest(c))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search unavailable"})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	rg.GET("/papers/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		p, err := s.store.Get(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	rg.GET("/similar/:id", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		k, _ := strconv.Atoi(c.Query("limit"))
		papers, err := s.search.SimilarTo(c.Request.Context(), id, k)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"papers": papers})
	})

	rg.GET("/stats", func(c *gin.Context) {
		st, err := s.store.Stats(c.Request.Context())
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	rg.GET("/topics", func(c *gin.Context) {
		facets, err := s.store.Facets(c.Request.Context(), store.Filter{})
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tags": s.classifier.Tags(), "topics": s.classifier.Topics(), "counts": facets.Topics})
	})

	// Schreibende Endpunkte nur mit API-Key
	admin := rg.Group("", apiKeyAuthMiddleware(s.apiKey))

	admin.POST("/ingest", func(c *gin.Context) {
		var req struct {
			Days           int  `json:"days"`
			MaxMessages    int  `json:"max_messages"`
			SkipTags       bool `json:"skip_tags"`
			SkipEmbeddings bool `json:"skip_embeddings"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
		}
		opts := services.RunOptions{
			MaxMessages:    req.MaxMessages,
			SkipTags:       req.SkipTags,
			SkipEmbeddings: req.SkipEmbeddings,
		}
		if req.Days > 0 {
			opts.Since = time.Now().AddDate(0, 0, -req.Days)
		}
		s.runIngest(opts)
		c.JSON(http.StatusAccepted, gin.H{"status": "ingestion started"})
	})

	admin.POST("/papers/:id/summary", func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		p, err := s.summaries.SummarizeOne(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})
}

// startIngest ist die Standard-Implementierung von runIngest.
func (s *server) startIngest(opts services.RunOptions) {
	go func() {
		sum, err := s.ingest.RunScheduled(context.Background(), opts)
		if errors.Is(err, services.ErrIngestRunning) {
			s.logger.Warn("Import läuft bereits, Anfrage verworfen")
			return
		}
		if err != nil {
			s.logger.Error("Manual ingestion failed", zap.Error(err))
			return
		}
		s.logger.Info("Manual ingestion completed", zap.String("run_id", sum.RunID), zap.Int("inserted", sum.Inserted))
	}()
}

func (s *server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
	case errors.Is(err, store.ErrNoEmbedding):
		c.JSON(http.StatusConflict, gin.H{"error": "no embedding"})
	case errors.Is(err, services.ErrSearchUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search unavailable"})
	case errors.Is(err, services.ErrSummaryUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "summary unavailable"})
	default:
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
	}
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// parseSearchRequest liest die Query-Parameter. Ungültige Werte werden auf
// Standardwerte zurückgesetzt statt abgelehnt.
func parseSearchRequest(c *gin.Context) services.SearchRequest {
	req := services.SearchRequest{
		Query:  c.Query("q"),
		Mode:   services.ParseMode(c.Query("mode")),
		Topics: splitList(c.QueryArray("topics")),
		From:   parseDate(c.Query("date_from")),
		To:     parseDate(c.Query("date_to")),
	}
	req.Page, _ = strconv.Atoi(c.Query("page"))
	if raw := c.Query("sort"); raw != "" {
		key := store.ParseSortKey(raw)
		req.Sort = store.Sort{Key: key, Desc: key != store.SortTitle}
		switch strings.ToLower(c.Query("order")) {
		case "asc":
			req.Sort.Desc = false
		case "desc":
			req.Sort.Desc = true
		}
	}
	return req
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}
