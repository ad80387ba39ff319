package europepmc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paper-alerts/config"
	"paper-alerts/models"
	"paper-alerts/providers"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher sucht Papers per Titel in Europe PMC, um fehlendes Journal, Jahr
// und Abstract zu ergänzen. Nur Treffer mit identischem normalisiertem Titel zählen.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Europe PMC Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Enrichers zurück.
func (f *Fetcher) Name() string {
	return "europepmc"
}

// Accepts meldet, ob dem Kandidaten Venue, Jahr oder Abstract fehlen.
func (f *Fetcher) Accepts(c providers.Candidate) bool {
	return c.Title != "" && (c.Venue == "" || c.Year == "" || c.Abstract == "")
}

// TryEnrich führt die Titelsuche auf Europe PMC aus.
func (f *Fetcher) TryEnrich(ctx context.Context, c providers.Candidate, timeout time.Duration) (*providers.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	query := fmt.Sprintf("TITLE:\"%s\"", strings.ReplaceAll(c.Title, "\"", ""))
	searchURL := fmt.Sprintf("%s?query=%s&format=json&resultType=core&pageSize=3",
		strings.TrimRight(f.Config.EuropePMCBaseURL, "/"), url.QueryEscape(query))
	log := f.Logger.With(zap.String("title", c.Title))
	log.Debug("Rufe Europe PMC API auf", zap.String("url", searchURL))

	body, err := providers.Fetch(ctx, httpClient, searchURL, map[string]string{"Accept": "application/json"}, 2, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("europepmc: %w", err)
	}

	var searchResponse SearchResponse
	if err := json.Unmarshal(body, &searchResponse); err != nil {
		return nil, fmt.Errorf("europepmc: %w", err)
	}

	want := models.NormalizeTitle(c.Title)
	for i := range searchResponse.ResultList.Result {
		article := &searchResponse.ResultList.Result[i]
		if models.NormalizeTitle(article.Title) != want {
			continue
		}
		meta := mapArticleToMetadata(article)
		log.Debug("Treffer in Europe PMC gefunden", zap.String("id", article.ID))
		return meta, nil
	}
	return nil, nil
}

// mapArticleToMetadata konvertiert ein Europe PMC Article-Objekt in Metadaten.
func mapArticleToMetadata(article *Article) *providers.Metadata {
	meta := &providers.Metadata{
		Venue:    strings.TrimSpace(article.Venue()),
		Year:     article.PubYear,
		Abstract: stripMarkup(article.AbstractText),
	}
	if meta.Year == "" {
		meta.Year = providers.YearFrom(article.FirstPublicationDate)
	}
	return meta
}

// Europe PMC liefert Abstracts mit eingebetteten <h4>/<i>-Tags.
func stripMarkup(s string) string {
	if !strings.Contains(s, "<") {
		return strings.Join(strings.Fields(s), " ")
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{Type: html.ElementNode, Data: "div"})
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
			continue
		}
		parts = append(parts, providers.Text(n, nil))
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
