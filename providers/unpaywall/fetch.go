package unpaywall

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paper-alerts/config"
	"paper-alerts/providers"

	"go.uber.org/zap"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Response repräsentiert die JSON-Antwort der Unpaywall-API.
type Response struct {
	DOI         string `json:"doi"`
	Title       string `json:"title"`
	Year        int    `json:"year"`
	JournalName string `json:"journal_name"`
	Publisher   string `json:"publisher"`

	BestOALocation *struct {
		URLForPDF         string `json:"url_for_pdf"`
		URLForLandingPage string `json:"url_for_landing_page"`
	} `json:"best_oa_location"`
}

// Fetcher kapselt die Logik für Unpaywall.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Unpaywall-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Enrichers zurück.
func (f *Fetcher) Name() string {
	return "unpaywall"
}

// Accepts meldet, ob der Link eine DOI enthält und Venue oder Jahr fehlen.
func (f *Fetcher) Accepts(c providers.Candidate) bool {
	if f.Config.UnpaywallEmail == "" {
		return false
	}
	if c.Venue != "" && c.Year != "" {
		return false
	}
	return providers.DOIFromLink(c.Link) != ""
}

// TryEnrich holt Journal und Jahr via Unpaywall anhand der DOI.
func (f *Fetcher) TryEnrich(ctx context.Context, c providers.Candidate, timeout time.Duration) (*providers.Metadata, error) {
	if f.Config.UnpaywallEmail == "" {
		return nil, fmt.Errorf("unpaywall email ist nicht konfiguriert")
	}
	doi := providers.DOIFromLink(c.Link)
	if doi == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s?email=%s", strings.TrimRight(f.Config.UnpaywallBaseURL, "/"), doi, url.QueryEscape(f.Config.UnpaywallEmail))
	log := f.Logger.With(zap.String("doi", doi))
	log.Debug("Rufe Unpaywall API auf.")

	body, err := providers.Fetch(ctx, httpClient, endpoint, map[string]string{"Accept": "application/json"}, 2, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("unpaywall %s: %w", doi, err)
	}

	var ur Response
	if err := json.Unmarshal(body, &ur); err != nil {
		return nil, fmt.Errorf("unpaywall %s: %w", doi, err)
	}

	meta := &providers.Metadata{Venue: strings.TrimSpace(ur.JournalName)}
	if ur.Year > 0 {
		meta.Year = strconv.Itoa(ur.Year)
	}
	if meta.Empty() {
		log.Debug("Keine Metadaten in Unpaywall-Antwort gefunden.")
		return nil, nil
	}
	return meta, nil
}
