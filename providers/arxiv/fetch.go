package arxiv

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"paper-alerts/config"
	"paper-alerts/providers"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	canonicalBase = "https://arxiv.org/abs/"
	maxAttempts   = 3
	retryBackoff  = 500 * time.Millisecond
)

var (
	httpClient = &http.Client{Timeout: 30 * time.Second}

	idPattern        = regexp.MustCompile(`arxiv\.org/(?:abs|pdf|html)/(\d{4}\.\d{4,5})(?:v\d+)?`)
	submittedPattern = regexp.MustCompile(`Submitted on (\d{1,2}) ([A-Z][a-z]{2}) (\d{4})`)
)

// Fetcher reichert arXiv-Links mit Abstract und Einreichungsdatum an.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	limiter *rate.Limiter
}

// NewFetcher erstellt einen neuen arXiv-Fetcher mit Ratenbegrenzung.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	delay := cfg.ArxivRequestDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Fetcher{
		Config:  cfg,
		Logger:  logger,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// Name gibt den Namen des Enrichers zurück.
func (f *Fetcher) Name() string {
	return "arxiv"
}

// Accepts meldet, ob der Link auf arXiv zeigt.
func (f *Fetcher) Accepts(c providers.Candidate) bool {
	return ExtractID(c.Link) != ""
}

// ExtractID liefert die arXiv-ID (ohne Version) aus einem Link.
func ExtractID(link string) string {
	m := idPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// CanonicalLink liefert den abs-Link zu einer ID.
func CanonicalLink(id string) string {
	return canonicalBase + id
}

// TryEnrich lädt die Abstract-Seite und liefert Abstract, Jahr und Venue.
func (f *Fetcher) TryEnrich(ctx context.Context, c providers.Candidate, timeout time.Duration) (*providers.Metadata, error) {
	id := ExtractID(c.Link)
	if id == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/abs/%s", strings.TrimRight(f.Config.ArxivBaseURL, "/"), id)
	log := f.Logger.With(zap.String("arxiv_id", id))
	log.Debug("Rufe arXiv-Abstractseite auf.", zap.String("url", url))

	body, err := providers.Fetch(ctx, httpClient, url, nil, maxAttempts, retryBackoff)
	if err != nil {
		return nil, fmt.Errorf("arxiv %s: %w", id, err)
	}

	abstract, submitted, err := ParseAbsPage(body)
	if err != nil {
		return nil, fmt.Errorf("arxiv %s: %w", id, err)
	}

	meta := &providers.Metadata{Link: CanonicalLink(id), Abstract: abstract}
	if !submitted.IsZero() {
		meta.Year = strconv.Itoa(submitted.Year())
		meta.Venue = fmt.Sprintf("arXiv, %d/%d", int(submitted.Month()), submitted.Year())
	}
	log.Debug("arXiv-Metadaten gefunden.", zap.Bool("abstract", abstract != ""), zap.String("year", meta.Year))
	return meta, nil
}

// ParseAbsPage extrahiert Abstract und Einreichungsdatum aus einer arXiv-Abstractseite.
func ParseAbsPage(body []byte) (string, time.Time, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}

	var abstract string
	block := providers.FindFirst(doc, func(n *html.Node) bool {
		return n.Data == "blockquote" && providers.HasClass(n, "abstract")
	})
	if block != nil {
		abstract = providers.Text(block, func(n *html.Node) bool {
			return n.Data == "span" && providers.HasClass(n, "descriptor")
		})
	}

	var submitted time.Time
	scope := providers.FindFirst(doc, func(n *html.Node) bool {
		return n.Data == "div" && providers.HasClass(n, "dateline")
	})
	if scope == nil {
		scope = doc
	}
	if m := submittedPattern.FindStringSubmatch(providers.Text(scope, nil)); m != nil {
		if t, err := time.Parse("2 Jan 2006", m[1]+" "+m[2]+" "+m[3]); err == nil {
			submitted = t
		}
	}
	return abstract, submitted, nil
}
