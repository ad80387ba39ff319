package acm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"paper-alerts/config"
	"paper-alerts/providers"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	maxAttempts  = 2
	retryBackoff = time.Second
)

var (
	httpClient = &http.Client{Timeout: 30 * time.Second}

	publishedPattern = regexp.MustCompile(`(?:Published|Publication Date)\s*:?\s*(\d{1,2}\s+[A-Z][a-z]+\s+\d{4})`)
)

// Fetcher reichert Links der ACM Digital Library mit Abstract und Jahr an.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	limiter *rate.Limiter
}

// NewFetcher erstellt einen neuen ACM-Fetcher. Die ACM DL drosselt aggressiv,
// daher höchstens eine Anfrage pro Sekunde.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:  cfg,
		Logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Name gibt den Namen des Enrichers zurück.
func (f *Fetcher) Name() string {
	return "acm"
}

// Accepts meldet, ob der Link auf eine DOI in der ACM DL zeigt.
func (f *Fetcher) Accepts(c providers.Candidate) bool {
	return IsACMLink(c.Link) && providers.DOIFromLink(c.Link) != ""
}

// IsACMLink meldet, ob ein Link zur ACM Digital Library gehört.
func IsACMLink(link string) bool {
	return strings.Contains(link, "dl.acm.org/doi/")
}

// CanonicalLink wandelt PDF- und Volltext-Links in den Abstract-Link um.
func CanonicalLink(link string) string {
	for _, p := range []string{"/doi/pdf/", "/doi/epdf/", "/doi/fullHtml/"} {
		if strings.Contains(link, p) {
			return strings.Replace(link, p, "/doi/abs/", 1)
		}
	}
	return link
}

// TryEnrich lädt die Abstract-Seite und liefert Abstract und Jahr.
func (f *Fetcher) TryEnrich(ctx context.Context, c providers.Candidate, timeout time.Duration) (*providers.Metadata, error) {
	doi := providers.DOIFromLink(c.Link)
	if doi == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/doi/abs/%s", strings.TrimRight(f.Config.ACMBaseURL, "/"), doi)
	log := f.Logger.With(zap.String("doi", doi))
	log.Debug("Rufe ACM-Abstractseite auf.", zap.String("url", url))

	body, err := providers.Fetch(ctx, httpClient, url, map[string]string{"Accept": "text/html"}, maxAttempts, retryBackoff)
	if err != nil {
		return nil, fmt.Errorf("acm %s: %w", doi, err)
	}

	abstract, year, err := ParseAbsPage(body)
	if err != nil {
		return nil, fmt.Errorf("acm %s: %w", doi, err)
	}
	return &providers.Metadata{
		Abstract: abstract,
		Year:     year,
		Link:     CanonicalLink(c.Link),
	}, nil
}

// ParseAbsPage extrahiert Abstract und Publikationsjahr aus einer ACM-Seite.
func ParseAbsPage(body []byte) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}

	var abstract string
	section := providers.FindFirst(doc, func(n *html.Node) bool {
		return providers.Attr(n, "role") == "doc-abstract" || providers.HasClass(n, "abstractSection")
	})
	if section != nil {
		abstract = providers.Text(section, func(n *html.Node) bool {
			return n.Data == "h2" || n.Data == "h3"
		})
	}

	var year string
	if published := providers.FindFirst(doc, func(n *html.Node) bool {
		return providers.HasClass(n, "core-date-published")
	}); published != nil {
		year = providers.YearFrom(providers.Text(published, nil))
	}
	if year == "" {
		if m := publishedPattern.FindStringSubmatch(providers.Text(doc, nil)); m != nil {
			year = providers.YearFrom(m[1])
		}
	}
	return abstract, year, nil
}
