package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"paper-alerts/models"
	"paper-alerts/providers"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNoTitle: Fragment ohne verwertbaren Titel
	ErrNoTitle = errors.New("fragment has no title")
	// ErrMalformedFragment: Fragment ohne Link oder ohne Autoren und Snippet
	ErrMalformedFragment = errors.New("malformed alert fragment")
)

const minTitleLength = 15

var (
	titleMarker = regexp.MustCompile(`(?i)^\s*\[(PDF|HTML|BOOK|CITATION)\]\s*`)

	skipKeywords = regexp.MustCompile(`(?i)\b(google scholar|unsubscribe|alerts?|manage|delete|create|cancel|forward|edit|settings|why this ad|see all recommendations|see all)\b`)

	// "T Poppi, B Uzkent, A Garg - Journal, 2026"
	authorLine = regexp.MustCompile(`^(\p{Lu}[\p{L}'.-]*\s+[\p{L}'.-]+(?:,\s*\p{Lu}[\p{L}'.-]*\s+[\p{L}'.-]+)*(?:,?\s*…)?)\s+[-–]\s+(.+?,\s*\d{4})`)

	footerPhrases = regexp.MustCompile(`(?i)(\bCited by \d+|\bRelated articles\b|\bAll \d+ versions\b|\bSee all recommendations\b|This message was sent by Google Scholar|\bList alerts\b|\bCancel alert\b|following new recommended articles|following new articles)`)

	sourceDomain = regexp.MustCompile(`\s+-\s+[\w.-]+\.[a-z]{2,}$`)

	// linker Teil umfasst das ganze Wort inklusive vorheriger Bindestriche
	hyphenBreak = regexp.MustCompile(`([\p{L}\p{N}][\p{L}\p{N}-]*)-\n(\p{Ll})`)

	trailingMarker = regexp.MustCompile(`(?i)\s*\[(PDF|HTML|BOOK|CITATION)\]\s*$`)
)

type segmentKind int

const (
	segTitle segmentKind = iota
	segGreen
	segText
	segBreak
)

type segment struct {
	kind segmentKind
	text string
	href string
}

// fragment ist der strukturelle Bereich zwischen zwei Titel-Links.
type fragment struct {
	title string
	href  string
	green []string
	body  []segment
}

// NormalizeResult fasst das Ergebnis einer Nachricht zusammen.
type NormalizeResult struct {
	Papers         []*models.Paper
	Fragments      int
	ParseFailures  int
	EnrichFailures map[string]int
}

// AlertNormalizer zerlegt Alert-HTML in Paper-Einträge und reichert sie optional an.
type AlertNormalizer struct {
	logger        *zap.Logger
	enrichers     []providers.Enricher
	enrichTimeout time.Duration
}

// NewAlertNormalizer erstellt einen Normalizer mit den angegebenen Enrichern.
func NewAlertNormalizer(logger *zap.Logger, enrichers []providers.Enricher, enrichTimeout time.Duration) *AlertNormalizer {
	if enrichTimeout <= 0 {
		enrichTimeout = 10 * time.Second
	}
	return &AlertNormalizer{logger: logger, enrichers: enrichers, enrichTimeout: enrichTimeout}
}

// NormalizeMessage parst eine komplette Alert-Nachricht. Fehlerhafte Fragmente
// werden gezählt und übersprungen, niemals wird die Nachricht abgebrochen.
func (n *AlertNormalizer) NormalizeMessage(ctx context.Context, rawHTML string) NormalizeResult {
	res := NormalizeResult{EnrichFailures: map[string]int{}}

	frags, err := splitFragments(rawHTML)
	if err != nil {
		n.logger.Warn("Alert-HTML konnte nicht geparst werden", zap.Error(err))
		res.ParseFailures++
		return res
	}
	res.Fragments = len(frags)

	for i := range frags {
		p, err := buildPaper(&frags[i])
		if err != nil {
			res.ParseFailures++
			n.logger.Warn("Fragment übersprungen",
				zap.Int("fragment", i), zap.String("title", frags[i].title), zap.Error(err))
			continue
		}
		n.enrich(ctx, p, res.EnrichFailures)
		res.Papers = append(res.Papers, p)
	}
	return res
}

// NormalizeFragment parst das HTML eines einzelnen Alert-Eintrags.
func (n *AlertNormalizer) NormalizeFragment(ctx context.Context, rawHTML string) (*models.Paper, error) {
	frags, err := splitFragments(rawHTML)
	if err != nil {
		return nil, err
	}
	if len(frags) == 0 {
		return nil, ErrNoTitle
	}
	p, err := buildPaper(&frags[0])
	if err != nil {
		return nil, err
	}
	n.enrich(ctx, p, map[string]int{})
	return p, nil
}

func (n *AlertNormalizer) enrich(ctx context.Context, p *models.Paper, failures map[string]int) {
	for _, e := range n.enrichers {
		c := providers.Candidate{
			Title: p.Title, Authors: p.Authors, Venue: p.Venue,
			Year: p.Year, Abstract: p.Abstract, Link: p.Link,
		}
		if !e.Accepts(c) {
			continue
		}
		meta, err := e.TryEnrich(ctx, c, n.enrichTimeout)
		if err != nil {
			failures[e.Name()]++
			enrichmentFailures.WithLabelValues(e.Name()).Inc()
			n.logger.Warn("Anreicherung fehlgeschlagen",
				zap.String("provider", e.Name()), zap.String("link", p.Link), zap.Error(err))
			continue
		}
		applyMetadata(p, meta)
	}
}

// applyMetadata ergänzt fehlende Felder; der kanonische Link ersetzt den Alert-Link
// und ein längerer Abstract ersetzt das gekürzte Snippet.
func applyMetadata(p *models.Paper, meta *providers.Metadata) {
	if meta.Empty() {
		return
	}
	if meta.Link != "" {
		p.Link = meta.Link
	}
	if p.Venue == "" {
		p.Venue = cleanText(meta.Venue)
	}
	if p.Year == "" {
		p.Year = meta.Year
	}
	if abstract := cleanText(meta.Abstract); utf8.RuneCountInString(abstract) > utf8.RuneCountInString(p.Abstract) {
		p.Abstract = abstract
	}
}

func buildPaper(f *fragment) (*models.Paper, error) {
	title := cleanText(f.title)
	key := models.NormalizeTitle(title)
	if key == "" {
		return nil, ErrNoTitle
	}
	if strings.TrimSpace(f.href) == "" {
		return nil, ErrMalformedFragment
	}

	var authors, venue string
	lines := bodyLines(f.body)

	if len(f.green) > 0 {
		authors, venue = splitAuthorVenue(f.green[0])
	} else if len(lines) > 0 {
		if m := authorLine.FindStringSubmatch(lines[0]); m != nil {
			authors, venue = m[1], m[2]
			lines[0] = strings.TrimSpace(lines[0][len(m[0]):])
		} else if strings.Contains(lines[0], " - ") {
			authors, venue = splitAuthorVenue(lines[0])
			lines = lines[1:]
		}
	}

	snippet := snippetFrom(lines)
	if authors == "" && snippet == "" {
		return nil, ErrMalformedFragment
	}

	venue = cleanText(venue)
	return &models.Paper{
		Title:    title,
		TitleKey: key,
		Authors:  strings.TrimRight(cleanText(authors), " ,"),
		Venue:    venue,
		Year:     providers.YearFrom(venue),
		Abstract: snippet,
		Link:     CanonicalLink(f.href),
	}, nil
}

// splitAuthorVenue teilt "Autoren - Venue, Jahr - quelle.org" am ersten " - ".
func splitAuthorVenue(s string) (string, string) {
	s = cleanText(s)
	parts := strings.SplitN(s, " - ", 2)
	if len(parts) == 1 {
		return s, ""
	}
	venue := sourceDomain.ReplaceAllString(parts[1], "")
	return strings.TrimSpace(parts[0]), strings.TrimSpace(venue)
}

func bodyLines(body []segment) []string {
	var lines []string
	var cur strings.Builder
	flush := func() {
		if line := cleanText(cur.String()); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	for _, s := range body {
		switch s.kind {
		case segBreak:
			flush()
		case segText:
			cur.WriteString(s.text)
		}
	}
	flush()
	return lines
}

func snippetFrom(lines []string) string {
	joined := strings.Join(lines, "\n")
	joined = joinHyphenBreaks(joined)
	if loc := footerPhrases.FindStringIndex(joined); loc != nil {
		joined = joined[:loc[0]]
	}
	// Marker des nächsten Eintrags stehen vor dessen Titel-Link
	return trailingMarker.ReplaceAllString(cleanText(joined), "")
}

// joinHyphenBreaks fügt am Zeilenende getrennte Wörter zusammen. Ist das Wort
// bereits ein Bindestrich-Kompositum (state-of-<br>the-art), bleibt der Bindestrich.
func joinHyphenBreaks(s string) string {
	return hyphenBreak.ReplaceAllStringFunc(s, func(m string) string {
		sub := hyphenBreak.FindStringSubmatch(m)
		if strings.Contains(sub[1], "-") {
			return sub[1] + "-" + sub[2]
		}
		return sub[1] + sub[2]
	})
}

// splitFragments flacht das DOM in Dokumentreihenfolge ab und gruppiert die
// Segmente zwischen aufeinanderfolgenden Titel-Links.
func splitFragments(rawHTML string) ([]fragment, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	var segs []segment
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			segs = append(segs, segment{kind: segText, text: node.Data})
			return
		case html.ElementNode:
			switch node.Data {
			case "script", "style", "head", "title":
				return
			case "a":
				text := providers.Text(node, nil)
				href := providers.Attr(node, "href")
				if isTitleAnchor(node, text, href) {
					segs = append(segs, segment{kind: segTitle, text: titleMarker.ReplaceAllString(text, ""), href: href})
				}
				// Texte anderer Links (Zitationen, Speichern, ...) gehören nie zum Snippet
				return
			}
			if isGreen(node) {
				segs = append(segs, segment{kind: segGreen, text: providers.Text(node, nil)})
				return
			}
		}

		block := node.Type == html.ElementNode && isBlock(node.Data)
		if block {
			segs = append(segs, segment{kind: segBreak})
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			segs = append(segs, segment{kind: segBreak})
		}
	}
	walk(doc)

	var frags []fragment
	for _, s := range segs {
		if s.kind == segTitle {
			frags = append(frags, fragment{title: s.text, href: s.href})
			continue
		}
		if len(frags) == 0 {
			continue
		}
		cur := &frags[len(frags)-1]
		if s.kind == segGreen {
			cur.green = append(cur.green, s.text)
			cur.body = append(cur.body, segment{kind: segBreak})
			continue
		}
		cur.body = append(cur.body, s)
	}
	return frags, nil
}

func isTitleAnchor(a *html.Node, text, href string) bool {
	if href == "" || IsNavigationLink(href) {
		return false
	}
	cleaned := strings.TrimSpace(titleMarker.ReplaceAllString(text, ""))
	if providers.HasClass(a, "gse_alrt_title") {
		return cleaned != ""
	}
	if utf8.RuneCountInString(cleaned) < minTitleLength {
		return false
	}
	return !skipKeywords.MatchString(cleaned)
}

func isGreen(n *html.Node) bool {
	if n.Data == "font" && strings.EqualFold(providers.Attr(n, "color"), "#006621") {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(providers.Attr(n, "style"), " ", ""))
	return strings.Contains(style, "color:#006621") || strings.Contains(style, "color:rgb(0,102,33)")
}

func isBlock(tag string) bool {
	switch tag {
	case "br", "p", "div", "tr", "td", "table", "h1", "h2", "h3", "h4", "li", "ul", "blockquote":
		return true
	}
	return false
}

// cleanText normalisiert Unicode, ersetzt Ligaturen und fasst Whitespace zusammen.
func cleanText(s string) string {
	return collapseWhitespace(normalizeUnicodeAndLigatures(s))
}

var ligatures = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬆ", "st",
	"\u00ad", "",
	"\u200b", "",
)

// normalizeUnicodeAndLigatures führt NFC-Normalisierung durch und ersetzt gängige Ligaturen
func normalizeUnicodeAndLigatures(s string) string {
	s = ligatures.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s
	}
	return normalized
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
