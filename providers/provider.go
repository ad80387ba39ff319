package providers

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Candidate ist ein vom Normalizer extrahierter Eintrag vor der Anreicherung.
type Candidate struct {
	Title    string
	Authors  string
	Venue    string
	Year     string
	Abstract string
	Link     string
}

// Metadata sind die optionalen Felder, die ein Enricher liefern kann.
type Metadata struct {
	Venue    string
	Year     string
	Abstract string
	// Kanonischer Link; ersetzt den Link aus dem Alert
	Link string
}

// Empty meldet, ob keine Felder gesetzt sind.
func (m *Metadata) Empty() bool {
	return m == nil || (m.Venue == "" && m.Year == "" && m.Abstract == "" && m.Link == "")
}

// Enricher ist das Interface für Best-Effort-Metadatenquellen (z.B. arXiv, ACM).
// TryEnrich liefert (nil, nil), wenn nichts gefunden wurde. Jeder Aufruf muss
// innerhalb von timeout abgeschlossen sein.
type Enricher interface {
	// Name gibt den eindeutigen Namen des Enrichers zurück (z.B. "arxiv").
	Name() string

	// Accepts meldet, ob der Enricher für diesen Kandidaten zuständig ist.
	Accepts(c Candidate) bool

	TryEnrich(ctx context.Context, c Candidate, timeout time.Duration) (*Metadata, error)
}

var (
	doiPattern  = regexp.MustCompile(`\b(10\.\d{4,9}/[^\s?#&"<>]+)`)
	yearPattern = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

// DOIFromLink extrahiert eine DOI aus einem Link, leer wenn keine enthalten ist.
func DOIFromLink(link string) string {
	m := doiPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	doi := strings.TrimRight(m[1], ".,;)")
	// ACM-Links enthalten das Format vor der DOI
	doi = strings.TrimSuffix(doi, "/")
	return doi
}

// YearFrom liefert die letzte plausible Jahreszahl im Text; in Venue-Angaben
// steht das Jahr am Ende, davor können arXiv-IDs oder Bandnummern stehen.
func YearFrom(s string) string {
	all := yearPattern.FindAllStringSubmatch(s, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1][1]
}
