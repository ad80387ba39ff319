package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var titleFolder = cases.Fold()

// NormalizeTitle erzeugt den Deduplizierungsschlüssel eines Titels:
// NFKC, Case-Folding, Satz- und Sonderzeichen als Leerzeichen, Whitespace zusammengefasst.
func NormalizeTitle(title string) string {
	s := norm.NFKC.String(title)
	s = titleFolder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		b.WriteRune(r)
		space = false
	}
	return strings.TrimSpace(b.String())
}
