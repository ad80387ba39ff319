package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"paper-alerts/models"
)

const titleMaxLen = 90

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPapers gibt eine nummerierte Liste aus; start ist die Nummer des ersten Eintrags.
func printPapers(w io.Writer, papers []models.Paper, start int) {
	for i, p := range papers {
		fmt.Fprintln(w, formatPaperLine(start+i, p))
		if p.Authors != "" {
			fmt.Fprintf(w, "    %s\n", truncate(p.Authors, titleMaxLen))
		}
		if p.Link != "" {
			fmt.Fprintf(w, "    %s\n", p.Link)
		}
	}
}

func formatPaperLine(n int, p models.Paper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d. [%d] %s", n, p.ID, truncate(p.Title, titleMaxLen))
	var meta []string
	if p.Year != "" {
		meta = append(meta, p.Year)
	}
	if !p.RecommendedDate.IsZero() {
		meta = append(meta, p.RecommendedDate.Format("2006-01-02"))
	}
	if len(p.Topics) > 0 {
		meta = append(meta, strings.Join(p.TopicList(), ","))
	}
	if p.Similarity > 0 {
		meta = append(meta, fmt.Sprintf("sim %.3f", p.Similarity))
	}
	if len(meta) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(meta, " | "))
	}
	return b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
