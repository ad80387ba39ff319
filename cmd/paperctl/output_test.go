package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"paper-alerts/models"
)

func TestFormatPaperLine(t *testing.T) {
	tests := []struct {
		name  string
		paper models.Paper
		want  string
	}{
		{
			name:  "title only",
			paper: models.Paper{ID: 7, Title: "A Paper"},
			want:  "  1. [7] A Paper",
		},
		{
			name: "all metadata",
			paper: models.Paper{
				ID: 12, Title: "Attention", Year: "2017",
				RecommendedDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				Topics:          []string{"Benchmark", "RAG"},
				Similarity:      0.8123,
			},
			want: "  1. [12] Attention (2017 | 2024-01-02 | Benchmark,RAG | sim 0.812)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatPaperLine(1, tt.paper); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintPapersNumbering(t *testing.T) {
	var buf bytes.Buffer
	printPapers(&buf, []models.Paper{{ID: 1, Title: "One", Link: "https://x.org/1"}, {ID: 2, Title: "Two", Authors: "A B"}}, 11)
	out := buf.String()
	for _, want := range []string{" 11. [1] One", "    https://x.org/1", " 12. [2] Two", "    A B"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("Müller und Söhne", 8); got != "Müller …" {
		t.Errorf("got %q", got)
	}
}

func TestParseDateFlag(t *testing.T) {
	if d, err := parseDateFlag("from", ""); err != nil || !d.IsZero() {
		t.Errorf("empty = %v, %v", d, err)
	}
	if d, err := parseDateFlag("from", "2024-03-01"); err != nil || d.Month() != time.March {
		t.Errorf("valid = %v, %v", d, err)
	}
	if _, err := parseDateFlag("to", "03/01/2024"); err == nil || !strings.Contains(err.Error(), "--to") {
		t.Errorf("invalid err = %v", err)
	}
}
