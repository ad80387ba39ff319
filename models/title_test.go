package models

import "testing"

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Deep Learning for Graphs", "deep learning for graphs"},
		{"punctuation", "RAG: Retrieval-Augmented Generation!", "rag retrieval augmented generation"},
		{"whitespace", "  Large\tLanguage \n Models  ", "large language models"},
		{"ligature", "Eﬃcient Fine-Tuning", "efficient fine tuning"},
		{"fullwidth", "ＧＰＴ Agents", "gpt agents"},
		{"empty", "   ", ""},
		{"only punctuation", "-- ...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTitle(tt.in); got != tt.want {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeTitleCollapsesVariants(t *testing.T) {
	a := NormalizeTitle("Scaling Laws for Reward Models")
	b := NormalizeTitle("scaling laws for reward-models.")
	if a != b {
		t.Errorf("expected equal keys, got %q and %q", a, b)
	}
}
