package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"paper-alerts/providers"

	"go.uber.org/zap"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	raw, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(raw)
}

func TestNormalizeMessage(t *testing.T) {
	n := NewAlertNormalizer(zap.NewNop(), nil, time.Second)
	res := n.NormalizeMessage(context.Background(), loadFixture(t, "scholar_alert.html"))

	if res.Fragments != 4 {
		t.Errorf("Fragments = %d, want 4", res.Fragments)
	}
	if res.ParseFailures != 1 {
		t.Errorf("ParseFailures = %d, want 1", res.ParseFailures)
	}
	if len(res.Papers) != 3 {
		t.Fatalf("got %d papers, want 3", len(res.Papers))
	}

	tests := []struct {
		title    string
		authors  string
		venue    string
		year     string
		abstract string
		link     string
	}{
		{
			title:    "Retrieval-Augmented Agents for Long-Horizon Planning",
			authors:  "A Smith, B Jones, C Müller",
			venue:    "arXiv preprint arXiv:2401.12345, 2024",
			year:     "2024",
			abstract: "We introduce a retrieval-augmented agent that plans over long horizons using external memory …",
			link:     "https://arxiv.org/abs/2401.12345",
		},
		{
			title:    "Measuring Hallucination in Multimodal Models",
			authors:  "D Lee, E Kim",
			venue:    "Proceedings of ACL, 2023",
			year:     "2023",
			abstract: "Hallucination remains a key challenge for vision-language models.",
			link:     "https://www.example.org/papers/hallucination.pdf",
		},
		{
			title:    "Personalized Conversational Recommendation at Scale",
			authors:  "F Garcia, G Rossi",
			venue:    "The Web Conference, 2024",
			year:     "2024",
			abstract: "A study of personalized recommender systems in dialogue.",
			link:     "https://dl.acm.org/doi/abs/10.1145/3589334.3645625",
		},
	}
	for i, tt := range tests {
		p := res.Papers[i]
		t.Run(tt.title, func(t *testing.T) {
			if p.Title != tt.title {
				t.Errorf("Title = %q", p.Title)
			}
			if p.TitleKey == "" {
				t.Error("TitleKey not set")
			}
			if p.Authors != tt.authors {
				t.Errorf("Authors = %q, want %q", p.Authors, tt.authors)
			}
			if p.Venue != tt.venue {
				t.Errorf("Venue = %q, want %q", p.Venue, tt.venue)
			}
			if p.Year != tt.year {
				t.Errorf("Year = %q, want %q", p.Year, tt.year)
			}
			if p.Abstract != tt.abstract {
				t.Errorf("Abstract = %q, want %q", p.Abstract, tt.abstract)
			}
			if p.Link != tt.link {
				t.Errorf("Link = %q, want %q", p.Link, tt.link)
			}
		})
	}
}

func TestNormalizeMessageKeepsConcatenatedAlertsApart(t *testing.T) {
	first := `<html><body><h3><a class="gse_alrt_title" href="https://example.org/a">First Paper About Graph Neural Networks</a></h3>
<div style="color: #006621">X One - Venue A, 2022</div><div>Snippet belonging to the first paper.</div></body></html>`
	second := `<html><body><h3><a class="gse_alrt_title" href="https://example.org/b">Second Paper About Speech Recognition</a></h3>
<div style="color: #006621">Y Two - Venue B, 2021</div><div>Snippet belonging to the second paper.</div></body></html>`

	n := NewAlertNormalizer(zap.NewNop(), nil, time.Second)
	res := n.NormalizeMessage(context.Background(), first+"\n"+second)
	if len(res.Papers) != 2 {
		t.Fatalf("got %d papers, want 2", len(res.Papers))
	}
	if !strings.Contains(res.Papers[0].Abstract, "first paper") || strings.Contains(res.Papers[0].Abstract, "second") {
		t.Errorf("first abstract = %q", res.Papers[0].Abstract)
	}
	if !strings.Contains(res.Papers[1].Abstract, "second paper") {
		t.Errorf("second abstract = %q", res.Papers[1].Abstract)
	}
	if res.Papers[1].Venue != "Venue B, 2021" {
		t.Errorf("second venue = %q", res.Papers[1].Venue)
	}
}

func TestNormalizeFragment(t *testing.T) {
	n := NewAlertNormalizer(zap.NewNop(), nil, time.Second)

	t.Run("markup in abstract", func(t *testing.T) {
		frag := `<h3><a href="https://example.org/p">[HTML] Ｅﬃcient Transformers: A Survey</a></h3>
<font color="#006621">Ł Kaiser, N Ïvanova - ACM Computing Surveys, 2022</font>
<div>We <b>survey</b> efficient <i>Transformer</i> variants.</div>`
		p, err := n.NormalizeFragment(context.Background(), frag)
		if err != nil {
			t.Fatalf("NormalizeFragment: %v", err)
		}
		if p.Title != "Ｅfficient Transformers: A Survey" {
			t.Errorf("Title = %q", p.Title)
		}
		if p.Authors != "Ł Kaiser, N Ïvanova" {
			t.Errorf("Authors = %q", p.Authors)
		}
		if p.Abstract != "We survey efficient Transformer variants." {
			t.Errorf("Abstract = %q", p.Abstract)
		}
	})

	t.Run("missing venue", func(t *testing.T) {
		frag := `<h3><a href="https://example.org/q">A Paper With Only Authors Listed</a></h3>
<font color="#006621">Z Author</font>`
		p, err := n.NormalizeFragment(context.Background(), frag)
		if err != nil {
			t.Fatalf("NormalizeFragment: %v", err)
		}
		if p.Authors != "Z Author" || p.Venue != "" || p.Year != "" {
			t.Errorf("got %+v", p)
		}
	})

	t.Run("no title", func(t *testing.T) {
		_, err := n.NormalizeFragment(context.Background(), `<div>Just text, <a href="https://x.org">short</a></div>`)
		if !errors.Is(err, ErrNoTitle) {
			t.Errorf("err = %v, want ErrNoTitle", err)
		}
	})

	t.Run("navigation link is not a title", func(t *testing.T) {
		_, err := n.NormalizeFragment(context.Background(),
			`<a href="https://example.org/settings">Manage your alert settings here please</a>`)
		if !errors.Is(err, ErrNoTitle) {
			t.Errorf("err = %v, want ErrNoTitle", err)
		}
	})

	t.Run("title only", func(t *testing.T) {
		_, err := n.NormalizeFragment(context.Background(), `<h3><a href="https://example.org/z">A Lonely Title Without Anything</a></h3>`)
		if !errors.Is(err, ErrMalformedFragment) {
			t.Errorf("err = %v, want ErrMalformedFragment", err)
		}
	})
}

type stubEnricher struct {
	name   string
	meta   *providers.Metadata
	err    error
	called int
}

func (s *stubEnricher) Name() string                      { return s.name }
func (s *stubEnricher) Accepts(c providers.Candidate) bool { return true }
func (s *stubEnricher) TryEnrich(ctx context.Context, c providers.Candidate, timeout time.Duration) (*providers.Metadata, error) {
	s.called++
	return s.meta, s.err
}

func TestNormalizeEnrichment(t *testing.T) {
	failing := &stubEnricher{name: "down", err: errors.New("connection refused")}
	good := &stubEnricher{name: "good", meta: &providers.Metadata{
		Venue:    "Should Not Replace",
		Year:     "2020",
		Abstract: "A much longer canonical abstract that replaces the truncated alert snippet text.",
		Link:     "https://canonical.example.org/p",
	}}
	n := NewAlertNormalizer(zap.NewNop(), []providers.Enricher{failing, good}, time.Second)

	frag := `<h3><a href="https://example.org/p">Some Paper Title Long Enough</a></h3>
<font color="#006621">A B - Known Venue</font><div>Short snippet …</div>`
	res := n.NormalizeMessage(context.Background(), frag)
	if len(res.Papers) != 1 {
		t.Fatalf("got %d papers", len(res.Papers))
	}
	p := res.Papers[0]
	if res.EnrichFailures["down"] != 1 {
		t.Errorf("EnrichFailures = %v", res.EnrichFailures)
	}
	if p.Venue != "Known Venue" {
		t.Errorf("existing venue replaced: %q", p.Venue)
	}
	if p.Year != "2020" {
		t.Errorf("missing year not filled: %q", p.Year)
	}
	if !strings.HasPrefix(p.Abstract, "A much longer canonical abstract") {
		t.Errorf("abstract = %q", p.Abstract)
	}
	if p.Link != "https://canonical.example.org/p" {
		t.Errorf("link = %q", p.Link)
	}
}

func TestJoinHyphenBreaks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "wrapped word", in: "multi-\nmodal models", want: "multimodal models"},
		{name: "compound keeps hyphen", in: "a state-of-\nthe-art system", want: "a state-of-the-art system"},
		{name: "capital after break", in: "GPT-\nBased", want: "GPT-\nBased"},
		{name: "no break", in: "pre-training", want: "pre-training"},
		{name: "several breaks", in: "rein-\nforcement and halluci-\nnation", want: "reinforcement and hallucination"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinHyphenBreaks(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
