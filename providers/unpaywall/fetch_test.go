package unpaywall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paper-alerts/config"
	"paper-alerts/providers"

	"go.uber.org/zap"
)

func TestAccepts(t *testing.T) {
	f := NewFetcher(&config.Config{UnpaywallEmail: "me@example.org"}, zap.NewNop())
	tests := []struct {
		name string
		c    providers.Candidate
		want bool
	}{
		{"doi without venue", providers.Candidate{Link: "https://doi.org/10.1038/s41586-021-03819-2"}, true},
		{"complete", providers.Candidate{Link: "https://doi.org/10.1038/x", Venue: "Nature", Year: "2021"}, false},
		{"no doi", providers.Candidate{Link: "https://example.org/paper"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Accepts(tt.c); got != tt.want {
				t.Errorf("Accepts = %v, want %v", got, tt.want)
			}
		})
	}

	off := NewFetcher(&config.Config{}, zap.NewNop())
	if off.Accepts(tests[0].c) {
		t.Error("fetcher without email must not accept candidates")
	}
}

func TestTryEnrich(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/10.1038/s41586-021-03819-2" || r.URL.Query().Get("email") != "me@example.org" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"doi":"10.1038/s41586-021-03819-2","year":2021,"journal_name":"Nature","best_oa_location":null}`))
	}))
	defer srv.Close()

	f := NewFetcher(&config.Config{UnpaywallBaseURL: srv.URL, UnpaywallEmail: "me@example.org"}, zap.NewNop())
	meta, err := f.TryEnrich(context.Background(), providers.Candidate{Link: "https://doi.org/10.1038/s41586-021-03819-2"}, 5*time.Second)
	if err != nil {
		t.Fatalf("TryEnrich: %v", err)
	}
	if meta.Venue != "Nature" || meta.Year != "2021" {
		t.Errorf("meta = %+v", meta)
	}
}
