package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"paper-alerts/alerts"
	"paper-alerts/models"
	"paper-alerts/store"
	"paper-alerts/topics"
)

func newIngestFixture(t *testing.T, msgs ...alerts.Message) (*IngestService, *store.Memory, *fakeEmbedder) {
	t.Helper()
	s := store.NewMemory(nil)
	emb := newFakeEmbedder(4)
	svc := &IngestService{
		Source:     &fakeSource{msgs: msgs},
		Normalizer: NewAlertNormalizer(zap.NewNop(), nil, time.Second),
		Classifier: topics.Default(),
		Store:      s,
		Indexer:    NewEmbeddingIndexer(s, emb, zap.NewNop(), 10),
		Logger:     zap.NewNop(),
		SourceName: "scholar",
		Lookback:   7 * 24 * time.Hour,
	}
	return svc, s, emb
}

func alertMessage(t *testing.T, id string, at time.Time) alerts.Message {
	t.Helper()
	return alerts.Message{ID: id, ReceivedAt: at, HTML: loadFixture(t, "scholar_alert.html")}
}

func TestIngestRunStoresPapers(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	svc, s, _ := newIngestFixture(t, alertMessage(t, "msg-1", at))

	sum, err := svc.RunScheduled(ctx, RunOptions{Since: at.Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Messages != 1 || sum.Parsed != 3 || sum.ParseFailures != 1 || sum.Inserted != 3 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.EmbedAttempted != 3 || sum.Embedded != 3 || sum.EmbedFailed != 0 {
		t.Errorf("embedding summary = %+v", sum)
	}
	if sum.RunID == "" {
		t.Error("RunID not set")
	}

	res, err := s.Query(ctx, store.Filter{Topics: []string{"Factuality"}}, store.Sort{}, store.Page{Number: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Papers[0].Title != "Measuring Hallucination in Multimodal Models" {
		t.Fatalf("topic query = %+v", res)
	}
	p := res.Papers[0]
	if !p.RecommendedDate.Equal(models.DateOnly(at)) || p.SourceMessageID != "msg-1" {
		t.Errorf("paper = %+v", p)
	}

	wm, err := s.Watermark(ctx, "scholar")
	if err != nil {
		t.Fatal(err)
	}
	if !wm.LastReceivedAt.Equal(at) || wm.LastMessageID != "msg-1" {
		t.Errorf("watermark = %+v", wm)
	}
}

func TestIngestSameBatchTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	svc, s, _ := newIngestFixture(t, alertMessage(t, "msg-1", at))

	if _, err := svc.Run(ctx, models.IngestWatermark{}, RunOptions{Since: at}); err != nil {
		t.Fatal(err)
	}
	// ohne Watermark wird dieselbe Nachricht erneut verarbeitet
	sum, err := svc.Run(ctx, models.IngestWatermark{}, RunOptions{Since: at})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Inserted != 0 || sum.Merged != 0 || sum.Unchanged != 3 {
		t.Errorf("summary = %+v", sum)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 {
		t.Errorf("Total = %d, want 3", st.Total)
	}
	res, _ := s.Query(ctx, store.Filter{}, store.Sort{}, store.Page{Number: 1})
	for _, p := range res.Papers {
		if p.RecommendCount != 1 {
			t.Errorf("%q RecommendCount = %d, want 1", p.Title, p.RecommendCount)
		}
	}
}

func TestIngestWatermarkSkipsProcessedMessages(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	svc, _, _ := newIngestFixture(t, alertMessage(t, "msg-1", at))

	if _, err := svc.RunScheduled(ctx, RunOptions{Since: at.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	sum, err := svc.RunScheduled(ctx, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Messages != 0 || sum.SkippedMessages != 1 || sum.Parsed != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestIngestExplicitWindowRereadsOlderMessages(t *testing.T) {
	ctx := context.Background()
	older := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC)
	svc, s, _ := newIngestFixture(t, alertMessage(t, "msg-old", older), alertMessage(t, "msg-new", newer))

	if _, err := svc.RunScheduled(ctx, RunOptions{Since: newer}); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.RunScheduled(ctx, RunOptions{Since: older.Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Messages != 2 || sum.SkippedMessages != 0 || sum.Merged != 3 || sum.Inserted != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if !sum.Watermark.LastReceivedAt.Equal(newer) || sum.Watermark.LastMessageID != "msg-new" {
		t.Errorf("watermark moved backwards: %+v", sum.Watermark)
	}
	res, _ := s.Query(ctx, store.Filter{}, store.Sort{}, store.Page{Number: 1})
	for _, p := range res.Papers {
		if !p.RecommendedDate.Equal(models.DateOnly(older)) || p.RecommendCount != 1 {
			t.Errorf("%q date = %v, count = %d", p.Title, p.RecommendedDate, p.RecommendCount)
		}
	}

	// ohne Since greift wieder das Watermark
	sum, err = svc.RunScheduled(ctx, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Messages != 0 || sum.SkippedMessages != 1 {
		t.Errorf("watermark run summary = %+v", sum)
	}
}

func TestIngestRerecommendationMerges(t *testing.T) {
	ctx := context.Background()
	first := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	second := first.AddDate(0, 0, 3)
	svc, s, _ := newIngestFixture(t, alertMessage(t, "msg-1", first), alertMessage(t, "msg-2", second))

	sum, err := svc.RunScheduled(ctx, RunOptions{Since: first})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Messages != 2 || sum.Inserted != 3 || sum.Merged != 3 {
		t.Errorf("summary = %+v", sum)
	}
	res, _ := s.Query(ctx, store.Filter{}, store.Sort{}, store.Page{Number: 1})
	if res.Total != 3 {
		t.Fatalf("Total = %d", res.Total)
	}
	for _, p := range res.Papers {
		if p.RecommendCount != 2 {
			t.Errorf("%q RecommendCount = %d, want 2", p.Title, p.RecommendCount)
		}
		if !p.RecommendedDate.Equal(models.DateOnly(first)) || !p.LastRecommendedDate.Equal(models.DateOnly(second)) {
			t.Errorf("%q dates = %v / %v", p.Title, p.RecommendedDate, p.LastRecommendedDate)
		}
	}
}

func TestIngestEmbeddingFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	svc, s, emb := newIngestFixture(t, alertMessage(t, "msg-1", at))
	emb.setFail(true)

	sum, err := svc.RunScheduled(ctx, RunOptions{Since: at})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Inserted != 3 || sum.EmbedAttempted != 3 || sum.EmbedFailed != 3 {
		t.Errorf("summary = %+v", sum)
	}
	missing, err := s.MissingEmbeddings(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 3 {
		t.Fatalf("missing = %d, want 3", len(missing))
	}
	for _, p := range missing {
		if p.EmbeddingError == "" || p.EmbeddingAttemptedAt == nil {
			t.Errorf("%q failure not recorded", p.Title)
		}
	}

	emb.setFail(false)
	stats, err := svc.Indexer.Backfill(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Embedded != 3 {
		t.Errorf("retry embedded %d, want 3", stats.Embedded)
	}
}

func TestIngestSkipOptions(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	svc, s, emb := newIngestFixture(t, alertMessage(t, "msg-1", at))

	sum, err := svc.RunScheduled(ctx, RunOptions{Since: at, SkipTags: true, SkipEmbeddings: true})
	if err != nil {
		t.Fatal(err)
	}
	if sum.EmbedAttempted != 0 || emb.batchCalls != 0 {
		t.Errorf("embeddings ran: %+v", sum)
	}
	res, _ := s.Query(ctx, store.Filter{}, store.Sort{}, store.Page{Number: 1})
	for _, p := range res.Papers {
		if len(p.Topics) != 0 {
			t.Errorf("%q tagged with %v", p.Title, p.Topics)
		}
	}
}

func TestIngestArchivesMessages(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	svc, _, _ := newIngestFixture(t, alertMessage(t, "<msg/1@google.com>", at))
	objs := newMemObjects()
	svc.Archive = objs

	if _, err := svc.RunScheduled(ctx, RunOptions{Since: at}); err != nil {
		t.Fatal(err)
	}
	keys := objs.keys()
	if len(keys) != 1 || keys[0] != "alerts/2024/01/_msg_1_google.com_.html" {
		t.Fatalf("keys = %v", keys)
	}
	if objs.types[keys[0]] != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", objs.types[keys[0]])
	}

	// Archivfehler bricht den Import nicht ab
	svc2, _, _ := newIngestFixture(t, alertMessage(t, "msg-2", at))
	broken := newMemObjects()
	broken.putErr = errors.New("bucket gone")
	svc2.Archive = broken
	sum, err := svc2.RunScheduled(ctx, RunOptions{Since: at})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", sum.Inserted)
	}
}

func TestIngestSourceError(t *testing.T) {
	svc, _, _ := newIngestFixture(t)
	svc.Source = &fakeSource{err: errors.New("imap down")}
	_, err := svc.RunScheduled(context.Background(), RunOptions{})
	if err == nil || !strings.Contains(err.Error(), "imap down") {
		t.Fatalf("err = %v", err)
	}
}

type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSource) Fetch(ctx context.Context, since time.Time, max int) ([]alerts.Message, error) {
	close(b.started)
	<-b.release
	return nil, nil
}

func TestIngestRejectsOverlappingRuns(t *testing.T) {
	svc, _, _ := newIngestFixture(t)
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	svc.Source = src

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunScheduled(context.Background(), RunOptions{})
		done <- err
	}()
	<-src.started

	if _, err := svc.RunScheduled(context.Background(), RunOptions{}); !errors.Is(err, ErrIngestRunning) {
		t.Errorf("err = %v, want ErrIngestRunning", err)
	}
	close(src.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestArchiveKey(t *testing.T) {
	at := time.Date(2023, 11, 2, 23, 0, 0, 0, time.FixedZone("x", -2*3600))
	got := ArchiveKey(alerts.Message{ID: "", ReceivedAt: at})
	if got != "alerts/2023/11/unknown.html" {
		t.Errorf("ArchiveKey = %q", got)
	}
}
