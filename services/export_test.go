package services

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"paper-alerts/models"
	"paper-alerts/store"
)

func TestExportWritesGzippedJSONL(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(nil)
	seedPapers(t, s, 3)
	objs := newMemObjects()
	e := NewExportService(s, objs, 4, zap.NewNop())
	e.now = func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) }

	res, err := e.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Key != "exports/papers-20240201-120000.jsonl.gz" || res.Papers != 3 {
		t.Errorf("result = %+v", res)
	}
	if objs.types[res.Key] != "application/gzip" {
		t.Errorf("content type = %q", objs.types[res.Key])
	}

	raw, err := objs.Get(ctx, res.Key)
	if err != nil {
		t.Fatal(err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	sc := bufio.NewScanner(gz)
	var titles []string
	for sc.Scan() {
		var p models.Paper
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		titles = append(titles, p.Title)
	}
	if len(titles) != 3 || titles[0] != "Indexer test paper number 0" {
		t.Errorf("titles = %v", titles)
	}
}

func TestExportRotatesOldSnapshots(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(nil)
	seedPapers(t, s, 1)
	objs := newMemObjects()
	// fremde Objekte außerhalb des Export-Präfixes bleiben unberührt
	if err := objs.Put(ctx, "alerts/2024/01/x.html", []byte("<html/>"), "text/html"); err != nil {
		t.Fatal(err)
	}
	e := NewExportService(s, objs, 2, zap.NewNop())
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { at = at.Add(time.Hour); return at }

	var last *ExportResult
	for i := 0; i < 4; i++ {
		res, err := e.Export(ctx)
		if err != nil {
			t.Fatal(err)
		}
		last = res
	}
	if len(last.Deleted) != 1 {
		t.Errorf("deleted = %v", last.Deleted)
	}
	want := []string{
		"alerts/2024/01/x.html",
		"exports/papers-20240201-030000.jsonl.gz",
		"exports/papers-20240201-040000.jsonl.gz",
	}
	got := objs.keys()
	if len(got) != len(want) {
		t.Fatalf("keys = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keys = %v, want %v", got, want)
			break
		}
	}
}

func TestExportWithoutStorage(t *testing.T) {
	e := NewExportService(store.NewMemory(nil), nil, 2, zap.NewNop())
	if _, err := e.Export(context.Background()); !errors.Is(err, ErrExportDisabled) {
		t.Errorf("err = %v", err)
	}
}
