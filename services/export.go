package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"paper-alerts/storage"
	"paper-alerts/store"
)

// ErrExportDisabled: kein Bucket konfiguriert.
var ErrExportDisabled = errors.New("export storage not configured")

const exportPrefix = "exports/"

// ExportResult beschreibt einen abgeschlossenen Export.
type ExportResult struct {
	Key     string   `json:"key"`
	Papers  int      `json:"papers"`
	Bytes   int      `json:"bytes"`
	Deleted []string `json:"deleted,omitempty"`
}

// ExportService schreibt alle Paper als gzip-komprimiertes JSONL in die Objektablage.
type ExportService struct {
	store   store.Store
	objects storage.ObjectStore
	keep    int
	logger  *zap.Logger
	now     func() time.Time
}

func NewExportService(s store.Store, objects storage.ObjectStore, keep int, logger *zap.Logger) *ExportService {
	return &ExportService{store: s, objects: objects, keep: keep, logger: logger, now: time.Now}
}

// Export lädt den Snapshot hoch und entfernt danach alte Exporte bis auf die keep neuesten.
func (e *ExportService) Export(ctx context.Context) (*ExportResult, error) {
	if e.objects == nil {
		return nil, ErrExportDisabled
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	n, err := WriteJSONL(ctx, e.store, gz)
	if err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress export: %w", err)
	}

	key := fmt.Sprintf("%spapers-%s.jsonl.gz", exportPrefix, e.now().UTC().Format("20060102-150405"))
	if err := e.objects.Put(ctx, key, buf.Bytes(), "application/gzip"); err != nil {
		return nil, err
	}
	res := &ExportResult{Key: key, Papers: n, Bytes: buf.Len()}

	deleted, err := storage.Rotate(ctx, e.objects, exportPrefix, e.keep)
	res.Deleted = deleted
	if err != nil {
		e.logger.Warn("Rotation alter Exporte fehlgeschlagen", zap.Error(err))
	}
	e.logger.Info("Export hochgeladen",
		zap.String("key", key), zap.Int("papers", n), zap.Int("bytes", res.Bytes), zap.Int("deleted", len(deleted)))
	return res, nil
}

// WriteJSONL schreibt jedes Paper als eine JSON-Zeile, in ID-Reihenfolge.
func WriteJSONL(ctx context.Context, s store.Store, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	var (
		cursor uint
		count  int
	)
	for {
		batch, err := s.Scan(ctx, cursor, retagBatch)
		if err != nil {
			return count, err
		}
		if len(batch) == 0 {
			return count, nil
		}
		for i := range batch {
			if err := enc.Encode(&batch[i]); err != nil {
				return count, fmt.Errorf("encode paper %d: %w", batch[i].ID, err)
			}
			cursor = batch[i].ID
			count++
		}
	}
}
