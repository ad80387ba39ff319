package store

import (
	"context"
	"os"
	"testing"

	"go.uber.org/zap"
)

// TestPostgresStore läuft nur gegen eine echte Datenbank mit pgvector:
//
//	PAPER_ALERTS_TEST_DSN="host=localhost user=postgres dbname=papers_test sslmode=disable" go test ./store
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PAPER_ALERTS_TEST_DSN")
	if dsn == "" {
		t.Skip("PAPER_ALERTS_TEST_DSN not set")
	}
	db, err := Open(dsn, false)
	if err != nil {
		t.Fatal(err)
	}
	s := NewPostgres(db, nil, zap.NewNop())
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	runStoreContract(t, func(t *testing.T) Store {
		if err := db.Exec("TRUNCATE papers, ingest_watermarks RESTART IDENTITY").Error; err != nil {
			t.Fatal(err)
		}
		return s
	})
}
