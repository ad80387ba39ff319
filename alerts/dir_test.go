package alerts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const multipartEML = "From: Google Scholar Alerts <scholaralerts-noreply@google.com>\r\n" +
	"To: me@example.org\r\n" +
	"Subject: =?UTF-8?Q?Neue_Artikel_f=C3=BCr_Sie?=\r\n" +
	"Date: Tue, 02 Jan 2024 07:15:00 +0100\r\n" +
	"Message-ID: <abc123@google.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=UTF-8\r\n" +
	"\r\n" +
	"plain text version\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=UTF-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"<html><body><a href=3D\"https://arxiv.org/abs/2401.00001\">A Title</a></body></html>\r\n" +
	"--b1--\r\n"

const base64EML = "From: scholaralerts-noreply@google.com\r\n" +
	"Subject: alert\r\n" +
	"Date: Wed, 03 Jan 2024 07:15:00 +0000\r\n" +
	"Content-Type: text/html; charset=UTF-8\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"PGh0bWw+PGJvZHk+PHA+\r\n" +
	"SGVsbG88L3A+PC9ib2R5PjwvaHRtbD4=\r\n"

func TestParseEML(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantID   string
		wantHTML string
		wantTime time.Time
	}{
		{
			name:     "multipart quoted-printable",
			raw:      multipartEML,
			wantID:   "abc123@google.com",
			wantHTML: `<a href="https://arxiv.org/abs/2401.00001">A Title</a>`,
			wantTime: time.Date(2024, 1, 2, 6, 15, 0, 0, time.UTC),
		},
		{
			name:     "single part base64",
			raw:      base64EML,
			wantHTML: "<p>Hello</p>",
			wantTime: time.Date(2024, 1, 3, 7, 15, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseEML(strings.NewReader(tt.raw))
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantID != "" && msg.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", msg.ID, tt.wantID)
			}
			if msg.ID == "" {
				t.Errorf("empty ID")
			}
			if !strings.Contains(msg.HTML, tt.wantHTML) {
				t.Errorf("HTML = %q, want it to contain %q", msg.HTML, tt.wantHTML)
			}
			if !msg.ReceivedAt.Equal(tt.wantTime) {
				t.Errorf("ReceivedAt = %v, want %v", msg.ReceivedAt, tt.wantTime)
			}
		})
	}
}

func TestParseEMLDecodesSubject(t *testing.T) {
	msg, err := ParseEML(strings.NewReader(multipartEML))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != "Neue Artikel für Sie" {
		t.Errorf("Subject = %q", msg.Subject)
	}
}

func TestParseEMLWithoutHTML(t *testing.T) {
	raw := "From: a@b.c\r\nContent-Type: text/plain\r\n\r\nhello\r\n"
	if _, err := ParseEML(strings.NewReader(raw)); err == nil {
		t.Fatal("expected error for message without html part")
	}
}

func TestDirSourceFetch(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	write("b.eml", base64EML)
	write("a.eml", multipartEML)
	write("other.eml", strings.Replace(base64EML, "scholaralerts-noreply@google.com", "news@example.org", 1))
	write("broken.eml", "not a mail")
	write("notes.txt", "ignored")
	h := write("manual.html", "<html><body>manual</body></html>")
	mtime := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	if err := os.Chtimes(h, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	src := NewDirSource(dir, "scholaralerts-noreply@google.com", zap.NewNop())
	ctx := context.Background()

	msgs, err := src.Fetch(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].ID != "abc123@google.com" || !msgs[2].ReceivedAt.Equal(mtime) {
		t.Errorf("order = %s, %s, %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}

	msgs, err = src.Fetch(ctx, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !msgs[0].ReceivedAt.Equal(time.Date(2024, 1, 3, 7, 15, 0, 0, time.UTC)) {
		t.Errorf("since/max = %+v", msgs)
	}
}

func TestDirSourceMissingDir(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "nope"), "", zap.NewNop())
	if _, err := src.Fetch(context.Background(), time.Time{}, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestDirSourceEMLWithoutDateUsesModTime(t *testing.T) {
	dir := t.TempDir()
	raw := strings.Replace(base64EML, "Date: Wed, 03 Jan 2024 07:15:00 +0000\r\n", "Date: sometime last week\r\n", 1)
	path := filepath.Join(dir, "undated.eml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	msgs, err := NewDirSource(dir, "", zap.NewNop()).Fetch(context.Background(), time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if !msgs[0].ReceivedAt.Equal(mtime) {
		t.Errorf("ReceivedAt = %v, want %v", msgs[0].ReceivedAt, mtime)
	}
}
