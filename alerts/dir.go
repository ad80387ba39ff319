package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DirSource liest Alerts aus einem Verzeichnis: .eml-Dateien (RFC 5322, z.B. aus
// einem Mail-Export) und rohe .html-Dateien, deren Änderungszeit als Empfangszeit gilt.
type DirSource struct {
	Dir    string
	Sender string
	Logger *zap.Logger
}

// NewDirSource erstellt eine Quelle über dir; sender filtert auf den Absender (leer = alle).
func NewDirSource(dir, sender string, logger *zap.Logger) *DirSource {
	return &DirSource{Dir: dir, Sender: strings.ToLower(strings.TrimSpace(sender)), Logger: logger}
}

// Fetch liest alle passenden Dateien. Nicht lesbare Dateien werden geloggt und übersprungen.
func (d *DirSource) Fetch(ctx context.Context, since time.Time, max int) ([]Message, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read alert dir: %w", err)
	}

	var msgs []Message
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		path := filepath.Join(d.Dir, e.Name())
		var (
			msg Message
			err error
		)
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".eml":
			msg, err = readEML(path)
		case ".html", ".htm":
			msg, err = readHTML(path)
		default:
			continue
		}
		if err != nil {
			d.Logger.Warn("Alert-Datei übersprungen", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if d.Sender != "" && msg.From != "" && !strings.Contains(strings.ToLower(msg.From), d.Sender) {
			continue
		}
		if !since.IsZero() && msg.ReceivedAt.Before(since) {
			continue
		}
		msgs = append(msgs, msg)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].ReceivedAt.Equal(msgs[j].ReceivedAt) {
			return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	if max > 0 && len(msgs) > max {
		msgs = msgs[:max]
	}
	return msgs, nil
}

func readHTML(path string) (Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Message{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Message{}, err
	}
	sum := sha256.Sum256(raw)
	return Message{
		ID:         "file:" + hex.EncodeToString(sum[:8]),
		Subject:    filepath.Base(path),
		ReceivedAt: info.ModTime().UTC(),
		HTML:       string(raw),
	}, nil
}

func readEML(path string) (Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return Message{}, err
	}
	defer f.Close()
	msg, err := ParseEML(f)
	if err != nil {
		return Message{}, err
	}
	if msg.ReceivedAt.IsZero() {
		// ohne lesbaren Date-Header gilt die Änderungszeit der Datei
		info, err := f.Stat()
		if err != nil {
			return Message{}, err
		}
		msg.ReceivedAt = info.ModTime().UTC()
	}
	return msg, nil
}

// ParseEML liest eine RFC-5322-Nachricht und extrahiert den HTML-Teil.
func ParseEML(r io.Reader) (Message, error) {
	m, err := mail.ReadMessage(r)
	if err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	msg := Message{
		ID:      strings.Trim(m.Header.Get("Message-Id"), "<> "),
		Subject: decodeHeader(m.Header.Get("Subject")),
		From:    m.Header.Get("From"),
	}
	if t, err := m.Header.Date(); err == nil {
		msg.ReceivedAt = t.UTC()
	}

	body, err := htmlPart(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body)
	if err != nil {
		return Message{}, err
	}
	if body == "" {
		return Message{}, fmt.Errorf("message %q has no html part", msg.ID)
	}
	msg.HTML = body
	if msg.ID == "" {
		sum := sha256.Sum256([]byte(body))
		msg.ID = "eml:" + hex.EncodeToString(sum[:8])
	}
	return msg, nil
}

func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	if out, err := dec.DecodeHeader(s); err == nil {
		return out
	}
	return s
}

// htmlPart sucht rekursiv den ersten text/html-Teil.
func htmlPart(contentType, encoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return "", nil
			}
			if err != nil {
				return "", fmt.Errorf("read multipart: %w", err)
			}
			// multipart.Reader dekodiert quoted-printable bereits selbst
			enc := part.Header.Get("Content-Transfer-Encoding")
			if strings.EqualFold(enc, "quoted-printable") {
				enc = ""
			}
			html, err := htmlPart(part.Header.Get("Content-Type"), enc, part)
			if err != nil {
				return "", err
			}
			if html != "" {
				return html, nil
			}
		}
	case mediaType == "text/html":
		raw, err := io.ReadAll(decodeTransfer(encoding, body))
		if err != nil {
			return "", fmt.Errorf("decode html part: %w", err)
		}
		return string(raw), nil
	default:
		return "", nil
	}
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}
