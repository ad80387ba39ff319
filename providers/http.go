package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound wird zurückgegeben, wenn die Quelle den Eintrag nicht kennt.
var ErrNotFound = errors.New("not found")

const maxBodySize = 4 << 20

// Fetch lädt eine URL mit begrenzten Wiederholungen. 404 bricht sofort ab,
// Netzwerkfehler, 429 und 5xx werden mit wachsendem Abstand wiederholt.
func Fetch(ctx context.Context, client *http.Client, url string, headers map[string]string, attempts int, backoff time.Duration) ([]byte, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff * time.Duration(1<<(attempt-1))):
			}
		}

		body, retry, err := fetchOnce(ctx, client, url, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func fetchOnce(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", "paper-alerts/1.0 (+metadata enrichment)")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("request failed with status: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}
