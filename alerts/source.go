// Package alerts liefert die eingehenden Scholar-Alert-Nachrichten.
package alerts

import (
	"context"
	"time"
)

// Message ist eine Alert-Nachricht mit ihrem HTML-Body.
type Message struct {
	ID         string
	Subject    string
	From       string
	ReceivedAt time.Time
	HTML       string
}

// Source liefert Nachrichten ab since, aufsteigend nach Empfangszeit, höchstens max (0 = alle).
type Source interface {
	Fetch(ctx context.Context, since time.Time, max int) ([]Message, error)
}
