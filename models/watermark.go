package models

import "time"

// IngestWatermark merkt sich pro Alert-Quelle die zuletzt verarbeitete Nachricht.
type IngestWatermark struct {
	Source         string    `json:"source" gorm:"primaryKey;size:64"`
	LastReceivedAt time.Time `json:"last_received_at"`
	LastMessageID  string    `json:"last_message_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName legt den Tabellennamen fest.
func (IngestWatermark) TableName() string {
	return "ingest_watermarks"
}

// Covers meldet, ob eine Nachricht bereits durch das Watermark abgedeckt ist.
func (w IngestWatermark) Covers(receivedAt time.Time, messageID string) bool {
	if w.LastReceivedAt.IsZero() {
		return false
	}
	if receivedAt.Before(w.LastReceivedAt) {
		return true
	}
	return receivedAt.Equal(w.LastReceivedAt) && messageID == w.LastMessageID
}

// Advance verschiebt das Watermark, niemals rückwärts.
func (w *IngestWatermark) Advance(receivedAt time.Time, messageID string) {
	if receivedAt.Before(w.LastReceivedAt) {
		return
	}
	w.LastReceivedAt = receivedAt
	w.LastMessageID = messageID
}
