package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// PaperSummary ist die strukturierte KI-Zusammenfassung eines Papers.
type PaperSummary struct {
	Basics             string `json:"basics"`
	Core               string `json:"core"`
	MethodsAndEvidence string `json:"methods_and_evidence"`
	Figures            string `json:"figures"`
}

// Empty meldet, ob keine Sektion befüllt ist.
func (s PaperSummary) Empty() bool {
	return s.Basics == "" && s.Core == "" && s.MethodsAndEvidence == "" && s.Figures == ""
}

// SummaryValue dekodiert die gespeicherte Zusammenfassung, nil wenn keine existiert.
func (p *Paper) SummaryValue() (*PaperSummary, error) {
	if len(p.Summary) == 0 || string(p.Summary) == "null" {
		return nil, nil
	}
	var s PaperSummary
	if err := json.Unmarshal(p.Summary, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSummary kodiert die Zusammenfassung und setzt den Zeitstempel.
func (p *Paper) SetSummary(s PaperSummary, at time.Time) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	p.Summary = datatypes.JSON(raw)
	p.SummaryGeneratedAt = &at
	return nil
}
