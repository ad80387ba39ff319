package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Paper repräsentiert einen deduplizierten Eintrag aus den Scholar-Alerts.
// TitleKey ist der Deduplizierungsschlüssel; CreatedAt wird nur beim Anlegen geschrieben.
type Paper struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"<-:create"`
	UpdatedAt time.Time `json:"updated_at"`

	Title    string `json:"title" gorm:"type:text;not null"`
	TitleKey string `json:"-" gorm:"column:title_key;uniqueIndex;not null"`
	Authors  string `json:"authors,omitempty" gorm:"type:text"`
	Venue    string `json:"venue,omitempty" gorm:"type:text"`
	Year     string `json:"year,omitempty" gorm:"size:4"`
	Abstract string `json:"abstract,omitempty" gorm:"type:text"`
	Link     string `json:"link,omitempty" gorm:"type:text"`

	// Erste und letzte Empfehlung durch den Alert-Dienst
	RecommendedDate     time.Time `json:"recommended_date" gorm:"type:date;index"`
	LastRecommendedDate time.Time `json:"last_recommended_date" gorm:"type:date"`
	RecommendCount      int       `json:"recommend_count" gorm:"default:1"`
	SourceMessageID     string    `json:"-" gorm:"index"`

	Topics datatypes.JSONSlice[string] `json:"topics" gorm:"type:jsonb"`

	// Embedding über Titel und Abstract; EmbeddingHash leer bedeutet veraltet
	Embedding            *pgvector.Vector `json:"-" gorm:"type:vector"`
	EmbeddingHash        string           `json:"-" gorm:"size:64"`
	EmbeddingAttemptedAt *time.Time       `json:"-"`
	EmbeddingError       string           `json:"-" gorm:"type:text"`

	Summary            datatypes.JSON `json:"summary,omitempty" gorm:"type:jsonb"`
	SummaryGeneratedAt *time.Time     `json:"summary_generated_at,omitempty"`

	// Nur für Antworten, nicht persistiert
	Similarity float64 `json:"similarity,omitempty" gorm:"-"`
}

// TableName legt den Tabellennamen fest.
func (Paper) TableName() string {
	return "papers"
}

// HasEmbedding meldet, ob ein Vektor gespeichert ist.
func (p *Paper) HasEmbedding() bool {
	return p.Embedding != nil && len(p.Embedding.Slice()) > 0
}

// TopicList gibt die Topics als einfachen Slice zurück.
func (p *Paper) TopicList() []string {
	return []string(p.Topics)
}
