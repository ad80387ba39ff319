package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// EmbeddingSource ist der Text, aus dem das Embedding eines Papers berechnet wird.
func EmbeddingSource(title, abstract string) string {
	return title + "\n" + abstract
}

// SourceHash ist der sha256-Hex-Digest von EmbeddingSource.
func SourceHash(title, abstract string) string {
	sum := sha256.Sum256([]byte(EmbeddingSource(title, abstract)))
	return hex.EncodeToString(sum[:])
}

// EmbeddingSource des Papers.
func (p *Paper) EmbeddingSource() string {
	return EmbeddingSource(p.Title, p.Abstract)
}

// EmbeddingFresh meldet, ob das gespeicherte Embedding zum aktuellen Text passt.
func (p *Paper) EmbeddingFresh() bool {
	return p.HasEmbedding() && p.EmbeddingHash != "" && p.EmbeddingHash == SourceHash(p.Title, p.Abstract)
}
