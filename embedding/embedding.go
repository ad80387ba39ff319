// Package embedding erzeugt Vektor-Embeddings für Paper-Texte und Suchanfragen.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnavailable signalisiert, dass der Embedding-Dienst nicht erreichbar ist.
	ErrUnavailable = errors.New("embedding service unavailable")
	// ErrDimensionMismatch signalisiert einen Vektor mit falscher Länge.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider generates embeddings from text.
type Provider interface {
	// Embed generates an embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for several texts in one request, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName returns the name of the embedding model.
	ModelName() string

	// Dimensions returns the expected vector dimensions.
	Dimensions() int
}

// CheckDimensions prüft die Länge eines Vektors.
func CheckDimensions(vec []float32, dims int) error {
	if len(vec) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dims)
	}
	return nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 if the vectors differ in length or either has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
