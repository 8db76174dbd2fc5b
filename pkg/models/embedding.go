package models

import "github.com/ocentra/tabagentd/pkg/ids"

// EmbeddingClass normalizes the source's informal "fast (0.6B)" /
// "accurate (8B)" tags into the two quality classes spec §9(c) calls
// for.
type EmbeddingClass string

const (
	EmbeddingFast     EmbeddingClass = "Fast"     // ~384 dims
	EmbeddingAccurate EmbeddingClass = "Accurate" // ~1536 dims
)

// Dimensions for the two normalized classes (spec §3).
const (
	FastDimensions     = 384
	AccurateDimensions = 1536
)

// Embedding is a stored vector tied to a model and a source text hash
// (spec §3). Vector length is dictated by ModelID/Class, not stored
// redundantly beyond len(Vector).
type Embedding struct {
	ID             ids.EmbeddingId `json:"id"`
	SourceTextHash string          `json:"source_text_hash"`
	ModelID        ids.ModelId     `json:"model_id"`
	Class          EmbeddingClass  `json:"class"`
	Vector         []float32       `json:"vector"`
}

// ExpectedDimensions returns the dimension bound implied by Class.
func ExpectedDimensions(class EmbeddingClass) int {
	if class == EmbeddingAccurate {
		return AccurateDimensions
	}
	return FastDimensions
}
