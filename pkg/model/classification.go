package model

// NeutralConfidence is used when a backend returns a label without a score
const NeutralConfidence = 0.5

// ClassificationResult is the outcome of classifying one media item. It is not persisted.
type ClassificationResult struct {
	Category   Category
	Confidence float64
	// Scored is false when the backend gave no score and Confidence is NeutralConfidence
	Scored bool
	// Raw is the label token returned by the backend before mapping
	Raw string
}
