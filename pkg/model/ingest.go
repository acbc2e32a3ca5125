package model

import (
	"fmt"

	"github.com/google/uuid"
)

type IngestionID string

// NewIngestionID generates a new unique IngestionID
func NewIngestionID() IngestionID {
	return IngestionID(uuid.New().String())
}

// IngestionRequest is built per chat event and consumed once by the ingestion pipeline
type IngestionRequest struct {
	ID IngestionID
	// Source identifies the sender for logging and audit only
	Source string
	// Locator is a local path or remote URL. Ignored when Data is set.
	Locator string
	Data    []byte
	// Label is an optional operator supplied category
	Label string
}

// HasMedia reports whether the request carries anything retrievable
func (r *IngestionRequest) HasMedia() bool {
	return r != nil && (len(r.Data) > 0 || r.Locator != "")
}

type IngestionStatus string

const (
	IngestionAdmitted IngestionStatus = "admitted"
	IngestionRejected IngestionStatus = "rejected"
)

// RejectReason names the stage that stopped an ingestion
type RejectReason string

const (
	RejectNoMedia              RejectReason = "no_media"
	RejectDownloadFailed       RejectReason = "download_failed"
	RejectUnsupportedFormat    RejectReason = "unsupported_format"
	RejectClassificationFailed RejectReason = "classification_failed"
	RejectUnrecognizedLabel    RejectReason = "unrecognized_label"
	RejectUnknownCategory      RejectReason = "unknown_category"
	RejectLowConfidence        RejectReason = "low_confidence"
	RejectPolicyDenied         RejectReason = "policy_denied"
	RejectStoreFailed          RejectReason = "store_failed"
)

// Soft reports whether the rejection is a policy decision rather than an error
func (r RejectReason) Soft() bool {
	return r == RejectLowConfidence || r == RejectPolicyDenied
}

// IngestionResult is the short diagnostic returned for every ingestion
type IngestionResult struct {
	ID         IngestionID
	Status     IngestionStatus
	Reason     RejectReason
	Category   Category
	Confidence float64
	Reference  *MediaReference
	Duplicate  bool
	Detail     string
	Err        error
}

// Admitted reports whether the item was stored
func (r *IngestionResult) Admitted() bool {
	return r.Status == IngestionAdmitted
}

// Message renders the result for a chat reply
func (r *IngestionResult) Message() string {
	if r.Admitted() {
		if r.Duplicate {
			return fmt.Sprintf("already archived as %s: %s", r.Category, r.Reference.Name())
		}
		return fmt.Sprintf("added %s: %s", r.Category, r.Reference.Name())
	}

	switch r.Reason {
	case RejectNoMedia:
		return "no image found"
	case RejectDownloadFailed:
		return "failed to download image, please try again"
	case RejectUnsupportedFormat:
		return "unsupported image format"
	case RejectClassificationFailed:
		return "failed to recognize the emotion, please try again"
	case RejectUnrecognizedLabel:
		return "could not map the image to a known emotion"
	case RejectUnknownCategory:
		return fmt.Sprintf("invalid emotion: %s", r.Detail)
	case RejectLowConfidence:
		return fmt.Sprintf("not confident enough (%s %.2f)", r.Category, r.Confidence)
	case RejectPolicyDenied:
		if r.Detail != "" {
			return "rejected by policy: " + r.Detail
		}
		return "rejected by policy"
	case RejectStoreFailed:
		return "failed to store image"
	default:
		return "rejected"
	}
}
