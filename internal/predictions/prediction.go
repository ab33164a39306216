// Package predictions records every classification served by the API and
// exposes the history for listing, lookup and removal. The uploaded image is
// copied to blob storage when storage is enabled.
package predictions

import (
	"time"

	"github.com/google/uuid"
)

// Prediction is a stored classification outcome.
type Prediction struct {
	ID            uuid.UUID          `json:"id"`
	Filename      string             `json:"filename"`
	ContentType   string             `json:"content_type"`
	SizeBytes     int64              `json:"size_bytes"`
	Label         string             `json:"label"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	StorageKey    *string            `json:"storage_key"`
	CreatedAt     time.Time          `json:"created_at"`
}

// RecordCommand carries a classified upload. Data is copied to blob storage
// when a store is configured and dropped otherwise.
type RecordCommand struct {
	Data          []byte
	Filename      string
	ContentType   string
	Label         string
	Confidence    float64
	Probabilities map[string]float64
}
