package predictions

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/aviario/postura/pkg/query"
	"github.com/aviario/postura/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "predictions", "p").
	Project("id", "ID").
	Project("filename", "Filename").
	Project("content_type", "ContentType").
	Project("size_bytes", "SizeBytes").
	Project("label", "Label").
	Project("confidence", "Confidence").
	Project("probabilities", "Probabilities").
	Project("storage_key", "StorageKey").
	Project("created_at", "CreatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for prediction queries.
// Label and ContentType match exactly; Filename is a case-insensitive contains match.
// Since is inclusive and Until exclusive.
type Filters struct {
	Label         *string    `json:"label,omitempty"`
	Filename      *string    `json:"filename,omitempty"`
	ContentType   *string    `json:"content_type,omitempty"`
	MinConfidence *float64   `json:"min_confidence,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Until         *time.Time `json:"until,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Label", f.Label).
		WhereContains("Filename", f.Filename).
		WhereEquals("ContentType", f.ContentType).
		WhereCompare("Confidence", ">=", f.MinConfidence).
		WhereCompare("CreatedAt", ">=", f.Since).
		WhereCompare("CreatedAt", "<", f.Until)
}

// FiltersFromQuery extracts filter values from URL query parameters.
// Timestamps are RFC 3339.
func FiltersFromQuery(values url.Values) (Filters, error) {
	var f Filters

	if l := values.Get("label"); l != "" {
		f.Label = &l
	}

	if fn := values.Get("filename"); fn != "" {
		f.Filename = &fn
	}

	if ct := values.Get("content_type"); ct != "" {
		f.ContentType = &ct
	}

	if mc := values.Get("min_confidence"); mc != "" {
		v, err := strconv.ParseFloat(mc, 64)
		if err != nil {
			return f, fmt.Errorf("%w: min_confidence %q", ErrBadRequest, mc)
		}
		f.MinConfidence = &v
	}

	for key, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("%w: %s %q", ErrBadRequest, key, raw)
		}
		*dst = &t
	}

	return f, nil
}

func scanPrediction(s repository.Scanner) (Prediction, error) {
	var (
		p     Prediction
		probs []byte
	)
	err := s.Scan(
		&p.ID,
		&p.Filename,
		&p.ContentType,
		&p.SizeBytes,
		&p.Label,
		&p.Confidence,
		&probs,
		&p.StorageKey,
		&p.CreatedAt,
	)
	if err != nil {
		return p, err
	}

	if err := json.Unmarshal(probs, &p.Probabilities); err != nil {
		return p, fmt.Errorf("decode probabilities: %w", err)
	}
	return p, nil
}
