package storage

import (
	"fmt"
	"strconv"
	"time"
)

// MaxListCap bounds the page size of a single List call.
const MaxListCap int32 = 5000

// BlobMeta describes a stored blob.
type BlobMeta struct {
	Key           string    `json:"key"`
	ContentType   string    `json:"content_type"`
	ContentLength int64     `json:"content_length"`
	LastModified  time.Time `json:"last_modified"`
}

// ParseMaxResults parses a page size, returning fallback for an empty string
// and clamping to MaxListCap.
func ParseMaxResults(s string, fallback int32) (int32, error) {
	if s == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid max results %q", s)
	}

	return int32(min(n, int(MaxListCap))), nil
}
