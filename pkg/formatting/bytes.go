// Package formatting converts byte sizes to and from human-readable strings.
package formatting

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var units = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

var bytesPattern = regexp.MustCompile(`^(\d+(?:\.\d*)?)\s*([A-Za-z]*)$`)

// FormatBytes renders n with base-1024 units, e.g. FormatBytes(1536, 1) == "1.5 KB".
// Negative precision is treated as zero.
func FormatBytes(n int64, precision int) string {
	precision = max(precision, 0)

	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	if n < 1024 {
		return fmt.Sprintf("%s%d B", sign, n)
	}

	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return sign + strconv.FormatFloat(size, 'f', precision, 64) + " " + units[i]
}

// ParseBytes parses sizes such as "10MB", "512 kb", "1.5GiB" or "2M" as
// base-1024 byte counts. A bare number is bytes.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	m := bytesPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size number: %w", err)
	}

	idx, err := unitIndex(m[2])
	if err != nil {
		return 0, err
	}

	for range idx {
		value *= 1024
	}
	return int64(value), nil
}

func unitIndex(unit string) (int, error) {
	u := strings.ToUpper(unit)
	switch {
	case u == "" || u == "B":
		return 0, nil
	case strings.HasSuffix(u, "IB"):
		u = strings.TrimSuffix(u, "IB") + "B"
	case len(u) == 1:
		u += "B"
	}

	idx := slices.Index(units, u)
	if idx == -1 {
		return 0, fmt.Errorf("unknown byte size unit: %q", unit)
	}
	return idx, nil
}
