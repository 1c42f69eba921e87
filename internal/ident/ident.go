// Package ident generates run identifiers and validates identifier-shaped
// input that ends up in filesystem paths.
package ident

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewRunID generates a globally sortable run identifier. The UTC timestamp
// prefix keeps directory listings chronological and human-readable; the
// KSUID tail guarantees uniqueness across concurrent runs that start in
// the same second. The trailing characters carry the random payload; the
// leading ones encode the KSUID's own timestamp and repeat within a second.
func NewRunID() string {
	now := time.Now().UTC()
	id := ksuid.New().String()
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), id[len(id)-8:])
}

// NewRequestID generates an unprefixed time-ordered identifier for request
// correlation. Falls back to KSUID when UUIDv7 generation fails.
func NewRequestID() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return ksuid.New().String()
	}
	return v7.String()
}

var safeSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// IsSafeSegment reports whether s can be used as a single path segment:
// non-empty, no separators, no traversal, no leading dot.
func IsSafeSegment(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	if strings.Contains(s, "/") || strings.Contains(s, "\\") {
		return false
	}
	if s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return false
	}
	return safeSegmentPattern.MatchString(s)
}
