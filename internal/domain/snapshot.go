package domain

import (
	"regexp"
	"time"
)

// ClosestTimestamp marks a request that accepts whichever capture the archive
// considers nearest.
const ClosestTimestamp = "closest"

var (
	partialTimestampExpr = regexp.MustCompile(`^\d{1,14}$`)
	fullTimestampExpr    = regexp.MustCompile(`^\d{14}$`)
)

// SnapshotRequest names one archived page to retrieve.
type SnapshotRequest struct {
	Identifier string
	Timestamp  string
}

// NewSnapshotRequest builds a request, mapping an empty timestamp to ClosestTimestamp.
func NewSnapshotRequest(identifier, timestamp string) SnapshotRequest {
	if timestamp == "" {
		timestamp = ClosestTimestamp
	}
	return SnapshotRequest{Identifier: identifier, Timestamp: timestamp}
}

// Closest reports whether the request leaves capture selection to the archive.
func (r SnapshotRequest) Closest() bool {
	return r.Timestamp == "" || r.Timestamp == ClosestTimestamp
}

// Key identifies the request inside the cache and the journal.
func (r SnapshotRequest) Key() string {
	ts := r.Timestamp
	if r.Closest() {
		ts = ClosestTimestamp
	}
	return r.Identifier + "@" + ts
}

// ValidRequestTimestamp accepts "closest", "" and 1-14 digit Wayback timestamps.
func ValidRequestTimestamp(ts string) bool {
	return ts == "" || ts == ClosestTimestamp || partialTimestampExpr.MatchString(ts)
}

// ValidSnapshotTimestamp accepts only full 14-digit YYYYMMDDhhmmss timestamps.
func ValidSnapshotTimestamp(ts string) bool {
	if !fullTimestampExpr.MatchString(ts) {
		return false
	}
	_, err := time.Parse(SnapshotLayout, ts)
	return err == nil
}

// SnapshotLayout is the time layout of Wayback capture timestamps.
const SnapshotLayout = "20060102150405"

// SnapshotResponse is what the archive served for a request.
type SnapshotResponse struct {
	Request           SnapshotRequest
	Status            int
	ResolvedTimestamp string
	ContentType       string
	Body              []byte
	FetchedAt         time.Time
	FromCache         bool
}
