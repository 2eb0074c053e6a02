package cashcut

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// deriveKey builds a deterministic idempotency key for a cut trigger. Two
// triggers that agree on principal, type, notes, and time bucket produce the
// same key and therefore the same cut record. Manual triggers use a minute
// bucket (double-clicks and quick retries collapse); automatic triggers use
// an hour bucket (a rescheduled tick within the hour collapses).
func deriveKey(principal string, cutType string, notes string, bucket time.Time) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		strings.TrimSpace(principal),
		cutType,
		strings.TrimSpace(notes),
		bucket.UTC().Format(time.RFC3339),
	}, "|")))
	return "cut-" + hex.EncodeToString(h.Sum(nil))
}

func manualBucket(at time.Time) time.Time {
	return at.UTC().Truncate(time.Minute)
}

func automaticBucket(at time.Time) time.Time {
	return at.UTC().Truncate(time.Hour)
}
