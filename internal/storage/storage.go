// Package storage keeps exported interview documents in an object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

const (
	DocumentContentType = "text/plain; charset=utf-8"
	// DefaultURLTTL bounds how long a signed document link stays readable.
	DefaultURLTTL = 15 * time.Minute
)

// Uploader writes one document and returns where it was stored.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// Signer hands out time-limited read links; stored documents are never
// public.
type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

// DocumentObject names the export of one recording cycle. Re-exporting the
// same cycle overwrites it; each new cycle gets its own object.
func DocumentObject(interviewID string, cycle int64) string {
	return fmt.Sprintf("interviews/%s/cycle-%d.txt", interviewID, cycle)
}
