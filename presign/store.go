// Package presign issues pre-signed object storage URLs and runs multipart
// sessions on behalf of upload clients.
package presign

import (
	"context"
	"errors"
	"fmt"

	"github.com/artist-submissions/go-uploadkit/uploadapi"
)

// ErrSessionNotFound is returned when a multipart session is unknown to the
// object store, usually because it was completed, aborted or expired.
var ErrSessionNotFound = errors.New("multipart upload not found")

// Store is the object storage the service signs URLs for.
type Store interface {
	PresignPut(ctx context.Context, key string) (string, error)
	CreateMultipart(ctx context.Context, key, mimeType string) (string, error)
	PresignPart(ctx context.Context, key, uploadID string, partNumber int) (string, error)
	// CompleteMultipart assembles the parts, which are given in ascending order.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []uploadapi.CompletedPart) (string, error)
}

// StoreError is an error reported by the object store itself.
type StoreError struct {
	Code string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("object store: %s: %s", e.Code, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
