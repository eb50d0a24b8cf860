// Package storage provides the blob store used for uploaded document bytes.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BlobStore is the contract for document byte storage. Keys are opaque to
// callers; BuildKey produces them at upload time.
type BlobStore interface {
	// Write stores the blob under key with the given content type.
	Write(ctx context.Context, key string, data []byte, contentType string) error
	// Read returns the blob stored under key.
	Read(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob stored under key. Deleting a missing blob is
	// not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// Close releases client resources.
	Close() error
}

// BuildKey produces a storage key for an uploaded document. The original
// filename only contributes its extension; the document ID keeps keys unique.
func BuildKey(prefix string, documentID uuid.UUID, originalFilename string) string {
	ext := ""
	if i := strings.LastIndex(originalFilename, "."); i >= 0 {
		ext = strings.ToLower(originalFilename[i:])
	}
	if prefix == "" {
		return fmt.Sprintf("%s%s", documentID, ext)
	}
	return fmt.Sprintf("%s/%s%s", strings.Trim(prefix, "/"), documentID, ext)
}
