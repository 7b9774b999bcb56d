// Package store persists report documents addressed by their DocumentId.
// The file driver writes under a configurable base directory; the s3 driver
// writes to a bucket on any S3-compatible object store.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

// Store writes and reads documents by id. Put overwrites an existing
// document with the same id, so repeating a save is harmless.
type Store interface {
	Put(ctx context.Context, documentID string, content []byte) error
	Get(ctx context.Context, documentID string) ([]byte, error)
	Ping(ctx context.Context) error
}

// New builds the Store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "file":
		return NewFileStore(cfg.BaseDir, cfg.Extension)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// objectName validates documentID and returns the name it is stored under.
// Ids that could escape the store's namespace are rejected.
func objectName(documentID, extension string) (string, error) {
	if documentID == "" {
		return "", apperrors.New(apperrors.ErrInvalidInput, 400, "document id is required")
	}
	if documentID == "." || documentID == ".." ||
		strings.ContainsAny(documentID, `/\:`) ||
		strings.ContainsRune(documentID, 0) {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, 400, "document id %q is not a valid object name", documentID)
	}
	return documentID + extension, nil
}
