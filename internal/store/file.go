package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

// FileStore keeps one file per document under BaseDir.
type FileStore struct {
	baseDir   string
	extension string
	logger    *slog.Logger
}

// NewFileStore creates baseDir if needed and returns a FileStore writing
// "{documentID}{extension}" files into it.
func NewFileStore(baseDir, extension string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir %s: %w", baseDir, err)
	}
	return &FileStore{
		baseDir:   baseDir,
		extension: extension,
		logger:    slog.Default().With("component", "file-store", "dir", baseDir),
	}, nil
}

// Path returns the file a document is stored in.
func (s *FileStore) Path(documentID string) (string, error) {
	name, err := objectName(documentID, s.extension)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, name), nil
}

// Put writes content to a temp file in the same directory, syncs it and
// renames it over the target. Readers never observe a partial document, and
// a nil return means the bytes reached stable storage.
func (s *FileStore) Put(ctx context.Context, documentID string, content []byte) error {
	path, err := s.Path(documentID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", apperrors.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return fmt.Errorf("%w: writing %s: %w", apperrors.ErrPersistence, path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: syncing %s: %w", apperrors.ErrPersistence, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing %s: %w", apperrors.ErrPersistence, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: renaming into %s: %w", apperrors.ErrPersistence, path, err)
	}
	s.logger.Debug("document written", "path", path, "bytes", len(content))
	return nil
}

func (s *FileStore) Get(ctx context.Context, documentID string) ([]byte, error) {
	path, err := s.Path(documentID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %s not stored", documentID)
		}
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrPersistence, path, err)
	}
	return data, nil
}

// Ping checks that the base directory is still present and writable.
func (s *FileStore) Ping(ctx context.Context) error {
	f, err := os.CreateTemp(s.baseDir, ".ping-*")
	if err != nil {
		return fmt.Errorf("store dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

var _ Store = (*FileStore)(nil)
