// Package storage moves call recordings between the local staging
// directory and the blob store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"dialix-pipeline/internal/config"
)

var (
	// ErrObjectNotFound is returned when a key does not exist in the blob store.
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

// Gateway is a blob store scoped to one bucket.
type Gateway interface {
	Upload(ctx context.Context, key, localPath string) error
	Download(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
	SignedStreamURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Open builds the gateway selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Gateway, error) {
	switch cfg.Backend {
	case "gcs":
		g, err := NewGCSGateway(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "local":
		return NewLocalGateway(cfg.LocalRoot, cfg.PublicBaseURL, cfg.SigningKey), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewStorageID names a new recording as {uuid}.{ext}, keeping the uploaded
// file's extension.
func NewStorageID(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return uuid.NewString()
	}
	return uuid.NewString() + "." + ext
}

// ObjectKey is the tenant-scoped key for a stored recording.
func ObjectKey(folder, storageID string) string {
	return folder + "/" + storageID
}

// FolderName derives the tenant folder from a company name.
func FolderName(company string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(company)), " ", "_")
}

// Staging is the local directory where recordings wait between upload,
// analysis and cleanup. Files are named by storage id so concurrent jobs
// never collide.
type Staging struct {
	Dir string
}

func (s Staging) Path(storageID string) string {
	return filepath.Join(s.Dir, filepath.Base(storageID))
}

// Save copies r into the staging file for storageID.
func (s Staging) Save(storageID string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	path := s.Path(storageID)
	if err := writeAtomic(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes the staging file for storageID, if any.
func (s Staging) Remove(storageID string) {
	RemoveFile(s.Path(storageID))
}

// Exists reports whether the staging file for storageID is present.
func (s Staging) Exists(storageID string) bool {
	_, err := os.Stat(s.Path(storageID))
	return err == nil
}

// RemoveFile deletes a local file, ignoring files that are already gone.
func RemoveFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove staged file", "path", path, "error", err)
	}
}

// writeAtomic writes r to a temp file next to path and renames it into place.
func writeAtomic(path string, r io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
