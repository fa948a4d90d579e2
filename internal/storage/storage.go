// Package storage provides blob storage for photos captured in the field and
// for the relay's CSV archive.
//
// This package defines a Storage interface with implementations for:
// - LocalStorage: File system storage on the device or relay host
// - R2Storage: Cloudflare R2 (S3-compatible) object storage
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the interface for blob storage operations.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at the specified key. Returns ErrKeyExists if the key
	// is taken and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at the specified key. The caller must close the
	// returned reader. Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType specifies the MIME type of the object.
	// If empty, it is detected from the key's extension.
	ContentType string

	// MaxSize is the largest accepted object in bytes. Zero means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string // Empty for local storage
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where files are stored.
	// Example: "./data/photos"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Endpoint overrides the account endpoint, e.g. for a MinIO test server.
	Endpoint string

	// Region defaults to "auto"; R2 ignores it but the SDK requires one.
	Region string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderNone disables storage.
	ProviderNone = "none"

	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// New builds the Storage for provider. It returns nil, nil for ProviderNone.
func New(provider string, local LocalConfig, r2 R2Config, logger *slog.Logger) (Storage, error) {
	switch provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderLocal:
		return NewLocalStorage(local, logger)
	case ProviderR2:
		return NewR2Storage(r2, logger)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", provider)
	}
}

// =============================================================================
// Key Generation Helpers
// =============================================================================

// PhotoKey generates a storage key for a photo captured with a report.
// Format: photos/{uuid}.jpg
func PhotoKey() string {
	return fmt.Sprintf("photos/%s.jpg", uuid.New())
}

// ArchiveKey generates the key under which the relay archives a CSV.
// Format: archive/{yyyy}/{mm}/{fileName}
//
// Only the base name of fileName is kept. An empty or unusable name is
// replaced by a random one.
func ArchiveKey(at time.Time, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		name = uuid.NewString() + ".csv"
	}
	at = at.UTC()
	return fmt.Sprintf("archive/%04d/%02d/%s", at.Year(), int(at.Month()), name)
}
