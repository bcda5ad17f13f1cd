// Package storage defines the object storage abstractions used by the file item
// readers and writers. Objects live in buckets; a provider maps both onto a backend.
package storage

import (
	"context"
	"io"

	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
)

// ProviderGroup is the Fx value group every Provider is registered in.
const ProviderGroup = "storage_providers"

// Executor defines the object operations of a connection.
type Executor interface {
	// Upload stores data as bucket/objectName, replacing any previous object.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader) error
	// Download opens bucket/objectName. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn with every object name under prefix, in lexical order.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// Connection is one named storage connection.
type Connection interface {
	Executor

	// Name returns the configuration name of the connection.
	Name() string
	// Type returns the provider type, e.g. "local".
	Type() string
	// Close releases the connection.
	Close() error
}

// Provider opens connections of one storage type.
type Provider interface {
	Type() string
	Connect(name string, cfg storageconfig.StorageConfig) (Connection, error)
}

// ConnectionResolver returns named connections, opening them on first use.
type ConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (Connection, error)
}
