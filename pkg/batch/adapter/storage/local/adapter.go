// Package local provides the local file system storage provider.
// A bucket is a directory under the connection's base_dir.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ProviderType is the storage type served by this package.
const ProviderType = "local"

type localConnection struct {
	cfg  storageconfig.StorageConfig
	name string
	root string
}

var _ storage.Connection = (*localConnection)(nil)

// NewConnection opens a local connection, creating base_dir when it does not exist.
func NewConnection(name string, cfg storageconfig.StorageConfig) (storage.Connection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage '%s': base_dir must be set", name)
	}
	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", name, err)
	}
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("local storage '%s': failed to create base_dir '%s': %w", name, root, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage '%s': failed to stat base_dir '%s': %w", name, root, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage '%s': base_dir '%s' is not a directory", name, root)
	}
	return &localConnection{cfg: cfg, name: name, root: root}, nil
}

func (c *localConnection) Name() string { return c.name }
func (c *localConnection) Type() string { return ProviderType }
func (c *localConnection) Close() error { return nil }

// Upload writes to a temporary file next to the target and renames it, so readers
// never observe a partially written object.
func (c *localConnection) Upload(ctx context.Context, bucket, objectName string, data io.Reader) error {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in '%s': %w", dir, err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish '%s': %w", fullPath, err)
	}
	logger.Debugf("Local storage '%s': uploaded '%s'.", c.name, fullPath)
	return nil
}

func (c *localConnection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", fullPath, err)
	}
	return f, nil
}

func (c *localConnection) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	base, err := c.resolvePath(bucket, "")
	if err != nil {
		return err
	}
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		return fn(rel)
	})
	if err != nil {
		return fmt.Errorf("failed to list '%s' with prefix '%s': %w", base, prefix, err)
	}
	return nil
}

func (c *localConnection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete '%s': %w", fullPath, err)
	}
	return nil
}

// resolvePath maps bucket/objectName under the root and rejects paths that escape it.
func (c *localConnection) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = c.cfg.BucketName
	}
	fullPath := filepath.Join(c.root, bucket, filepath.FromSlash(objectName))
	if fullPath != c.root && !strings.HasPrefix(fullPath, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("local storage '%s': path '%s' is outside of base_dir", c.name, objectName)
	}
	return fullPath, nil
}

// Provider opens local connections.
type Provider struct{}

// NewProvider creates the local Provider.
func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Type() string { return ProviderType }

func (p *Provider) Connect(name string, cfg storageconfig.StorageConfig) (storage.Connection, error) {
	return NewConnection(name, cfg)
}

var _ storage.Provider = (*Provider)(nil)
