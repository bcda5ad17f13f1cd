package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"

	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// LookupStorageConfig decodes chunkflow.storage.<name>.
func LookupStorageConfig(cfg *config.Config, name string) (storageconfig.StorageConfig, error) {
	var sc storageconfig.StorageConfig
	raw, ok := cfg.Chunkflow.Storage[name]
	if !ok {
		return sc, fmt.Errorf("storage configuration '%s' not found under chunkflow.storage", name)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &sc,
	})
	if err != nil {
		return sc, err
	}
	if err := decoder.Decode(raw); err != nil {
		return sc, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	if sc.Type == "" {
		return sc, fmt.Errorf("storage configuration '%s' has no type", name)
	}
	return sc, nil
}

// DefaultConnectionResolver opens each configured connection once and caches it.
type DefaultConnectionResolver struct {
	providers   []Provider
	cfg         *config.Config
	connections map[string]Connection
	mu          sync.Mutex
}

// ResolverParams are the dependencies of NewConnectionResolver.
type ResolverParams struct {
	fx.In
	Providers []Provider `group:"storage_providers"`
	Cfg       *config.Config
}

// NewConnectionResolver creates a resolver over the registered providers.
func NewConnectionResolver(p ResolverParams) *DefaultConnectionResolver {
	return &DefaultConnectionResolver{
		providers:   p.Providers,
		cfg:         p.Cfg,
		connections: make(map[string]Connection),
	}
}

// ResolveStorageConnection implements ConnectionResolver.
func (r *DefaultConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[name]; ok {
		return conn, nil
	}
	sc, err := LookupStorageConfig(r.cfg, name)
	if err != nil {
		return nil, fmt.Errorf("StorageConnectionResolver: %w", err)
	}
	for _, p := range r.providers {
		if p.Type() != sc.Type {
			continue
		}
		conn, err := p.Connect(name, sc)
		if err != nil {
			return nil, fmt.Errorf("StorageConnectionResolver: failed to open '%s': %w", name, err)
		}
		r.connections[name] = conn
		logger.Debugf("StorageConnectionResolver: opened %s connection '%s'.", sc.Type, name)
		return conn, nil
	}
	return nil, fmt.Errorf("StorageConnectionResolver: no provider for storage type '%s' (connection '%s')", sc.Type, name)
}

// CloseAll closes every opened connection.
func (r *DefaultConnectionResolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result *multierror.Error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(r.connections, name)
	}
	return result.ErrorOrNil()
}

var _ ConnectionResolver = (*DefaultConnectionResolver)(nil)
