package test

import (
	"testing"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// NewLocalStorageResolver configures each named storage connection as a local
// directory under a temporary base_dir and returns a resolver for them.
func NewLocalStorageResolver(t *testing.T, cfg *config.Config, names ...string) *storage.DefaultConnectionResolver {
	t.Helper()
	for _, name := range names {
		cfg.Chunkflow.Storage[name] = map[string]interface{}{
			"type":     local.ProviderType,
			"base_dir": t.TempDir(),
		}
	}
	resolver := storage.NewConnectionResolver(storage.ResolverParams{
		Providers: []storage.Provider{local.NewProvider()},
		Cfg:       cfg,
	})
	t.Cleanup(func() { _ = resolver.CloseAll() })
	return resolver
}
