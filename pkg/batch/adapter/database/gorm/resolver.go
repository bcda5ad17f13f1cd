package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// GormDBConnectionResolver is the GORM implementation of database.DBConnectionResolver.
type GormDBConnectionResolver struct {
	providers []database.DBProvider
	cfg       *config.Config
}

// ResolverParams are the dependencies of NewGormDBConnectionResolver.
type ResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}

// NewGormDBConnectionResolver creates a new GormDBConnectionResolver.
func NewGormDBConnectionResolver(p ResolverParams) *GormDBConnectionResolver {
	return &GormDBConnectionResolver{providers: p.DBProviders, cfg: p.Cfg}
}

type acceptor interface {
	Accepts(dbType string) bool
}

func (r *GormDBConnectionResolver) providerFor(dbType string) (database.DBProvider, bool) {
	for _, p := range r.providers {
		if a, ok := p.(acceptor); ok && a.Accepts(dbType) {
			return p, true
		}
		if p.Type() == dbType {
			return p, true
		}
	}
	return nil, false
}

// ResolveDBConnection returns the named connection, reconnecting once when its ping fails.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	dbConfig, err := LookupDatabaseConfig(r.cfg, name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: %w", err)
	}

	provider, ok := r.providerFor(dbConfig.Type)
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: DBProvider for type '%s' not found for connection '%s'", dbConfig.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to get connection '%s': %w", name, err)
	}

	if pingErr := conn.RefreshConnection(ctx); pingErr != nil {
		logger.Warnf("DBConnectionResolver: connection '%s' is invalid (%v). Attempting to reconnect.", name, pingErr)
		reconnected, reconnectErr := provider.ForceReconnect(name)
		if reconnectErr != nil {
			return nil, fmt.Errorf("DBConnectionResolver: failed to reconnect connection '%s': %w", name, reconnectErr)
		}
		logger.Infof("DBConnectionResolver: reconnected connection '%s'.", name)
		return reconnected, nil
	}
	return conn, nil
}

// CloseAll closes the connections of every provider.
func (r *GormDBConnectionResolver) CloseAll() error {
	var lastErr error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
