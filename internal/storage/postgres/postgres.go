// Package postgres implements storage.Sink on PostgreSQL. When the server
// cannot be reached the connection falls back to an in-memory SQLite
// database that is dumped to disk on close.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/mapmarkers/internal/config"
	"github.com/OCAP2/mapmarkers/internal/database"
	gormstorage "github.com/OCAP2/mapmarkers/internal/storage/gorm"
)

// Backend wraps the GORM backend with a managed Postgres connection.
type Backend struct {
	*gormstorage.Backend
	manager *database.Manager
	log     *slog.Logger
}

// New connects using cfg. The connection is established here so that Init
// only deals with the schema.
func New(cfg config.DBConfig, manager *database.Manager, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := manager.Connect(cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: manager.DB, Logger: log}),
		manager: manager,
		log:     log,
	}, nil
}

// Init migrates the export tables.
func (b *Backend) Init() error {
	if err := b.manager.Setup(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

// Fallback reports whether the backend is running on the local SQLite fallback.
func (b *Backend) Fallback() bool {
	return b.manager.ShouldSaveLocal
}

// Close dumps the fallback database if one is in use and closes the connection.
func (b *Backend) Close() error {
	if b.manager.ShouldSaveLocal && b.manager.SqliteFilePath != "" {
		if err := b.manager.DumpMemoryToDisk(); err != nil {
			b.log.Error("Failed to dump fallback DB", "error", err)
		}
	}
	return b.manager.Close()
}
