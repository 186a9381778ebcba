package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/OCAP2/mapmarkers/internal/config"
	"github.com/OCAP2/mapmarkers/internal/database"
	"github.com/OCAP2/mapmarkers/internal/storage"
	filestorage "github.com/OCAP2/mapmarkers/internal/storage/file"
	pgstorage "github.com/OCAP2/mapmarkers/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/mapmarkers/internal/storage/sqlite"
	wsstorage "github.com/OCAP2/mapmarkers/internal/storage/websocket"

	"github.com/rs/zerolog"
)

// sinkDeps carries what createSink needs besides the storage settings.
type sinkDeps struct {
	Logger   *slog.Logger
	DBLogger zerolog.Logger
	LogsDir  string
	Start    time.Time
}

// createSink builds the export sink named by storage.type.
func createSink(storageCfg config.StorageConfig, deps sinkDeps) (storage.Sink, error) {
	log := deps.Logger

	switch storageCfg.Type {
	case "postgres":
		manager := database.NewManager(deps.DBLogger)
		// used only when postgres is unreachable and the in-memory fallback is active
		manager.SqliteFilePath = filepath.Join(deps.LogsDir, fmt.Sprintf("%s_%s.db", appName, deps.Start.Format("20060102_150405")))
		backend, err := pgstorage.New(config.GetDBConfig(), manager, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres backend: %w", err)
		}
		if backend.Fallback() {
			log.Warn("Postgres unreachable, exports go to in-memory SQLite", "dump", manager.SqliteFilePath)
		} else {
			log.Info("Postgres storage backend initialized")
		}
		return backend, nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, log, database.NewQueryLogger(deps.DBLogger))
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		log.Info("SQLite storage backend initialized", "path", storageCfg.SQLite.Path, "dump", storageCfg.SQLite.DumpPath)
		return backend, nil

	case "websocket":
		streamCfg := config.GetStreamingConfig()
		log.Info("WebSocket storage backend initialized", "url", streamCfg.URL)
		return wsstorage.New(streamCfg, log), nil

	case "file":
		log.Info("File storage backend initialized", "dir", storageCfg.File.OutputDir)
		return filestorage.New(storageCfg.File, log), nil

	case "none", "":
		log.Info("No storage backend, exports are only returned")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageCfg.Type)
	}
}
