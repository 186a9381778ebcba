// Package gormstorage implements storage.Sink on top of any GORM database.
// The SQLite and Postgres sinks embed it and only add connection handling.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/mapmarkers/internal/database"
	"github.com/OCAP2/mapmarkers/internal/model"
	"github.com/OCAP2/mapmarkers/internal/model/convert"
	"github.com/OCAP2/mapmarkers/internal/storage"
	"github.com/OCAP2/mapmarkers/pkg/core"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Backend stores each export as an ExportRecord with one MarkerRow per marker.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{
		deps: deps,
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the export tables.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database")
	}
	return database.Migrate(b.deps.DB)
}

// Close is a no-op; the owner of the connection closes it.
func (b *Backend) Close() error {
	return nil
}

// Deliver writes the export and its marker rows in one transaction.
func (b *Backend) Deliver(ctx context.Context, e core.Export) (core.ExportMetadata, error) {
	rec, err := convert.CoreToExportRecord(e)
	if err != nil {
		return core.ExportMetadata{}, fmt.Errorf("failed to convert export: %w", err)
	}

	err = b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		return core.ExportMetadata{}, fmt.Errorf("failed to write export: %w", err)
	}

	location := fmt.Sprintf("%s/%d", rec.TableName(), rec.ID)
	b.deps.Logger.Debug("Export written", "location", location, "markers", rec.MarkerCount)
	return convert.ExportRecordToMetadata(rec, location), nil
}

// Latest returns the most recent export with its markers.
func (b *Backend) Latest(ctx context.Context) (core.Export, error) {
	var rec model.ExportRecord
	err := b.deps.DB.WithContext(ctx).
		Preload("Markers").
		Order("time DESC").Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Export{}, storage.ErrNoExport
	}
	if err != nil {
		return core.Export{}, fmt.Errorf("failed to read latest export: %w", err)
	}
	return convert.ExportRecordToCore(rec), nil
}

// List returns metadata of the most recent exports, newest first.
func (b *Backend) List(ctx context.Context, limit int) ([]core.ExportMetadata, error) {
	var recs []model.ExportRecord
	err := b.deps.DB.WithContext(ctx).
		Order("time DESC").Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}

	out := make([]core.ExportMetadata, 0, len(recs))
	for _, rec := range recs {
		out = append(out, convert.ExportRecordToMetadata(rec, fmt.Sprintf("%s/%d", rec.TableName(), rec.ID)))
	}
	return out, nil
}
