// Package filestorage implements storage.Sink by writing each export document
// to its own file, optionally gzipped.
package filestorage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OCAP2/mapmarkers/internal/config"
	"github.com/OCAP2/mapmarkers/internal/export"
	"github.com/OCAP2/mapmarkers/internal/stats"
	"github.com/OCAP2/mapmarkers/internal/storage"
	"github.com/OCAP2/mapmarkers/pkg/core"
	"github.com/google/uuid"
)

const filePrefix = "markers_"

// Backend writes export documents into an output directory.
type Backend struct {
	cfg config.FileConfig
	log *slog.Logger
}

// New creates a new file storage backend.
func New(cfg config.FileConfig, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		cfg: cfg,
		log: log,
	}
}

// Init ensures the output directory exists.
func (b *Backend) Init() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// Close is a no-op; every Deliver closes its own file.
func (b *Backend) Close() error {
	return nil
}

// filename builds markers_<timestamp>_<id>.json, with .gz appended when compressing.
func (b *Backend) filename(e core.Export) string {
	name := fmt.Sprintf("%s%s_%s.json", filePrefix, e.Time.UTC().Format("20060102_150405"), e.ID.String()[:8])
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return name
}

// Deliver writes e.Data unchanged to a new file in the output directory.
func (b *Backend) Deliver(_ context.Context, e core.Export) (core.ExportMetadata, error) {
	outputPath := filepath.Join(b.cfg.OutputDir, b.filename(e))

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return core.ExportMetadata{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzip(outputPath, e.Data)
	} else {
		err = os.WriteFile(outputPath, e.Data, 0644)
	}
	if err != nil {
		return core.ExportMetadata{}, fmt.Errorf("failed to write export: %w", err)
	}

	b.log.Debug("Export written", "path", outputPath, "bytes", len(e.Data))
	return core.ExportMetadata{
		ID:          e.ID,
		Time:        e.Time,
		MarkerCount: len(e.Markers),
		Location:    outputPath,
	}, nil
}

// Latest reads back the most recently written export in the output directory.
// The export id is not stored in the document, so a fresh one is assigned.
func (b *Backend) Latest(_ context.Context) (core.Export, error) {
	path, info, err := b.newest()
	if err != nil {
		return core.Export{}, err
	}

	data, err := readFile(path)
	if err != nil {
		return core.Export{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	markers, err := export.Unmarshal(data)
	if err != nil {
		return core.Export{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return core.Export{
		ID:      uuid.New(),
		Time:    info.ModTime(),
		Data:    data,
		Markers: markers,
		Scores:  stats.Aggregate(markers),
	}, nil
}

func (b *Backend) newest() (string, os.FileInfo, error) {
	entries, err := os.ReadDir(b.cfg.OutputDir)
	if os.IsNotExist(err) {
		return "", nil, storage.ErrNoExport
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to list output directory: %w", err)
	}

	type candidate struct {
		name string
		info os.FileInfo
	}
	var found []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".json.gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{name: name, info: info})
	}
	if len(found) == 0 {
		return "", nil, storage.ErrNoExport
	}

	sort.Slice(found, func(i, j int) bool {
		ti, tj := found[i].info.ModTime(), found[j].info.ModTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return found[i].name > found[j].name
	})
	return filepath.Join(b.cfg.OutputDir, found[0].name), found[0].info, nil
}

func writeGzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if _, err := gzWriter.Write(data); err != nil {
		return err
	}
	return gzWriter.Close()
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil || !strings.HasSuffix(path, ".gz") {
		return data, err
	}
	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gzReader.Close()
	return io.ReadAll(gzReader)
}
