package filestorage

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OCAP2/mapmarkers/internal/config"
	"github.com/OCAP2/mapmarkers/internal/storage"
	"github.com/OCAP2/mapmarkers/pkg/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks
var (
	_ storage.Sink   = (*Backend)(nil)
	_ storage.Loader = (*Backend)(nil)
)

const doc = `[{"type":"Feature","geometry":{"type":"Point","coordinates":[24,49.8]},"properties":{"title":"a","description":"b","score":2}}]`

func testExport(at time.Time) core.Export {
	return core.Export{
		ID:      uuid.New(),
		Time:    at,
		Data:    []byte(doc),
		Markers: core.Snapshot{{ID: 1, Position: core.Position{Lon: 24, Lat: 49.8}, Title: "a", Description: "b", Score: 2}},
	}
}

func TestDeliver_Plain(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	b := New(config.FileConfig{OutputDir: dir}, nil)
	require.NoError(t, b.Init())

	e := testExport(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	meta, err := b.Deliver(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, e.ID, meta.ID)
	assert.Equal(t, 1, meta.MarkerCount)
	base := filepath.Base(meta.Location)
	assert.True(t, strings.HasPrefix(base, "markers_20240115_103000_"), base)
	assert.True(t, strings.HasSuffix(base, ".json"), base)

	written, err := os.ReadFile(meta.Location)
	require.NoError(t, err)
	assert.Equal(t, doc, string(written))
}

func TestDeliver_Compressed(t *testing.T) {
	dir := t.TempDir()
	b := New(config.FileConfig{OutputDir: dir, CompressOutput: true}, nil)
	require.NoError(t, b.Init())

	meta, err := b.Deliver(context.Background(), testExport(time.Now()))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(meta.Location, ".json.gz"))

	f, err := os.Open(meta.Location)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, doc, string(data))
}

func TestLatest_Empty(t *testing.T) {
	b := New(config.FileConfig{OutputDir: filepath.Join(t.TempDir(), "missing")}, nil)
	_, err := b.Latest(context.Background())
	assert.ErrorIs(t, err, storage.ErrNoExport)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	b = New(config.FileConfig{OutputDir: dir}, nil)
	_, err = b.Latest(context.Background())
	assert.ErrorIs(t, err, storage.ErrNoExport)
}

func TestLatest_ReadsNewest(t *testing.T) {
	dir := t.TempDir()
	b := New(config.FileConfig{OutputDir: dir, CompressOutput: true}, nil)
	require.NoError(t, b.Init())

	older := testExport(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	older.Data = []byte(`[]`)
	oldMeta, err := b.Deliver(context.Background(), older)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldMeta.Location, past, past))

	_, err = b.Deliver(context.Background(), testExport(time.Date(2024, 1, 15, 10, 31, 0, 0, time.UTC)))
	require.NoError(t, err)

	got, err := b.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc, string(got.Data))
	require.Len(t, got.Markers, 1)
	assert.Equal(t, "a", got.Markers[0].Title)
	assert.Equal(t, core.Score(2), got.Markers[0].Score)
	assert.Equal(t, 1, got.Scores[2])
}

func TestLatest_RejectsBrokenDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "markers_20240101_000000_deadbeef.json"), []byte(`{`), 0644))

	b := New(config.FileConfig{OutputDir: dir}, nil)
	_, err := b.Latest(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNoExport)
}
