package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OCAP2/mapmarkers/internal/config"
	"github.com/OCAP2/mapmarkers/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDSN(t *testing.T) string {
	return "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
}

func TestGetSqliteDB_Migrate(t *testing.T) {
	db, err := GetSqliteDB(memoryDSN(t), nil)
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&model.ExportRecord{}))
	assert.True(t, db.Migrator().HasTable(&model.MarkerRow{}))
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	db, err := GetSqliteDB(memoryDSN(t), nil)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, db.Create(&model.ExportRecord{MarkerCount: 3, Document: "[]"}).Error)

	path := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, DumpMemoryDBToDisk(db, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// dumping again replaces the file and leaves no temp file behind
	require.NoError(t, DumpMemoryDBToDisk(db, path))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	disk, err := GetSqliteDB(path, nil)
	require.NoError(t, err)
	var count int64
	require.NoError(t, disk.Model(&model.ExportRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpMemoryDBToDisk_NoPath(t *testing.T) {
	db, err := GetSqliteDB(memoryDSN(t), nil)
	require.NoError(t, err)

	assert.Error(t, DumpMemoryDBToDisk(db, ""))
}

func TestManager_ConnectFallsBackToSQLite(t *testing.T) {
	m := NewManager(zerolog.Nop())

	// nothing listens on port 1
	err := m.Connect(config.DBConfig{Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "d"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.True(t, m.ShouldSaveLocal)
	require.NoError(t, m.Setup())
	assert.True(t, m.DB.Migrator().HasTable(&model.MarkerRow{}))
}
