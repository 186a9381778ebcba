package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		appName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "mapmarkers_logs",
			appName: "mapmarkers",
			want:    filepath.Join("mapmarkers_logs", "mapmarkers.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./mapmarkers_logs",
			appName: "mapmarkers",
			want:    filepath.Join(".", "mapmarkers_logs", "mapmarkers.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "mapmarkers"),
			appName: "mapmarkers",
			want:    filepath.Join("/var", "log", "mapmarkers", "mapmarkers.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.appName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}
