// pkg/core/export.go
package core

import (
	"time"

	"github.com/google/uuid"
)

// Export is one export document handed to a storage sink
type Export struct {
	ID      uuid.UUID
	Time    time.Time
	Data    []byte // export text, delivered unchanged
	Markers Snapshot
	Scores  [ScoreBuckets]int
}

// ExportMetadata describes a delivered export without its content
type ExportMetadata struct {
	ID          uuid.UUID `json:"id"`
	Time        time.Time `json:"time"`
	MarkerCount int       `json:"markerCount"`
	Location    string    `json:"location"` // file path, table row or stream url
}
