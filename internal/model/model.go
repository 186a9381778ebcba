package model

import (
	"time"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&ExportRecord{},
	&MarkerRow{},
}

////////////////////////
// EXPORT MODELS
////////////////////////

// ExportRecord is one delivered export document
type ExportRecord struct {
	ID          uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	ExportID    uuid.UUID      `json:"exportId" gorm:"size:36;uniqueIndex:idx_export_export_id"`
	Time        time.Time      `json:"time" gorm:"index:idx_export_time"` // Server time of the export
	MarkerCount int            `json:"markerCount"`
	Scores      datatypes.JSON `json:"scores"`                    // Score bucket counts, [0..5]
	Document    string         `json:"document" gorm:"type:text"` // Export text byte for byte; jsonb would reformat it
	Markers     []MarkerRow    `json:"markers" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*ExportRecord) TableName() string {
	return "export_records"
}

// MarkerRow is a single marker of an export, queryable without parsing the document
type MarkerRow struct {
	ID             uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	ExportRecordID uint       `json:"exportRecordId" gorm:"index:idx_marker_row_export"`
	Ordinal        int        `json:"ordinal"`               // Position in the exported sequence
	MarkerID       uint64     `json:"markerId"`              // Session id, not part of the document
	Title          string     `json:"title" gorm:"size:256"` // Popup title
	Description    string     `json:"description"`           // Popup description
	Score          int        `json:"score" gorm:"index:idx_marker_row_score"`
	Longitude      float64    `json:"longitude"`
	Latitude       float64    `json:"latitude"`
	Location       geom.Point `json:"location"` // EPSG:3857
}

func (*MarkerRow) TableName() string {
	return "marker_rows"
}
