// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/internal/model"
	"github.com/OCAP2/mapmarkers/pkg/core"
	"gorm.io/datatypes"
)

// scoresToJSON converts the score table to datatypes.JSON for DB storage.
func scoresToJSON(scores [core.ScoreBuckets]int) datatypes.JSON {
	data, _ := json.Marshal(scores)
	return datatypes.JSON(data)
}

// CoreToMarkerRow converts a core.Marker at position ordinal of an export to a GORM row.
// The location column is projected to EPSG:3857.
func CoreToMarkerRow(m core.Marker, ordinal int) (model.MarkerRow, error) {
	location, err := geo.ToWebMercator(m.Position)
	if err != nil {
		return model.MarkerRow{}, err
	}
	return model.MarkerRow{
		Ordinal:     ordinal,
		MarkerID:    uint64(m.ID),
		Title:       m.Title,
		Description: m.Description,
		Score:       int(m.Score),
		Longitude:   m.Position.Lon,
		Latitude:    m.Position.Lat,
		Location:    location,
	}, nil
}

// CoreToExportRecord converts a core.Export to a GORM ExportRecord with its marker rows.
// It fails if any marker position cannot be projected.
func CoreToExportRecord(e core.Export) (model.ExportRecord, error) {
	document := "[]"
	if len(e.Data) > 0 {
		document = string(e.Data)
	}

	rows := make([]model.MarkerRow, 0, len(e.Markers))
	for i, m := range e.Markers {
		row, err := CoreToMarkerRow(m, i)
		if err != nil {
			return model.ExportRecord{}, fmt.Errorf("marker %d: %w", m.ID, err)
		}
		rows = append(rows, row)
	}

	return model.ExportRecord{
		ExportID:    e.ID,
		Time:        e.Time,
		MarkerCount: len(e.Markers),
		Scores:      scoresToJSON(e.Scores),
		Document:    document,
		Markers:     rows,
	}, nil
}
