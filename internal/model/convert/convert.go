package convert

import (
	"encoding/json"
	"sort"

	"github.com/OCAP2/mapmarkers/internal/model"
	"github.com/OCAP2/mapmarkers/pkg/core"
)

// MarkerRowToCore converts a GORM MarkerRow to a core.Marker.
// The position comes from the WGS84 columns, not the projected location.
func MarkerRowToCore(r model.MarkerRow) core.Marker {
	return core.Marker{
		ID:          core.MarkerID(r.MarkerID),
		Position:    core.Position{Lon: r.Longitude, Lat: r.Latitude},
		Title:       r.Title,
		Description: r.Description,
		Score:       core.ClampScore(r.Score),
	}
}

// ExportRecordToCore converts a GORM ExportRecord, with preloaded Markers, to a core.Export.
func ExportRecordToCore(r model.ExportRecord) core.Export {
	rows := make([]model.MarkerRow, len(r.Markers))
	copy(rows, r.Markers)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Ordinal < rows[j].Ordinal
	})

	markers := make(core.Snapshot, 0, len(rows))
	for _, row := range rows {
		markers = append(markers, MarkerRowToCore(row))
	}

	var scores [core.ScoreBuckets]int
	if len(r.Scores) > 0 {
		_ = json.Unmarshal(r.Scores, &scores)
	}

	return core.Export{
		ID:      r.ExportID,
		Time:    r.Time,
		Data:    []byte(r.Document),
		Markers: markers,
		Scores:  scores,
	}
}

// ExportRecordToMetadata summarizes a GORM ExportRecord.
func ExportRecordToMetadata(r model.ExportRecord, location string) core.ExportMetadata {
	return core.ExportMetadata{
		ID:          r.ExportID,
		Time:        r.Time,
		MarkerCount: r.MarkerCount,
		Location:    location,
	}
}
