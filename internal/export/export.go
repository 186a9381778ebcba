// Package export serializes marker snapshots to a GeoJSON feature array and back.
//
// The document is a bare JSON array (not a FeatureCollection); each element is
//
//	{"type":"Feature","geometry":{"type":"Point","coordinates":[lon,lat]},
//	 "properties":{"title":"","description":"","score":0}}
//
// in snapshot order. Marker ids are not part of the format.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/pkg/core"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const featureType = "Feature"

// ErrInvalidFeature is returned by Unmarshal for records that cannot become a marker.
var ErrInvalidFeature = errors.New("invalid feature")

// properties keeps a fixed key order; geojson.Properties is a map and would sort keys.
type properties struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Score       json.Number `json:"score"`
}

type record struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties properties        `json:"properties"`
}

func toRecord(m core.Marker) record {
	return record{
		Type:     featureType,
		Geometry: geojson.NewGeometry(orb.Point{m.Position.Lon, m.Position.Lat}),
		Properties: properties{
			Title:       m.Title,
			Description: m.Description,
			Score:       json.Number(strconv.Itoa(int(m.Score))),
		},
	}
}

// Marshal renders snapshot as the export document. An empty snapshot yields "[]".
func Marshal(snapshot core.Snapshot) ([]byte, error) {
	records := make([]record, 0, len(snapshot))
	for _, m := range snapshot {
		records = append(records, toRecord(m))
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal markers: %w", err)
	}
	return data, nil
}

// inRecord defers decoding of the geometry and the score so that malformed
// coordinates and quoted scores can be rejected instead of coerced.
type inRecord struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Score       json.RawMessage `json:"score"`
	} `json:"properties"`
}

// Unmarshal parses an export document. Returned markers carry a zero id.
// Missing title, description or score fall back to their defaults.
func Unmarshal(data []byte) (core.Snapshot, error) {
	var records []inRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal markers: %w", err)
	}

	out := make(core.Snapshot, 0, len(records))
	for i, r := range records {
		m, err := fromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func fromRecord(r inRecord) (core.Marker, error) {
	if r.Type != featureType {
		return core.Marker{}, fmt.Errorf("%w: type %q", ErrInvalidFeature, r.Type)
	}
	pos, err := decodePoint(r.Geometry)
	if err != nil {
		return core.Marker{}, err
	}
	score, err := decodeScore(r.Properties.Score)
	if err != nil {
		return core.Marker{}, err
	}

	return core.Marker{
		Position:    pos,
		Title:       r.Properties.Title,
		Description: r.Properties.Description,
		Score:       score,
	}, nil
}

// decodePoint accepts a Point geometry with exactly two coordinates.
func decodePoint(raw json.RawMessage) (core.Position, error) {
	if isNull(raw) {
		return core.Position{}, fmt.Errorf("%w: missing geometry", ErrInvalidFeature)
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return core.Position{}, fmt.Errorf("unmarshal geometry: %w", err)
	}
	if _, ok := g.Geometry().(orb.Point); !ok {
		return core.Position{}, fmt.Errorf("%w: geometry %s is not a Point", ErrInvalidFeature, g.Type)
	}

	// orb reads Point coordinates into a fixed pair and pads or truncates.
	var coords struct {
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &coords); err != nil {
		return core.Position{}, fmt.Errorf("%w: coordinates: %w", ErrInvalidFeature, err)
	}
	if len(coords.Coordinates) != 2 {
		return core.Position{}, fmt.Errorf("%w: point has %d coordinates, want 2", ErrInvalidFeature, len(coords.Coordinates))
	}

	pos := core.Position{Lon: coords.Coordinates[0], Lat: coords.Coordinates[1]}
	if err := geo.Validate(pos); err != nil {
		return core.Position{}, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}
	return pos, nil
}

// decodeScore accepts a JSON integer in the score range. A missing or null
// score is zero; strings and fractions are rejected.
func decodeScore(raw json.RawMessage) (core.Score, error) {
	if isNull(raw) {
		return 0, nil
	}
	if raw[0] == '"' {
		return 0, fmt.Errorf("%w: score %s is a string, not an integer", ErrInvalidFeature, raw)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: score %s is not an integer", ErrInvalidFeature, raw)
	}
	if !core.Score(n).Valid() {
		return 0, fmt.Errorf("%w: score %d out of range", ErrInvalidFeature, n)
	}
	return core.Score(n), nil
}

// Collection builds a FeatureCollection for map layers. Unlike Marshal it keeps
// the marker id as the feature id.
func Collection(snapshot core.Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range snapshot {
		f := geojson.NewFeature(orb.Point{m.Position.Lon, m.Position.Lat})
		f.ID = uint64(m.ID)
		f.Properties["title"] = m.Title
		f.Properties["description"] = m.Description
		f.Properties["score"] = int(m.Score)
		fc.Append(f)
	}
	return fc
}
