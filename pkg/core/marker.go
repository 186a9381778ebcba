// pkg/core/marker.go
package core

// MarkerID identifies a marker for its whole lifetime. IDs start at 1; zero means "no marker".
type MarkerID uint64

// Score is a marker rating, one of the buckets MinScore..MaxScore.
type Score int

const (
	MinScore Score = 0
	MaxScore Score = 5

	// ScoreBuckets is the number of discrete score values.
	ScoreBuckets = int(MaxScore-MinScore) + 1
)

// ClampScore maps any integer onto the nearest valid score.
func ClampScore(v int) Score {
	if v < int(MinScore) {
		return MinScore
	}
	if v > int(MaxScore) {
		return MaxScore
	}
	return Score(v)
}

// Valid reports whether s is one of the score buckets.
func (s Score) Valid() bool {
	return s >= MinScore && s <= MaxScore
}

// Position is a WGS84 coordinate pair in the order (longitude, latitude)
type Position struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Marker is a user placed point of interest
type Marker struct {
	ID          MarkerID `json:"id"`
	Position    Position `json:"position"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Score       Score    `json:"score"`
}

// Snapshot is a point-in-time copy of the marker sequence in insertion order.
// Consumers must treat it as read-only.
type Snapshot []Marker

// Len returns the number of markers in the snapshot.
func (s Snapshot) Len() int {
	return len(s)
}

// IndexOf returns the position of the marker with the given id, or -1.
func (s Snapshot) IndexOf(id MarkerID) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}
