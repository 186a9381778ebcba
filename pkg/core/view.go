// pkg/core/view.go
package core

// View is what the UI collaborator renders after each transition:
// the marker layer, the popup and the stats panel.
type View struct {
	Center  Position          `json:"center"`
	Markers Snapshot          `json:"markers"`
	Count   int               `json:"count"`
	Active  *Marker           `json:"active"`
	Scores  [ScoreBuckets]int `json:"scores"`
	Mean    float64           `json:"mean"`
}
