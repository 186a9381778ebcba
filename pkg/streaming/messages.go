// Package streaming defines the wire messages exchanged with a live map viewer.
package streaming

import (
	"encoding/json"

	"github.com/OCAP2/mapmarkers/pkg/core"
	"github.com/paulmach/orb/geojson"
)

// Message type constants matching the streaming protocol.
const (
	TypeState  = "state"
	TypeExport = "export"
	TypeAck    = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"`         // always "ack"
	For  string `json:"for"`          // the message type being acknowledged
	ID   string `json:"id,omitempty"` // export id, for export acks
}

// StatePayload carries the view after a transition, plus the markers as a
// FeatureCollection a map layer can render directly.
type StatePayload struct {
	View     core.View                  `json:"view"`
	Features *geojson.FeatureCollection `json:"features"`
}

// ExportPayload carries one export document.
type ExportPayload struct {
	Metadata core.ExportMetadata `json:"metadata"`
	Document json.RawMessage     `json:"document"`
}
