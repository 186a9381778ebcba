// Package websocket delivers exports to, and streams live marker state to,
// a map viewer over a WebSocket.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/OCAP2/mapmarkers/internal/config"
	"github.com/OCAP2/mapmarkers/internal/export"
	"github.com/OCAP2/mapmarkers/pkg/core"
	"github.com/OCAP2/mapmarkers/pkg/streaming"
)

// Backend streams state and export documents over WebSocket.
// It implements storage.Sink and storage.StatePublisher.
type Backend struct {
	link *link
	cfg  config.StreamingConfig
}

// New creates a new WebSocket storage backend.
func New(cfg config.StreamingConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		link: newLink(logger),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.link.open(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.link.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// location is the server URL without the secret query parameter.
func (b *Backend) location() string {
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return b.cfg.URL
	}
	u.RawQuery = ""
	return u.String()
}

// Deliver sends the export document and waits for the server ack.
func (b *Backend) Deliver(ctx context.Context, e core.Export) (core.ExportMetadata, error) {
	meta := core.ExportMetadata{
		ID:          e.ID,
		Time:        e.Time,
		MarkerCount: len(e.Markers),
		Location:    b.location(),
	}

	document := e.Data
	if len(document) == 0 {
		document = []byte("[]")
	}
	data, err := marshalEnvelope(streaming.TypeExport, streaming.ExportPayload{
		Metadata: meta,
		Document: json.RawMessage(document),
	})
	if err != nil {
		return core.ExportMetadata{}, err
	}

	if err := b.link.deliver(ctx, data, e.ID.String()); err != nil {
		return core.ExportMetadata{}, err
	}
	return meta, nil
}

// PublishState hands the view to the link as the newest state frame. Frames
// not yet written are replaced, and the last one is replayed after a reconnect.
func (b *Backend) PublishState(v core.View) error {
	data, err := marshalEnvelope(streaming.TypeState, streaming.StatePayload{
		View:     v,
		Features: export.Collection(v.Markers),
	})
	if err != nil {
		return err
	}
	b.link.publishState(data)
	return nil
}
