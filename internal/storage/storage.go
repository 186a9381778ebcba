// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/OCAP2/mapmarkers/pkg/core"
)

// ErrNoExport is returned by Loader.Latest when nothing was delivered yet.
var ErrNoExport = errors.New("no export found")

// Sink is the interface all export delivery implementations must satisfy
type Sink interface {
	// Lifecycle
	Init() error
	Close() error

	// Deliver stores or sends one export document
	Deliver(ctx context.Context, e core.Export) (core.ExportMetadata, error)
}

// Loader is an optional interface for sinks that can hand back what they stored.
type Loader interface {
	Latest(ctx context.Context) (core.Export, error)
}

// Lister is an optional interface for sinks that can enumerate what they stored.
type Lister interface {
	List(ctx context.Context, limit int) ([]core.ExportMetadata, error)
}

// StatePublisher is an optional interface for sinks that also stream live state.
type StatePublisher interface {
	PublishState(v core.View) error
}
