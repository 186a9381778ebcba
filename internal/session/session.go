// Package session owns the marker engine state for one map: the store, the
// popup selection, the nearest-marker resolver and the cached score table.
// Every input event runs as one complete transition, in arrival order.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/OCAP2/mapmarkers/internal/export"
	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/internal/markers"
	"github.com/OCAP2/mapmarkers/internal/resolver"
	"github.com/OCAP2/mapmarkers/internal/selection"
	"github.com/OCAP2/mapmarkers/internal/stats"
	"github.com/OCAP2/mapmarkers/pkg/core"

	"go.opentelemetry.io/otel/metric"
)

// DefaultCenter is the initial map center when none is configured.
var DefaultCenter = core.Position{Lon: 24.000906986937594, Lat: 49.80259820083478}

// Listener receives the view after every transition that changed state.
// Listeners run synchronously and must not call mutating Session methods.
type Listener func(core.View)

// SeedMarker describes a marker present when the session starts.
type SeedMarker struct {
	Position    core.Position `json:"position"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Score       int           `json:"score"`
}

// Options configures a Session.
type Options struct {
	Center       core.Position
	Policy       selection.Policy
	ClearOnLeave bool
	Resolver     resolver.Resolver
	Logger       *slog.Logger
	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Session is the single writer over one marker store.
type Session struct {
	mu sync.Mutex // serializes transitions

	center       core.Position
	clearOnLeave bool

	store    *markers.Store
	sel      *selection.State
	resolver resolver.Resolver
	stats    *stats.Cache
	log      *slog.Logger

	listenersMu sync.RWMutex
	listeners   []Listener

	mutations metric.Int64Counter
	ignored   metric.Int64Counter
	metricsMu sync.Mutex
	countReg  metric.Registration
}

// New creates a Session with an empty store.
func New(opts Options) (*Session, error) {
	if opts.Resolver == nil {
		opts.Resolver = resolver.Linear{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Center == (core.Position{}) {
		opts.Center = DefaultCenter
	}

	store := markers.NewStore()
	s := &Session{
		center:       opts.Center,
		clearOnLeave: opts.ClearOnLeave,
		store:        store,
		sel:          selection.New(opts.Policy),
		resolver:     opts.Resolver,
		stats:        stats.NewCache(store),
		log:          opts.Logger,
	}

	if err := s.initMetrics(opts.MeterProvider); err != nil {
		return nil, err
	}
	return s, nil
}

// Seed adds the given markers without selecting any of them. Nothing is added
// if any seed has an invalid position.
func (s *Session) Seed(seeds []SeedMarker) error {
	for i, sm := range seeds {
		if err := geo.Validate(sm.Position); err != nil {
			return fmt.Errorf("seed marker %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sm := range seeds {
		if _, err := s.store.AddFeature(sm.Position, sm.Title, sm.Description, sm.Score); err != nil {
			return err
		}
	}
	if len(seeds) > 0 {
		s.log.Info("Seeded markers", "count", len(seeds))
		s.notify()
	}
	return nil
}

// Import appends every marker of an export document, assigning fresh ids.
// The document is validated completely before anything is added.
func (s *Session) Import(data []byte) (int, error) {
	snap, err := export.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("import markers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range snap {
		if _, err := s.store.AddFeature(m.Position, m.Title, m.Description, int(m.Score)); err != nil {
			return 0, fmt.Errorf("import markers: %w", err)
		}
	}
	if len(snap) > 0 {
		s.recordMutation("import")
		s.notify()
	}
	return len(snap), nil
}

// Export renders the current snapshot as an export document.
func (s *Session) Export() ([]byte, error) {
	return export.Marshal(s.store.Snapshot())
}

// Snapshot returns an independent copy of the markers.
func (s *Session) Snapshot() core.Snapshot {
	return s.store.Snapshot()
}

// Stats returns the score table for the current markers.
func (s *Session) Stats() stats.Table {
	return s.stats.Table()
}

// Active returns the marker targeted by the popup, if any.
func (s *Session) Active() (core.Marker, bool) {
	id, ok := s.sel.Active()
	if !ok {
		return core.Marker{}, false
	}
	return s.store.Get(id)
}

// View assembles everything the UI renders.
func (s *Session) View() core.View {
	snap := s.store.Snapshot()
	table := s.stats.Table()

	v := core.View{
		Center:  s.center,
		Markers: snap,
		Count:   snap.Len(),
		Scores:  table,
		Mean:    table.Mean(),
	}
	if id, ok := s.sel.Active(); ok {
		if i := snap.IndexOf(id); i >= 0 {
			m := snap[i]
			v.Active = &m
		}
	}
	return v
}

// Subscribe registers a listener for state changes.
func (s *Session) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// LogAttrs returns attributes describing the session, for log records.
func (s *Session) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{slog.Int("markers", s.store.Len())}
	if id, ok := s.sel.Active(); ok {
		attrs = append(attrs, slog.Uint64("active", uint64(id)))
	}
	return attrs
}

func (s *Session) notify() {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}
	v := s.View()
	for _, l := range listeners {
		l(v)
	}
}

// nearest resolves q against the current markers. Callers hold s.mu.
func (s *Session) nearest(q core.Position) (core.Marker, error) {
	version := s.store.Version()
	snap := s.store.Snapshot()
	if syncer, ok := s.resolver.(resolver.Syncer); ok {
		syncer.Sync(version, snap)
	}
	m, _, err := s.resolver.Nearest(snap, q)
	return m, err
}

func (s *Session) recordMutation(op string) {
	s.mutations.Add(context.Background(), 1, metric.WithAttributes(opAttr(op)))
}

func (s *Session) recordIgnored(op string, reason Reason) {
	s.ignored.Add(context.Background(), 1, metric.WithAttributes(opAttr(op), reasonAttr(reason)))
}
